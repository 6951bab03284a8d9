package evt

import (
	"github.com/asaskevich/EventBus"
)

const (
	// ApplicationStarted fires on start of the application. Parameter: version number, build time
	ApplicationStarted = "application:started"

	// QueryLogIngested fires after a node batch was committed. Parameter: node id, inserted row count
	QueryLogIngested = "querylog:ingested"

	// QueryLogIngestionFailed fires if a node could not be polled. Parameter: node id
	QueryLogIngestionFailed = "querylog:ingestionFailed"

	// QueryLogRetentionDeleted fires after a retention sweep. Parameter: deleted row count
	QueryLogRetentionDeleted = "querylog:retentionDeleted"

	// QueryLogHostnamesBackfilled fires after the hostname backfill. Parameter: updated row count
	QueryLogHostnamesBackfilled = "querylog:hostnamesBackfilled"

	// QueryLogCacheHit fires, if a query result was found in the response cache. Parameter: query kind
	QueryLogCacheHit = "querylog:cacheHit"

	// QueryLogCacheMiss fires, if a query result was not found in the response cache. Parameter: query kind
	QueryLogCacheMiss = "querylog:cacheMiss"

	// QueryLogCacheChanged fires if the response cache was changed. Parameter: new cache size
	QueryLogCacheChanged = "querylog:cacheChanged"
)

// nolint
var evtBus = EventBus.New()

func Bus() EventBus.Bus {
	return evtBus
}
