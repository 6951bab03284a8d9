package metrics

import (
	"fmt"
	"sync"

	"github.com/fleetdns/querylogd/evt"
	"github.com/fleetdns/querylogd/util"

	"github.com/prometheus/client_golang/prometheus"
)

//nolint:gochecknoglobals
var registerOnce sync.Once

// RegisterEventListeners registers all metric handlers by the event bus
func RegisterEventListeners() {
	registerOnce.Do(func() {
		registerApplicationEventListeners()
		registerIngestionEventListeners()
		registerCachingEventListeners()
	})
}

func registerApplicationEventListeners() {
	v := versionNumberGauge()
	RegisterMetric(v)

	subscribe(evt.ApplicationStarted, func(version, buildTime string) {
		v.WithLabelValues(version, buildTime).Set(1)
	})
}

func versionNumberGauge() *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "querylogd_build_info",
			Help: "Version number and build info",
		}, []string{"version", "build_time"},
	)
}

func registerIngestionEventListeners() {
	ingested := ingestedEntriesCount()
	failed := failedPollCount()
	deleted := retentionDeletedCount()
	backfilled := backfilledHostnamesCount()

	RegisterMetric(ingested)
	RegisterMetric(failed)
	RegisterMetric(deleted)
	RegisterMetric(backfilled)

	subscribe(evt.QueryLogIngested, func(nodeID string, inserted int) {
		ingested.WithLabelValues(nodeID).Add(float64(inserted))
	})

	subscribe(evt.QueryLogIngestionFailed, func(nodeID string) {
		failed.WithLabelValues(nodeID).Inc()
	})

	subscribe(evt.QueryLogRetentionDeleted, func(cnt int64) {
		deleted.Add(float64(cnt))
	})

	subscribe(evt.QueryLogHostnamesBackfilled, func(cnt int64) {
		backfilled.Add(float64(cnt))
	})
}

func ingestedEntriesCount() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylogd_ingested_entries_total",
			Help: "Number of new query log entries stored per node",
		}, []string{"node"},
	)
}

func failedPollCount() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylogd_failed_polls_total",
			Help: "Number of failed node polls",
		}, []string{"node"},
	)
}

func retentionDeletedCount() prometheus.Counter {
	return prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querylogd_retention_deleted_total",
			Help: "Number of entries removed by the retention sweep",
		},
	)
}

func backfilledHostnamesCount() prometheus.Counter {
	return prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querylogd_backfilled_hostnames_total",
			Help: "Number of entries with a corrected client name",
		},
	)
}

func registerCachingEventListeners() {
	entryCount := cacheEntryCount()
	hitCount := cacheHitCount()
	missCount := cacheMissCount()

	RegisterMetric(entryCount)
	RegisterMetric(hitCount)
	RegisterMetric(missCount)

	subscribe(evt.QueryLogCacheHit, func(kind string) {
		hitCount.WithLabelValues(kind).Inc()
	})

	subscribe(evt.QueryLogCacheMiss, func(kind string) {
		missCount.WithLabelValues(kind).Inc()
	})

	subscribe(evt.QueryLogCacheChanged, func(cnt int) {
		entryCount.Set(float64(cnt))
	})
}

func cacheHitCount() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylogd_cache_hit_count",
			Help: "Response cache hit counter",
		}, []string{"kind"},
	)
}

func cacheMissCount() *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querylogd_cache_miss_count",
			Help: "Response cache miss counter",
		}, []string{"kind"},
	)
}

func cacheEntryCount() prometheus.Gauge {
	return prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "querylogd_cache_entry_count",
			Help: "Number of entries in the response cache",
		},
	)
}

func subscribe(topic string, fn interface{}) {
	util.FatalOnError(fmt.Sprintf("can't subscribe topic '%s'", topic), evt.Bus().Subscribe(topic, fn))
}
