package expirationcache

import "time"

type ExpiringCache[T any] interface {
	// Put adds the value to the cache unter the passed key with expiration. If expiration <=0, entry will NOT be cached
	Put(key string, val *T, expiration time.Duration)

	// Get returns the value of cached entry with remained TTL. If entry is not cached or expired, returns nil
	Get(key string) (val *T, expiration time.Duration)

	// TotalCount returns the total count of stored elements
	TotalCount() int

	// Stats returns a snapshot of the cache counters
	Stats() Stats

	// Clear removes all cache entries
	Clear()
}

// Stats cache instrumentation counters
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Expirations uint64 `json:"expirations"`
	Evictions   uint64 `json:"evictions"`
	Sets        uint64 `json:"sets"`
	Size        int    `json:"size"`
	MaxSize     int    `json:"maxSize"`
}
