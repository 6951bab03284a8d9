package expirationcache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

const defaultSize = 10_000

type element[T any] struct {
	val            *T
	expiresEpochMs int64
}

// Options configures the cache
type Options struct {
	OnCacheHitFn  func(key string)
	OnCacheMissFn func(key string)
	OnAfterPutFn  func(newSize int)
	MaxSize       uint
}

// ExpiringFIFOCache is a TTL cache bounded by insertion order: reads never refresh
// the position of an element, the oldest inserted element is evicted first.
type ExpiringFIFOCache[T any] struct {
	lru     *lru.Cache
	options Options
	maxSize int

	hits        atomic.Uint64
	misses      atomic.Uint64
	expirations atomic.Uint64
	evictions   atomic.Uint64
	sets        atomic.Uint64
}

func NewCache[T any](options Options) *ExpiringFIFOCache[T] {
	size := defaultSize
	if options.MaxSize > 0 {
		size = int(options.MaxSize)
	}

	// only fails for non-positive sizes
	l, _ := lru.New(size)

	return &ExpiringFIFOCache[T]{
		lru:     l,
		options: options,
		maxSize: size,
	}
}

func (e *ExpiringFIFOCache[T]) Put(key string, val *T, ttl time.Duration) {
	if ttl <= 0 {
		// entry should be considered as already expired
		return
	}

	// re-inserted keys move to the end of the insertion order
	e.lru.Remove(key)

	if evicted := e.lru.Add(key, &element[T]{
		val:            val,
		expiresEpochMs: time.Now().UnixMilli() + ttl.Milliseconds(),
	}); evicted {
		e.evictions.Add(1)
	}

	e.sets.Add(1)

	if e.options.OnAfterPutFn != nil {
		e.options.OnAfterPutFn(e.lru.Len())
	}
}

func (e *ExpiringFIFOCache[T]) Get(key string) (val *T, ttl time.Duration) {
	v, found := e.lru.Peek(key)
	if !found {
		e.miss(key)

		return nil, 0
	}

	el := v.(*element[T])

	if isExpired(el) {
		e.lru.Remove(key)
		e.expirations.Add(1)
		e.miss(key)

		return nil, 0
	}

	e.hits.Add(1)

	if e.options.OnCacheHitFn != nil {
		e.options.OnCacheHitFn(key)
	}

	return el.val, calculateRemainTTL(el.expiresEpochMs)
}

func (e *ExpiringFIFOCache[T]) miss(key string) {
	e.misses.Add(1)

	if e.options.OnCacheMissFn != nil {
		e.options.OnCacheMissFn(key)
	}
}

func isExpired[T any](el *element[T]) bool {
	return time.Now().UnixMilli() >= el.expiresEpochMs
}

func calculateRemainTTL(expiresEpoch int64) time.Duration {
	if now := time.Now().UnixMilli(); now < expiresEpoch {
		return time.Duration(expiresEpoch-now) * time.Millisecond
	}

	return 0
}

func (e *ExpiringFIFOCache[T]) TotalCount() (count int) {
	return e.lru.Len()
}

func (e *ExpiringFIFOCache[T]) Stats() Stats {
	return Stats{
		Hits:        e.hits.Load(),
		Misses:      e.misses.Load(),
		Expirations: e.expirations.Load(),
		Evictions:   e.evictions.Load(),
		Sets:        e.sets.Load(),
		Size:        e.lru.Len(),
		MaxSize:     e.maxSize,
	}
}

func (e *ExpiringFIFOCache[T]) Clear() {
	e.lru.Purge()
}
