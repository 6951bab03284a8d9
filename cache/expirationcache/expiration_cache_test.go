package expirationcache_test

import (
	"time"

	. "github.com/fleetdns/querylogd/cache/expirationcache"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Expiration cache", func() {
	Describe("Basic operations", func() {
		When("string cache was created", func() {
			It("Initial cache should be empty", func() {
				cache := NewCache[string](Options{})
				Expect(cache.TotalCount()).Should(Equal(0))
			})
			It("Initial cache should not contain any elements", func() {
				cache := NewCache[string](Options{})
				val, expiration := cache.Get("key1")
				Expect(val).Should(BeNil())
				Expect(expiration).Should(Equal(time.Duration(0)))
			})
		})
		When("Put new value with positive TTL", func() {
			It("Should return the value before element expires", func() {
				cache := NewCache[string](Options{})
				v := "v1"
				cache.Put("key1", &v, 50*time.Millisecond)
				val, expiration := cache.Get("key1")
				Expect(val).Should(HaveValue(Equal("v1")))
				Expect(expiration.Milliseconds()).Should(BeNumerically("<=", 50))

				Expect(cache.TotalCount()).Should(Equal(1))
			})
			It("Should return nil after expiration and remove the element", func() {
				cache := NewCache[string](Options{})
				v := "v1"
				cache.Put("key1", &v, 20*time.Millisecond)

				Eventually(func() *string {
					val, _ := cache.Get("key1")

					return val
				}, "200ms").Should(BeNil())

				Expect(cache.TotalCount()).Should(Equal(0))
				Expect(cache.Stats().Expirations).Should(BeNumerically("==", 1))
			})
		})
		When("Put new value without expiration", func() {
			It("Should not cache the value", func() {
				cache := NewCache[string](Options{})
				v := "x"
				cache.Put("key1", &v, 0)
				val, expiration := cache.Get("key1")
				Expect(val).Should(BeNil())
				Expect(expiration.Milliseconds()).Should(BeNumerically("==", 0))
				Expect(cache.TotalCount()).Should(Equal(0))
				Expect(cache.Stats().Sets).Should(BeNumerically("==", 0))
			})
		})
		When("Put updated value", func() {
			It("Should return updated value", func() {
				cache := NewCache[string](Options{})
				v1 := "v1"
				v2 := "v2"
				cache.Put("key1", &v1, 50*time.Millisecond)
				cache.Put("key1", &v2, 200*time.Millisecond)

				val, expiration := cache.Get("key1")

				Expect(val).Should(HaveValue(Equal("v2")))
				Expect(expiration.Milliseconds()).Should(BeNumerically(">", 100))
				Expect(expiration.Milliseconds()).Should(BeNumerically("<=", 200))
				Expect(cache.TotalCount()).Should(Equal(1))
			})
		})
		When("Purging after usage", func() {
			It("Should be empty after purge", func() {
				cache := NewCache[string](Options{})
				v1 := "y"
				cache.Put("key1", &v1, time.Second)

				Expect(cache.TotalCount()).Should(Equal(1))

				cache.Clear()

				Expect(cache.TotalCount()).Should(Equal(0))
			})
		})
	})
	Describe("Hook functions", func() {
		When("Hook functions are defined", func() {
			It("should call each hook function", func() {
				onCacheHitChannel := make(chan string, 10)
				onCacheMissChannel := make(chan string, 10)
				onAfterPutChannel := make(chan int, 10)
				cache := NewCache[string](Options{
					OnCacheHitFn: func(key string) {
						onCacheHitChannel <- key
					},
					OnCacheMissFn: func(key string) {
						onCacheMissChannel <- key
					},
					OnAfterPutFn: func(newSize int) {
						onAfterPutChannel <- newSize
					},
				})

				By("Get non existing value", func() {
					val, _ := cache.Get("notExists")
					Expect(val).Should(BeNil())

					Expect(onCacheMissChannel).Should(Receive(Equal("notExists")))
					Expect(onCacheHitChannel).Should(Not(Receive()))
					Expect(onAfterPutChannel).Should(Not(Receive()))
				})

				By("Put new cache entry", func() {
					v1 := "v1"
					cache.Put("key1", &v1, time.Second)
					Expect(onCacheMissChannel).Should(Not(Receive()))
					Expect(onAfterPutChannel).Should(Receive(Equal(1)))
				})

				By("Get existing value", func() {
					val, _ := cache.Get("key1")
					Expect(val).Should(HaveValue(Equal("v1")))

					Expect(onCacheMissChannel).Should(Not(Receive()))
					Expect(onCacheHitChannel).Should(Receive(Equal("key1")))
					Expect(onAfterPutChannel).Should(Not(Receive()))
				})
			})
		})
	})
	Describe("Insertion order bound", func() {
		When("Defined max size is reached", func() {
			It("should remove the oldest inserted element even if it was read recently", func() {
				cache := NewCache[string](Options{MaxSize: 3})

				v1 := "val1"
				v2 := "val2"
				v3 := "val3"
				v4 := "val4"

				cache.Put("key1", &v1, time.Second)
				cache.Put("key2", &v2, time.Second)
				cache.Put("key3", &v3, time.Second)

				// reading does not change the eviction order
				val, _ := cache.Get("key1")
				Expect(val).ShouldNot(BeNil())

				cache.Put("key4", &v4, time.Second)

				Expect(cache.TotalCount()).Should(Equal(3))

				val, _ = cache.Get("key1")
				Expect(val).Should(BeNil())

				for _, k := range []string{"key2", "key3", "key4"} {
					val, _ := cache.Get(k)
					Expect(val).ShouldNot(BeNil())
				}

				Expect(cache.Stats().Evictions).Should(BeNumerically("==", 1))
			})
		})
	})
	Describe("Stats", func() {
		It("should count hits, misses and sets", func() {
			cache := NewCache[string](Options{MaxSize: 5})
			v := "v"

			cache.Get("a")
			cache.Put("a", &v, time.Second)
			cache.Get("a")
			cache.Get("a")

			Expect(cache.Stats()).Should(Equal(Stats{
				Hits:    2,
				Misses:  1,
				Sets:    1,
				Size:    1,
				MaxSize: 5,
			}))
		})
	})
})
