package storage

import (
	"sync"
	"time"

	"lkvs/internal/cache"
	"lkvs/internal/monitoring"
)

// CachedStorageEngine serves repeated reads from an LRU cache in front of
// the device. Values never change in place, so a cached value stays correct
// until the next put of the same key, which refreshes it.
type CachedStorageEngine struct {
	storage StorageEngine
	cache   cache.Cache
	config  CachedStorageConfig

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

type CachedStorageConfig struct {
	CacheEnabled    bool
	CacheSize       int
	MaxValueBytes   int64
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	// Metrics receives the gets served from the cache, normally the wrapped
	// engine's own set so totals cover both paths.
	Metrics         *monitoring.DeviceMetrics
}

var _ StorageEngine = (*CachedStorageEngine)(nil)

func NewCachedStorageEngine(storageEngine StorageEngine, config CachedStorageConfig) *CachedStorageEngine {
	c := &CachedStorageEngine{
		storage:     storageEngine,
		config:      config,
		stopCleanup: make(chan struct{}),
	}
	if config.CacheEnabled {
		c.cache = cache.NewLRUCacheWithLimit(config.CacheSize, config.MaxValueBytes)
		if config.CleanupInterval > 0 {
			go c.cleanupLoop()
		}
	}
	return c
}

// Put writes through to the device and caches the value only once the
// write has succeeded.
func (c *CachedStorageEngine) Put(key, value []byte) error {
	if err := c.storage.Put(key, value); err != nil {
		return err
	}
	if c.cache != nil {
		c.cache.Put(string(key), value, c.config.DefaultTTL)
	}
	return nil
}

func (c *CachedStorageEngine) Get(key []byte, expectedLength int) ([]byte, error) {
	if c.cache != nil {
		start := time.Now()
		if value, found := c.cache.Get(string(key)); found {
			c.recordHit(value, expectedLength, time.Since(start))
			return value, nil
		}
	}

	value, err := c.storage.Get(key, expectedLength)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		c.cache.Put(string(key), value, c.config.DefaultTTL)
	}
	return value, nil
}

// recordHit counts a cached get the way the engine counts a device read.
func (c *CachedStorageEngine) recordHit(value []byte, expectedLength int, duration time.Duration) {
	m := c.config.Metrics
	if m == nil {
		return
	}
	m.GetsTotal.Inc()
	m.CacheHits.Inc()
	m.GetDuration.ObserveDuration(duration)
	m.BytesRead.Add(int64(len(value)))
	if expectedLength != len(value) {
		m.LengthMismatches.Inc()
	}
}

func (c *CachedStorageEngine) Len() int {
	return c.storage.Len()
}

func (c *CachedStorageEngine) Info() Info {
	return c.storage.Info()
}

// Stats adds cache statistics to the wrapped engine's.
func (c *CachedStorageEngine) Stats() map[string]interface{} {
	stats := c.storage.Stats()
	if c.cache == nil {
		stats["cache"] = map[string]interface{}{"enabled": false}
		return stats
	}

	cs := c.cache.Stats()
	stats["cache"] = map[string]interface{}{
		"enabled":   true,
		"hits":      cs.Hits,
		"misses":    cs.Misses,
		"evictions": cs.Evictions,
		"size":      cs.Size,
		"capacity":  cs.Capacity,
		"bytes":     cs.Bytes,
		"hit_ratio": cs.HitRatio,
	}
	return stats
}

func (c *CachedStorageEngine) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopCleanup)
		if c.cache != nil {
			c.cache.Close()
		}
	})
	return c.storage.Close()
}

func (c *CachedStorageEngine) GetCacheStats() *cache.CacheStats {
	if c.cache == nil {
		return nil
	}
	stats := c.cache.Stats()
	return &stats
}

func (c *CachedStorageEngine) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if lru, ok := c.cache.(*cache.LRUCache); ok {
				lru.CleanupExpired()
			}
		case <-c.stopCleanup:
			return
		}
	}
}
