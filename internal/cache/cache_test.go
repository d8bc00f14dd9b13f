package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestLRUCache_BasicOperations(t *testing.T) {
	cache := NewLRUCache(3)
	defer cache.Close()

	cache.Put("key1", []byte("value1"), 0)
	cache.Put("key2", []byte("value2"), 0)

	value, found := cache.Get("key1")
	if !found || string(value) != "value1" {
		t.Errorf("Expected to find key1 with value1, got found=%v, value=%s", found, string(value))
	}

	if _, found := cache.Get("nonexistent"); found {
		t.Error("Expected not to find nonexistent key")
	}
}

func TestLRUCache_Eviction(t *testing.T) {
	cache := NewLRUCache(3)
	defer cache.Close()

	cache.Put("key1", []byte("value1"), 0)
	cache.Put("key2", []byte("value2"), 0)
	cache.Put("key3", []byte("value3"), 0)

	// key1 becomes most recently used, so key2 is the one evicted.
	cache.Get("key1")
	cache.Put("key4", []byte("value4"), 0)

	if _, found := cache.Get("key2"); found {
		t.Error("Expected key2 to be evicted")
	}
	for _, key := range []string{"key1", "key3", "key4"} {
		if _, found := cache.Get(key); !found {
			t.Errorf("Expected %s to still exist", key)
		}
	}
}

func TestLRUCache_ByteLimit(t *testing.T) {
	cache := NewLRUCacheWithLimit(100, 10)
	defer cache.Close()

	cache.Put("a", []byte("12345"), 0)
	cache.Put("b", []byte("12345"), 0)
	cache.Put("c", []byte("123"), 0)

	if _, found := cache.Get("a"); found {
		t.Error("Expected a to be evicted once the byte limit was exceeded")
	}
	stats := cache.Stats()
	if stats.Bytes != 8 {
		t.Errorf("Expected 8 cached bytes, got %d", stats.Bytes)
	}

	if cache.Put("big", make([]byte, 11), 0) {
		t.Error("Expected a value over the byte limit to be refused")
	}
	if _, found := cache.Get("big"); found {
		t.Error("Expected oversized value not to be cached")
	}
}

func TestLRUCache_Update(t *testing.T) {
	cache := NewLRUCache(2)
	defer cache.Close()

	cache.Put("key1", []byte("value1"), 0)
	cache.Put("key1", []byte("updated_value1"), 0)

	value, found := cache.Get("key1")
	if !found || string(value) != "updated_value1" {
		t.Errorf("Expected updated value, got found=%v, value=%s", found, string(value))
	}

	stats := cache.Stats()
	if stats.Size != 1 {
		t.Errorf("Expected cache size 1, got %d", stats.Size)
	}
	if stats.Bytes != int64(len("updated_value1")) {
		t.Errorf("Expected %d cached bytes, got %d", len("updated_value1"), stats.Bytes)
	}
}

func TestLRUCache_Delete(t *testing.T) {
	cache := NewLRUCache(3)
	defer cache.Close()

	cache.Put("key1", []byte("value1"), 0)

	if !cache.Delete("key1") {
		t.Error("Expected successful deletion")
	}
	if _, found := cache.Get("key1"); found {
		t.Error("Expected key1 to be deleted")
	}
	if cache.Delete("nonexistent") {
		t.Error("Expected deletion of non-existent key to return false")
	}
}

func TestLRUCache_TTL(t *testing.T) {
	cache := NewLRUCache(3)
	defer cache.Close()

	cache.Put("key1", []byte("value1"), 50*time.Millisecond)
	if _, found := cache.Get("key1"); !found {
		t.Error("Expected to find key1 immediately")
	}

	time.Sleep(100 * time.Millisecond)

	if _, found := cache.Get("key1"); found {
		t.Error("Expected key1 to be expired")
	}
}

func TestLRUCache_Stats(t *testing.T) {
	cache := NewLRUCache(2)
	defer cache.Close()

	cache.Put("key1", []byte("value1"), 0)
	cache.Put("key2", []byte("value2"), 0)

	cache.Get("key1")
	cache.Get("key1")
	cache.Get("key2")
	cache.Get("missing")

	cache.Put("key3", []byte("value3"), 0)

	stats := cache.Stats()
	if stats.Hits != 3 {
		t.Errorf("Expected 3 hits, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.Misses)
	}
	if stats.Evictions != 1 {
		t.Errorf("Expected 1 eviction, got %d", stats.Evictions)
	}
	if stats.Size != 2 {
		t.Errorf("Expected size 2, got %d", stats.Size)
	}
	if stats.HitRatio != 0.75 {
		t.Errorf("Expected hit ratio 0.75, got %.2f", stats.HitRatio)
	}
}

func TestLRUCache_Clear(t *testing.T) {
	cache := NewLRUCache(3)
	defer cache.Close()

	cache.Put("key1", []byte("value1"), 0)
	cache.Get("key1")
	cache.Clear()

	stats := cache.Stats()
	if stats.Size != 0 || stats.Bytes != 0 {
		t.Errorf("Expected empty cache after clear, got size=%d bytes=%d", stats.Size, stats.Bytes)
	}
	if stats.Hits != 0 || stats.Misses != 0 || stats.Evictions != 0 {
		t.Error("Expected all stats to be reset after clear")
	}
}

func TestLRUCache_CleanupExpired(t *testing.T) {
	cache := NewLRUCache(5)
	defer cache.Close()

	cache.Put("key1", []byte("value1"), 50*time.Millisecond)
	cache.Put("key2", []byte("value2"), 0)
	cache.Put("key3", []byte("value3"), 50*time.Millisecond)

	time.Sleep(100 * time.Millisecond)

	if expired := cache.CleanupExpired(); expired != 2 {
		t.Errorf("Expected 2 expired items, got %d", expired)
	}
	if _, found := cache.Get("key2"); !found {
		t.Error("Expected key2 to still exist")
	}
}

func TestLRUCache_ConcurrentAccess(t *testing.T) {
	cache := NewLRUCache(100)
	defer cache.Close()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				key := fmt.Sprintf("key%d", i)
				if w%2 == 0 {
					cache.Put(key, []byte(key), 0)
				} else {
					cache.Get(key)
				}
			}
		}(w)
	}
	wg.Wait()

	if size := cache.Stats().Size; size > 50 {
		t.Errorf("Invalid cache size after concurrent access: %d", size)
	}
}

func TestLRUCache_DataIntegrity(t *testing.T) {
	cache := NewLRUCache(3)
	defer cache.Close()

	original := []byte("original data")
	cache.Put("key1", original, 0)
	original[0] = 'X'

	retrieved, found := cache.Get("key1")
	if !found {
		t.Fatal("Expected to find key1")
	}
	if retrieved[0] == 'X' {
		t.Error("Cache data was modified by external change to original data")
	}

	retrieved[1] = 'Y'
	again, _ := cache.Get("key1")
	if again[1] == 'Y' {
		t.Error("Cache data was modified by external change to retrieved data")
	}
}
