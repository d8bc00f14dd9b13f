package benchmarks

import (
	"fmt"
	"math/rand"
	"testing"

	"lkvs/internal/device"
	"lkvs/internal/storage"
	"lkvs/internal/testutil"
)

// benchDeviceSize holds b.N records of the largest value size used below
// for any b.N the benchmark runner is likely to pick.
const benchDeviceSize = 1 << 30

func BenchmarkEngine_Put_SmallValues(b *testing.B) {
	benchmarkPutWithValueSize(b, 100)
}

func BenchmarkEngine_Put_BlockValues(b *testing.B) {
	benchmarkPutWithValueSize(b, storage.BlockSize)
}

func BenchmarkEngine_Put_LargeValues(b *testing.B) {
	benchmarkPutWithValueSize(b, 256*1024)
}

func BenchmarkEngine_Get_SmallValues(b *testing.B) {
	benchmarkGetWithValueSize(b, 100)
}

func BenchmarkEngine_Get_BlockValues(b *testing.B) {
	benchmarkGetWithValueSize(b, storage.BlockSize)
}

func BenchmarkEngine_Get_LargeValues(b *testing.B) {
	benchmarkGetWithValueSize(b, 256*1024)
}

func BenchmarkEngine_Get_Random(b *testing.B) {
	engine := testutil.TestStorageEngine(b, 64<<20)
	keys := populate(b, engine, 5000, 200)
	order := rand.New(rand.NewSource(1)).Perm(len(keys))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Get(keys[order[i%len(order)]], 200); err != nil {
			b.Fatalf("Get failed: %v", err)
		}
	}
}

func BenchmarkEngine_Get_Concurrent(b *testing.B) {
	engine := testutil.TestStorageEngine(b, 64<<20)
	keys := populate(b, engine, 1000, 1024)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := engine.Get(keys[i%len(keys)], 1024); err != nil {
				b.Errorf("Get failed: %v", err)
				return
			}
			i++
		}
	})
}

func BenchmarkCachedEngine_Get(b *testing.B) {
	engine := testutil.TestStorageEngine(b, 64<<20)
	keys := populate(b, engine, 1000, 1024)
	cached := storage.NewCachedStorageEngine(engine, storage.CachedStorageConfig{
		CacheEnabled:  true,
		CacheSize:     len(keys),
		MaxValueBytes: 64 << 20,
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cached.Get(keys[i%len(keys)], 1024); err != nil {
			b.Fatalf("Get failed: %v", err)
		}
	}
}

// BenchmarkEngine_Reopen measures index reconstruction by replaying the
// device from the start.
func BenchmarkEngine_Reopen(b *testing.B) {
	for _, n := range []int{100, 1000, 5000} {
		b.Run(fmt.Sprintf("records=%d", n), func(b *testing.B) {
			path := testutil.TestDevice(b, 64<<20)
			engine, err := storage.Open(storage.Config{DevicePath: path, Mode: device.ReadWrite},
				storage.WithLogger(testutil.TestLogger()))
			if err != nil {
				b.Fatal(err)
			}
			populate(b, engine, n, 64)
			engine.Close()

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				reopened, err := storage.Open(storage.Config{DevicePath: path, Mode: device.ReadOnly},
					storage.WithLogger(testutil.TestLogger()))
				if err != nil {
					b.Fatalf("Open failed: %v", err)
				}
				if reopened.Len() != n {
					b.Fatalf("Expected %d keys after replay, got %d", n, reopened.Len())
				}
				reopened.Close()
			}
		})
	}
}

func benchmarkPutWithValueSize(b *testing.B, valueSize int) {
	engine := testutil.TestStorageEngine(b, benchDeviceSize)
	value := testutil.NewTestDataGenerator(1).GenerateValue(valueSize)
	perRecord := int64(storage.BlockSize + (valueSize+storage.BlockSize-1)/storage.BlockSize*storage.BlockSize)
	limit := int(benchDeviceSize/perRecord) - 1

	b.SetBytes(int64(valueSize))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// the device is append-only, so start over once it fills up
		if i > 0 && i%limit == 0 {
			b.StopTimer()
			engine = testutil.TestStorageEngine(b, benchDeviceSize)
			b.StartTimer()
		}
		if err := engine.Put([]byte(fmt.Sprintf("put-key-%d", i)), value); err != nil {
			b.Fatalf("Put failed: %v", err)
		}
	}
}

func benchmarkGetWithValueSize(b *testing.B, valueSize int) {
	engine := testutil.TestStorageEngine(b, 64<<20)
	keys := populate(b, engine, 100, valueSize)

	b.SetBytes(int64(valueSize))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.Get(keys[i%len(keys)], valueSize); err != nil {
			b.Fatalf("Get failed: %v", err)
		}
	}
}

func populate(b *testing.B, engine storage.StorageEngine, n, valueSize int) [][]byte {
	b.Helper()

	gen := testutil.NewTestDataGenerator(42)
	keys := make([][]byte, n)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("bench-key-%d", i))
		if err := engine.Put(keys[i], gen.GenerateValue(valueSize)); err != nil {
			b.Fatalf("Setup Put failed: %v", err)
		}
	}
	return keys
}
