package testutil

import (
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"lkvs/internal/config"
	"lkvs/internal/device"
	"lkvs/internal/logging"
	"lkvs/internal/storage"
)

// DefaultDeviceSize is large enough for a few hundred small records.
const DefaultDeviceSize = 4 << 20

// TestDevice creates a zero-filled device file of the given size in a
// per-test directory and returns its path.
func TestDevice(t testing.TB, capacity int64) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "dev0")
	if err := device.Create(path, capacity); err != nil {
		t.Fatalf("Failed to create test device: %v", err)
	}
	return path
}

// TestStorageEngine opens a freshly formatted engine on a temporary device.
func TestStorageEngine(t testing.TB, capacity int64) *storage.Engine {
	t.Helper()

	engine, err := storage.Open(storage.Config{
		DevicePath: TestDevice(t, capacity),
		Mode:       device.ReadWrite,
		SyncWrites: false,
	}, storage.WithLogger(TestLogger()))
	if err != nil {
		t.Fatalf("Failed to open test storage engine: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
	})

	return engine
}

// TestConfig returns a configuration pointing at a temporary device.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Device.Path = filepath.Join(t.TempDir(), "dev0")
	cfg.Device.CreateSize = "4MiB"
	cfg.Device.SyncWrites = false
	cfg.Logging = logging.TestLoggingConfig()
	cfg.Index.CheckpointPath = filepath.Join(t.TempDir(), "index")
	return cfg
}

func TestLogger() *logging.Logger {
	testLogConfig := logging.TestLoggingConfig()
	return logging.NewLogger(&testLogConfig)
}

// PopulateTestData stores count records and returns what was written.
func PopulateTestData(t *testing.T, engine storage.StorageEngine, count int) map[string]string {
	t.Helper()

	data := make(map[string]string)
	for i := 0; i < count; i++ {
		key := fmt.Sprintf("test-key-%d", i)
		value := fmt.Sprintf("test-value-%d", i)

		if err := engine.Put([]byte(key), []byte(value)); err != nil {
			t.Fatalf("Failed to put test data: %v", err)
		}
		data[key] = value
	}
	return data
}

// AssertKeyValue verifies that key reads back as expectedValue.
func AssertKeyValue(t *testing.T, engine storage.StorageEngine, key, expectedValue string) {
	t.Helper()

	value, err := engine.Get([]byte(key), len(expectedValue))
	if err != nil {
		t.Fatalf("Failed to get key %s: %v", key, err)
	}
	if string(value) != expectedValue {
		t.Errorf("Expected key %s to have value %s, got %s", key, expectedValue, string(value))
	}
}

// AssertKeyNotFound verifies that key has never been stored.
func AssertKeyNotFound(t *testing.T, engine storage.StorageEngine, key string) {
	t.Helper()

	_, err := engine.Get([]byte(key), 0)
	if !errors.Is(err, storage.ErrKeyNotFound) {
		t.Errorf("Expected ErrKeyNotFound for %s, got %v", key, err)
	}
}

// WaitForCondition polls condition until it holds or timeout passes.
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, checkInterval time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(checkInterval)
	}

	t.Fatalf("Condition not met within timeout %v", timeout)
}

// TestDataGenerator produces reproducible keys and values.
type TestDataGenerator struct {
	rand *rand.Rand
}

func NewTestDataGenerator(seed int64) *TestDataGenerator {
	return &TestDataGenerator{
		rand: rand.New(rand.NewSource(seed)),
	}
}

// GenerateKeyValuePairs generates n pairs with short values.
func (g *TestDataGenerator) GenerateKeyValuePairs(n int) map[string]string {
	data := make(map[string]string)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("key-%d-%s", i, g.randomString(8))
		data[key] = fmt.Sprintf("value-%d-%s", i, g.randomString(16))
	}
	return data
}

// GenerateValue returns size random bytes.
func (g *TestDataGenerator) GenerateValue(size int) []byte {
	value := make([]byte, size)
	g.rand.Read(value)
	return value
}

func (g *TestDataGenerator) randomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	result := make([]byte, length)
	for i := range result {
		result[i] = charset[g.rand.Intn(len(charset))]
	}
	return string(result)
}
