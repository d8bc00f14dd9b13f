package monitoring

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType represents different types of metrics
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric is a point-in-time view of a single metric
type Metric struct {
	Name       string                 `json:"name"`
	Type       MetricType             `json:"type"`
	Value      float64                `json:"value"`
	Help       string                 `json:"help"`
	Timestamp  time.Time              `json:"timestamp"`
	Unit       string                 `json:"unit,omitempty"`
	Additional map[string]interface{} `json:"additional,omitempty"`
}

// MetricsRegistry manages all metrics
type MetricsRegistry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// NewMetricsRegistry creates a new metrics registry
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// Counter represents a monotonically increasing counter
type Counter struct {
	help  string
	value atomic.Int64
}

func (mr *MetricsRegistry) NewCounter(name, help string) *Counter {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	counter := &Counter{help: help}
	mr.counters[name] = counter
	return counter
}

func (c *Counter) Inc()            { c.value.Add(1) }
func (c *Counter) Add(delta int64) { c.value.Add(delta) }
func (c *Counter) Get() int64      { return c.value.Load() }

// Gauge represents a value that can go up and down
type Gauge struct {
	help  string
	value atomic.Int64
}

func (mr *MetricsRegistry) NewGauge(name, help string) *Gauge {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	gauge := &Gauge{help: help}
	mr.gauges[name] = gauge
	return gauge
}

func (g *Gauge) Set(value int64) { g.value.Store(value) }
func (g *Gauge) Get() int64      { return g.value.Load() }

// Histogram tracks the distribution of values
type Histogram struct {
	help    string
	buckets []float64
	mu      sync.Mutex
	counts  []int64
	sum     float64
	count   int64
}

// DefaultLatencyBuckets are upper bounds in seconds, tuned for device I/O.
var DefaultLatencyBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}

func (mr *MetricsRegistry) NewHistogram(name, help string, buckets []float64) *Histogram {
	mr.mu.Lock()
	defer mr.mu.Unlock()

	if buckets == nil {
		buckets = DefaultLatencyBuckets
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)

	histogram := &Histogram{
		help:    help,
		buckets: sorted,
		counts:  make([]int64, len(sorted)+1), // +1 for +Inf bucket
	}
	mr.histograms[name] = histogram
	return histogram
}

func (h *Histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.count++
	h.sum += value
	i := sort.SearchFloat64s(h.buckets, value)
	h.counts[i]++
}

// ObserveDuration records d in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

func (h *Histogram) Get() map[string]interface{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	bucketCounts := make(map[string]int64, len(h.counts))
	for i, bucket := range h.buckets {
		bucketCounts[fmt.Sprintf("le_%g", bucket)] = h.counts[i]
	}
	bucketCounts["le_+Inf"] = h.counts[len(h.buckets)]

	mean := 0.0
	if h.count > 0 {
		mean = h.sum / float64(h.count)
	}

	return map[string]interface{}{
		"buckets": bucketCounts,
		"sum":     h.sum,
		"count":   h.count,
		"mean":    mean,
	}
}

// snapshot returns the bucket bounds with cumulative counts, as the
// Prometheus format expects.
func (h *Histogram) snapshot() (bounds []float64, cumulative []int64, sum float64, count int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	cumulative = make([]int64, len(h.buckets))
	var running int64
	for i := range h.buckets {
		running += h.counts[i]
		cumulative[i] = running
	}
	return h.buckets, cumulative, h.sum, h.count
}

func (mr *MetricsRegistry) histogram(name string) (*Histogram, bool) {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	h, ok := mr.histograms[name]
	return h, ok
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// GetAllMetrics returns all metrics as a snapshot
func (mr *MetricsRegistry) GetAllMetrics() map[string]*Metric {
	mr.mu.RLock()
	defer mr.mu.RUnlock()

	result := make(map[string]*Metric)
	now := time.Now()

	for name, counter := range mr.counters {
		result[name] = &Metric{
			Name:      name,
			Type:      MetricTypeCounter,
			Value:     float64(counter.Get()),
			Help:      counter.help,
			Timestamp: now,
			Unit:      "total",
		}
	}

	for name, gauge := range mr.gauges {
		result[name] = &Metric{
			Name:      name,
			Type:      MetricTypeGauge,
			Value:     float64(gauge.Get()),
			Help:      gauge.help,
			Timestamp: now,
		}
	}

	for name, histogram := range mr.histograms {
		additional := histogram.Get()
		result[name] = &Metric{
			Name:       name,
			Type:       MetricTypeHistogram,
			Value:      math.Round(additional["mean"].(float64)*1e6) / 1e6,
			Help:       histogram.help,
			Timestamp:  now,
			Unit:       "seconds",
			Additional: additional,
		}
	}

	return result
}

// DeviceMetrics contains the engine's metrics
type DeviceMetrics struct {
	registry *MetricsRegistry

	PutsTotal    *Counter
	PutErrors    *Counter
	PutDuration  *Histogram
	BytesWritten *Counter

	GetsTotal   *Counter
	GetErrors   *Counter
	GetMisses   *Counter
	GetDuration *Histogram
	BytesRead   *Counter
	// Gets answered from the read cache; these are included in GetsTotal.
	CacheHits   *Counter

	// Advisory length passed to Get that did not match the stored length.
	LengthMismatches *Counter

	DeviceUsedBytes *Gauge
	DeviceFreeBytes *Gauge
	IndexEntries    *Gauge
	RecoveredOnOpen *Gauge
}

// NewDeviceMetrics creates the engine metrics on a fresh registry
func NewDeviceMetrics() *DeviceMetrics {
	registry := NewMetricsRegistry()

	return &DeviceMetrics{
		registry: registry,

		PutsTotal:    registry.NewCounter("lkvs_puts_total", "Total put operations"),
		PutErrors:    registry.NewCounter("lkvs_put_errors_total", "Failed put operations"),
		PutDuration:  registry.NewHistogram("lkvs_put_duration_seconds", "Put latency including sync", nil),
		BytesWritten: registry.NewCounter("lkvs_bytes_written_total", "Bytes written to the device, including headers and padding"),

		GetsTotal:   registry.NewCounter("lkvs_gets_total", "Total get operations"),
		GetErrors:   registry.NewCounter("lkvs_get_errors_total", "Failed get operations, excluding misses"),
		GetMisses:   registry.NewCounter("lkvs_get_misses_total", "Gets for keys that were never put"),
		GetDuration: registry.NewHistogram("lkvs_get_duration_seconds", "Get latency", nil),
		BytesRead:   registry.NewCounter("lkvs_bytes_read_total", "Value bytes returned by gets"),
		CacheHits:   registry.NewCounter("lkvs_cache_hits_total", "Gets served from the read cache"),

		LengthMismatches: registry.NewCounter("lkvs_get_length_mismatches_total", "Gets whose advisory length differed from the stored length"),

		DeviceUsedBytes: registry.NewGauge("lkvs_device_used_bytes", "Bytes allocated on the device"),
		DeviceFreeBytes: registry.NewGauge("lkvs_device_free_bytes", "Bytes left for allocation"),
		IndexEntries:    registry.NewGauge("lkvs_index_entries", "Live keys in the index"),
		RecoveredOnOpen: registry.NewGauge("lkvs_recovered_records", "Records replayed from the device on open"),
	}
}

// GetRegistry returns the metrics registry
func (m *DeviceMetrics) GetRegistry() *MetricsRegistry {
	return m.registry
}

// Snapshot flattens the registry into name -> value, with histograms as
// nested maps.
func (m *DeviceMetrics) Snapshot() map[string]interface{} {
	out := make(map[string]interface{})
	for name, metric := range m.registry.GetAllMetrics() {
		if metric.Type == MetricTypeHistogram {
			out[name] = metric.Additional
			continue
		}
		out[name] = int64(metric.Value)
	}
	return out
}
