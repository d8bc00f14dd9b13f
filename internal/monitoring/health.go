package monitoring

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is the result of one checker.
type HealthCheck struct {
	Name      string                 `json:"name"`
	Status    HealthStatus           `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Duration  time.Duration          `json:"duration_ns"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Critical  bool                   `json:"critical"`
}

type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]HealthCheck `json:"checks"`
	Summary   HealthSummary          `json:"summary"`
}

type HealthSummary struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Degraded  int `json:"degraded"`
	Unhealthy int `json:"unhealthy"`
	Critical  int `json:"critical"`
}

type HealthChecker interface {
	Name() string
	Check(ctx context.Context) HealthCheck
	IsCritical() bool
}

// HealthManager runs a fixed set of checkers and folds their results.
type HealthManager struct {
	checkers []HealthChecker
	version  string
}

func NewHealthManager(version string) *HealthManager {
	return &HealthManager{version: version}
}

func (hm *HealthManager) RegisterChecker(checker HealthChecker) {
	hm.checkers = append(hm.checkers, checker)
}

// CheckHealth runs every checker. A failing critical check makes the whole
// response unhealthy; anything else short of healthy degrades it.
func (hm *HealthManager) CheckHealth(ctx context.Context) HealthResponse {
	checks := make(map[string]HealthCheck, len(hm.checkers))
	summary := HealthSummary{}
	overall := HealthStatusHealthy

	for _, checker := range hm.checkers {
		start := time.Now()
		check := checker.Check(ctx)
		check.Name = checker.Name()
		check.Duration = time.Since(start)
		check.Timestamp = time.Now()
		check.Critical = checker.IsCritical()
		checks[check.Name] = check

		summary.Total++
		switch check.Status {
		case HealthStatusHealthy:
			summary.Healthy++
		case HealthStatusDegraded:
			summary.Degraded++
			if overall == HealthStatusHealthy {
				overall = HealthStatusDegraded
			}
		case HealthStatusUnhealthy:
			summary.Unhealthy++
			if check.Critical {
				summary.Critical++
				overall = HealthStatusUnhealthy
			} else if overall == HealthStatusHealthy {
				overall = HealthStatusDegraded
			}
		}
	}

	return HealthResponse{
		Status:    overall,
		Version:   hm.version,
		Timestamp: time.Now(),
		Checks:    checks,
		Summary:   summary,
	}
}

// StatsSource is anything that reports engine statistics.
type StatsSource interface {
	Stats() map[string]interface{}
}

// DeviceHealthChecker judges a device from its statistics alone. It never
// writes a probe record, since every write consumes space for good.
type DeviceHealthChecker struct {
	source StatsSource
	// DegradedAt is the fraction of capacity in use above which the device
	// is reported degraded.
	DegradedAt float64
}

func NewDeviceHealthChecker(source StatsSource) *DeviceHealthChecker {
	return &DeviceHealthChecker{source: source, DegradedAt: 0.9}
}

func (d *DeviceHealthChecker) Name() string {
	return "device"
}

func (d *DeviceHealthChecker) IsCritical() bool {
	return true
}

func (d *DeviceHealthChecker) Check(ctx context.Context) HealthCheck {
	stats := d.source.Stats()
	capacity, _ := stats["capacity"].(int64)
	used, _ := stats["used"].(int64)
	free, _ := stats["free"].(int64)
	getErrors, _ := stats["lkvs_get_errors_total"].(int64)
	putErrors, _ := stats["lkvs_put_errors_total"].(int64)

	details := map[string]interface{}{
		"capacity":   capacity,
		"used":       used,
		"free":       free,
		"keys":       stats["keys"],
		"get_errors": getErrors,
		"put_errors": putErrors,
	}

	var fraction float64
	if capacity > 0 {
		fraction = float64(used) / float64(capacity)
	}
	details["used_fraction"] = fraction

	switch {
	case capacity <= 0:
		return HealthCheck{Status: HealthStatusUnhealthy, Message: "Device reports no capacity", Details: details}
	case free < 4096:
		return HealthCheck{Status: HealthStatusUnhealthy, Message: "Device is full", Details: details}
	case getErrors > 0:
		return HealthCheck{Status: HealthStatusDegraded, Message: fmt.Sprintf("%d reads failed", getErrors), Details: details}
	case fraction >= d.DegradedAt:
		return HealthCheck{Status: HealthStatusDegraded, Message: fmt.Sprintf("Device is %.0f%% full", fraction*100), Details: details}
	}
	return HealthCheck{Status: HealthStatusHealthy, Message: "Device is operational", Details: details}
}

// MemoryHealthChecker flags heap growth past a limit; the index lives in
// memory, so it grows with the number of keys.
type MemoryHealthChecker struct {
	maxMemoryMB uint64
}

func NewMemoryHealthChecker(maxMemoryMB uint64) *MemoryHealthChecker {
	return &MemoryHealthChecker{maxMemoryMB: maxMemoryMB}
}

func (m *MemoryHealthChecker) Name() string {
	return "memory"
}

func (m *MemoryHealthChecker) IsCritical() bool {
	return false
}

func (m *MemoryHealthChecker) Check(ctx context.Context) HealthCheck {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	allocMB := memStats.Alloc / 1024 / 1024
	status := HealthStatusHealthy
	message := "Memory usage is normal"

	if m.maxMemoryMB > 0 {
		if allocMB > m.maxMemoryMB {
			status = HealthStatusUnhealthy
			message = fmt.Sprintf("Memory usage exceeds limit (%dMB > %dMB)", allocMB, m.maxMemoryMB)
		} else if allocMB > m.maxMemoryMB*80/100 {
			status = HealthStatusDegraded
			message = fmt.Sprintf("Memory usage is high (%dMB)", allocMB)
		}
	}

	return HealthCheck{
		Status:  status,
		Message: message,
		Details: map[string]interface{}{
			"alloc_mb": allocMB,
			"sys_mb":   memStats.Sys / 1024 / 1024,
			"num_gc":   memStats.NumGC,
		},
	}
}
