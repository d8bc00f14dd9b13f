package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Device  DeviceConfig  `yaml:"device" json:"device"`
	Index   IndexConfig   `yaml:"index" json:"index"`
	Cache   CacheConfig   `yaml:"cache" json:"cache"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

type DeviceConfig struct {
	Path string `yaml:"path" json:"path"`
	// Mode is "ro" or "rw".
	Mode string `yaml:"mode" json:"mode"`
	// Format rewrites the superblock on open, discarding all stored values.
	Format     bool `yaml:"format" json:"format"`
	SyncWrites bool `yaml:"sync_writes" json:"sync_writes"`
	// CreateSize preallocates a regular file of this size when Path does not
	// exist. Accepts humanized sizes such as "64MiB".
	CreateSize string `yaml:"create_size" json:"create_size"`
	// VerifyOnOpen checks every value checksum while rebuilding the index.
	VerifyOnOpen bool `yaml:"verify_on_open" json:"verify_on_open"`
}

type IndexConfig struct {
	CheckpointEnabled  bool   `yaml:"checkpoint_enabled" json:"checkpoint_enabled"`
	CheckpointPath     string `yaml:"checkpoint_path" json:"checkpoint_path"`
	CheckpointInMemory bool   `yaml:"checkpoint_in_memory" json:"checkpoint_in_memory"`
}

type CacheConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Size            int           `yaml:"size" json:"size"`                         // Maximum number of values in cache
	TTL             time.Duration `yaml:"ttl" json:"ttl"`                           // Default TTL for cached values
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"` // How often to clean expired values
	MaxBytes        string        `yaml:"max_bytes" json:"max_bytes"`               // Upper bound on cached value bytes, e.g. "256MiB"
}

type LoggingConfig struct {
	Level                string `yaml:"level" json:"level"`
	Format               string `yaml:"format" json:"format"`
	Output               string `yaml:"output" json:"output"`
	EnableDeviceLogging  bool   `yaml:"enable_device_logging" json:"enable_device_logging"`
	EnablePerformanceLog bool   `yaml:"enable_performance_log" json:"enable_performance_log"`
}

// MetricsConfig controls metric output. Enabled prints the engine metrics in
// Prometheus text format after every CLI command.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type TracingConfig struct {
	Enabled        bool              `yaml:"enabled" json:"enabled"`
	ServiceName    string            `yaml:"service_name" json:"service_name"`
	ServiceVersion string            `yaml:"service_version" json:"service_version"`
	Environment    string            `yaml:"environment" json:"environment"`
	ExporterType   string            `yaml:"exporter_type" json:"exporter_type"`
	OTLPEndpoint   string            `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	OTLPHeaders    map[string]string `yaml:"otlp_headers" json:"otlp_headers"`
	SamplingRatio  float64           `yaml:"sampling_ratio" json:"sampling_ratio"`
}

func Load(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Path:       "/tmp/dev0",
			Mode:       "rw",
			Format:     false,
			SyncWrites: true,
			CreateSize: "",
		},
		Index: IndexConfig{
			CheckpointEnabled:  false,
			CheckpointPath:     "./data/index",
			CheckpointInMemory: false,
		},
		Cache: CacheConfig{
			Enabled:         false,
			Size:            1024,
			TTL:             30 * time.Minute,
			CleanupInterval: 5 * time.Minute,
			MaxBytes:        "64MiB",
		},
		Logging: LoggingConfig{
			Level:                "info",
			Format:               "text",
			Output:               "stderr",
			EnableDeviceLogging:  false,
			EnablePerformanceLog: false,
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
		Tracing: TracingConfig{
			Enabled:        false,
			ServiceName:    "lkvs",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			ExporterType:   "console",
			OTLPEndpoint:   "localhost:4318",
			OTLPHeaders:    make(map[string]string),
			SamplingRatio:  1.0,
		},
	}
}

func loadFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(configPath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to unmarshal YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	return nil
}

func loadFromEnvironment(config *Config) {
	// Device configuration
	if path := os.Getenv("LKVS_DEVICE_PATH"); path != "" {
		config.Device.Path = path
	}
	if mode := os.Getenv("LKVS_DEVICE_MODE"); mode != "" {
		config.Device.Mode = mode
	}
	if format := os.Getenv("LKVS_DEVICE_FORMAT"); format != "" {
		if b, err := strconv.ParseBool(format); err == nil {
			config.Device.Format = b
		}
	}
	if syncWrites := os.Getenv("LKVS_DEVICE_SYNC_WRITES"); syncWrites != "" {
		if b, err := strconv.ParseBool(syncWrites); err == nil {
			config.Device.SyncWrites = b
		}
	}
	if size := os.Getenv("LKVS_DEVICE_CREATE_SIZE"); size != "" {
		config.Device.CreateSize = size
	}

	// Index configuration
	if enabled := os.Getenv("LKVS_INDEX_CHECKPOINT_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Index.CheckpointEnabled = b
		}
	}
	if path := os.Getenv("LKVS_INDEX_CHECKPOINT_PATH"); path != "" {
		config.Index.CheckpointPath = path
	}

	// Cache configuration
	if enabled := os.Getenv("LKVS_CACHE_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Cache.Enabled = b
		}
	}
	if size := os.Getenv("LKVS_CACHE_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			config.Cache.Size = n
		}
	}
	if maxBytes := os.Getenv("LKVS_CACHE_MAX_BYTES"); maxBytes != "" {
		config.Cache.MaxBytes = maxBytes
	}

	// Logging configuration
	if level := os.Getenv("LKVS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("LKVS_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	// Metrics configuration
	if enabled := os.Getenv("LKVS_METRICS_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Metrics.Enabled = b
		}
	}

	// Tracing configuration
	if enabled := os.Getenv("LKVS_TRACING_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Tracing.Enabled = b
		}
	}
	if endpoint := os.Getenv("LKVS_TRACING_OTLP_ENDPOINT"); endpoint != "" {
		config.Tracing.OTLPEndpoint = endpoint
	}
}

func (c *Config) Validate() error {
	// Device validation
	if c.Device.Path == "" {
		return fmt.Errorf("device path cannot be empty")
	}
	switch strings.ToLower(c.Device.Mode) {
	case "ro", "rw":
	default:
		return fmt.Errorf("invalid device mode: %s", c.Device.Mode)
	}
	if c.Device.Format && strings.ToLower(c.Device.Mode) == "ro" {
		return fmt.Errorf("cannot format a device opened read-only")
	}
	if c.Device.CreateSize != "" {
		if _, err := c.Device.CreateBytes(); err != nil {
			return err
		}
	}

	// Index validation
	if c.Index.CheckpointEnabled && !c.Index.CheckpointInMemory && c.Index.CheckpointPath == "" {
		return fmt.Errorf("checkpoint path cannot be empty when checkpoints are enabled")
	}

	// Cache validation
	if c.Cache.Enabled {
		if c.Cache.Size <= 0 {
			return fmt.Errorf("cache size must be positive")
		}
		if c.Cache.TTL < 0 {
			return fmt.Errorf("cache TTL cannot be negative")
		}
		if _, err := c.Cache.MaxBytesValue(); err != nil {
			return err
		}
	}

	// Logging validation
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{
		"json": true, "text": true, "console": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	// Tracing validation
	if c.Tracing.Enabled {
		switch c.Tracing.ExporterType {
		case "console", "otlp":
		default:
			return fmt.Errorf("invalid tracing exporter: %s", c.Tracing.ExporterType)
		}
		if c.Tracing.SamplingRatio < 0 || c.Tracing.SamplingRatio > 1 {
			return fmt.Errorf("sampling ratio must be within [0, 1]: %v", c.Tracing.SamplingRatio)
		}
	}

	return nil
}

// ReadOnly reports whether the device is configured read-only.
func (d DeviceConfig) ReadOnly() bool {
	return strings.ToLower(d.Mode) == "ro"
}

// CreateBytes parses CreateSize.
func (d DeviceConfig) CreateBytes() (int64, error) {
	n, err := humanize.ParseBytes(d.CreateSize)
	if err != nil {
		return 0, fmt.Errorf("invalid device create size %q: %w", d.CreateSize, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("device create size must be positive")
	}
	return int64(n), nil
}

// MaxBytesValue parses MaxBytes. An empty value means no byte limit.
func (c CacheConfig) MaxBytesValue() (int64, error) {
	if c.MaxBytes == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.MaxBytes)
	if err != nil {
		return 0, fmt.Errorf("invalid cache max bytes %q: %w", c.MaxBytes, err)
	}
	return int64(n), nil
}

func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
