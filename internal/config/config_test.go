package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Device.Path != "/tmp/dev0" {
		t.Errorf("Expected default device path to be /tmp/dev0, got %s", config.Device.Path)
	}

	if config.Device.Mode != "rw" {
		t.Errorf("Expected default device mode to be rw, got %s", config.Device.Mode)
	}

	if !config.Device.SyncWrites {
		t.Error("Expected sync writes to be enabled by default")
	}

	if config.Index.CheckpointEnabled {
		t.Error("Expected index checkpoints to be disabled by default")
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "test-config.yaml")

	configContent := `
device:
  path: "/dev/sdz"
  mode: "ro"
  sync_writes: false

index:
  checkpoint_enabled: true
  checkpoint_path: "/var/lib/lkvs/index"

cache:
  enabled: true
  size: 64
  ttl: 1m

logging:
  level: "debug"
  format: "json"
`

	err := os.WriteFile(configFile, []byte(configContent), 0644)
	if err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	config, err := Load(configFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Device.Path != "/dev/sdz" {
		t.Errorf("Expected device path to be /dev/sdz, got %s", config.Device.Path)
	}

	if !config.Device.ReadOnly() {
		t.Errorf("Expected device to be read-only, mode %s", config.Device.Mode)
	}

	if !config.Index.CheckpointEnabled || config.Index.CheckpointPath != "/var/lib/lkvs/index" {
		t.Errorf("Unexpected index config: %+v", config.Index)
	}

	if !config.Cache.Enabled || config.Cache.Size != 64 || config.Cache.TTL != time.Minute {
		t.Errorf("Unexpected cache config: %+v", config.Cache)
	}

	if config.Logging.Level != "debug" {
		t.Errorf("Expected log level to be debug, got %s", config.Logging.Level)
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configFile, []byte("x = 1"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(configFile); err == nil {
		t.Error("Expected an error for an unsupported config format")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	os.Setenv("LKVS_DEVICE_PATH", "/tmp/env-dev")
	os.Setenv("LKVS_DEVICE_FORMAT", "true")
	os.Setenv("LKVS_DEVICE_CREATE_SIZE", "16MiB")
	os.Setenv("LKVS_CACHE_ENABLED", "true")
	os.Setenv("LKVS_LOG_LEVEL", "error")
	os.Setenv("LKVS_METRICS_ENABLED", "true")

	defer func() {
		os.Unsetenv("LKVS_DEVICE_PATH")
		os.Unsetenv("LKVS_DEVICE_FORMAT")
		os.Unsetenv("LKVS_DEVICE_CREATE_SIZE")
		os.Unsetenv("LKVS_CACHE_ENABLED")
		os.Unsetenv("LKVS_LOG_LEVEL")
		os.Unsetenv("LKVS_METRICS_ENABLED")
	}()

	config, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Device.Path != "/tmp/env-dev" {
		t.Errorf("Expected device path to be /tmp/env-dev, got %s", config.Device.Path)
	}

	if !config.Device.Format {
		t.Error("Expected format to be enabled from environment")
	}

	size, err := config.Device.CreateBytes()
	if err != nil || size != 16*1024*1024 {
		t.Errorf("Expected create size of 16MiB, got %d (%v)", size, err)
	}

	if !config.Cache.Enabled {
		t.Error("Expected cache to be enabled from environment")
	}

	if config.Logging.Level != "error" {
		t.Errorf("Expected log level to be error, got %s", config.Logging.Level)
	}

	if !config.Metrics.Enabled {
		t.Error("Expected metrics output to be enabled from environment")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		configFunc  func() *Config
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config",
			configFunc: func() *Config {
				return DefaultConfig()
			},
			expectError: false,
		},
		{
			name: "empty device path",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Device.Path = ""
				return config
			},
			expectError: true,
			errorMsg:    "device path cannot be empty",
		},
		{
			name: "invalid device mode",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Device.Mode = "append"
				return config
			},
			expectError: true,
			errorMsg:    "invalid device mode",
		},
		{
			name: "format read-only device",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Device.Mode = "ro"
				config.Device.Format = true
				return config
			},
			expectError: true,
			errorMsg:    "cannot format a device opened read-only",
		},
		{
			name: "bad create size",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Device.CreateSize = "lots"
				return config
			},
			expectError: true,
			errorMsg:    "invalid device create size",
		},
		{
			name: "checkpoint without path",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Index.CheckpointEnabled = true
				config.Index.CheckpointPath = ""
				return config
			},
			expectError: true,
			errorMsg:    "checkpoint path cannot be empty",
		},
		{
			name: "in-memory checkpoint without path",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Index.CheckpointEnabled = true
				config.Index.CheckpointInMemory = true
				config.Index.CheckpointPath = ""
				return config
			},
			expectError: false,
		},
		{
			name: "zero cache size",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Cache.Enabled = true
				config.Cache.Size = 0
				return config
			},
			expectError: true,
			errorMsg:    "cache size must be positive",
		},
		{
			name: "invalid log level",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Logging.Level = "invalid"
				return config
			},
			expectError: true,
			errorMsg:    "invalid log level",
		},
		{
			name: "invalid tracing exporter",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Tracing.Enabled = true
				config.Tracing.ExporterType = "jaeger"
				return config
			},
			expectError: true,
			errorMsg:    "invalid tracing exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := tt.configFunc()
			err := config.Validate()

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected validation error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no validation error but got: %v", err)
				}
			}
		})
	}
}

func TestConfigString(t *testing.T) {
	config := DefaultConfig()
	configStr := config.String()

	if configStr == "" {
		t.Error("Config string should not be empty")
	}

	if !strings.Contains(configStr, "device:") {
		t.Error("Config string should contain device section")
	}

	if !strings.Contains(configStr, "index:") {
		t.Error("Config string should contain index section")
	}
}
