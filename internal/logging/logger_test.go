package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"lkvs/internal/config"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config config.LoggingConfig
	}{
		{"development config", DevelopmentLoggingConfig()},
		{"production config", ProductionLoggingConfig()},
		{"test config", TestLoggingConfig()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(&tt.config, &buf)
			if logger == nil {
				t.Fatal("Expected logger to be created")
			}

			logger.Info("Test log message", "test", true)
			logger.Debug("Debug message", "debug", true)
			logger.Warn("Warning message", "warning", true)
			logger.Error("Error message", "error", "test error")

			if !strings.Contains(buf.String(), "Error message") {
				t.Errorf("Expected error message in output, got %q", buf.String())
			}
		})
	}
}

func TestOperationID(t *testing.T) {
	id1 := GenerateOperationID()
	id2 := GenerateOperationID()

	if id1 == id2 {
		t.Error("Expected different operation IDs")
	}

	if !strings.HasPrefix(id1, "op_") {
		t.Errorf("Expected op_ prefix, got %s", id1)
	}

	ctx := NewOperationContext(context.Background(), "/tmp/dev0")
	if ExtractOperationID(ctx) == "" {
		t.Error("Expected operation ID in context")
	}
	if ExtractOperationID(context.Background()) != "" {
		t.Error("Expected no operation ID in empty context")
	}
}

func TestLoggerWithContext(t *testing.T) {
	cfg := config.LoggingConfig{
		Level:  "debug",
		Format: "json",
	}

	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&cfg, &buf)

	ctx := NewOperationContext(context.Background(), "/tmp/dev0")
	logger.WithContext(ctx).Info("Test with context", "test", "value")

	var record map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("Expected a JSON record, got %q: %v", buf.String(), err)
	}
	if record["device"] != "/tmp/dev0" {
		t.Errorf("Expected device field, got %v", record["device"])
	}
	if record["operation_id"] != ExtractOperationID(ctx) {
		t.Errorf("Expected operation_id field, got %v", record["operation_id"])
	}
}

func TestDeviceOperation(t *testing.T) {
	tests := []struct {
		name       string
		enabled    bool
		err        error
		wantOutput string
	}{
		{"disabled", false, nil, ""},
		{"success", true, nil, "Device operation completed"},
		{"failure", true, errors.New("boom"), "Device operation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.LoggingConfig{
				Level:               "debug",
				Format:              "text",
				EnableDeviceLogging: tt.enabled,
			}
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(&cfg, &buf)

			logger.DeviceOperation(context.Background(), "put", []byte("test"), 11, time.Millisecond, tt.err)

			if tt.wantOutput == "" {
				if buf.Len() != 0 {
					t.Errorf("Expected no output, got %q", buf.String())
				}
				return
			}
			if !strings.Contains(buf.String(), tt.wantOutput) {
				t.Errorf("Expected %q in output, got %q", tt.wantOutput, buf.String())
			}
		})
	}
}

func TestNop(t *testing.T) {
	logger := Nop()
	logger.Error("discarded")
}

func TestSetupEnvironmentLogging(t *testing.T) {
	tests := []struct {
		env        string
		wantLevel  string
		wantDevice bool
		wantErr    bool
	}{
		{"development", "debug", true, false},
		{"prod", "info", false, false},
		{"test", "error", false, false},
		{"staging", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			cfg := config.DefaultConfig()
			err := SetupEnvironmentLogging(cfg, tt.env)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected an error for an unknown environment")
				}
				return
			}
			if err != nil {
				t.Fatalf("SetupEnvironmentLogging() error = %v", err)
			}
			if cfg.Logging.Level != tt.wantLevel {
				t.Errorf("Expected level %s, got %s", tt.wantLevel, cfg.Logging.Level)
			}
			if NewLogger(&cfg.Logging).DeviceLoggingEnabled() != tt.wantDevice {
				t.Errorf("Expected device logging %v", tt.wantDevice)
			}
			if cfg.Tracing.Environment != tt.env {
				t.Errorf("Expected tracing environment %s, got %s", tt.env, cfg.Tracing.Environment)
			}
		})
	}
}
