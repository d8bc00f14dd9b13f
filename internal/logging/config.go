package logging

import (
	"fmt"

	"lkvs/internal/config"
)

// DevelopmentLoggingConfig returns logging configuration optimized for development
func DevelopmentLoggingConfig() config.LoggingConfig {
	return config.LoggingConfig{
		Level:                "debug",
		Format:               "console", // Human-readable format for development
		Output:               "stderr",
		EnableDeviceLogging:  true,
		EnablePerformanceLog: true,
	}
}

// ProductionLoggingConfig returns logging configuration optimized for production
func ProductionLoggingConfig() config.LoggingConfig {
	return config.LoggingConfig{
		Level:                "info",
		Format:               "json", // Machine-readable format for production
		Output:               "stderr",
		EnableDeviceLogging:  false, // One line per put/get is too noisy
		EnablePerformanceLog: false,
	}
}

// TestLoggingConfig returns logging configuration optimized for testing
func TestLoggingConfig() config.LoggingConfig {
	return config.LoggingConfig{
		Level:                "error", // Minimal logging during tests
		Format:               "json",
		Output:               "stderr",
		EnableDeviceLogging:  false,
		EnablePerformanceLog: false,
	}
}

// SetupEnvironmentLogging replaces cfg's logging section with the preset for
// environment and records the environment for tracing.
func SetupEnvironmentLogging(cfg *config.Config, environment string) error {
	switch environment {
	case "development", "dev":
		cfg.Logging = DevelopmentLoggingConfig()
	case "production", "prod":
		cfg.Logging = ProductionLoggingConfig()
	case "test", "testing":
		cfg.Logging = TestLoggingConfig()
	default:
		return fmt.Errorf("unknown environment %q", environment)
	}
	cfg.Tracing.Environment = environment
	return nil
}
