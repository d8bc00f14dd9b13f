package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"lkvs/internal/config"
)

type Logger struct {
	*slog.Logger
	config *config.LoggingConfig
}

type ContextKey string

const (
	OperationIDKey ContextKey = "operation_id"
	DeviceKey      ContextKey = "device"
)

// NewLogger creates a new structured logger using slog
func NewLogger(cfg *config.LoggingConfig) *Logger {
	return newLogger(cfg, nil)
}

// NewLoggerWithWriter is NewLogger with the output forced to w.
func NewLoggerWithWriter(cfg *config.LoggingConfig, w io.Writer) *Logger {
	return newLogger(cfg, w)
}

func newLogger(cfg *config.LoggingConfig, writer io.Writer) *Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if writer == nil {
		switch cfg.Output {
		case "stdout":
			writer = os.Stdout
		case "stderr", "":
			writer = os.Stderr
		default:
			file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err == nil {
				writer = file
			} else {
				writer = os.Stderr
				slog.Warn("Failed to open log file, using stderr", "error", err, "file", cfg.Output)
			}
		}
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Value = slog.StringValue(a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	case "text", "console":
		handler = slog.NewTextHandler(writer, opts)
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		config: cfg,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	cfg := TestLoggingConfig()
	return NewLoggerWithWriter(&cfg, io.Discard)
}

// WithContext creates a new logger with context values
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if opID := ctx.Value(OperationIDKey); opID != nil {
		logger = logger.With("operation_id", opID)
	}
	if dev := ctx.Value(DeviceKey); dev != nil {
		logger = logger.With("device", dev)
	}

	return &Logger{
		Logger: logger,
		config: l.config,
	}
}

// WithError creates a new logger with an error field
func (l *Logger) WithError(err error) *Logger {
	return &Logger{
		Logger: l.Logger.With("error", err.Error()),
		config: l.config,
	}
}

// DeviceLoggingEnabled reports whether DeviceOperation writes anything.
func (l *Logger) DeviceLoggingEnabled() bool {
	return l.config != nil && l.config.EnableDeviceLogging
}

// DeviceOperation logs a single engine operation against the device. It is
// a no-op unless device logging is enabled.
func (l *Logger) DeviceOperation(ctx context.Context, operation string, key []byte, size int, duration time.Duration, err error) {
	if !l.DeviceLoggingEnabled() {
		return
	}

	logger := l.WithContext(ctx).With(
		"operation", operation,
		"key", string(key),
		"size", size,
		"duration_us", duration.Microseconds(),
	)

	if err != nil {
		logger.Error("Device operation failed", "error", err.Error())
	} else {
		logger.Debug("Device operation completed")
	}
}

// Performance logs performance metrics
func (l *Logger) Performance(ctx context.Context, metric string, value float64, unit string, tags map[string]string) {
	if l.config == nil || !l.config.EnablePerformanceLog {
		return
	}

	args := []interface{}{
		"metric", metric,
		"value", value,
		"unit", unit,
	}

	for key, value := range tags {
		args = append(args, "tag_"+key, value)
	}

	l.WithContext(ctx).Info("Performance metric", args...)
}
