// Package lkvs is the public entry point to a linear key-value store kept on
// a single raw device or preallocated file.
package lkvs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lkvs/internal/config"
	"lkvs/internal/device"
	"lkvs/internal/logging"
	"lkvs/internal/monitoring"
	"lkvs/internal/storage"
	"lkvs/internal/tracing"
)

// Open modes accepted by OpenDev.
const (
	ModeReadOnly  = 0
	ModeReadWrite = 1
	// ModeFormat opens read-write and discards everything on the device.
	ModeFormat = 2
)

// Errors returned by Dev. They are the storage engine's errors, so
// errors.Is works on anything Dev returns.
var (
	ErrDeviceOpen    = storage.ErrDeviceOpen
	ErrDeviceRead    = storage.ErrDeviceRead
	ErrDeviceWrite   = storage.ErrDeviceWrite
	ErrOutOfSpace    = storage.ErrOutOfSpace
	ErrKeyNotFound   = storage.ErrKeyNotFound
	ErrBadSuperblock = storage.ErrBadSuperblock
	ErrChecksum      = storage.ErrChecksum
	ErrInvalidKey    = storage.ErrInvalidKey
	ErrReadOnly      = storage.ErrReadOnly
	ErrClosed        = storage.ErrClosed
)

type (
	PutError = storage.PutError
	Info     = storage.Info
)

// Dev is an open device.
type Dev struct {
	engine  storage.StorageEngine
	tracing *tracing.TracingService
	logger  *logging.Logger

	mu     sync.Mutex
	closed bool
}

type options struct {
	config  *config.Config
	logger  *logging.Logger
	metrics *monitoring.DeviceMetrics
	tracing *tracing.TracingService
}

// Option customizes OpenDev.
type Option func(*options)

// WithConfig applies cache, index checkpoint, logging and tracing settings.
// The path and mode passed to OpenDev take precedence over cfg.Device.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

func WithLogger(logger *logging.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(metrics *monitoring.DeviceMetrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithTracing records a span for every Put and Get. The caller keeps
// ownership of ts.
func WithTracing(ts *tracing.TracingService) Option {
	return func(o *options) {
		o.tracing = ts
	}
}

// OpenDev opens the device at path. mode is ModeReadOnly, ModeReadWrite
// (formatting a blank device) or ModeFormat.
func OpenDev(path string, mode int, opts ...Option) (*Dev, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	engineCfg, err := storage.ConfigFrom(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}
	engineCfg.DevicePath = path
	switch mode {
	case ModeReadOnly:
		engineCfg.Mode = device.ReadOnly
		engineCfg.Format = false
	case ModeReadWrite:
		engineCfg.Mode = device.ReadWrite
		engineCfg.Format = false
	case ModeFormat:
		engineCfg.Mode = device.ReadWrite
		engineCfg.Format = true
	default:
		return nil, fmt.Errorf("%w: %s: unknown mode %d", ErrDeviceOpen, path, mode)
	}

	logger := o.logger
	if logger == nil {
		if o.config != nil {
			logger = logging.NewLogger(&cfg.Logging)
		} else {
			logger = logging.Nop()
		}
	}

	engineOpts := []storage.Option{storage.WithLogger(logger)}
	if o.metrics != nil {
		engineOpts = append(engineOpts, storage.WithMetrics(o.metrics))
	}
	engine, err := storage.NewStorageEngine(engineCfg, engineOpts...)
	if err != nil {
		return nil, err
	}

	d := &Dev{engine: engine, logger: logger}

	ts := o.tracing
	if ts == nil && cfg.Tracing.Enabled {
		ts, err = tracing.NewTracingService(cfg.Tracing)
		if err != nil {
			engine.Close()
			return nil, fmt.Errorf("failed to start tracing: %w", err)
		}
		d.tracing = ts
	}
	if ts != nil {
		d.engine = tracing.NewTracedEngine(engine, ts)
	}

	return d, nil
}

// Put stores value under key, replacing any earlier value.
func (d *Dev) Put(key, value string) error {
	return d.engine.Put([]byte(key), []byte(value))
}

// Get returns the value stored under key. length is the caller's expected
// value length; the stored length is what is returned.
func (d *Dev) Get(key string, length int) (string, error) {
	value, err := d.engine.Get([]byte(key), length)
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// PutBytes and GetBytes avoid the string conversions for binary values.
func (d *Dev) PutBytes(key, value []byte) error {
	return d.engine.Put(key, value)
}

func (d *Dev) GetBytes(key []byte, length int) ([]byte, error) {
	return d.engine.Get(key, length)
}

func (d *Dev) Len() int {
	return d.engine.Len()
}

func (d *Dev) Info() Info {
	return d.engine.Info()
}

func (d *Dev) Stats() map[string]interface{} {
	return d.engine.Stats()
}

// Close releases the device. It is safe to call more than once.
func (d *Dev) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	err := d.engine.Close()
	if d.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if terr := d.tracing.Close(ctx); terr != nil {
			d.logger.Warn("Failed to flush traces", "error", terr.Error())
		}
	}
	return err
}
