package storage

import (
	"lkvs/internal/config"
	"lkvs/internal/device"
)

// NewStorageEngine opens the device engine and, when caching is enabled,
// wraps it in a read cache.
func NewStorageEngine(cfg Config, opts ...Option) (StorageEngine, error) {
	engine, err := Open(cfg, opts...)
	if err != nil {
		return nil, err
	}

	if !cfg.CacheEnabled {
		return engine, nil
	}

	return NewCachedStorageEngine(engine, CachedStorageConfig{
		CacheEnabled:    true,
		CacheSize:       cfg.CacheSize,
		MaxValueBytes:   cfg.CacheMaxBytes,
		DefaultTTL:      cfg.CacheTTL,
		CleanupInterval: cfg.CacheCleanupInterval,
		Metrics:         engine.Metrics(),
	}), nil
}

// ConfigFrom builds an engine Config from the application configuration.
func ConfigFrom(cfg *config.Config) (Config, error) {
	mode := device.ReadWrite
	if cfg.Device.ReadOnly() {
		mode = device.ReadOnly
	}

	out := Config{
		DevicePath:           cfg.Device.Path,
		Mode:                 mode,
		Format:               cfg.Device.Format,
		SyncWrites:           cfg.Device.SyncWrites,
		VerifyOnOpen:         cfg.Device.VerifyOnOpen,
		CheckpointEnabled:    cfg.Index.CheckpointEnabled,
		CheckpointPath:       cfg.Index.CheckpointPath,
		CheckpointInMemory:   cfg.Index.CheckpointInMemory,
		CacheEnabled:         cfg.Cache.Enabled,
		CacheSize:            cfg.Cache.Size,
		CacheTTL:             cfg.Cache.TTL,
		CacheCleanupInterval: cfg.Cache.CleanupInterval,
	}

	if cfg.Device.CreateSize != "" {
		size, err := cfg.Device.CreateBytes()
		if err != nil {
			return Config{}, err
		}
		out.CreateSize = size
	}

	maxBytes, err := cfg.Cache.MaxBytesValue()
	if err != nil {
		return Config{}, err
	}
	out.CacheMaxBytes = maxBytes

	return out, nil
}
