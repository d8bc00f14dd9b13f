package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"lkvs/internal/device"
	"lkvs/internal/index"
	"lkvs/internal/logging"
	"lkvs/internal/monitoring"
)

// Engine is a linear key-value store on a single device. Values are appended
// and never moved; the newest record for a key wins.
//
// Only one Engine may have a device open read-write at a time; the device
// lock enforces this between processes.
type Engine struct {
	mu sync.Mutex

	config     Config
	dev        *device.Device
	idx        *index.Index
	sb         superblock
	checkpoint index.Checkpointer
	ownsCkpt   bool
	logger     *logging.Logger
	metrics    *monitoring.DeviceMetrics

	recovered      int
	fromCheckpoint bool
	closed         bool
}

var _ StorageEngine = (*Engine)(nil)

type Config struct {
	DevicePath string
	Mode       device.Mode
	// Format writes a fresh superblock, discarding everything on the device.
	Format     bool
	SyncWrites bool
	// CreateSize, when positive, creates a regular file of that size at
	// DevicePath if nothing exists there yet.
	CreateSize int64
	// VerifyOnOpen checks every value checksum while rebuilding the index.
	VerifyOnOpen bool

	// Index checkpoint settings
	CheckpointEnabled  bool
	CheckpointPath     string
	CheckpointInMemory bool

	// Cache settings
	CacheEnabled         bool
	CacheSize            int
	CacheMaxBytes        int64
	CacheTTL             time.Duration
	CacheCleanupInterval time.Duration
}

// Option customizes an Engine at open time.
type Option func(*Engine)

func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(metrics *monitoring.DeviceMetrics) Option {
	return func(e *Engine) {
		e.metrics = metrics
	}
}

// WithCheckpointer supplies the checkpoint store. The engine does not close
// a checkpointer it was given.
func WithCheckpointer(cp index.Checkpointer) Option {
	return func(e *Engine) {
		e.checkpoint = cp
	}
}

// Info describes an open engine.
type Info struct {
	Path           string      `json:"path"`
	Mode           device.Mode `json:"-"`
	ModeName       string      `json:"mode"`
	DeviceID       uuid.UUID   `json:"device_id"`
	FormattedAt    time.Time   `json:"formatted_at"`
	Capacity       int64       `json:"capacity"`
	Used           int64       `json:"used"`
	Free           int64       `json:"free"`
	Keys           int         `json:"keys"`
	LastSeq        uint64      `json:"last_seq"`
	Recovered      int         `json:"recovered"`
	FromCheckpoint bool        `json:"from_checkpoint"`
}

// Open opens the device named by config, formatting it if requested or if it
// is blank and writable, and rebuilds the key index.
func Open(config Config, opts ...Option) (*Engine, error) {
	e := &Engine{config: config}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.Nop()
	}
	if e.metrics == nil {
		e.metrics = monitoring.NewDeviceMetrics()
	}

	if config.Format && config.Mode != device.ReadWrite {
		return nil, fmt.Errorf("%w: %s: cannot format a %s device", ErrDeviceOpen, config.DevicePath, config.Mode)
	}

	if config.CreateSize > 0 {
		if _, err := os.Stat(config.DevicePath); errors.Is(err, os.ErrNotExist) {
			if err := device.Create(config.DevicePath, config.CreateSize); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrDeviceOpen, err)
			}
			e.logger.Info("Created device file", "path", config.DevicePath, "capacity", config.CreateSize)
		}
	}

	dev, err := device.Open(config.DevicePath, config.Mode)
	if err != nil {
		return nil, err
	}
	e.dev = dev

	if err := e.load(); err != nil {
		e.dev.Close()
		return nil, err
	}

	if e.checkpoint == nil && config.CheckpointEnabled {
		cp, err := index.NewBadgerCheckpointer(config.CheckpointPath, config.CheckpointInMemory)
		if err != nil {
			e.dev.Close()
			return nil, fmt.Errorf("%w: %v", ErrDeviceOpen, err)
		}
		e.checkpoint = cp
		e.ownsCkpt = true
	}

	if err := e.rebuildIndex(); err != nil {
		e.releaseCheckpoint()
		e.dev.Close()
		return nil, err
	}

	e.updateGauges()
	e.logger.Info("Device opened",
		"path", config.DevicePath,
		"mode", config.Mode.String(),
		"device_id", e.sb.ID.String(),
		"capacity", e.dev.Capacity(),
		"keys", e.idx.Len(),
		"recovered", e.recovered,
		"from_checkpoint", e.fromCheckpoint,
	)
	return e, nil
}

// load reads the superblock, writing one first when formatting.
func (e *Engine) load() error {
	capacity := e.dev.Capacity()
	if capacity < 2*BlockSize {
		return fmt.Errorf("%w: %s holds %d bytes, need at least %d", ErrDeviceOpen, e.dev.Path(), capacity, 2*BlockSize)
	}

	block, err := e.dev.ReadAt(0, BlockSize)
	if err != nil {
		return fmt.Errorf("%w: reading superblock: %w", ErrDeviceOpen, err)
	}

	format := e.config.Format
	if !format && e.config.Mode == device.ReadWrite && isBlank(block) {
		format = true
	}
	if format {
		sb := newSuperblock(capacity)
		block = sb.encode()
		if _, err := e.dev.WriteAt(0, block); err != nil {
			return fmt.Errorf("%w: writing superblock: %w", ErrDeviceOpen, err)
		}
		if err := e.dev.Sync(); err != nil {
			return fmt.Errorf("%w: %w", ErrDeviceOpen, err)
		}
		e.logger.Info("Device formatted", "path", e.dev.Path(), "device_id", sb.ID.String(), "capacity", capacity)
	}

	sb, err := decodeSuperblock(block)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDeviceOpen, e.dev.Path(), err)
	}
	if sb.BlockSize != BlockSize {
		return fmt.Errorf("%w: %s: %w: block size %d", ErrDeviceOpen, e.dev.Path(), ErrBadSuperblock, sb.BlockSize)
	}
	if sb.Capacity != capacity {
		return fmt.Errorf("%w: %s: %w: superblock size %d does not match device size %d",
			ErrDeviceOpen, e.dev.Path(), ErrBadSuperblock, sb.Capacity, capacity)
	}
	e.sb = sb

	usable := capacity - capacity%BlockSize
	e.idx, err = index.New(BlockSize, usable, BlockSize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}
	return nil
}

// rebuildIndex restores the checkpoint, if one matches this device, and then
// replays any records written after it.
func (e *Engine) rebuildIndex() error {
	if e.checkpoint != nil && !e.config.Format {
		snap, ok, err := e.checkpoint.Load(e.sb.ID)
		switch {
		case err != nil:
			e.logger.Warn("Ignoring unreadable index checkpoint", "error", err.Error())
		case ok:
			if err := e.idx.Restore(snap); err != nil {
				e.logger.Warn("Ignoring invalid index checkpoint", "error", err.Error())
				e.idx.Reset()
			} else {
				e.fromCheckpoint = true
			}
		}
	}

	n, err := e.replay()
	if err != nil {
		return fmt.Errorf("%w: rebuilding index: %w", ErrDeviceOpen, err)
	}
	e.recovered = n
	e.metrics.RecoveredOnOpen.Set(int64(n))
	return nil
}

// replay scans records from the allocation cursor onward and stops at the
// first block that is not the next valid header in sequence.
func (e *Engine) replay() (int, error) {
	replayed := 0
	expected := e.idx.LastSeq() + 1

	for e.idx.Remaining() >= BlockSize {
		offset := e.idx.Cursor()
		block, err := e.dev.ReadAt(offset, BlockSize)
		if err != nil {
			return replayed, err
		}

		h, err := decodeRecordHeader(block, e.sb.ID)
		if err != nil || h.Seq != expected {
			break
		}
		// bound the length before aligning it, so a huge value cannot wrap
		if h.ValueLen > e.idx.Remaining()-BlockSize {
			e.logger.Warn("Record runs past end of device", "offset", offset, "value_len", h.ValueLen)
			break
		}
		size := recordSize(h.ValueLen)
		if e.config.VerifyOnOpen {
			value, err := e.readValue(offset+BlockSize, h.ValueLen)
			if err != nil {
				return replayed, err
			}
			if xxhash.Sum64(value) != h.ValueSum {
				e.logger.Warn("Record value checksum mismatch, stopping replay", "offset", offset, "seq", h.Seq)
				break
			}
		}

		if err := e.idx.Advance(offset + size); err != nil {
			return replayed, err
		}
		if err := e.idx.Insert(h.Key, offset+BlockSize, h.ValueLen, h.Seq); err != nil {
			return replayed, err
		}
		expected++
		replayed++
	}
	return replayed, nil
}

// Put stores value under key, replacing any earlier value for key.
//
// The value is written before its header, and the index is updated last, so
// a failed put is never visible.
func (e *Engine) Put(key, value []byte) (err error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	defer func() {
		duration := time.Since(start)
		e.metrics.PutsTotal.Inc()
		e.metrics.PutDuration.ObserveDuration(duration)
		if err != nil {
			e.metrics.PutErrors.Inc()
		}
		e.logger.DeviceOperation(e.opContext(), "put", key, len(value), duration, err)
	}()

	if e.closed {
		return newPutError(key, ErrClosed)
	}
	if e.dev.Mode() != device.ReadWrite {
		return newPutError(key, ErrReadOnly)
	}
	if err := validateKey(key); err != nil {
		return newPutError(key, err)
	}

	size := recordSize(int64(len(value)))
	offset, err := e.idx.Allocate(size)
	if err != nil {
		return newPutError(key, err)
	}

	seq := e.idx.LastSeq() + 1
	if err := e.writeRecord(offset, seq, key, value); err != nil {
		e.idx.Rewind(offset, size)
		return newPutError(key, err)
	}

	if err := e.idx.Insert(key, offset+BlockSize, int64(len(value)), seq); err != nil {
		e.idx.Rewind(offset, size)
		return newPutError(key, err)
	}

	e.metrics.BytesWritten.Add(size)
	e.updateGauges()
	return nil
}

func (e *Engine) writeRecord(offset int64, seq uint64, key, value []byte) error {
	valueOffset := offset + BlockSize
	for written := 0; written < len(value); {
		n := len(value) - written
		if n > maxIOSize {
			n = maxIOSize
		}
		chunk := value[written : written+n]
		if n%BlockSize != 0 {
			padded := make([]byte, index.Align(int64(n), BlockSize))
			copy(padded, chunk)
			chunk = padded
		}
		if _, err := e.dev.WriteAt(valueOffset+int64(written), chunk); err != nil {
			return err
		}
		written += n
	}
	if e.config.SyncWrites {
		if err := e.dev.Sync(); err != nil {
			return err
		}
	}

	h := recordHeader{
		Seq:      seq,
		ValueLen: int64(len(value)),
		ValueSum: xxhash.Sum64(value),
		DeviceID: e.sb.ID,
		Digest:   index.DigestOf(key),
		Key:      key,
	}
	if _, err := e.dev.WriteAt(offset, h.encode()); err != nil {
		e.invalidateHeader(offset)
		return err
	}
	if e.config.SyncWrites {
		if err := e.dev.Sync(); err != nil {
			e.invalidateHeader(offset)
			return err
		}
	}
	return nil
}

// invalidateHeader makes a best-effort attempt to clear a header whose write
// reported failure, so replay cannot pick it up.
func (e *Engine) invalidateHeader(offset int64) {
	if _, err := e.dev.WriteAt(offset, make([]byte, BlockSize)); err != nil {
		e.logger.WithError(err).Warn("Failed to clear header after write error", "offset", offset)
	}
}

// Get returns the value stored for key. expectedLength is what the caller
// believes the length to be; it never changes how much is read.
func (e *Engine) Get(key []byte, expectedLength int) (value []byte, err error) {
	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	defer func() {
		duration := time.Since(start)
		e.metrics.GetsTotal.Inc()
		e.metrics.GetDuration.ObserveDuration(duration)
		switch {
		case errors.Is(err, ErrKeyNotFound):
			e.metrics.GetMisses.Inc()
		case err != nil:
			e.metrics.GetErrors.Inc()
		default:
			e.metrics.BytesRead.Add(int64(len(value)))
		}
		e.logger.DeviceOperation(e.opContext(), "get", key, len(value), duration, err)
	}()

	if e.closed {
		return nil, ErrClosed
	}

	entry, ok := e.idx.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrKeyNotFound, key)
	}
	if int64(expectedLength) != entry.Length {
		e.metrics.LengthMismatches.Inc()
		e.logger.Debug("Requested length does not match stored length",
			"key", string(key), "requested", expectedLength, "stored", entry.Length)
	}

	block, err := e.dev.ReadAt(entry.Offset-BlockSize, BlockSize)
	if err != nil {
		return nil, err
	}
	h, err := decodeRecordHeader(block, e.sb.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: record header for %q: %v", ErrDeviceRead, key, err)
	}
	if h.Seq != entry.Seq || h.ValueLen != entry.Length {
		return nil, fmt.Errorf("%w: record header for %q does not match index", ErrDeviceRead, key)
	}

	value, err = e.readValue(entry.Offset, entry.Length)
	if err != nil {
		return nil, err
	}
	if xxhash.Sum64(value) != h.ValueSum {
		return nil, fmt.Errorf("%w: %w: key %q", ErrDeviceRead, ErrChecksum, key)
	}
	return value, nil
}

// readValue reads exactly length bytes in bounded chunks.
func (e *Engine) readValue(offset, length int64) ([]byte, error) {
	value := make([]byte, 0, length)
	for read := int64(0); read < length; {
		n := length - read
		if n > maxIOSize {
			n = maxIOSize
		}
		chunk, err := e.dev.ReadAt(offset+read, n)
		if err != nil {
			return nil, err
		}
		value = append(value, chunk...)
		read += n
	}
	return value, nil
}

// opContext tags a single operation's log lines with an operation ID. The ID
// is only generated when device operations are logged.
func (e *Engine) opContext() context.Context {
	if !e.logger.DeviceLoggingEnabled() {
		return context.Background()
	}
	return logging.NewOperationContext(context.Background(), e.config.DevicePath)
}

func validateKey(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if len(key) > MaxKeySize {
		return fmt.Errorf("%w: key is %d bytes, limit is %d", ErrInvalidKey, len(key), MaxKeySize)
	}
	return nil
}

// Len returns the number of live keys.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idx.Len()
}

func (e *Engine) Info() Info {
	e.mu.Lock()
	defer e.mu.Unlock()

	return Info{
		Path:           e.dev.Path(),
		Mode:           e.dev.Mode(),
		ModeName:       e.dev.Mode().String(),
		DeviceID:       e.sb.ID,
		FormattedAt:    e.sb.FormattedAt,
		Capacity:       e.dev.Capacity(),
		Used:           e.idx.Used(),
		Free:           e.idx.Remaining(),
		Keys:           e.idx.Len(),
		LastSeq:        e.idx.LastSeq(),
		Recovered:      e.recovered,
		FromCheckpoint: e.fromCheckpoint,
	}
}

func (e *Engine) Stats() map[string]interface{} {
	info := e.Info()
	stats := e.metrics.Snapshot()
	stats["device_path"] = info.Path
	stats["device_mode"] = info.ModeName
	stats["device_id"] = info.DeviceID.String()
	stats["capacity"] = info.Capacity
	stats["used"] = info.Used
	stats["free"] = info.Free
	stats["keys"] = info.Keys
	stats["last_seq"] = info.LastSeq
	return stats
}

// Metrics exposes the engine's metric set.
func (e *Engine) Metrics() *monitoring.DeviceMetrics {
	return e.metrics
}

// Close saves the index checkpoint, if configured, and releases the device.
// It is safe to call more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if e.checkpoint != nil && e.dev.Mode() == device.ReadWrite {
		// records must be durable before a checkpoint can point past them
		if err := e.syncIfDirty(); err != nil {
			e.logger.WithError(err).Error("Failed to sync device, skipping index checkpoint")
			errs = append(errs, err)
		} else if err := e.checkpoint.Save(e.sb.ID, e.idx.Snapshot()); err != nil {
			e.logger.WithError(err).Error("Failed to save index checkpoint")
			errs = append(errs, err)
		}
	}
	if err := e.releaseCheckpoint(); err != nil {
		errs = append(errs, err)
	}
	if err := e.dev.Close(); err != nil {
		errs = append(errs, err)
	}

	e.logger.Info("Device closed", "path", e.dev.Path(), "keys", e.idx.Len())
	return errors.Join(errs...)
}

func (e *Engine) syncIfDirty() error {
	if !e.dev.Dirty() {
		return nil
	}
	return e.dev.Sync()
}

func (e *Engine) releaseCheckpoint() error {
	if e.checkpoint == nil || !e.ownsCkpt {
		return nil
	}
	err := e.checkpoint.Close()
	e.checkpoint = nil
	return err
}

func (e *Engine) updateGauges() {
	e.metrics.DeviceUsedBytes.Set(e.idx.Used())
	e.metrics.DeviceFreeBytes.Set(e.idx.Remaining())
	e.metrics.IndexEntries.Set(int64(e.idx.Len()))
}
