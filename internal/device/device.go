// Package device provides bounded raw access to a block device or a
// preallocated regular file.
package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// Mode selects how a device is opened.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case ReadWrite:
		return "read-write"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

var (
	ErrDeviceOpen  = errors.New("device open failed")
	ErrDeviceRead  = errors.New("device read failed")
	ErrDeviceWrite = errors.New("device write failed")
)

// Device is an open handle on a raw storage device. It is not safe for
// concurrent use; the storage engine serializes access.
type Device struct {
	path     string
	mode     Mode
	file     *os.File
	capacity int64
	// dirty is set by WriteAt and cleared by a successful Sync.
	dirty bool

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

// Open opens path in the given mode and takes an OS-level lock on it:
// exclusive for ReadWrite, shared for ReadOnly.
func Open(path string, mode Mode) (*Device, error) {
	var flags int
	switch mode {
	case ReadOnly:
		flags = os.O_RDONLY
	case ReadWrite:
		flags = os.O_RDWR
	default:
		return nil, fmt.Errorf("%w: %s: unsupported %s", ErrDeviceOpen, path, mode)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrDeviceOpen, path)
	}

	file, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}

	if err := lockFile(file, mode == ReadWrite); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %s is in use by another process: %v", ErrDeviceOpen, path, err)
	}

	// Seeking to the end reports the size of block devices as well as files.
	capacity, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		unlockFile(file)
		file.Close()
		return nil, fmt.Errorf("%w: failed to size %s: %v", ErrDeviceOpen, path, err)
	}
	if capacity == 0 {
		unlockFile(file)
		file.Close()
		return nil, fmt.Errorf("%w: %s has zero capacity", ErrDeviceOpen, path)
	}

	return &Device{
		path:     path,
		mode:     mode,
		file:     file,
		capacity: capacity,
	}, nil
}

// Create makes a regular file of the given capacity usable as a device.
// An existing file is truncated or extended to capacity.
func Create(path string, capacity int64) error {
	if capacity <= 0 {
		return fmt.Errorf("invalid device capacity: %d", capacity)
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to create device file: %w", err)
	}
	defer file.Close()

	if err := file.Truncate(capacity); err != nil {
		return fmt.Errorf("failed to size device file: %w", err)
	}
	return file.Sync()
}

func (d *Device) Path() string    { return d.path }
func (d *Device) Mode() Mode      { return d.mode }
func (d *Device) Capacity() int64 { return d.capacity }
func (d *Device) IsOpen() bool    { return !d.closed }

// ReadAt reads exactly length bytes starting at offset.
func (d *Device) ReadAt(offset, length int64) ([]byte, error) {
	if d.closed {
		return nil, fmt.Errorf("%w: %s is closed", ErrDeviceRead, d.path)
	}
	if err := d.checkRange(offset, length); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceRead, err)
	}

	buf := make([]byte, length)
	n, err := d.file.ReadAt(buf, offset)
	if n != len(buf) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: read %d of %d bytes at offset %d: %v", ErrDeviceRead, n, length, offset, err)
	}
	return buf, nil
}

// WriteAt writes data at offset and returns the committed length.
func (d *Device) WriteAt(offset int64, data []byte) (int, error) {
	if d.closed {
		return 0, fmt.Errorf("%w: %s is closed", ErrDeviceWrite, d.path)
	}
	if d.mode != ReadWrite {
		return 0, fmt.Errorf("%w: %s is open %s", ErrDeviceWrite, d.path, d.mode)
	}
	if err := d.checkRange(offset, int64(len(data))); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDeviceWrite, err)
	}

	n, err := d.file.WriteAt(data, offset)
	if n > 0 {
		d.dirty = true
	}
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrDeviceWrite, err)
	}
	if n != len(data) {
		return n, fmt.Errorf("%w: short write of %d of %d bytes at offset %d", ErrDeviceWrite, n, len(data), offset)
	}
	return n, nil
}

// Sync flushes written data to stable storage.
func (d *Device) Sync() error {
	if d.closed {
		return fmt.Errorf("%w: %s is closed", ErrDeviceWrite, d.path)
	}
	if d.mode != ReadWrite {
		return nil
	}
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrDeviceWrite, err)
	}
	d.dirty = false
	return nil
}

// Dirty reports whether anything was written since the last Sync.
func (d *Device) Dirty() bool { return d.dirty }

// Close releases the lock and the file. It is safe to call more than once.
func (d *Device) Close() error {
	d.closeOnce.Do(func() {
		d.closed = true
		unlockFile(d.file)
		d.closeErr = d.file.Close()
	})
	return d.closeErr
}

func (d *Device) checkRange(offset, length int64) error {
	if offset < 0 || length < 0 {
		return fmt.Errorf("invalid range offset=%d length=%d", offset, length)
	}
	if offset > d.capacity || length > d.capacity-offset {
		return fmt.Errorf("range [%d, %d) exceeds capacity %d", offset, offset+length, d.capacity)
	}
	return nil
}
