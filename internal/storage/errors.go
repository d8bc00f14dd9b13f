package storage

import (
	"errors"
	"fmt"

	"lkvs/internal/device"
	"lkvs/internal/index"
)

var (
	ErrDeviceOpen  = device.ErrDeviceOpen
	ErrDeviceRead  = device.ErrDeviceRead
	ErrDeviceWrite = device.ErrDeviceWrite
	ErrOutOfSpace  = index.ErrOutOfSpace

	ErrKeyNotFound   = errors.New("key not found")
	ErrBadSuperblock = errors.New("device is not an lkvs device")
	ErrChecksum      = errors.New("value checksum mismatch")
	ErrInvalidKey    = errors.New("invalid key")
	ErrReadOnly      = errors.New("device is open read-only")
	ErrClosed        = errors.New("engine is closed")
)

// PutError wraps any failure of a put. The index is unchanged when one is
// returned.
type PutError struct {
	Key []byte
	Err error
}

func (e *PutError) Error() string {
	return fmt.Sprintf("put %q: %v", e.Key, e.Err)
}

func (e *PutError) Unwrap() error {
	return e.Err
}

func newPutError(key []byte, err error) *PutError {
	return &PutError{Key: append([]byte(nil), key...), Err: err}
}
