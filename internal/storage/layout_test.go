package storage

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"lkvs/internal/index"
)

func TestSuperblock_Decode(t *testing.T) {
	sb := newSuperblock(1 << 20)
	good := sb.encode()

	decoded, err := decodeSuperblock(good)
	if err != nil {
		t.Fatalf("decodeSuperblock() error = %v", err)
	}
	if decoded.ID != sb.ID || decoded.Capacity != sb.Capacity || !decoded.FormattedAt.Equal(sb.FormattedAt) {
		t.Errorf("decodeSuperblock() = %+v, want %+v", decoded, sb)
	}

	tests := []struct {
		name   string
		mangle func(buf []byte)
	}{
		{"zeroed", func(buf []byte) { clear(buf) }},
		{"bad magic", func(buf []byte) { buf[0] ^= 0xff }},
		{"bad version", func(buf []byte) { buf[4] = 9 }},
		{"flipped capacity", func(buf []byte) { buf[8] ^= 0x01 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := append([]byte(nil), good...)
			tt.mangle(buf)
			if _, err := decodeSuperblock(buf); !errors.Is(err, ErrBadSuperblock) {
				t.Errorf("Expected ErrBadSuperblock, got %v", err)
			}
		})
	}
}

func TestRecordHeader_Decode(t *testing.T) {
	id := uuid.New()
	key := []byte("Hello")
	h := recordHeader{
		Seq:      7,
		ValueLen: 5,
		ValueSum: 42,
		DeviceID: id,
		Digest:   index.DigestOf(key),
		Key:      key,
	}
	good := h.encode()

	decoded, err := decodeRecordHeader(good, id)
	if err != nil {
		t.Fatalf("decodeRecordHeader() error = %v", err)
	}
	if decoded.Seq != 7 || decoded.ValueLen != 5 || string(decoded.Key) != "Hello" {
		t.Errorf("decodeRecordHeader() = %+v", decoded)
	}

	tests := []struct {
		name   string
		id     uuid.UUID
		mangle func(buf []byte)
	}{
		{"zeroed block", id, func(buf []byte) { clear(buf) }},
		{"other device", uuid.New(), func([]byte) {}},
		{"flipped seq", id, func(buf []byte) { buf[8] ^= 0x01 }},
		{"flipped key byte", id, func(buf []byte) { buf[headerSize] ^= 0x01 }},
		{"oversized key length", id, func(buf []byte) { buf[5] = 0xff }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := append([]byte(nil), good...)
			tt.mangle(buf)
			if _, err := decodeRecordHeader(buf, tt.id); err == nil {
				t.Error("Expected header to be rejected")
			}
		})
	}
}

func TestRecordSize(t *testing.T) {
	tests := []struct {
		valueLen int64
		want     int64
	}{
		{0, BlockSize},
		{1, 2 * BlockSize},
		{BlockSize, 2 * BlockSize},
		{BlockSize + 1, 3 * BlockSize},
	}
	for _, tt := range tests {
		if got := recordSize(tt.valueLen); got != tt.want {
			t.Errorf("recordSize(%d) = %d, want %d", tt.valueLen, got, tt.want)
		}
	}
}
