package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"lkvs/internal/index"
)

// On-device layout. Block 0 holds the superblock; records follow it back to
// back, each made of one header block and the block-padded value.
const (
	BlockSize = 4096

	superMagic  uint32 = 'L'<<24 | 'K'<<16 | 'V'<<8 | 'S'
	headerMagic uint32 = 'M'<<24 | 'E'<<16 | 'T'<<8 | 'A'
	version     uint32 = 1

	// magic, version, capacity, block size, uuid, formatted-at
	superFieldsSize = 4 + 4 + 8 + 4 + 16 + 8
	superSize       = superFieldsSize + 8

	// magic, key length, seq, value length, value sum, uuid, digest
	headerFieldsSize = 4 + 4 + 8 + 8 + 8 + 16 + 32
	headerSize       = headerFieldsSize + 8

	// MaxKeySize is the longest key that fits in a header block.
	MaxKeySize = BlockSize - headerSize

	// Values are written in chunks no larger than this.
	maxIOSize = 128 * 1024
)

type superblock struct {
	Capacity    int64
	BlockSize   uint32
	ID          uuid.UUID
	FormattedAt time.Time
}

func newSuperblock(capacity int64) superblock {
	return superblock{
		Capacity:    capacity,
		BlockSize:   BlockSize,
		ID:          uuid.New(),
		FormattedAt: time.Now(),
	}
}

func (sb superblock) encode() []byte {
	buf := make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(buf[0:], superMagic)
	binary.LittleEndian.PutUint32(buf[4:], version)
	binary.LittleEndian.PutUint64(buf[8:], uint64(sb.Capacity))
	binary.LittleEndian.PutUint32(buf[16:], sb.BlockSize)
	copy(buf[20:36], sb.ID[:])
	binary.LittleEndian.PutUint64(buf[36:], uint64(sb.FormattedAt.UnixNano()))
	binary.LittleEndian.PutUint64(buf[superFieldsSize:], xxhash.Sum64(buf[:superFieldsSize]))
	return buf
}

func decodeSuperblock(buf []byte) (superblock, error) {
	if len(buf) < superSize {
		return superblock{}, fmt.Errorf("%w: short superblock", ErrBadSuperblock)
	}
	if magic := binary.LittleEndian.Uint32(buf[0:]); magic != superMagic {
		return superblock{}, fmt.Errorf("%w: magic %#x not present", ErrBadSuperblock, magic)
	}
	if v := binary.LittleEndian.Uint32(buf[4:]); v != version {
		return superblock{}, fmt.Errorf("%w: unsupported version %d", ErrBadSuperblock, v)
	}
	if sum := binary.LittleEndian.Uint64(buf[superFieldsSize:]); sum != xxhash.Sum64(buf[:superFieldsSize]) {
		return superblock{}, fmt.Errorf("%w: checksum mismatch", ErrBadSuperblock)
	}

	var sb superblock
	sb.Capacity = int64(binary.LittleEndian.Uint64(buf[8:]))
	sb.BlockSize = binary.LittleEndian.Uint32(buf[16:])
	copy(sb.ID[:], buf[20:36])
	sb.FormattedAt = time.Unix(0, int64(binary.LittleEndian.Uint64(buf[36:])))
	return sb, nil
}

// isBlank reports whether buf is all zeros, i.e. a never-formatted device.
func isBlank(buf []byte) bool {
	return len(bytes.TrimLeft(buf, "\x00")) == 0
}

// recordHeader describes one committed put. It is written after the value,
// so a valid header means the value below it is complete.
type recordHeader struct {
	Seq      uint64
	ValueLen int64
	ValueSum uint64
	DeviceID uuid.UUID
	Digest   index.Digest
	Key      []byte
}

func (h recordHeader) encode() []byte {
	buf := make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(buf[0:], headerMagic)
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(h.Key)))
	binary.LittleEndian.PutUint64(buf[8:], h.Seq)
	binary.LittleEndian.PutUint64(buf[16:], uint64(h.ValueLen))
	binary.LittleEndian.PutUint64(buf[24:], h.ValueSum)
	copy(buf[32:48], h.DeviceID[:])
	copy(buf[48:80], h.Digest[:])
	copy(buf[headerSize:], h.Key)
	binary.LittleEndian.PutUint64(buf[headerFieldsSize:], h.checksum(buf))
	return buf
}

// checksum covers the fixed fields and the key bytes.
func (h recordHeader) checksum(buf []byte) uint64 {
	d := xxhash.New()
	d.Write(buf[:headerFieldsSize])
	d.Write(buf[headerSize : headerSize+len(h.Key)])
	return d.Sum64()
}

// decodeRecordHeader parses a header block. It returns an error for anything
// that is not a complete, self-consistent header written for device id.
func decodeRecordHeader(buf []byte, id uuid.UUID) (recordHeader, error) {
	if len(buf) != BlockSize {
		return recordHeader{}, fmt.Errorf("header block is %d bytes", len(buf))
	}
	if magic := binary.LittleEndian.Uint32(buf[0:]); magic != headerMagic {
		return recordHeader{}, fmt.Errorf("bad header magic %#x", magic)
	}
	keyLen := binary.LittleEndian.Uint32(buf[4:])
	if keyLen == 0 || keyLen > MaxKeySize {
		return recordHeader{}, fmt.Errorf("bad key length %d", keyLen)
	}

	h := recordHeader{
		Seq:      binary.LittleEndian.Uint64(buf[8:]),
		ValueLen: int64(binary.LittleEndian.Uint64(buf[16:])),
		ValueSum: binary.LittleEndian.Uint64(buf[24:]),
		Key:      append([]byte(nil), buf[headerSize:headerSize+int(keyLen)]...),
	}
	copy(h.DeviceID[:], buf[32:48])
	copy(h.Digest[:], buf[48:80])

	if sum := binary.LittleEndian.Uint64(buf[headerFieldsSize:]); sum != h.checksum(buf) {
		return recordHeader{}, fmt.Errorf("header checksum mismatch")
	}
	if h.DeviceID != id {
		return recordHeader{}, fmt.Errorf("header belongs to device %s", h.DeviceID)
	}
	if h.ValueLen < 0 {
		return recordHeader{}, fmt.Errorf("bad value length %d", h.ValueLen)
	}
	if h.Digest != index.DigestOf(h.Key) {
		return recordHeader{}, fmt.Errorf("key digest mismatch")
	}
	return h, nil
}

// recordSize is the space a value of n bytes occupies, header included.
func recordSize(n int64) int64 {
	return BlockSize + index.Align(n, BlockSize)
}
