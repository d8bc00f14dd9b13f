// Package index maps keys to their location on the device and hands out
// device space with a bump allocator.
package index

import (
	"errors"
	"fmt"

	"github.com/zeebo/blake3"
)

var (
	ErrOutOfSpace   = errors.New("out of space")
	ErrOutOfBounds  = errors.New("entry outside device bounds")
	ErrInvalidAlign = errors.New("invalid alignment")
)

// Digest is the blake3-256 hash of a key. Entries are indexed by digest so
// map keys stay fixed size whatever the key length.
type Digest [32]byte

func DigestOf(key []byte) Digest {
	return blake3.Sum256(key)
}

// Entry locates one committed value on the device.
type Entry struct {
	Key    []byte
	Offset int64
	Length int64
	Seq    uint64
}

// End returns the first byte after the value.
func (e Entry) End() int64 {
	return e.Offset + e.Length
}

// Index is the in-memory key index. It is not safe for concurrent use.
type Index struct {
	entries  map[Digest]Entry
	start    int64
	capacity int64
	align    int64
	cursor   int64
	lastSeq  uint64
}

// New creates an empty index whose allocator covers [start, capacity).
// Every allocation is rounded up to a multiple of align.
func New(start, capacity, align int64) (*Index, error) {
	if align <= 0 || start%align != 0 {
		return nil, fmt.Errorf("%w: start=%d align=%d", ErrInvalidAlign, start, align)
	}
	if start < 0 || start > capacity {
		return nil, fmt.Errorf("%w: start %d beyond capacity %d", ErrOutOfBounds, start, capacity)
	}
	return &Index{
		entries:  make(map[Digest]Entry),
		start:    start,
		capacity: capacity,
		align:    align,
		cursor:   start,
	}, nil
}

// Lookup returns the entry for key, if any.
func (ix *Index) Lookup(key []byte) (Entry, bool) {
	e, ok := ix.entries[DigestOf(key)]
	return e, ok
}

// Insert records key at [offset, offset+length), replacing any earlier entry.
func (ix *Index) Insert(key []byte, offset, length int64, seq uint64) error {
	if offset < ix.start || length < 0 || offset > ix.capacity || length > ix.capacity-offset {
		return fmt.Errorf("%w: [%d, %d) not within [%d, %d)", ErrOutOfBounds, offset, offset+length, ix.start, ix.capacity)
	}
	k := make([]byte, len(key))
	copy(k, key)
	ix.entries[DigestOf(key)] = Entry{Key: k, Offset: offset, Length: length, Seq: seq}
	if seq > ix.lastSeq {
		ix.lastSeq = seq
	}
	return nil
}

// Allocate reserves length bytes (rounded up to the alignment) and returns
// the offset of the reservation. The cursor only moves forward.
func (ix *Index) Allocate(length int64) (int64, error) {
	if length <= 0 {
		return 0, fmt.Errorf("invalid allocation length: %d", length)
	}
	size := Align(length, ix.align)
	if size > ix.capacity-ix.cursor {
		return 0, fmt.Errorf("%w: need %d bytes, %d remaining", ErrOutOfSpace, size, ix.Remaining())
	}
	offset := ix.cursor
	ix.cursor += size
	return offset, nil
}

// Rewind undoes the most recent allocation when its write failed, so the
// records on the device stay contiguous. It reports whether it rewound.
func (ix *Index) Rewind(offset, length int64) bool {
	if offset+Align(length, ix.align) != ix.cursor || offset < ix.start {
		return false
	}
	ix.cursor = offset
	return true
}

// Advance moves the cursor to offset; used while replaying records found on
// the device.
func (ix *Index) Advance(offset int64) error {
	if offset < ix.cursor || offset > ix.capacity || offset%ix.align != 0 {
		return fmt.Errorf("%w: cannot advance cursor from %d to %d", ErrOutOfBounds, ix.cursor, offset)
	}
	ix.cursor = offset
	return nil
}

func (ix *Index) Len() int         { return len(ix.entries) }
func (ix *Index) Capacity() int64  { return ix.capacity }
func (ix *Index) Cursor() int64    { return ix.cursor }
func (ix *Index) LastSeq() uint64  { return ix.lastSeq }
func (ix *Index) Remaining() int64 { return ix.capacity - ix.cursor }
func (ix *Index) Used() int64      { return ix.cursor - ix.start }

// Entries returns a copy of all live entries.
func (ix *Index) Entries() []Entry {
	out := make([]Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		out = append(out, e)
	}
	return out
}

// Reset drops all entries and moves the cursor back to the start.
func (ix *Index) Reset() {
	ix.entries = make(map[Digest]Entry)
	ix.cursor = ix.start
	ix.lastSeq = 0
}

// Align rounds n up to a multiple of align.
func Align(n, align int64) int64 {
	if r := n % align; r != 0 {
		return n + align - r
	}
	return n
}
