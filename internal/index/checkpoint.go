package index

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Checkpointer persists index snapshots between opens so the engine does not
// have to rescan the whole device. Snapshots are keyed by the device uuid.
type Checkpointer interface {
	Save(id uuid.UUID, snap Snapshot) error
	Load(id uuid.UUID) (Snapshot, bool, error)
	Close() error
}

var ErrCorruptCheckpoint = errors.New("corrupt index checkpoint")

const (
	metaSize       = 8 + 8 + 8
	entryFixedSize = 8 + 8 + 8
)

// BadgerCheckpointer stores snapshots in a badger database.
type BadgerCheckpointer struct {
	db *badger.DB
}

var _ Checkpointer = (*BadgerCheckpointer)(nil)

func NewBadgerCheckpointer(path string, inMemory bool) (*BadgerCheckpointer, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithSyncWrites(true)
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	return &BadgerCheckpointer{db: db}, nil
}

func checkpointPrefix(id uuid.UUID) []byte {
	return []byte("ckpt/" + id.String() + "/")
}

func metaKey(id uuid.UUID) []byte {
	return append(checkpointPrefix(id), "meta"...)
}

func entryPrefix(id uuid.UUID) []byte {
	return append(checkpointPrefix(id), "e/"...)
}

// Save replaces the checkpoint for id. The meta record is written last, so a
// checkpoint interrupted half way is never loaded.
func (c *BadgerCheckpointer) Save(id uuid.UUID, snap Snapshot) error {
	if err := c.db.DropPrefix(checkpointPrefix(id)); err != nil {
		return fmt.Errorf("failed to drop old checkpoint: %w", err)
	}

	wb := c.db.NewWriteBatch()
	defer wb.Cancel()

	prefix := entryPrefix(id)
	for _, e := range snap.Entries {
		digest := DigestOf(e.Key)
		key := append(append([]byte{}, prefix...), digest[:]...)
		if err := wb.Set(key, encodeEntry(e)); err != nil {
			return fmt.Errorf("failed to stage checkpoint entry: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("failed to write checkpoint entries: %w", err)
	}

	meta := make([]byte, metaSize)
	binary.LittleEndian.PutUint64(meta[0:], uint64(snap.Cursor))
	binary.LittleEndian.PutUint64(meta[8:], snap.LastSeq)
	binary.LittleEndian.PutUint64(meta[16:], uint64(len(snap.Entries)))

	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(id), meta)
	})
}

// Load returns the checkpoint for id, or false if there is none.
func (c *BadgerCheckpointer) Load(id uuid.UUID) (Snapshot, bool, error) {
	var snap Snapshot
	var found bool

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		meta, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if len(meta) != metaSize {
			return fmt.Errorf("%w: meta record is %d bytes", ErrCorruptCheckpoint, len(meta))
		}
		snap.Cursor = int64(binary.LittleEndian.Uint64(meta[0:]))
		snap.LastSeq = binary.LittleEndian.Uint64(meta[8:])
		count := binary.LittleEndian.Uint64(meta[16:])

		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 100
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := entryPrefix(id)
		snap.Entries = make([]Entry, 0, count)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			e, err := decodeEntry(value)
			if err != nil {
				return err
			}
			snap.Entries = append(snap.Entries, e)
		}
		if uint64(len(snap.Entries)) != count {
			return fmt.Errorf("%w: expected %d entries, found %d", ErrCorruptCheckpoint, count, len(snap.Entries))
		}
		found = true
		return nil
	})
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return snap, found, nil
}

// Discard removes the checkpoint for id.
func (c *BadgerCheckpointer) Discard(id uuid.UUID) error {
	return c.db.DropPrefix(checkpointPrefix(id))
}

func (c *BadgerCheckpointer) Close() error {
	return c.db.Close()
}

func encodeEntry(e Entry) []byte {
	buf := make([]byte, entryFixedSize+len(e.Key))
	binary.LittleEndian.PutUint64(buf[0:], uint64(e.Offset))
	binary.LittleEndian.PutUint64(buf[8:], uint64(e.Length))
	binary.LittleEndian.PutUint64(buf[16:], e.Seq)
	copy(buf[entryFixedSize:], e.Key)
	return buf
}

func decodeEntry(buf []byte) (Entry, error) {
	if len(buf) <= entryFixedSize {
		return Entry{}, fmt.Errorf("%w: entry record is %d bytes", ErrCorruptCheckpoint, len(buf))
	}
	key := make([]byte, len(buf)-entryFixedSize)
	copy(key, buf[entryFixedSize:])
	return Entry{
		Key:    key,
		Offset: int64(binary.LittleEndian.Uint64(buf[0:])),
		Length: int64(binary.LittleEndian.Uint64(buf[8:])),
		Seq:    binary.LittleEndian.Uint64(buf[16:]),
	}, nil
}
