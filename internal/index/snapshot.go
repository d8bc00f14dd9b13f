package index

import "fmt"

// Snapshot is a point-in-time copy of an index, as persisted by a
// Checkpointer.
type Snapshot struct {
	Cursor  int64
	LastSeq uint64
	Entries []Entry
}

func (ix *Index) Snapshot() Snapshot {
	return Snapshot{
		Cursor:  ix.cursor,
		LastSeq: ix.lastSeq,
		Entries: ix.Entries(),
	}
}

// Restore replaces the contents of the index with snap. Every entry must
// lie below the snapshot cursor; nothing is changed if one does not.
func (ix *Index) Restore(snap Snapshot) error {
	if snap.Cursor < ix.start || snap.Cursor > ix.capacity || snap.Cursor%ix.align != 0 {
		return fmt.Errorf("%w: snapshot cursor %d", ErrOutOfBounds, snap.Cursor)
	}
	for _, e := range snap.Entries {
		if e.Offset < ix.start || e.Length < 0 || e.End() > snap.Cursor {
			return fmt.Errorf("%w: snapshot entry [%d, %d) beyond cursor %d", ErrOutOfBounds, e.Offset, e.End(), snap.Cursor)
		}
	}

	ix.Reset()
	for _, e := range snap.Entries {
		if err := ix.Insert(e.Key, e.Offset, e.Length, e.Seq); err != nil {
			ix.Reset()
			return err
		}
	}
	ix.cursor = snap.Cursor
	if snap.LastSeq > ix.lastSeq {
		ix.lastSeq = snap.LastSeq
	}
	return nil
}
