package index

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func TestBadgerCheckpointer_SaveLoad(t *testing.T) {
	tests := []struct {
		name     string
		inMemory bool
	}{
		{"in-memory", true},
		{"on-disk", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := ""
			if !tt.inMemory {
				path = filepath.Join(t.TempDir(), "checkpoint")
			}
			cp, err := NewBadgerCheckpointer(path, tt.inMemory)
			if err != nil {
				t.Fatalf("NewBadgerCheckpointer() error = %v", err)
			}
			defer cp.Close()

			id := uuid.New()
			if _, ok, err := cp.Load(id); err != nil || ok {
				t.Fatalf("Load() on empty store = ok %v, err %v", ok, err)
			}

			snap := Snapshot{
				Cursor:  3 * 8192,
				LastSeq: 7,
				Entries: []Entry{
					{Key: []byte("a"), Offset: 8192, Length: 3, Seq: 5},
					{Key: []byte("b"), Offset: 16384 + 4096, Length: 4096, Seq: 7},
				},
			}
			if err := cp.Save(id, snap); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			got, ok, err := cp.Load(id)
			if err != nil || !ok {
				t.Fatalf("Load() = ok %v, err %v", ok, err)
			}
			if got.Cursor != snap.Cursor || got.LastSeq != snap.LastSeq || len(got.Entries) != 2 {
				t.Fatalf("Load() = %+v", got)
			}

			ix, _ := New(4096, 1<<20, 4096)
			if err := ix.Restore(got); err != nil {
				t.Fatalf("Restore() error = %v", err)
			}
			e, found := ix.Lookup([]byte("b"))
			if !found || e.Offset != 16384+4096 || e.Length != 4096 {
				t.Errorf("Lookup(b) = %+v, %v", e, found)
			}

			// Another device never sees this checkpoint.
			if _, ok, _ := cp.Load(uuid.New()); ok {
				t.Error("Load() returned a checkpoint for an unrelated device")
			}

			// Saving again replaces, not merges.
			if err := cp.Save(id, Snapshot{Cursor: 4096}); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			got, ok, _ = cp.Load(id)
			if !ok || len(got.Entries) != 0 || got.Cursor != 4096 {
				t.Errorf("Load() after replace = %+v", got)
			}

			if err := cp.Discard(id); err != nil {
				t.Fatalf("Discard() error = %v", err)
			}
			if _, ok, _ := cp.Load(id); ok {
				t.Error("Load() found a discarded checkpoint")
			}
		})
	}
}
