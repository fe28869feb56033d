package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestMemDBBatchIsAtomic(t *testing.T) {
	db := NewMemDB()
	t.Cleanup(db.Close)

	if _, err := db.Get([]byte("missing")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	batch := db.NewBatch()
	batch.Put([]byte("a"), []byte("1"))
	batch.Put([]byte("b"), []byte("2"))
	if batch.Len() != 2 {
		t.Fatalf("unexpected batch length %d", batch.Len())
	}
	if ok, _ := db.Has([]byte("a")); ok {
		t.Fatalf("batch must not be visible before Write")
	}
	if err := db.Write(batch); err != nil {
		t.Fatalf("write: %v", err)
	}
	for key, want := range map[string]string{"a": "1", "b": "2"} {
		got, err := db.Get([]byte(key))
		if err != nil {
			t.Fatalf("get %s: %v", key, err)
		}
		if string(got) != want {
			t.Fatalf("key %s: got %q want %q", key, got, want)
		}
	}

	del := db.NewBatch()
	del.Delete([]byte("a"))
	if err := db.Write(del); err != nil {
		t.Fatalf("write delete: %v", err)
	}
	if ok, err := db.Has([]byte("a")); err != nil || ok {
		t.Fatalf("expected key a deleted, ok=%v err=%v", ok, err)
	}
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	db, err := NewLevelDB(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	batch := db.NewBatch()
	batch.Put([]byte("listing"), []byte{0x01})
	if err := db.Write(batch); err != nil {
		t.Fatalf("write: %v", err)
	}
	db.Close()

	reopened, err := NewLevelDB(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.Get([]byte("listing"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 1 || got[0] != 0x01 {
		t.Fatalf("unexpected value %x", got)
	}
}
