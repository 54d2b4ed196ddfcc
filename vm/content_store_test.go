package vm

import (
	"bytes"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *ContentStore {
	t.Helper()
	store, err := OpenContentStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestContentStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	hash := HashSource([]byte(`print 1;`))
	image := []byte("image-bytes")

	if err := store.Put(hash, "session-1", 1700000000, image); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, found, err := store.Get(hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found {
		t.Fatal("stored image not found")
	}
	if !bytes.Equal(got, image) {
		t.Errorf("image = %q, want %q", got, image)
	}
}

func TestContentStoreMiss(t *testing.T) {
	store := openTestStore(t)
	_, found, err := store.Get(HashSource([]byte("never stored")))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if found {
		t.Fatal("unexpected hit for unknown hash")
	}
}

func TestContentStoreUpsert(t *testing.T) {
	store := openTestStore(t)
	hash := HashSource([]byte("source"))

	if err := store.Put(hash, "first", 1, []byte("old")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(hash, "second", 2, []byte("new")); err != nil {
		t.Fatal(err)
	}

	got, found, err := store.Get(hash)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if string(got) != "new" {
		t.Errorf("image = %q after upsert", got)
	}

	n, err := store.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestContentStoreDistinctHashes(t *testing.T) {
	store := openTestStore(t)
	a := HashSource([]byte("program a"))
	b := HashSource([]byte("program b"))
	if a == b {
		t.Fatal("distinct sources must hash differently")
	}

	if err := store.Put(a, "s", 1, []byte("A")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(b, "s", 1, []byte("B")); err != nil {
		t.Fatal(err)
	}

	n, err := store.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
}

func TestContentStorePersistsAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "cache.db")
	hash := HashSource([]byte("persisted"))

	store, err := OpenContentStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Put(hash, "s", 1, []byte("payload")); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := OpenContentStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, found, err := reopened.Get(hash)
	if err != nil || !found {
		t.Fatalf("get after reopen: found=%v err=%v", found, err)
	}
	if string(got) != "payload" {
		t.Errorf("image = %q", got)
	}
}
