package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/offline-image-cache/pkg/persist"
	"github.com/rs/zerolog"
)

// failingStore is a persist.Store whose writes always fail.
type failingStore struct {
	persist.Store
	err error
}

func (f *failingStore) Set(ctx context.Context, key string, value []byte) error {
	return f.err
}

func newTestEntryStore(t *testing.T) (*EntryStore, *persist.LevelDBStore) {
	t.Helper()

	backend, err := persist.OpenMemLevelDB()
	if err != nil {
		t.Fatalf("OpenMemLevelDB failed: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	store := NewEntryStore(backend, zerolog.Nop())
	store.SetLocation("images", "/cache/images")
	return store, backend
}

func TestNewEntryStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewEntryStore should panic with nil persister")
		}
	}()
	NewEntryStore(nil, zerolog.Nop())
}

func TestEntryStore_UpsertPreservesCreatedOn(t *testing.T) {
	store, _ := newTestEntryStore(t)

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return first })
	created := store.Upsert("logo", "logo.png")

	if !created.CreatedOn.Equal(first) {
		t.Errorf("CreatedOn = %v, want %v", created.CreatedOn, first)
	}
	if created.BasePath != "/cache/images" {
		t.Errorf("BasePath = %v, want /cache/images", created.BasePath)
	}

	store.SetClock(func() time.Time { return first.Add(48 * time.Hour) })
	store.SetLocation("avatars", "/cache/avatars")
	updated := store.Upsert("logo", "logo.webp")

	if !updated.CreatedOn.Equal(first) {
		t.Errorf("CreatedOn changed on re-download: %v", updated.CreatedOn)
	}
	if updated.BasePath != "/cache/avatars" {
		t.Errorf("BasePath = %v, want /cache/avatars", updated.BasePath)
	}
	if updated.LocalFileName != "logo.webp" {
		t.Errorf("LocalFileName = %v, want logo.webp", updated.LocalFileName)
	}
}

func TestEntryStore_PersistAndRestore(t *testing.T) {
	store, backend := newTestEntryStore(t)
	ctx := context.Background()

	store.Upsert("a", "a.png")
	store.Upsert("b", "b.jpg")
	if err := store.Persist(ctx); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	raw, err := backend.Get(ctx, "images:uris")
	if err != nil {
		t.Fatalf("blob not written under images:uris: %v", err)
	}
	var decoded map[string]map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("blob is not JSON: %v", err)
	}
	for _, field := range []string{"createdOn", "basePath", "localFileName"} {
		if _, ok := decoded["a"][field]; !ok {
			t.Errorf("persisted entry misses field %q: %s", field, raw)
		}
	}

	restored := NewEntryStore(backend, zerolog.Nop())
	restored.SetLocation("images", "/cache/images")
	if err := restored.Restore(ctx); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if restored.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", restored.Len())
	}
	entry, ok := restored.Get("b")
	if !ok {
		t.Fatal("entry b missing after restore")
	}
	if entry.LocalFileName != "b.jpg" || entry.BasePath != "/cache/images" {
		t.Errorf("restored entry = %+v", entry)
	}
}

func TestEntryStore_RestoreMissingBlob(t *testing.T) {
	store, _ := newTestEntryStore(t)
	store.Upsert("stale", "stale.png")

	if err := store.Restore(context.Background()); err != nil {
		t.Fatalf("Restore without blob should not fail: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0", store.Len())
	}
}

func TestEntryStore_RestoreCorruptBlob(t *testing.T) {
	store, backend := newTestEntryStore(t)
	ctx := context.Background()

	if err := backend.Set(ctx, "images:uris", []byte("{not json")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Restore(ctx); err != nil {
		t.Fatalf("Restore with corrupt blob should not fail: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0", store.Len())
	}
}

func TestEntryStore_PersistFailureKeepsMemory(t *testing.T) {
	backend, err := persist.OpenMemLevelDB()
	if err != nil {
		t.Fatalf("OpenMemLevelDB failed: %v", err)
	}
	defer backend.Close()

	cause := errors.New("disk full")
	store := NewEntryStore(&failingStore{Store: backend, err: cause}, zerolog.Nop())
	store.SetLocation("images", "/cache/images")
	store.Upsert("a", "a.png")

	err = store.Persist(context.Background())
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("Persist error = %v, want ErrPersist", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("Persist error should wrap the cause, got %v", err)
	}

	var perr *PersistError
	if !errors.As(err, &perr) || perr.Key != "images:uris" || perr.Operation != "set" {
		t.Errorf("unexpected PersistError: %+v", perr)
	}

	if _, ok := store.Get("a"); !ok {
		t.Error("in-memory entry must survive a persistence failure")
	}
}

func TestEntryStore_AllReturnsSnapshot(t *testing.T) {
	store, _ := newTestEntryStore(t)
	store.Upsert("a", "a.png")

	snapshot := store.All()
	delete(snapshot, "a")

	if _, ok := store.Get("a"); !ok {
		t.Error("mutating a snapshot must not affect the store")
	}
}

func TestEntryStore_RemoveAndClear(t *testing.T) {
	store, _ := newTestEntryStore(t)
	store.Upsert("a", "a.png")
	store.Upsert("b", "b.png")

	store.Remove("a")
	if _, ok := store.Get("a"); ok {
		t.Error("entry a should be removed")
	}

	store.Clear()
	if store.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", store.Len())
	}
}

func TestPersistenceKey(t *testing.T) {
	if got := PersistenceKey("images"); got != "images:uris" {
		t.Errorf("PersistenceKey() = %q, want images:uris", got)
	}
}

func TestEntryStore_SetLocation(t *testing.T) {
	store, _ := newTestEntryStore(t)
	if store.BaseDir() != "/cache/images" || store.PersistenceKey() != "images:uris" {
		t.Fatalf("initial location = %q, %q", store.BaseDir(), store.PersistenceKey())
	}

	store.SetLocation("avatars", "/cache/avatars")
	if got := store.BaseDir(); got != "/cache/avatars" {
		t.Errorf("BaseDir() = %q, want /cache/avatars", got)
	}
	if got := store.PersistenceKey(); got != "avatars:uris" {
		t.Errorf("PersistenceKey() = %q, want avatars:uris", got)
	}
	if e := store.Upsert("k", "k.png"); e.BasePath != "/cache/avatars" {
		t.Errorf("Upsert recorded BasePath %q", e.BasePath)
	}
}
