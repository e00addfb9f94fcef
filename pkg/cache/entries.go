package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Sternrassler/offline-image-cache/pkg/persist"
	"github.com/rs/zerolog"
)

// PersistenceKey returns the durable storage key for a namespace.
func PersistenceKey(namespace string) string {
	return namespace + ":uris"
}

// EntryStore is the authoritative in-memory map of cache key to Entry,
// mirrored to a persist.Store as one JSON blob.
type EntryStore struct {
	persister persist.Store
	logger    zerolog.Logger
	now       func() time.Time

	mu        sync.RWMutex
	entries   map[string]Entry
	namespace string
	baseDir   string

	// writeMu serializes Persist so the last write carries the newest map.
	writeMu sync.Mutex
}

// NewEntryStore creates an empty entry store backed by persister.
func NewEntryStore(persister persist.Store, logger zerolog.Logger) *EntryStore {
	if persister == nil {
		panic("persister cannot be nil")
	}
	return &EntryStore{
		persister: persister,
		logger:    logger,
		now:       time.Now,
		entries:   make(map[string]Entry),
	}
}

// SetClock replaces the time source used for CreatedOn.
func (s *EntryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetLogger replaces the logger.
func (s *EntryStore) SetLogger(logger zerolog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetLocation sets the namespace (persistence key) and the base directory
// new entries are recorded under.
func (s *EntryStore) SetLocation(namespace, baseDir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.namespace = namespace
	s.baseDir = baseDir
}

// BaseDir returns the current base directory.
func (s *EntryStore) BaseDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.baseDir
}

// PersistenceKey returns the durable storage key of the current namespace.
func (s *EntryStore) PersistenceKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return PersistenceKey(s.namespace)
}

// Get returns the entry for key.
func (s *EntryStore) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	return entry, ok
}

// Upsert records localFileName under the current base directory. CreatedOn
// of an existing entry is preserved.
func (s *EntryStore) Upsert(key, localFileName string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.CreatedOn.IsZero() {
		entry.CreatedOn = s.now()
	}
	entry.BasePath = s.baseDir
	entry.LocalFileName = localFileName
	s.entries[key] = entry

	cacheEntries.Set(float64(len(s.entries)))
	return entry
}

// Remove deletes the entry for key.
func (s *EntryStore) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	cacheEntries.Set(float64(len(s.entries)))
}

// All returns a snapshot of every entry.
func (s *EntryStore) All() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Len returns the number of entries.
func (s *EntryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Replace swaps the whole map, e.g. with the survivors of a sweep.
func (s *EntryStore) Replace(entries map[string]Entry) {
	next := make(map[string]Entry, len(entries))
	for k, v := range entries {
		next[k] = v
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = next
	cacheEntries.Set(float64(len(s.entries)))
}

// Clear empties the map.
func (s *EntryStore) Clear() {
	s.Replace(nil)
}

// Persist writes the full map under "<namespace>:uris". A failure is
// returned as *PersistError and leaves the in-memory map untouched.
func (s *EntryStore) Persist(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	key := PersistenceKey(s.namespace)
	snapshot := s.snapshotLocked()
	logger := s.logger
	s.mu.RUnlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		persistErrors.WithLabelValues("marshal").Inc()
		return &PersistError{Key: key, Operation: "marshal", Err: err}
	}

	if err := s.persister.Set(ctx, key, data); err != nil {
		persistErrors.WithLabelValues("set").Inc()
		return &PersistError{Key: key, Operation: "set", Err: err}
	}

	logger.Debug().
		Str("key", key).
		Int("entries", len(snapshot)).
		Msg("Persisted cache entries")
	return nil
}

// Restore loads the persisted map, replacing the in-memory one. A missing
// blob means an empty cache. A corrupt blob is logged and also treated as
// empty.
func (s *EntryStore) Restore(ctx context.Context) error {
	s.mu.RLock()
	key := PersistenceKey(s.namespace)
	logger := s.logger
	s.mu.RUnlock()

	data, err := s.persister.Get(ctx, key)
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			logger.Debug().Str("key", key).Msg("No persisted cache entries, starting empty")
			s.Clear()
			return nil
		}
		persistErrors.WithLabelValues("get").Inc()
		return &PersistError{Key: key, Operation: "get", Err: err}
	}

	entries := make(map[string]Entry)
	if err := json.Unmarshal(data, &entries); err != nil {
		persistErrors.WithLabelValues("unmarshal").Inc()
		logger.Warn().
			Err(err).
			Str("key", key).
			Msg("Persisted cache entries are corrupt, starting empty")
		entries = nil
	}

	s.Replace(entries)
	logger.Debug().
		Str("key", key).
		Int("entries", len(entries)).
		Msg("Restored cache entries")
	return nil
}

func (s *EntryStore) snapshotLocked() map[string]Entry {
	out := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}
