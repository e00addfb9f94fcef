// Package cache provides the bookkeeping of the offline image cache: cache
// key derivation, the entry map mirrored to durable storage, and the
// time-to-live sweeper.
//
// # Keys
//
// A Descriptor is turned into a cache key and a file extension:
//
//	key, ext := cache.DeriveKey(cache.Descriptor{URI: "https://example.com/a.png"})
//	// key = sha256("https://example.com/a.png"), ext = ".png"
//
// An explicit ID replaces the hash, and IgnoreQueryString hashes the URI
// without its query string, so signed or versioned URLs can share an entry.
//
// # Entries
//
// EntryStore keeps cache key -> Entry in memory and mirrors the whole map
// as one JSON blob under "<namespace>:uris" in a persist.Store:
//
//	entries := cache.NewEntryStore(persister, logger)
//	entries.SetLocation("images", "/var/cache/images")
//	if err := entries.Restore(ctx); err != nil {
//		return err
//	}
//	entries.Upsert(key, key+ext)
//	_ = entries.Persist(ctx)
//
// The in-memory map is always the latest truth. A failed Persist is
// reported but never rolled back; the next successful Persist catches up.
//
// An Entry is only served while its BasePath equals the active base
// directory, so switching namespace or cache root invalidates every
// previous entry without touching its file.
//
// # Expiry
//
// Sweeper removes entries whose CreatedOn + TTL lies in the past and
// deletes their files in parallel. Deletion failures are logged and never
// keep an entry alive.
//
// # Metrics
//
//   - imgcache_entries - Current number of entries
//   - imgcache_evictions_total - Entries evicted by TTL
//   - imgcache_eviction_errors_total - Failed file deletions during eviction
//   - imgcache_persist_errors_total{operation} - Persistence failures
package cache
