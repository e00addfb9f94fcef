// Package store resolves remote images to local files.
//
// A Store keeps one file per cache key below <cache root>/<namespace>,
// records it in a persisted entry map and notifies subscribers when the file
// is available. Concurrent requests for the same key share one download.
// Entries older than the configured time-to-live are evicted by Restore.
//
// Usage:
//
//	s, err := store.New(store.Options{
//		CacheRoot: cacheDir,
//		Persister: db,
//	})
//	if err != nil {
//		return err
//	}
//	if err := s.Restore(ctx, store.Config{Name: "images"}); err != nil {
//		return err
//	}
//	sub, err := s.Subscribe(ctx, cache.Descriptor{URI: uri}, func(uri, path string) {
//		render(path)
//	}, store.SubscribeOptions{})
//	defer s.Unsubscribe(sub)
package store
