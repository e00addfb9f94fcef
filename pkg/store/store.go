package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/Sternrassler/offline-image-cache/pkg/cache"
	"github.com/Sternrassler/offline-image-cache/pkg/fetch"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// fileScheme is prepended to resolved paths when Config.FileScheme is set.
const fileScheme = "file://"

// Store resolves remote resources to local files, downloading each one at
// most once and notifying subscribers when a file becomes available.
type Store struct {
	fs       billy.Filesystem
	root     string
	fetcher  Fetcher
	http     *fetch.HTTPFetcher
	entries  *cache.EntryStore
	flight   singleflight.Group
	base     zerolog.Logger
	now      func() time.Time
	sweepers int

	mu         sync.Mutex
	subs       *registry
	pending    map[string]struct{}
	logger     zerolog.Logger
	namespace  string
	baseDir    string
	ttl        time.Duration
	fileScheme bool
	restored   bool
	generation uint64

	wg sync.WaitGroup
}

// Stats is a point-in-time view of the store.
type Stats struct {
	Namespace     string `json:"namespace"`
	BaseDir       string `json:"baseDir"`
	TTL           string `json:"ttl"`
	Entries       int    `json:"entries"`
	Subscriptions int    `json:"subscriptions"`
	InFlight      int    `json:"inFlight"`
	Restored      bool   `json:"restored"`
}

// New creates a store. Restore must be called before resources can be
// subscribed to.
func New(opts Options) (*Store, error) {
	root, err := absRoot(opts.CacheRoot)
	if err != nil {
		return nil, err
	}
	if opts.Persister == nil {
		return nil, errors.New("persister cannot be nil")
	}

	filesystem := opts.Filesystem
	if filesystem == nil {
		filesystem = osfs.New(root)
	}

	logger := log.With().Str("component", "image-store").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	var httpFetcher *fetch.HTTPFetcher
	fetcher := opts.Fetcher
	if fetcher == nil {
		cfg := opts.Fetch
		if cfg.Timeout == 0 && cfg.UserAgent == "" && cfg.Retry.MaxAttempts == 0 {
			cfg = fetch.DefaultConfig()
		}
		httpFetcher = fetch.NewHTTPFetcher(filesystem, cfg)
		httpFetcher.SetLogger(fetcherLogger(logger, false))
		fetcher = httpFetcher
	}

	entries := cache.NewEntryStore(opts.Persister, logger)
	entries.SetClock(now)

	return &Store{
		fs:       filesystem,
		root:     root,
		fetcher:  fetcher,
		http:     httpFetcher,
		entries:  entries,
		base:     logger,
		now:      now,
		sweepers: opts.SweepConcurrency,
		subs:     newRegistry(),
		pending:  make(map[string]struct{}),
		logger:   logger.Level(zerolog.InfoLevel),
		ttl:      DefaultTTL,
	}, nil
}

// Restore applies cfg, loads the persisted entries of the namespace, evicts
// expired ones and persists the result once. Subscribe and Prefetch fail
// with ErrNotRestored until Restore returned successfully.
func (s *Store) Restore(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := zerolog.InfoLevel
	if cfg.DebugMode {
		level = zerolog.DebugLevel
	}
	logger := s.base.Level(level)
	baseDir := filepath.Join(s.root, cfg.Name)
	ttl := cfg.TTL()

	s.mu.Lock()
	s.restored = false
	s.generation++
	s.logger = logger
	s.namespace = cfg.Name
	s.baseDir = baseDir
	s.ttl = ttl
	s.fileScheme = cfg.FileScheme
	s.mu.Unlock()

	s.entries.SetLogger(logger)
	s.entries.SetLocation(cfg.Name, baseDir)
	if s.http != nil {
		s.http.SetLogger(fetcherLogger(s.base, cfg.DebugMode))
	}
	if err := s.entries.Restore(ctx); err != nil {
		return fmt.Errorf("restore cache entries: %w", err)
	}

	sweeper := cache.NewSweeper(s.fs, s.root, logger)
	sweeper.SetConcurrency(s.sweepers)
	result := sweeper.Sweep(ctx, s.entries.All(), ttl, s.now())
	for _, key := range result.Removed {
		s.entries.Remove(key)
	}

	if err := s.entries.Persist(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to persist cache entries after restore")
	}

	s.mu.Lock()
	s.restored = true
	s.mu.Unlock()

	logger.Info().
		Str("namespace", cfg.Name).
		Str("base_dir", baseDir).
		Dur("ttl", ttl).
		Int("entries", len(result.Surviving)).
		Int("evicted", len(result.Removed)).
		Msg("Image cache restored")
	return nil
}

// Subscribe registers handler for the resource described by d. A valid
// cached file notifies handler synchronously before Subscribe returns;
// otherwise a background download is started or joined and every handler
// of the resource is notified once it succeeds. Failed downloads are
// silent.
func (s *Store) Subscribe(ctx context.Context, d cache.Descriptor, handler Handler, opts SubscribeOptions) (Subscription, error) {
	if handler == nil {
		return Subscription{}, ErrNilHandler
	}
	if err := d.Validate(); err != nil {
		return Subscription{}, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	if err := ctx.Err(); err != nil {
		return Subscription{}, err
	}
	key, ext := cache.DeriveKey(d)

	s.mu.Lock()
	if !s.restored {
		s.mu.Unlock()
		return Subscription{}, ErrNotRestored
	}

	reg := s.subs.add(key, d.URI, handler)
	sub := Subscription{Token: reg.token, Key: key, URI: d.URI}
	logger := s.logger

	var path string
	entry, found := s.entries.Get(key)
	valid := found && entry.ValidFor(s.baseDir)
	switch {
	case valid:
		lookupsTotal.WithLabelValues("hit").Inc()
		path = s.resolveLocked(entry)
	case found:
		lookupsTotal.WithLabelValues("stale_namespace").Inc()
		s.startDownloadLocked(d, key, ext)
	default:
		lookupsTotal.WithLabelValues("miss").Inc()
		s.startDownloadLocked(d, key, ext)
	}
	s.mu.Unlock()

	if !valid {
		logger.Debug().
			Str("uri", d.URI).
			Str("key", key).
			Bool("stale_namespace", found).
			Msg("Cache miss, downloading")
		return sub, nil
	}

	invoke(logger, reg, path)

	if opts.Reload {
		s.mu.Lock()
		if s.restored {
			s.startDownloadLocked(d, key, ext)
		}
		s.mu.Unlock()
	}
	return sub, nil
}

// Unsubscribe removes exactly the registration of sub.
func (s *Store) Unsubscribe(sub Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs.remove(sub.Token)
}

// UnsubscribeAll removes every handler registered for the identity and URI
// of d and returns how many were removed.
func (s *Store) UnsubscribeAll(d cache.Descriptor) int {
	key := d.Key()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs.removeURI(key, d.URI)
}

// GetCachedPath returns the resolved local path of d when a file for it
// was downloaded into the current base directory. It never downloads.
func (s *Store) GetCachedPath(d cache.Descriptor) (string, bool) {
	key := d.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries.Get(key)
	if !ok || !entry.ValidFor(s.baseDir) {
		return "", false
	}
	return s.resolveLocked(entry), true
}

// ClearStore deletes the base directory with every cached file, empties
// the entry map and persists the empty map. Downloads in flight are
// discarded when they finish.
func (s *Store) ClearStore(ctx context.Context) error {
	s.mu.Lock()
	if !s.restored {
		s.mu.Unlock()
		return ErrNotRestored
	}
	s.generation++
	s.entries.Clear()
	err := util.RemoveAll(s.fs, s.namespace)
	logger := s.logger
	baseDir := s.baseDir
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("remove %s: %w", baseDir, err)
	}
	if err := s.entries.Persist(ctx); err != nil {
		return err
	}

	logger.Info().Str("base_dir", baseDir).Msg("Image cache cleared")
	return nil
}

// Prefetch makes d available locally and returns its resolved path. A
// valid entry is returned as is; otherwise the download is started or
// joined and awaited. Subscribers of d are notified as with Subscribe.
func (s *Store) Prefetch(ctx context.Context, d cache.Descriptor) (string, error) {
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	key, ext := cache.DeriveKey(d)

	s.mu.Lock()
	if !s.restored {
		s.mu.Unlock()
		return "", ErrNotRestored
	}
	if entry, ok := s.entries.Get(key); ok && entry.ValidFor(s.baseDir) {
		lookupsTotal.WithLabelValues("hit").Inc()
		path := s.resolveLocked(entry)
		s.mu.Unlock()
		return path, nil
	}
	lookupsTotal.WithLabelValues("miss").Inc()
	done := s.startDownloadLocked(d, key, ext)
	s.mu.Unlock()

	select {
	case res := <-done:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Wait blocks until every background download has finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

// Stats returns a point-in-time view of the store.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Namespace:     s.namespace,
		BaseDir:       s.baseDir,
		TTL:           s.ttl.String(),
		Entries:       s.entries.Len(),
		Subscriptions: s.subs.len(),
		InFlight:      len(s.pending),
		Restored:      s.restored,
	}
}

// fetcherLogger silences attempt and retry logging outside debug mode, since
// download failures are only reported there.
func fetcherLogger(base zerolog.Logger, debug bool) zerolog.Logger {
	level := zerolog.ErrorLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return base.Level(level).With().Str("component", "fetcher").Logger()
}

func (s *Store) resolveLocked(entry cache.Entry) string {
	path := entry.Path()
	if s.fileScheme {
		return fileScheme + filepath.ToSlash(path)
	}
	return path
}
