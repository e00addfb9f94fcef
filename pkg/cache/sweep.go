package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultSweepConcurrency bounds parallel file deletions during a sweep.
const DefaultSweepConcurrency = 8

// SweepResult is the outcome of a sweep.
type SweepResult struct {
	// Surviving holds the entries that are still within their TTL.
	Surviving map[string]Entry

	// Removed lists the evicted keys in sorted order.
	Removed []string

	// Failed counts backing files that could not be deleted. Their entries
	// are evicted anyway.
	Failed int
}

// Sweeper evicts entries past their time-to-live and deletes their files.
type Sweeper struct {
	fs          billy.Basic
	root        string
	logger      zerolog.Logger
	concurrency int
}

// NewSweeper creates a sweeper deleting files through filesystem, whose
// root corresponds to the OS directory root.
func NewSweeper(filesystem billy.Basic, root string, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		fs:          filesystem,
		root:        root,
		logger:      logger,
		concurrency: DefaultSweepConcurrency,
	}
}

// SetConcurrency changes the number of parallel deletions.
func (s *Sweeper) SetConcurrency(n int) {
	if n > 0 {
		s.concurrency = n
	}
}

// Sweep splits entries into survivors and expired keys. Every expired
// entry's file is deleted concurrently; Sweep returns once all deletions
// finished, whether they succeeded or not.
func (s *Sweeper) Sweep(ctx context.Context, entries map[string]Entry, ttl time.Duration, now time.Time) SweepResult {
	result := SweepResult{Surviving: make(map[string]Entry, len(entries))}

	expired := make(map[string]Entry)
	for key, entry := range entries {
		if entry.Expired(ttl, now) {
			expired[key] = entry
			result.Removed = append(result.Removed, key)
			continue
		}
		result.Surviving[key] = entry
	}
	sort.Strings(result.Removed)

	var (
		mu     sync.Mutex
		failed int
	)
	eg := new(errgroup.Group)
	eg.SetLimit(s.concurrency)

	for _, key := range result.Removed {
		entry := expired[key]
		eg.Go(func() error {
			if err := s.remove(ctx, entry); err != nil {
				evictionErrors.Inc()
				s.logger.Warn().
					Err(err).
					Str("key", key).
					Str("path", entry.Path()).
					Msg("Failed to delete expired cache file")
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()

	result.Failed = failed
	evictions.Add(float64(len(result.Removed)))

	s.logger.Debug().
		Int("removed", len(result.Removed)).
		Int("surviving", len(result.Surviving)).
		Int("failed", failed).
		Dur("ttl", ttl).
		Msg("Expiry sweep finished")

	return result
}

func (s *Sweeper) remove(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrEviction, err)
	}

	rel, ok := entry.RelativeTo(s.root)
	if !ok {
		return fmt.Errorf("%w: %s is outside cache root %s", ErrEviction, entry.Path(), s.root)
	}

	if err := s.fs.Remove(rel); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: file already gone: %v", ErrEviction, err)
		}
		return fmt.Errorf("%w: %v", ErrEviction, err)
	}
	return nil
}
