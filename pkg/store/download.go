package store

import (
	"context"
	"path"
	"strconv"

	"github.com/Sternrassler/offline-image-cache/pkg/cache"
	"github.com/Sternrassler/offline-image-cache/pkg/fetch"
	"golang.org/x/sync/singleflight"
)

// startDownloadLocked starts the download of d or joins the one in flight
// for the same key and generation. s.mu must be held, so that a caller
// either joins the call or, once it completed, observes its entry.
func (s *Store) startDownloadLocked(d cache.Descriptor, key, ext string) <-chan singleflight.Result {
	gen := s.generation
	flightKey := strconv.FormatUint(gen, 10) + "/" + key
	if _, ok := s.pending[flightKey]; ok {
		coalescedDownloadsTotal.Inc()
	} else {
		s.pending[flightKey] = struct{}{}
	}

	job := downloadJob{
		descriptor: d,
		key:        key,
		flightKey:  flightKey,
		fileName:   key + ext,
		dst:        path.Join(s.namespace, key+ext),
		generation: gen,
	}

	s.wg.Add(1)
	ch := s.flight.DoChan(flightKey, func() (any, error) {
		return s.download(job)
	})

	done := make(chan singleflight.Result, 1)
	go func() {
		defer s.wg.Done()
		done <- <-ch
	}()
	return done
}

type downloadJob struct {
	descriptor cache.Descriptor
	key        string
	flightKey  string
	fileName   string
	dst        string
	generation uint64
}

// download fetches the file, records its entry and notifies subscribers.
// It returns the resolved path.
func (s *Store) download(job downloadJob) (any, error) {
	ctx := context.Background()
	d := job.descriptor

	_, err := s.fetcher.Fetch(ctx, fetch.Request{
		URI:     d.URI,
		Method:  d.FetchMethod(),
		Headers: d.Headers,
	}, job.dst)

	s.mu.Lock()
	// Later callers must start a new flight instead of joining one whose
	// subscribers were already snapshotted.
	delete(s.pending, job.flightKey)
	s.flight.Forget(job.flightKey)
	logger := s.logger

	if err != nil {
		s.mu.Unlock()
		downloadsTotal.WithLabelValues("failure").Inc()
		logger.Debug().
			Err(err).
			Str("uri", d.URI).
			Str("key", job.key).
			Msg("Download failed")
		return nil, err
	}

	if s.generation != job.generation {
		s.mu.Unlock()
		downloadsTotal.WithLabelValues("discarded").Inc()
		logger.Debug().
			Str("uri", d.URI).
			Str("key", job.key).
			Msg("Cache was reset during download, discarding result")
		return nil, ErrDiscarded
	}

	entry := s.entries.Upsert(job.key, job.fileName)
	resolved := s.resolveLocked(entry)
	regs := s.subs.snapshot(job.key)
	s.mu.Unlock()

	downloadsTotal.WithLabelValues("success").Inc()
	if err := s.entries.Persist(ctx); err != nil {
		logger.Warn().Err(err).Str("key", job.key).Msg("Failed to persist cache entries")
	}

	notify(logger, regs, resolved)
	return resolved, nil
}
