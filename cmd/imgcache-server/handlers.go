package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/offline-image-cache/pkg/cache"
	"github.com/Sternrassler/offline-image-cache/pkg/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// pinger is implemented by persistence backends with a liveness check.
type pinger interface {
	Ping(ctx context.Context) error
}

type server struct {
	store          *store.Store
	persister      any
	resolveTimeout time.Duration
	logger         zerolog.Logger
}

type pathResponse struct {
	URI  string `json:"uri"`
	Path string `json:"path"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newServer(s *store.Store, persister any, resolveTimeout time.Duration, logger zerolog.Logger) *server {
	return &server{
		store:          s,
		persister:      persister,
		resolveTimeout: resolveTimeout,
		logger:         logger,
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", s.readyHandler)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/path", s.pathHandler)
	mux.HandleFunc("GET /v1/resolve", s.resolveHandler)
	mux.HandleFunc("POST /v1/prefetch", s.prefetchHandler)
	mux.HandleFunc("DELETE /v1/cache", s.clearHandler)
	mux.HandleFunc("GET /v1/stats", s.statsHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if !s.store.Stats().Restored {
		http.Error(w, "store not restored", http.StatusServiceUnavailable)
		return
	}

	if p, ok := s.persister.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			http.Error(w, "persistence unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// GET /v1/path?uri=...: cached path, never downloads.
func (s *server) pathHandler(w http.ResponseWriter, r *http.Request) {
	d, ok := s.descriptor(w, r)
	if !ok {
		return
	}

	path, found := s.store.GetCachedPath(d)
	if !found {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "not cached"})
		return
	}
	s.writeJSON(w, http.StatusOK, pathResponse{URI: d.URI, Path: path})
}

// GET /v1/resolve?uri=...: subscribes and waits for the first notification.
func (s *server) resolveHandler(w http.ResponseWriter, r *http.Request) {
	d, ok := s.descriptor(w, r)
	if !ok {
		return
	}
	reload, _ := strconv.ParseBool(r.URL.Query().Get("reload"))

	paths := make(chan string, 1)
	sub, err := s.store.Subscribe(r.Context(), d, func(_, path string) {
		select {
		case paths <- path:
		default:
		}
	}, store.SubscribeOptions{Reload: reload})
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer s.store.Unsubscribe(sub)

	timer := time.NewTimer(s.resolveTimeout)
	defer timer.Stop()

	select {
	case path := <-paths:
		s.writeJSON(w, http.StatusOK, pathResponse{URI: d.URI, Path: path})
	case <-timer.C:
		s.writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "resource not available"})
	case <-r.Context().Done():
	}
}

// POST /v1/prefetch?uri=...: downloads unless cached and returns the path.
func (s *server) prefetchHandler(w http.ResponseWriter, r *http.Request) {
	d, ok := s.descriptor(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.resolveTimeout)
	defer cancel()

	path, err := s.store.Prefetch(ctx, d)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pathResponse{URI: d.URI, Path: path})
}

// DELETE /v1/cache: removes every cached file.
func (s *server) clearHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearStore(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) statsHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.store.Stats())
}

// descriptor builds a cache.Descriptor from the query string. It writes a
// 400 response and returns false when uri is missing.
func (s *server) descriptor(w http.ResponseWriter, r *http.Request) (cache.Descriptor, bool) {
	q := r.URL.Query()
	uri := q.Get("uri")
	if uri == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "uri parameter required"})
		return cache.Descriptor{}, false
	}

	ignoreQuery, _ := strconv.ParseBool(q.Get("ignore_query"))
	return cache.Descriptor{
		URI:               uri,
		ID:                q.Get("id"),
		IgnoreQueryString: ignoreQuery,
	}, true
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, store.ErrNotRestored):
		status = http.StatusServiceUnavailable
	case errors.Is(err, store.ErrInvalidDescriptor):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, cache.ErrPersist):
		status = http.StatusInternalServerError
	}

	s.logger.Debug().Err(err).Int("status_code", status).Msg("Request failed")
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write response")
	}
}
