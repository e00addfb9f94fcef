// Package fetch downloads remote resources into a billy filesystem. Files
// are written to a temporary name and renamed into place, so a failed or
// interrupted download never leaves a partial file at the target path.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Request describes one download.
type Request struct {
	URI     string
	Method  string
	Headers http.Header
}

// Config holds the fetcher configuration.
type Config struct {
	// Timeout bounds a single attempt, including the body transfer.
	Timeout time.Duration

	// UserAgent is sent when the request carries no User-Agent header.
	UserAgent string

	// Retry controls retries of server and network failures.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:   30 * time.Second,
		UserAgent: "offline-image-cache/0.1.0",
		Retry:     DefaultRetryConfig(),
	}
}

// HTTPFetcher fetches URIs over HTTP into a filesystem.
type HTTPFetcher struct {
	httpClient *http.Client
	fs         billy.Filesystem
	config     Config

	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewHTTPFetcher creates a fetcher writing into filesystem.
func NewHTTPFetcher(filesystem billy.Filesystem, cfg Config) *HTTPFetcher {
	if filesystem == nil {
		panic("filesystem cannot be nil")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	return &HTTPFetcher{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		fs:     filesystem,
		config: cfg,
		logger: log.With().Str("component", "fetcher").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (f *HTTPFetcher) SetHTTPClient(client *http.Client) {
	f.httpClient = client
}

// SetLogger replaces the fetcher logger.
func (f *HTTPFetcher) SetLogger(logger zerolog.Logger) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logger = logger
}

// Fetch downloads req.URI to dst, a path inside the fetcher filesystem, and
// returns the number of bytes written. On failure dst is left untouched and
// the error is an *Error (possibly wrapped by retry errors).
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request, dst string) (int64, error) {
	start := time.Now()
	defer func() {
		fetchDuration.Observe(time.Since(start).Seconds())
	}()

	f.mu.RLock()
	logger := f.logger
	f.mu.RUnlock()

	var written int64
	err := retryWithBackoff(ctx, f.config.Retry, logger, func() error {
		n, attemptErr := f.attempt(ctx, req, dst)
		if attemptErr != nil {
			fetchErrorsTotal.WithLabelValues(string(ClassOf(attemptErr))).Inc()
			return attemptErr
		}
		written = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	logger.Debug().
		Str("uri", req.URI).
		Str("path", dst).
		Int64("bytes", written).
		Dur("duration", time.Since(start)).
		Msg("Downloaded resource")
	return written, nil
}

func (f *HTTPFetcher) attempt(ctx context.Context, req Request, dst string) (int64, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URI, nil)
	if err != nil {
		return 0, &Error{URI: req.URI, Class: ErrorClassClient, Message: "create request", Err: err}
	}
	for key, values := range req.Headers {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if httpReq.Header.Get("User-Agent") == "" && f.config.UserAgent != "" {
		httpReq.Header.Set("User-Agent", f.config.UserAgent)
	}

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return 0, &Error{URI: req.URI, Class: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return 0, &Error{
			URI:        req.URI,
			StatusCode: resp.StatusCode,
			Class:      classifyStatus(resp.StatusCode),
			Message:    resp.Status,
		}
	}

	written, err := f.writeFile(ctx, dst, resp.Body)
	if err != nil {
		class := ErrorClassIO
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || isBodyReadError(err) {
			class = ErrorClassNetwork
		}
		return 0, &Error{URI: req.URI, StatusCode: resp.StatusCode, Class: class, Message: "write file", Err: err}
	}
	return written, nil
}

// writeFile streams body into a temporary file next to dst and renames it
// into place.
func (f *HTTPFetcher) writeFile(ctx context.Context, dst string, body io.Reader) (int64, error) {
	dir := filepath.Dir(dst)
	if err := f.fs.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempFile, err := f.fs.TempFile(dir, ".download-")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = f.fs.Remove(tempName)
		return written, err
	}

	if err := f.fs.Rename(tempName, dst); err != nil {
		_ = f.fs.Remove(tempName)
		return written, fmt.Errorf("rename %s: %w", dst, err)
	}
	return written, nil
}

// bodyReadError marks failures on the network side of a copy.
type bodyReadError struct{ err error }

func (e *bodyReadError) Error() string { return "read body: " + e.err.Error() }
func (e *bodyReadError) Unwrap() error { return e.err }

func isBodyReadError(err error) bool {
	var br *bodyReadError
	return errors.As(err, &br)
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, &bodyReadError{err: err}
		}
	}
}
