package cache

import (
	"path/filepath"
	"strings"
	"time"
)

// Entry is the metadata recorded for a cached resource. The map key it is
// stored under is the cache key.
type Entry struct {
	// CreatedOn is set on the first successful write and kept across
	// re-downloads of the same key.
	CreatedOn time.Time `json:"createdOn"`

	// BasePath is the cache base directory active when the file was written.
	BasePath string `json:"basePath"`

	// LocalFileName is the cache key plus the derived extension.
	LocalFileName string `json:"localFileName"`
}

// Path returns the absolute path of the backing file.
func (e Entry) Path() string {
	return filepath.Join(e.BasePath, e.LocalFileName)
}

// ValidFor reports whether the entry was written under baseDir. Entries
// written under another namespace or cache root are not served.
func (e Entry) ValidFor(baseDir string) bool {
	return baseDir != "" && filepath.Clean(e.BasePath) == filepath.Clean(baseDir)
}

// ExpiresAt returns CreatedOn + ttl.
func (e Entry) ExpiresAt(ttl time.Duration) time.Time {
	return e.CreatedOn.Add(ttl)
}

// Expired reports whether the entry outlived ttl at now.
func (e Entry) Expired(ttl time.Duration, now time.Time) bool {
	return e.ExpiresAt(ttl).Before(now)
}

// RelativeTo returns the backing file path relative to root. It returns
// false when the file does not live below root.
func (e Entry) RelativeTo(root string) (string, bool) {
	rel, err := filepath.Rel(filepath.Clean(root), e.Path())
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
