package cache

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/opencontainers/go-digest"
)

// DefaultExtension is used when the resource path carries no extension.
const DefaultExtension = ".jpg"

var (
	// ErrMissingURI is returned by Validate for descriptors without a URI.
	ErrMissingURI = errors.New("descriptor has no URI")

	// ErrUnsafeID is returned by Validate when the ID cannot be used as a
	// file name directly below the base directory.
	ErrUnsafeID = errors.New("descriptor ID is not a valid file name")
)

// Descriptor describes a remote resource to cache.
type Descriptor struct {
	// URI is the remote location of the resource.
	URI string

	// Method is the HTTP method used to fetch the resource (default: GET).
	Method string

	// Headers are sent along with the fetch request.
	Headers http.Header

	// ID overrides the derived identity. Two descriptors with the same ID
	// share one cache entry regardless of their URIs.
	ID string

	// IgnoreQueryString strips the query string before hashing the URI.
	IgnoreQueryString bool
}

// Key returns the cache key of the descriptor.
func (d Descriptor) Key() string {
	key, _ := DeriveKey(d)
	return key
}

// Validate reports whether the descriptor can be cached. The ID becomes the
// file name, so it must not contain path separators, NUL bytes or be a
// relative path element.
func (d Descriptor) Validate() error {
	if d.URI == "" {
		return ErrMissingURI
	}
	if d.ID == "" {
		return nil
	}
	if d.ID == "." || d.ID == ".." || strings.ContainsAny(d.ID, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrUnsafeID, d.ID)
	}
	return nil
}

// FetchMethod returns the HTTP method to use, defaulting to GET.
func (d Descriptor) FetchMethod() string {
	if d.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(d.Method)
}

// DeriveKey computes the cache key and file extension for a descriptor.
//
// The key is the explicit ID when set, otherwise the hex encoded SHA-256 of
// the URI (with its query string removed when IgnoreQueryString is set).
// The extension always comes from the URI path, never from the ID.
//
// Example:
//
//	DeriveKey(Descriptor{URI: "https://cdn.x/img.png?v=2", ID: "logo"})
//	// "logo", ".png"
func DeriveKey(d Descriptor) (key string, ext string) {
	ext = Extension(d.URI)
	if d.ID != "" {
		return d.ID, ext
	}

	source := d.URI
	if d.IgnoreQueryString {
		source = RemoveQueryString(source)
	}
	return digest.SHA256.FromString(source).Encoded(), ext
}

// RemoveQueryString drops everything from the first '?' on.
func RemoveQueryString(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}
	return uri
}

// Extension returns the extension (including the dot) of the last path
// segment of uri. Query string and fragment are ignored. DefaultExtension is
// returned when the segment has no usable extension.
func Extension(uri string) string {
	p := RemoveQueryString(uri)
	if i := strings.IndexByte(p, '#'); i >= 0 {
		p = p[:i]
	}

	// Skip the scheme and authority so host names like "example.com" are
	// never mistaken for an extension.
	if i := strings.Index(p, "://"); i >= 0 {
		rest := p[i+3:]
		slash := strings.IndexByte(rest, '/')
		if slash < 0 {
			return DefaultExtension
		}
		p = rest[slash:]
	}

	segment := p[strings.LastIndexByte(p, '/')+1:]
	dot := strings.LastIndexByte(segment, '.')
	if dot < 0 || dot == len(segment)-1 {
		return DefaultExtension
	}
	return segment[dot:]
}
