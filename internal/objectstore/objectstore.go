// Package objectstore stores binary objects (post images, documents,
// database backups) in named buckets.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"
)

// Bucket names.
const (
	BucketPostImages = "post-images" // publicly readable
	BucketDocuments  = "documents"
	BucketBackups    = "backups"
)

var (
	ErrNotFound = errors.New("object not found")
	ErrExists   = errors.New("object already exists")
)

// Object describes a stored object.
type Object struct {
	Bucket       string
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// Store is implemented by the filesystem and S3 backends.
type Store interface {
	// Upload writes a new object. size may be -1 when unknown.
	// Returns ErrExists if the key is already taken.
	Upload(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
	// Download opens an object for reading. The caller closes the reader.
	Download(ctx context.Context, bucket, key string) (io.ReadCloser, *Object, error)
	// Remove deletes objects. Missing keys are not an error.
	Remove(ctx context.Context, bucket string, keys ...string) error
	// List returns objects whose key starts with prefix, newest first.
	List(ctx context.Context, bucket, prefix string) ([]Object, error)
	// PublicURL returns the URL a browser can fetch a public object from.
	PublicURL(bucket, key string) string
	// Name returns a short backend name for logs.
	Name() string
}

// IsPublic reports whether objects in bucket may be served without a session.
func IsPublic(bucket string) bool {
	return bucket == BucketPostImages
}

// ValidateKey rejects keys that could escape their bucket.
func ValidateKey(bucket, key string) error {
	switch bucket {
	case BucketPostImages, BucketDocuments, BucketBackups:
	default:
		return fmt.Errorf("unknown bucket %q", bucket)
	}
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid object key %q", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("invalid object key %q", key)
		}
	}
	return nil
}

// joinURL appends bucket and key to base, escaping each key segment.
func joinURL(base, bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.TrimSuffix(base, "/") + "/" + url.PathEscape(bucket) + "/" + strings.Join(segs, "/")
}
