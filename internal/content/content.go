// Package content implements the blog, tag and document operations on top of
// the relational store and the object store.
package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/hatemosphere/cms-portal/internal/objectstore"
	"github.com/hatemosphere/cms-portal/internal/storage"
)

// ErrInvalidInput is the kind of every validation failure.
var ErrInvalidInput = errors.New("invalid input")

// Error is a failure with a message that can be shown to the user as is.
// Kind is ErrInvalidInput, storage.ErrConflict or storage.ErrNotFound.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Kind }

func invalid(msg string) error  { return &Error{Kind: ErrInvalidInput, Message: msg} }
func conflict(msg string) error { return &Error{Kind: storage.ErrConflict, Message: msg} }
func notFound(msg string) error { return &Error{Kind: storage.ErrNotFound, Message: msg} }

// Message returns the user-facing message carried by err, if any.
func Message(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Message, true
	}
	return "", false
}

// Upload is a file received from a form or API request.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64 // -1 when unknown
	Body        io.Reader
}

func (u Upload) empty() bool {
	return u.Body == nil || u.Filename == ""
}

// ext returns the lowercased extension of the upload without the dot.
func (u Upload) ext() string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(u.Filename), "."))
}

func (u Upload) contentType() string {
	if u.ContentType != "" {
		return u.ContentType
	}
	if ct := mime.TypeByExtension("." + u.ext()); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Service is the CRUD layer used by the HTML views and the JSON API.
type Service struct {
	store   storage.Store
	objects objectstore.Store
	now     func() time.Time
}

// NewService creates a content service.
func NewService(store storage.Store, objects objectstore.Store) *Service {
	return &Service{store: store, objects: objects, now: time.Now}
}

// ImageURL returns the public URL of a post image.
func (s *Service) ImageURL(img storage.PostImage) string {
	return s.objects.PublicURL(objectstore.BucketPostImages, img.Path)
}

// Stats is the admin overview.
type Stats struct {
	storage.Counts
	Recent []storage.Post
}

// RecentPostsLimit is the number of posts shown on the admin overview.
const RecentPostsLimit = 5

// Stats returns row counts and the most recent posts.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.store.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("count content: %w", err)
	}
	recent, err := s.store.ListPosts(ctx, storage.PostFilter{Limit: RecentPostsLimit})
	if err != nil {
		return nil, fmt.Errorf("list recent posts: %w", err)
	}
	return &Stats{Counts: *counts, Recent: recent}, nil
}
