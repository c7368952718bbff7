package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a mutation targets a row that does not exist,
	// and by GetRole when an identity has no profile row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflict")
)

// User is a local account that can sign in with email and password.
type User struct {
	ID           string
	Email        string // stored lowercase
	PasswordHash string // PHC-formatted argon2id
	CreatedAt    time.Time
}

// AuthSession is a signed-in session bound to one browser client.
type AuthSession struct {
	ID         string
	UserID     string
	ClientHash string // SHA-256 of the browser client token
	CreatedAt  time.Time
	LastUsedAt *time.Time
	ExpiresAt  time.Time
}

// Tag is a label attached to posts.
type Tag struct {
	ID        string
	Name      string
	Slug      string
	CreatedAt time.Time
}

// PostImage is an image object attached to a post.
type PostImage struct {
	ID         string
	PostID     string
	Path       string // key in the post-images bucket
	Caption    *string
	OrderIndex int
	CreatedAt  time.Time
}

// Post is a blog post. Tags and Images are populated by the read methods.
type Post struct {
	ID        string
	Title     string
	Slug      string
	Excerpt   *string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time

	Tags   []Tag
	Images []PostImage // ordered by OrderIndex
}

// Document is a downloadable file available to signed-in users.
type Document struct {
	ID          string
	Title       string
	Description *string
	FilePath    string // key in the documents bucket
	ContentType string
	Size        int64
	UploadedBy  string
	CreatedAt   time.Time
}

// PostFilter narrows ListPosts.
type PostFilter struct {
	TagID string // only posts linked to this tag
	Limit int    // 0 = no limit
}

// Counts holds row counts for the admin overview.
type Counts struct {
	Posts     int
	Documents int
	Tags      int
}

// Store is the storage interface for the portal.
type Store interface {
	// Lifecycle
	Close() error
	Ping(ctx context.Context) error

	// Users and profiles
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetRole(ctx context.Context, userID string) (string, error)
	SetRole(ctx context.Context, userID, role string) error

	// Auth sessions
	CreateAuthSession(ctx context.Context, s *AuthSession) error
	GetAuthSession(ctx context.Context, id string) (*AuthSession, error)
	GetLatestAuthSession(ctx context.Context, clientHash string, now time.Time) (*AuthSession, error)
	TouchAuthSession(ctx context.Context, id string) error
	DeleteAuthSession(ctx context.Context, id string) error
	DeleteAuthSessionsByClient(ctx context.Context, clientHash string) (int64, error)
	DeleteExpiredAuthSessions(ctx context.Context, now time.Time) (int64, error)

	// Tags
	CreateTag(ctx context.Context, t *Tag) error
	GetTag(ctx context.Context, id string) (*Tag, error)
	UpdateTag(ctx context.Context, t *Tag) error
	DeleteTag(ctx context.Context, id string) error
	ListTags(ctx context.Context) ([]Tag, error)

	// Posts
	CreatePost(ctx context.Context, p *Post, tagIDs []string) error
	UpdatePost(ctx context.Context, p *Post, tagIDs []string) error
	GetPost(ctx context.Context, id string) (*Post, error)
	GetPostBySlug(ctx context.Context, slug string) (*Post, error)
	ListPosts(ctx context.Context, f PostFilter) ([]Post, error)
	DeletePost(ctx context.Context, id string) error

	// Post images
	AddPostImage(ctx context.Context, img *PostImage) error
	GetPostImage(ctx context.Context, id string) (*PostImage, error)
	DeletePostImage(ctx context.Context, id string) error

	// Documents
	CreateDocument(ctx context.Context, d *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context) ([]Document, error)
	DeleteDocument(ctx context.Context, id string) error

	Counts(ctx context.Context) (*Counts, error)

	// Backup creates a consistent backup of the database at destPath using VACUUM INTO.
	Backup(ctx context.Context, destPath string) error
}
