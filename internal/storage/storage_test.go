package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), SQLiteStoreConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func strPtr(s string) *string { return &s }

func TestUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateUser(ctx, &User{ID: "u1", Email: " Alice@Example.com ", PasswordHash: "h"}))

	u, err := store.GetUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "alice@example.com", u.Email)

	u, err = store.GetUser(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, u)

	err = store.CreateUser(ctx, &User{ID: "u2", Email: "alice@example.com", PasswordHash: "h"})
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)
}

func TestRoles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, &User{ID: "u1", Email: "a@x.io", PasswordHash: "h"}))

	_, err := store.GetRole(ctx, "u1")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	require.NoError(t, store.SetRole(ctx, "u1", "member"))
	role, err := store.GetRole(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "member", role)

	require.NoError(t, store.SetRole(ctx, "u1", "admin"))
	role, err = store.GetRole(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "admin", role)

	err = store.SetRole(ctx, "ghost", "admin")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestAuthSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, &User{ID: "u1", Email: "a@x.io", PasswordHash: "h"}))

	now := time.Now()
	require.NoError(t, store.CreateAuthSession(ctx, &AuthSession{
		ID: "old", UserID: "u1", ClientHash: "c1",
		CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, store.CreateAuthSession(ctx, &AuthSession{
		ID: "new", UserID: "u1", ClientHash: "c1",
		CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, store.CreateAuthSession(ctx, &AuthSession{
		ID: "expired", UserID: "u1", ClientHash: "c2",
		CreatedAt: now.Add(-3 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))

	latest, err := store.GetLatestAuthSession(ctx, "c1", now)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "new", latest.ID)

	latest, err = store.GetLatestAuthSession(ctx, "c2", now)
	require.NoError(t, err)
	assert.Nil(t, latest, "expired session should not resume")

	require.NoError(t, store.TouchAuthSession(ctx, "new"))
	got, err := store.GetAuthSession(ctx, "new")
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)

	n, err := store.DeleteExpiredAuthSessions(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.DeleteAuthSessionsByClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err = store.GetAuthSession(ctx, "new")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestTags(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTag(ctx, &Tag{ID: "t1", Name: "Go", Slug: "go"}))
	require.NoError(t, store.CreateTag(ctx, &Tag{ID: "t2", Name: "art", Slug: "art"}))

	err := store.CreateTag(ctx, &Tag{ID: "t3", Name: "Go", Slug: "golang"})
	assert.True(t, errors.Is(err, ErrConflict), "duplicate name: %v", err)
	err = store.CreateTag(ctx, &Tag{ID: "t3", Name: "Golang", Slug: "go"})
	assert.True(t, errors.Is(err, ErrConflict), "duplicate slug: %v", err)

	tags, err := store.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "art", tags[0].Name)

	require.NoError(t, store.UpdateTag(ctx, &Tag{ID: "t1", Name: "Golang", Slug: "golang"}))
	tag, err := store.GetTag(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "golang", tag.Slug)

	err = store.UpdateTag(ctx, &Tag{ID: "nope", Name: "x", Slug: "x"})
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	err = store.UpdateTag(ctx, &Tag{ID: "t2", Name: "Golang", Slug: "art"})
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)

	err = store.DeleteTag(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestPosts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateTag(ctx, &Tag{ID: "t1", Name: "news", Slug: "news"}))
	require.NoError(t, store.CreateTag(ctx, &Tag{ID: "t2", Name: "events", Slug: "events"}))

	base := time.Now().Add(-time.Hour)
	require.NoError(t, store.CreatePost(ctx, &Post{
		ID: "p1", Title: "First", Slug: "first", Content: "hello", CreatedAt: base,
	}, []string{"t1"}))
	require.NoError(t, store.CreatePost(ctx, &Post{
		ID: "p2", Title: "Second", Slug: "second", Content: "world", Excerpt: strPtr("short"), CreatedAt: base.Add(time.Minute),
	}, []string{"t1", "t2"}))

	err := store.CreatePost(ctx, &Post{ID: "p3", Title: "Dup", Slug: "first", Content: "x"}, nil)
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)

	err = store.CreatePost(ctx, &Post{ID: "p4", Title: "Bad tag", Slug: "bad-tag", Content: "x"}, []string{"ghost"})
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	p, err := store.GetPost(ctx, "p4")
	require.NoError(t, err)
	assert.Nil(t, p, "failed create must roll back")

	require.NoError(t, store.AddPostImage(ctx, &PostImage{ID: "i2", PostID: "p2", Path: "p2/b.png", OrderIndex: 1}))
	require.NoError(t, store.AddPostImage(ctx, &PostImage{ID: "i1", PostID: "p2", Path: "p2/a.png", OrderIndex: 0}))

	posts, err := store.ListPosts(ctx, PostFilter{})
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, "p2", posts[0].ID, "newest first")
	assert.Len(t, posts[0].Tags, 2)
	require.Len(t, posts[0].Images, 2)
	assert.Equal(t, "p2/a.png", posts[0].Images[0].Path)
	assert.Equal(t, "short", *posts[0].Excerpt)
	assert.Nil(t, posts[1].Excerpt)

	posts, err = store.ListPosts(ctx, PostFilter{TagID: "t2"})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "p2", posts[0].ID)

	posts, err = store.ListPosts(ctx, PostFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, posts, 1)

	got, err := store.GetPostBySlug(ctx, "first")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Tags, 1)
	assert.Equal(t, "news", got.Tags[0].Name)

	// Update replaces the tag set.
	got.Title = "First (edited)"
	require.NoError(t, store.UpdatePost(ctx, got, []string{"t2"}))
	got, err = store.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "First (edited)", got.Title)
	require.Len(t, got.Tags, 1)
	assert.Equal(t, "t2", got.Tags[0].ID)

	err = store.UpdatePost(ctx, &Post{ID: "p1", Title: "x", Slug: "second", Content: "x"}, nil)
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)
	err = store.UpdatePost(ctx, &Post{ID: "ghost", Title: "x", Slug: "ghost", Content: "x"}, nil)
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	// Tag delete cascades to links.
	require.NoError(t, store.DeleteTag(ctx, "t2"))
	got, err = store.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, got.Tags)

	// Post delete cascades to images.
	require.NoError(t, store.DeletePost(ctx, "p2"))
	img, err := store.GetPostImage(ctx, "i1")
	require.NoError(t, err)
	assert.Nil(t, img)

	err = store.DeletePost(ctx, "p2")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestPostImages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreatePost(ctx, &Post{ID: "p1", Title: "T", Slug: "t", Content: "c"}, nil))

	require.NoError(t, store.AddPostImage(ctx, &PostImage{ID: "i1", PostID: "p1", Path: "p1/a.jpg", Caption: strPtr("cap")}))
	img, err := store.GetPostImage(ctx, "i1")
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, "cap", *img.Caption)

	err = store.AddPostImage(ctx, &PostImage{ID: "i2", PostID: "ghost", Path: "x.jpg"})
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	require.NoError(t, store.DeletePostImage(ctx, "i1"))
	err = store.DeletePostImage(ctx, "i1")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestListPosts_SkipsMalformedRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreatePost(ctx, &Post{ID: "p1", Title: "Good", Slug: "good", Content: "c"}, nil))

	_, err := store.db.Exec(`INSERT INTO posts (id, title, slug, excerpt, content, created_at, updated_at) VALUES ('p2', '', 'untitled', NULL, 'c', 0, 0)`)
	require.NoError(t, err)

	posts, err := store.ListPosts(ctx, PostFilter{})
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "p1", posts[0].ID)
}

func TestDocumentsAndCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, store.CreateDocument(ctx, &Document{
		ID: "d1", Title: "Old", FilePath: "1-a.pdf", Size: 10, CreatedAt: now.Add(-time.Minute),
	}))
	require.NoError(t, store.CreateDocument(ctx, &Document{
		ID: "d2", Title: "New", FilePath: "2-b.pdf", Description: strPtr("desc"), UploadedBy: "u1", CreatedAt: now,
	}))

	docs, err := store.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "d2", docs[0].ID)
	assert.Equal(t, "desc", *docs[0].Description)
	assert.Nil(t, docs[1].Description)

	err = store.CreateDocument(ctx, &Document{ID: "d3", Title: "Dup", FilePath: "1-a.pdf"})
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)

	require.NoError(t, store.CreateTag(ctx, &Tag{ID: "t1", Name: "a", Slug: "a"}))
	require.NoError(t, store.CreatePost(ctx, &Post{ID: "p1", Title: "T", Slug: "t", Content: "c"}, nil))

	c, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Posts: 1, Documents: 2, Tags: 1}, *c)

	require.NoError(t, store.DeleteDocument(ctx, "d1"))
	d, err := store.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, d)
	err = store.DeleteDocument(ctx, "d1")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestBackup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateTag(ctx, &Tag{ID: "t1", Name: "a", Slug: "a"}))

	dest := filepath.Join(t.TempDir(), "backup.db")
	require.NoError(t, store.Backup(ctx, dest))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	restored, err := NewSQLiteStore(dest)
	require.NoError(t, err)
	defer restored.Close()
	tags, err := restored.ListTags(ctx)
	require.NoError(t, err)
	assert.Len(t, tags, 1)
}
