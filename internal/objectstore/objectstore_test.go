package objectstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFSStore(t *testing.T) *FSStore {
	t.Helper()
	s, err := NewFSStore(t.TempDir(), "http://localhost:8080/media")
	require.NoError(t, err)
	return s
}

func TestFSStore_UploadDownload(t *testing.T) {
	s := newFSStore(t)
	ctx := context.Background()

	body := []byte("%PDF-1.4 fake")
	require.NoError(t, s.Upload(ctx, BucketDocuments, "123-abc.pdf", bytes.NewReader(body), int64(len(body)), "application/pdf"))

	rc, obj, err := s.Download(ctx, BucketDocuments, "123-abc.pdf")
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, body, got)
	assert.Equal(t, int64(len(body)), obj.Size)
	assert.Equal(t, "application/pdf", obj.ContentType)
}

func TestFSStore_UploadExisting(t *testing.T) {
	s := newFSStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, BucketPostImages, "p1/1-0.png", strings.NewReader("a"), 1, ""))
	err := s.Upload(ctx, BucketPostImages, "p1/1-0.png", strings.NewReader("b"), 1, "")
	assert.True(t, errors.Is(err, ErrExists), "got %v", err)

	// Original content is untouched.
	rc, _, err := s.Download(ctx, BucketPostImages, "p1/1-0.png")
	require.NoError(t, err)
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	assert.Equal(t, "a", string(got))
}

func TestFSStore_DownloadMissing(t *testing.T) {
	s := newFSStore(t)
	_, _, err := s.Download(context.Background(), BucketDocuments, "nope.pdf")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
}

func TestFSStore_Remove(t *testing.T) {
	s := newFSStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, BucketDocuments, "a.pdf", strings.NewReader("a"), 1, ""))
	require.NoError(t, s.Remove(ctx, BucketDocuments, "a.pdf", "missing.pdf"))

	_, _, err := s.Download(ctx, BucketDocuments, "a.pdf")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFSStore_List(t *testing.T) {
	s := newFSStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, BucketBackups, "cms-20260101-000000.db", strings.NewReader("1"), 1, ""))
	require.NoError(t, s.Upload(ctx, BucketBackups, "cms-20260102-000000.db", strings.NewReader("2"), 1, ""))
	require.NoError(t, s.Upload(ctx, BucketBackups, "other.txt", strings.NewReader("3"), 1, ""))

	// Pin modification times so ordering does not depend on the clock.
	root := s.root
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, BucketBackups, "cms-20260101-000000.db"), old, old))

	objs, err := s.List(ctx, BucketBackups, "cms-")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "cms-20260102-000000.db", objs[0].Key)
	assert.Equal(t, "cms-20260101-000000.db", objs[1].Key)
}

func TestFSStore_Cancelled(t *testing.T) {
	s := newFSStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Upload(ctx, BucketDocuments, "a.pdf", strings.NewReader("data"), 4, "")
	assert.ErrorIs(t, err, context.Canceled)

	_, _, err = s.Download(context.Background(), BucketDocuments, "a.pdf")
	assert.True(t, errors.Is(err, ErrNotFound), "partial object must be removed")
}

func TestFSStore_PublicURL(t *testing.T) {
	s := newFSStore(t)
	assert.Equal(t,
		"http://localhost:8080/media/post-images/p1/1700000000000-0.png",
		s.PublicURL(BucketPostImages, "p1/1700000000000-0.png"))
	assert.Equal(t,
		"http://localhost:8080/media/post-images/p1/a%20b.png",
		s.PublicURL(BucketPostImages, "p1/a b.png"))
}

func TestValidateKey(t *testing.T) {
	valid := []string{"a.pdf", "p1/1-0.png", "x/y/z.txt"}
	for _, k := range valid {
		assert.NoError(t, ValidateKey(BucketDocuments, k), k)
	}
	invalid := []string{"", "/etc/passwd", "../x", "a/../../b", "a//b", "a\\b", "./a"}
	for _, k := range invalid {
		assert.Error(t, ValidateKey(BucketDocuments, k), k)
	}
	assert.Error(t, ValidateKey("secrets", "a.txt"))
}

func TestIsPublic(t *testing.T) {
	assert.True(t, IsPublic(BucketPostImages))
	assert.False(t, IsPublic(BucketDocuments))
	assert.False(t, IsPublic(BucketBackups))
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{})
	assert.Error(t, err)
}

func TestS3Store_Keys(t *testing.T) {
	s := newS3Store(nil, S3Config{Bucket: "cms", Prefix: "portal", BaseURL: "https://cms.example.com/media"})
	assert.Equal(t, "portal/documents/a.pdf", s.objectKey(BucketDocuments, "a.pdf"))
	assert.Equal(t, "https://cms.example.com/media/post-images/p1/a.png", s.PublicURL(BucketPostImages, "p1/a.png"))

	s = newS3Store(nil, S3Config{Bucket: "cms", PublicURL: "https://cdn.example.com/"})
	assert.Equal(t, "documents/a.pdf", s.objectKey(BucketDocuments, "a.pdf"))
	assert.Equal(t, "https://cdn.example.com/post-images/p1/a.png", s.PublicURL(BucketPostImages, "p1/a.png"))

	s = newS3Store(nil, S3Config{Bucket: "cms", Prefix: "portal/", PublicURL: "https://cdn.example.com"})
	assert.Equal(t, "https://cdn.example.com/portal/post-images/p1/a.png", s.PublicURL(BucketPostImages, "p1/a.png"))
}
