package content

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hatemosphere/cms-portal/internal/objectstore"
	"github.com/hatemosphere/cms-portal/internal/storage"
)

// flakyObjects fails uploads whose key contains failOn and records removals.
type flakyObjects struct {
	objectstore.Store
	failOn string

	mu      sync.Mutex
	removed []string
}

func (f *flakyObjects) Upload(ctx context.Context, bucket, key string, r io.Reader, size int64, ct string) error {
	if f.failOn != "" && strings.Contains(key, f.failOn) {
		return errors.New("upload refused")
	}
	return f.Store.Upload(ctx, bucket, key, r, size, ct)
}

func (f *flakyObjects) Remove(ctx context.Context, bucket string, keys ...string) error {
	f.mu.Lock()
	f.removed = append(f.removed, keys...)
	f.mu.Unlock()
	return f.Store.Remove(ctx, bucket, keys...)
}

// failingStore rejects document inserts.
type failingStore struct {
	storage.Store
}

func (failingStore) CreateDocument(context.Context, *storage.Document) error {
	return errors.New("disk full")
}

type fixture struct {
	svc     *Service
	store   *storage.SQLiteStore
	objects *flakyObjects
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStore(filepath.Join(dir, "cms.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	fsStore, err := objectstore.NewFSStore(filepath.Join(dir, "objects"), "http://cms.test/media")
	require.NoError(t, err)

	f := &fixture{
		store:   store,
		objects: &flakyObjects{Store: fsStore},
		clock:   time.UnixMilli(1_700_000_000_000),
	}
	f.svc = NewService(store, f.objects)
	f.svc.now = func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	return f
}

func upload(name, body string) Upload {
	return Upload{Filename: name, Size: int64(len(body)), Body: strings.NewReader(body)}
}

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"Hello World":             "hello-world",
		"  Olá, Mundo! ":          "ola-mundo",
		"Ação & Reação":           "acao-reacao",
		"---already--slugged---":  "already-slugged",
		"Crème Brûlée 2024":       "creme-brulee-2024",
		"日本語":                     "",
		"":                        "",
		"C++ / Go_lang":           "c-go-lang",
		"Straße":                  "stra-e",
		"MiXeD CaSe123ABC":        "mixed-case123abc",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), "Slugify(%q)", in)
	}
}

func TestSavePost_CreateValidatesAndDerivesSlug(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SavePost(ctx, PostInput{Title: "  ", Content: "x"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	msg, ok := Message(err)
	assert.True(t, ok)
	assert.Equal(t, "title is required", msg)

	_, err = f.svc.SavePost(ctx, PostInput{Title: "T", Content: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	p, err := f.svc.SavePost(ctx, PostInput{Title: " Primeiro Post ", Content: " body ", Excerpt: "  "})
	require.NoError(t, err)
	assert.Equal(t, "Primeiro Post", p.Title)
	assert.Equal(t, "primeiro-post", p.Slug)
	assert.Equal(t, "body", p.Content)
	assert.Nil(t, p.Excerpt, "blank excerpt is stored as null")
}

func TestSavePost_DuplicateSlug(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SavePost(ctx, PostInput{Title: "A", Slug: "same", Content: "a"})
	require.NoError(t, err)
	_, err = f.svc.SavePost(ctx, PostInput{Title: "B", Slug: "same", Content: "b"})
	assert.ErrorIs(t, err, storage.ErrConflict)
	msg, _ := Message(err)
	assert.Equal(t, "a post with this slug already exists", msg)
}

func TestSavePost_EditReplacesTags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	goTag, err := f.svc.CreateTag(ctx, TagInput{Name: "Go"})
	require.NoError(t, err)
	newsTag, err := f.svc.CreateTag(ctx, TagInput{Name: "News", Slug: "news"})
	require.NoError(t, err)

	p, err := f.svc.SavePost(ctx, PostInput{Title: "T", Content: "c", TagIDs: []string{goTag.ID, goTag.ID}})
	require.NoError(t, err)
	require.Len(t, p.Tags, 1)

	edited, err := f.svc.SavePost(ctx, PostInput{ID: p.ID, Title: "T2", Slug: p.Slug, Content: "c2", TagIDs: []string{newsTag.ID}})
	require.NoError(t, err)
	assert.Equal(t, "T2", edited.Title)
	require.Len(t, edited.Tags, 1)
	assert.Equal(t, "news", edited.Tags[0].Slug)
	assert.Equal(t, p.CreatedAt.UnixMilli(), edited.CreatedAt.UnixMilli())

	_, err = f.svc.SavePost(ctx, PostInput{ID: "missing", Title: "x", Slug: "x", Content: "x"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.svc.SavePost(ctx, PostInput{Title: "Y", Content: "y", TagIDs: []string{"no-such-tag"}})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSavePost_ImagesSkipFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.objects.failOn = "-1."

	p, err := f.svc.SavePost(ctx, PostInput{
		Title:   "Gallery",
		Content: "pics",
		Images: []Upload{
			upload("a.JPG", "img0"),
			upload("b.png", "img1"), // refused by the object store
			upload("c.png", "img2"),
			upload("notes.txt", "text"),
		},
	})
	require.NoError(t, err)
	require.Len(t, p.Images, 2)
	assert.Equal(t, 0, p.Images[0].OrderIndex)
	assert.Equal(t, 2, p.Images[1].OrderIndex)
	assert.True(t, strings.HasPrefix(p.Images[0].Path, p.ID+"/"))
	assert.True(t, strings.HasSuffix(p.Images[0].Path, "-0.jpg"))
	assert.Equal(t, "http://cms.test/media/post-images/"+p.Images[0].Path, f.svc.ImageURL(p.Images[0]))

	rc, _, err := f.objects.Download(ctx, objectstore.BucketPostImages, p.Images[1].Path)
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "img2", string(body))
}

func TestListBlog_SearchTagAndCover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tag, err := f.svc.CreateTag(ctx, TagInput{Name: "Eventos"})
	require.NoError(t, err)
	first, err := f.svc.SavePost(ctx, PostInput{Title: "Assembleia Geral", Content: "pauta", TagIDs: []string{tag.ID}})
	require.NoError(t, err)
	_, err = f.svc.SavePost(ctx, PostInput{Title: "Outro", Content: "texto", Excerpt: "Resumo da ASSEMBLEIA"})
	require.NoError(t, err)
	_, err = f.svc.SavePost(ctx, PostInput{Title: "Nada", Content: "irrelevante"})
	require.NoError(t, err)

	all, err := f.svc.ListBlog(ctx, BlogQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Nada", all[0].Title, "newest first")

	found, err := f.svc.ListBlog(ctx, BlogQuery{Search: " assembleia "})
	require.NoError(t, err)
	require.Len(t, found, 2)

	tagged, err := f.svc.ListBlog(ctx, BlogQuery{TagID: tag.ID})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, first.ID, tagged[0].ID)

	require.NoError(t, f.store.AddPostImage(ctx, &storage.PostImage{ID: "i5", PostID: first.ID, Path: first.ID + "/x-5.png", OrderIndex: 5}))
	require.NoError(t, f.store.AddPostImage(ctx, &storage.PostImage{ID: "i1", PostID: first.ID, Path: first.ID + "/x-1.png", OrderIndex: 1}))
	tagged, err = f.svc.ListBlog(ctx, BlogQuery{TagID: tag.ID})
	require.NoError(t, err)
	require.NotNil(t, tagged[0].Cover)
	assert.Equal(t, "i1", tagged[0].Cover.ID)
	assert.Nil(t, all[0].Cover)
}

func TestPostBySlug(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.SavePost(ctx, PostInput{Title: "Hello", Content: "c"})
	require.NoError(t, err)

	got, err := f.svc.PostBySlug(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = f.svc.PostBySlug(ctx, "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeletePostRemovesImages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.SavePost(ctx, PostInput{Title: "P", Content: "c", Images: []Upload{upload("a.png", "a"), upload("b.png", "b")}})
	require.NoError(t, err)
	require.Len(t, p.Images, 2)

	require.NoError(t, f.svc.DeletePost(ctx, p.ID))
	assert.ElementsMatch(t, []string{p.Images[0].Path, p.Images[1].Path}, f.objects.removed)

	objs, err := f.objects.List(ctx, objectstore.BucketPostImages, p.ID+"/")
	require.NoError(t, err)
	assert.Empty(t, objs)

	assert.ErrorIs(t, f.svc.DeletePost(ctx, p.ID), storage.ErrNotFound)
}

func TestDeleteImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.svc.SavePost(ctx, PostInput{Title: "P", Content: "c", Images: []Upload{upload("a.png", "a")}})
	require.NoError(t, err)
	img := p.Images[0]

	require.NoError(t, f.svc.DeleteImage(ctx, img.ID))
	_, _, err = f.objects.Download(ctx, objectstore.BucketPostImages, img.Path)
	assert.ErrorIs(t, err, objectstore.ErrNotFound)

	reloaded, err := f.svc.Post(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Images)

	assert.ErrorIs(t, f.svc.DeleteImage(ctx, img.ID), storage.ErrNotFound)
}

func TestTags(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateTag(ctx, TagInput{Name: " "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	tag, err := f.svc.CreateTag(ctx, TagInput{Name: "Notícias"})
	require.NoError(t, err)
	assert.Equal(t, "noticias", tag.Slug)

	_, err = f.svc.CreateTag(ctx, TagInput{Name: "Notícias", Slug: "other"})
	assert.ErrorIs(t, err, storage.ErrConflict)

	updated, err := f.svc.UpdateTag(ctx, tag.ID, TagInput{Name: "News", Slug: "news"})
	require.NoError(t, err)
	assert.Equal(t, "News", updated.Name)

	_, err = f.svc.UpdateTag(ctx, "missing", TagInput{Name: "X"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	p, err := f.svc.SavePost(ctx, PostInput{Title: "P", Content: "c", TagIDs: []string{tag.ID}})
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteTag(ctx, tag.ID))
	reloaded, err := f.svc.Post(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Tags)

	assert.ErrorIs(t, f.svc.DeleteTag(ctx, tag.ID), storage.ErrNotFound)
	tags, err := f.svc.ListTags(ctx)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestDocuments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UploadDocument(ctx, DocumentInput{Title: "Ata", File: upload("ata.exe", "x")})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.UploadDocument(ctx, DocumentInput{Title: "Ata"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.UploadDocument(ctx, DocumentInput{File: upload("ata.pdf", "x")})
	assert.ErrorIs(t, err, ErrInvalidInput)

	d, err := f.svc.UploadDocument(ctx, DocumentInput{
		Title:      " Ata de Reunião ",
		File:       Upload{Filename: "Ata.PDF", Size: -1, Body: bytes.NewBufferString("%PDF-1.7")},
		UploadedBy: "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Ata de Reunião", d.Title)
	assert.Regexp(t, `^\d{13}-[a-z0-9]{7}\.pdf$`, d.FilePath)
	assert.Equal(t, "application/pdf", d.ContentType)
	assert.Equal(t, int64(8), d.Size)

	docs, err := f.svc.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	dl, err := f.svc.OpenDocument(ctx, d.ID)
	require.NoError(t, err)
	body, _ := io.ReadAll(dl)
	dl.Close()
	assert.Equal(t, "%PDF-1.7", string(body))
	assert.Equal(t, "Ata de Reunião.pdf", dl.Filename)

	require.NoError(t, f.svc.DeleteDocument(ctx, d.ID))
	_, err = f.svc.OpenDocument(ctx, d.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteDocument(ctx, d.ID), storage.ErrNotFound)
}

func TestUploadDocument_RollsBackObject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewService(failingStore{Store: f.store}, f.objects)

	_, err := svc.UploadDocument(ctx, DocumentInput{Title: "Doc", File: upload("a.zip", "zip")})
	require.Error(t, err)
	require.Len(t, f.objects.removed, 1)

	objs, err := f.objects.List(ctx, objectstore.BucketDocuments, "")
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestDownloadName(t *testing.T) {
	assert.Equal(t, "Report.pdf", downloadName("Report", "1-abc.pdf"))
	assert.Equal(t, "report.PDF", downloadName("report.PDF", "1-abc.pdf"))
	assert.Equal(t, "Plain", downloadName("Plain", "noext"))
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, err := f.svc.SavePost(ctx, PostInput{Title: "Post " + string(rune('A'+i)), Content: "c"})
		require.NoError(t, err)
	}
	_, err := f.svc.CreateTag(ctx, TagInput{Name: "t"})
	require.NoError(t, err)

	st, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, st.Posts)
	assert.Equal(t, 1, st.Tags)
	assert.Equal(t, 0, st.Documents)
	require.Len(t, st.Recent, RecentPostsLimit)
	assert.Equal(t, "Post G", st.Recent[0].Title)
}
