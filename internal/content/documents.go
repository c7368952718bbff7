package content

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/hatemosphere/cms-portal/internal/objectstore"
	"github.com/hatemosphere/cms-portal/internal/storage"
)

// DocumentExtensions lists the file types accepted for documents.
var DocumentExtensions = []string{"pdf", "doc", "docx", "xls", "xlsx", "jpg", "jpeg", "png", "zip"}

func allowedDocument(ext string) bool {
	for _, e := range DocumentExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// DocumentInput is a new document upload.
type DocumentInput struct {
	Title       string
	Description string
	File        Upload
	UploadedBy  string
}

// ListDocuments returns every document newest first.
func (s *Service) ListDocuments(ctx context.Context) ([]storage.Document, error) {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// UploadDocument stores the file and then its metadata. The object is
// removed again if the metadata cannot be saved.
func (s *Service) UploadDocument(ctx context.Context, in DocumentInput) (*storage.Document, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, invalid("title is required")
	}
	if in.File.empty() {
		return nil, invalid("file is required")
	}
	ext := in.File.ext()
	if !allowedDocument(ext) {
		return nil, invalid("file type not allowed; accepted: " + strings.Join(DocumentExtensions, ", "))
	}

	key := fmt.Sprintf("%d-%s.%s", s.now().UnixMilli(), randomSuffix(7), ext)
	ct := in.File.contentType()
	if err := s.objects.Upload(ctx, objectstore.BucketDocuments, key, in.File.Body, in.File.Size, ct); err != nil {
		return nil, fmt.Errorf("upload document: %w", err)
	}

	d := &storage.Document{
		ID:          uuid.NewString(),
		Title:       title,
		FilePath:    key,
		ContentType: ct,
		Size:        in.File.Size,
		UploadedBy:  in.UploadedBy,
		CreatedAt:   s.now(),
	}
	if desc := strings.TrimSpace(in.Description); desc != "" {
		d.Description = &desc
	}
	if d.Size < 0 {
		if obj := s.stat(ctx, key); obj != nil {
			d.Size = obj.Size
		} else {
			d.Size = 0
		}
	}
	if err := s.store.CreateDocument(ctx, d); err != nil {
		if rerr := s.objects.Remove(ctx, objectstore.BucketDocuments, key); rerr != nil {
			slog.Error("failed to roll back document upload", "key", key, "error", rerr)
		}
		return nil, fmt.Errorf("save document: %w", err)
	}
	return d, nil
}

func (s *Service) stat(ctx context.Context, key string) *objectstore.Object {
	objs, err := s.objects.List(ctx, objectstore.BucketDocuments, key)
	if err != nil {
		return nil
	}
	for i := range objs {
		if objs[i].Key == key {
			return &objs[i]
		}
	}
	return nil
}

// DeleteDocument removes the object and then the row.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	d, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}
	if d == nil {
		return notFound("document not found")
	}
	if err := s.objects.Remove(ctx, objectstore.BucketDocuments, d.FilePath); err != nil {
		return fmt.Errorf("remove document object: %w", err)
	}
	if err := s.store.DeleteDocument(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return notFound("document not found")
		}
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Download is an open document ready to stream.
type Download struct {
	io.ReadCloser
	Document    *storage.Document
	Filename    string
	ContentType string
	Size        int64
}

// OpenDocument opens a document for download. The caller closes it.
func (s *Service) OpenDocument(ctx context.Context, id string) (*Download, error) {
	d, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if d == nil {
		return nil, notFound("document not found")
	}
	rc, obj, err := s.objects.Download(ctx, objectstore.BucketDocuments, d.FilePath)
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, notFound("document file is missing")
	}
	if err != nil {
		return nil, fmt.Errorf("download document: %w", err)
	}
	ct := d.ContentType
	if ct == "" {
		ct = obj.ContentType
	}
	return &Download{
		ReadCloser:  rc,
		Document:    d,
		Filename:    downloadName(d.Title, d.FilePath),
		ContentType: ct,
		Size:        obj.Size,
	}, nil
}

// downloadName is the title with the stored extension appended when missing.
func downloadName(title, key string) string {
	ext := ""
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		ext = key[i:]
	}
	if ext == "" || strings.HasSuffix(strings.ToLower(title), strings.ToLower(ext)) {
		return title
	}
	return title + ext
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSuffix(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	for i := range b {
		b[i] = suffixAlphabet[int(b[i])%len(suffixAlphabet)]
	}
	return string(b)
}
