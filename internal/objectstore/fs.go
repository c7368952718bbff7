package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSStore keeps objects as files under root/<bucket>/<key>.
type FSStore struct {
	root    string
	baseURL string
}

var _ Store = (*FSStore)(nil)

// NewFSStore creates the bucket directories under root.
// baseURL is the prefix PublicURL builds on (e.g. "https://example.com/media").
func NewFSStore(root, baseURL string) (*FSStore, error) {
	for _, b := range []string{BucketPostImages, BucketDocuments, BucketBackups} {
		if err := os.MkdirAll(filepath.Join(root, b), 0o750); err != nil {
			return nil, fmt.Errorf("create bucket dir %s: %w", b, err)
		}
	}
	return &FSStore{root: root, baseURL: baseURL}, nil
}

func (s *FSStore) Name() string { return "fs" }

func (s *FSStore) path(bucket, key string) string {
	return filepath.Join(s.root, bucket, filepath.FromSlash(key))
}

func (s *FSStore) Upload(ctx context.Context, bucket, key string, r io.Reader, _ int64, _ string) error {
	if err := ValidateKey(bucket, key); err != nil {
		return err
	}
	p := s.path(bucket, key)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s/%s: %w", bucket, key, ErrExists)
	}
	if err != nil {
		return fmt.Errorf("create object: %w", err)
	}

	_, err = io.Copy(f, readerWithContext(ctx, r))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(p)
		return fmt.Errorf("write object %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *FSStore) Download(_ context.Context, bucket, key string) (io.ReadCloser, *Object, error) {
	if err := ValidateKey(bucket, key); err != nil {
		return nil, nil, err
	}
	f, err := os.Open(s.path(bucket, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("%s/%s: %w", bucket, key, ErrNotFound)
	}
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, &Object{
		Bucket:       bucket,
		Key:          key,
		Size:         info.Size(),
		ContentType:  mime.TypeByExtension(filepath.Ext(key)),
		LastModified: info.ModTime(),
	}, nil
}

func (s *FSStore) Remove(_ context.Context, bucket string, keys ...string) error {
	for _, key := range keys {
		if err := ValidateKey(bucket, key); err != nil {
			return err
		}
		if err := os.Remove(s.path(bucket, key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s/%s: %w", bucket, key, err)
		}
	}
	return nil
}

func (s *FSStore) List(_ context.Context, bucket, prefix string) ([]Object, error) {
	root := filepath.Join(s.root, bucket)
	var objects []Object
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{
			Bucket:       bucket,
			Key:          key,
			Size:         info.Size(),
			ContentType:  mime.TypeByExtension(filepath.Ext(key)),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", bucket, err)
	}
	sortNewestFirst(objects)
	return objects, nil
}

func (s *FSStore) PublicURL(bucket, key string) string {
	return joinURL(s.baseURL, bucket, key)
}

// sortNewestFirst orders by modification time, breaking ties by key descending
// so timestamp-named keys stay ordered on coarse filesystems.
func sortNewestFirst(objects []Object) {
	sort.Slice(objects, func(i, j int) bool {
		if !objects[i].LastModified.Equal(objects[j].LastModified) {
			return objects[i].LastModified.After(objects[j].LastModified)
		}
		return objects[i].Key > objects[j].Key
	})
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
