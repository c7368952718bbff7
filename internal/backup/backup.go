// Package backup snapshots the database into the backups bucket and keeps a
// bounded number of copies.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hatemosphere/cms-portal/internal/objectstore"
)

// BackupInfo describes a single backup stored by a Provider.
type BackupInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Provider is the interface for backup storage destinations.
type Provider interface {
	// Upload sends a local file to the backup destination.
	// Returns the remote key/identifier for the uploaded backup.
	Upload(ctx context.Context, localPath string) (remoteKey string, err error)

	// List returns all backups at the destination, ordered newest-first.
	List(ctx context.Context) ([]BackupInfo, error)

	// Delete removes a specific backup by key.
	Delete(ctx context.Context, key string) error

	// Name returns a human-readable name for this provider (e.g., "s3").
	Name() string
}

// Prune deletes backups beyond the retention count from the given provider.
// Expects List to return results sorted newest-first.
// Returns the number of backups deleted.
func Prune(ctx context.Context, p Provider, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	backups, err := p.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list backups for pruning: %w", err)
	}

	if len(backups) <= keep {
		return 0, nil
	}

	deleted := 0
	for _, b := range backups[keep:] {
		if err := p.Delete(ctx, b.Key); err != nil {
			return deleted, fmt.Errorf("delete backup %s: %w", b.Key, err)
		}
		deleted++
	}
	return deleted, nil
}

// KeyPrefix starts every backup object key.
const KeyPrefix = "cms-"

// KeyFor returns the object key of a backup taken at t.
func KeyFor(t time.Time) string {
	return KeyPrefix + t.UTC().Format("20060102-150405") + ".db"
}

// ObjectProvider stores backups in the backups bucket of an object store.
type ObjectProvider struct {
	objects objectstore.Store
}

var _ Provider = (*ObjectProvider)(nil)

// NewObjectProvider creates a provider on top of objects.
func NewObjectProvider(objects objectstore.Store) *ObjectProvider {
	return &ObjectProvider{objects: objects}
}

func (p *ObjectProvider) Upload(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open backup file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat backup file: %w", err)
	}

	key := filepath.Base(localPath)
	if err := p.objects.Upload(ctx, objectstore.BucketBackups, key, f, info.Size(), "application/vnd.sqlite3"); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return key, nil
}

func (p *ObjectProvider) List(ctx context.Context) ([]BackupInfo, error) {
	objs, err := p.objects.List(ctx, objectstore.BucketBackups, KeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]BackupInfo, 0, len(objs))
	for _, o := range objs {
		if !strings.HasSuffix(o.Key, ".db") {
			continue
		}
		out = append(out, BackupInfo{Key: o.Key, Size: o.Size, LastModified: o.LastModified})
	}
	return out, nil
}

func (p *ObjectProvider) Delete(ctx context.Context, key string) error {
	return p.objects.Remove(ctx, objectstore.BucketBackups, key)
}

func (p *ObjectProvider) Name() string {
	return p.objects.Name()
}

// Snapshotter writes a consistent copy of the database to destPath.
type Snapshotter interface {
	Backup(ctx context.Context, destPath string) error
}

// Result describes a completed backup run.
type Result struct {
	Key    string
	Pruned int
}

// Runner takes a snapshot, uploads it and prunes old copies. Runs are
// serialized.
type Runner struct {
	mu        sync.Mutex
	db        Snapshotter
	provider  Provider
	retention int
	now       func() time.Time
}

// NewRunner creates a Runner. retention <= 0 keeps every backup.
func NewRunner(db Snapshotter, provider Provider, retention int) *Runner {
	return &Runner{db: db, provider: provider, retention: retention, now: time.Now}
}

// Run performs one backup.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dir, err := os.MkdirTemp("", "cms-backup-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	local := filepath.Join(dir, KeyFor(r.now()))
	if err := r.db.Backup(ctx, local); err != nil {
		return nil, fmt.Errorf("snapshot database: %w", err)
	}

	key, err := r.provider.Upload(ctx, local)
	if err != nil {
		return nil, err
	}

	res := &Result{Key: key}
	res.Pruned, err = Prune(ctx, r.provider, r.retention)
	if err != nil {
		// The new backup is already stored; report it alongside the prune error.
		return res, err
	}
	slog.Info("backup complete", "provider", r.provider.Name(), "key", key, "pruned", res.Pruned)
	return res, nil
}
