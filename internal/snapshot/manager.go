// Package snapshot backs the request history database up to object storage
// and restores it when a fresh container starts without one.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	domerrors "github.com/garyellow/igrelay/internal/errors"
)

// ObjectStore is the subset of the R2 client the manager needs.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// Source produces a consistent copy of the live database.
type Source interface {
	VacuumInto(ctx context.Context, dest string) error
}

// Config holds snapshot manager configuration.
type Config struct {
	Key     string // object key, e.g. "snapshots/history.db.zst"
	TempDir string // scratch space for uncompressed and compressed copies
}

// Manager uploads and restores snapshots.
type Manager struct {
	store ObjectStore
	cfg   Config
}

// New creates a snapshot manager.
func New(store ObjectStore, cfg Config) *Manager {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	return &Manager{store: store, cfg: cfg}
}

// Upload snapshots src, compresses it and uploads it under the configured key.
// It returns the ETag of the uploaded object.
func (m *Manager) Upload(ctx context.Context, src Source) (string, error) {
	base := filepath.Join(m.cfg.TempDir, "snapshot_"+uuid.NewString())
	rawPath, zstPath := base+".db", base+".db.zst"
	defer func() {
		_ = os.Remove(rawPath)
		_ = os.Remove(zstPath)
	}()

	if err := src.VacuumInto(ctx, rawPath); err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}
	if err := CompressFile(rawPath, zstPath); err != nil {
		return "", fmt.Errorf("compress snapshot: %w", err)
	}

	f, err := os.Open(zstPath)
	if err != nil {
		return "", fmt.Errorf("open compressed snapshot: %w", err)
	}
	defer func() { _ = f.Close() }()

	etag, err := m.store.Upload(ctx, m.cfg.Key, f, "application/zstd")
	if err != nil {
		return "", fmt.Errorf("upload snapshot: %w", err)
	}
	return etag, nil
}

// RestoreIfMissing downloads the latest snapshot into dbPath when no database
// exists there yet. It reports whether a snapshot was restored; a missing
// snapshot is not an error.
func (m *Manager) RestoreIfMissing(ctx context.Context, dbPath string) (bool, error) {
	if _, err := os.Stat(dbPath); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat database: %w", err)
	}

	body, _, err := m.store.Download(ctx, m.cfg.Key)
	if err != nil {
		if errors.Is(err, domerrors.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("download snapshot: %w", err)
	}
	defer func() { _ = body.Close() }()

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return false, fmt.Errorf("create database directory: %w", err)
	}

	// Decompress next to the target and rename, so a failed download never
	// leaves a truncated database behind.
	tmp := dbPath + ".restore"
	if err := DecompressStream(body, tmp); err != nil {
		_ = os.Remove(tmp)
		return false, fmt.Errorf("decompress snapshot: %w", err)
	}
	if err := os.Rename(tmp, dbPath); err != nil {
		_ = os.Remove(tmp)
		return false, fmt.Errorf("install snapshot: %w", err)
	}
	return true, nil
}
