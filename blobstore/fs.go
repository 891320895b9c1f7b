package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FS is a filesystem-backed [Store] for tests and single-node deploys.
//
// Objects land as plain files under the root directory; metadata beyond the
// body is dropped. Writes go through a temp file and a rename, so readers
// never observe partial objects.
type FS struct {
	root string
}

var _ Store = (*FS)(nil)

// NewFS returns an FS rooted at dir, creating it if needed.
func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: %w", err)
	}
	return &FS{root: dir}, nil
}

// Put implements [Store].
func (s *FS) Put(ctx context.Context, key string, opts PutOpts, body io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if filepath.Base(key) != key || key == "." || key == ".." {
		return fmt.Errorf("blobstore: invalid key %q", key)
	}
	f, err := os.CreateTemp(s.root, ".tmp.*")
	if err != nil {
		return fmt.Errorf("blobstore: %w", err)
	}
	defer func() {
		f.Close()
		os.Remove(f.Name())
	}()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(f, h), body); err != nil {
		return fmt.Errorf("blobstore: writing %q: %w", key, err)
	}
	if opts.SHA256Hex != "" {
		if got := hex.EncodeToString(h.Sum(nil)); got != opts.SHA256Hex {
			return fmt.Errorf("blobstore: %q: checksum mismatch: got %s, want %s", key, got, opts.SHA256Hex)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("blobstore: syncing %q: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("blobstore: closing %q: %w", key, err)
	}
	if err := os.Rename(f.Name(), filepath.Join(s.root, key)); err != nil {
		return fmt.Errorf("blobstore: publishing %q: %w", key, err)
	}
	return nil
}
