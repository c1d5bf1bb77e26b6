package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/menta2k/piece-locator/pkg/reference"
)

const fileExt = ".pls"

// FileStore keeps one file per set in a directory
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the store directory
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(fingerprint string) string {
	return filepath.Join(s.dir, fingerprint+fileExt)
}

// Save writes set, replacing any previous file atomically
func (s *FileStore) Save(ctx context.Context, set *reference.Set) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkFingerprint(set.Fingerprint()); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "set-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, set); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write descriptor set: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(set.Fingerprint())); err != nil {
		return fmt.Errorf("failed to store descriptor set: %w", err)
	}
	return nil
}

// Load reads the set for fingerprint
func (s *FileStore) Load(ctx context.Context, fingerprint string) (*reference.Set, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkFingerprint(fingerprint); err != nil {
		return nil, err
	}

	f, err := os.Open(s.path(fingerprint))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Delete removes the set for fingerprint. Deleting a missing set is not an error.
func (s *FileStore) Delete(ctx context.Context, fingerprint string) error {
	if err := checkFingerprint(fingerprint); err != nil {
		return err
	}
	err := os.Remove(s.path(fingerprint))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
