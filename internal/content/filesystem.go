package content

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FileStore keeps content as files under a root directory of an afero filesystem.
type FileStore struct {
	fs   afero.Fs
	root string
}

// NewFileStore prepares root on the provided filesystem.
func NewFileStore(filesystem afero.Fs, root string) (*FileStore, error) {
	if filesystem == nil {
		return nil, errors.New("content: filesystem is required")
	}
	if root == "" {
		return nil, errors.New("content: root directory is required")
	}
	if err := filesystem.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("content: create root: %w", err)
	}
	return &FileStore{fs: filesystem, root: root}, nil
}

// NewOSFileStore stores content on the local disk under root.
func NewOSFileStore(root string) (*FileStore, error) {
	return NewFileStore(afero.NewOsFs(), root)
}

func (s *FileStore) Save(ctx context.Context, data []byte, ownerID, versionID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ref, err := ReferenceFor(ownerID, versionID, data)
	if err != nil {
		return "", err
	}
	target := filepath.Join(s.root, ref)
	staging := target + ".partial"

	file, err := s.fs.OpenFile(staging, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("content: open %s: %w", ref, err)
	}
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = s.fs.Remove(staging)
		return "", fmt.Errorf("content: write %s: %w", ref, err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = s.fs.Remove(staging)
		return "", fmt.Errorf("content: sync %s: %w", ref, err)
	}
	if err := file.Close(); err != nil {
		_ = s.fs.Remove(staging)
		return "", fmt.Errorf("content: close %s: %w", ref, err)
	}
	if err := s.fs.Rename(staging, target); err != nil {
		_ = s.fs.Remove(staging)
		return "", fmt.Errorf("content: publish %s: %w", ref, err)
	}
	return ref, nil
}

func (s *FileStore) Read(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateReference(ref); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, filepath.Join(s.root, ref))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("content: read %s: %w", ref, err)
	}
	return data, nil
}

func (s *FileStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateReference(ref); err != nil {
		return err
	}
	err := s.fs.Remove(filepath.Join(s.root, ref))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("content: delete %s: %w", ref, err)
	}
	return nil
}
