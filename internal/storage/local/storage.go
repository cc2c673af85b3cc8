package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/aliskhannn/upload-backgrounder/internal/storage"
)

// Storage provides a simple file-based storage backend.
// It stores files under a specified base path on the local filesystem.
type Storage struct {
	basePath string
}

// NewStorage creates a new Storage instance with the given basePath.
// The basePath defines the root directory where files will be stored.
func NewStorage(basePath string) *Storage {
	return &Storage{basePath: basePath}
}

// Save stores src in the given subdirectory (e.g. "cache/<id>" or "uploads/...")
// under filename. The returned path is relative to the base path.
func (s *Storage) Save(_ context.Context, subdir, filename string, src io.Reader) (string, error) {
	dir := filepath.Join(s.basePath, filepath.FromSlash(subdir))
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	dstPath := filepath.Join(dir, filename)
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file %s: %w", dstPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to save file %s: %w", dstPath, err)
	}

	return filepath.ToSlash(filepath.Join(subdir, filename)), nil
}

// Load opens the file at path and returns a reader.
func (s *Storage) Load(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(s.abs(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	return f, nil
}

// Delete removes the file at path. Removing a missing file is not an error.
// Directories left empty by the removal are pruned up to the base path.
func (s *Storage) Delete(_ context.Context, path string) error {
	abs := s.abs(path)
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}

	base := filepath.Clean(s.basePath)
	for dir := filepath.Dir(abs); dir != base && len(dir) > len(base); dir = filepath.Dir(dir) {
		if err := os.Remove(dir); err != nil {
			break
		}
	}

	return nil
}

func (s *Storage) abs(path string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(path))
}
