// Package blob persists raw uploaded files on the local filesystem under
// a single uploads directory. Paths are always derived from the document
// ID plus a sanitized filename, never from client input directly.
package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/linecook-ai/linecook/pkg/domain"
)

type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Put(_ context.Context, documentID, safeFilename string, data []byte) (string, error) {
	name := fmt.Sprintf("%s_%s", documentID, safeFilename)
	path := filepath.Join(s.dir, name)
	if !s.inside(path) {
		return "", fmt.Errorf("%w: blob path escapes uploads directory", domain.ErrSecurityViolation)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	return path, nil
}

func (s *FileStore) Get(_ context.Context, path string) ([]byte, error) {
	if !s.inside(path) {
		return nil, fmt.Errorf("%w: blob path escapes uploads directory", domain.ErrSecurityViolation)
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: blob", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (s *FileStore) Delete(_ context.Context, path string) error {
	if !s.inside(path) {
		return fmt.Errorf("%w: blob path escapes uploads directory", domain.ErrSecurityViolation)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

func (s *FileStore) inside(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	dir, err := filepath.Abs(s.dir)
	if err != nil {
		return false
	}
	return abs == dir || strings.HasPrefix(abs, dir+string(filepath.Separator))
}
