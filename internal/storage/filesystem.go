// Package storage provides blob-store implementations: S3-compatible object
// storage for deployments and a local filesystem store for development.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists artifacts onto the local filesystem. It is intended for
// development and test environments where an object storage service is not
// available. Implements domain.BlobStore; public URLs are served from the
// service's static file route.
type FileStore struct {
	basePath      string
	publicBaseURL string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath, publicBaseURL string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{
		basePath:      basePath,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	return s.basePath
}

// Upload writes the artifact bytes at the given relative path. Paths are
// cleaned to prevent directory traversal; the content type is implied by the
// path extension.
func (s *FileStore) Upload(ctx context.Context, path string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cleanPath, err := sanitizePath(path)
	if err != nil {
		return err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanPath))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return fmt.Errorf("storage: write file: %w", err)
	}
	return nil
}

// PublicURL resolves the static-route URL for an uploaded path.
func (s *FileStore) PublicURL(path string) string {
	cleanPath, err := sanitizePath(path)
	if err != nil {
		cleanPath = path
	}
	if s.publicBaseURL == "" {
		return cleanPath
	}
	return s.publicBaseURL + "/" + cleanPath
}

// sanitizePath normalizes a storage path and prevents escaping the root.
func sanitizePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", errors.New("storage: path is required")
	}
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimPrefix(path, "./")
	path = strings.TrimLeft(path, "/")
	cleaned := filepath.Clean(path)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid path")
	}
	return cleaned, nil
}
