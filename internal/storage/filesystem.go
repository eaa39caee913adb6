package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore resolves generated artifacts on the local filesystem. Workers
// record artifact locations either as absolute paths or as keys relative to
// the store root.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Resolve maps a recorded artifact location to an existing file path.
// Absolute paths (written by the worker into its own directories) pass
// through; relative keys are sanitized and joined to the store root so they
// cannot escape it.
func (s *FileStore) Resolve(location string) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	location = strings.TrimSpace(location)
	if location == "" {
		return "", errors.New("storage: location is required")
	}

	var full string
	if filepath.IsAbs(location) {
		full = filepath.Clean(location)
	} else {
		key, err := sanitizeKey(location)
		if err != nil {
			return "", err
		}
		full = filepath.Join(s.basePath, filepath.FromSlash(key))
	}

	info, err := os.Stat(full)
	if err != nil {
		return "", fmt.Errorf("storage: stat %s: %w", full, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("storage: %s is a directory", full)
	}
	return full, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
