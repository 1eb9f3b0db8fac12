package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store writes uploaded files to local disk and serves them from a public
// base URL. The API serves the directory via a static file route.
type Store struct {
	baseDir   string
	publicURL string
}

// New creates a Store rooted at baseDir
func New(baseDir, publicURL string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &Store{
		baseDir:   baseDir,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// Put writes data under key and returns its public URL. Keys may contain
// slashes for namespacing (e.g. "tools/<id>/hero.jpg").
func (s *Store) Put(key string, data []byte) (string, error) {
	clean := filepath.Clean(key)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid storage key: %q", key)
	}

	path := filepath.Join(s.baseDir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return s.publicURL + "/" + filepath.ToSlash(clean), nil
}

// Dir returns the root directory served by the static file route
func (s *Store) Dir() string {
	return s.baseDir
}
