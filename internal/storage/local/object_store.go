// Package local implements a filesystem-backed image object store.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/localnews-pipeline/internal/news"
)

// Config captures the parameters for the local filesystem object store.
type Config struct {
	// BaseDir is the root directory where objects are written.
	BaseDir string
	// PublicBaseURL prefixes keys in returned URLs. Defaults to a file:// URL of BaseDir.
	PublicBaseURL string
}

// ObjectStore writes images to the local filesystem.
type ObjectStore struct {
	baseDir string
	baseURL string
}

// New creates a local filesystem-backed object store, creating BaseDir when needed.
func New(cfg Config) (*ObjectStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}

	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		base = "file://" + filepath.Clean(cfg.BaseDir)
	}
	return &ObjectStore{baseDir: filepath.Clean(cfg.BaseDir), baseURL: base}, nil
}

// Put writes data to path, replacing any existing file, and returns its public URL.
func (s *ObjectStore) Put(_ context.Context, path, _ string, data io.Reader, _ news.PutOptions) (string, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read object data: %w", err)
	}
	if err := os.WriteFile(fullPath, body, 0o600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return s.PublicURL(path), nil
}

// Find returns the first file under prefix whose name starts with namePrefix.
func (s *ObjectStore) Find(_ context.Context, prefix, namePrefix string) (string, bool, error) {
	dir, err := s.resolve(prefix)
	if err != nil {
		return "", false, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read directory %s: %w", prefix, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), namePrefix) {
			return strings.TrimSuffix(prefix, "/") + "/" + entry.Name(), true, nil
		}
	}
	return "", false, nil
}

// List walks every file under prefix. Modification time stands in for creation time.
func (s *ObjectStore) List(_ context.Context, prefix string) ([]news.ObjectInfo, error) {
	root, err := s.resolve(prefix)
	if err != nil {
		return nil, err
	}
	var out []news.ObjectInfo
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			return err
		}
		out = append(out, news.ObjectInfo{
			Name:    filepath.ToSlash(rel),
			Created: info.ModTime(),
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	return out, nil
}

// Delete removes path. Deleting a missing file is not an error.
func (s *ObjectStore) Delete(_ context.Context, path string) error {
	fullPath, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// PublicURL returns the URL served for path.
func (s *ObjectStore) PublicURL(path string) string {
	return s.baseURL + "/" + strings.TrimLeft(path, "/")
}

// resolve joins path onto the base directory and rejects traversal outside it.
func (s *ObjectStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return s.baseDir, nil
	}
	fullPath := filepath.Clean(filepath.Join(s.baseDir, filepath.FromSlash(path)))
	if fullPath != s.baseDir && !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}
