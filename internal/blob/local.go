package blob

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore stores objects as files under a base directory. Intended for
// development and single-node deployments.
type LocalStore struct {
	baseDir string
	logger  *slog.Logger
}

// NewLocalStore creates a local store rooted at baseDir, creating the
// directory if needed. If logger is nil, a default logger will be used.
func NewLocalStore(baseDir string, logger *slog.Logger) (*LocalStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStore{
		baseDir: abs,
		logger:  logger.With(slog.String("component", "local_storage")),
	}, nil
}

// Ensure LocalStore implements the Store interface
var _ Store = (*LocalStore)(nil)

// Put implements Store.Put
func (s *LocalStore) Put(ctx context.Context, localPath, key string) error {
	target, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	if err := copyFile(localPath, target); err != nil {
		return fmt.Errorf("failed to store object %q: %w", key, err)
	}

	s.logger.Debug("object stored", slog.String("key", key))
	return nil
}

// Get implements Store.Get
func (s *LocalStore) Get(ctx context.Context, key, localPath string) error {
	source, err := s.path(key)
	if err != nil {
		return err
	}

	if _, err := os.Stat(source); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	if err := copyFile(source, localPath); err != nil {
		return fmt.Errorf("failed to fetch object %q: %w", key, err)
	}

	return nil
}

// URL implements Store.URL by returning a file:// URL for the stored object.
func (s *LocalStore) URL(ctx context.Context, key string) (string, error) {
	target, err := s.path(key)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(target); os.IsNotExist(err) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	u := url.URL{Scheme: "file", Path: filepath.ToSlash(target)}
	return u.String(), nil
}

// Delete implements Store.Delete
func (s *LocalStore) Delete(ctx context.Context, key string) error {
	target, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}

	return nil
}

// List implements Store.List
func (s *LocalStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}

	err := filepath.WalkDir(s.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return err
		}

		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects under %q: %w", prefix, err)
	}

	return keys, nil
}

// Exists implements Store.Exists
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	target, err := s.path(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(target); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// path maps a storage key onto the local filesystem.
func (s *LocalStore) path(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(key)), nil
}

// copyFile copies src to dst, truncating dst if it exists.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}

	return out.Close()
}
