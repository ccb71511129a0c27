package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	appconfig "github.com/ignite/lead-consolidator/internal/config"
)

// ErrNotFound is returned by Open when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Store reads source objects and writes output objects. Keys are
// slash-separated and relative to the store root.
type Store interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Write replaces the object at key. Readers never observe a partial object.
	Write(ctx context.Context, key string, data []byte, contentType string) error
	// Rename moves the object at from to to, replacing any object there.
	Rename(ctx context.Context, from, to string) error
	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
	// URI renders key for logs and run summaries.
	URI(key string) string
}

// New creates the store selected by cfg.Type.
func New(ctx context.Context, cfg appconfig.StorageConfig) (Store, error) {
	switch cfg.Type {
	case "local", "":
		return NewLocalStore(cfg.LocalPath)
	case "s3":
		awsCfg, err := LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewS3Store(newS3Client(awsCfg, cfg.Endpoint), cfg.S3Bucket, cfg.S3Prefix), nil
	default:
		return nil, fmt.Errorf("%w: %q", appconfig.ErrUnknownStorageType, cfg.Type)
	}
}

// cleanKey normalizes key and refuses keys that leave the store root.
func cleanKey(key string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(key))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("invalid key %q", key)
	}
	if strings.Contains(key, "..") && path.Clean(key) != cleaned {
		return "", fmt.Errorf("key %q escapes the store root", key)
	}
	return cleaned, nil
}

// LocalStore keeps objects as files under a root directory.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(k)), nil
}

func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	return f, nil
}

// Write stages data in a temp file next to the target and renames it into
// place.
func (s *LocalStore) Write(_ context.Context, key string, data []byte, _ string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p)+".*.tmp")
	if err != nil {
		return fmt.Errorf("stage %s: %w", p, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("rename into %s: %w", p, err)
	}
	return nil
}

// Rename is a single os.Rename, so it is atomic within one filesystem.
func (s *LocalStore) Rename(_ context.Context, from, to string) error {
	src, err := s.path(from)
	if err != nil {
		return err
	}
	dst, err := s.path(to)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	err = os.Rename(src, dst)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, src)
	}
	if err != nil {
		return fmt.Errorf("rename %s to %s: %w", src, dst, err)
	}
	return nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", p, err)
	}
	return nil
}

func (s *LocalStore) URI(key string) string {
	p, err := s.path(key)
	if err != nil {
		return key
	}
	return "file://" + filepath.ToSlash(p)
}
