package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Local is a Source backed by a directory. Keys are slash-separated paths
// relative to the directory.
type Local struct {
	basePath string
}

// NewLocal creates a Local rooted at basePath, which must exist.
func NewLocal(basePath string) (*Local, error) {
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("blob: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("blob: %s is not a directory", basePath)
	}
	return &Local{basePath: basePath}, nil
}

func (l *Local) fullPath(key string) (string, error) {
	clean := filepath.FromSlash(strings.TrimPrefix(key, "/"))
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("blob: key %q escapes the base directory", key)
	}
	return filepath.Join(l.basePath, clean), nil
}

// Open opens the file stored under key.
func (l *Local) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := l.fullPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return f, err
}

// List returns the keys of the regular files under prefix.
func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(l.basePath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.basePath, p)
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
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
