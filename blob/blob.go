// Package blob provides the byte-stream sources uploaded files are read from.
package blob

import (
	"context"
	"errors"
	"io"
	"path"

	"github.com/tingold/geoingest/ingest"
	"github.com/tingold/geoingest/schema"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("blob: object not found")

// Source is a read-only object store.
type Source interface {
	// Open returns a reader over the object stored under key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Upload returns an ingest.Upload reading key from src.
func Upload(src Source, tag schema.Tag, key string) ingest.Upload {
	return ingest.Upload{
		Tag:  tag,
		Name: path.Base(key),
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return src.Open(ctx, key)
		},
	}
}
