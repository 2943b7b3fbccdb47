package ingest

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/tingold/geoingest/schema"
)

// Upload is one user-supplied file tagged with the document category it
// belongs to.
type Upload struct {
	Tag  schema.Tag
	Name string
	Open func(ctx context.Context) (io.ReadCloser, error)
}

// FileUpload returns an Upload reading the file at path.
func FileUpload(tag schema.Tag, path string) Upload {
	return Upload{
		Tag:  tag,
		Name: path,
		Open: func(context.Context) (io.ReadCloser, error) { return os.Open(path) },
	}
}

// Store is the spatial database validated rows are written to.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx is one store transaction. Rows hold driver values in table column
// order; geometries are EWKB tagged with schema.TargetSRID.
type Tx interface {
	InsertRows(ctx context.Context, table *schema.Table, rows [][]any) (int64, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// StoreError reports a failed store operation during a commit. The run's
// transaction has been rolled back.
type StoreError struct {
	Op    string // "begin", "insert" or "commit"
	Layer string // Table being written, empty for begin/commit
	Err   error
}

func (e *StoreError) Error() string {
	if e.Layer == "" {
		return fmt.Sprintf("ingest: store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ingest: store %s %s: %v", e.Op, e.Layer, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// DomainSource supplies the current allowed values of an enum domain.
type DomainSource interface {
	EnumValues(ctx context.Context, domain string) ([]string, error)
}

// StaticDomains is a DomainSource backed by a fixed map, for use without a
// database.
type StaticDomains map[string][]string

// EnumValues returns the configured values of domain, or none.
func (d StaticDomains) EnumValues(_ context.Context, domain string) ([]string, error) {
	return d[domain], nil
}

// LoadDomains fetches the enum domains of table from src, keyed by domain
// name. A nil src yields nil.
func LoadDomains(ctx context.Context, src DomainSource, table *schema.Table) (map[string][]string, error) {
	if src == nil {
		return nil, nil
	}
	out := make(map[string][]string)
	for _, name := range table.Domains() {
		values, err := src.EnumValues(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("ingest: load domain %s: %w", name, err)
		}
		out[name] = values
	}
	return out, nil
}
