package geoingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tingold/geoingest/schema"
)

// ReaderOption configures a Reader.
type ReaderOption func(*readerOptions)

type readerOptions struct {
	domains map[string][]string
	tempDir string
	layer   string
}

// WithDomains enables enum membership checks: an EnumText value that is not
// in its column's domain is reported as WrongType. Domains are keyed by
// domain name (schema.Column.Domain).
func WithDomains(domains map[string][]string) ReaderOption {
	return func(o *readerOptions) { o.domains = domains }
}

// WithTempDir sets the directory NewReader spools streams into.
func WithTempDir(dir string) ReaderOption {
	return func(o *readerOptions) { o.tempDir = dir }
}

// WithLayer selects the layer to read when a GeoPackage holds several. A
// named layer must exist. By default the layer named like the table's layer
// is preferred and the first feature layer is read otherwise.
func WithLayer(name string) ReaderOption {
	return func(o *readerOptions) { o.layer = name }
}

// Reader streams the features of a single-layer container and validates
// each one against a table definition.
//
// The feature sequence is single-pass. ReadAll, Errors and IsValid consume it,
// so use either one of them or Next, not both.
type Reader struct {
	path    string
	table   *schema.Table
	cur     cursor
	hdr     *Header
	domains map[string]map[string]bool

	feature *Feature
	err     error
	started bool
	done    bool
	closed  bool
	spooled string
}

// Open opens the container at path for validation against table. Failing to
// open the container or to locate a feature layer returns a *FormatError.
func Open(ctx context.Context, path string, table *schema.Table, opts ...ReaderOption) (*Reader, error) {
	if table == nil {
		return nil, fmt.Errorf("geoingest: nil table")
	}
	o := readerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	layer, exact := o.layer, o.layer != ""
	if !exact {
		layer = table.Layer
	}

	format, err := sniffFile(path)
	if err != nil {
		return nil, &FormatError{Path: path, Err: err}
	}

	var cur cursor
	switch format {
	case FormatFlatGeobuf:
		cur, err = openFlatGeobuf(path)
	default:
		cur, err = openGeoPackage(ctx, path, layer, exact)
	}
	if err != nil {
		return nil, &FormatError{Path: path, Err: err}
	}

	r := &Reader{
		path:  path,
		table: table,
		cur:   cur,
		hdr:   cur.header(),
	}
	if len(o.domains) > 0 {
		r.domains = make(map[string]map[string]bool, len(o.domains))
		for name, values := range o.domains {
			// An empty domain carries no information.
			if len(values) == 0 {
				continue
			}
			set := make(map[string]bool, len(values))
			for _, v := range values {
				set[v] = true
			}
			r.domains[name] = set
		}
	}
	return r, nil
}

// NewReader spools rd into a temporary file and opens it like Open. The
// temporary file is removed by Close.
func NewReader(ctx context.Context, rd io.Reader, table *schema.Table, opts ...ReaderOption) (*Reader, error) {
	o := readerOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	tmp, err := os.CreateTemp(o.tempDir, "geoingest-upload-*")
	if err != nil {
		return nil, fmt.Errorf("geoingest: spool upload: %w", err)
	}
	name := tmp.Name()
	_, err = io.Copy(tmp, rd)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(name)
		return nil, fmt.Errorf("geoingest: spool upload: %w", err)
	}

	r, err := Open(ctx, name, table, opts...)
	if err != nil {
		_ = os.Remove(name)
		return nil, err
	}
	r.spooled = name
	return r, nil
}

// Header returns metadata about the layer being read.
func (r *Reader) Header() *Header {
	return r.hdr
}

// Table returns the table definition features are validated against.
func (r *Reader) Table() *schema.Table {
	return r.table
}

// Next advances to the next feature. It returns false at the end of the
// layer or on a read error; check Err afterwards.
func (r *Reader) Next() bool {
	r.started = true
	if r.done || r.closed {
		r.feature = nil
		return false
	}

	raw, err := r.cur.next()
	if err != nil {
		r.done = true
		r.feature = nil
		if !errors.Is(err, io.EOF) {
			r.err = &FormatError{Path: r.path, Err: err}
		}
		r.release()
		return false
	}

	r.feature = r.validate(raw)
	return true
}

// Feature returns the feature produced by the last call to Next.
func (r *Reader) Feature() *Feature {
	return r.feature
}

// Err returns the error, if any, that stopped iteration.
func (r *Reader) Err() error {
	return r.err
}

// ReadAll consumes the reader and returns every feature.
func (r *Reader) ReadAll() ([]*Feature, error) {
	if r.started {
		return nil, ErrReaderConsumed
	}
	var features []*Feature
	for r.Next() {
		features = append(features, r.feature)
	}
	return features, r.err
}

// Errors consumes the reader and returns every validation error in file order.
func (r *Reader) Errors() ([]ValidationError, error) {
	if r.started {
		return nil, ErrReaderConsumed
	}
	var errs []ValidationError
	for r.Next() {
		errs = append(errs, r.feature.Errors...)
	}
	return errs, r.err
}

// IsValid consumes the reader and reports whether no feature had a
// validation error.
func (r *Reader) IsValid() (bool, error) {
	errs, err := r.Errors()
	if err != nil {
		return false, err
	}
	return len(errs) == 0, nil
}

// Close releases the container and removes any spooled upload. It is safe to
// call more than once.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.release()
	if r.spooled != "" {
		if rerr := os.Remove(r.spooled); rerr != nil && !errors.Is(rerr, os.ErrNotExist) && err == nil {
			err = rerr
		}
		r.spooled = ""
	}
	return err
}

func (r *Reader) release() error {
	if r.cur == nil {
		return nil
	}
	err := r.cur.close()
	r.cur = nil
	return err
}
