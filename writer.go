package geoingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tingold/geoingest/schema"
)

// DomainLookup returns the allowed values of an EnumText column. It is
// called once per enum column while a file is written.
type DomainLookup func(col schema.Column) ([]string, error)

// WriteOptions configures Create.
type WriteOptions struct {
	Format      Format
	SRID        int    // Spatial reference of the geometry column; defaults to schema.TargetSRID
	Description string // Layer description
	Domains     DomainLookup
}

func (o *WriteOptions) srsName() string {
	if o.SRID == schema.TargetSRID {
		return schema.TargetSRSName
	}
	return fmt.Sprintf("EPSG:%d", o.SRID)
}

func (o *WriteOptions) srsDefinition() string {
	switch o.SRID {
	case schema.TargetSRID:
		return schema.TargetSRSDefinition
	case 4326:
		return wgs84Definition
	}
	return "undefined"
}

// domainHints resolves the enum values of every EnumText column of table,
// keyed by column name. Columns with an empty domain are left out.
func (o *WriteOptions) domainHints(table *schema.Table) (map[string][]string, error) {
	if o.Domains == nil {
		return nil, nil
	}
	hints := make(map[string][]string)
	for _, col := range table.Columns {
		if col.Type != schema.TypeEnumText {
			continue
		}
		values, err := o.Domains(col)
		if err != nil {
			return nil, fmt.Errorf("domain %s: %w", col.Domain, err)
		}
		if len(values) > 0 {
			hints[col.Name] = values
		}
	}
	return hints, nil
}

// Create writes a new single-layer container at path whose layer mirrors
// table, holding rows. Rows map column names to values; absent columns are
// null. An existing file at path is an error. A failed write leaves no file
// behind.
func Create(ctx context.Context, path string, table *schema.Table, rows []map[string]schema.Value, opts *WriteOptions) (err error) {
	if err := table.Validate(); err != nil {
		return err
	}
	o := WriteOptions{}
	if opts != nil {
		o = *opts
	}
	if o.SRID == 0 {
		o.SRID = schema.TargetSRID
	}

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("geoingest: %s already exists", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	domains, err := o.domainHints(table)
	if err != nil {
		return err
	}

	switch o.Format {
	case FormatFlatGeobuf:
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		w := bufio.NewWriter(f)
		err = createFlatGeobuf(w, table, rows, domains, &o)
		if err == nil {
			err = w.Flush()
		}
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		return err
	default:
		return createGeoPackage(ctx, path, table, rows, domains, &o)
	}
}

// TemplateOptions configures WriteTemplate.
type TemplateOptions struct {
	Format      Format
	Dir         string // Parent of the template's temporary directory; os.TempDir() when empty
	Description string
}

// Template is a generated, empty container file.
type Template struct {
	Path   string
	Layer  string
	Format Format
	dir    string
}

// Filename returns the suggested download name, <layer>.<extension>.
func (t *Template) Filename() string {
	return t.Layer + "." + t.Format.Extension()
}

// ContentType returns the media type of the template file.
func (t *Template) ContentType() string {
	return t.Format.ContentType()
}

// Open opens the template file for reading.
func (t *Template) Open() (*os.File, error) {
	return os.Open(t.Path)
}

// Remove deletes the template file and its temporary directory.
func (t *Template) Remove() error {
	if t.dir == "" {
		return os.Remove(t.Path)
	}
	return os.RemoveAll(t.dir)
}

// WriteTemplate writes an empty container for table into a fresh temporary
// directory. Enum columns get their allowed values from lookup, which may be
// nil. The caller owns the result and should Remove it when done.
func WriteTemplate(ctx context.Context, table *schema.Table, lookup DomainLookup, opts *TemplateOptions) (*Template, error) {
	o := TemplateOptions{}
	if opts != nil {
		o = *opts
	}

	dir, err := os.MkdirTemp(o.Dir, "geoingest-template-*")
	if err != nil {
		return nil, err
	}
	t := &Template{
		Path:   filepath.Join(dir, table.Layer+"."+o.Format.Extension()),
		Layer:  table.Layer,
		Format: o.Format,
		dir:    dir,
	}

	err = Create(ctx, t.Path, table, nil, &WriteOptions{
		Format:      o.Format,
		Description: o.Description,
		Domains:     lookup,
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	return t, nil
}
