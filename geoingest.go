// Package geoingest validates survey vector files (GeoPackage or FlatGeobuf)
// against the table definitions in package schema, and writes empty template
// files whose layer schema matches what the validator accepts.
package geoingest

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by this package.
var (
	ErrUnknownFormat  = errors.New("geoingest: unrecognized container format")
	ErrNoLayer        = errors.New("geoingest: container has no feature layer")
	ErrInvalidData    = errors.New("geoingest: invalid data")
	ErrNilGeometry    = errors.New("geoingest: nil geometry")
	ErrNoGeometry     = errors.New("geoingest: table has no geometry column")
	ErrReaderConsumed = errors.New("geoingest: reader already consumed")
)

// FormatError reports a container that cannot be opened or read. It is fatal
// for the file: no partial validation result exists.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("geoingest: format error: %v", e.Err)
	}
	return fmt.Sprintf("geoingest: format error in %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// Format is a supported vector container format.
type Format int

const (
	FormatGeoPackage Format = iota
	FormatFlatGeobuf
)

// Extension returns the file extension, without the dot.
func (f Format) Extension() string {
	if f == FormatFlatGeobuf {
		return "fgb"
	}
	return "gpkg"
}

// ContentType returns the media type used when serving a file of this format.
func (f Format) ContentType() string {
	if f == FormatFlatGeobuf {
		return "application/octet-stream"
	}
	return "application/geopackage+sqlite3"
}

func (f Format) String() string {
	if f == FormatFlatGeobuf {
		return "FlatGeobuf"
	}
	return "GeoPackage"
}

// ParseFormat accepts a format name or extension ("gpkg", "geopackage", "fgb", "flatgeobuf").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "", "gpkg", "geopackage":
		return FormatGeoPackage, nil
	case "fgb", "flatgeobuf":
		return FormatFlatGeobuf, nil
	}
	return 0, fmt.Errorf("geoingest: unknown format %q", s)
}

// ColumnInfo describes a column as declared inside the container.
type ColumnInfo struct {
	Name     string // Column name
	Type     string // Native type name ("TEXT", "INTEGER", "String", "Long", ...)
	Nullable bool   // Whether the column can contain null values
}

// Header contains metadata about the feature layer being read.
type Header struct {
	Format         Format
	Name           string              // Layer name
	Description    string              // Layer description
	GeometryColumn string              // Primary geometry column, empty for FlatGeobuf
	GeometryType   string              // Geometry type ("POINT", "Polygon", ...)
	SRID           int                 // Spatial reference code, 0 when undeclared
	FeaturesCount  int64               // Number of features, -1 when unknown
	Columns        []ColumnInfo        // Attribute column schema
	Domains        map[string][]string // Enum domain hints keyed by column name
}
