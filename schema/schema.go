// Package schema holds the compiled table definitions that uploaded survey
// files are validated against, and the typed values the validator produces.
package schema

import (
	"fmt"
	"strings"
)

// TargetSRID is the spatial reference every stored geometry is expressed in
// (ETRS89 / TM35FIN).
const TargetSRID = 3067

// TargetSRSName is the human-readable name of TargetSRID.
const TargetSRSName = "ETRS89 / TM35FIN(E,N)"

// TargetSRSDefinition is the OGC WKT definition of TargetSRID, written into
// generated containers.
const TargetSRSDefinition = `PROJCS["ETRS89 / TM35FIN(E,N)",GEOGCS["ETRS89",DATUM["European_Terrestrial_Reference_System_1989",SPHEROID["GRS 1980",6378137,298.257222101,AUTHORITY["EPSG","7019"]],TOWGS84[0,0,0,0,0,0,0],AUTHORITY["EPSG","6258"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4258"]],PROJECTION["Transverse_Mercator"],PARAMETER["latitude_of_origin",0],PARAMETER["central_meridian",27],PARAMETER["scale_factor",0.9996],PARAMETER["false_easting",500000],PARAMETER["false_northing",0],UNIT["metre",1,AUTHORITY["EPSG","9001"]],AXIS["Easting",EAST],AXIS["Northing",NORTH],AUTHORITY["EPSG","3067"]]`

// Type is the semantic type of a column.
type Type int

const (
	TypeText Type = iota + 1
	TypeInteger
	TypeReal
	TypeBoolean
	TypeDate
	TypeEnumText
	TypeGeometry
)

var typeNames = map[Type]string{
	TypeText:     "Text",
	TypeInteger:  "Integer",
	TypeReal:     "Real",
	TypeBoolean:  "Boolean",
	TypeDate:     "Date",
	TypeEnumText: "EnumText",
	TypeGeometry: "Geometry",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// GeometryKind restricts the geometries a geometry column accepts.
type GeometryKind int

const (
	AnyGeometry GeometryKind = iota
	Point
	LineString
	Polygon
	MultiPoint
	MultiLineString
	MultiPolygon
)

var geometryKindNames = map[GeometryKind]string{
	AnyGeometry:     "GEOMETRY",
	Point:           "POINT",
	LineString:      "LINESTRING",
	Polygon:         "POLYGON",
	MultiPoint:      "MULTIPOINT",
	MultiLineString: "MULTILINESTRING",
	MultiPolygon:    "MULTIPOLYGON",
}

// String returns the OGC geometry type name, as used by GeoPackage and PostGIS.
func (k GeometryKind) String() string {
	if s, ok := geometryKindNames[k]; ok {
		return s
	}
	return "GEOMETRY"
}

// Column is one declared column of a table.
type Column struct {
	Name string
	Type Type
	// Domain names the enumeration (a PostgreSQL enum type) for TypeEnumText.
	Domain string
	// Geometry is only meaningful for TypeGeometry.
	Geometry GeometryKind
	Nullable bool
	// Lenient columns are carried through templates and inserts but never
	// produce validation errors. Only the legacy citation column uses it.
	Lenient bool
}

// Table is the schema of one layer.
type Table struct {
	Layer   string
	Columns []Column
}

// Clone returns a copy of t that shares no column storage with it.
func (t *Table) Clone() *Table {
	return &Table{Layer: t.Layer, Columns: append([]Column(nil), t.Columns...)}
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// GeometryColumn returns the table's geometry column, if it has one.
func (t *Table) GeometryColumn() (Column, bool) {
	for _, c := range t.Columns {
		if c.Type == TypeGeometry {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in declaration order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Domains returns the distinct enum domain names used by the table, in column order.
func (t *Table) Domains() []string {
	var out []string
	seen := make(map[string]bool)
	for _, c := range t.Columns {
		if c.Type != TypeEnumText || seen[c.Domain] {
			continue
		}
		seen[c.Domain] = true
		out = append(out, c.Domain)
	}
	return out
}

// Validate checks the structural invariants of a table definition.
func (t *Table) Validate() error {
	if t.Layer == "" {
		return fmt.Errorf("schema: table has no layer name")
	}
	seen := make(map[string]bool, len(t.Columns))
	geoms := 0
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("schema: %s: column without a name", t.Layer)
		}
		key := strings.ToLower(c.Name)
		if seen[key] {
			return fmt.Errorf("schema: %s: duplicate column %q", t.Layer, c.Name)
		}
		seen[key] = true
		switch c.Type {
		case TypeGeometry:
			geoms++
		case TypeEnumText:
			if c.Domain == "" {
				return fmt.Errorf("schema: %s.%s: enum column without a domain", t.Layer, c.Name)
			}
		}
	}
	if geoms > 1 {
		return fmt.Errorf("schema: %s: more than one geometry column", t.Layer)
	}
	return nil
}
