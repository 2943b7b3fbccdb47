package geoingest

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/tingold/geoingest/schema"
	_ "modernc.org/sqlite"
)

const sqliteDriver = "sqlite"

// GeoPackage header values ("GPKG" and version 1.3.0).
const (
	gpkgApplicationID = 0x47504B47
	gpkgUserVersion   = 10300
)

// envelope byte sizes by the 3-bit envelope contents indicator.
var gpkgEnvelopeSizes = map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}

// gpkgCursor walks the rows of one feature table.
type gpkgCursor struct {
	db      *sql.DB
	rows    *sql.Rows
	hdr     *Header
	columns []string
	pk      string
	geom    string
	ordinal int
}

func openGeoPackage(ctx context.Context, path, preferred string, exact bool) (cursor, error) {
	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		return nil, err
	}
	c := &gpkgCursor{db: db}
	opened := false
	defer func() {
		if !opened {
			_ = c.close()
		}
	}()

	// One connection so the query_only pragma covers every statement.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		return nil, err
	}

	layer, err := findFeatureLayer(ctx, db, preferred, exact)
	if err != nil {
		return nil, err
	}
	hdr, pk, err := describeLayer(ctx, db, layer)
	if err != nil {
		return nil, err
	}
	c.hdr = hdr
	c.pk = pk
	c.geom = hdr.GeometryColumn

	order := "rowid"
	if pk != "" {
		order = quoteIdent(pk)
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY %s", quoteIdent(layer), order))
	if err != nil {
		return nil, fmt.Errorf("query layer %s: %w", layer, err)
	}
	c.rows = rows
	if c.columns, err = rows.Columns(); err != nil {
		return nil, err
	}

	opened = true
	return c, nil
}

// findFeatureLayer returns the preferred feature table if the package has
// one, otherwise the first feature table by name. With exact set the
// preferred table is required.
func findFeatureLayer(ctx context.Context, db *sql.DB, preferred string, exact bool) (string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT table_name FROM gpkg_contents WHERE data_type = 'features' ORDER BY table_name`)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoLayer, err)
	}
	defer rows.Close()

	var layers []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", err
		}
		layers = append(layers, name)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(layers) == 0 {
		return "", ErrNoLayer
	}
	for _, name := range layers {
		if strings.EqualFold(name, preferred) {
			return name, nil
		}
	}
	if exact {
		return "", fmt.Errorf("%w: %s", ErrNoLayer, preferred)
	}
	return layers[0], nil
}

func describeLayer(ctx context.Context, db *sql.DB, layer string) (*Header, string, error) {
	hdr := &Header{
		Format:        FormatGeoPackage,
		Name:          layer,
		FeaturesCount: -1,
	}

	var description sql.NullString
	if err := db.QueryRowContext(ctx,
		`SELECT description FROM gpkg_contents WHERE table_name = ?`, layer).Scan(&description); err != nil {
		return nil, "", err
	}
	hdr.Description = description.String

	var srid sql.NullInt64
	err := db.QueryRowContext(ctx,
		`SELECT column_name, geometry_type_name, srs_id FROM gpkg_geometry_columns WHERE table_name = ?`, layer).
		Scan(&hdr.GeometryColumn, &hdr.GeometryType, &srid)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, "", fmt.Errorf("read geometry columns: %w", err)
	}
	hdr.SRID = int(srid.Int64)

	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(layer)+")")
	if err != nil {
		return nil, "", fmt.Errorf("read table info: %w", err)
	}
	defer rows.Close()

	var pk string
	for rows.Next() {
		var (
			cid, notNull, pkIndex int
			name, typ             string
			dflt                  sql.NullString
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pkIndex); err != nil {
			return nil, "", err
		}
		if pkIndex == 1 && pk == "" {
			pk = name
			continue
		}
		if strings.EqualFold(name, hdr.GeometryColumn) {
			continue
		}
		hdr.Columns = append(hdr.Columns, ColumnInfo{Name: name, Type: typ, Nullable: notNull == 0})
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	var count int64
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(layer)).Scan(&count); err == nil {
		hdr.FeaturesCount = count
	}
	hdr.Domains = readEnumConstraints(ctx, db, layer)
	return hdr, pk, nil
}

// readEnumConstraints returns the schema-extension enum values per column.
// Packages without the extension have none.
func readEnumConstraints(ctx context.Context, db *sql.DB, layer string) map[string][]string {
	rows, err := db.QueryContext(ctx, `
		SELECT dc.column_name, c.value
		FROM gpkg_data_columns dc
		JOIN gpkg_data_column_constraints c ON c.constraint_name = dc.constraint_name
		WHERE dc.table_name = ? AND c.constraint_type = 'enum'
		ORDER BY dc.column_name, c.rowid`, layer)
	if err != nil {
		return nil
	}
	defer rows.Close()

	domains := make(map[string][]string)
	for rows.Next() {
		var column, value string
		if err := rows.Scan(&column, &value); err != nil {
			return nil
		}
		domains[column] = append(domains[column], value)
	}
	if len(domains) == 0 {
		return nil
	}
	return domains
}

func (c *gpkgCursor) header() *Header { return c.hdr }

func (c *gpkgCursor) next() (*rawFeature, error) {
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	values := make([]any, len(c.columns))
	ptrs := make([]any, len(c.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	c.ordinal++

	raw := &rawFeature{attrs: make(map[string]any, len(c.columns))}
	for i, name := range c.columns {
		v := values[i]
		switch {
		case name == c.pk:
			raw.id = fmt.Sprint(v)
		case c.geom != "" && strings.EqualFold(name, c.geom):
			raw.geometry = decodeGeoPackageValue(v)
			raw.attrs[name] = raw.geometry
		default:
			raw.attrs[name] = v
		}
	}
	if raw.id == "" {
		raw.id = strconv.Itoa(c.ordinal)
	}
	return raw, nil
}

func (c *gpkgCursor) close() error {
	var err error
	if c.rows != nil {
		err = c.rows.Close()
		c.rows = nil
	}
	if c.db != nil {
		if cerr := c.db.Close(); err == nil {
			err = cerr
		}
		c.db = nil
	}
	return err
}

// decodeGeoPackageValue turns a geometry cell into an orb.Geometry. Empty
// geometries become nil; undecodable blobs are returned unchanged so the
// validator can report them.
func decodeGeoPackageValue(v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	g, err := decodeGeoPackageGeometry(b)
	if err != nil {
		return b
	}
	if isEmptyGeometry(g) {
		return nil
	}
	return g
}

// decodeGeoPackageGeometry parses a GeoPackageBinary blob: the "GP" header,
// an optional envelope and a WKB body.
func decodeGeoPackageGeometry(b []byte) (orb.Geometry, error) {
	if len(b) < 8 || b[0] != 'G' || b[1] != 'P' {
		return nil, ErrInvalidData
	}
	flags := b[3]
	if flags&0x20 != 0 {
		return nil, fmt.Errorf("%w: extended geometry", ErrInvalidData)
	}
	size, ok := gpkgEnvelopeSizes[(flags>>1)&0x07]
	if !ok || len(b) < 8+size {
		return nil, ErrInvalidData
	}
	if flags&0x10 != 0 {
		return nil, nil
	}
	return wkb.Unmarshal(b[8+size:])
}

// encodeGeoPackageGeometry builds a little-endian GeoPackageBinary blob.
// Points carry no envelope; everything else carries an XY envelope.
func encodeGeoPackageGeometry(g orb.Geometry, srid int) ([]byte, error) {
	if g == nil {
		return nil, ErrNilGeometry
	}
	body, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	flags := byte(0x01)
	_, isPoint := g.(orb.Point)
	if !isPoint {
		flags |= 1 << 1
	}
	buf.Write([]byte{'G', 'P', 0, flags})

	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[:4], uint32(int32(srid)))
	buf.Write(b[:4])
	if !isPoint {
		bound := g.Bound()
		for _, f := range []float64{bound.Min[0], bound.Max[0], bound.Min[1], bound.Max[1]} {
			binary.LittleEndian.PutUint64(b, math.Float64bits(f))
			buf.Write(b)
		}
	}
	buf.Write(body)
	return buf.Bytes(), nil
}

// GeoPackage core tables and the schema extension tables.
var gpkgCoreDDL = []string{
	`CREATE TABLE gpkg_spatial_ref_sys (
		srs_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL PRIMARY KEY,
		organization TEXT NOT NULL,
		organization_coordsys_id INTEGER NOT NULL,
		definition TEXT NOT NULL,
		description TEXT
	)`,
	`CREATE TABLE gpkg_contents (
		table_name TEXT NOT NULL PRIMARY KEY,
		data_type TEXT NOT NULL,
		identifier TEXT UNIQUE,
		description TEXT DEFAULT '',
		last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		min_x DOUBLE,
		min_y DOUBLE,
		max_x DOUBLE,
		max_y DOUBLE,
		srs_id INTEGER,
		CONSTRAINT fk_gc_r_srs_id FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
	)`,
	`CREATE TABLE gpkg_geometry_columns (
		table_name TEXT NOT NULL,
		column_name TEXT NOT NULL,
		geometry_type_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL,
		z TINYINT NOT NULL,
		m TINYINT NOT NULL,
		CONSTRAINT pk_geom_cols PRIMARY KEY (table_name, column_name),
		CONSTRAINT uk_gc_table_name UNIQUE (table_name),
		CONSTRAINT fk_gc_tn FOREIGN KEY (table_name) REFERENCES gpkg_contents(table_name),
		CONSTRAINT fk_gc_srs FOREIGN KEY (srs_id) REFERENCES gpkg_spatial_ref_sys(srs_id)
	)`,
	`CREATE TABLE gpkg_extensions (
		table_name TEXT,
		column_name TEXT,
		extension_name TEXT NOT NULL,
		definition TEXT NOT NULL,
		scope TEXT NOT NULL,
		CONSTRAINT ge_tce UNIQUE (table_name, column_name, extension_name)
	)`,
	`CREATE TABLE gpkg_data_columns (
		table_name TEXT NOT NULL,
		column_name TEXT NOT NULL,
		name TEXT,
		title TEXT,
		description TEXT,
		mime_type TEXT,
		constraint_name TEXT,
		CONSTRAINT pk_gdc PRIMARY KEY (table_name, column_name),
		CONSTRAINT gdc_tn UNIQUE (table_name, name)
	)`,
	`CREATE TABLE gpkg_data_column_constraints (
		constraint_name TEXT NOT NULL,
		constraint_type TEXT NOT NULL,
		value TEXT,
		min NUMERIC,
		min_is_inclusive BOOLEAN,
		max NUMERIC,
		max_is_inclusive BOOLEAN,
		description TEXT,
		CONSTRAINT gdcc_ntv UNIQUE (constraint_name, constraint_type, value)
	)`,
}

// gpkgColumnType maps a semantic type onto a GeoPackage column type.
func gpkgColumnType(col schema.Column) string {
	switch col.Type {
	case schema.TypeInteger:
		return "INTEGER"
	case schema.TypeReal:
		return "DOUBLE"
	case schema.TypeBoolean:
		return "BOOLEAN"
	case schema.TypeDate:
		return "DATE"
	case schema.TypeGeometry:
		return col.Geometry.String()
	default:
		return "TEXT"
	}
}

// gpkgPrimaryKey picks a primary key column name that does not clash with
// the table's own columns.
func gpkgPrimaryKey(table *schema.Table) string {
	for _, name := range []string{"fid", "ogc_fid", "gpkg_fid"} {
		if _, clash := table.Column(name); !clash {
			return name
		}
	}
	return "gpkg_fid_"
}

// createGeoPackage writes a new GeoPackage at path holding one feature table
// built from table, with the given rows.
func createGeoPackage(ctx context.Context, path string, table *schema.Table, rows []map[string]schema.Value, domains map[string][]string, o *WriteOptions) (err error) {
	geomCol, ok := table.GeometryColumn()
	if !ok {
		return ErrNoGeometry
	}

	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); err == nil {
			err = cerr
		}
	}()
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA application_id = %d", gpkgApplicationID),
		fmt.Sprintf("PRAGMA user_version = %d", gpkgUserVersion),
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, ddl := range gpkgCoreDDL {
		if _, err = tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create core table: %w", err)
		}
	}

	srsRows := [][]any{
		{"Undefined cartesian SRS", -1, "NONE", -1, "undefined", "undefined cartesian coordinate reference system"},
		{"Undefined geographic SRS", 0, "NONE", 0, "undefined", "undefined geographic coordinate reference system"},
		{"WGS 84 geodetic", 4326, "EPSG", 4326, wgs84Definition, "longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid"},
	}
	if o.SRID != 4326 {
		srsRows = append(srsRows, []any{o.srsName(), o.SRID, "EPSG", o.SRID, o.srsDefinition(), nil})
	}
	for _, args := range srsRows {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO gpkg_spatial_ref_sys (srs_name, srs_id, organization, organization_coordsys_id, definition, description)
			 VALUES (?, ?, ?, ?, ?, ?)`, args...); err != nil {
			return fmt.Errorf("insert spatial reference: %w", err)
		}
	}

	pk := gpkgPrimaryKey(table)
	defs := []string{quoteIdent(pk) + " INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL"}
	for _, col := range table.Columns {
		def := quoteIdent(col.Name) + " " + gpkgColumnType(col)
		if !col.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if _, err = tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)",
		quoteIdent(table.Layer), strings.Join(defs, ",\n\t"))); err != nil {
		return fmt.Errorf("create layer %s: %w", table.Layer, err)
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO gpkg_contents (table_name, data_type, identifier, description, srs_id) VALUES (?, 'features', ?, ?, ?)`,
		table.Layer, table.Layer, o.Description, o.SRID); err != nil {
		return fmt.Errorf("register layer: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO gpkg_geometry_columns (table_name, column_name, geometry_type_name, srs_id, z, m) VALUES (?, ?, ?, ?, 0, 0)`,
		table.Layer, geomCol.Name, geomCol.Geometry.String(), o.SRID); err != nil {
		return fmt.Errorf("register geometry column: %w", err)
	}

	if err = writeEnumConstraints(ctx, tx, table, domains); err != nil {
		return err
	}
	if err = insertGeoPackageRows(ctx, tx, table, rows, o.SRID); err != nil {
		return err
	}

	return tx.Commit()
}

// writeEnumConstraints records the allowed values of enum columns through
// the GeoPackage schema extension. domains is keyed by column name.
func writeEnumConstraints(ctx context.Context, tx *sql.Tx, table *schema.Table, domains map[string][]string) error {
	if len(domains) == 0 {
		return nil
	}
	for _, ext := range []string{"gpkg_data_columns", "gpkg_data_column_constraints"} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO gpkg_extensions (table_name, column_name, extension_name, definition, scope)
			 VALUES (?, NULL, 'gpkg_schema', 'http://www.geopackage.org/spec/#extension_schema', 'read-write')`,
			ext); err != nil {
			return fmt.Errorf("register schema extension: %w", err)
		}
	}

	for _, col := range table.Columns {
		values, ok := domains[col.Name]
		if !ok || col.Type != schema.TypeEnumText {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO gpkg_data_columns (table_name, column_name, name, title, constraint_name) VALUES (?, ?, ?, ?, ?)`,
			table.Layer, col.Name, col.Name, col.Name, col.Domain); err != nil {
			return fmt.Errorf("describe column %s: %w", col.Name, err)
		}
		for _, v := range values {
			// Domains shared by several columns are written once.
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO gpkg_data_column_constraints (constraint_name, constraint_type, value, description)
				 VALUES (?, 'enum', ?, ?)`, col.Domain, v, v); err != nil {
				return fmt.Errorf("domain %s value %q: %w", col.Domain, v, err)
			}
		}
	}
	return nil
}

func insertGeoPackageRows(ctx context.Context, tx *sql.Tx, table *schema.Table, rows []map[string]schema.Value, srid int) error {
	if len(rows) == 0 {
		return nil
	}

	names := make([]string, len(table.Columns))
	marks := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		names[i] = quoteIdent(col.Name)
		marks[i] = "?"
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table.Layer), strings.Join(names, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	var bound orb.Bound
	hasBound := false
	args := make([]any, len(table.Columns))
	for n, row := range rows {
		for i, col := range table.Columns {
			v, ok := row[col.Name]
			if !ok {
				v = schema.Null
			}
			if args[i], err = geoPackageValue(v, srid); err != nil {
				return fmt.Errorf("row %d column %s: %w", n+1, col.Name, err)
			}
			if g, ok := v.(schema.Geom); ok && g.Geometry != nil {
				if hasBound {
					bound = bound.Union(g.Bound())
				} else {
					bound, hasBound = g.Bound(), true
				}
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert row %d: %w", n+1, err)
		}
	}

	if hasBound {
		if _, err := tx.ExecContext(ctx,
			`UPDATE gpkg_contents SET min_x = ?, min_y = ?, max_x = ?, max_y = ? WHERE table_name = ?`,
			bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1], table.Layer); err != nil {
			return fmt.Errorf("update extent: %w", err)
		}
	}
	return nil
}

// geoPackageValue converts a typed value into what the sqlite driver stores.
func geoPackageValue(v schema.Value, srid int) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case schema.Bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case schema.Date:
		return val.String(), nil
	case schema.Geom:
		if val.Geometry == nil {
			return nil, nil
		}
		return encodeGeoPackageGeometry(val.Geometry, srid)
	default:
		return v.Native(), nil
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

const wgs84Definition = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`
