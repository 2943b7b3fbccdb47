package postgis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/tingold/geoingest/schema"
)

// insertSQL builds the parameterized INSERT for table. Parameters follow the
// column order; enum values are cast from text and geometries are EWKB.
func insertSQL(schemaName string, table *schema.Table) string {
	cols := make([]string, len(table.Columns))
	params := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = pgx.Identifier{c.Name}.Sanitize()
		p := "$" + strconv.Itoa(i+1)
		switch c.Type {
		case schema.TypeGeometry:
			p = "ST_GeomFromEWKB(" + p + ")"
		case schema.TypeEnumText:
			p = p + "::text::" + pgx.Identifier{schemaName, c.Domain}.Sanitize()
		}
		params[i] = p
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{schemaName, table.Layer}.Sanitize(),
		strings.Join(cols, ", "),
		strings.Join(params, ", "))
}

// columnType returns the PostgreSQL type of c.
func columnType(schemaName string, c schema.Column) string {
	switch c.Type {
	case schema.TypeInteger:
		return "bigint"
	case schema.TypeReal:
		return "double precision"
	case schema.TypeBoolean:
		return "boolean"
	case schema.TypeDate:
		return "date"
	case schema.TypeEnumText:
		return pgx.Identifier{schemaName, c.Domain}.Sanitize()
	case schema.TypeGeometry:
		return fmt.Sprintf("geometry(%s,%d)", c.Geometry, schema.TargetSRID)
	default:
		return "text"
	}
}

// TableDDL returns the CREATE TABLE and spatial index statements for table.
func TableDDL(schemaName string, table *schema.Table) []string {
	name := pgx.Identifier{schemaName, table.Layer}.Sanitize()

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", name)
	b.WriteString("\tid bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY")
	for _, c := range table.Columns {
		fmt.Fprintf(&b, ",\n\t%s %s", pgx.Identifier{c.Name}.Sanitize(), columnType(schemaName, c))
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteString("\n)")

	stmts := []string{b.String()}
	if geom, ok := table.GeometryColumn(); ok {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING gist (%s)",
			pgx.Identifier{table.Layer + "_" + geom.Name + "_idx"}.Sanitize(),
			name,
			pgx.Identifier{geom.Name}.Sanitize()))
	}
	return stmts
}

// enumDDL returns the statement creating an enum type when it does not exist.
func enumDDL(schemaName, domain string, values []string) string {
	labels := make([]string, len(values))
	for i, v := range values {
		labels[i] = quoteLiteral(v)
	}
	return fmt.Sprintf(`DO $$ BEGIN
	CREATE TYPE %s AS ENUM (%s);
EXCEPTION WHEN duplicate_object THEN NULL;
END $$`, pgx.Identifier{schemaName, domain}.Sanitize(), strings.Join(labels, ", "))
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// EnsureEnum creates the enum type domain with values, or appends the values
// it is missing. Existing labels are never removed or reordered.
func (db *DB) EnsureEnum(ctx context.Context, domain string, values []string) error {
	if len(values) == 0 {
		return fmt.Errorf("postgis: enum %s has no values", domain)
	}
	if _, err := db.Pool.Exec(ctx, enumDDL(db.schema, domain, values)); err != nil {
		return fmt.Errorf("failed to create enum %s: %w", domain, err)
	}
	for _, v := range values {
		stmt := fmt.Sprintf("ALTER TYPE %s ADD VALUE IF NOT EXISTS %s",
			pgx.Identifier{db.schema, domain}.Sanitize(), quoteLiteral(v))
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to extend enum %s: %w", domain, err)
		}
	}
	return nil
}

// EnsureTables creates the PostGIS extension, the schema, the enum types of
// every table and the tables themselves. Enum values come from domains; an
// enum with no seed values must already exist.
func (db *DB) EnsureTables(ctx context.Context, tables []*schema.Table, domains map[string][]string) error {
	for _, stmt := range []string{
		"CREATE EXTENSION IF NOT EXISTS postgis",
		"CREATE SCHEMA IF NOT EXISTS " + pgx.Identifier{db.schema}.Sanitize(),
	} {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare schema: %w", err)
		}
	}

	seen := make(map[string]bool)
	for _, t := range tables {
		for _, domain := range t.Domains() {
			if seen[domain] {
				continue
			}
			seen[domain] = true
			if values := domains[domain]; len(values) > 0 {
				if err := db.EnsureEnum(ctx, domain, values); err != nil {
					return err
				}
				continue
			}
			if _, err := db.EnumValues(ctx, domain); err != nil {
				return err
			}
		}
	}

	for _, t := range tables {
		for _, stmt := range TableDDL(db.schema, t) {
			if _, err := db.Pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to create table %s: %w", t.Layer, err)
			}
		}
		db.logger.Info("Table ready", zap.String("layer", t.Layer))
	}
	return nil
}
