package geoingest

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/tingold/geoingest/schema"
)

func mustLookup(t testing.TB, tag schema.Tag) *schema.Table {
	t.Helper()
	table, ok := schema.Lookup(tag)
	if !ok {
		t.Fatalf("no table for tag %q", tag)
	}
	return table
}

// looseTable copies table with every column nullable, so fixtures can hold
// the nulls a strict template would refuse.
func looseTable(table *schema.Table) *schema.Table {
	cp := &schema.Table{Layer: table.Layer, Columns: make([]schema.Column, len(table.Columns))}
	for i, c := range table.Columns {
		c.Nullable = true
		cp.Columns[i] = c
	}
	return cp
}

// withColumnType copies table with one column redeclared as typ.
func withColumnType(table *schema.Table, column string, typ schema.Type) *schema.Table {
	cp := looseTable(table)
	for i := range cp.Columns {
		if cp.Columns[i].Name == column {
			cp.Columns[i].Type = typ
			cp.Columns[i].Domain = ""
		}
	}
	return cp
}

func writeFixture(t testing.TB, format Format, table *schema.Table, rows []map[string]schema.Value) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), table.Layer+"."+format.Extension())
	if err := Create(context.Background(), path, table, rows, &WriteOptions{Format: format}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return path
}

func pointRow(i int) map[string]schema.Value {
	return map[string]schema.Value{
		"observer":         schema.Text(fmt.Sprintf("observer %d", i)),
		"observation_date": schema.NewDate(2023, 5, 1+i%28),
		"municipality":     schema.Integer(91),
		"nest_type":        schema.Text("Kolo"),
		"tree_species":     schema.Text("Populus tremula"),
		"tree_diameter_cm": schema.Real(31.5),
		"nest_count":       schema.Integer(i % 4),
		"droppings":        schema.Bool(i%2 == 0),
		"notes":            schema.Null,
		"reference":        schema.Text("survey 2023"),
		"geometry":         schema.Geom{Geometry: orb.Point{385000 + float64(i), 6672000 + float64(i)}},
	}
}

func openFixture(t testing.TB, path string, table *schema.Table, opts ...ReaderOption) *Reader {
	t.Helper()
	r, err := Open(context.Background(), path, table, opts...)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

var formats = []Format{FormatGeoPackage, FormatFlatGeobuf}
