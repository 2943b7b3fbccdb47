package geoingest

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/tingold/geoingest/schema"
)

// A point file whose first row lacks its observer yields exactly that error.
func TestReader_MissingObserverReported(t *testing.T) {
	table := mustLookup(t, schema.TagPoints)
	first := pointRow(0)
	first["observer"] = schema.Null
	rows := []map[string]schema.Value{first, pointRow(1)}

	path := writeFixture(t, FormatGeoPackage, looseTable(table), rows)

	r := openFixture(t, path, table)
	errs, err := r.Errors()
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != 1 {
		t.Fatalf("expected exactly one error, got %v", errs)
	}
	if e := errs[0]; e.FeatureID != "1" || e.Column != "observer" || e.Reason != IsNull {
		t.Errorf("unexpected error %v", e)
	}

	r = openFixture(t, path, table)
	if ok, err := r.IsValid(); err != nil || ok {
		t.Errorf("expected IsValid false, got %v %v", ok, err)
	}
}

// An area file carrying the municipality code as text keeps the raw text
// and reports one WrongType error.
func TestReader_MunicipalityTextKeptRaw(t *testing.T) {
	table := mustLookup(t, schema.TagAreas)
	drifted := withColumnType(table, "municipality", schema.TypeText)
	row := map[string]schema.Value{
		"observer":         schema.Text("consultant"),
		"observation_date": schema.NewDate(2024, 8, 14),
		"municipality":     schema.Text("79"),
		"habitat_class":    schema.Text("herb-rich forest"),
		"area_ha":          schema.Real(1.25),
		"geometry": schema.Geom{Geometry: orb.MultiPolygon{
			{{{385000, 6672000}, {385100, 6672000}, {385100, 6672100}, {385000, 6672000}}},
		}},
	}

	for _, format := range formats {
		t.Run(format.String(), func(t *testing.T) {
			r := openFixture(t, writeFixture(t, format, drifted, []map[string]schema.Value{row}), table)
			features, err := r.ReadAll()
			if err != nil {
				t.Fatal(err)
			}
			if len(features) != 1 {
				t.Fatalf("expected 1 feature, got %d", len(features))
			}
			f := features[0]
			if len(f.Errors) != 1 {
				t.Fatalf("expected one error, got %v", f.Errors)
			}
			if e := f.Errors[0]; e.Column != "municipality" || e.Reason != WrongType || e.Value != schema.Text("79") {
				t.Errorf("unexpected error %v", e)
			}
			if got := f.Value("municipality"); got != schema.Text("79") {
				t.Errorf("expected raw text 79 in attributes, got %#v", got)
			}
		})
	}
}

// A row whose geometry column is named differently still validates through
// the layer's primary geometry.
func TestReader_GeometryColumnFallback(t *testing.T) {
	table := mustLookup(t, schema.TagPoints)
	renamed := looseTable(table)
	for i := range renamed.Columns {
		if renamed.Columns[i].Name == "geometry" {
			renamed.Columns[i].Name = "geom"
		}
	}
	row := pointRow(0)
	row["geom"] = row["geometry"]
	delete(row, "geometry")

	r := openFixture(t, writeFixture(t, FormatGeoPackage, renamed, []map[string]schema.Value{row}), table)
	if r.Header().GeometryColumn != "geom" {
		t.Fatalf("expected geometry column geom, got %q", r.Header().GeometryColumn)
	}
	features, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if !features[0].IsValid() {
		t.Fatalf("unexpected errors: %v", features[0].Errors)
	}
	if schema.IsNull(features[0].Value("geometry")) {
		t.Error("expected geometry from the layer's primary geometry")
	}
}

func TestReader_PrimaryGeometryFlatGeobuf(t *testing.T) {
	table := mustLookup(t, schema.TagPoints)
	r := openFixture(t, writeFixture(t, FormatFlatGeobuf, table, []map[string]schema.Value{pointRow(3)}), table)
	features, err := r.ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := features[0].Value("geometry").(schema.Geom); !ok {
		t.Errorf("expected geometry, got %v", features[0].Value("geometry"))
	}
}

// An empty geometry is read as null and fails the required geometry column.
func TestReader_EmptyGeometryIsNull(t *testing.T) {
	table := mustLookup(t, schema.TagAreas)
	row := map[string]schema.Value{
		"observer":         schema.Text("consultant"),
		"observation_date": schema.NewDate(2024, 8, 14),
		"municipality":     schema.Integer(79),
		"habitat_class":    schema.Text("herb-rich forest"),
		"area_ha":          schema.Real(1.25),
		"geometry":         schema.Geom{Geometry: orb.MultiPolygon{}},
	}

	for _, format := range formats {
		t.Run(format.String(), func(t *testing.T) {
			r := openFixture(t, writeFixture(t, format, table, []map[string]schema.Value{row}), table)
			features, err := r.ReadAll()
			if err != nil {
				t.Fatal(err)
			}
			if len(features) != 1 {
				t.Fatalf("expected 1 feature, got %d", len(features))
			}
			f := features[0]
			if len(f.Errors) != 1 {
				t.Fatalf("expected one error, got %v", f.Errors)
			}
			if e := f.Errors[0]; e.Column != "geometry" || e.Reason != IsNull {
				t.Errorf("expected geometry IsNull, got %v", e)
			}
			if !schema.IsNull(f.Value("geometry")) {
				t.Errorf("expected null geometry, got %#v", f.Value("geometry"))
			}
		})
	}
}

// The nest type domain is declared as enumerated text and the template has
// no rows.
func TestWriteTemplate_NestTypeDomain(t *testing.T) {
	table := mustLookup(t, schema.TagPoints)
	tmpl, err := WriteTemplate(context.Background(), table, nestTypes, &TemplateOptions{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tmpl.Remove() }()

	r := openFixture(t, tmpl.Path, table)
	hdr := r.Header()
	if hdr.FeaturesCount != 0 {
		t.Errorf("expected no rows, got %d", hdr.FeaturesCount)
	}
	values := hdr.Domains["nest_type"]
	if len(values) != 2 || values[0] != "Pönttö" || values[1] != "Kolo" {
		t.Errorf("expected nest_type enum [Pönttö Kolo], got %v", values)
	}
}
