package geoingest

import (
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/tingold/geoingest/schema"
)

func TestFeature_GeoJSON(t *testing.T) {
	table := mustLookup(t, schema.TagPoints)
	path := writeFixture(t, FormatGeoPackage, table, []map[string]schema.Value{pointRow(0), pointRow(1)})

	features, err := openFixture(t, path, table).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	fc := FeatureCollection(table, features)
	if len(fc.Features) != 2 {
		t.Fatalf("expected 2 features, got %d", len(fc.Features))
	}

	f := fc.Features[1]
	if f.ID != "2" {
		t.Errorf("expected id 2, got %v", f.ID)
	}
	if p, ok := f.Geometry.(orb.Point); !ok || p != (orb.Point{385001, 6672001}) {
		t.Errorf("unexpected geometry %v", f.Geometry)
	}
	if _, ok := f.Properties["geometry"]; ok {
		t.Error("geometry column should not be a property")
	}
	if got := f.Properties["observation_date"]; got != "2023-05-02" {
		t.Errorf("expected date string, got %v", got)
	}
	if got := f.Properties["nest_count"]; got != int64(1) {
		t.Errorf("expected nest_count 1, got %v (%T)", got, got)
	}
	if got, ok := f.Properties["notes"]; !ok || got != nil {
		t.Errorf("expected null notes, got %v", got)
	}

	b, err := json.Marshal(fc)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("invalid GeoJSON: %v", err)
	}
	if decoded["type"] != "FeatureCollection" {
		t.Errorf("unexpected type %v", decoded["type"])
	}
}
