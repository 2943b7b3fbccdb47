package geoingest

import (
	"github.com/paulmach/orb/geojson"

	"github.com/tingold/geoingest/schema"
)

// GeoJSON converts f into a GeoJSON feature. The primary geometry of table
// becomes the feature geometry and every other column a property, holding the
// value as read even when it failed validation.
func (f *Feature) GeoJSON(table *schema.Table) *geojson.Feature {
	gf := &geojson.Feature{
		Type:       "Feature",
		ID:         f.ID,
		Properties: make(geojson.Properties, len(table.Columns)),
	}
	geom, hasGeom := table.GeometryColumn()
	for _, col := range table.Columns {
		v := f.Value(col.Name)
		if hasGeom && col.Name == geom.Name {
			if g, ok := v.(schema.Geom); ok {
				gf.Geometry = g.Geometry
			}
			continue
		}
		switch val := v.(type) {
		case schema.Date:
			gf.Properties[col.Name] = val.String()
		case schema.Geom:
			if val.Geometry != nil {
				gf.Properties[col.Name] = geojson.NewGeometry(val.Geometry)
			}
		default:
			gf.Properties[col.Name] = v.Native()
		}
	}
	return gf
}

// FeatureCollection converts features into a GeoJSON feature collection.
func FeatureCollection(table *schema.Table, features []*Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		fc.Append(f.GeoJSON(table))
	}
	return fc
}
