package ingest

import (
	"fmt"

	"github.com/paulmach/orb/encoding/ewkb"
	"github.com/tingold/geoingest"
	"github.com/tingold/geoingest/schema"
)

// batch collects the valid features of one table.
type batch struct {
	table    *schema.Table
	features []*geoingest.Feature
}

// rows converts the batch into driver values in column order.
func (b *batch) rows() ([][]any, error) {
	out := make([][]any, 0, len(b.features))
	for _, f := range b.features {
		row, err := featureRow(b.table, f)
		if err != nil {
			return nil, fmt.Errorf("feature %s: %w", f.ID, err)
		}
		out = append(out, row)
	}
	return out, nil
}

// featureRow returns the driver values of f in table column order.
// Geometries become EWKB carrying schema.TargetSRID.
func featureRow(table *schema.Table, f *geoingest.Feature) ([]any, error) {
	row := make([]any, len(table.Columns))
	for i, col := range table.Columns {
		v, err := driverValue(f.Value(col.Name))
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name, err)
		}
		row[i] = v
	}
	return row, nil
}

func driverValue(v schema.Value) (any, error) {
	switch val := v.(type) {
	case schema.Geom:
		if val.Geometry == nil {
			return nil, nil
		}
		return ewkb.Marshal(val.Geometry, schema.TargetSRID)
	case schema.Blob:
		return nil, fmt.Errorf("undecoded value")
	default:
		return v.Native(), nil
	}
}
