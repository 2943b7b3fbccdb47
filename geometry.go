package geoingest

import (
	"math"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb"
	"github.com/tingold/geoingest/schema"
)

// fgbGeometryType maps a column's geometry kind onto the FlatGeobuf header type.
func fgbGeometryType(kind schema.GeometryKind) flattypes.GeometryType {
	switch kind {
	case schema.Point:
		return flattypes.GeometryTypePoint
	case schema.LineString:
		return flattypes.GeometryTypeLineString
	case schema.Polygon:
		return flattypes.GeometryTypePolygon
	case schema.MultiPoint:
		return flattypes.GeometryTypeMultiPoint
	case schema.MultiLineString:
		return flattypes.GeometryTypeMultiLineString
	case schema.MultiPolygon:
		return flattypes.GeometryTypeMultiPolygon
	default:
		return flattypes.GeometryTypeUnknown
	}
}

// geometryToFGB converts an orb.Geometry into a FlatGeobuf writer geometry.
// Unsupported types return nil.
func geometryToFGB(geom orb.Geometry, builder *flatbuffers.Builder) *writer.Geometry {
	g := writer.NewGeometry(builder)

	switch v := geom.(type) {
	case orb.Point:
		g.SetType(flattypes.GeometryTypePoint)
		g.SetXY([]float64{v[0], v[1]})

	case orb.MultiPoint:
		g.SetType(flattypes.GeometryTypeMultiPoint)
		g.SetXY(appendXY(nil, v))

	case orb.LineString:
		g.SetType(flattypes.GeometryTypeLineString)
		g.SetXY(appendXY(nil, v))

	case orb.MultiLineString:
		g.SetType(flattypes.GeometryTypeMultiLineString)
		parts := make([][]orb.Point, len(v))
		for i, ls := range v {
			parts[i] = ls
		}
		xy, ends := flattenParts(parts)
		g.SetXY(xy)
		g.SetEnds(ends)

	case orb.Polygon:
		g.SetType(flattypes.GeometryTypePolygon)
		xy, ends := flattenPolygon(v)
		g.SetXY(xy)
		g.SetEnds(ends)

	case orb.MultiPolygon:
		g.SetType(flattypes.GeometryTypeMultiPolygon)
		parts := make([]writer.Geometry, 0, len(v))
		for _, poly := range v {
			pg := writer.NewGeometry(builder)
			pg.SetType(flattypes.GeometryTypePolygon)
			xy, ends := flattenPolygon(poly)
			pg.SetXY(xy)
			pg.SetEnds(ends)
			parts = append(parts, *pg)
		}
		g.SetParts(parts)

	case orb.Collection:
		g.SetType(flattypes.GeometryTypeGeometryCollection)
		parts := make([]writer.Geometry, 0, len(v))
		for _, child := range v {
			if pg := geometryToFGB(child, builder); pg != nil {
				parts = append(parts, *pg)
			}
		}
		g.SetParts(parts)

	default:
		return nil
	}

	return g
}

func appendXY(xy []float64, pts []orb.Point) []float64 {
	for _, p := range pts {
		xy = append(xy, p[0], p[1])
	}
	return xy
}

// flattenParts packs point sequences into one coordinate array and the
// cumulative end offsets FlatGeobuf uses to split it.
func flattenParts(parts [][]orb.Point) ([]float64, []uint32) {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	xy := make([]float64, 0, total*2)
	ends := make([]uint32, 0, len(parts))
	for _, p := range parts {
		xy = appendXY(xy, p)
		ends = append(ends, uint32(len(xy)/2))
	}
	return xy, ends
}

func flattenPolygon(poly orb.Polygon) ([]float64, []uint32) {
	parts := make([][]orb.Point, len(poly))
	for i, r := range poly {
		parts[i] = r
	}
	return flattenParts(parts)
}

// geometryFromFGB converts a FlatGeobuf geometry into an orb.Geometry.
// Features in a layer with a fixed geometry type may leave their own type
// unset, so the layer type is used as a fallback. Empty geometries become nil.
func geometryFromFGB(g *flattypes.Geometry, layerType flattypes.GeometryType) orb.Geometry {
	og := decodeFGB(g, layerType)
	if isEmptyGeometry(og) {
		return nil
	}
	return og
}

func decodeFGB(g *flattypes.Geometry, layerType flattypes.GeometryType) orb.Geometry {
	if g == nil {
		return nil
	}
	typ := g.Type()
	if typ == flattypes.GeometryTypeUnknown {
		typ = layerType
	}

	switch typ {
	case flattypes.GeometryTypePoint:
		pts := readPoints(g, 0, g.XyLength()/2)
		if len(pts) == 0 {
			return nil
		}
		return pts[0]

	case flattypes.GeometryTypeMultiPoint:
		return orb.MultiPoint(readPoints(g, 0, g.XyLength()/2))

	case flattypes.GeometryTypeLineString:
		return orb.LineString(readPoints(g, 0, g.XyLength()/2))

	case flattypes.GeometryTypeMultiLineString:
		if g.PartsLength() > 0 {
			mls := make(orb.MultiLineString, 0, g.PartsLength())
			for _, part := range geometryParts(g) {
				mls = append(mls, orb.LineString(readPoints(part, 0, part.XyLength()/2)))
			}
			return mls
		}
		var mls orb.MultiLineString
		for _, pts := range splitByEnds(g) {
			mls = append(mls, orb.LineString(pts))
		}
		return mls

	case flattypes.GeometryTypePolygon:
		return polygonFromFGB(g)

	case flattypes.GeometryTypeMultiPolygon:
		if g.PartsLength() == 0 {
			if poly := polygonFromFGB(g); len(poly) > 0 {
				return orb.MultiPolygon{poly}
			}
			return orb.MultiPolygon{}
		}
		mp := make(orb.MultiPolygon, 0, g.PartsLength())
		for _, part := range geometryParts(g) {
			if poly := polygonFromFGB(part); len(poly) > 0 {
				mp = append(mp, poly)
			}
		}
		return mp

	case flattypes.GeometryTypeGeometryCollection:
		coll := make(orb.Collection, 0, g.PartsLength())
		for _, part := range geometryParts(g) {
			if child := geometryFromFGB(part, flattypes.GeometryTypeUnknown); child != nil {
				coll = append(coll, child)
			}
		}
		return coll
	}

	return nil
}

// isEmptyGeometry reports whether g has no coordinates. Empty geometries are
// stored as null.
func isEmptyGeometry(g orb.Geometry) bool {
	switch g := g.(type) {
	case nil:
		return true
	case orb.Point:
		return math.IsNaN(g[0]) && math.IsNaN(g[1])
	case orb.MultiPoint:
		return len(g) == 0
	case orb.LineString:
		return len(g) == 0
	case orb.Ring:
		return len(g) == 0
	case orb.MultiLineString:
		for _, ls := range g {
			if len(ls) > 0 {
				return false
			}
		}
		return true
	case orb.Polygon:
		for _, r := range g {
			if len(r) > 0 {
				return false
			}
		}
		return true
	case orb.MultiPolygon:
		for _, p := range g {
			if !isEmptyGeometry(p) {
				return false
			}
		}
		return true
	case orb.Collection:
		for _, c := range g {
			if !isEmptyGeometry(c) {
				return false
			}
		}
		return true
	}
	return false
}

func polygonFromFGB(g *flattypes.Geometry) orb.Polygon {
	rings := splitByEnds(g)
	poly := make(orb.Polygon, 0, len(rings))
	for _, pts := range rings {
		poly = append(poly, orb.Ring(pts))
	}
	return poly
}

func geometryParts(g *flattypes.Geometry) []*flattypes.Geometry {
	parts := make([]*flattypes.Geometry, 0, g.PartsLength())
	for i := 0; i < g.PartsLength(); i++ {
		part := new(flattypes.Geometry)
		if g.Parts(part, i) {
			parts = append(parts, part)
		}
	}
	return parts
}

// splitByEnds cuts the coordinate array at the end offsets. Without ends the
// whole array is a single part.
func splitByEnds(g *flattypes.Geometry) [][]orb.Point {
	n := g.XyLength() / 2
	if n == 0 {
		return nil
	}
	if g.EndsLength() == 0 {
		return [][]orb.Point{readPoints(g, 0, n)}
	}

	parts := make([][]orb.Point, 0, g.EndsLength())
	start := 0
	for i := 0; i < g.EndsLength(); i++ {
		end := int(g.Ends(i))
		if end > n {
			end = n
		}
		if end < start {
			break
		}
		parts = append(parts, readPoints(g, start, end))
		start = end
	}
	return parts
}

// readPoints reads points [from, to) of the coordinate array.
func readPoints(g *flattypes.Geometry, from, to int) []orb.Point {
	pts := make([]orb.Point, 0, to-from)
	for i := from; i < to; i++ {
		pts = append(pts, orb.Point{g.Xy(2 * i), g.Xy(2*i + 1)})
	}
	return pts
}
