package schema

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/paulmach/orb"
)

// dateLayouts are the accepted text encodings of a Date, tried in order.
var dateLayouts = []string{
	DateLayout,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"02.01.2006",
}

// Coerce converts a raw container value into the typed value declared by col.
// A nil raw value coerces to Null. The boolean is false when raw cannot be
// represented as col's type.
func Coerce(col Column, raw any) (Value, bool) {
	if raw == nil {
		return Null, true
	}
	if v, ok := raw.(Value); ok {
		raw = v.Native()
		if raw == nil {
			return Null, true
		}
	}

	switch col.Type {
	case TypeText, TypeEnumText:
		switch v := raw.(type) {
		case string:
			return Text(v), true
		case []byte:
			if utf8.Valid(v) {
				return Text(v), true
			}
		}

	case TypeInteger:
		if i, ok := toInt64(raw); ok {
			return Integer(i), true
		}

	case TypeReal:
		if f, ok := toFloat64(raw); ok {
			return Real(f), true
		}

	case TypeBoolean:
		switch v := raw.(type) {
		case bool:
			return Bool(v), true
		default:
			// GeoPackage stores BOOLEAN as an INTEGER 0 or 1.
			if i, ok := toInt64(raw); ok && (i == 0 || i == 1) {
				return Bool(i == 1), true
			}
		}

	case TypeDate:
		switch v := raw.(type) {
		case time.Time:
			return DateOf(v), true
		case string:
			if d, ok := parseDate(v); ok {
				return d, true
			}
		}

	case TypeGeometry:
		if g, ok := raw.(orb.Geometry); ok {
			return matchGeometry(col.Geometry, g)
		}
	}

	return nil, false
}

// Raw wraps a value that failed coercion so it can still be shown to a user.
func Raw(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Null
	case Value:
		return v
	case string:
		return Text(v)
	case []byte:
		return Blob(v)
	case bool:
		return Bool(v)
	case time.Time:
		return Text(v.Format(time.RFC3339))
	case orb.Geometry:
		return Geom{v}
	case float32:
		return Real(v)
	case float64:
		return Real(v)
	}
	if i, ok := toInt64(raw); ok {
		return Integer(i)
	}
	return Text(fmt.Sprint(raw))
}

// Stringify renders a raw value as text; lenient columns keep uncoercible
// input this way.
func Stringify(raw any) Value {
	switch v := Raw(raw).(type) {
	case Text:
		return v
	case Blob:
		return Text(fmt.Sprintf("%x", []byte(v)))
	case Date:
		return Text(v.String())
	case nullValue:
		return Null
	default:
		return Text(fmt.Sprint(v.Native()))
	}
}

func parseDate(s string) (Date, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOf(t), true
		}
	}
	return Date{}, false
}

// matchGeometry checks g against the column's geometry kind. Single
// geometries are promoted into multi-geometry columns.
func matchGeometry(kind GeometryKind, g orb.Geometry) (Value, bool) {
	switch kind {
	case AnyGeometry:
		return Geom{g}, true
	case Point:
		if p, ok := g.(orb.Point); ok {
			return Geom{p}, true
		}
	case LineString:
		if ls, ok := g.(orb.LineString); ok {
			return Geom{ls}, true
		}
	case Polygon:
		if p, ok := g.(orb.Polygon); ok {
			return Geom{p}, true
		}
	case MultiPoint:
		switch v := g.(type) {
		case orb.MultiPoint:
			return Geom{v}, true
		case orb.Point:
			return Geom{orb.MultiPoint{v}}, true
		}
	case MultiLineString:
		switch v := g.(type) {
		case orb.MultiLineString:
			return Geom{v}, true
		case orb.LineString:
			return Geom{orb.MultiLineString{v}}, true
		}
	case MultiPolygon:
		switch v := g.(type) {
		case orb.MultiPolygon:
			return Geom{v}, true
		case orb.Polygon:
			return Geom{orb.MultiPolygon{v}}, true
		}
	}
	return nil, false
}

func toInt64(v any) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int8:
		return int64(val), true
	case int16:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint8:
		return int64(val), true
	case uint16:
		return int64(val), true
	case uint32:
		return int64(val), true
	case uint:
		if uint64(val) <= math.MaxInt64 {
			return int64(val), true
		}
	case uint64:
		if val <= math.MaxInt64 {
			return int64(val), true
		}
	case float32:
		return integral(float64(val))
	case float64:
		return integral(val)
	}
	return 0, false
}

// integral accepts floats that carry an exact integer, which is how some
// writers store integer columns.
func integral(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	}
	return 0, false
}
