package schema

import (
	"encoding/json"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// DateLayout is the canonical text form of a Date.
const DateLayout = "2006-01-02"

// Value is a typed attribute value. The concrete types are Text, Integer,
// Real, Bool, Date, Geom, Blob and the Null value; no other package can add
// variants.
type Value interface {
	// Native returns the plain Go value handed to database drivers.
	Native() any
	isValue()
}

type nullValue struct{}

// Null is the absent value.
var Null Value = nullValue{}

func (nullValue) Native() any                  { return nil }
func (nullValue) MarshalJSON() ([]byte, error) { return []byte("null"), nil }
func (nullValue) String() string               { return "NULL" }
func (nullValue) isValue()                     {}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(nullValue)
	return ok
}

// Text is a string value; enum columns also hold Text.
type Text string

func (v Text) Native() any { return string(v) }
func (Text) isValue()      {}

// Integer is a 64-bit integer value.
type Integer int64

func (v Integer) Native() any { return int64(v) }
func (Integer) isValue()      {}

// Real is a double precision value.
type Real float64

func (v Real) Native() any { return float64(v) }
func (Real) isValue()      {}

// Bool is a boolean value.
type Bool bool

func (v Bool) Native() any { return bool(v) }
func (Bool) isValue()      {}

// Date is a calendar date. The embedded time is always midnight UTC.
type Date struct {
	time.Time
}

// NewDate returns the date y-m-d.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func (v Date) Native() any    { return v.Time }
func (v Date) String() string { return v.Format(DateLayout) }
func (Date) isValue()         {}

func (v Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Format(DateLayout))
}

// Geom wraps an orb geometry.
type Geom struct {
	orb.Geometry
}

func (v Geom) Native() any { return v.Geometry }
func (Geom) isValue()      {}

// MarshalJSON encodes the geometry as a GeoJSON geometry object.
func (v Geom) MarshalJSON() ([]byte, error) {
	if v.Geometry == nil {
		return []byte("null"), nil
	}
	return json.Marshal(geojson.NewGeometry(v.Geometry))
}

// Blob holds raw bytes that could not be interpreted, such as an undecodable
// geometry.
type Blob []byte

func (v Blob) Native() any { return []byte(v) }
func (Blob) isValue()      {}
