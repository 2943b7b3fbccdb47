package geoingest

import (
	"encoding/json"
	"fmt"

	"github.com/tingold/geoingest/schema"
)

// Reason classifies a validation error.
type Reason int

const (
	IsNull Reason = iota + 1
	WrongType
)

func (r Reason) String() string {
	switch r {
	case IsNull:
		return "IsNull"
	case WrongType:
		return "WrongType"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// MarshalText encodes the reason by name.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a reason name.
func (r *Reason) UnmarshalText(b []byte) error {
	switch string(b) {
	case "IsNull":
		*r = IsNull
	case "WrongType":
		*r = WrongType
	default:
		return fmt.Errorf("geoingest: unknown reason %q", b)
	}
	return nil
}

// ValidationError is one defect in one column of one feature. It is data,
// reported to the user so the source file can be fixed.
type ValidationError struct {
	FeatureID string       `json:"featureId"`
	Column    string       `json:"column"`
	Value     schema.Value `json:"value"`
	Reason    Reason       `json:"reason"`
}

func (e ValidationError) String() string {
	if schema.IsNull(e.Value) {
		return fmt.Sprintf("feature %s: %s: %s", e.FeatureID, e.Column, e.Reason)
	}
	b, err := json.Marshal(e.Value)
	if err != nil {
		b = []byte(fmt.Sprint(e.Value.Native()))
	}
	return fmt.Sprintf("feature %s: %s: %s (%s)", e.FeatureID, e.Column, e.Reason, b)
}

// Feature is one validated row of a container layer. Attributes hold a value
// for every declared column: the typed value, Null, or the raw value when it
// could not be coerced.
type Feature struct {
	ID         string
	Attributes map[string]schema.Value
	Errors     []ValidationError
}

// IsValid reports whether the feature has no validation errors.
func (f *Feature) IsValid() bool {
	return len(f.Errors) == 0
}

// Value returns the attribute for column, or Null.
func (f *Feature) Value(column string) schema.Value {
	if v, ok := f.Attributes[column]; ok && v != nil {
		return v
	}
	return schema.Null
}
