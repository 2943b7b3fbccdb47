package geoingest

import (
	"github.com/tingold/geoingest/schema"
)

// validate checks every declared column of raw, in column order, and never
// stops at the first defect.
func (r *Reader) validate(raw *rawFeature) *Feature {
	f := &Feature{
		ID:         raw.id,
		Attributes: make(map[string]schema.Value, len(r.table.Columns)),
	}

	for _, col := range r.table.Columns {
		v, present := raw.attrs[col.Name]
		// Containers keep the primary geometry apart from named attributes.
		if col.Type == schema.TypeGeometry && (!present || v == nil) {
			v = raw.geometry
		}

		if v == nil {
			f.Attributes[col.Name] = schema.Null
			if !col.Nullable && !col.Lenient {
				f.Errors = append(f.Errors, ValidationError{
					FeatureID: raw.id,
					Column:    col.Name,
					Value:     schema.Null,
					Reason:    IsNull,
				})
			}
			continue
		}

		value, ok := schema.Coerce(col, v)
		if ok && col.Type == schema.TypeEnumText {
			ok = r.inDomain(col, value)
		}
		switch {
		case ok:
			f.Attributes[col.Name] = value
		case col.Lenient:
			f.Attributes[col.Name] = schema.Stringify(v)
		default:
			f.Attributes[col.Name] = schema.Raw(v)
			f.Errors = append(f.Errors, ValidationError{
				FeatureID: raw.id,
				Column:    col.Name,
				Value:     schema.Raw(v),
				Reason:    WrongType,
			})
		}
	}

	return f
}

// inDomain reports whether an enum value belongs to its column's domain. Without
// domain information every value is accepted.
func (r *Reader) inDomain(col schema.Column, v schema.Value) bool {
	if r.domains == nil {
		return true
	}
	allowed, ok := r.domains[col.Domain]
	if !ok {
		return true
	}
	text, ok := v.(schema.Text)
	return ok && allowed[string(text)]
}
