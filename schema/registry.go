package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Tag identifies the document/category an uploaded file belongs to.
type Tag string

const (
	TagPoints Tag = "points"
	TagAreas  Tag = "areas"
	TagLines  Tag = "lines"
	// TagReport and TagOther are free-form attachments with no structured
	// schema; they bypass validation.
	TagReport Tag = "report"
	TagOther  Tag = "other"
)

// ReferenceColumn is the citation column present in every table. It exists
// for legacy data imports and is not strictly validated.
const ReferenceColumn = "reference"

// Shared column definitions.
var (
	observerColumn     = Column{Name: "observer", Type: TypeText}
	observedOnColumn   = Column{Name: "observation_date", Type: TypeDate}
	municipalityColumn = Column{Name: "municipality", Type: TypeInteger}
	notesColumn        = Column{Name: "notes", Type: TypeText, Nullable: true}
	referenceColumn    = Column{Name: ReferenceColumn, Type: TypeText, Nullable: true, Lenient: true}
)

var registry = map[Tag]*Table{
	TagPoints: {
		Layer: "observation_points",
		Columns: []Column{
			observerColumn,
			observedOnColumn,
			municipalityColumn,
			{Name: "nest_type", Type: TypeEnumText, Domain: "nest_type"},
			{Name: "tree_species", Type: TypeText, Nullable: true},
			{Name: "tree_diameter_cm", Type: TypeReal, Nullable: true},
			{Name: "nest_count", Type: TypeInteger, Nullable: true},
			{Name: "droppings", Type: TypeBoolean},
			notesColumn,
			referenceColumn,
			{Name: "geometry", Type: TypeGeometry, Geometry: Point},
		},
	},
	TagAreas: {
		Layer: "observation_areas",
		Columns: []Column{
			observerColumn,
			observedOnColumn,
			municipalityColumn,
			{Name: "habitat_class", Type: TypeEnumText, Domain: "habitat_class"},
			{Name: "area_ha", Type: TypeReal, Nullable: true},
			{Name: "protected", Type: TypeBoolean, Nullable: true},
			notesColumn,
			referenceColumn,
			{Name: "geometry", Type: TypeGeometry, Geometry: MultiPolygon},
		},
	},
	TagLines: {
		Layer: "connectivity_lines",
		Columns: []Column{
			observerColumn,
			observedOnColumn,
			municipalityColumn,
			{Name: "connection_quality", Type: TypeEnumText, Domain: "connection_quality"},
			{Name: "width_m", Type: TypeReal, Nullable: true},
			notesColumn,
			referenceColumn,
			{Name: "geometry", Type: TypeGeometry, Geometry: MultiLineString},
		},
	},
}

func init() {
	for tag, t := range registry {
		if err := t.Validate(); err != nil {
			panic(fmt.Sprintf("schema: invalid table for tag %q: %v", tag, err))
		}
	}
}

// Lookup returns a copy of the table definition for tag. Tags without a
// structured schema (reports, other attachments) return false.
func Lookup(tag Tag) (*Table, bool) {
	t, ok := registry[tag]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Tags returns every known tag, structured or not, in a stable order.
func Tags() []Tag {
	return []Tag{TagPoints, TagAreas, TagLines, TagReport, TagOther}
}

// Tables returns copies of every table definition ordered by layer name.
func Tables() []*Table {
	out := make([]*Table, 0, len(registry))
	for _, t := range registry {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Layer < out[j].Layer })
	return out
}

// ParseTag converts user input into a known tag.
func ParseTag(s string) (Tag, error) {
	tag := Tag(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Tags() {
		if tag == known {
			return tag, nil
		}
	}
	return "", fmt.Errorf("schema: unknown tag %q", s)
}
