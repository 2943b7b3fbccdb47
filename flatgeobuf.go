package geoingest

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	flatgeobuf "github.com/flatgeobuf/flatgeobuf/src/go"
	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/tingold/geoingest/schema"
)

// packed R-tree node: four float64 bounds and a uint64 offset.
const fgbNodeSize = 40

// layerDescription is the JSON form of a FlatGeobuf layer description when
// it carries enum domain hints.
type layerDescription struct {
	Description string              `json:"description,omitempty"`
	Domains     map[string][]string `json:"domains,omitempty"`
}

// fgbCursor walks the size-prefixed features that follow the header and
// the optional spatial index.
type fgbCursor struct {
	data     []byte
	fh       *flattypes.Header
	hdr      *Header
	geomType flattypes.GeometryType
	offset   int
	ordinal  int
}

func openFlatGeobuf(path string) (cursor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return newFlatGeobufCursor(data)
}

func newFlatGeobufCursor(data []byte) (c *fgbCursor, err error) {
	defer recoverInvalid(&err)

	if len(data) < 12 {
		return nil, fmt.Errorf("%w: short header", ErrInvalidData)
	}
	headerSize := int(binary.LittleEndian.Uint32(data[8:12]))
	start := 12 + headerSize
	if headerSize <= 0 || start > len(data) {
		return nil, fmt.Errorf("%w: header size %d", ErrInvalidData, headerSize)
	}

	// The index is read in place by the library, so its declared size must
	// fit the file before the library sees it.
	indexSize := 0
	if fh := flattypes.GetSizePrefixedRootAsHeader(data, 8); fh.IndexNodeSize() > 0 && fh.FeaturesCount() > 0 {
		var ok bool
		indexSize, ok = packedRTreeSize(fh.FeaturesCount(), fh.IndexNodeSize(), len(data)-start)
		if !ok {
			return nil, fmt.Errorf("%w: index of %d features with node size %d does not fit the file",
				ErrInvalidData, fh.FeaturesCount(), fh.IndexNodeSize())
		}
	}

	fgb, err := flatgeobuf.NewWithData(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	fh := fgb.Header()
	if fh == nil {
		return nil, fmt.Errorf("%w: missing header", ErrInvalidData)
	}

	c = &fgbCursor{
		data:     data,
		fh:       fh,
		hdr:      fgbHeader(fh),
		geomType: fh.GeometryType(),
		offset:   start,
	}

	// Some writers declare a node size without writing an index; fall back to
	// the unindexed layout when the indexed offset does not land on a feature.
	if indexSize > 0 {
		if indexed := start + indexSize; fitsFeature(data, indexed) {
			c.offset = indexed
		}
	}
	return c, nil
}

// fitsFeature reports whether a size-prefixed feature starts at offset.
func fitsFeature(data []byte, offset int) bool {
	if offset+4 > len(data) {
		return offset == len(data)
	}
	n := int(binary.LittleEndian.Uint32(data[offset:]))
	return n > 0 && offset+4+n <= len(data)
}

// packedRTreeSize returns the byte size of the packed Hilbert R-tree for
// numItems features, or 0 when the file has no index. ok is false when the
// node size is unusable or the tree would exceed limit bytes.
func packedRTreeSize(numItems uint64, nodeSize uint16, limit int) (size int, ok bool) {
	if numItems == 0 || nodeSize == 0 {
		return 0, true
	}
	if nodeSize < 2 || limit < 0 {
		return 0, false
	}
	maxNodes := uint64(limit) / fgbNodeSize
	if numItems > maxNodes {
		return 0, false
	}
	ns := uint64(nodeSize)
	n := numItems
	numNodes := n
	for {
		n = n/ns + min(n%ns, 1)
		numNodes += n
		if numNodes > maxNodes {
			return 0, false
		}
		if n == 1 {
			break
		}
	}
	return int(numNodes * fgbNodeSize), true
}

func fgbHeader(fh *flattypes.Header) *Header {
	hdr := &Header{
		Format:        FormatFlatGeobuf,
		Name:          string(fh.Name()),
		Description:   string(fh.Description()),
		GeometryType:  flattypes.EnumNamesGeometryType[fh.GeometryType()],
		FeaturesCount: int64(fh.FeaturesCount()),
	}
	// Streaming writers leave the count at zero.
	if hdr.FeaturesCount == 0 {
		hdr.FeaturesCount = -1
	}

	var desc layerDescription
	if err := json.Unmarshal(fh.Description(), &desc); err == nil && desc.Domains != nil {
		hdr.Description = desc.Description
		hdr.Domains = desc.Domains
	}

	var crs flattypes.Crs
	if fh.Crs(&crs) != nil {
		hdr.SRID = int(crs.Code())
	}

	for i := 0; i < fh.ColumnsLength(); i++ {
		var col flattypes.Column
		if fh.Columns(&col, i) {
			hdr.Columns = append(hdr.Columns, ColumnInfo{
				Name:     string(col.Name()),
				Type:     flattypes.EnumNamesColumnType[col.Type()],
				Nullable: col.Nullable(),
			})
		}
	}
	return hdr
}

func (c *fgbCursor) header() *Header { return c.hdr }

func (c *fgbCursor) next() (raw *rawFeature, err error) {
	defer recoverInvalid(&err)

	if c.offset >= len(c.data) {
		return nil, io.EOF
	}
	if c.offset+4 > len(c.data) {
		return nil, fmt.Errorf("%w: truncated feature at offset %d", ErrInvalidData, c.offset)
	}
	size := int(binary.LittleEndian.Uint32(c.data[c.offset:]))
	end := c.offset + 4 + size
	if size <= 0 || end > len(c.data) {
		return nil, fmt.Errorf("%w: feature size %d at offset %d", ErrInvalidData, size, c.offset)
	}

	f := flattypes.GetRootAsFeature(c.data[c.offset+4:end], 0)
	c.offset = end
	c.ordinal++

	raw = &rawFeature{id: strconv.Itoa(c.ordinal)}
	if n := f.PropertiesLength(); n > 0 {
		props := make([]byte, n)
		for i := range props {
			props[i] = byte(f.Properties(i))
		}
		if raw.attrs, err = decodeProperties(props, c.fh); err != nil {
			return nil, fmt.Errorf("feature %d: %w", c.ordinal, err)
		}
	}

	var g flattypes.Geometry
	if geom := f.Geometry(&g); geom != nil {
		if og := geometryFromFGB(geom, c.geomType); og != nil {
			raw.geometry = og
		}
	}
	return raw, nil
}

func (c *fgbCursor) close() error {
	c.data = nil
	return nil
}

// recoverInvalid turns a panic from reading a malformed flatbuffer into
// ErrInvalidData.
func recoverInvalid(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", ErrInvalidData, r)
	}
}

// createFlatGeobuf writes table and rows as an unindexed FlatGeobuf layer.
// FlatGeobuf features always carry a geometry, so rows without one are
// rejected.
func createFlatGeobuf(w io.Writer, table *schema.Table, rows []map[string]schema.Value, domains map[string][]string, o *WriteOptions) error {
	geomCol, ok := table.GeometryColumn()
	if !ok {
		return ErrNoGeometry
	}
	for i, row := range rows {
		if g, ok := row[geomCol.Name].(schema.Geom); !ok || g.Geometry == nil {
			return fmt.Errorf("row %d: %w", i+1, ErrNilGeometry)
		}
	}

	builder := flatbuffers.NewBuilder(4096)
	header := writer.NewHeader(builder)
	header.SetName(table.Layer)
	header.SetGeometryType(fgbGeometryType(geomCol.Geometry))

	description := o.Description
	if len(domains) > 0 {
		b, err := json.Marshal(layerDescription{Description: o.Description, Domains: domains})
		if err != nil {
			return err
		}
		description = string(b)
	}
	if description != "" {
		header.SetDescription(description)
	}

	columns, attrs := fgbColumns(table, builder)
	if len(columns) > 0 {
		header.SetColumns(columns)
	}

	crs := writer.NewCrs(builder)
	crs.SetOrg("EPSG")
	crs.SetCode(int32(o.SRID))
	crs.SetName(o.srsName())
	crs.SetDescription(o.srsDefinition())
	header.SetCrs(crs)

	gen := &rowGenerator{rows: rows, attrs: attrs, geom: geomCol.Name}
	if _, err := writer.NewWriter(header, false, gen, nil).Write(w); err != nil {
		return err
	}
	return gen.err
}

// rowGenerator feeds typed rows to the FlatGeobuf writer.
type rowGenerator struct {
	rows  []map[string]schema.Value
	attrs []schema.Column
	geom  string
	index int
	err   error
}

func (g *rowGenerator) Generate() *writer.Feature {
	if g.index >= len(g.rows) || g.err != nil {
		return nil
	}
	row := g.rows[g.index]
	g.index++

	builder := flatbuffers.NewBuilder(1024)
	geom := row[g.geom].(schema.Geom).Geometry
	fg := geometryToFGB(geom, builder)
	if fg == nil {
		g.err = fmt.Errorf("row %d: unsupported geometry %T", g.index, geom)
		return nil
	}
	props, err := encodeProperties(row, g.attrs)
	if err != nil {
		g.err = fmt.Errorf("row %d: %w", g.index, err)
		return nil
	}

	feature := writer.NewFeature(builder)
	feature.SetGeometry(fg)
	if len(props) > 0 {
		feature.SetProperties(props)
	}
	return feature
}
