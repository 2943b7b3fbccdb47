package geoingest

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/tingold/geoingest/schema"
)

// fgbColumnType maps a semantic column type onto a FlatGeobuf column type.
// Dates are stored as ISO 8601 DateTime strings.
func fgbColumnType(t schema.Type) flattypes.ColumnType {
	switch t {
	case schema.TypeInteger:
		return flattypes.ColumnTypeLong
	case schema.TypeReal:
		return flattypes.ColumnTypeDouble
	case schema.TypeBoolean:
		return flattypes.ColumnTypeBool
	case schema.TypeDate:
		return flattypes.ColumnTypeDateTime
	default:
		return flattypes.ColumnTypeString
	}
}

// fgbColumns builds the header columns for every attribute of table. The
// geometry column is stored as the feature geometry, not as a property.
func fgbColumns(table *schema.Table, builder *flatbuffers.Builder) ([]*writer.Column, []schema.Column) {
	var (
		columns []*writer.Column
		attrs   []schema.Column
	)
	for _, c := range table.Columns {
		if c.Type == schema.TypeGeometry {
			continue
		}
		col := writer.NewColumn(builder)
		col.SetName(c.Name)
		col.SetTitle(c.Name)
		col.SetType(fgbColumnType(c.Type))
		col.SetNullable(c.Nullable)
		columns = append(columns, col)
		attrs = append(attrs, c)
	}
	return columns, attrs
}

// encodeProperties writes row in the FlatGeobuf property layout: a uint16
// column index followed by the value, for every non-null column.
func encodeProperties(row map[string]schema.Value, attrs []schema.Column) ([]byte, error) {
	var buf bytes.Buffer
	b := make([]byte, 8)

	for i, col := range attrs {
		v, ok := row[col.Name]
		if !ok || schema.IsNull(v) {
			continue
		}
		binary.LittleEndian.PutUint16(b, uint16(i))
		buf.Write(b[:2])

		switch col.Type {
		case schema.TypeInteger:
			n, ok := v.(schema.Integer)
			if !ok {
				return nil, fmt.Errorf("column %s: %w: %T", col.Name, ErrInvalidData, v)
			}
			binary.LittleEndian.PutUint64(b, uint64(n))
			buf.Write(b)
		case schema.TypeReal:
			f, ok := v.(schema.Real)
			if !ok {
				return nil, fmt.Errorf("column %s: %w: %T", col.Name, ErrInvalidData, v)
			}
			binary.LittleEndian.PutUint64(b, math.Float64bits(float64(f)))
			buf.Write(b)
		case schema.TypeBoolean:
			t, ok := v.(schema.Bool)
			if !ok {
				return nil, fmt.Errorf("column %s: %w: %T", col.Name, ErrInvalidData, v)
			}
			if t {
				buf.WriteByte(1)
			} else {
				buf.WriteByte(0)
			}
		case schema.TypeDate:
			d, ok := v.(schema.Date)
			if !ok {
				return nil, fmt.Errorf("column %s: %w: %T", col.Name, ErrInvalidData, v)
			}
			writeString(&buf, d.String())
		default:
			writeString(&buf, fmt.Sprint(v.Native()))
		}
	}

	return buf.Bytes(), nil
}

// writeString writes a uint32 length prefix and the UTF-8 bytes.
func writeString(buf *bytes.Buffer, s string) {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
	buf.Write(n[:])
	buf.WriteString(s)
}

// decodeProperties reads the property buffer of one feature into a map keyed
// by column name. Truncated or out-of-range data is an error.
func decodeProperties(data []byte, header *flattypes.Header) (map[string]any, error) {
	props := make(map[string]any)
	offset := 0

	for offset < len(data) {
		if offset+2 > len(data) {
			return nil, fmt.Errorf("%w: truncated property index", ErrInvalidData)
		}
		idx := int(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2

		var col flattypes.Column
		if idx >= header.ColumnsLength() || !header.Columns(&col, idx) {
			return nil, fmt.Errorf("%w: property column %d out of range", ErrInvalidData, idx)
		}

		value, n, err := readPropertyValue(data[offset:], col.Type())
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col.Name(), err)
		}
		offset += n
		props[string(col.Name())] = value
	}

	return props, nil
}

// propertySizes holds the byte width of fixed-size column types.
var propertySizes = map[flattypes.ColumnType]int{
	flattypes.ColumnTypeByte:   1,
	flattypes.ColumnTypeUByte:  1,
	flattypes.ColumnTypeBool:   1,
	flattypes.ColumnTypeShort:  2,
	flattypes.ColumnTypeUShort: 2,
	flattypes.ColumnTypeInt:    4,
	flattypes.ColumnTypeUInt:   4,
	flattypes.ColumnTypeFloat:  4,
	flattypes.ColumnTypeLong:   8,
	flattypes.ColumnTypeULong:  8,
	flattypes.ColumnTypeDouble: 8,
}

// readPropertyValue decodes one value and returns the bytes consumed.
func readPropertyValue(data []byte, typ flattypes.ColumnType) (any, int, error) {
	if size, fixed := propertySizes[typ]; fixed {
		if len(data) < size {
			return nil, 0, fmt.Errorf("%w: truncated %s value", ErrInvalidData, flattypes.EnumNamesColumnType[typ])
		}
		switch typ {
		case flattypes.ColumnTypeByte:
			return int8(data[0]), 1, nil
		case flattypes.ColumnTypeUByte:
			return data[0], 1, nil
		case flattypes.ColumnTypeBool:
			return data[0] != 0, 1, nil
		case flattypes.ColumnTypeShort:
			return int16(binary.LittleEndian.Uint16(data)), 2, nil
		case flattypes.ColumnTypeUShort:
			return binary.LittleEndian.Uint16(data), 2, nil
		case flattypes.ColumnTypeInt:
			return int32(binary.LittleEndian.Uint32(data)), 4, nil
		case flattypes.ColumnTypeUInt:
			return binary.LittleEndian.Uint32(data), 4, nil
		case flattypes.ColumnTypeFloat:
			return math.Float32frombits(binary.LittleEndian.Uint32(data)), 4, nil
		case flattypes.ColumnTypeLong:
			return int64(binary.LittleEndian.Uint64(data)), 8, nil
		case flattypes.ColumnTypeULong:
			return binary.LittleEndian.Uint64(data), 8, nil
		default:
			return math.Float64frombits(binary.LittleEndian.Uint64(data)), 8, nil
		}
	}

	// Variable-size values carry a uint32 length prefix.
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("%w: truncated length", ErrInvalidData)
	}
	n := int(binary.LittleEndian.Uint32(data))
	if n < 0 || len(data)-4 < n {
		return nil, 0, fmt.Errorf("%w: value length %d exceeds buffer", ErrInvalidData, n)
	}
	body := data[4 : 4+n]

	switch typ {
	case flattypes.ColumnTypeString, flattypes.ColumnTypeDateTime:
		return string(body), 4 + n, nil
	case flattypes.ColumnTypeJson:
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return string(body), 4 + n, nil
		}
		return v, 4 + n, nil
	case flattypes.ColumnTypeBinary:
		return append([]byte(nil), body...), 4 + n, nil
	}
	return nil, 0, fmt.Errorf("%w: unsupported column type %d", ErrInvalidData, typ)
}
