package geoingest

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/tingold/geoingest/schema"
)

func TestFGBColumnType(t *testing.T) {
	tests := []struct {
		typ      schema.Type
		expected flattypes.ColumnType
	}{
		{schema.TypeText, flattypes.ColumnTypeString},
		{schema.TypeEnumText, flattypes.ColumnTypeString},
		{schema.TypeInteger, flattypes.ColumnTypeLong},
		{schema.TypeReal, flattypes.ColumnTypeDouble},
		{schema.TypeBoolean, flattypes.ColumnTypeBool},
		{schema.TypeDate, flattypes.ColumnTypeDateTime},
	}

	for _, tt := range tests {
		t.Run(tt.typ.String(), func(t *testing.T) {
			if got := fgbColumnType(tt.typ); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestEncodeProperties(t *testing.T) {
	attrs := []schema.Column{
		{Name: "name", Type: schema.TypeText},
		{Name: "count", Type: schema.TypeInteger},
		{Name: "missing", Type: schema.TypeReal, Nullable: true},
		{Name: "flag", Type: schema.TypeBoolean},
	}
	row := map[string]schema.Value{
		"name":    schema.Text("ab"),
		"count":   schema.Integer(7),
		"missing": schema.Null,
		"flag":    schema.Bool(true),
	}

	got, err := encodeProperties(row, attrs)
	if err != nil {
		t.Fatalf("encodeProperties failed: %v", err)
	}

	var want bytes.Buffer
	want.Write([]byte{0, 0, 2, 0, 0, 0, 'a', 'b'})
	want.Write([]byte{1, 0, 7, 0, 0, 0, 0, 0, 0, 0})
	want.Write([]byte{3, 0, 1})
	if !bytes.Equal(got, want.Bytes()) {
		t.Errorf("expected %v, got %v", want.Bytes(), got)
	}
}

func TestEncodeProperties_TypeMismatch(t *testing.T) {
	attrs := []schema.Column{{Name: "count", Type: schema.TypeInteger}}
	_, err := encodeProperties(map[string]schema.Value{"count": schema.Text("7")}, attrs)
	if !errors.Is(err, ErrInvalidData) {
		t.Errorf("expected ErrInvalidData, got %v", err)
	}
}

func TestReadPropertyValue(t *testing.T) {
	le := binary.LittleEndian
	double := make([]byte, 8)
	le.PutUint64(double, math.Float64bits(2.5))
	short := make([]byte, 2)
	le.PutUint16(short, uint16(0xfffe))

	tests := []struct {
		name string
		typ  flattypes.ColumnType
		data []byte
		want any
		n    int
	}{
		{"bool", flattypes.ColumnTypeBool, []byte{1}, true, 1},
		{"byte", flattypes.ColumnTypeByte, []byte{0xff}, int8(-1), 1},
		{"short", flattypes.ColumnTypeShort, short, int16(-2), 2},
		{"double", flattypes.ColumnTypeDouble, double, 2.5, 8},
		{"string", flattypes.ColumnTypeString, []byte{3, 0, 0, 0, 'a', 'b', 'c', 'x'}, "abc", 7},
		{"datetime", flattypes.ColumnTypeDateTime, append([]byte{10, 0, 0, 0}, "2024-06-01"...), "2024-06-01", 14},
		{"json", flattypes.ColumnTypeJson, append([]byte{2, 0, 0, 0}, "42"...), float64(42), 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n, err := readPropertyValue(tt.data, tt.typ)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want || n != tt.n {
				t.Errorf("expected %v (%d bytes), got %v (%d bytes)", tt.want, tt.n, got, n)
			}
		})
	}
}

func TestReadPropertyValue_Truncated(t *testing.T) {
	tests := []struct {
		name string
		typ  flattypes.ColumnType
		data []byte
	}{
		{"long", flattypes.ColumnTypeLong, []byte{1, 2, 3}},
		{"string length", flattypes.ColumnTypeString, []byte{1, 0}},
		{"string body", flattypes.ColumnTypeString, []byte{9, 0, 0, 0, 'a'}},
		{"binary", flattypes.ColumnTypeBinary, []byte{5, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := readPropertyValue(tt.data, tt.typ); !errors.Is(err, ErrInvalidData) {
				t.Errorf("expected ErrInvalidData, got %v", err)
			}
		})
	}
}
