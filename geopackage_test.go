package geoingest

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

func TestGeoPackageGeometry_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		geom orb.Geometry
	}{
		{"Point", orb.Point{385000, 6672000}},
		{"LineString", orb.LineString{{0, 0}, {1, 1}}},
		{"MultiPolygon", orb.MultiPolygon{{{{0, 0}, {4, 0}, {4, 3}, {0, 0}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := encodeGeoPackageGeometry(tt.geom, 3067)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			if b[0] != 'G' || b[1] != 'P' {
				t.Fatalf("missing magic: %v", b[:2])
			}
			if srid := int32(binary.LittleEndian.Uint32(b[4:8])); srid != 3067 {
				t.Errorf("expected srs_id 3067, got %d", srid)
			}

			got, err := decodeGeoPackageGeometry(b)
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if !orb.Equal(got, tt.geom) {
				t.Errorf("expected %v, got %v", tt.geom, got)
			}
		})
	}
}

func TestEncodeGeoPackageGeometry_Envelope(t *testing.T) {
	point, _ := encodeGeoPackageGeometry(orb.Point{1, 2}, 3067)
	if flags := point[3]; flags != 0x01 {
		t.Errorf("expected point flags 0x01, got %#x", flags)
	}

	line, _ := encodeGeoPackageGeometry(orb.LineString{{1, 2}, {5, 7}}, 3067)
	if env := (line[3] >> 1) & 0x07; env != 1 {
		t.Errorf("expected XY envelope, got indicator %d", env)
	}
	if len(line) != 8+32+len(mustWKB(t, orb.LineString{{1, 2}, {5, 7}})) {
		t.Errorf("unexpected blob length %d", len(line))
	}
}

func TestDecodeGeoPackageGeometry_Empty(t *testing.T) {
	body := mustWKB(t, orb.Point{0, 0})
	b := append([]byte{'G', 'P', 0, 0x01 | 0x10, 0, 0, 0, 0}, body...)

	g, err := decodeGeoPackageGeometry(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g != nil {
		t.Errorf("expected nil for an empty geometry, got %v", g)
	}
}

func TestDecodeGeoPackageGeometry_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"short", []byte{'G', 'P'}},
		{"magic", []byte{'X', 'Y', 0, 1, 0, 0, 0, 0, 1}},
		{"envelope", []byte{'G', 'P', 0, 0x01 | 4<<1, 0, 0, 0, 0, 1, 2, 3}},
		{"indicator", []byte{'G', 'P', 0, 0x01 | 7<<1, 0, 0, 0, 0}},
		{"extended", []byte{'G', 'P', 0, 0x21, 0, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeGeoPackageGeometry(tt.data); !errors.Is(err, ErrInvalidData) {
				t.Errorf("expected ErrInvalidData, got %v", err)
			}
		})
	}
}

// Undecodable blobs are passed through so the validator can report them.
func TestDecodeGeoPackageValue(t *testing.T) {
	raw := []byte("garbage!")
	if got, ok := decodeGeoPackageValue(raw).([]byte); !ok || string(got) != "garbage!" {
		t.Errorf("expected raw bytes back, got %v", got)
	}
	if got := decodeGeoPackageValue(nil); got != nil {
		t.Errorf("expected nil, got %v", got)
	}
}

func TestQuoteIdent(t *testing.T) {
	if got := quoteIdent(`we"ird`); got != `"we""ird"` {
		t.Errorf("unexpected quoting %s", got)
	}
}

func mustWKB(t *testing.T, g orb.Geometry) []byte {
	t.Helper()
	b, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
