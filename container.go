package geoingest

import (
	"bytes"
	"errors"
	"io"
	"os"
)

var (
	sqliteMagic = []byte("SQLite format 3\x00")
	fgbMagic    = []byte{0x66, 0x67, 0x62, 0x03}
)

// rawFeature is one row as the container stores it, before validation.
type rawFeature struct {
	id    string
	attrs map[string]any
	// geometry is the row's primary geometry: an orb.Geometry, the raw bytes
	// when they could not be decoded, or nil.
	geometry any
}

// cursor is a forward-only pass over a single feature layer.
type cursor interface {
	header() *Header
	// next returns io.EOF after the last row.
	next() (*rawFeature, error)
	close() error
}

// sniffFile detects the container format of the file at path from its magic bytes.
func sniffFile(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, len(sqliteMagic))
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return 0, err
	}
	return sniff(buf[:n])
}

func sniff(head []byte) (Format, error) {
	switch {
	case bytes.HasPrefix(head, sqliteMagic):
		return FormatGeoPackage, nil
	case bytes.HasPrefix(head, fgbMagic):
		return FormatFlatGeobuf, nil
	}
	return 0, ErrUnknownFormat
}
