package blob

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tingold/geoingest/schema"
)

func TestLocal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub-42"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub-42", "points.gpkg"), []byte("points"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub-42", "areas.fgb"), []byte("areas"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))

	src, err := NewLocal(dir)
	require.NoError(t, err)
	ctx := context.Background()

	keys, err := src.List(ctx, "sub-42/")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-42/areas.fgb", "sub-42/points.gpkg"}, keys)

	rc, err := src.Open(ctx, "sub-42/points.gpkg")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "points", string(b))

	_, err = src.Open(ctx, "sub-42/missing.gpkg")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = src.Open(ctx, "../escape")
	assert.Error(t, err)
}

func TestNewLocalRequiresDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := NewLocal(file)
	assert.Error(t, err)
	_, err = NewLocal(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestUpload(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lines.gpkg"), []byte("lines"), 0o644))
	src, err := NewLocal(dir)
	require.NoError(t, err)

	up := Upload(src, schema.TagLines, "lines.gpkg")
	assert.Equal(t, schema.TagLines, up.Tag)
	assert.Equal(t, "lines.gpkg", up.Name)

	rc, err := up.Open(context.Background())
	require.NoError(t, err)
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "lines", string(b))
}

const listResponse = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
<Name>uploads</Name><Prefix>sub-42/</Prefix><KeyCount>2</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>
<Contents><Key>sub-42/areas.fgb</Key><Size>5</Size></Contents>
<Contents><Key>sub-42/points.gpkg</Key><Size>6</Size></Contents>
</ListBucketResult>`

const noSuchKeyResponse = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message><Key>sub-42/missing.gpkg</Key></Error>`

func fakeS3(t *testing.T) *S3 {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/uploads" || r.URL.Path == "/uploads/":
			w.Header().Set("Content-Type", "application/xml")
			_, _ = io.WriteString(w, listResponse)
		case r.URL.Path == "/uploads/sub-42/points.gpkg":
			w.Header().Set("Content-Length", "6")
			_, _ = io.WriteString(w, "points")
		default:
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, noSuchKeyResponse)
		}
	}))
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:       "eu-north-1",
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Credentials:  aws.AnonymousCredentials{},
	})
	return NewS3WithClient(client, "uploads")
}

func TestS3(t *testing.T) {
	src := fakeS3(t)
	ctx := context.Background()

	keys, err := src.List(ctx, "sub-42/")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub-42/areas.fgb", "sub-42/points.gpkg"}, keys)

	rc, err := src.Open(ctx, "sub-42/points.gpkg")
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "points", string(b))

	_, err = src.Open(ctx, "sub-42/missing.gpkg")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, strings.Contains(err.Error(), "s3://uploads/sub-42/missing.gpkg"))
}
