package ingest

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/ewkb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tingold/geoingest"
	"github.com/tingold/geoingest/schema"
)

type fakeStore struct {
	mu         sync.Mutex
	beginErr   error
	insertErr  map[string]error
	commitErr  error
	began      int
	rolledBack int
	committed  map[string][][]any
}

func newFakeStore() *fakeStore {
	return &fakeStore{insertErr: map[string]error{}, committed: map[string][][]any{}}
}

func (s *fakeStore) BeginTx(context.Context) (Tx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	s.began++
	return &fakeTx{store: s, pending: map[string][][]any{}}, nil
}

type fakeTx struct {
	store   *fakeStore
	pending map[string][][]any
}

func (tx *fakeTx) InsertRows(_ context.Context, table *schema.Table, rows [][]any) (int64, error) {
	if err := tx.store.insertErr[table.Layer]; err != nil {
		return 0, err
	}
	tx.pending[table.Layer] = append(tx.pending[table.Layer], rows...)
	return int64(len(rows)), nil
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	if tx.store.commitErr != nil {
		return tx.store.commitErr
	}
	for layer, rows := range tx.pending {
		tx.store.committed[layer] = append(tx.store.committed[layer], rows...)
	}
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.store.rolledBack++
	return nil
}

func (s *fakeStore) rows() int {
	n := 0
	for _, rows := range s.committed {
		n += len(rows)
	}
	return n
}

func loose(table *schema.Table) *schema.Table {
	cp := &schema.Table{Layer: table.Layer, Columns: append([]schema.Column(nil), table.Columns...)}
	for i := range cp.Columns {
		cp.Columns[i].Nullable = true
	}
	return cp
}

func pointRow(observer string) map[string]schema.Value {
	row := map[string]schema.Value{
		"observation_date": schema.NewDate(2023, 5, 2),
		"municipality":     schema.Integer(91),
		"nest_type":        schema.Text("Kolo"),
		"droppings":        schema.Bool(true),
		"geometry":         schema.Geom{Geometry: orb.Point{385000, 6672000}},
	}
	if observer != "" {
		row["observer"] = schema.Text(observer)
	}
	return row
}

func areaRow() map[string]schema.Value {
	return map[string]schema.Value{
		"observer":         schema.Text("consultant"),
		"observation_date": schema.NewDate(2023, 6, 12),
		"municipality":     schema.Integer(49),
		"habitat_class":    schema.Text("spruce mire"),
		"geometry": schema.Geom{Geometry: orb.MultiPolygon{
			{{{385000, 6672000}, {385100, 6672000}, {385100, 6672100}, {385000, 6672000}}},
		}},
	}
}

func fixture(t *testing.T, tag schema.Tag, format geoingest.Format, rows ...map[string]schema.Value) Upload {
	t.Helper()
	table, ok := schema.Lookup(tag)
	require.True(t, ok)
	path := filepath.Join(t.TempDir(), table.Layer+"."+format.Extension())
	require.NoError(t, geoingest.Create(context.Background(), path, loose(table), rows, &geoingest.WriteOptions{Format: format}))
	return FileUpload(tag, path)
}

func TestRun_Committed(t *testing.T) {
	store := newFakeStore()
	reg := prometheus.NewRegistry()
	o := New(store, zap.NewNop(), Options{TempDir: t.TempDir(), Metrics: NewMetrics(reg)})

	res, err := o.Run(context.Background(), []Upload{
		fixture(t, schema.TagPoints, geoingest.FormatGeoPackage, pointRow("a"), pointRow("b")),
		fixture(t, schema.TagAreas, geoingest.FormatFlatGeobuf, areaRow()),
		fixture(t, schema.TagPoints, geoingest.FormatFlatGeobuf, pointRow("c")),
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeCommitted, res.Outcome)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", res.RunID.String())
	assert.Equal(t, 4, res.Features)
	assert.Equal(t, map[string]int64{"observation_points": 3, "observation_areas": 1}, res.Inserted)
	assert.Empty(t, res.ErrorsByTag())

	assert.Equal(t, 1, store.began)
	assert.Zero(t, store.rolledBack)
	require.Len(t, store.committed["observation_points"], 3)

	points, _ := schema.Lookup(schema.TagPoints)
	row := store.committed["observation_points"][0]
	require.Len(t, row, len(points.Columns))
	assert.Equal(t, "a", row[0])
	assert.Equal(t, int64(91), row[2])

	geom, srid, err := ewkb.Unmarshal(row[len(row)-1].([]byte))
	require.NoError(t, err)
	assert.Equal(t, schema.TargetSRID, srid)
	assert.Equal(t, orb.Point{385000, 6672000}, geom)

	assert.Equal(t, float64(1), testutil.ToFloat64(o.metrics.Runs.WithLabelValues("committed")))
	assert.Equal(t, float64(3), testutil.ToFloat64(o.metrics.RowsInserted.WithLabelValues("observation_points")))
	assert.Equal(t, float64(1), testutil.ToFloat64(o.metrics.FeaturesRead.WithLabelValues("observation_areas")))
}

// One defective points file rejects the whole submission, including the
// valid areas file.
func TestRun_RejectedWritesNothing(t *testing.T) {
	store := newFakeStore()
	o := New(store, zap.NewNop(), Options{TempDir: t.TempDir()})

	res, err := o.Run(context.Background(), []Upload{
		fixture(t, schema.TagAreas, geoingest.FormatGeoPackage, areaRow()),
		fixture(t, schema.TagPoints, geoingest.FormatGeoPackage, pointRow(""), pointRow("ok")),
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Zero(t, store.began)
	assert.Zero(t, store.rows())
	assert.Empty(t, res.Inserted)

	byTag := res.ErrorsByTag()
	require.Len(t, byTag, 1)
	require.Len(t, byTag[schema.TagPoints], 1)
	e := byTag[schema.TagPoints][0]
	assert.Equal(t, "1", e.FeatureID)
	assert.Equal(t, "observer", e.Column)
	assert.Equal(t, geoingest.IsNull, e.Reason)
	assert.Equal(t, 1, res.ErrorCount())
}

// Errors of every file are reported together.
func TestRun_ReportsAllFiles(t *testing.T) {
	store := newFakeStore()
	o := New(store, zap.NewNop(), Options{TempDir: t.TempDir()})

	badArea := areaRow()
	delete(badArea, "habitat_class")
	res, err := o.Run(context.Background(), []Upload{
		fixture(t, schema.TagPoints, geoingest.FormatGeoPackage, pointRow("")),
		fixture(t, schema.TagAreas, geoingest.FormatGeoPackage, badArea, badArea),
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Len(t, res.ErrorsByTag()[schema.TagPoints], 1)
	assert.Len(t, res.ErrorsByTag()[schema.TagAreas], 2)
	assert.Equal(t, 3, res.Features)
}

func TestRun_InsertFailureRollsBack(t *testing.T) {
	store := newFakeStore()
	store.insertErr["observation_areas"] = errors.New("relation does not exist")
	o := New(store, zap.NewNop(), Options{TempDir: t.TempDir()})

	res, err := o.Run(context.Background(), []Upload{
		fixture(t, schema.TagPoints, geoingest.FormatGeoPackage, pointRow("a")),
		fixture(t, schema.TagAreas, geoingest.FormatGeoPackage, areaRow()),
	})
	require.Error(t, err)
	assert.Nil(t, res)

	var se *StoreError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "insert", se.Op)
	assert.Equal(t, "observation_areas", se.Layer)
	assert.Equal(t, 1, store.rolledBack)
	assert.Zero(t, store.rows())
}

func TestRun_BeginAndCommitFailures(t *testing.T) {
	for _, tt := range []struct {
		name string
		op   string
		set  func(*fakeStore)
	}{
		{"begin", "begin", func(s *fakeStore) { s.beginErr = errors.New("connection refused") }},
		{"commit", "commit", func(s *fakeStore) { s.commitErr = errors.New("serialization failure") }},
	} {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			tt.set(store)
			o := New(store, zap.NewNop(), Options{TempDir: t.TempDir()})

			_, err := o.Run(context.Background(), []Upload{fixture(t, schema.TagPoints, geoingest.FormatGeoPackage, pointRow("a"))})
			var se *StoreError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.op, se.Op)
			assert.Zero(t, store.rows())
		})
	}
}

func TestRun_SkipsUnstructured(t *testing.T) {
	store := newFakeStore()
	o := New(store, zap.NewNop(), Options{TempDir: t.TempDir()})

	opened := false
	report := Upload{
		Tag:  schema.TagReport,
		Name: "report.pdf",
		Open: func(context.Context) (io.ReadCloser, error) {
			opened = true
			return io.NopCloser(strings.NewReader("%PDF")), nil
		},
	}
	res, err := o.Run(context.Background(), []Upload{report, fixture(t, schema.TagLines, geoingest.FormatGeoPackage)})
	require.NoError(t, err)

	assert.False(t, opened)
	assert.Equal(t, OutcomeCommitted, res.Outcome)
	require.Len(t, res.Files, 2)
	assert.True(t, res.Files[0].Skipped)
	assert.Equal(t, "connectivity_lines", res.Files[1].Layer)
}

func TestRun_FormatErrorAborts(t *testing.T) {
	store := newFakeStore()
	o := New(store, zap.NewNop(), Options{TempDir: t.TempDir()})

	garbage := filepath.Join(t.TempDir(), "points.gpkg")
	require.NoError(t, os.WriteFile(garbage, []byte("definitely not sqlite"), 0o644))

	_, err := o.Run(context.Background(), []Upload{
		fixture(t, schema.TagAreas, geoingest.FormatGeoPackage, areaRow()),
		FileUpload(schema.TagPoints, garbage),
	})
	var fe *geoingest.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, garbage, fe.Path)
	assert.ErrorIs(t, err, geoingest.ErrUnknownFormat)
	assert.Zero(t, store.began)
}

func TestRun_OpenFailure(t *testing.T) {
	o := New(newFakeStore(), zap.NewNop(), Options{TempDir: t.TempDir()})
	_, err := o.Run(context.Background(), []Upload{FileUpload(schema.TagPoints, filepath.Join(t.TempDir(), "missing.gpkg"))})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRun_Domains(t *testing.T) {
	store := newFakeStore()
	o := New(store, zap.NewNop(), Options{
		TempDir: t.TempDir(),
		Domains: StaticDomains{"nest_type": {"Pönttö"}},
	})

	res, err := o.Run(context.Background(), []Upload{fixture(t, schema.TagPoints, geoingest.FormatGeoPackage, pointRow("a"))})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	errs := res.ErrorsByTag()[schema.TagPoints]
	require.Len(t, errs, 1)
	assert.Equal(t, "nest_type", errs[0].Column)
	assert.Equal(t, geoingest.WrongType, errs[0].Reason)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := newFakeStore()
	o := New(store, zap.NewNop(), Options{TempDir: t.TempDir()})
	_, err := o.Run(ctx, []Upload{fixture(t, schema.TagPoints, geoingest.FormatGeoPackage, pointRow("a"))})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.began)
}
