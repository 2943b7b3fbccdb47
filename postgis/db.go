// Package postgis is the PostgreSQL/PostGIS spatial store validated rows are
// committed to. It also reads enum domains from the catalog and creates the
// registry's tables.
package postgis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tingold/geoingest/ingest"
	"github.com/tingold/geoingest/schema"
)

// DefaultSchema is the PostgreSQL schema holding the survey tables and enums.
const DefaultSchema = "public"

// batchSize is the number of rows queued per round trip.
const batchSize = 500

// ErrDomainNotFound is returned by EnumValues when no enum type has the name.
var ErrDomainNotFound = errors.New("postgis: enum domain not found")

// Config holds database connection configuration.
type Config struct {
	URL             string
	Schema          string
	MaxConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DB wraps a pgxpool connection pool.
type DB struct {
	*pgxpool.Pool
	schema string
	logger *zap.Logger
}

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg *Config, logger *zap.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 10
	}

	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	if poolConfig.MaxConnLifetime == 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}

	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime == 0 {
		poolConfig.MaxConnIdleTime = time.Minute * 30
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(pool, cfg.Schema, logger), nil
}

// New wraps an existing pool. An empty schemaName means DefaultSchema.
func New(pool *pgxpool.Pool, schemaName string, logger *zap.Logger) *DB {
	if schemaName == "" {
		schemaName = DefaultSchema
	}
	return &DB{Pool: pool, schema: schemaName, logger: logger.Named("postgis")}
}

// Schema returns the PostgreSQL schema the store writes to.
func (db *DB) Schema() string {
	return db.schema
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// BeginTx starts the transaction an ingestion run commits through.
func (db *DB) BeginTx(ctx context.Context) (ingest.Tx, error) {
	t, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &tx{tx: t, schema: db.schema, logger: db.logger}, nil
}

type tx struct {
	tx     pgx.Tx
	schema string
	logger *zap.Logger
}

// InsertRows queues one INSERT per row and sends them in batches.
func (t *tx) InsertRows(ctx context.Context, table *schema.Table, rows [][]any) (int64, error) {
	query := insertSQL(t.schema, table)

	var inserted int64
	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))

		batch := &pgx.Batch{}
		for _, row := range rows[start:end] {
			if len(row) != len(table.Columns) {
				return inserted, fmt.Errorf("row has %d values, table %s has %d columns", len(row), table.Layer, len(table.Columns))
			}
			batch.Queue(query, row...)
		}

		n, err := sendBatch(ctx, t.tx, batch, start)
		inserted += n
		if err != nil {
			return inserted, err
		}
	}

	t.logger.Debug("Rows inserted",
		zap.String("layer", table.Layer),
		zap.Int64("rows", inserted))
	return inserted, nil
}

func sendBatch(ctx context.Context, conn pgx.Tx, batch *pgx.Batch, offset int) (int64, error) {
	results := conn.SendBatch(ctx, batch)
	defer results.Close()

	var n int64
	for i := 0; i < batch.Len(); i++ {
		tag, err := results.Exec()
		if err != nil {
			return n, fmt.Errorf("failed to insert row %d: %w", offset+i, err)
		}
		n += tag.RowsAffected()
	}
	return n, results.Close()
}

func (t *tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// EnumValues returns the labels of the enum type named domain in the store's
// schema, in declaration order.
func (db *DB) EnumValues(ctx context.Context, domain string) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT e.enumlabel
		FROM pg_enum e
		JOIN pg_type t ON t.oid = e.enumtypid
		JOIN pg_namespace n ON n.oid = t.typnamespace
		WHERE n.nspname = $1 AND t.typname = $2
		ORDER BY e.enumsortorder`, db.schema, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to query enum %s: %w", domain, err)
	}

	values, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read enum %s: %w", domain, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s.%s", ErrDomainNotFound, db.schema, domain)
	}
	return values, nil
}

var (
	_ ingest.Store        = (*DB)(nil)
	_ ingest.DomainSource = (*DB)(nil)
)
