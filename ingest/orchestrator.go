// Package ingest validates a submission of uploaded files and, when every
// file is clean, writes all of their rows to the spatial store in a single
// transaction.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tingold/geoingest"
	"github.com/tingold/geoingest/schema"
)

// Options configures an Orchestrator.
type Options struct {
	// TempDir is where uploads are spooled while they are read.
	TempDir string
	// Domains, when set, enables enum membership checks against the values
	// it returns. Domains are resolved once per run.
	Domains DomainSource
	Metrics *Metrics
}

// Orchestrator runs ingestion submissions. It is safe for concurrent use;
// each Run owns its readers and transaction.
type Orchestrator struct {
	store   Store
	logger  *zap.Logger
	opts    Options
	metrics *Metrics
}

// New creates an Orchestrator writing to store.
func New(store Store, logger *zap.Logger, opts Options) *Orchestrator {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Orchestrator{
		store:   store,
		logger:  logger.Named("ingest"),
		opts:    opts,
		metrics: metrics,
	}
}

// Run validates every upload and commits the rows of all of them, or none.
//
// Uploads whose tag has no table are skipped. Every file is read to the end
// so a rejected result lists all validation errors of the submission. A file
// that cannot be opened as a container aborts the run with a
// *geoingest.FormatError; a failed write aborts it with a *StoreError after
// rolling back. In both cases nothing is stored.
func (o *Orchestrator) Run(ctx context.Context, uploads []Upload) (*Result, error) {
	res := &Result{
		RunID:    uuid.New(),
		Inserted: make(map[string]int64),
	}
	logger := o.logger.With(zap.String("run_id", res.RunID.String()))

	var (
		batches []*batch
		byLayer = make(map[string]*batch)
		domains = make(map[string][]string)
	)

	// Collecting
	for _, up := range uploads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		table, ok := schema.Lookup(up.Tag)
		if !ok {
			logger.Debug("Skipping unstructured upload",
				zap.String("tag", string(up.Tag)),
				zap.String("name", up.Name))
			res.Files = append(res.Files, FileReport{Tag: up.Tag, Name: up.Name, Skipped: true})
			continue
		}

		if err := o.resolveDomains(ctx, table, domains); err != nil {
			return nil, err
		}

		report, features, err := o.readUpload(ctx, up, table, domains)
		if err != nil {
			logger.Warn("Upload could not be read",
				zap.String("tag", string(up.Tag)),
				zap.String("name", up.Name),
				zap.Error(err))
			return nil, err
		}
		res.Files = append(res.Files, report)
		res.Features += report.Features

		b, ok := byLayer[table.Layer]
		if !ok {
			b = &batch{table: table}
			byLayer[table.Layer] = b
			batches = append(batches, b)
		}
		b.features = append(b.features, features...)
	}

	if n := res.ErrorCount(); n > 0 {
		res.Outcome = OutcomeRejected
		o.metrics.Runs.WithLabelValues(string(OutcomeRejected)).Inc()
		logger.Info("Submission rejected",
			zap.Int("files", len(res.Files)),
			zap.Int("errors", n))
		return res, nil
	}

	// Committing
	if err := o.commit(ctx, batches, res); err != nil {
		o.metrics.Runs.WithLabelValues("failed").Inc()
		logger.Error("Commit failed", zap.Error(err))
		return nil, err
	}

	res.Outcome = OutcomeCommitted
	o.metrics.Runs.WithLabelValues(string(OutcomeCommitted)).Inc()
	for layer, n := range res.Inserted {
		o.metrics.RowsInserted.WithLabelValues(layer).Add(float64(n))
	}
	logger.Info("Submission committed",
		zap.Int("files", len(res.Files)),
		zap.Int("features", res.Features))
	return res, nil
}

// resolveDomains loads the enum domains of table that are not loaded yet.
func (o *Orchestrator) resolveDomains(ctx context.Context, table *schema.Table, domains map[string][]string) error {
	if o.opts.Domains == nil {
		return nil
	}
	for _, name := range table.Domains() {
		if _, ok := domains[name]; ok {
			continue
		}
		values, err := o.opts.Domains.EnumValues(ctx, name)
		if err != nil {
			return fmt.Errorf("ingest: load domain %s: %w", name, err)
		}
		domains[name] = values
	}
	return nil
}

// readUpload drains one upload, returning its report and its valid features.
func (o *Orchestrator) readUpload(ctx context.Context, up Upload, table *schema.Table, domains map[string][]string) (FileReport, []*geoingest.Feature, error) {
	report := FileReport{Tag: up.Tag, Name: up.Name, Layer: table.Layer}

	rc, err := up.Open(ctx)
	if err != nil {
		return report, nil, fmt.Errorf("ingest: open %s: %w", up.Name, err)
	}
	defer rc.Close()

	opts := []geoingest.ReaderOption{geoingest.WithTempDir(o.opts.TempDir)}
	if len(domains) > 0 {
		opts = append(opts, geoingest.WithDomains(domains))
	}
	r, err := geoingest.NewReader(ctx, rc, table, opts...)
	if err != nil {
		var fe *geoingest.FormatError
		if errors.As(err, &fe) {
			fe.Path = up.Name
		}
		return report, nil, err
	}
	defer r.Close()

	var valid []*geoingest.Feature
	for r.Next() {
		f := r.Feature()
		report.Features++
		if f.IsValid() {
			valid = append(valid, f)
			continue
		}
		report.Errors = append(report.Errors, f.Errors...)
		for _, e := range f.Errors {
			o.metrics.ValidationErrors.WithLabelValues(table.Layer, e.Reason.String()).Inc()
		}
	}
	if err := r.Err(); err != nil {
		var fe *geoingest.FormatError
		if errors.As(err, &fe) {
			fe.Path = up.Name
		}
		return report, nil, err
	}
	o.metrics.FeaturesRead.WithLabelValues(table.Layer).Add(float64(report.Features))

	return report, valid, nil
}

// commit writes every batch in one transaction. Rows are encoded before the
// transaction opens.
func (o *Orchestrator) commit(ctx context.Context, batches []*batch, res *Result) (err error) {
	rows := make([][][]any, len(batches))
	for i, b := range batches {
		if rows[i], err = b.rows(); err != nil {
			return fmt.Errorf("ingest: encode %s: %w", b.table.Layer, err)
		}
	}

	tx, err := o.store.BeginTx(ctx)
	if err != nil {
		return &StoreError{Op: "begin", Err: err}
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				o.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
			}
		}
	}()

	for i, b := range batches {
		if len(rows[i]) == 0 {
			continue
		}
		n, err := tx.InsertRows(ctx, b.table, rows[i])
		if err != nil {
			return &StoreError{Op: "insert", Layer: b.table.Layer, Err: err}
		}
		res.Inserted[b.table.Layer] += n
	}

	if err := tx.Commit(ctx); err != nil {
		return &StoreError{Op: "commit", Err: err}
	}
	return nil
}
