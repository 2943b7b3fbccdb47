// Package cli implements the geoingest command line.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tingold/geoingest/blob"
	"github.com/tingold/geoingest/ingest"
	"github.com/tingold/geoingest/internal/config"
	"github.com/tingold/geoingest/internal/logging"
	"github.com/tingold/geoingest/postgis"
)

// app is the state shared by every command, set up before any of them runs.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	cfg        *config.Config
	logger     *zap.Logger
}

// NewRootCommand returns the geoingest command tree.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}

	rc := &cobra.Command{
		Use:   "geoingest",
		Short: "Validate survey GeoPackage and FlatGeobuf files and load them into PostGIS.",
		Long: `geoingest checks uploaded GeoPackage and FlatGeobuf files against the
survey table definitions, generates blank templates for field workers, and
commits complete submissions to PostGIS in a single transaction.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	rc.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Configuration file to read from.")

	rc.AddCommand(newTablesCommand(a))
	rc.AddCommand(newValidateCommand(a))
	rc.AddCommand(newTemplateCommand(a))
	rc.AddCommand(newIngestCommand(a))
	rc.AddCommand(newMigrateCommand(a))
	rc.AddCommand(newServeCommand(a))

	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

func (a *app) setup() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) connect(ctx context.Context) (*postgis.DB, error) {
	db, err := postgis.Connect(ctx, &postgis.Config{
		URL:            a.cfg.Database.URL(),
		Schema:         a.cfg.Database.Schema,
		MaxConnections: a.cfg.Database.MaxConnections,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("Connected to database",
		zap.String("host", a.cfg.Database.Host),
		zap.String("database", a.cfg.Database.Database))
	return db, nil
}

// domainSource returns the database when useDB is set, otherwise the domains
// seeded in the configuration. The returned close function is never nil.
func (a *app) domainSource(ctx context.Context, useDB bool) (ingest.DomainSource, func(), error) {
	if !useDB {
		if len(a.cfg.Domains) == 0 {
			return nil, func() {}, nil
		}
		return ingest.StaticDomains(a.cfg.Domains), func() {}, nil
	}
	db, err := a.connect(ctx)
	if err != nil {
		return nil, nil, err
	}
	return db, db.Close, nil
}

func (a *app) blobSource(ctx context.Context) (blob.Source, error) {
	s := a.cfg.Storage
	switch s.Backend {
	case "s3":
		return blob.NewS3(ctx, blob.S3Config{
			Bucket:       s.Bucket,
			Region:       s.Region,
			Endpoint:     s.Endpoint,
			UsePathStyle: s.UsePathStyle,
		})
	case "local":
		return blob.NewLocal(s.LocalPath)
	}
	return nil, fmt.Errorf("unsupported storage backend %q", s.Backend)
}
