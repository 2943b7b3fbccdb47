package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tingold/geoingest/ingest"
	"github.com/tingold/geoingest/internal/server"
)

func newServeCommand(a *app) *cobra.Command {
	var (
		addr  string
		useDB bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve templates, validation and metrics over HTTP.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			format, err := a.cfg.Template.ParseFormat()
			if err != nil {
				return err
			}
			source, closeSource, err := a.domainSource(ctx, useDB)
			if err != nil {
				return err
			}
			defer closeSource()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			metrics := ingest.NewMetrics(reg)

			handler := server.Handler(
				ingest.NewTemplates(source, a.logger, a.cfg.Template.Dir, metrics),
				a.logger,
				server.Options{
					Domains:  source,
					Format:   format,
					TempDir:  a.cfg.Storage.TempDir,
					Gatherer: reg,
				},
			)
			return listenAndServe(ctx, addr, handler, a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address. Defaults to server.addr.")
	cmd.Flags().BoolVar(&useDB, "db", false, "Read enum values from the database instead of the configured domains.")
	return cmd
}

// listenAndServe runs srv until ctx is cancelled, then drains it.
func listenAndServe(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Listening", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	logger.Info("Shutting down")
	return srv.Shutdown(shutdownCtx)
}
