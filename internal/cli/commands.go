package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tingold/geoingest"
	"github.com/tingold/geoingest/blob"
	"github.com/tingold/geoingest/ingest"
	"github.com/tingold/geoingest/schema"
)

// errInvalid makes the process exit non-zero after a report was printed.
var errInvalid = errors.New("validation failed")

func newTablesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the survey tables and their columns.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
			for _, tag := range schema.Tags() {
				table, ok := schema.Lookup(tag)
				if !ok {
					fmt.Fprintf(tw, "%s\t(not validated)\n", tag)
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\n", tag, table.Layer)
				for _, c := range table.Columns {
					typ := c.Type.String()
					switch c.Type {
					case schema.TypeEnumText:
						typ += "(" + c.Domain + ")"
					case schema.TypeGeometry:
						typ = c.Geometry.String()
					}
					null := "required"
					if c.Nullable {
						null = "nullable"
					}
					fmt.Fprintf(tw, "\t  %s\t%s\t%s\n", c.Name, typ, null)
				}
			}
			return tw.Flush()
		},
	}
}

func newValidateCommand(a *app) *cobra.Command {
	var (
		tag    string
		layer  string
		useDB  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "validate --tag <tag> <file>...",
		Short: "Validate local files without storing anything.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			t, table, err := lookupTable(tag)
			if err != nil {
				return err
			}
			source, closeSource, err := a.domainSource(ctx, useDB)
			if err != nil {
				return err
			}
			defer closeSource()

			domains, err := ingest.LoadDomains(ctx, source, table)
			if err != nil {
				return err
			}
			opts := []geoingest.ReaderOption{geoingest.WithDomains(domains)}
			if layer != "" {
				opts = append(opts, geoingest.WithLayer(layer))
			}

			var reports []ingest.FileReport
			invalid := false
			for _, path := range args {
				r, err := geoingest.Open(ctx, path, table, opts...)
				if err != nil {
					return err
				}
				features, err := r.ReadAll()
				_ = r.Close()
				if err != nil {
					return err
				}
				report := ingest.FileReport{Tag: t, Name: path, Layer: table.Layer, Features: len(features)}
				for _, f := range features {
					report.Errors = append(report.Errors, f.Errors...)
				}
				invalid = invalid || len(report.Errors) > 0
				reports = append(reports, report)
			}

			if asJSON {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(reports); err != nil {
					return err
				}
			} else {
				for _, rep := range reports {
					fmt.Fprintf(a.stdout, "%s: %d features, %d errors\n", rep.Name, rep.Features, len(rep.Errors))
					for _, e := range rep.Errors {
						fmt.Fprintf(a.stdout, "  %s\n", e)
					}
				}
			}
			if invalid {
				return errInvalid
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Document tag of the files (points, areas, lines).")
	cmd.Flags().StringVarP(&layer, "layer", "l", "", "GeoPackage layer to read. Defaults to the tag's table, then the first feature layer.")
	cmd.Flags().BoolVar(&useDB, "db", false, "Check enum values against the database instead of the configured domains.")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON.")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}

func newTemplateCommand(a *app) *cobra.Command {
	var (
		tag    string
		format string
		out    string
		useDB  bool
	)
	cmd := &cobra.Command{
		Use:   "template --tag <tag>",
		Short: "Write a blank template file for a tag.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			t, err := schema.ParseTag(tag)
			if err != nil {
				return err
			}
			f := a.cfg.Template.Format
			if format != "" {
				f = format
			}
			ff, err := geoingest.ParseFormat(f)
			if err != nil {
				return err
			}
			source, closeSource, err := a.domainSource(ctx, useDB)
			if err != nil {
				return err
			}
			defer closeSource()

			svc := ingest.NewTemplates(source, a.logger, a.cfg.Template.Dir, nil)
			tmpl, ok := svc.Generate(ctx, t, ff)
			if !ok {
				return fmt.Errorf("no template produced for %s", t)
			}
			defer tmpl.Remove()

			dest := filepath.Join(out, tmpl.Filename())
			if err := copyFile(tmpl.Path, dest); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, dest)
			return nil
		},
	}
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "Document tag (points, areas, lines).")
	cmd.Flags().StringVarP(&format, "format", "f", "", "Container format, gpkg or fgb. Defaults to template.format.")
	cmd.Flags().StringVarP(&out, "out", "o", ".", "Directory to write the template into.")
	cmd.Flags().BoolVar(&useDB, "db", false, "Read enum values from the database instead of the configured domains.")
	_ = cmd.MarkFlagRequired("tag")
	return cmd
}

func newIngestCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ingest <tag>=<key>...",
		Short: "Validate a submission and commit it to the database.",
		Long: `Reads every file from the configured storage backend, validates all of
them and, only if none has errors, writes their rows in one transaction.

A key ending in / names a prefix: every object under it is read with the
same tag. Files tagged report or other are accepted and skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			src, err := a.blobSource(ctx)
			if err != nil {
				return err
			}
			uploads, err := parseUploads(ctx, src, args)
			if err != nil {
				return err
			}

			db, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			o := ingest.New(db, a.logger, ingest.Options{
				TempDir: a.cfg.Storage.TempDir,
				Domains: db,
			})
			res, err := o.Run(ctx, uploads)
			if err != nil {
				return err
			}
			if err := printResult(a.stdout, res, asJSON); err != nil {
				return err
			}
			if res.Outcome == ingest.OutcomeRejected {
				return errInvalid
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON.")
	return cmd
}

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the PostGIS extension, enum types and survey tables.",
		Long: `Creates whatever is missing. Enum labels come from the domains section of
the configuration; labels already in the database are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.EnsureTables(ctx, schema.Tables(), a.cfg.Domains); err != nil {
				return err
			}
			a.logger.Info("Migration complete", zap.String("schema", db.Schema()))
			return nil
		},
	}
}

func lookupTable(tag string) (schema.Tag, *schema.Table, error) {
	t, err := schema.ParseTag(tag)
	if err != nil {
		return "", nil, err
	}
	table, ok := schema.Lookup(t)
	if !ok {
		return "", nil, fmt.Errorf("tag %s has no table to validate against", t)
	}
	return t, table, nil
}

// parseUploads turns tag=key arguments into uploads read from src. A key
// ending in a slash expands to every object under that prefix.
func parseUploads(ctx context.Context, src blob.Source, args []string) ([]ingest.Upload, error) {
	uploads := make([]ingest.Upload, 0, len(args))
	for _, arg := range args {
		tagStr, key, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not <tag>=<key>", arg)
		}
		tag, err := schema.ParseTag(tagStr)
		if err != nil {
			return nil, err
		}
		if !strings.HasSuffix(key, "/") {
			uploads = append(uploads, blob.Upload(src, tag, key))
			continue
		}

		keys, err := src.List(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", key, err)
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("no objects under %s", key)
		}
		for _, k := range keys {
			uploads = append(uploads, blob.Upload(src, tag, k))
		}
	}
	return uploads, nil
}

func printResult(w io.Writer, res *ingest.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(w, "run %s: %s\n", res.RunID, res.Outcome)
	for _, f := range res.Files {
		if f.Skipped {
			fmt.Fprintf(w, "  %s (%s): skipped\n", f.Name, f.Tag)
			continue
		}
		fmt.Fprintf(w, "  %s (%s): %d features, %d errors\n", f.Name, f.Tag, f.Features, len(f.Errors))
		for _, e := range f.Errors {
			fmt.Fprintf(w, "    %s\n", e)
		}
	}
	for layer, n := range res.Inserted {
		fmt.Fprintf(w, "  inserted %d rows into %s\n", n, layer)
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, in)
	return err
}

// Run executes the root command with ctx, mapping a failed validation to
// exit status 1 without repeating the report.
func Run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int {
	rc := NewRootCommand(stdin, stdout, stderr)
	rc.SetArgs(args)
	if err := rc.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errInvalid) {
			fmt.Fprintln(stderr, err)
		}
		return 1
	}
	return 0
}
