package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/tingold/geoingest"
	"github.com/tingold/geoingest/schema"
)

// Templates produces blank container files for the structured tags.
type Templates struct {
	source  DomainSource
	logger  *zap.Logger
	dir     string
	metrics *Metrics
}

// NewTemplates creates a template service reading enum domains from source.
// Templates are written under dir, or the system temp directory when empty.
func NewTemplates(source DomainSource, logger *zap.Logger, dir string, metrics *Metrics) *Templates {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Templates{
		source:  source,
		logger:  logger.Named("templates"),
		dir:     dir,
		metrics: metrics,
	}
}

// Generate writes a template for tag. Domains are fetched from the source on
// every call. The boolean is false when the tag has no table or the file
// could not be produced; failures are logged, not returned. The caller
// removes the template when done.
func (s *Templates) Generate(ctx context.Context, tag schema.Tag, format geoingest.Format) (*geoingest.Template, bool) {
	table, ok := schema.Lookup(tag)
	if !ok {
		s.logger.Debug("No template for unstructured tag", zap.String("tag", string(tag)))
		return nil, false
	}

	lookup := func(col schema.Column) ([]string, error) {
		if s.source == nil {
			return nil, nil
		}
		return s.source.EnumValues(ctx, col.Domain)
	}

	tmpl, err := geoingest.WriteTemplate(ctx, table, lookup, &geoingest.TemplateOptions{
		Format: format,
		Dir:    s.dir,
	})
	if err != nil {
		s.metrics.Templates.WithLabelValues(table.Layer, "failed").Inc()
		s.logger.Error("Failed to write template",
			zap.String("tag", string(tag)),
			zap.String("layer", table.Layer),
			zap.String("format", format.String()),
			zap.Error(err))
		return nil, false
	}

	s.metrics.Templates.WithLabelValues(table.Layer, "ok").Inc()
	s.logger.Debug("Template written",
		zap.String("layer", table.Layer),
		zap.String("path", tmpl.Path))
	return tmpl, true
}
