package ingest

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricFeaturesRead     = "features_read_total"
	MetricValidationErrors = "validation_errors_total"
	MetricRowsInserted     = "rows_inserted_total"
	MetricRuns             = "runs_total"
	MetricTemplates        = "templates_total"
)

// Metrics holds the ingestion counters.
type Metrics struct {
	FeaturesRead     *prometheus.CounterVec
	ValidationErrors *prometheus.CounterVec
	RowsInserted     *prometheus.CounterVec
	Runs             *prometheus.CounterVec
	Templates        *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FeaturesRead: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "geoingest",
				Name:      MetricFeaturesRead,
				Help:      "Features read from uploaded files.",
			},
			[]string{"layer"},
		),
		ValidationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "geoingest",
				Name:      MetricValidationErrors,
				Help:      "Validation errors found in uploaded files.",
			},
			[]string{"layer", "reason"},
		),
		RowsInserted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "geoingest",
				Name:      MetricRowsInserted,
				Help:      "Rows committed to the spatial store.",
			},
			[]string{"layer"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "geoingest",
				Name:      MetricRuns,
				Help:      "Ingestion runs by outcome.",
			},
			[]string{"outcome"},
		),
		Templates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "geoingest",
				Name:      MetricTemplates,
				Help:      "Template requests by result.",
			},
			[]string{"layer", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.FeaturesRead, m.ValidationErrors, m.RowsInserted, m.Runs, m.Templates)
	}
	return m
}
