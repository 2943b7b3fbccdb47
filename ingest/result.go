package ingest

import (
	"github.com/google/uuid"
	"github.com/tingold/geoingest"
	"github.com/tingold/geoingest/schema"
)

// Outcome is how an ingestion run ended.
type Outcome string

const (
	// OutcomeRejected means at least one file had validation errors and
	// nothing was written.
	OutcomeRejected Outcome = "rejected"
	// OutcomeCommitted means every valid row was written in one transaction.
	OutcomeCommitted Outcome = "committed"
)

// FileReport summarizes the validation of one uploaded file.
type FileReport struct {
	Tag      schema.Tag                  `json:"tag"`
	Name     string                      `json:"name"`
	Layer    string                      `json:"layer,omitempty"`
	Skipped  bool                        `json:"skipped,omitempty"`
	Features int                         `json:"features"`
	Errors   []geoingest.ValidationError `json:"errors,omitempty"`
}

// Result is the outcome of Orchestrator.Run.
type Result struct {
	RunID    uuid.UUID        `json:"runId"`
	Outcome  Outcome          `json:"outcome"`
	Files    []FileReport     `json:"files"`
	Inserted map[string]int64 `json:"inserted,omitempty"` // rows per layer
	Features int              `json:"features"`
}

// ErrorsByTag groups every validation error of the run by document tag.
func (r *Result) ErrorsByTag() map[schema.Tag][]geoingest.ValidationError {
	out := make(map[schema.Tag][]geoingest.ValidationError)
	for _, f := range r.Files {
		if len(f.Errors) > 0 {
			out[f.Tag] = append(out[f.Tag], f.Errors...)
		}
	}
	return out
}

// ErrorCount returns the number of validation errors across all files.
func (r *Result) ErrorCount() int {
	n := 0
	for _, f := range r.Files {
		n += len(f.Errors)
	}
	return n
}
