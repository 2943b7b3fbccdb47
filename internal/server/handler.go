// Package server exposes template downloads, stateless validation and
// metrics over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tingold/geoingest"
	"github.com/tingold/geoingest/ingest"
	"github.com/tingold/geoingest/schema"
)

// DefaultMaxUpload is the largest request body /validate accepts.
const DefaultMaxUpload = 256 << 20

// Options configures Handler.
type Options struct {
	// Domains enables enum checks on /validate. Nil accepts any label.
	Domains ingest.DomainSource
	// Format is the template format served when the request names none.
	Format geoingest.Format
	// TempDir is where uploads are spooled.
	TempDir   string
	MaxUpload int64
	// Gatherer backs /metrics; prometheus.DefaultGatherer when nil.
	Gatherer prometheus.Gatherer
}

// Handler returns the router serving templates, validation and metrics.
func Handler(templates *ingest.Templates, logger *zap.Logger, opts Options) http.Handler {
	if opts.MaxUpload == 0 {
		opts.MaxUpload = DefaultMaxUpload
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &server{
		templates: templates,
		logger:    logger.Named("http"),
		opts:      opts,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.getHealth).Methods("GET").Name("GetHealth")
	router.HandleFunc("/tables", s.getTables).Methods("GET").Name("GetTables")
	router.HandleFunc("/templates/{tag}", s.getTemplate).Methods("GET").Name("GetTemplate")
	router.HandleFunc("/validate/{tag}", s.postValidate).Methods("POST").Name("PostValidate")
	router.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	return router
}

type server struct {
	templates *ingest.Templates
	logger    *zap.Logger
	opts      Options
}

// GET /health
func (s *server) getHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type columnResponse struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Domain   string `json:"domain,omitempty"`
	Geometry string `json:"geometry,omitempty"`
	Nullable bool   `json:"nullable"`
}

type tableResponse struct {
	Tag     schema.Tag       `json:"tag"`
	Layer   string           `json:"layer"`
	Columns []columnResponse `json:"columns"`
}

// GET /tables
func (s *server) getTables(w http.ResponseWriter, r *http.Request) {
	var resp []tableResponse
	for _, tag := range schema.Tags() {
		table, ok := schema.Lookup(tag)
		if !ok {
			continue
		}
		tr := tableResponse{Tag: tag, Layer: table.Layer}
		for _, c := range table.Columns {
			cr := columnResponse{Name: c.Name, Type: c.Type.String(), Domain: c.Domain, Nullable: c.Nullable}
			if c.Type == schema.TypeGeometry {
				cr.Geometry = c.Geometry.String()
			}
			tr.Columns = append(tr.Columns, cr)
		}
		resp = append(resp, tr)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// GET /templates/{tag}?format=gpkg|fgb
func (s *server) getTemplate(w http.ResponseWriter, r *http.Request) {
	tag, err := schema.ParseTag(mux.Vars(r)["tag"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	format := s.opts.Format
	if f := r.URL.Query().Get("format"); f != "" {
		if format, err = geoingest.ParseFormat(f); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	tmpl, ok := s.templates.Generate(r.Context(), tag, format)
	if !ok {
		http.Error(w, "no template available for "+string(tag), http.StatusNotFound)
		return
	}
	defer tmpl.Remove()

	f, err := tmpl.Open()
	if err != nil {
		s.logger.Error("Failed to open template", zap.String("path", tmpl.Path), zap.Error(err))
		http.Error(w, "template unavailable", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", tmpl.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+tmpl.Filename()+`"`)
	if info, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Warn("Failed to send template", zap.Error(err))
	}
}

type validateResponse struct {
	Layer    string                      `json:"layer"`
	Features int                         `json:"features"`
	Valid    bool                        `json:"valid"`
	Errors   []geoingest.ValidationError `json:"errors"`
}

// POST /validate/{tag}?output=geojson
//
// The body is a GeoPackage or FlatGeobuf file. Nothing is stored.
func (s *server) postValidate(w http.ResponseWriter, r *http.Request) {
	tag, err := schema.ParseTag(mux.Vars(r)["tag"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	table, ok := schema.Lookup(tag)
	if !ok {
		http.Error(w, "tag "+string(tag)+" is not validated", http.StatusNotFound)
		return
	}

	opts := []geoingest.ReaderOption{geoingest.WithTempDir(s.opts.TempDir)}
	domains, err := ingest.LoadDomains(r.Context(), s.opts.Domains, table)
	if err != nil {
		s.logger.Error("Failed to load domains", zap.String("layer", table.Layer), zap.Error(err))
		http.Error(w, "domains unavailable", http.StatusServiceUnavailable)
		return
	}
	opts = append(opts, geoingest.WithDomains(domains))

	body := http.MaxBytesReader(w, r.Body, s.opts.MaxUpload)
	defer body.Close()

	reader, err := geoingest.NewReader(r.Context(), body, table, opts...)
	if err != nil {
		s.readError(w, err)
		return
	}
	defer reader.Close()

	features, err := reader.ReadAll()
	if err != nil {
		s.readError(w, err)
		return
	}

	if r.URL.Query().Get("output") == "geojson" {
		w.Header().Set("Content-Type", "application/geo+json")
		if err := json.NewEncoder(w).Encode(geoingest.FeatureCollection(table, features)); err != nil {
			s.logger.Warn("Failed to encode response", zap.Error(err))
		}
		return
	}

	resp := validateResponse{Layer: table.Layer, Features: len(features), Errors: []geoingest.ValidationError{}}
	for _, f := range features {
		resp.Errors = append(resp.Errors, f.Errors...)
	}
	resp.Valid = len(resp.Errors) == 0
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *server) readError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	var fe *geoingest.FormatError
	switch {
	case errors.As(err, &maxErr):
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.As(err, &fe):
		// The path is the local spool file.
		fe.Path = ""
		http.Error(w, fe.Error(), http.StatusUnprocessableEntity)
	default:
		s.logger.Error("Failed to read upload", zap.Error(err))
		http.Error(w, "failed to read upload", http.StatusInternalServerError)
	}
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to encode response", zap.Error(err))
	}
}
