package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/mux"
	"github.com/paulmach/orb"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tingold/geoingest"
	"github.com/tingold/geoingest/ingest"
	"github.com/tingold/geoingest/internal/logging"
	"github.com/tingold/geoingest/internal/server"
	"github.com/tingold/geoingest/schema"
)

type Sighting struct {
	Observer     string
	Municipality int64
	NestType     string
	Easting      float64
	Northing     float64
	Droppings    bool
}

var sightings = []Sighting{
	{"Helsinki field team", 91, "Kolo", 385800, 6672300, true},
	{"Espoo field team", 49, "Pönttö", 374200, 6671100, false},
	{"Vantaa field team", 92, "Kolo", 391500, 6685200, true},
	{"Tampere field team", 837, "Risupesä", 327300, 6822600, false},
	{"Turku field team", 853, "Kolo", 239500, 6711800, true},
	{"Oulu field team", 564, "Pönttö", 427900, 7210400, true},
	{"Jyväskylä field team", 179, "Kolo", 435600, 6901800, false},
	{"Kuopio field team", 297, "Pönttö", 533100, 6974600, true},
}

var domains = ingest.StaticDomains{
	"nest_type":          {"Kolo", "Pönttö", "Risupesä"},
	"habitat_class":      {"spruce mire", "old-growth forest", "herb-rich forest"},
	"connection_quality": {"good", "weak", "broken"},
}

func main() {
	addr := flag.String("addr", "localhost:8080", "listen address")
	flag.Parse()

	logger, err := logging.New("info", "console")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dir, err := os.MkdirTemp("", "geoingest-demo-*")
	if err != nil {
		logger.Fatal("Failed to create work directory", zap.Error(err))
	}
	defer os.RemoveAll(dir)

	// Sample observations as FlatGeobuf
	points, _ := schema.Lookup(schema.TagPoints)
	var rows []map[string]schema.Value
	for _, s := range sightings {
		rows = append(rows, map[string]schema.Value{
			"observer":         schema.Text(s.Observer),
			"observation_date": schema.NewDate(2024, 5, 14),
			"municipality":     schema.Integer(s.Municipality),
			"nest_type":        schema.Text(s.NestType),
			"droppings":        schema.Bool(s.Droppings),
			"geometry":         schema.Geom{Geometry: orb.Point{s.Easting, s.Northing}},
		})
	}
	sample := filepath.Join(dir, "observation_points.fgb")
	err = geoingest.Create(context.Background(), sample, points, rows, &geoingest.WriteOptions{
		Format:      geoingest.FormatFlatGeobuf,
		Description: "Demo flying squirrel observations",
		Domains: func(col schema.Column) ([]string, error) {
			return domains.EnumValues(context.Background(), col.Domain)
		},
	})
	if err != nil {
		logger.Fatal("Failed to create FlatGeobuf", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	metrics := ingest.NewMetrics(reg)
	api := server.Handler(
		ingest.NewTemplates(domains, logger, dir, metrics),
		logger,
		server.Options{Domains: domains, TempDir: dir, Gatherer: reg},
	)

	router := mux.NewRouter()
	router.HandleFunc("/data.fgb", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		http.ServeFile(w, r, sample)
	}).Methods("GET")
	router.PathPrefix("/").Handler(api)

	logger.Info("Server starting", zap.String("url", "http://"+*addr))
	if err := http.ListenAndServe(*addr, router); err != nil {
		logger.Error("Server stopped", zap.Error(err))
	}
}
