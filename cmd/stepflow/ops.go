package main

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rendis/stepflow/internal/metrics"
	"github.com/rendis/stepflow/pkg/workflow"
)

// newOpsRouter serves the read-only operational endpoints of `serve`:
// Prometheus metrics, a liveness probe and the loaded workflow catalog.
func newOpsRouter(collector *metrics.Collector, catalog *workflow.Catalog) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", collector.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/workflows", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, catalog.Describe())
	})
	r.Get("/workflows/{name}", func(w http.ResponseWriter, req *http.Request) {
		wf, err := catalog.Get(chi.URLParam(req, "name"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, wf.Describe())
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response", slog.String("error", err.Error()))
	}
}
