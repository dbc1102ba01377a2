package claimd

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewAdminRouter exposes operator controls and introspection for the claim
// service: pause/resume, status, the settlement history window, a health
// check, and Prometheus metrics.
func NewAdminRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/pause", func(w http.ResponseWriter, req *http.Request) {
		svc.Pause()
		w.WriteHeader(http.StatusNoContent)
	})
	r.Post("/resume", func(w http.ResponseWriter, req *http.Request) {
		svc.Resume()
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, svc.Status())
	})
	r.Get("/history", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, svc.History())
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
	}
}
