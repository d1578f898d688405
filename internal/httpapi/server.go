package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matanguihanbenson/agos-app/internal/loop"
)

// Ticker runs one sync pass on demand.
type Ticker interface {
	Tick(ctx context.Context) (*loop.Result, error)
}

type Server struct {
	loop Ticker
}

func New(l Ticker) *Server {
	return &Server{loop: l}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/api/sync/tick", s.handleTick)

	return r
}

// handleTick runs one pass outside the cron cadence, e.g. from an admin
// dashboard. A pass already in flight answers 409.
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	res, err := s.loop.Tick(r.Context())
	if err != nil {
		if errors.Is(err, loop.ErrBusy) {
			writeJSON(w, http.StatusConflict, map[string]any{"error": "sync already running"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
