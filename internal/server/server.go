// Package server exposes the poller's health and metrics endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Pinger checks storage connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CycleStatus reports when the poll loop last completed a cycle.
type CycleStatus interface {
	LastCycle() (time.Time, bool)
}

// HealthResponse is the JSON body of GET /health.
type HealthResponse struct {
	Status    string     `json:"status"`
	Database  string     `json:"database"`
	LastCycle *time.Time `json:"lastCycle,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Error     string     `json:"error,omitempty"`
}

// NewRouter builds the status router. metrics may be nil.
func NewRouter(db Pinger, cycles CycleStatus, metrics http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		resp := HealthResponse{Status: "ok", Database: "connected", Timestamp: time.Now().UTC()}
		if cycles != nil {
			if at, ok := cycles.LastCycle(); ok {
				resp.LastCycle = &at
			}
		}

		status := http.StatusOK
		if err := db.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			resp.Status = "error"
			resp.Database = "disconnected"
			resp.Error = err.Error()
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	})

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

// Serve starts an HTTP server on addr in the background and returns it for
// shutdown.
func Serve(addr string, handler http.Handler, logger *slog.Logger) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("status server error", "error", err)
		}
	}()
	logger.Info("status server listening", "addr", addr)
	return srv
}
