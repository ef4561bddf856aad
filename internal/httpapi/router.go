// Package httpapi serves the keeper's operational HTTP surface: health probes,
// Prometheus metrics and read-only access to recorded cycles.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"vault-keeper/internal/storage"
)

// Options for creating the router.
type Options struct {
	Cycles   storage.CycleStore
	Outcomes storage.OutcomeStore
	Metrics  http.Handler // nil disables /metrics
	Ready    func() bool  // nil means always ready
	Logger   *zap.Logger
}

// NewRouter creates a chi router with all routes mounted.
func NewRouter(opts Options) chi.Router {
	h := newHandler(opts)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health/live", h.Live)
	r.Get("/health/ready", h.Ready)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Get("/cycles", h.ListCycles)
	r.Get("/cycles/latest", h.LatestCycle)
	r.Get("/cycles/{id}/outcomes", h.CycleOutcomes)

	return r
}
