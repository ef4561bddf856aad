package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"vault-keeper/internal/events"
	"vault-keeper/internal/storage"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

type handler struct {
	cycles   storage.CycleStore
	outcomes storage.OutcomeStore
	ready    func() bool
	logger   *zap.Logger
}

func newHandler(opts Options) *handler {
	h := &handler{
		cycles:   opts.Cycles,
		outcomes: opts.Outcomes,
		ready:    opts.Ready,
		logger:   opts.Logger,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

// Live handles GET /health/live.
func (h *handler) Live(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles GET /health/ready. Ready once the keeper is authorized.
func (h *handler) Ready(w http.ResponseWriter, _ *http.Request) {
	if h.ready != nil && !h.ready() {
		h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// ListCycles handles GET /cycles?limit=N.
func (h *handler) ListCycles(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeJSON(w, http.StatusBadRequest, errorBody("limit must be a positive integer"))
			return
		}
		limit = min(n, maxListLimit)
	}

	reports, err := h.cycles.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("list cycles failed", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	items := make([]events.CycleEvent, 0, len(reports))
	for _, report := range reports {
		items = append(items, events.NewCycleEvent(report))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"cycles": items})
}

// LatestCycle handles GET /cycles/latest.
func (h *handler) LatestCycle(w http.ResponseWriter, r *http.Request) {
	report, err := h.cycles.GetLatest(r.Context())
	if errors.Is(err, storage.ErrNotFound) {
		h.writeJSON(w, http.StatusNotFound, errorBody("no cycles recorded"))
		return
	}
	if err != nil {
		h.logger.Error("get latest cycle failed", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	h.writeJSON(w, http.StatusOK, events.NewCycleEvent(report))
}

// CycleOutcomes handles GET /cycles/{id}/outcomes.
func (h *handler) CycleOutcomes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.cycles.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.writeJSON(w, http.StatusNotFound, errorBody("cycle not found"))
			return
		}
		h.logger.Error("get cycle failed", zap.String("cycle_id", id), zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	outcomes, err := h.outcomes.GetByCycleID(r.Context(), id)
	if err != nil {
		h.logger.Error("get outcomes failed", zap.String("cycle_id", id), zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	items := make([]events.RepaymentEvent, 0, len(outcomes))
	for _, o := range outcomes {
		items = append(items, events.NewRepaymentEvent(o))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"cycle_id": id, "outcomes": items})
}
