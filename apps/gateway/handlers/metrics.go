package handlers

import (
	"net/http"
	"time"

	appconfig "github.com/antinvestor/remediation-run-engine/apps/gateway/config"
	"github.com/antinvestor/remediation-run-engine/internal/metrics"
	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
	"github.com/antinvestor/remediation-run-engine/internal/statestore"
)

// MetricsHandler implements the read-only aggregation endpoints (/eval,
// /ops) and the deprecated /status legacy view, all derived from the
// latest run in runs/index.json.
type MetricsHandler struct {
	cfg   *appconfig.GatewayConfig
	store *statestore.Store
}

// NewMetricsHandler builds a MetricsHandler.
func NewMetricsHandler(cfg *appconfig.GatewayConfig, store *statestore.Store) *MetricsHandler {
	return &MetricsHandler{cfg: cfg, store: store}
}

func (h *MetricsHandler) latestRun() (*runmodel.BatchRun, error) {
	idx, err := h.store.ReadRunIndex()
	if err != nil {
		return nil, err
	}
	if len(idx.Runs) == 0 {
		return nil, nil
	}
	latest := idx.Runs[len(idx.Runs)-1]
	return h.store.ReadRunState(latest.RunID)
}

// Eval serves GET /eval.
func (h *MetricsHandler) Eval(w http.ResponseWriter, r *http.Request) {
	run, err := h.latestRun()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "metrics_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, metrics.Eval(run))
}

// Ops serves GET /ops.
func (h *MetricsHandler) Ops(w http.ResponseWriter, r *http.Request) {
	run, err := h.latestRun()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "metrics_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, metrics.Ops(run, h.cfg.MaxACUPerSession, time.Now().UTC()))
}

// Status serves the deprecated GET /status legacy view: the single-run
// pointer file this boundary predates multi-run support with, carrying a
// Deprecation header on every response.
func (h *MetricsHandler) Status(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Deprecation", "true")

	var run runmodel.BatchRun
	if err := statestore.ReadJSON(h.cfg.StateFilePath, &run); err != nil {
		writeError(w, http.StatusNotFound, "no_state", "no run has been recorded yet")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
