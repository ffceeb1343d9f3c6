package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appconfig "github.com/antinvestor/remediation-run-engine/apps/gateway/config"
	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
	"github.com/antinvestor/remediation-run-engine/internal/statestore"
)

// testGatewayConfigWithLegacyPointer is like testGatewayConfig but also
// wires a legacy state pointer file, needed by the deprecated /status view.
func testGatewayConfigWithLegacyPointer(t *testing.T) *appconfig.GatewayConfig {
	cfg := testGatewayConfig(t)
	cfg.StateFilePath = filepath.Join(t.TempDir(), "state.json")
	return cfg
}

func seedMetricsRun(t *testing.T, store *statestore.Store, runID string) *runmodel.BatchRun {
	t.Helper()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	completed := created.Add(10 * time.Minute)
	run := &runmodel.BatchRun{
		RunID:     runID,
		StartedAt: created,
		Waves: []*runmodel.Wave{{WaveNumber: 1, Sessions: []*runmodel.RemediationSession{
			{
				SessionID:   "sess-1",
				Finding:     runmodel.Finding{FindingID: "F1", Category: runmodel.CategorySQLInjection},
				Status:      runmodel.StatusSuccess,
				CreatedAt:   created,
				CompletedAt: &completed,
			},
			{
				SessionID:   "sess-2",
				Finding:     runmodel.Finding{FindingID: "F2", Category: runmodel.CategorySQLInjection},
				Status:      runmodel.StatusSuccess,
				CreatedAt:   created,
				CompletedAt: &completed,
			},
			{
				SessionID:   "sess-3",
				Finding:     runmodel.Finding{FindingID: "F3", Category: runmodel.CategorySQLInjection},
				Status:      runmodel.StatusFailed,
				CreatedAt:   created,
				CompletedAt: &completed,
			},
		}}},
	}
	require.NoError(t, store.WriteRunState(context.Background(), run))
	return run
}

func TestMetricsHandler_Eval_EmptyIndexReturnsNull(t *testing.T) {
	cfg := testGatewayConfig(t)
	store := statestore.New(cfg.RunsDir, cfg.StateFilePath)
	h := NewMetricsHandler(cfg, store)

	req := httptest.NewRequest(http.MethodGet, "/eval", nil)
	rr := httptest.NewRecorder()
	h.Eval(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "null\n", rr.Body.String())
}

func TestMetricsHandler_Eval_ReturnsPerCategoryMetrics(t *testing.T) {
	cfg := testGatewayConfig(t)
	store := statestore.New(cfg.RunsDir, cfg.StateFilePath)
	seedMetricsRun(t, store, "run-eval1")
	h := NewMetricsHandler(cfg, store)

	req := httptest.NewRequest(http.MethodGet, "/eval", nil)
	rr := httptest.NewRecorder()
	h.Eval(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"category":"sql_injection"`)
	require.Contains(t, rr.Body.String(), `"total":3`)
}

func TestMetricsHandler_Ops_ReturnsDurationAndBudget(t *testing.T) {
	cfg := testGatewayConfig(t)
	store := statestore.New(cfg.RunsDir, cfg.StateFilePath)
	seedMetricsRun(t, store, "run-ops1")
	h := NewMetricsHandler(cfg, store)

	req := httptest.NewRequest(http.MethodGet, "/ops", nil)
	rr := httptest.NewRecorder()
	h.Ops(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"avg_duration_minutes":10`)
	require.Contains(t, rr.Body.String(), `"estimated_budget_units"`)
}

func TestMetricsHandler_Status_SetsDeprecationHeaderAnd404WhenAbsent(t *testing.T) {
	cfg := testGatewayConfigWithLegacyPointer(t)
	store := statestore.New(cfg.RunsDir, cfg.StateFilePath)
	h := NewMetricsHandler(cfg, store)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	h.Status(rr, req)

	require.Equal(t, "true", rr.Header().Get("Deprecation"))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMetricsHandler_Status_ReturnsLegacyRunWhenPresent(t *testing.T) {
	cfg := testGatewayConfigWithLegacyPointer(t)
	store := statestore.New(cfg.RunsDir, cfg.StateFilePath)
	seedMetricsRun(t, store, "run-status1")
	h := NewMetricsHandler(cfg, store)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rr := httptest.NewRecorder()
	h.Status(rr, req)

	require.Equal(t, "true", rr.Header().Get("Deprecation"))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"run_id":"run-status1"`)
}
