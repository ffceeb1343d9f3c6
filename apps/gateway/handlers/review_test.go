package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
	"github.com/antinvestor/remediation-run-engine/internal/statestore"
)

func seedReviewRun(t *testing.T, store *statestore.Store, runID string) {
	t.Helper()
	run := &runmodel.BatchRun{
		RunID: runID,
		Waves: []*runmodel.Wave{{WaveNumber: 1, Sessions: []*runmodel.RemediationSession{
			{SessionID: "sess-1", Finding: runmodel.Finding{FindingID: "F1"}, Status: runmodel.StatusSuccess},
		}}},
	}
	require.NoError(t, store.WriteRunState(context.Background(), run))
}

func TestReviewHandler_Apply_ApprovesWithReviewerFromHeader(t *testing.T) {
	store := statestore.New(t.TempDir(), "")
	seedReviewRun(t, store, "run-abc123")
	h := NewReviewHandler(store)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions/{id}/review", h.Apply)

	body := bytes.NewBufferString(`{"action":"approved","run_id":"run-abc123"}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions/sess-1/review", body)
	req.Header.Set(reviewerIDHeader, "alice")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"review_status":"approved"`)
	require.Contains(t, rr.Body.String(), `"alice"`)
}

func TestReviewHandler_Apply_MissingReviewerReturns400(t *testing.T) {
	store := statestore.New(t.TempDir(), "")
	seedReviewRun(t, store, "run-abc123")
	h := NewReviewHandler(store)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions/{id}/review", h.Apply)

	body := bytes.NewBufferString(`{"action":"approved","run_id":"run-abc123"}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions/sess-1/review", body)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestReviewHandler_Apply_UnknownSessionReturns404(t *testing.T) {
	store := statestore.New(t.TempDir(), "")
	seedReviewRun(t, store, "run-abc123")
	h := NewReviewHandler(store)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions/{id}/review", h.Apply)

	body := bytes.NewBufferString(`{"action":"approved","run_id":"run-abc123"}`)
	req := httptest.NewRequest(http.MethodPost, "/sessions/does-not-exist/review", body)
	req.Header.Set(reviewerIDHeader, "alice")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
}
