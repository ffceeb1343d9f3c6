package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/antinvestor/remediation-run-engine/internal/review"
	"github.com/antinvestor/remediation-run-engine/internal/statestore"
)

const maxReviewBodyBytes = 1 << 16 // 64KB; a review submission is a few short fields

// reviewRequestBody is the wire shape of POST /sessions/{id}/review. The
// reviewer identity deliberately has no field here: it must come from the
// caller's auth context, never from attacker-controlled JSON.
type reviewRequestBody struct {
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
	RunID  string `json:"run_id"`
}

// ReviewHandler implements POST /sessions/{id}/review.
type ReviewHandler struct {
	store *statestore.Store
}

// NewReviewHandler builds a ReviewHandler.
func NewReviewHandler(store *statestore.Store) *ReviewHandler {
	return &ReviewHandler{store: store}
}

// reviewerIDHeader is where this boundary's deployment is expected to place
// the caller's verified identity (e.g. from an upstream auth proxy) before
// the request reaches this handler — never trust a reviewer id carried in
// the JSON body itself.
const reviewerIDHeader = "X-Reviewer-Id"

// Apply handles POST /sessions/{id}/review.
func (h *ReviewHandler) Apply(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReviewBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "could not read request body")
		return
	}

	var req reviewRequestBody
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "could not parse JSON body")
		return
	}

	sess, err := review.Apply(r.Context(), h.store, review.Request{
		RunID:      req.RunID,
		SessionID:  sessionID,
		Action:     review.Action(req.Action),
		Reason:     req.Reason,
		ReviewerID: r.Header.Get(reviewerIDHeader),
	})
	if err != nil {
		switch {
		case errors.Is(err, review.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		case errors.Is(err, review.ErrNotFound):
			writeError(w, http.StatusNotFound, "not_found", err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "review_failed", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, sess)
}
