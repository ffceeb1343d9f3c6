package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antinvestor/remediation-run-engine/internal/review"
	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
	"github.com/antinvestor/remediation-run-engine/internal/statestore"
)

func seedReviewerRun(t *testing.T, store *statestore.Store, runID string) {
	t.Helper()
	run := &runmodel.BatchRun{
		RunID: runID,
		Waves: []*runmodel.Wave{{WaveNumber: 1, Sessions: []*runmodel.RemediationSession{
			{SessionID: "sess-1", Finding: runmodel.Finding{FindingID: "F1"}, Status: runmodel.StatusSuccess},
		}}},
	}
	require.NoError(t, store.WriteRunState(context.Background(), run))
}

func TestRunReview_AppliesApproval(t *testing.T) {
	store := statestore.New(t.TempDir(), "")
	seedReviewerRun(t, store, "run-abc123")

	sess, err := runReview(context.Background(), store, "run-abc123", "sess-1", "approved", "looks good", "bob")
	require.NoError(t, err)
	require.Equal(t, runmodel.ReviewApproved, sess.ReviewStatus)
	require.Equal(t, "bob", sess.ReviewedBy)
}

func TestRunReview_InvalidActionReturnsError(t *testing.T) {
	store := statestore.New(t.TempDir(), "")
	seedReviewerRun(t, store, "run-abc123")

	_, err := runReview(context.Background(), store, "run-abc123", "sess-1", "maybe", "", "bob")
	require.ErrorIs(t, err, review.ErrInvalidInput)
}

func TestRunReview_UnknownSessionReturnsNotFound(t *testing.T) {
	store := statestore.New(t.TempDir(), "")
	seedReviewerRun(t, store, "run-abc123")

	_, err := runReview(context.Background(), store, "run-abc123", "does-not-exist", "approved", "", "bob")
	require.ErrorIs(t, err, review.ErrNotFound)
}
