package review

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
	"github.com/antinvestor/remediation-run-engine/internal/statestore"
)

func seedRun(t *testing.T, store *statestore.Store, runID string) *runmodel.RemediationSession {
	t.Helper()
	sess := &runmodel.RemediationSession{SessionID: "sess-1", Finding: runmodel.Finding{FindingID: "F1"}, Status: runmodel.StatusSuccess}
	run := &runmodel.BatchRun{RunID: runID, Waves: []*runmodel.Wave{{WaveNumber: 1, Sessions: []*runmodel.RemediationSession{sess}}}}
	require.NoError(t, store.WriteRunState(context.Background(), run))
	return sess
}

func TestApply_ApprovesBySessionID(t *testing.T) {
	store := statestore.New(t.TempDir(), "")
	seedRun(t, store, "run-abc123")

	sess, err := Apply(context.Background(), store, Request{
		RunID: "run-abc123", SessionID: "sess-1", Action: ActionApproved, ReviewerID: "alice",
	})
	require.NoError(t, err)
	require.Equal(t, runmodel.ReviewApproved, sess.ReviewStatus)
	require.Equal(t, "alice", sess.ReviewedBy)
	require.Equal(t, 1, sess.Version)

	reread, err := store.ReadRunState("run-abc123")
	require.NoError(t, err)
	require.Equal(t, runmodel.ReviewApproved, reread.Waves[0].Sessions[0].ReviewStatus)
	require.Len(t, reread.Events, 1)
	require.Equal(t, runmodel.EventReviewApproved, reread.Events[0].Kind)
}

func TestApply_MatchesByFindingID(t *testing.T) {
	store := statestore.New(t.TempDir(), "")
	seedRun(t, store, "run-xyz")

	_, err := Apply(context.Background(), store, Request{
		RunID: "run-xyz", SessionID: "F1", Action: ActionRejected, ReviewerID: "bob",
	})
	require.NoError(t, err)
}

func TestApply_RejectsBadRunIDCharset(t *testing.T) {
	store := statestore.New(t.TempDir(), "")
	_, err := Apply(context.Background(), store, Request{
		RunID: "../etc/passwd", SessionID: "sess-1", Action: ActionApproved, ReviewerID: "alice",
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestApply_UnknownSessionReturnsNotFound(t *testing.T) {
	store := statestore.New(t.TempDir(), "")
	seedRun(t, store, "run-abc123")

	_, err := Apply(context.Background(), store, Request{
		RunID: "run-abc123", SessionID: "does-not-exist", Action: ActionApproved, ReviewerID: "alice",
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApply_MissingReviewerIDRejected(t *testing.T) {
	store := statestore.New(t.TempDir(), "")
	seedRun(t, store, "run-abc123")

	_, err := Apply(context.Background(), store, Request{
		RunID: "run-abc123", SessionID: "sess-1", Action: ActionApproved,
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}
