package agentbackend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

func TestSimulatedBackend_IdempotentCreateReturnsSameSession(t *testing.T) {
	b := NewSimulatedBackend(42)
	ctx := context.Background()

	first, err := b.CreateSession(ctx, CreateSessionRequest{Prompt: "fix FIND-0001 in payments-service", Idempotent: true})
	require.NoError(t, err)
	require.True(t, first.IsNewSession)

	second, err := b.CreateSession(ctx, CreateSessionRequest{Prompt: "fix FIND-0001 in payments-service", Idempotent: true})
	require.NoError(t, err)
	require.False(t, second.IsNewSession)
	require.Equal(t, first.SessionID, second.SessionID)
}

func TestSimulatedBackend_GetSessionProgressesThroughStages(t *testing.T) {
	b := NewSimulatedBackend(7)
	ctx := context.Background()

	created, err := b.CreateSession(ctx, CreateSessionRequest{Prompt: "remediate FIND-0002 sql_injection in orders-service"})
	require.NoError(t, err)

	snap, err := b.GetSession(ctx, created.SessionID)
	require.NoError(t, err)
	require.Contains(t, []runmodel.BackendStatusEnum{runmodel.BackendWorking, runmodel.BackendBlocked, runmodel.BackendFinished}, snap.StatusEnum)
	require.Equal(t, "FIND-0002", snap.Structured.FindingID)
}

func TestSimulatedBackend_UnknownSessionReturns404(t *testing.T) {
	b := NewSimulatedBackend(1)
	_, err := b.GetSession(context.Background(), "sim-does-not-exist")
	require.Error(t, err)
	var be *BackendError
	require.True(t, asBackendError(err, &be))
	require.Equal(t, 404, be.StatusCode)
}

func TestSimulatedBackend_TerminatedSessionReportsBlocked(t *testing.T) {
	b := NewSimulatedBackend(2)
	ctx := context.Background()
	created, err := b.CreateSession(ctx, CreateSessionRequest{Prompt: "fix FIND-0003 in billing-service"})
	require.NoError(t, err)

	require.NoError(t, b.TerminateSession(ctx, created.SessionID))

	snap, err := b.GetSession(ctx, created.SessionID)
	require.NoError(t, err)
	require.Equal(t, runmodel.BackendBlocked, snap.StatusEnum)
	require.Equal(t, "Session terminated by user", snap.Structured.ErrorMessage)
}

func TestSimulatedBackend_SendMessageToUnknownSessionReturns404(t *testing.T) {
	b := NewSimulatedBackend(3)
	err := b.SendMessage(context.Background(), "sim-does-not-exist", "hello")
	require.Error(t, err)
	var be *BackendError
	require.True(t, asBackendError(err, &be))
	require.Equal(t, 404, be.StatusCode)
}

func TestSimulatedBackend_SendMessageToKnownSessionSucceeds(t *testing.T) {
	b := NewSimulatedBackend(4)
	ctx := context.Background()
	created, err := b.CreateSession(ctx, CreateSessionRequest{Prompt: "fix FIND-0005 in reporting-service"})
	require.NoError(t, err)

	require.NoError(t, b.SendMessage(ctx, created.SessionID, "please continue"))
}

func TestExtractCategory_FallsBackToOther(t *testing.T) {
	cat := extractCategory("a vague prompt with no category hints", nil)
	require.Equal(t, runmodel.CategoryOther, cat)
}

func TestExtractCategory_FromTags(t *testing.T) {
	cat := extractCategory("anything", []string{"xss", "other-tag"})
	require.Equal(t, runmodel.CategoryXSS, cat)
}

func TestStageDurationsFallWithinConfiguredRange(t *testing.T) {
	b := NewSimulatedBackend(99)
	ctx := context.Background()
	created, err := b.CreateSession(ctx, CreateSessionRequest{Prompt: "fix FIND-0004 in catalog-service"})
	require.NoError(t, err)

	b.mu.Lock()
	sess := b.sessions[created.SessionID]
	b.mu.Unlock()
	require.Len(t, sess.stageDurations, len(simStages))
	for i, d := range sess.stageDurations {
		require.GreaterOrEqual(t, d, time.Duration(simStages[i].minSec*float64(time.Second)))
		require.LessOrEqual(t, d, time.Duration(simStages[i].maxSec*float64(time.Second)))
	}
}
