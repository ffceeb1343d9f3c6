package wavescheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antinvestor/remediation-run-engine/internal/agentbackend"
	"github.com/antinvestor/remediation-run-engine/internal/hardenedclient"
	"github.com/antinvestor/remediation-run-engine/internal/idempotency"
	"github.com/antinvestor/remediation-run-engine/internal/runconfig"
	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
	"github.com/antinvestor/remediation-run-engine/internal/sessionmanager"
	"github.com/antinvestor/remediation-run-engine/internal/statestore"
	"github.com/antinvestor/remediation-run-engine/internal/tracker"
)

func newTestScheduler(t *testing.T, run *runmodel.BatchRun) (*Scheduler, *tracker.Tracker) {
	t.Helper()
	cfg := &runconfig.EngineConfig{
		MaxParallelSessions: 4, PollIntervalSeconds: 0, SessionTimeoutMinutes: 90,
		MinSuccessRate: 0.5, MockMode: true,
	}
	backend := agentbackend.NewSimulatedBackend(123)
	hc := hardenedclient.New(backend, hardenedclient.Config{MaxRetries: 2, JitterMaxSeconds: 0.01, CircuitBreakerThreshold: 5, CircuitBreakerCooldown: 0})
	store := statestore.New(t.TempDir(), "")
	trk := tracker.New(store, run)
	mgr := &sessionmanager.Manager{MockClient: hc, LiveClient: hc, Ledger: idempotency.NewFileLedger(t.TempDir() + "/ledger.json"), Config: cfg}
	return &Scheduler{Manager: mgr, Tracker: trk, Config: cfg, LiveHardened: hc, MockHardened: hc}, trk
}

func makeFinding(id string) runmodel.Finding {
	return runmodel.Finding{FindingID: id, Category: runmodel.CategoryXSS, Severity: runmodel.SeverityHigh, ServiceName: "checkout-service", Title: "t", RepoURL: "https://example/repo"}
}

func TestScheduler_CheckGate_EmptyWaveAlwaysPasses(t *testing.T) {
	run := &runmodel.BatchRun{RunID: "run-1", Waves: []*runmodel.Wave{{WaveNumber: 1}}}
	s, _ := newTestScheduler(t, run)
	require.True(t, s.checkGate(run.Waves[0]))
}

func TestScheduler_CheckGate_FailsBelowThreshold(t *testing.T) {
	run := &runmodel.BatchRun{RunID: "run-1"}
	s, _ := newTestScheduler(t, run)
	wave := &runmodel.Wave{WaveNumber: 1, Sessions: []*runmodel.RemediationSession{
		{Status: runmodel.StatusFailed, Finding: makeFinding("F1")},
		{Status: runmodel.StatusFailed, Finding: makeFinding("F2")},
		{Status: runmodel.StatusSuccess, Finding: makeFinding("F3")},
	}}
	require.False(t, s.checkGate(wave))
}

func TestScheduler_RetryFailed_BumpsAttemptAndResets(t *testing.T) {
	run := &runmodel.BatchRun{RunID: "run-1"}
	s, _ := newTestScheduler(t, run)
	wave := &runmodel.Wave{WaveNumber: 1, Sessions: []*runmodel.RemediationSession{
		{Status: runmodel.StatusFailed, Attempt: 0, Finding: makeFinding("F1"), SessionID: "old-session"},
	}}

	s.retryFailed(context.Background(), wave)

	sess := wave.Sessions[0]
	require.Equal(t, 1, sess.Attempt)
	require.NotEqual(t, runmodel.StatusFailed, sess.Status)
}

func TestScheduler_DispatchWaveConcurrent_DispatchesEverySession(t *testing.T) {
	run := &runmodel.BatchRun{RunID: "run-1"}
	s, _ := newTestScheduler(t, run)
	wave := &runmodel.Wave{WaveNumber: 1, Sessions: []*runmodel.RemediationSession{
		{Finding: makeFinding("F1"), Status: runmodel.StatusPending},
		{Finding: makeFinding("F2"), Status: runmodel.StatusPending},
		{Finding: makeFinding("F3"), Status: runmodel.StatusPending},
	}}

	s.dispatchWaveConcurrent(context.Background(), wave)

	for _, sess := range wave.Sessions {
		require.Equal(t, runmodel.StatusDispatched, sess.Status)
		require.NotEmpty(t, sess.SessionID)
	}
}
