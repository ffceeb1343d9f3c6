package hardenedclient

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antinvestor/remediation-run-engine/internal/agentbackend"
	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

// flakyBackend fails the first N calls to GetSession with a retryable
// status, then succeeds.
type flakyBackend struct {
	agentbackend.Backend
	failures  int32
	failUntil int32
	calls     int32
}

func (f *flakyBackend) GetSession(ctx context.Context, sessionID string) (agentbackend.SessionSnapshot, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failUntil {
		return agentbackend.SessionSnapshot{}, &agentbackend.BackendError{StatusCode: 503, Message: "overloaded", RetryAfterSeconds: -1}
	}
	return agentbackend.SessionSnapshot{SessionID: sessionID, StatusEnum: runmodel.BackendFinished}, nil
}

func testConfig() Config {
	return Config{MaxRetries: 3, JitterMaxSeconds: 0.01, CircuitBreakerThreshold: 5, CircuitBreakerCooldown: 50 * time.Millisecond}
}

func TestClient_RetriesRetryableErrorsThenSucceeds(t *testing.T) {
	backend := &flakyBackend{failUntil: 2}
	c := New(backend, testConfig())

	snap, err := c.GetSession(context.Background(), "sim-1")
	require.NoError(t, err)
	require.Equal(t, "sim-1", snap.SessionID)
	require.EqualValues(t, 3, backend.calls)
}

func TestClient_NonRetryableErrorReturnsImmediately(t *testing.T) {
	backend := &flakyBackend{failUntil: 1000}
	c := New(backend, testConfig())

	// Wrap so the failure is a 400, which is not retryable.
	nonRetryable := &nonRetryableWrap{Backend: backend}
	c2 := New(nonRetryable, testConfig())
	_, err := c2.GetSession(context.Background(), "sim-1")
	require.Error(t, err)
	require.EqualValues(t, 1, nonRetryable.calls)
	_ = c
}

type nonRetryableWrap struct {
	agentbackend.Backend
	calls int32
}

func (n *nonRetryableWrap) GetSession(ctx context.Context, sessionID string) (agentbackend.SessionSnapshot, error) {
	atomic.AddInt32(&n.calls, 1)
	return agentbackend.SessionSnapshot{}, &agentbackend.BackendError{StatusCode: 400, Message: "bad request"}
}

func TestClient_TerminateSessionTreats404AsSuccess(t *testing.T) {
	backend := &notFoundTerminate{}
	c := New(backend, testConfig())
	require.NoError(t, c.TerminateSession(context.Background(), "sim-gone"))
}

type notFoundTerminate struct {
	agentbackend.Backend
}

func (n *notFoundTerminate) TerminateSession(ctx context.Context, sessionID string) error {
	return &agentbackend.BackendError{StatusCode: 404, Message: "not found"}
}

func TestClient_ExhaustsRetriesAndReturnsError(t *testing.T) {
	backend := &flakyBackend{failUntil: 1000}
	c := New(backend, testConfig())
	_, err := c.GetSession(context.Background(), "sim-1")
	require.Error(t, err)
	require.EqualValues(t, 4, backend.calls) // initial + 3 retries
}
