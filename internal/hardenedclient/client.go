// Package hardenedclient wraps an agentbackend.Backend with retry,
// exponential backoff with jitter, Retry-After header honoring, and a
// circuit breaker, so callers elsewhere in the engine can treat every
// backend call as "eventually succeeds or returns a terminal error."
package hardenedclient

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/pitabwire/util"

	"github.com/antinvestor/remediation-run-engine/internal/agentbackend"
	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

// ErrCircuitOpen is returned when the breaker is open and a call is
// short-circuited without reaching the backend at all.
var ErrCircuitOpen = errors.New("hardenedclient: circuit breaker open")

// Client wraps an agentbackend.Backend with retry/backoff and a circuit
// breaker, so every exported method has the same failure-handling shape.
type Client struct {
	backend       agentbackend.Backend
	breaker       *gobreaker.CircuitBreaker[any]
	settings      gobreaker.Settings
	maxRetries    int
	jitterMaxSecs float64
	rng           *rand.Rand
}

// Config configures the hardened client's retry and breaker behavior.
type Config struct {
	MaxRetries            int
	JitterMaxSeconds       float64
	CircuitBreakerThreshold uint32
	CircuitBreakerCooldown time.Duration
}

// New wraps backend with retry/backoff and a circuit breaker tuned by cfg.
func New(backend agentbackend.Backend, cfg Config) *Client {
	settings := gobreaker.Settings{
		Name:        "agent-backend",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.CircuitBreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.CircuitBreakerThreshold
		},
	}

	return &Client{
		backend:       backend,
		breaker:       gobreaker.NewCircuitBreaker[any](settings),
		settings:      settings,
		maxRetries:    cfg.MaxRetries,
		jitterMaxSecs: cfg.JitterMaxSeconds,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ResetCircuitBreaker forces the breaker back to the closed state, keeping
// the threshold and cooldown it was built with. Called by the wave
// scheduler after draining stale sessions at the start of a run.
func (c *Client) ResetCircuitBreaker() {
	// gobreaker has no exported Reset; the standard idiom is creating a
	// fresh breaker from the same settings and swapping it in.
	c.breaker = gobreaker.NewCircuitBreaker[any](c.settings)
}

func (c *Client) CreateSession(ctx context.Context, req agentbackend.CreateSessionRequest) (agentbackend.CreateSessionResult, error) {
	res, err := c.callWithRetry(ctx, "create_session", func(ctx context.Context) (any, error) {
		return c.backend.CreateSession(ctx, req)
	})
	if err != nil {
		return agentbackend.CreateSessionResult{}, err
	}
	return res.(agentbackend.CreateSessionResult), nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (agentbackend.SessionSnapshot, error) {
	res, err := c.callWithRetry(ctx, "get_session", func(ctx context.Context) (any, error) {
		return c.backend.GetSession(ctx, sessionID)
	})
	if err != nil {
		return agentbackend.SessionSnapshot{}, err
	}
	return res.(agentbackend.SessionSnapshot), nil
}

func (c *Client) ListSessions(ctx context.Context, limit int) ([]string, error) {
	res, err := c.callWithRetry(ctx, "list_sessions", func(ctx context.Context) (any, error) {
		return c.backend.ListSessions(ctx, limit)
	})
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}

// SendMessage posts a follow-up message into a running session, retried and
// circuit-broken like every other backend call.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string) error {
	_, err := c.callWithRetry(ctx, "send_message", func(ctx context.Context) (any, error) {
		return nil, c.backend.SendMessage(ctx, sessionID, text)
	})
	return err
}

// TerminateSession is best-effort: a 404 from the backend (session already
// gone) is treated as success, matching cleanup semantics elsewhere in the
// scheduler that must not fail a drain because a session already vanished.
func (c *Client) TerminateSession(ctx context.Context, sessionID string) error {
	_, err := c.callWithRetry(ctx, "terminate_session", func(ctx context.Context) (any, error) {
		terr := c.backend.TerminateSession(ctx, sessionID)
		return nil, terr
	})
	var berr *agentbackend.BackendError
	if errors.As(err, &berr) && berr.StatusCode == 404 {
		return nil
	}
	return err
}

func (c *Client) CreatePlaybook(ctx context.Context, category runmodel.Category, instructions string) (string, error) {
	res, err := c.callWithRetry(ctx, "create_playbook", func(ctx context.Context) (any, error) {
		return c.backend.CreatePlaybook(ctx, category, instructions)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (c *Client) ListPlaybooks(ctx context.Context) (map[runmodel.Category]string, error) {
	res, err := c.callWithRetry(ctx, "list_playbooks", func(ctx context.Context) (any, error) {
		return c.backend.ListPlaybooks(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.(map[runmodel.Category]string), nil
}

// callWithRetry runs fn through the circuit breaker, retrying retryable
// backend errors with exponential backoff plus jitter. The delay honors a
// Retry-After header when the backend error carries one, capped at 60s.
func (c *Client) callWithRetry(ctx context.Context, op string, fn func(context.Context) (any, error)) (any, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		result, err := c.breaker.Execute(func() (any, error) { return fn(ctx) })
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, op)
		}

		var berr *agentbackend.BackendError
		if !errors.As(err, &berr) || !agentbackend.IsRetryableStatus(berr.StatusCode) {
			return nil, err
		}
		if attempt == c.maxRetries {
			break
		}

		wait := c.backoffDelay(attempt, berr)
		util.Log(ctx).WithField("op", op).WithField("attempt", attempt).
			WithField("wait_seconds", wait.Seconds()).Warn("hardenedclient: retrying agent backend call")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("hardenedclient: %s exhausted retries: %w", op, lastErr)
}

func (c *Client) backoffDelay(attempt int, berr *agentbackend.BackendError) time.Duration {
	var base float64
	if berr.RetryAfterSeconds >= 0 {
		base = berr.RetryAfterSeconds
		if base > 60 {
			base = 60
		}
	} else {
		base = float64(int64(1) << attempt)
	}
	jitter := c.rng.Float64() * c.jitterMaxSecs
	return time.Duration((base + jitter) * float64(time.Second))
}
