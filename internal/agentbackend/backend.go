// Package agentbackend defines the boundary between the run engine and
// whatever remote coding-agent platform executes remediation sessions, plus
// a self-contained simulated implementation for demos and tests.
package agentbackend

import (
	"context"
	"fmt"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

// CreateSessionRequest describes a new remediation session to spawn.
type CreateSessionRequest struct {
	Prompt      string
	PlaybookID  string
	Tags        []string
	MaxACULimit int
	Idempotent  bool
}

// CreateSessionResult is returned by CreateSession.
type CreateSessionResult struct {
	SessionID    string
	URL          string
	IsNewSession bool
}

// SessionSnapshot is a point-in-time read of a session's backend-reported
// state, normalized to the engine's vocabulary.
type SessionSnapshot struct {
	SessionID  string
	StatusEnum runmodel.BackendStatusEnum
	URL        string
	Title      string
	Structured *runmodel.StructuredOutput
	PRUrl      string
}

// Backend is the contract any agent platform integration must satisfy.
// Implementations: RemoteBackend (HTTP) and SimulatedBackend (in-process).
type Backend interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResult, error)
	GetSession(ctx context.Context, sessionID string) (SessionSnapshot, error)
	ListSessions(ctx context.Context, limit int) ([]string, error)
	SendMessage(ctx context.Context, sessionID, text string) error
	TerminateSession(ctx context.Context, sessionID string) error
	CreatePlaybook(ctx context.Context, category runmodel.Category, instructions string) (string, error)
	ListPlaybooks(ctx context.Context) (map[runmodel.Category]string, error)
}

// BackendError wraps a non-2xx response from a remote backend with its
// HTTP status code, so the hardened client can classify retryability.
type BackendError struct {
	StatusCode int
	Message    string
	// RetryAfterSeconds is the parsed Retry-After header value, or -1 if
	// the response carried none.
	RetryAfterSeconds float64
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("agent backend error (status %d): %s", e.StatusCode, e.Message)
}

// IsRetryableStatus reports whether the hardened client should retry a
// response carrying this status code.
func IsRetryableStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503:
		return true
	default:
		return false
	}
}
