// Package idempotency tracks which (run, finding, attempt) tuples have
// already been dispatched to the agent backend, so a crashed and restarted
// supervisor never double-spawns a session for work already in flight.
package idempotency

import (
	"context"
	"fmt"
)

// Key returns the idempotency ledger key for one dispatch attempt.
func Key(runID, findingID string, attempt int) string {
	return fmt.Sprintf("%s-%s-attempt-%d", runID, findingID, attempt)
}

// Entry is one ledger row: the key maps to the backend session it produced.
type Entry struct {
	Key       string `json:"key"`
	SessionID string `json:"session_id"`
}

// Ledger records dispatch keys to backend session IDs, surviving process
// restarts so a re-run of a wave never creates a duplicate session.
type Ledger interface {
	// Lookup returns the session ID previously recorded for key, and
	// whether an entry existed at all.
	Lookup(ctx context.Context, key string) (sessionID string, ok bool, err error)
	// Record stores key -> sessionID. Overwrites any previous value.
	Record(ctx context.Context, key, sessionID string) error
}
