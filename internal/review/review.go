// Package review implements the out-of-process human review mutation
// path: an approve/reject write against a single session inside a
// persisted run, serialized through the same file lock the engine itself
// uses.
package review

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
	"github.com/antinvestor/remediation-run-engine/internal/statestore"
)

var runIDCharset = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// ValidRunID reports whether id matches the restricted charset the engine
// and the boundary HTTP surface both enforce before touching the
// filesystem, forbidding path traversal through a run id.
func ValidRunID(id string) bool {
	return runIDCharset.MatchString(id)
}

// ErrNotFound is returned when run id or session id cannot be located.
var ErrNotFound = errors.New("review: not found")

// ErrInvalidInput is returned for any request-shape problem: bad run id,
// bad action, empty reviewer identity.
var ErrInvalidInput = errors.New("review: invalid input")

// Action is the reviewer's verdict on a session.
type Action string

const (
	ActionApproved Action = "approved"
	ActionRejected Action = "rejected"
)

// Request is one review submission. ReviewerID must come from the
// caller's auth context, never from request body fields under the
// caller's control.
type Request struct {
	RunID     string
	SessionID string
	Action    Action
	Reason    string
	ReviewerID string
}

// Apply runs the full lock -> read -> locate -> mutate -> version++ ->
// append event -> atomic rename -> unlock protocol against req's target
// run and session. Validation failures never touch disk.
func Apply(ctx context.Context, store *statestore.Store, req Request) (*runmodel.RemediationSession, error) {
	if !runIDCharset.MatchString(req.RunID) {
		return nil, fmt.Errorf("%w: run id contains disallowed characters", ErrInvalidInput)
	}
	if req.Action != ActionApproved && req.Action != ActionRejected {
		return nil, fmt.Errorf("%w: action must be approved or rejected", ErrInvalidInput)
	}
	if req.ReviewerID == "" {
		return nil, fmt.Errorf("%w: reviewer identity is required", ErrInvalidInput)
	}
	if req.SessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrInvalidInput)
	}

	lock := statestore.NewFileLock(runStatePath(store, req.RunID))
	if err := lock.Acquire(ctx); err != nil {
		return nil, fmt.Errorf("review: acquire lock for run %s: %w", req.RunID, err)
	}
	defer lock.Release()

	run, err := store.ReadRunState(req.RunID)
	if err != nil {
		return nil, fmt.Errorf("%w: run %s: %v", ErrNotFound, req.RunID, err)
	}

	sess := locateSession(run, req.SessionID)
	if sess == nil {
		return nil, fmt.Errorf("%w: session %s in run %s", ErrNotFound, req.SessionID, req.RunID)
	}

	now := time.Now().UTC()
	if req.Action == ActionApproved {
		sess.ReviewStatus = runmodel.ReviewApproved
	} else {
		sess.ReviewStatus = runmodel.ReviewRejected
	}
	sess.ReviewedBy = req.ReviewerID
	sess.ReviewedAt = &now
	sess.ReviewReason = req.Reason
	sess.Version++

	eventKind := runmodel.EventReviewApproved
	if req.Action == ActionRejected {
		eventKind = runmodel.EventReviewRejected
	}
	run.AddEvent(eventKind, fmt.Sprintf("session %s %s by %s", sess.SessionID, req.Action, req.ReviewerID), map[string]any{
		"session_id": sess.SessionID,
		"finding_id": sess.Finding.FindingID,
		"reviewer":   req.ReviewerID,
		"reason":     req.Reason,
	})

	if err := writeRunStateLocked(store, run); err != nil {
		return nil, fmt.Errorf("review: persist run %s: %w", req.RunID, err)
	}

	return sess, nil
}

// locateSession finds the session matching sessionID against either its
// backend session id or its finding's id.
func locateSession(run *runmodel.BatchRun, sessionID string) *runmodel.RemediationSession {
	for _, wave := range run.Waves {
		for _, sess := range wave.Sessions {
			if sess.SessionID == sessionID || sess.Finding.FindingID == sessionID {
				return sess
			}
		}
	}
	return nil
}

func runStatePath(store *statestore.Store, runID string) string {
	return filepath.Join(store.RunsDir, runID, "state.json")
}

// writeRunStateLocked rewrites run's own state file without re-acquiring
// the per-run lock, since Apply already holds it for the duration of the
// whole read-mutate-write cycle. The run index and the legacy pointer file
// are not rewritten.
func writeRunStateLocked(store *statestore.Store, run *runmodel.BatchRun) error {
	return statestore.WriteJSONAtomic(runStatePath(store, run.RunID), run)
}
