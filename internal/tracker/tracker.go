// Package tracker owns a BatchRun's lifecycle: every mutation recounts
// rolling totals from ground truth, appends a timeline event, and persists
// the result through the statestore.
package tracker

import (
	"context"
	"fmt"

	"github.com/pitabwire/util"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
	"github.com/antinvestor/remediation-run-engine/internal/statestore"
)

// Tracker wraps one BatchRun with the single write path every mutator in
// the engine must go through: mutate in memory, recount, log, persist.
type Tracker struct {
	Store *statestore.Store
	Run   *runmodel.BatchRun
}

// New returns a tracker over an existing run.
func New(store *statestore.Store, run *runmodel.BatchRun) *Tracker {
	return &Tracker{Store: store, Run: run}
}

// Persist recounts the run's totals and writes it to all three storage
// targets. Call after every mutation to Run's waves/sessions.
func (t *Tracker) Persist(ctx context.Context) error {
	t.Run.Recount()
	if err := t.Store.WriteRunState(ctx, t.Run); err != nil {
		return fmt.Errorf("tracker: persist run %s: %w", t.Run.RunID, err)
	}
	return nil
}

// RecordEvent appends a timeline event, logs it, and persists the run.
func (t *Tracker) RecordEvent(ctx context.Context, kind runmodel.EventKind, message string, details map[string]any) error {
	t.Run.AddEvent(kind, message, details)
	util.Log(ctx).WithField("run_id", t.Run.RunID).WithField("event_type", string(kind)).Info(message)
	return t.Persist(ctx)
}

// UpdateSessionStatus applies status/prURL/errorMessage to sess, emits the
// matching timeline event for the transition, and persists the run.
func (t *Tracker) UpdateSessionStatus(ctx context.Context, sess *runmodel.RemediationSession, status runmodel.SessionStatus, prURL, errorMessage string) error {
	sess.Status = status
	if prURL != "" {
		sess.PRURL = prURL
	}
	if errorMessage != "" {
		sess.ErrorMessage = errorMessage
	}

	kind := runmodel.EventSessionProgress
	switch status {
	case runmodel.StatusSuccess:
		kind = runmodel.EventSessionComplete
	case runmodel.StatusFailed, runmodel.StatusTimeout:
		kind = runmodel.EventSessionFailed
	}

	return t.RecordEvent(ctx, kind, fmt.Sprintf("session %s for finding %s -> %s", sess.SessionID, sess.Finding.FindingID, status), map[string]any{
		"finding_id": sess.Finding.FindingID,
		"session_id": sess.SessionID,
		"status":     string(status),
	})
}
