package wavescheduler

import (
	"context"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
	"github.com/antinvestor/remediation-run-engine/internal/sessionmanager"
	"github.com/antinvestor/remediation-run-engine/internal/tracker"
)

var stageLabels = map[string]string{
	"analyzing":   "Analyzing vulnerability",
	"fixing":      "Applying fix",
	"testing":     "Running tests",
	"creating_pr": "Creating pull request",
	"completed":   "Completed",
	"failed":      "Failed",
}

// pollOnce polls every active session in sessions exactly once, checking
// the per-session timeout before contacting the backend, and returns the
// sessions still active afterward.
func pollOnce(ctx context.Context, mgr *sessionmanager.Manager, trk *tracker.Tracker, sessions []*runmodel.RemediationSession, timeout time.Duration) []*runmodel.RemediationSession {
	now := time.Now().UTC()
	var stillActive []*runmodel.RemediationSession

	for _, sess := range sessions {
		if !sess.Status.Active() {
			continue
		}

		oldStatus := sess.Status
		var oldStage string
		if sess.Structured != nil {
			oldStage = string(sess.Structured.Status)
		}

		if !sess.CreatedAt.IsZero() && now.Sub(sess.CreatedAt) > timeout {
			final := runmodel.StatusTimeout
			if sess.Status == runmodel.StatusBlocked {
				final = runmodel.StatusFailed
			}
			sess.Status = final
			sess.ErrorMessage = "Session timed out"
			sess.CompletedAt = &now
			_ = trk.UpdateSessionStatus(ctx, sess, final, "", "Session timed out")
			continue
		}

		if err := mgr.Poll(ctx, sess); err != nil {
			util.Log(ctx).WithError(err).WithField("session_id", sess.SessionID).
				Warn("wavescheduler: failed to poll session, leaving status unchanged")
			if sess.Status.Active() {
				stillActive = append(stillActive, sess)
			}
			continue
		}

		var newStage string
		if sess.Structured != nil {
			newStage = string(sess.Structured.Status)
		}
		if newStage != "" && newStage != oldStage {
			label := stageLabels[newStage]
			if label == "" {
				label = newStage
			}
			progress, step := 0, ""
			if sess.Structured != nil {
				progress, step = sess.Structured.ProgressPct, sess.Structured.CurrentStep
			}
			_ = trk.RecordEvent(ctx, runmodel.EventSessionProgress, sess.Finding.FindingID+": "+label, map[string]any{
				"finding_id":   sess.Finding.FindingID,
				"session_id":   sess.SessionID,
				"stage":        newStage,
				"progress_pct": progress,
				"current_step": step,
			})
		}

		if sess.Status != oldStatus {
			switch sess.Status {
			case runmodel.StatusSuccess:
				_ = trk.RecordEvent(ctx, runmodel.EventSessionComplete, "session "+sess.Finding.FindingID+" completed successfully", map[string]any{
					"finding_id": sess.Finding.FindingID, "session_id": sess.SessionID, "pr_url": sess.PRURL,
				})
			case runmodel.StatusFailed, runmodel.StatusTimeout:
				_ = trk.RecordEvent(ctx, runmodel.EventSessionFailed, "session "+sess.Finding.FindingID+" failed", map[string]any{
					"finding_id": sess.Finding.FindingID, "session_id": sess.SessionID, "error": sess.ErrorMessage,
				})
			default:
				_ = trk.Persist(ctx)
			}
		}

		if sess.Status.Active() {
			stillActive = append(stillActive, sess)
		}
	}

	return stillActive
}

// PollUntilDone repeatedly polls sessions at pollInterval until none remain
// active, or ctx is cancelled.
func PollUntilDone(ctx context.Context, mgr *sessionmanager.Manager, trk *tracker.Tracker, sessions []*runmodel.RemediationSession, pollInterval, timeout time.Duration) {
	for {
		active := activeOnly(sessions)
		if len(active) == 0 {
			return
		}

		stillActive := pollOnce(ctx, mgr, trk, active, timeout)
		if len(stillActive) == 0 {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(pollInterval):
		}
	}
}

func activeOnly(sessions []*runmodel.RemediationSession) []*runmodel.RemediationSession {
	var out []*runmodel.RemediationSession
	for _, s := range sessions {
		if s.Status.Active() {
			out = append(out, s)
		}
	}
	return out
}
