// Package wavescheduler drives wave-based dispatch of remediation
// sessions: concurrent bounded dispatch within a wave, polling to
// terminal, success-rate gating between waves, and bounded retry of
// failed sessions.
package wavescheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/remediation-run-engine/internal/hardenedclient"
	"github.com/antinvestor/remediation-run-engine/internal/runconfig"
	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
	"github.com/antinvestor/remediation-run-engine/internal/sessionmanager"
	"github.com/antinvestor/remediation-run-engine/internal/tracker"
)

const maxRetryAttempts = 2

// Scheduler drives one BatchRun to completion.
type Scheduler struct {
	Manager       *sessionmanager.Manager
	Tracker       *tracker.Tracker
	Config        *runconfig.EngineConfig
	LiveHardened  *hardenedclient.Client
	MockHardened  *hardenedclient.Client
}

// Run executes every wave of the tracked BatchRun in order, gating between
// waves on the configured minimum success rate and retrying eligible
// failures before advancing. Returns once the run completes, pauses on a
// failed gate, ctx is cancelled mid-wave, or a storage error prevents the
// run's own state from being durably recorded — the outcome is recorded
// as Run.Status ("completed", "paused", or "interrupted" for the last two
// cases) on the in-memory run, never a bare Go error, so a caller can always go on
// to extract memory from whatever sessions did reach a terminal state.
func (s *Scheduler) Run(ctx context.Context) {
	run := s.Tracker.Run

	s.drainStaleSessions(ctx)

	for _, wave := range run.Waves {
		if run.Status == runmodel.RunInterrupted {
			util.Log(ctx).Info("wavescheduler: run interrupted, stopping dispatch")
			break
		}
		if ctx.Err() != nil {
			s.interrupt(ctx, "context cancelled")
			break
		}

		wave.Status = "running"
		run.Status = runmodel.RunRunning
		if !s.recordEvent(ctx, runmodel.EventWaveStarted, fmt.Sprintf("wave %d started", wave.WaveNumber), map[string]any{"wave_number": wave.WaveNumber}) {
			break
		}

		s.dispatchWaveConcurrent(ctx, wave)
		PollUntilDone(ctx, s.Manager, s.Tracker, wave.Sessions, s.pollInterval(), s.sessionTimeout())

		wave.Status = "completed"
		s.cleanupSessions(ctx, wave)

		success, total := wave.SuccessCount(), wave.TotalCount()
		prs := 0
		for _, sess := range wave.Sessions {
			if sess.PRURL != "" {
				prs++
			}
		}
		if !s.recordEvent(ctx, runmodel.EventWaveCompleted,
			fmt.Sprintf("wave %d completed: %d/%d succeeded, %d PRs", wave.WaveNumber, success, total, prs),
			map[string]any{"wave_number": wave.WaveNumber, "success": success, "total": total, "prs": prs}) {
			break
		}

		if !s.checkGate(wave) {
			run.Status = runmodel.RunPaused
			rate := 0.0
			if total > 0 {
				rate = float64(success) / float64(total)
			}
			s.recordEvent(ctx, runmodel.EventWaveGated, "wave gated", map[string]any{
				"wave_number": wave.WaveNumber, "success_rate": rate, "threshold": s.Config.MinSuccessRate,
			})
			break
		}

		s.retryFailed(ctx, wave)
	}

	if ctx.Err() != nil && run.Status != runmodel.RunPaused && run.Status != runmodel.RunInterrupted {
		s.interrupt(ctx, "context cancelled")
	}
	if run.Status != runmodel.RunPaused && run.Status != runmodel.RunInterrupted {
		run.Status = runmodel.RunCompleted
	}
	s.recordEvent(ctx, runmodel.EventRunCompleted, "run completed", nil)
}

// recordEvent records kind through the tracker and reports whether it
// succeeded. A storage error here means the run's own state cannot be
// durably written — per the storage-error taxonomy this marks the run
// "interrupted" and stops further dispatch rather than returning an
// opaque error up through Run.
func (s *Scheduler) recordEvent(ctx context.Context, kind runmodel.EventKind, message string, details map[string]any) bool {
	if err := s.Tracker.RecordEvent(ctx, kind, message, details); err != nil {
		util.Log(ctx).WithError(err).Warn("wavescheduler: could not record event, interrupting run")
		s.interrupt(ctx, err.Error())
		return false
	}
	return true
}

// interrupt marks the run interrupted and makes a best-effort attempt to
// persist that status; a second storage failure here is logged and
// otherwise swallowed, since there is nothing further this run can do to
// make its own state durable.
func (s *Scheduler) interrupt(ctx context.Context, reason string) {
	s.Tracker.Run.Status = runmodel.RunInterrupted
	if err := s.Tracker.Persist(ctx); err != nil {
		util.Log(ctx).WithError(err).WithField("reason", reason).
			Error("wavescheduler: could not persist interrupted status")
	}
}

// dispatchWaveConcurrent fans out session creation across the wave with a
// bounded number of in-flight dispatches, rather than pacing sequentially
// with a fixed delay between creates: a large wave dispatches in roughly
// wave-size/MaxParallelSessions rounds rather than one-at-a-time, while
// still respecting the same per-session backend call path and idempotency
// ledger.
func (s *Scheduler) dispatchWaveConcurrent(ctx context.Context, wave *runmodel.Wave) {
	sem := make(chan struct{}, s.concurrencyLimit())
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, sess := range wave.Sessions {
		sem <- struct{}{}
		wg.Add(1)
		go func(sess *runmodel.RemediationSession) {
			defer wg.Done()
			defer func() { <-sem }()

			s.Manager.Dispatch(ctx, s.Tracker.Run.RunID, sess)

			mu.Lock()
			_ = s.Tracker.RecordEvent(ctx, runmodel.EventSessionStarted,
				fmt.Sprintf("session started for %s", sess.Finding.FindingID),
				map[string]any{"finding_id": sess.Finding.FindingID, "session_id": sess.SessionID, "data_source": string(sess.DataSource)})
			mu.Unlock()
		}(sess)
	}

	wg.Wait()
}

func (s *Scheduler) concurrencyLimit() int {
	if s.Config.MaxParallelSessions <= 0 {
		return 1
	}
	return s.Config.MaxParallelSessions
}

func (s *Scheduler) pollInterval() time.Duration {
	return time.Duration(s.Config.PollIntervalSeconds) * time.Second
}

func (s *Scheduler) sessionTimeout() time.Duration {
	return time.Duration(s.Config.SessionTimeoutMinutes) * time.Minute
}

// cleanupSessions terminates every terminal session in wave on its backend,
// freeing concurrency slots. Best-effort: a termination failure is logged
// and otherwise ignored.
func (s *Scheduler) cleanupSessions(ctx context.Context, wave *runmodel.Wave) {
	for _, sess := range wave.Sessions {
		if sess.SessionID == "" || !sess.Status.Terminal() {
			continue
		}
		client := s.hardenedFor(sess.DataSource)
		if err := client.TerminateSession(ctx, sess.SessionID); err != nil {
			util.Log(ctx).WithError(err).WithField("session_id", sess.SessionID).
				Warn("wavescheduler: could not terminate session")
		}
	}
}

func (s *Scheduler) hardenedFor(source runmodel.DataSource) *hardenedclient.Client {
	if source == runmodel.DataSourceLive {
		return s.LiveHardened
	}
	return s.MockHardened
}

// drainStaleSessions terminates leftover sessions from a previous crashed
// run so this run starts with a full concurrency budget, then resets the
// circuit breaker regardless of outcome — a cleanup failure here must
// never block the actual run from starting.
func (s *Scheduler) drainStaleSessions(ctx context.Context) {
	defer func() {
		s.LiveHardened.ResetCircuitBreaker()
		s.MockHardened.ResetCircuitBreaker()
		util.Log(ctx).Info("wavescheduler: circuit breaker reset after drain")
	}()

	drained := false
	for _, client := range []*hardenedclient.Client{s.LiveHardened, s.MockHardened} {
		ids, err := client.ListSessions(ctx, 20)
		if err != nil {
			util.Log(ctx).WithError(err).Warn("wavescheduler: could not list stale sessions")
			continue
		}
		for _, sid := range ids {
			if err := client.TerminateSession(ctx, sid); err != nil {
				util.Log(ctx).WithError(err).WithField("session_id", sid).Warn("wavescheduler: could not terminate stale session")
				continue
			}
			drained = true
			util.Log(ctx).WithField("session_id", sid).Info("wavescheduler: terminated stale session")
		}
	}
	if drained {
		time.Sleep(3 * time.Second)
	}
}

// checkGate reports whether wave's success rate clears the configured
// minimum. An empty wave, or a wave where nothing has completed yet,
// always passes — the gate only blocks on observed failures.
func (s *Scheduler) checkGate(wave *runmodel.Wave) bool {
	total := wave.TotalCount()
	if total == 0 {
		return true
	}
	success, failure := wave.SuccessCount(), wave.FailureCount()
	if success+failure == 0 {
		return true
	}
	return float64(success)/float64(total) >= s.Config.MinSuccessRate
}

// retryFailed resets and re-dispatches every retriable session in wave that
// has not yet exhausted its retry budget, then polls them to completion
// under a fresh idempotency key (ResetForRetry bumps Attempt, which the
// ledger key incorporates).
func (s *Scheduler) retryFailed(ctx context.Context, wave *runmodel.Wave) {
	var retryable []*runmodel.RemediationSession
	for _, sess := range wave.Sessions {
		if sess.Status.Retriable() && sess.Attempt < maxRetryAttempts {
			sess.ResetForRetry()
			_ = s.Tracker.RecordEvent(ctx, runmodel.EventSessionRetry,
				fmt.Sprintf("retrying %s (attempt %d)", sess.Finding.FindingID, sess.Attempt),
				map[string]any{"finding_id": sess.Finding.FindingID, "attempt": sess.Attempt})
			retryable = append(retryable, sess)
		}
	}
	if len(retryable) == 0 {
		return
	}

	s.dispatchWaveConcurrent(ctx, &runmodel.Wave{WaveNumber: wave.WaveNumber, Sessions: retryable})
	PollUntilDone(ctx, s.Manager, s.Tracker, retryable, s.pollInterval(), s.sessionTimeout())
}
