// Package sessionmanager dispatches remediation sessions for findings,
// memoizing dispatch through the idempotency ledger and normalizing every
// backend status response into the engine's own SessionStatus vocabulary.
package sessionmanager

import (
	"context"
	"strings"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/remediation-run-engine/internal/agentbackend"
	"github.com/antinvestor/remediation-run-engine/internal/idempotency"
	"github.com/antinvestor/remediation-run-engine/internal/memory"
	"github.com/antinvestor/remediation-run-engine/internal/runconfig"
	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

// Client is the subset of hardenedclient.Client the manager depends on,
// narrowed to an interface so tests can substitute a fake.
type Client interface {
	CreateSession(ctx context.Context, req agentbackend.CreateSessionRequest) (agentbackend.CreateSessionResult, error)
	GetSession(ctx context.Context, sessionID string) (agentbackend.SessionSnapshot, error)
	SendMessage(ctx context.Context, sessionID, text string) error
	TerminateSession(ctx context.Context, sessionID string) error
}

// blockedNudgeMessage is sent once to a session that reports BLOCKED
// without a pull request, asking the agent to report what input it needs
// so the operator reviewing the run has something actionable to act on.
const blockedNudgeMessage = "This session is reported as blocked with no pull request yet. " +
	"Please summarize what is blocking progress or continue if no input is actually required."

// Manager dispatches and polls remediation sessions on behalf of the wave
// scheduler.
type Manager struct {
	LiveClient    Client
	MockClient    Client
	Ledger        idempotency.Ledger
	MemoryStore   *memory.Retriever
	Overrides     map[string]ServiceOverride
	Config        *runconfig.EngineConfig
}

// DetermineDataSource picks live or mock for a finding. In hybrid mode, a
// finding whose service name substring-matches an entry in
// config.ConnectedRepos() is routed to live; everything else falls back to
// mock. Outside hybrid mode the engine-wide MockMode flag decides.
func DetermineDataSource(finding runmodel.Finding, cfg *runconfig.EngineConfig) runmodel.DataSource {
	if cfg.MockMode && !cfg.HybridMode {
		return runmodel.DataSourceMock
	}
	if !cfg.HybridMode {
		return runmodel.DataSourceLive
	}
	for _, repo := range cfg.ConnectedRepos() {
		if strings.Contains(finding.ServiceName, repo) || strings.Contains(repo, finding.ServiceName) {
			return runmodel.DataSourceLive
		}
	}
	return runmodel.DataSourceMock
}

func (m *Manager) clientFor(source runmodel.DataSource) Client {
	if source == runmodel.DataSourceLive {
		return m.LiveClient
	}
	return m.MockClient
}

// Dispatch creates a backend session for sess.Finding, or reuses one found
// in the idempotency ledger under the current run/finding/attempt key. On
// backend failure it marks the session FAILED in place rather than
// returning an error, matching the scheduler's "one bad finding never
// aborts the wave" contract.
func (m *Manager) Dispatch(ctx context.Context, runID string, sess *runmodel.RemediationSession) {
	key := idempotency.Key(runID, sess.Finding.FindingID, sess.Attempt)

	if m.Ledger != nil {
		if existingSessionID, ok, err := m.Ledger.Lookup(ctx, key); err == nil && ok {
			util.Log(ctx).WithField("key", key).WithField("session_id", existingSessionID).
				Info("sessionmanager: idempotency hit, reusing session")
			sess.SessionID = existingSessionID
			sess.Status = runmodel.StatusDispatched
			sess.DataSource = DetermineDataSource(sess.Finding, m.Config)
			return
		}
	}

	dataSource := DetermineDataSource(sess.Finding, m.Config)
	client := m.clientFor(dataSource)

	var memoryContext string
	if m.MemoryStore != nil {
		memoryContext = m.MemoryStore.BuildContext(sess.Finding, 3)
	}

	var override *ServiceOverride
	if o, ok := m.Overrides[sess.Finding.ServiceName]; ok {
		override = &o
	}

	prompt := BuildPrompt(sess.Finding, BuildPromptOptions{
		MemoryContext: memoryContext,
		Override:      override,
		RunID:         runID,
	})

	result, err := client.CreateSession(ctx, agentbackend.CreateSessionRequest{
		Prompt:      prompt,
		PlaybookID:  sess.PlaybookID,
		Tags:        BuildTags(sess.WaveNumber, sess.Finding.Category, sess.Finding.ServiceName),
		MaxACULimit: m.Config.MaxACUPerSession,
		Idempotent:  true,
	})
	if err != nil {
		util.Log(ctx).WithError(err).WithField("finding_id", sess.Finding.FindingID).
			Error("sessionmanager: failed to create session")
		sess.Status = runmodel.StatusFailed
		sess.ErrorMessage = err.Error()
		return
	}

	sess.SessionID = result.SessionID
	sess.BackendURL = result.URL
	sess.Status = runmodel.StatusDispatched
	sess.DataSource = dataSource
	now := time.Now().UTC()
	sess.CreatedAt = now

	if m.Ledger != nil {
		if lerr := m.Ledger.Record(ctx, key, sess.SessionID); lerr != nil {
			util.Log(ctx).WithError(lerr).WithField("key", key).Warn("sessionmanager: failed to record idempotency entry")
		}
	}
}

// statusMap mirrors the backend's status vocabulary. suspend_requested,
// resume_requested, and resumed are transitional states the backend reports
// mid-flight; they are kept as WORKING so the poller keeps waiting rather
// than treating them as a meaningful transition.
var statusMap = map[runmodel.BackendStatusEnum]runmodel.SessionStatus{
	runmodel.BackendWorking:          runmodel.StatusWorking,
	runmodel.BackendFinished:         runmodel.StatusSuccess,
	runmodel.BackendBlocked:          runmodel.StatusBlocked,
	runmodel.BackendExpired:          runmodel.StatusTimeout,
	runmodel.BackendSuspendRequested: runmodel.StatusWorking,
	runmodel.BackendResumeRequested:  runmodel.StatusWorking,
	runmodel.BackendResumed:          runmodel.StatusWorking,
}

// InterpretStatus maps one backend snapshot to (status, pr_url,
// error_message). A "blocked" status accompanied by a PR URL means the
// backend finished and is waiting on human review, which the engine
// reports as SUCCESS; "blocked" without a PR means the agent is stuck and
// needs a human. Unknown status enums default to WORKING so a naming
// change on the backend side never silently fails a whole run.
func InterpretStatus(ctx context.Context, snap agentbackend.SessionSnapshot) (status runmodel.SessionStatus, prURL, errorMessage string) {
	if snap.PRUrl != "" {
		prURL = snap.PRUrl
	}
	if snap.Structured != nil {
		errorMessage = snap.Structured.ErrorMessage
	}

	if snap.StatusEnum == runmodel.BackendBlocked && prURL != "" {
		util.Log(ctx).Info("sessionmanager: session blocked with PR present, treating as success")
		return runmodel.StatusSuccess, prURL, errorMessage
	}

	mapped, known := statusMap[snap.StatusEnum]
	if !known {
		if snap.StatusEnum != "" {
			util.Log(ctx).WithField("status_enum", string(snap.StatusEnum)).
				Warn("sessionmanager: unknown backend status_enum, treating as WORKING")
		}
		mapped = runmodel.StatusWorking
	}
	return mapped, prURL, errorMessage
}

// Poll fetches the current backend snapshot for sess and applies
// InterpretStatus to it in place, also copying the structured output.
func (m *Manager) Poll(ctx context.Context, sess *runmodel.RemediationSession) error {
	client := m.clientFor(sess.DataSource)
	snap, err := client.GetSession(ctx, sess.SessionID)
	if err != nil {
		return err
	}

	status, prURL, errMsg := InterpretStatus(ctx, snap)
	sess.Status = status
	if prURL != "" {
		sess.PRURL = prURL
	}
	if errMsg != "" {
		sess.ErrorMessage = errMsg
	}
	sess.Structured = snap.Structured

	if status == runmodel.StatusBlocked && sess.PRURL == "" && !sess.NudgeSent {
		if nerr := client.SendMessage(ctx, sess.SessionID, blockedNudgeMessage); nerr != nil {
			util.Log(ctx).WithError(nerr).WithField("session_id", sess.SessionID).
				Warn("sessionmanager: could not nudge blocked session")
		}
		sess.NudgeSent = true
	}

	if status.Terminal() {
		now := time.Now().UTC()
		sess.CompletedAt = &now
	}
	return nil
}
