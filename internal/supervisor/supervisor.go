// Package supervisor is the top-level driver for one batch run: it builds
// waves from a finding set, wires the live and mock hardened clients, runs
// preflight, drives the scheduler to completion, and extracts memory items
// from the finished run.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/remediation-run-engine/internal/agentbackend"
	"github.com/antinvestor/remediation-run-engine/internal/hardenedclient"
	"github.com/antinvestor/remediation-run-engine/internal/idempotency"
	"github.com/antinvestor/remediation-run-engine/internal/ingest"
	"github.com/antinvestor/remediation-run-engine/internal/memory"
	"github.com/antinvestor/remediation-run-engine/internal/preflight"
	"github.com/antinvestor/remediation-run-engine/internal/runconfig"
	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
	"github.com/antinvestor/remediation-run-engine/internal/sessionmanager"
	"github.com/antinvestor/remediation-run-engine/internal/statestore"
	"github.com/antinvestor/remediation-run-engine/internal/tracker"
	"github.com/antinvestor/remediation-run-engine/internal/wavescheduler"
)

// Result is what Execute returns once a run has stopped, for whatever
// reason (completed, gated, interrupted).
type Result struct {
	Run  *runmodel.BatchRun
	Errs []string
}

// Execute ingests rawFindings (already parsed from CSV), builds a batch run
// from them, and drives it to completion through the wave scheduler. It
// never returns an error for a run-level failure — preflight failures are
// reported in Result.Errs with Run left nil, but a panic-worthy setup
// problem (store construction, ledger construction) still returns err.
// runID should be the caller-assigned 8-character run id (from
// internal/runid.New, generated once by the gateway's upload handler or by
// apps/worker's CLI entry point); the supervisor never mints its own.
func Execute(ctx context.Context, cfg *runconfig.EngineConfig, rawFindings []runmodel.Finding, sourceFilename, runID string) (*Result, error) {
	findings := ingest.Prioritize(ingest.Deduplicate(rawFindings))

	store := statestore.New(cfg.RunsDir, cfg.StateFilePath)

	liveBackend := agentbackend.NewRemoteBackend(cfg.AgentBaseURL, cfg.AgentAPIKey)
	mockBackend := agentbackend.NewSimulatedBackend(cfg.MockSeed)

	hcConfig := hardenedclient.Config{
		MaxRetries:              cfg.MaxRetries,
		JitterMaxSeconds:        cfg.RetryJitterMaxSeconds,
		CircuitBreakerThreshold: uint32(cfg.CircuitBreakerThreshold),
		CircuitBreakerCooldown:  time.Duration(cfg.CircuitBreakerCooldownS) * time.Second,
	}
	liveHardened := hardenedclient.New(liveBackend, hcConfig)
	mockHardened := hardenedclient.New(mockBackend, hcConfig)

	preflightClient := mockHardened
	if !cfg.MockMode {
		preflightClient = liveHardened
	}
	if errs := preflight.Check(ctx, cfg, preflightClient, findings); len(errs) > 0 {
		for _, e := range errs {
			util.Log(ctx).WithField("error", e).Warn("supervisor: preflight check failed")
		}
		return &Result{Errs: errs}, nil
	}

	playbookIDs, err := ingest.EnsurePlaybooksUploaded(ctx, preflightClient, cfg.PlaybooksDir)
	if err != nil {
		return nil, fmt.Errorf("supervisor: upload playbooks: %w", err)
	}

	run := buildRun(runID, findings, cfg, sourceFilename)
	ingest.AssignPlaybooks(ctx, run.Waves, playbookIDs)

	trk := tracker.New(store, run)

	var ledger idempotency.Ledger
	if cfg.RedisLedgerURL != "" {
		ledger = idempotency.NewRedisLedger(cfg.RedisLedgerURL, "remediation:idempotency")
	} else {
		ledger = idempotency.NewFileLedger(cfg.RunsDir + "/" + run.RunID + "/ledger.json")
	}

	memStore, err := memory.New(cfg.MemoryDir)
	if err != nil {
		return nil, fmt.Errorf("supervisor: open memory store: %w", err)
	}
	retriever := memory.NewRetriever(memStore)

	mgr := &sessionmanager.Manager{
		LiveClient:  liveHardened,
		MockClient:  mockHardened,
		Ledger:      ledger,
		MemoryStore: retriever,
		Config:      cfg,
	}

	sched := &wavescheduler.Scheduler{
		Manager:      mgr,
		Tracker:      trk,
		Config:       cfg,
		LiveHardened: liveHardened,
		MockHardened: mockHardened,
	}

	if err := trk.RecordEvent(ctx, runmodel.EventRunStarted, fmt.Sprintf("run %s started with %d findings", run.RunID, len(findings)), map[string]any{"total_findings": len(findings)}); err != nil {
		return nil, fmt.Errorf("supervisor: record run start: %w", err)
	}

	sched.Run(ctx)

	extractMemory(ctx, memStore, run)

	return &Result{Run: run}, nil
}

func buildRun(runID string, findings []runmodel.Finding, cfg *runconfig.EngineConfig, sourceFilename string) *runmodel.BatchRun {
	run := &runmodel.BatchRun{
		RunID:          runID,
		StartedAt:      time.Now().UTC(),
		TotalFindings:  len(findings),
		Status:         runmodel.RunPending,
		DataSource:     runmodel.DataSource(cfg.Mode()),
		SourceFilename: sourceFilename,
	}

	waveSize := cfg.WaveSize
	if waveSize <= 0 {
		waveSize = len(findings)
		if waveSize == 0 {
			waveSize = 1
		}
	}

	waveNumber := 0
	for start := 0; start < len(findings); start += waveSize {
		end := start + waveSize
		if end > len(findings) {
			end = len(findings)
		}
		waveNumber++

		wave := &runmodel.Wave{WaveNumber: waveNumber, Status: "pending"}
		for _, f := range findings[start:end] {
			wave.Sessions = append(wave.Sessions, &runmodel.RemediationSession{
				Finding:    f,
				Status:     runmodel.StatusPending,
				WaveNumber: waveNumber,
				Attempt:    1,
				DataSource: sessionmanager.DetermineDataSource(f, cfg),
			})
		}
		run.Waves = append(run.Waves, wave)
	}

	return run
}

// extractMemory pulls a memory item from every terminal-enough session in
// the finished run and upserts it into the knowledge store. Best-effort:
// a failure here never fails the run itself, since the remediation work is
// already done by the time this runs.
func extractMemory(ctx context.Context, store *memory.Store, run *runmodel.BatchRun) {
	items := memory.ExtractFromRun(run)
	if len(items) == 0 {
		return
	}

	graph := store.LoadGraph()
	for _, item := range items {
		if err := store.Upsert(item, &graph); err != nil {
			util.Log(ctx).WithError(err).WithField("item_id", item.ItemID).Warn("supervisor: failed to upsert memory item")
		}
	}
	if err := store.SaveGraph(ctx, graph); err != nil {
		util.Log(ctx).WithError(err).Warn("supervisor: failed to save memory graph")
	}
	util.Log(ctx).WithField("count", len(items)).Info("supervisor: extracted memory items from run")
}
