// Command worker is the per-run supervisor process: one invocation drives
// exactly one batch run from its CSV findings export to a terminal status,
// then exits. The gateway spawns it detached per upload; it is also
// independently runnable from the command line for local testing.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/util"

	appconfig "github.com/antinvestor/remediation-run-engine/apps/worker/config"
	"github.com/antinvestor/remediation-run-engine/internal/ingest"
	"github.com/antinvestor/remediation-run-engine/internal/runconfig"
	"github.com/antinvestor/remediation-run-engine/internal/runid"
	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
	"github.com/antinvestor/remediation-run-engine/internal/statestore"
	"github.com/antinvestor/remediation-run-engine/internal/supervisor"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithOIDC[appconfig.WorkerConfig](ctx)
	if err != nil {
		util.Log(ctx).WithError(err).Error("could not process configs")
		os.Exit(1)
	}

	csvPath := flag.String("csv", "", "path to the findings CSV export")
	mode := flag.String("mode", "", "mock|live|hybrid, overrides MOCK_MODE/HYBRID_MODE env vars when set")
	waveSize := flag.Int("wave-size", 0, "sessions per wave, overrides WAVE_SIZE when > 0")
	runIDFlag := flag.String("run-id", "", "run id to use; generated with internal/runid if empty")
	dryRun := flag.Bool("dry-run", false, "parse findings, write the bootstrap marker, then exit without dispatching")
	flag.Parse()

	if *csvPath == "" {
		util.Log(ctx).Error("worker: -csv is required")
		os.Exit(1)
	}
	applyModeOverride(ctx, &cfg, *mode)
	if *waveSize > 0 {
		cfg.WaveSize = *waveSize
	}

	runID := *runIDFlag
	if runID == "" {
		runID = runid.New()
	}
	log := util.Log(ctx).WithField("run_id", runID)

	if err := writeBootstrap(&cfg.EngineConfig, runID, "starting", ""); err != nil {
		log.WithError(err).Warn("worker: could not write bootstrap marker")
	}

	findings, err := loadFindings(*csvPath, &cfg.EngineConfig, runID)
	if err != nil {
		failBootstrap(&cfg.EngineConfig, runID, err)
		log.WithError(err).Error("worker: could not load findings")
		os.Exit(1)
	}

	if err := writeBootstrap(&cfg.EngineConfig, runID, "started", ""); err != nil {
		log.WithError(err).Warn("worker: could not write bootstrap marker")
	}

	if *dryRun {
		log.WithField("findings", len(findings)).Info("worker: dry run, exiting before dispatch")
		return
	}

	result, err := supervisor.Execute(ctx, &cfg.EngineConfig, findings, filepath.Base(*csvPath), runID)
	if err != nil {
		failBootstrap(&cfg.EngineConfig, runID, err)
		log.WithError(err).Error("worker: run failed")
		os.Exit(1)
	}
	if result.Run == nil {
		failBootstrap(&cfg.EngineConfig, runID, fmt.Errorf("preflight failed: %v", result.Errs))
		log.WithField("errors", result.Errs).Error("worker: preflight failed")
		os.Exit(1)
	}

	log.WithField("status", string(result.Run.Status)).Info("worker: run finished")
}

func applyModeOverride(ctx context.Context, cfg *appconfig.WorkerConfig, mode string) {
	switch mode {
	case "mock":
		cfg.MockMode, cfg.HybridMode = true, false
	case "live":
		cfg.MockMode, cfg.HybridMode = false, false
	case "hybrid":
		cfg.MockMode, cfg.HybridMode = false, true
	case "":
	default:
		util.Log(ctx).WithField("mode", mode).Warn("worker: unrecognized -mode value, ignoring")
	}
}

// loadFindings copies the CSV export to runs/<run_id>/findings.csv (so the
// run's on-disk directory always carries its source alongside state.json
// and bootstrap.json), then parses the copy into findings.
func loadFindings(csvPath string, cfg *runconfig.EngineConfig, runID string) ([]runmodel.Finding, error) {
	raw, err := os.ReadFile(csvPath)
	if err != nil {
		return nil, fmt.Errorf("worker: read %s: %w", csvPath, err)
	}

	dest := filepath.Join(cfg.RunsDir, runID, "findings.csv")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("worker: create run directory: %w", err)
	}
	if err := os.WriteFile(dest, raw, 0o644); err != nil {
		return nil, fmt.Errorf("worker: copy findings CSV into run directory: %w", err)
	}

	findings, err := ingest.ParseCSV(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("worker: parse %s: %w", csvPath, err)
	}
	return findings, nil
}

func writeBootstrap(cfg *runconfig.EngineConfig, runID, status, errMsg string) error {
	marker := runmodel.BootstrapMarker{
		Status:    status,
		StartedAt: time.Now().UTC(),
		RunID:     runID,
		PID:       os.Getpid(),
		Error:     errMsg,
	}
	path := filepath.Join(cfg.RunsDir, runID, "bootstrap.json")
	if err := statestore.WriteJSONAtomic(path, marker); err != nil {
		return fmt.Errorf("worker: write bootstrap marker: %w", err)
	}
	return nil
}

func failBootstrap(cfg *runconfig.EngineConfig, runID string, err error) {
	if werr := writeBootstrap(cfg, runID, "failed_to_spawn", err.Error()); werr != nil {
		util.Log(context.Background()).WithError(werr).Warn("worker: could not write failure bootstrap marker")
	}
}
