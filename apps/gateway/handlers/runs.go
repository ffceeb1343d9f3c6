package handlers

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pitabwire/util"

	appconfig "github.com/antinvestor/remediation-run-engine/apps/gateway/config"
	"github.com/antinvestor/remediation-run-engine/internal/review"
	"github.com/antinvestor/remediation-run-engine/internal/runid"
	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
	"github.com/antinvestor/remediation-run-engine/internal/statestore"
)

var requiredCSVColumns = []string{
	"finding_id", "scanner", "category", "severity", "title",
	"description", "service_name", "repo_url", "file_path",
}

const (
	minWaveSize = 1
	maxWaveSize = 100
)

// RunsHandler implements the upload-and-spawn endpoint and the read-only
// list/detail views over runs/index.json and runs/<run_id>/state.json.
type RunsHandler struct {
	cfg   *appconfig.GatewayConfig
	store *statestore.Store
}

// NewRunsHandler builds a RunsHandler.
func NewRunsHandler(cfg *appconfig.GatewayConfig, store *statestore.Store) *RunsHandler {
	return &RunsHandler{cfg: cfg, store: store}
}

// List serves GET /runs: the run index, newest last, or an empty array.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	idx, err := h.store.ReadRunIndex()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "index_read_failed", err.Error())
		return
	}
	if idx.Runs == nil {
		idx.Runs = []runmodel.RunSummary{}
	}
	writeJSON(w, http.StatusOK, idx.Runs)
}

// Get serves GET /runs/{id}: the full persisted BatchRun.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if !review.ValidRunID(runID) {
		writeError(w, http.StatusBadRequest, "invalid_run_id", "run id contains disallowed characters")
		return
	}

	run, err := h.store.ReadRunState(runID)
	if err != nil {
		writeError(w, http.StatusNotFound, "run_not_found", fmt.Sprintf("no run %q", runID))
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// Create serves POST /runs: the upload-and-spawn endpoint. It validates the
// CSV, persists it under the new run's directory, writes the bootstrap
// marker, and spawns apps/worker detached to drive the run to completion.
func (h *RunsHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := util.Log(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadSizeBytes)
	if err := r.ParseMultipartForm(h.cfg.MaxUploadSizeBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload",
			fmt.Sprintf("could not parse multipart upload (limit %d bytes): %v", h.cfg.MaxUploadSizeBytes, err))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read_failed", "could not read uploaded file")
		return
	}

	if missing := missingColumn(raw); missing != "" {
		writeError(w, http.StatusBadRequest, "missing_column", fmt.Sprintf("missing required column %q", missing))
		return
	}
	rows, err := countDataRows(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_csv", err.Error())
		return
	}
	if rows == 0 {
		writeError(w, http.StatusBadRequest, "empty_upload", "CSV has no data rows after the header")
		return
	}
	if rows > h.cfg.MaxUploadRows {
		writeError(w, http.StatusBadRequest, "too_many_rows", fmt.Sprintf("CSV has %d rows, limit is %d", rows, h.cfg.MaxUploadRows))
		return
	}

	waveSize, err := parseWaveSize(r.FormValue("wave_size"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_wave_size", err.Error())
		return
	}

	mode, err := parseMode(r.FormValue("mode"), h.cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_mode", err.Error())
		return
	}

	runID := runid.New()
	runDir := filepath.Join(h.cfg.RunsDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		writeError(w, http.StatusInternalServerError, "run_dir_failed", err.Error())
		return
	}
	if err := os.WriteFile(filepath.Join(runDir, "findings.csv"), raw, 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, "write_failed", err.Error())
		return
	}

	if err := writeBootstrapMarker(h.cfg.RunsDir, runID, "starting", ""); err != nil {
		log.WithError(err).Warn("gateway: could not write bootstrap marker")
	}

	pid, spawnErr := h.spawnWorker(runID, waveSize, mode)
	if spawnErr != nil {
		_ = writeBootstrapMarker(h.cfg.RunsDir, runID, "failed_to_spawn", spawnErr.Error())
		log.WithError(spawnErr).WithField("run_id", runID).Error("gateway: could not spawn worker")
		writeError(w, http.StatusInternalServerError, "spawn_failed", "could not start the run supervisor")
		return
	}
	if err := os.WriteFile(filepath.Join(runDir, "pid"), []byte(strconv.Itoa(pid)), 0o644); err != nil {
		log.WithError(err).Warn("gateway: could not persist worker pid")
	}
	_ = writeBootstrapMarker(h.cfg.RunsDir, runID, "started", "")

	log.WithField("run_id", runID).WithField("pid", pid).Info("gateway: spawned run supervisor")
	writeJSON(w, http.StatusCreated, map[string]string{"run_id": runID, "status": "started"})
}

func (h *RunsHandler) spawnWorker(runID string, waveSize int, mode string) (int, error) {
	csvPath := filepath.Join(h.cfg.RunsDir, runID, "findings.csv")
	args := []string{
		"-csv", csvPath,
		"-run-id", runID,
		"-mode", mode,
	}
	// waveSize is 0 when the caller didn't specify wave_size; omitting the
	// flag entirely lets the worker's own WAVE_SIZE env default apply
	// instead of pinning every upload to a gateway-chosen default.
	if waveSize > 0 {
		args = append(args, "-wave-size", strconv.Itoa(waveSize))
	}
	cmd := exec.Command(h.cfg.WorkerBinaryPath, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("gateway: start worker: %w", err)
	}
	go func() { _ = cmd.Wait() }()
	return cmd.Process.Pid, nil
}

func writeBootstrapMarker(runsDir, runID, status, errMsg string) error {
	marker := runmodel.BootstrapMarker{
		Status:    status,
		StartedAt: time.Now().UTC(),
		RunID:     runID,
		Error:     errMsg,
	}
	return statestore.WriteJSONAtomic(filepath.Join(runsDir, runID, "bootstrap.json"), marker)
}

func missingColumn(raw []byte) string {
	header, err := csv.NewReader(bytes.NewReader(raw)).Read()
	if err != nil {
		return requiredCSVColumns[0]
	}
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[h] = true
	}
	for _, col := range requiredCSVColumns {
		if !present[col] {
			return col
		}
	}
	return ""
}

func countDataRows(raw []byte) (int, error) {
	reader := csv.NewReader(bytes.NewReader(raw))
	if _, err := reader.Read(); err != nil {
		return 0, fmt.Errorf("read CSV header: %w", err)
	}
	count := 0
	for {
		_, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return 0, fmt.Errorf("read CSV row: %w", err)
		}
		count++
	}
}

// parseWaveSize returns 0 (meaning "unspecified, let the worker's own
// WAVE_SIZE default apply") when raw is empty.
func parseWaveSize(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("wave_size must be an integer")
	}
	if n < minWaveSize || n > maxWaveSize {
		return 0, fmt.Errorf("wave_size must be between %d and %d", minWaveSize, maxWaveSize)
	}
	return n, nil
}

func parseMode(raw string, cfg *appconfig.GatewayConfig) (string, error) {
	switch raw {
	case "mock", "live", "hybrid":
		return raw, nil
	case "":
		return cfg.Mode(), nil
	default:
		return "", fmt.Errorf("mode must be one of mock, live, hybrid")
	}
}
