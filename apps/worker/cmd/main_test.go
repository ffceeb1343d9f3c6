package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	appconfig "github.com/antinvestor/remediation-run-engine/apps/worker/config"
	"github.com/antinvestor/remediation-run-engine/internal/runconfig"
	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
	"github.com/antinvestor/remediation-run-engine/internal/statestore"
)

const sampleCSV = `finding_id,scanner,category,severity,title,description,service_name,repo_url,file_path,line_number,cwe_id,dependency_name,current_version,fixed_version,language
f-1,trivy,dependency_vulnerability,high,Vulnerable dep,desc,billing,https://example.com/billing,go.mod,12,CWE-1104,foo,1.0.0,1.0.1,go
`

func TestLoadFindings_CopiesCSVAndParses(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "export.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(sampleCSV), 0o644))

	cfg := &runconfig.EngineConfig{RunsDir: filepath.Join(dir, "runs")}

	findings, err := loadFindings(csvPath, cfg, "run-abc123")
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, "f-1", findings[0].FindingID)

	copied := filepath.Join(dir, "runs", "run-abc123", "findings.csv")
	data, err := os.ReadFile(copied)
	require.NoError(t, err)
	require.Equal(t, sampleCSV, string(data))
}

func TestLoadFindings_MissingFileReturnsError(t *testing.T) {
	cfg := &runconfig.EngineConfig{RunsDir: t.TempDir()}
	_, err := loadFindings(filepath.Join(t.TempDir(), "missing.csv"), cfg, "run-x")
	require.Error(t, err)
}

func TestWriteBootstrap_PersistsMarker(t *testing.T) {
	dir := t.TempDir()
	cfg := &runconfig.EngineConfig{RunsDir: dir}

	require.NoError(t, writeBootstrap(cfg, "run-abc123", "started", ""))

	var marker runmodel.BootstrapMarker
	require.NoError(t, statestore.ReadJSON(filepath.Join(dir, "run-abc123", "bootstrap.json"), &marker))
	require.Equal(t, "started", marker.Status)
	require.Equal(t, "run-abc123", marker.RunID)
	require.Equal(t, os.Getpid(), marker.PID)
}

func TestApplyModeOverride_SetsFlagsPerMode(t *testing.T) {
	ctx := context.Background()
	cfg := &appconfig.WorkerConfig{}

	applyModeOverride(ctx, cfg, "hybrid")
	require.False(t, cfg.MockMode)
	require.True(t, cfg.HybridMode)

	applyModeOverride(ctx, cfg, "mock")
	require.True(t, cfg.MockMode)
	require.False(t, cfg.HybridMode)
}
