package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antinvestor/remediation-run-engine/internal/agentbackend"
	"github.com/antinvestor/remediation-run-engine/internal/hardenedclient"
	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

func TestPlaybookPath_KnownAndFallback(t *testing.T) {
	require.Equal(t, "sql_injection.md", PlaybookPath(runmodel.CategorySQLInjection))
	require.Equal(t, FallbackPlaybook, PlaybookPath(runmodel.CategoryXSS))
}

func TestEnsurePlaybooksUploaded_UploadsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sql_injection.md"), []byte("do the thing"), 0o644))

	backend := agentbackend.NewSimulatedBackend(7)
	client := hardenedclient.New(backend, hardenedclient.Config{MaxRetries: 1, JitterMaxSeconds: 0.01, CircuitBreakerThreshold: 5})

	ids, err := EnsurePlaybooksUploaded(context.Background(), client, dir)
	require.NoError(t, err)
	require.Contains(t, ids, "sql_injection.md")
	require.NotEmpty(t, ids["sql_injection.md"])
}

func TestAssignPlaybooks_FallsBackToFirstAvailable(t *testing.T) {
	waves := []*runmodel.Wave{{Sessions: []*runmodel.RemediationSession{
		{Finding: runmodel.Finding{Category: runmodel.CategoryOther}},
	}}}
	AssignPlaybooks(context.Background(), waves, map[string]string{"dependency_vulnerability.md": "pb-123"})
	require.Equal(t, "pb-123", waves[0].Sessions[0].PlaybookID)
}
