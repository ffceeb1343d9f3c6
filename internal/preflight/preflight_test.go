package preflight

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antinvestor/remediation-run-engine/internal/agentbackend"
	"github.com/antinvestor/remediation-run-engine/internal/hardenedclient"
	"github.com/antinvestor/remediation-run-engine/internal/runconfig"
	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

func testClient() *hardenedclient.Client {
	backend := agentbackend.NewSimulatedBackend(1)
	return hardenedclient.New(backend, hardenedclient.Config{MaxRetries: 1, JitterMaxSeconds: 0.01, CircuitBreakerThreshold: 5})
}

func TestCheck_MockModeRequiresFindingsAndPlaybooks(t *testing.T) {
	cfg := &runconfig.EngineConfig{MockMode: true, PlaybooksDir: t.TempDir()}
	errs := Check(context.Background(), cfg, testClient(), nil)
	require.Contains(t, errs, "no findings to remediate")
}

func TestCheck_MockModeMissingPlaybookFile(t *testing.T) {
	dir := t.TempDir()
	cfg := &runconfig.EngineConfig{MockMode: true, PlaybooksDir: dir}
	findings := []runmodel.Finding{{FindingID: "f1", Category: runmodel.CategorySQLInjection}}
	errs := Check(context.Background(), cfg, testClient(), findings)
	require.Len(t, errs, 1)
	require.Contains(t, errs[0], "playbook file missing")
}

func TestCheck_MockModePasses(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sql_injection.md"), []byte("x"), 0o644))
	cfg := &runconfig.EngineConfig{MockMode: true, PlaybooksDir: dir}
	findings := []runmodel.Finding{{FindingID: "f1", Category: runmodel.CategorySQLInjection}}
	errs := Check(context.Background(), cfg, testClient(), findings)
	require.Empty(t, errs)
}

func TestCheck_LiveModeMissingAPIKey(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sql_injection.md"), []byte("x"), 0o644))
	cfg := &runconfig.EngineConfig{MockMode: false, PlaybooksDir: dir}
	findings := []runmodel.Finding{{FindingID: "f1", Category: runmodel.CategorySQLInjection}}
	errs := Check(context.Background(), cfg, testClient(), findings)
	require.Contains(t, errs, "agent API key is not set")
}

func TestCheck_HybridModeRequiresConnectedRepos(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sql_injection.md"), []byte("x"), 0o644))
	cfg := &runconfig.EngineConfig{MockMode: false, HybridMode: true, PlaybooksDir: dir, AgentAPIKey: "key"}
	findings := []runmodel.Finding{{FindingID: "f1", Category: runmodel.CategorySQLInjection}}
	errs := Check(context.Background(), cfg, testClient(), findings)
	require.Contains(t, errs, "connected repos must be set when using hybrid mode")
}
