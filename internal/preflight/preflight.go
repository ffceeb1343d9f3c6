// Package preflight validates an engine configuration and finding set
// before a run is allowed to dispatch any session.
package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pitabwire/util"

	"github.com/antinvestor/remediation-run-engine/internal/hardenedclient"
	"github.com/antinvestor/remediation-run-engine/internal/ingest"
	"github.com/antinvestor/remediation-run-engine/internal/runconfig"
	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

// Check runs every pre-dispatch validation and returns the accumulated
// list of error messages. An empty slice means every check passed.
//
// In mock mode the API-reachability and API-key checks are skipped, since
// there is no backend to reach, but playbook and finding-count checks
// still run — a mock run with a missing playbook or zero findings is
// still a misconfigured run.
func Check(ctx context.Context, cfg *runconfig.EngineConfig, client *hardenedclient.Client, findings []runmodel.Finding) []string {
	var errs []string

	if cfg.MockMode {
		if len(findings) == 0 {
			return []string{"no findings to remediate"}
		}
		return checkPlaybooks(ctx, cfg.PlaybooksDir, findings)
	}

	if cfg.AgentAPIKey == "" {
		errs = append(errs, "agent API key is not set")
	}

	if cfg.AgentAPIKey != "" {
		if _, err := client.ListSessions(ctx, 1); err != nil {
			errs = append(errs, fmt.Sprintf("cannot reach agent backend: %v", err))
		} else {
			util.Log(ctx).Info("preflight: agent backend is reachable")
		}
	}

	if len(findings) > 0 {
		errs = append(errs, checkPlaybooks(ctx, cfg.PlaybooksDir, findings)...)
	}

	if cfg.Mode() == "hybrid" && len(cfg.ConnectedRepos()) == 0 {
		errs = append(errs, "connected repos must be set when using hybrid mode")
	}

	if len(findings) == 0 {
		errs = append(errs, "no findings to remediate")
	}

	return errs
}

// checkPlaybooks verifies that a playbook file exists on disk for every
// distinct category present in findings.
func checkPlaybooks(ctx context.Context, playbooksDir string, findings []runmodel.Finding) []string {
	var errs []string
	seen := make(map[runmodel.Category]bool)

	for _, f := range findings {
		if seen[f.Category] {
			continue
		}
		seen[f.Category] = true

		playbookPath := filepath.Join(playbooksDir, ingest.PlaybookPath(f.Category))
		if _, err := os.Stat(playbookPath); err != nil {
			errs = append(errs, fmt.Sprintf("playbook file missing for category %q: %s", f.Category, playbookPath))
		}
	}

	if len(errs) == 0 {
		util.Log(ctx).WithField("categories", len(seen)).Info("preflight: all required playbook files exist")
	}
	return errs
}
