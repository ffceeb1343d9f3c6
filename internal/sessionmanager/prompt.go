package sessionmanager

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

// RemediationOutputSchema is the structured-output contract every session
// is asked to report against.
var RemediationOutputSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"finding_id": map[string]any{"type": "string"},
		"status": map[string]any{
			"type": "string",
			"enum": []string{"analyzing", "fixing", "testing", "creating_pr", "completed", "failed"},
		},
		"progress_pct":   map[string]any{"type": "integer", "minimum": 0, "maximum": 100},
		"current_step":   map[string]any{"type": "string"},
		"fix_approach":   map[string]any{"type": []string{"string", "null"}},
		"files_modified": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"tests_passed":   map[string]any{"type": []string{"boolean", "null"}},
		"tests_added":    map[string]any{"type": "integer"},
		"pr_url":         map[string]any{"type": []string{"string", "null"}},
		"error_message":  map[string]any{"type": []string{"string", "null"}},
		"confidence":     map[string]any{"type": "string", "enum": []string{"high", "medium", "low"}},
	},
	"required": []string{"finding_id", "status", "progress_pct", "current_step"},
}

// ServiceOverride holds per-service playbook customizations, keyed by
// ServiceName in the overrides map this type is loaded into.
type ServiceOverride struct {
	TestCommand        string `json:"test_command"`
	BranchPrefix        string `json:"branch_prefix"`
	DeploymentNotes     string `json:"deployment_notes"`
	CustomInstructions string `json:"custom_instructions"`
}

// BuildPromptOptions carries the optional enrichment inputs to BuildPrompt.
type BuildPromptOptions struct {
	MemoryContext string
	Override      *ServiceOverride
	RunID         string
}

// BuildPrompt renders the full task prompt sent to the agent backend for
// one finding, optionally enriched with prior-remediation memory context
// and a service-specific override block.
func BuildPrompt(finding runmodel.Finding, opts BuildPromptOptions) string {
	line := "N/A"
	if finding.LineNumber != nil {
		line = strconv.Itoa(*finding.LineNumber)
	}
	cwe := finding.CWEID
	if cwe == "" {
		cwe = "N/A"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `## Security Remediation Task

**Run ID**: %s
**Finding ID**: %s
**Service**: %s
**Category**: %s
**Severity**: %s
**File**: %s
**Line**: %s
**CWE**: %s

**Title**: %s

**Description**: %s
`, opts.RunID, finding.FindingID, finding.ServiceName, finding.Category, finding.Severity,
		finding.FilePath, line, cwe, finding.Title, finding.Description)

	if finding.Category == runmodel.CategoryDependencyVulnerability {
		dep, cur, fixed := coalesce(finding.DependencyName), coalesce(finding.CurrentVersion), coalesce(finding.FixedVersion)
		fmt.Fprintf(&b, "\n**Dependency**: %s\n**Current Version**: %s\n**Fixed Version**: %s\n", dep, cur, fixed)
	}

	fmt.Fprintf(&b, `
## Instructions
1. Clone the repository at %s
2. Fix the vulnerability described above following the playbook instructions
3. Update structured output after each major step (analyzing, fixing, testing, creating_pr, completed)
4. Run existing tests and ensure they pass
5. Create a pull request with the fix on a new branch
`, finding.RepoURL)

	if opts.Override != nil {
		o := opts.Override
		testCmd, branchPrefix, notes := coalesce(o.TestCommand), coalesceDefault(o.BranchPrefix, "security/fix"), coalesceDefault(o.DeploymentNotes, "Standard deployment.")
		fmt.Fprintf(&b, `
## Service-Specific Instructions (%s)
- **Test Command**: %s
- **Branch Prefix**: %s
- **Deployment Notes**: %s

%s
`, finding.ServiceName, testCmd, branchPrefix, notes, o.CustomInstructions)
	}

	if opts.MemoryContext != "" {
		fmt.Fprintf(&b, `
## Prior Remediation Knowledge
The following context is from previous remediation sessions for similar findings.
Use this as reference but verify applicability to the current codebase.

%s
`, opts.MemoryContext)
	}

	return b.String()
}

func coalesce(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func coalesceDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// BuildTags returns the backend session tags for a wave dispatch.
func BuildTags(waveNumber int, category runmodel.Category, serviceName string) []string {
	return []string{fmt.Sprintf("wave-%d", waveNumber), string(category), serviceName}
}
