package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pitabwire/util"

	"github.com/antinvestor/remediation-run-engine/internal/hardenedclient"
	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

// PlaybookMap names the on-disk playbook file for each finding category
// that has a dedicated one. Categories not listed here share
// FallbackPlaybook.
var PlaybookMap = map[runmodel.Category]string{
	runmodel.CategoryDependencyVulnerability: "dependency_vulnerability.md",
	runmodel.CategorySQLInjection:            "sql_injection.md",
	runmodel.CategoryHardcodedSecret:         "hardcoded_secrets.md",
	runmodel.CategoryPIILogging:              "pii_logging.md",
	runmodel.CategoryMissingEncryption:       "missing_encryption.md",
	runmodel.CategoryAccessLogging:           "access_logging.md",
}

// FallbackPlaybook covers categories with no dedicated playbook file
// (XSS, path traversal, other).
const FallbackPlaybook = "dependency_vulnerability.md"

// PlaybookPath returns the on-disk file name for category, relative to the
// engine's configured playbooks directory.
func PlaybookPath(category runmodel.Category) string {
	if p, ok := PlaybookMap[category]; ok {
		return p
	}
	return FallbackPlaybook
}

// EnsurePlaybooksUploaded uploads every distinct playbook file under
// playbooksDir to the backend that is not already present there (matched
// by the category the backend lists for each existing playbook), returning
// a map from file name to the backend's playbook_id.
func EnsurePlaybooksUploaded(ctx context.Context, client *hardenedclient.Client, playbooksDir string) (map[string]string, error) {
	existingByCategory, err := client.ListPlaybooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingest: list existing playbooks: %w", err)
	}

	uniquePaths := uniqueSortedPlaybookFiles()
	pathToID := make(map[string]string, len(uniquePaths))

	for _, fileName := range uniquePaths {
		category := categoryForFile(fileName)

		if id, ok := existingByCategory[category]; ok {
			pathToID[fileName] = id
			util.Log(ctx).WithField("file", fileName).WithField("playbook_id", id).
				Info("ingest: playbook already uploaded")
			continue
		}

		fullPath := filepath.Join(playbooksDir, fileName)
		body, err := os.ReadFile(fullPath)
		if err != nil {
			util.Log(ctx).WithError(err).WithField("file", fullPath).Warn("ingest: playbook file not found on disk")
			continue
		}

		id, err := client.CreatePlaybook(ctx, category, string(body))
		if err != nil {
			return nil, fmt.Errorf("ingest: upload playbook %s: %w", fileName, err)
		}
		pathToID[fileName] = id
		util.Log(ctx).WithField("file", fileName).WithField("playbook_id", id).Info("ingest: uploaded playbook")
	}

	return pathToID, nil
}

func uniqueSortedPlaybookFiles() []string {
	seen := make(map[string]bool)
	var files []string
	for _, f := range PlaybookMap {
		if !seen[f] {
			seen[f] = true
			files = append(files, f)
		}
	}
	if !seen[FallbackPlaybook] {
		files = append(files, FallbackPlaybook)
	}
	sort.Strings(files)
	return files
}

func categoryForFile(fileName string) runmodel.Category {
	for cat, f := range PlaybookMap {
		if f == fileName {
			return cat
		}
	}
	return runmodel.CategoryOther
}

// AssignPlaybooks sets PlaybookID on every session across waves based on
// its finding's category, falling back to the first available playbook_id
// if no dedicated mapping exists, and leaving PlaybookID empty if the
// playbook map is itself empty.
func AssignPlaybooks(ctx context.Context, waves []*runmodel.Wave, pathToID map[string]string) {
	var fallbackID string
	for _, id := range pathToID {
		fallbackID = id
		break
	}

	for _, wave := range waves {
		for _, sess := range wave.Sessions {
			fileName := PlaybookPath(sess.Finding.Category)
			id, ok := pathToID[fileName]
			if !ok {
				if fallbackID == "" {
					util.Log(ctx).WithField("category", string(sess.Finding.Category)).
						Warn("ingest: no playbook_id available, leaving empty")
					continue
				}
				util.Log(ctx).WithField("category", string(sess.Finding.Category)).WithField("fallback_id", fallbackID).
					Warn("ingest: no playbook_id for category, using fallback")
				id = fallbackID
			}
			sess.PlaybookID = id
		}
	}
}
