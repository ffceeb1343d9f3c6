// Package ingest turns a scanner CSV export into a deduplicated,
// priority-ordered list of findings, and manages playbook upload/assignment
// against the agent backend.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/pitabwire/util"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

// ParseCSV reads a security-findings CSV export from r. Rows with an
// invalid category or severity are skipped with a warning rather than
// failing the whole import — scanner exports routinely carry one bad row
// among thousands of good ones.
func ParseCSV(r io.Reader) ([]runmodel.Finding, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("ingest: read CSV header: %w", err)
	}
	colIdx := make(map[string]int, len(header))
	for i, h := range header {
		colIdx[h] = i
	}

	var findings []runmodel.Finding
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: read CSV row: %w", err)
		}

		get := func(col string) string {
			if idx, ok := colIdx[col]; ok && idx < len(record) {
				return record[idx]
			}
			return ""
		}

		findingID := get("finding_id")
		if findingID == "" {
			findingID = "unknown"
		}

		rawCategory := get("category")
		if !runmodel.ValidCategories[runmodel.Category(rawCategory)] {
			util.Log(context.Background()).WithField("finding_id", findingID).WithField("category", rawCategory).
				Warn("ingest: skipping row with invalid category")
			continue
		}

		rawSeverity := get("severity")
		if !runmodel.ValidSeverities[runmodel.Severity(rawSeverity)] {
			util.Log(context.Background()).WithField("finding_id", findingID).WithField("severity", rawSeverity).
				Warn("ingest: skipping row with invalid severity")
			continue
		}

		var lineNumber *int
		if raw := get("line_number"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				lineNumber = &n
			}
		}

		findings = append(findings, runmodel.Finding{
			FindingID:      findingID,
			Scanner:        get("scanner"),
			Category:       runmodel.Category(rawCategory),
			Severity:       runmodel.Severity(rawSeverity),
			Title:          get("title"),
			Description:    get("description"),
			ServiceName:    get("service_name"),
			RepoURL:        get("repo_url"),
			FilePath:       get("file_path"),
			LineNumber:     lineNumber,
			CWEID:          get("cwe_id"),
			DependencyName: get("dependency_name"),
			CurrentVersion: get("current_version"),
			FixedVersion:   get("fixed_version"),
			Language:       get("language"),
		})
	}

	return findings, nil
}

// dedupKey identifies findings that describe the same underlying issue.
type dedupKey struct {
	ServiceName string
	FilePath    string
	LineNumber  int
	HasLine     bool
	Category    runmodel.Category
}

// Deduplicate collapses findings sharing (service_name, file_path,
// line_number, category), keeping the higher-severity one on a collision
// and the first-seen one on a severity tie. Original relative order of
// kept findings is preserved.
func Deduplicate(findings []runmodel.Finding) []runmodel.Finding {
	seen := make(map[dedupKey]int)
	var result []runmodel.Finding

	for _, f := range findings {
		key := dedupKey{ServiceName: f.ServiceName, FilePath: f.FilePath, Category: f.Category}
		if f.LineNumber != nil {
			key.LineNumber, key.HasLine = *f.LineNumber, true
		}

		if idx, ok := seen[key]; ok {
			if f.Severity.Outranks(result[idx].Severity) {
				result[idx] = f
			}
			continue
		}
		seen[key] = len(result)
		result = append(result, f)
	}
	return result
}
