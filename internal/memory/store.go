// Package memory implements the filesystem-backed cross-run knowledge
// store: a metadata-only graph.json index plus one markdown narrative file
// per memory item, so future runs can retrieve prior remediation outcomes
// for similar findings.
package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
	"github.com/antinvestor/remediation-run-engine/internal/statestore"
)

// Store is a filesystem-backed memory store rooted at dir, holding
// graph.json and an items/ subdirectory of markdown narratives.
type Store struct {
	dir      string
	itemsDir string
}

// New returns a store rooted at dir, creating its items/ subdirectory.
func New(dir string) (*Store, error) {
	itemsDir := filepath.Join(dir, "items")
	if err := os.MkdirAll(itemsDir, 0o755); err != nil {
		return nil, fmt.Errorf("memory: create items dir: %w", err)
	}
	return &Store{dir: dir, itemsDir: itemsDir}, nil
}

func (s *Store) graphPath() string { return filepath.Join(s.dir, "graph.json") }

func (s *Store) itemPath(itemID string) string {
	return filepath.Join(s.itemsDir, itemID+".md")
}

// LoadGraph reads the metadata index, returning an empty graph if it is
// absent or unreadable. The graph is a dedup/retrieval optimization, not
// the system of record, so corruption here is never fatal.
func (s *Store) LoadGraph() runmodel.MemoryGraph {
	var graph runmodel.MemoryGraph
	if err := statestore.ReadJSON(s.graphPath(), &graph); err != nil {
		if !os.IsNotExist(err) {
			util.Log(context.Background()).WithError(err).Warn("memory: could not load graph, starting empty")
		}
		return runmodel.MemoryGraph{Version: 1}
	}
	return graph
}

// SaveGraph writes the metadata index atomically under the store's file
// lock.
func (s *Store) SaveGraph(ctx context.Context, graph runmodel.MemoryGraph) error {
	lock := statestore.NewFileLock(s.graphPath())
	if err := lock.Acquire(ctx); err != nil {
		return fmt.Errorf("memory: acquire graph lock: %w", err)
	}
	defer lock.Release()
	return statestore.WriteJSONAtomic(s.graphPath(), graph)
}

// SaveItem renders item as markdown and writes it to items/<item_id>.md.
func (s *Store) SaveItem(item runmodel.MemoryItem) error {
	content := renderMarkdown(item)
	if err := os.WriteFile(s.itemPath(item.ItemID), []byte(content), 0o644); err != nil {
		return fmt.Errorf("memory: save item %s: %w", item.ItemID, err)
	}
	return nil
}

// LoadItem reads one item's markdown narrative, returning ("", false) if it
// does not exist.
func (s *Store) LoadItem(itemID string) (string, bool) {
	data, err := os.ReadFile(s.itemPath(itemID))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Upsert saves item's markdown and inserts or replaces its metadata entry
// in graph, wiring symmetric same_category/same_service relationships
// against every other entry already present: both the new entry and the
// existing entry it matches gain a relationship edge to each other.
func (s *Store) Upsert(item runmodel.MemoryItem, graph *runmodel.MemoryGraph) error {
	if err := s.SaveItem(item); err != nil {
		return err
	}

	entry := runmodel.MemoryGraphEntry{
		ItemID:      item.ItemID,
		Category:    item.Category,
		ServiceName: item.ServiceName,
		Severity:    item.Severity,
		Outcome:     item.Outcome,
		Confidence:  item.Confidence,
		DataSource:  item.DataSource,
		CreatedAt:   item.CreatedAt,
	}

	for i := range graph.Entries {
		existing := &graph.Entries[i]
		if existing.ItemID == entry.ItemID {
			continue
		}
		if existing.Category == entry.Category {
			entry.Relationships = append(entry.Relationships, runmodel.MemoryRelationship{TargetID: existing.ItemID, Relation: runmodel.RelationSameCategory})
			existing.Relationships = append(existing.Relationships, runmodel.MemoryRelationship{TargetID: entry.ItemID, Relation: runmodel.RelationSameCategory})
		}
		if existing.ServiceName == entry.ServiceName {
			entry.Relationships = append(entry.Relationships, runmodel.MemoryRelationship{TargetID: existing.ItemID, Relation: runmodel.RelationSameService})
			existing.Relationships = append(existing.Relationships, runmodel.MemoryRelationship{TargetID: entry.ItemID, Relation: runmodel.RelationSameService})
		}
	}

	for i := range graph.Entries {
		if graph.Entries[i].ItemID == entry.ItemID {
			graph.Entries[i] = entry
			return nil
		}
	}
	graph.Entries = append(graph.Entries, entry)
	return nil
}

func renderMarkdown(item runmodel.MemoryItem) string {
	outcome := "FAILED"
	if item.Outcome == "success" {
		outcome = "SUCCESS"
	}
	confidence := string(item.Confidence)
	if confidence == "" {
		confidence = "unknown"
	}
	files := "- None"
	if len(item.FilesModified) > 0 {
		files = ""
		for _, f := range item.FilesModified {
			files += fmt.Sprintf("- `%s`\n", f)
		}
	}
	tests := "N/A"
	if item.TestsPassed != nil {
		if *item.TestsPassed {
			tests = "Yes"
		} else {
			tests = "No"
		}
	}
	fixApproach := item.FixApproach
	if fixApproach == "" {
		fixApproach = "No fix approach recorded."
	}
	prURL := item.PRURL
	if prURL == "" {
		prURL = "No PR created."
	}
	errText := item.ErrorText
	if errText == "" {
		errText = "No errors."
	}

	return fmt.Sprintf(`# Memory: %s

## Metadata
- **Category**: %s
- **Service**: %s
- **Severity**: %s
- **Outcome**: %s
- **Confidence**: %s
- **Data Source**: %s
- **Run ID**: %s
- **Created**: %s

## Fix Approach
%s

## Files Modified
%s

## Test Results
- **Tests Passed**: %s
- **Tests Added**: %d

## PR
%s

## Error
%s
`, item.FindingID, item.Category, item.ServiceName, item.Severity, outcome, confidence,
		item.DataSource, item.RunID, item.CreatedAt.Format(time.RFC3339),
		fixApproach, files, tests, item.TestsAdded, prURL, errText)
}

// ExtractFromRun builds memory items for every terminal session (success,
// failed, timeout, or blocked) across run's waves. BLOCKED is included
// here even though it is not a scheduler-terminal status, because a
// blocked session still carries a useful narrative about what the agent
// attempted before needing human help.
func ExtractFromRun(run *runmodel.BatchRun) []runmodel.MemoryItem {
	var items []runmodel.MemoryItem
	now := time.Now().UTC()

	for _, wave := range run.Waves {
		for _, sess := range wave.Sessions {
			if !isMemoryEligible(sess.Status) {
				continue
			}
			items = append(items, sessionToMemoryItem(sess, run.RunID, now))
		}
	}
	return items
}

func isMemoryEligible(status runmodel.SessionStatus) bool {
	switch status {
	case runmodel.StatusSuccess, runmodel.StatusFailed, runmodel.StatusTimeout, runmodel.StatusBlocked:
		return true
	default:
		return false
	}
}

func sessionToMemoryItem(sess *runmodel.RemediationSession, runID string, now time.Time) runmodel.MemoryItem {
	outcome := "failed"
	if sess.Status == runmodel.StatusSuccess {
		outcome = "success"
	}

	item := runmodel.MemoryItem{
		ItemID:      runID + "-" + sess.Finding.FindingID,
		RunID:       runID,
		FindingID:   sess.Finding.FindingID,
		Category:    sess.Finding.Category,
		ServiceName: sess.Finding.ServiceName,
		Severity:    sess.Finding.Severity,
		Outcome:     outcome,
		DataSource:  sess.DataSource,
		PRURL:       sess.PRURL,
		ErrorText:   sess.ErrorMessage,
		CreatedAt:   now,
	}

	if sess.Structured != nil {
		item.Confidence = sess.Structured.Confidence
		item.FixApproach = sess.Structured.FixApproach
		item.FilesModified = sess.Structured.FilesModified
		item.TestsPassed = sess.Structured.TestsPassed
		item.TestsAdded = sess.Structured.TestsAdded
		if item.ErrorText == "" {
			item.ErrorText = sess.Structured.ErrorMessage
		}
	}

	return item
}
