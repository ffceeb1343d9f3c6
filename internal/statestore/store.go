// Package statestore implements the run engine's durable persistence layer:
// a cross-process file lock guarding atomic, temp-file-plus-rename JSON
// writes across three targets kept in sync on every mutation.
package statestore

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

// Store owns the on-disk layout for run state: one state file per run
// under RunsDir, a shared index of run summaries, and a legacy single-run
// pointer file for tooling that only ever looked at one run at a time.
type Store struct {
	RunsDir       string
	StateFilePath string
}

// New returns a Store rooted at runsDir, with legacyPointerPath kept in sync
// for backward-compatible single-run consumers.
func New(runsDir, legacyPointerPath string) *Store {
	return &Store{RunsDir: runsDir, StateFilePath: legacyPointerPath}
}

func (s *Store) runPath(runID string) string {
	return filepath.Join(s.RunsDir, runID, "state.json")
}

func (s *Store) indexPath() string {
	return filepath.Join(s.RunsDir, "index.json")
}

// RunIndex is the corruption-tolerant summary list persisted at
// <RunsDir>/index.json.
type RunIndex struct {
	Runs []runmodel.RunSummary `json:"runs"`
}

// WriteRunState persists run under lock to three targets, in order:
// (1) its own state file, (2) the shared run index (upserted by RunID),
// and (3) the legacy single-run pointer. All three complete, or none of
// the later ones run — callers observe either the full write or the
// previous consistent state for that target.
func (s *Store) WriteRunState(ctx context.Context, run *runmodel.BatchRun) error {
	lock := NewFileLock(s.runPath(run.RunID))
	if err := lock.Acquire(ctx); err != nil {
		return fmt.Errorf("statestore: acquire lock for run %s: %w", run.RunID, err)
	}
	defer lock.Release()

	if err := WriteJSONAtomic(s.runPath(run.RunID), run); err != nil {
		return err
	}
	if err := s.upsertRunIndexLocked(ctx, run); err != nil {
		return err
	}
	return s.writeLegacyPointerLocked(run)
}

// ReadRunState loads one run's state file.
func (s *Store) ReadRunState(runID string) (*runmodel.BatchRun, error) {
	var run runmodel.BatchRun
	if err := ReadJSON(s.runPath(runID), &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ReadRunIndex loads the shared run summary index, returning an empty index
// if it has never been written.
func (s *Store) ReadRunIndex() (*RunIndex, error) {
	var idx RunIndex
	if err := ReadJSON(s.indexPath(), &idx); err != nil {
		return &RunIndex{}, nil //nolint:nilerr // absent index means no runs yet
	}
	return &idx, nil
}

// upsertRunIndexLocked updates or appends run's summary row. Caller must
// already hold the per-run lock; the index itself is guarded by its own
// lock since multiple runs can update it concurrently.
func (s *Store) upsertRunIndexLocked(ctx context.Context, run *runmodel.BatchRun) error {
	idxLock := NewFileLock(s.indexPath())
	if err := idxLock.Acquire(ctx); err != nil {
		return fmt.Errorf("statestore: acquire index lock: %w", err)
	}
	defer idxLock.Release()

	idx, err := s.ReadRunIndex()
	if err != nil {
		return err
	}

	summary := runmodel.RunSummary{
		RunID:          run.RunID,
		StartedAt:      run.StartedAt,
		Status:         run.Status,
		TotalFindings:  run.TotalFindings,
		SourceFilename: run.SourceFilename,
		DataSource:     run.DataSource,
	}

	found := false
	for i := range idx.Runs {
		if idx.Runs[i].RunID == run.RunID {
			idx.Runs[i] = summary
			found = true
			break
		}
	}
	if !found {
		idx.Runs = append(idx.Runs, summary)
	}

	return WriteJSONAtomic(s.indexPath(), idx)
}

// writeLegacyPointerLocked rewrites the single-run pointer file to mirror
// the most recently written run, for tooling built before multi-run support.
func (s *Store) writeLegacyPointerLocked(run *runmodel.BatchRun) error {
	if s.StateFilePath == "" {
		return nil
	}
	return WriteJSONAtomic(s.StateFilePath, run)
}
