// Package archive is an optional durable archive of completed batch runs,
// for deployments that want longer-than-filesystem retention than the
// mandated runs/<run_id>/state.json layout provides on its own. It is a
// side-table, never the system of record: the filesystem layout in
// internal/statestore remains authoritative for an in-flight or recently
// completed run.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/antinvestor/remediation-run-engine/internal/runmodel"
)

// RunRecord is the archived row for one BatchRun, indexed on the columns
// an operator dashboard would filter on, with the full run serialized
// into Payload for anything not worth its own column.
type RunRecord struct {
	RunID          string `gorm:"primaryKey;size:32"`
	StartedAt      time.Time
	Status         string `gorm:"size:16;index"`
	DataSource     string `gorm:"size:16"`
	TotalFindings  int
	Successful     int
	Failed         int
	PRsCreated     int
	SourceFilename string
	Payload        []byte
	ArchivedAt     time.Time
}

// Archive wraps a gorm.DB with the one table this package owns. Callers
// supply their own dialector (postgres, sqlite, whatever the deployment
// has available) — this package has no opinion on which database backs
// it.
type Archive struct {
	db *gorm.DB
}

// Open migrates RunRecord's table on db and returns an Archive over it.
func Open(db *gorm.DB) (*Archive, error) {
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("archive: migrate run_records: %w", err)
	}
	return &Archive{db: db}, nil
}

// SaveRun upserts run's archive row. Intended to be called once, after a
// run reaches a terminal BatchRun status (completed, paused, or
// interrupted) — archiving an in-flight run is harmless but pointless,
// since the row would immediately be stale.
func (a *Archive) SaveRun(ctx context.Context, run *runmodel.BatchRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("archive: marshal run %s: %w", run.RunID, err)
	}

	record := RunRecord{
		RunID:          run.RunID,
		StartedAt:      run.StartedAt,
		Status:         string(run.Status),
		DataSource:     string(run.DataSource),
		TotalFindings:  run.TotalFindings,
		Successful:     run.Successful,
		Failed:         run.Failed,
		PRsCreated:     run.PRsCreated,
		SourceFilename: run.SourceFilename,
		Payload:        payload,
		ArchivedAt:     time.Now().UTC(),
	}

	result := a.db.WithContext(ctx).Save(&record)
	if result.Error != nil {
		return fmt.Errorf("archive: save run %s: %w", run.RunID, result.Error)
	}
	return nil
}

// LoadRun fetches one archived run by id and unmarshals its payload back
// into a BatchRun.
func (a *Archive) LoadRun(ctx context.Context, runID string) (*runmodel.BatchRun, error) {
	var record RunRecord
	if err := a.db.WithContext(ctx).First(&record, "run_id = ?", runID).Error; err != nil {
		return nil, fmt.Errorf("archive: load run %s: %w", runID, err)
	}

	var run runmodel.BatchRun
	if err := json.Unmarshal(record.Payload, &run); err != nil {
		return nil, fmt.Errorf("archive: unmarshal run %s: %w", runID, err)
	}
	return &run, nil
}

// ListRuns returns archive rows ordered most-recent-first, for an
// operator dashboard listing older runs than the filesystem's
// runs/index.json retains.
func (a *Archive) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	var records []RunRecord
	if err := a.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("archive: list runs: %w", err)
	}
	return records, nil
}
