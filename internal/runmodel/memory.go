package runmodel

import "time"

// MemoryRelationType names a directed relationship edge in the memory graph.
type MemoryRelationType string

const (
	RelationSameCategory MemoryRelationType = "same_category"
	RelationSameService  MemoryRelationType = "same_service"
)

// MemoryRelationship links one memory item to another.
type MemoryRelationship struct {
	TargetID string              `json:"target_id"`
	Relation MemoryRelationType  `json:"relation_type"`
}

// MemoryGraphEntry is the metadata-only index row stored in graph.json.
type MemoryGraphEntry struct {
	ItemID        string                `json:"item_id"`
	Category      Category              `json:"category"`
	ServiceName   string                `json:"service_name"`
	Severity      Severity              `json:"severity"`
	Outcome       string                `json:"outcome"`
	Confidence    Confidence            `json:"confidence,omitempty"`
	DataSource    DataSource            `json:"data_source"`
	CreatedAt     time.Time             `json:"created_at"`
	Relationships []MemoryRelationship  `json:"relationships,omitempty"`
}

// MemoryGraph is the corruption-tolerant metadata index over memory items.
type MemoryGraph struct {
	Version int                `json:"version"`
	Entries []MemoryGraphEntry `json:"entries"`
}

// MemoryItem is the full narrative document extracted from one terminal
// session. Id = "{run_id}-{finding_id}".
type MemoryItem struct {
	ItemID        string     `json:"item_id"`
	RunID         string     `json:"run_id"`
	FindingID     string     `json:"finding_id"`
	Category      Category   `json:"category"`
	ServiceName   string     `json:"service_name"`
	Severity      Severity   `json:"severity"`
	Outcome       string     `json:"outcome"` // "success" | "failed"
	Confidence    Confidence `json:"confidence,omitempty"`
	DataSource    DataSource `json:"data_source"`
	FixApproach   string     `json:"fix_approach,omitempty"`
	FilesModified []string   `json:"files_modified,omitempty"`
	TestsPassed   *bool      `json:"tests_passed,omitempty"`
	TestsAdded    int        `json:"tests_added"`
	PRURL         string     `json:"pr_url,omitempty"`
	ErrorText     string     `json:"error_text,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// RankedMemoryItem pairs a memory item with its retrieval score and a
// human-readable source citation.
type RankedMemoryItem struct {
	Item       MemoryItem
	Score      float64
	SourceNote string
}
