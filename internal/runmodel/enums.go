// Package runmodel defines the shared aggregate types for the remediation
// run engine: findings, sessions, waves, batch runs, and their enumerations.
package runmodel

// Category is a scanner finding category.
type Category string

const (
	CategorySQLInjection           Category = "sql_injection"
	CategoryHardcodedSecret        Category = "hardcoded_secret"
	CategoryDependencyVulnerability Category = "dependency_vulnerability"
	CategoryPIILogging             Category = "pii_logging"
	CategoryMissingEncryption      Category = "missing_encryption"
	CategoryXSS                    Category = "xss"
	CategoryPathTraversal          Category = "path_traversal"
	CategoryAccessLogging          Category = "access_logging"
	CategoryOther                  Category = "other"
)

// ValidCategories enumerates every accepted category value.
var ValidCategories = map[Category]bool{
	CategorySQLInjection:            true,
	CategoryHardcodedSecret:         true,
	CategoryDependencyVulnerability: true,
	CategoryPIILogging:              true,
	CategoryMissingEncryption:       true,
	CategoryXSS:                     true,
	CategoryPathTraversal:           true,
	CategoryAccessLogging:           true,
	CategoryOther:                   true,
}

// Severity is a scanner finding severity.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ValidSeverities enumerates every accepted severity value.
var ValidSeverities = map[Severity]bool{
	SeverityCritical: true,
	SeverityHigh:     true,
	SeverityMedium:   true,
	SeverityLow:      true,
}

// severityRank orders severities for dedup collision resolution; higher wins.
var severityRank = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
}

// Outranks reports whether s is strictly higher severity than other.
func (s Severity) Outranks(other Severity) bool {
	return severityRank[s] > severityRank[other]
}

// SessionStatus is the internal remediation session lifecycle state.
type SessionStatus string

const (
	StatusPending    SessionStatus = "PENDING"
	StatusDispatched SessionStatus = "DISPATCHED"
	StatusWorking    SessionStatus = "WORKING"
	StatusBlocked    SessionStatus = "BLOCKED"
	StatusSuccess    SessionStatus = "SUCCESS"
	StatusFailed     SessionStatus = "FAILED"
	StatusTimeout    SessionStatus = "TIMEOUT"
)

// Terminal reports whether the status is one of the scheduler's terminal
// states. BLOCKED is deliberately excluded: it is observable but transient,
// promoted to FAILED only once the session's timeout elapses.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusTimeout:
		return true
	default:
		return false
	}
}

// Active reports whether a session in this status still occupies a
// concurrency slot and should be polled.
func (s SessionStatus) Active() bool {
	switch s {
	case StatusDispatched, StatusWorking, StatusBlocked:
		return true
	default:
		return false
	}
}

// Retriable reports whether a session in this status is eligible for retry.
func (s SessionStatus) Retriable() bool {
	return s == StatusFailed || s == StatusTimeout
}

// RunStatus is the BatchRun's top-level status.
type RunStatus string

const (
	RunPending     RunStatus = "pending"
	RunRunning     RunStatus = "running"
	RunCompleted   RunStatus = "completed"
	RunPaused      RunStatus = "paused"
	RunInterrupted RunStatus = "interrupted"
)

// DataSource selects which agent backend handles a session.
type DataSource string

const (
	DataSourceLive   DataSource = "live"
	DataSourceMock   DataSource = "mock"
	DataSourceHybrid DataSource = "hybrid"
)

// ReviewStatus is the human-reviewer verdict recorded on a session.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// StructuredStatus is the status field inside a session's structured output.
type StructuredStatus string

const (
	StructuredAnalyzing  StructuredStatus = "analyzing"
	StructuredFixing     StructuredStatus = "fixing"
	StructuredTesting    StructuredStatus = "testing"
	StructuredCreatingPR StructuredStatus = "creating_pr"
	StructuredCompleted  StructuredStatus = "completed"
	StructuredFailed     StructuredStatus = "failed"
)

// Confidence is the session's self-reported confidence in its fix.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// EventKind enumerates the timeline event types the scheduler/tracker emit.
type EventKind string

const (
	EventRunStarted      EventKind = "run_started"
	EventWaveStarted     EventKind = "wave_started"
	EventSessionStarted  EventKind = "session_started"
	EventSessionProgress EventKind = "session_progress"
	EventSessionComplete EventKind = "session_completed"
	EventSessionFailed   EventKind = "session_failed"
	EventSessionRetry    EventKind = "session_retry"
	EventWaveCompleted   EventKind = "wave_completed"
	EventWaveGated       EventKind = "wave_gated"
	EventRunCompleted    EventKind = "run_completed"
	EventReviewApproved  EventKind = "review_approved"
	EventReviewRejected  EventKind = "review_rejected"
)

// BackendStatusEnum is the status vocabulary accepted from an agent backend.
type BackendStatusEnum string

const (
	BackendWorking          BackendStatusEnum = "working"
	BackendBlocked          BackendStatusEnum = "blocked"
	BackendExpired          BackendStatusEnum = "expired"
	BackendFinished         BackendStatusEnum = "finished"
	BackendSuspendRequested BackendStatusEnum = "suspend_requested"
	BackendResumeRequested  BackendStatusEnum = "resume_requested"
	BackendResumed          BackendStatusEnum = "resumed"
)
