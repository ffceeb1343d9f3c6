package runmodel

import "time"

// Finding is an immutable input record produced by the ingest collaborator.
// The core never mutates a Finding after it is built.
type Finding struct {
	FindingID         string   `json:"finding_id"`
	Scanner           string   `json:"scanner"`
	Category          Category `json:"category"`
	Severity          Severity `json:"severity"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	ServiceName       string   `json:"service_name"`
	RepoURL           string   `json:"repo_url"`
	FilePath          string   `json:"file_path"`
	LineNumber        *int     `json:"line_number,omitempty"`
	CWEID             string   `json:"cwe_id,omitempty"`
	DependencyName    string   `json:"dependency_name,omitempty"`
	CurrentVersion    string   `json:"current_version,omitempty"`
	FixedVersion      string   `json:"fixed_version,omitempty"`
	Language          string   `json:"language,omitempty"`
	PriorityScore     float64  `json:"priority_score"`
}

// StructuredOutput is the rolling status document a session reports. Only
// the documented keys are interpreted; everything else in a raw payload is
// preserved verbatim in Extra for forward compatibility with playbooks that
// emit additional fields.
type StructuredOutput struct {
	FindingID     string           `json:"finding_id"`
	Status        StructuredStatus `json:"status"`
	ProgressPct   int              `json:"progress_pct"`
	CurrentStep   string           `json:"current_step"`
	FixApproach   string           `json:"fix_approach,omitempty"`
	FilesModified []string         `json:"files_modified,omitempty"`
	TestsPassed   *bool            `json:"tests_passed,omitempty"`
	TestsAdded    int              `json:"tests_added"`
	PRURL         string           `json:"pr_url,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	Confidence    Confidence       `json:"confidence,omitempty"`
	Extra         map[string]any   `json:"extra,omitempty"`
}

// RemediationSession is the mutable state for one (finding, attempt) pair.
type RemediationSession struct {
	SessionID    string         `json:"session_id,omitempty"`
	BackendURL   string         `json:"backend_url,omitempty"`
	Finding      Finding        `json:"finding"`
	PlaybookID   string         `json:"playbook_id,omitempty"`
	Status       SessionStatus  `json:"status"`
	PRURL        string         `json:"pr_url,omitempty"`
	Structured   *StructuredOutput `json:"structured_output,omitempty"`
	WaveNumber   int            `json:"wave_number"`
	Attempt      int            `json:"attempt"`
	Tags         []string       `json:"tags,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	DataSource   DataSource     `json:"data_source"`
	Version      int            `json:"version"`
	NudgeSent    bool           `json:"nudge_sent,omitempty"`

	ReviewStatus ReviewStatus `json:"review_status,omitempty"`
	ReviewedBy   string       `json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time   `json:"reviewed_at,omitempty"`
	ReviewReason string       `json:"review_reason,omitempty"`
}

// ResetForRetry clears session-specific outcome fields and bumps the attempt
// counter, in preparation for re-dispatch under a fresh idempotency key.
func (s *RemediationSession) ResetForRetry() {
	s.Status = StatusPending
	s.SessionID = ""
	s.BackendURL = ""
	s.ErrorMessage = ""
	s.CompletedAt = nil
	s.PRURL = ""
	s.Structured = nil
	s.NudgeSent = false
	s.Attempt++
	s.Version++
}

// Wave is an ordered group of sessions dispatched and gated together.
type Wave struct {
	WaveNumber int                   `json:"wave_number"`
	Status     string                `json:"status"`
	Sessions   []*RemediationSession `json:"sessions"`
}

// TotalCount returns the number of sessions in the wave. A retry reuses its
// session entry in place, so a retried finding still counts once.
func (w *Wave) TotalCount() int { return len(w.Sessions) }

// SuccessCount recounts successful sessions from ground truth.
func (w *Wave) SuccessCount() int {
	n := 0
	for _, s := range w.Sessions {
		if s.Status == StatusSuccess {
			n++
		}
	}
	return n
}

// FailureCount recounts failed/timed-out sessions from ground truth.
func (w *Wave) FailureCount() int {
	n := 0
	for _, s := range w.Sessions {
		if s.Status == StatusFailed || s.Status == StatusTimeout {
			n++
		}
	}
	return n
}

// TimelineEvent is an append-only record in a BatchRun's event log.
type TimelineEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Kind      EventKind      `json:"event_type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// BatchRun is the root aggregate for one spawn of the engine.
type BatchRun struct {
	RunID          string          `json:"run_id"`
	StartedAt      time.Time       `json:"started_at"`
	Waves          []*Wave         `json:"waves"`
	TotalFindings  int             `json:"total_findings"`
	Completed      int             `json:"completed"`
	Successful     int             `json:"successful"`
	Failed         int             `json:"failed"`
	PRsCreated     int             `json:"prs_created"`
	Status         RunStatus       `json:"status"`
	DataSource     DataSource      `json:"data_source"`
	SourceFilename string          `json:"source_filename,omitempty"`
	Events         []TimelineEvent `json:"events"`
}

// Recount recomputes every rolling counter from the wave/session ground
// truth. Never increment counters directly; always call this after a
// session mutation.
func (b *BatchRun) Recount() {
	completed, successful, failed, prs := 0, 0, 0, 0
	for _, w := range b.Waves {
		for _, s := range w.Sessions {
			if s.Status.Terminal() {
				completed++
				switch s.Status {
				case StatusSuccess:
					successful++
				case StatusFailed, StatusTimeout:
					failed++
				}
			}
			if s.PRURL != "" {
				prs++
			}
		}
	}
	b.Completed = completed
	b.Successful = successful
	b.Failed = failed
	b.PRsCreated = prs
}

// CurrentWave returns the highest wave number with any non-pending session,
// or 0 if every session across every wave is still PENDING.
func (b *BatchRun) CurrentWave() int {
	current := 0
	for _, w := range b.Waves {
		for _, s := range w.Sessions {
			if s.Status != StatusPending {
				current = w.WaveNumber
			}
		}
	}
	return current
}

// AddEvent appends a timeline event in observation order.
func (b *BatchRun) AddEvent(kind EventKind, message string, details map[string]any) {
	b.Events = append(b.Events, TimelineEvent{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Message:   message,
		Details:   details,
	})
}

// RunSummary is one row of the runs index.
type RunSummary struct {
	RunID          string     `json:"run_id"`
	StartedAt      time.Time  `json:"started_at"`
	Status         RunStatus  `json:"status"`
	TotalFindings  int        `json:"total_findings"`
	SourceFilename string     `json:"source_filename,omitempty"`
	DataSource     DataSource `json:"data_source"`
}

// BootstrapMarker is the lifecycle marker written by the upload handler
// before the supervisor process has taken over state ownership.
type BootstrapMarker struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid,omitempty"`
	Error     string    `json:"error,omitempty"`
}
