package stores

import "time"

// RunRecord is a persisted run summary.
type RunRecord struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	DryRun      bool       `json:"dry_run"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SubstepRecord is a persisted sub-step outcome belonging to a run.
type SubstepRecord struct {
	ID         int64   `json:"id"`
	RunID      string  `json:"run_id"`
	StepID     string  `json:"step_id"`
	SubstepID  string  `json:"substep_id"`
	Plugin     string  `json:"plugin"`
	State      string  `json:"state"`
	Attempts   int     `json:"attempts"`
	DurationMS int64   `json:"duration_ms"`
	Error      *string `json:"error,omitempty"`
	ErrorKind  *string `json:"error_kind,omitempty"`
	Position   int     `json:"position"`
}

// ListFilter narrows ListRuns results.
type ListFilter struct {
	// Status limits results to runs with this status. Empty matches all.
	Status string

	// Limit caps the number of returned runs. Zero means no cap.
	Limit int
}
