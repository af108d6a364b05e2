package entity

import "time"

type RunStatus struct {
	RunID         string
	CurrentStatus string // "running", "completed", "aborted", "failed", "checkpointed"
	Stage         Stage  // last completed stage
	StartedAt     *time.Time
	FinishedAt    *time.Time
	FailureReason string
	Report        *RunReport
}
