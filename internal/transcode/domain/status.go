package domain

import "time"

// Job status values kept for operators
const (
	StatusProcessing   = "processing"
	StatusRetrying     = "retrying"
	StatusCompleted    = "completed"
	StatusDeadLettered = "dead_lettered"
)

// JobStatus latest known state of a job
type JobStatus struct {
	VideoID   string
	Status    string
	Stage     Stage
	Attempt   int
	Error     string
	UpdatedAt time.Time
}
