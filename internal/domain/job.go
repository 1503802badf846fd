package domain

import (
	"database/sql"
	"time"
)

type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// QueuedJob is one input waiting in the batch queue.
type QueuedJob struct {
	ID           int64
	InputPath    string
	OutputPath   string
	Status       JobStatus
	ErrorMessage string
	Attempts     int64
	CreatedAt    time.Time
	StartedAt    sql.NullTime
	CompletedAt  sql.NullTime
}
