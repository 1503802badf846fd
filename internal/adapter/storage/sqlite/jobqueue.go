package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/webmclip/internal/domain"
	"github.com/bnema/webmclip/internal/port"
)

type JobQueue struct {
	queries *queries
	now     func() time.Time
}

func NewJobQueue(store *Store) *JobQueue {
	return &JobQueue{
		queries: store.queries,
		now:     time.Now,
	}
}

func (q *JobQueue) Enqueue(inputPath string) (*domain.QueuedJob, error) {
	row, err := q.queries.InsertJob(context.Background(), inputPath, q.now())
	if err != nil {
		return nil, err
	}
	return jobFromRow(row), nil
}

// Claim marks the oldest pending job running. It returns nil, nil when the
// queue is empty.
func (q *JobQueue) Claim() (*domain.QueuedJob, error) {
	row, err := q.queries.ClaimNextJob(context.Background(), q.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return jobFromRow(row), nil
}

func (q *JobQueue) Complete(jobID int64, outputPath string) error {
	return mustAffect(jobID)(q.queries.CompleteJob(context.Background(), jobID, outputPath, q.now()))
}

func (q *JobQueue) Fail(jobID int64, errMsg string) error {
	return mustAffect(jobID)(q.queries.FailJob(context.Background(), jobID, errMsg, q.now()))
}

func (q *JobQueue) Requeue(jobID int64) error {
	return mustAffect(jobID)(q.queries.RequeueJob(context.Background(), jobID))
}

func (q *JobQueue) ResetStalled() error {
	_, err := q.queries.ResetStalledJobs(context.Background())
	return err
}

func (q *JobQueue) List(limit int) ([]*domain.QueuedJob, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.queries.ListJobs(context.Background(), limit)
	if err != nil {
		return nil, err
	}
	result := make([]*domain.QueuedJob, len(rows))
	for i, row := range rows {
		result[i] = jobFromRow(row)
	}
	return result, nil
}

func mustAffect(jobID int64) func(int64, error) error {
	return func(n int64, err error) error {
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("job %d: %w", jobID, domain.ErrNotFound)
		}
		return nil
	}
}

func jobFromRow(row jobRow) *domain.QueuedJob {
	return &domain.QueuedJob{
		ID:           row.ID,
		InputPath:    row.InputPath,
		OutputPath:   row.OutputPath,
		Status:       domain.JobStatus(row.Status),
		ErrorMessage: row.ErrorMessage,
		Attempts:     row.Attempts,
		CreatedAt:    row.CreatedAt,
		StartedAt:    row.StartedAt,
		CompletedAt:  row.CompletedAt,
	}
}

var _ port.JobQueue = (*JobQueue)(nil)
