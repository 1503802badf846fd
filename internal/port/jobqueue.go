package port

import "github.com/bnema/webmclip/internal/domain"

type JobQueue interface {
	Enqueue(inputPath string) (*domain.QueuedJob, error)
	Claim() (*domain.QueuedJob, error)
	Complete(jobID int64, outputPath string) error
	Fail(jobID int64, errMsg string) error
	Requeue(jobID int64) error
	ResetStalled() error
	List(limit int) ([]*domain.QueuedJob, error)
}
