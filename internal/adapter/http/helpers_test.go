package http

import (
	"context"
	"sync"
	"time"

	"github.com/bnema/webmclip/internal/domain"
	"github.com/bnema/webmclip/internal/service"
)

type stubController struct {
	mu        sync.Mutex
	startErr  error
	info      service.SessionInfo
	status    service.Status
	policy    domain.Policy
	started   []string
	cancelled int
	cancelErr error
}

func newStubController() *stubController {
	return &stubController{
		policy: domain.DefaultPolicy(),
		status: service.Status{State: domain.SessionStateIdle},
	}
}

func (c *stubController) Start(_ context.Context, path string) (service.SessionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = append(c.started, path)
	if c.startErr != nil {
		return service.SessionInfo{}, c.startErr
	}
	info := c.info
	info.InputPath = path
	info.OutputPath = domain.OutputPathFor(path, c.policy.OutputExtension)
	return info, nil
}

func (c *stubController) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled++
	return c.cancelErr
}

func (c *stubController) Status() service.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *stubController) setStatus(st service.Status) {
	c.mu.Lock()
	c.status = st
	c.mu.Unlock()
}

func (c *stubController) Policy() domain.Policy {
	return c.policy.Clone()
}

type memHistory struct {
	mu       sync.Mutex
	outcomes []*domain.Outcome
}

func (h *memHistory) SaveOutcome(o *domain.Outcome) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcomes = append(h.outcomes, o)
	return nil
}

func (h *memHistory) GetOutcome(id string) (*domain.Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, o := range h.outcomes {
		if o.SessionID == id {
			return o, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (h *memHistory) ListOutcomes(limit int) ([]*domain.Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*domain.Outcome, 0, len(h.outcomes))
	for i := len(h.outcomes) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.outcomes[i])
	}
	return out, nil
}

type memQueue struct {
	mu   sync.Mutex
	jobs []*domain.QueuedJob
}

func (q *memQueue) Enqueue(path string) (*domain.QueuedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job := &domain.QueuedJob{
		ID:        int64(len(q.jobs) + 1),
		InputPath: path,
		Status:    domain.JobStatusPending,
		CreatedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	q.jobs = append(q.jobs, job)
	return job, nil
}

func (q *memQueue) Claim() (*domain.QueuedJob, error) { return nil, nil }
func (q *memQueue) Complete(int64, string) error { return nil }
func (q *memQueue) Fail(int64, string) error { return nil }
func (q *memQueue) Requeue(int64) error { return nil }
func (q *memQueue) ResetStalled() error { return nil }

func (q *memQueue) List(limit int) ([]*domain.QueuedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit > len(q.jobs) {
		limit = len(q.jobs)
	}
	return append([]*domain.QueuedJob(nil), q.jobs[:limit]...), nil
}

func acceptAll(string) (string, error) { return "video/mp4", nil }
