package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/webmclip/internal/domain"
)

type memQueue struct {
	mu         sync.Mutex
	jobs       []*domain.QueuedJob
	resetCalls int
}

func (q *memQueue) Enqueue(inputPath string) (*domain.QueuedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job := &domain.QueuedJob{
		ID:        int64(len(q.jobs) + 1),
		InputPath: inputPath,
		Status:    domain.JobStatusPending,
		CreatedAt: time.Now(),
	}
	q.jobs = append(q.jobs, job)
	return job, nil
}

func (q *memQueue) Claim() (*domain.QueuedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range q.jobs {
		if job.Status == domain.JobStatusPending {
			job.Status = domain.JobStatusRunning
			job.Attempts++
			cp := *job
			return &cp, nil
		}
	}
	return nil, nil
}

func (q *memQueue) set(id int64, fn func(*domain.QueuedJob)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, job := range q.jobs {
		if job.ID == id {
			fn(job)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (q *memQueue) Complete(id int64, outputPath string) error {
	return q.set(id, func(j *domain.QueuedJob) {
		j.Status = domain.JobStatusDone
		j.OutputPath = outputPath
	})
}

func (q *memQueue) Fail(id int64, msg string) error {
	return q.set(id, func(j *domain.QueuedJob) {
		j.Status = domain.JobStatusFailed
		j.ErrorMessage = msg
	})
}

func (q *memQueue) Requeue(id int64) error {
	return q.set(id, func(j *domain.QueuedJob) { j.Status = domain.JobStatusPending })
}

func (q *memQueue) ResetStalled() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.resetCalls++
	for _, job := range q.jobs {
		if job.Status == domain.JobStatusRunning {
			job.Status = domain.JobStatusPending
		}
	}
	return nil
}

func (q *memQueue) List(limit int) ([]*domain.QueuedJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*domain.QueuedJob, 0, len(q.jobs))
	for _, job := range q.jobs {
		cp := *job
		out = append(out, &cp)
	}
	return out, nil
}

func (q *memQueue) get(id int64) domain.QueuedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return *q.jobs[id-1]
}

type fakeRunner struct {
	mu      sync.Mutex
	startFn func(path string) (SessionInfo, error)
	waitFn  func(ctx context.Context, id string) (*domain.Outcome, error)
	started []string
}

func (r *fakeRunner) Start(_ context.Context, path string) (SessionInfo, error) {
	r.mu.Lock()
	r.started = append(r.started, path)
	fn := r.startFn
	r.mu.Unlock()
	return fn(path)
}

func (r *fakeRunner) Wait(ctx context.Context, id string) (*domain.Outcome, error) {
	return r.waitFn(ctx, id)
}

func (r *fakeRunner) startedPaths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.started...)
}

var fastWorker = WorkerOptions{
	PollInterval:    time.Millisecond,
	MaxPollInterval: 5 * time.Millisecond,
	BusyRetry:       time.Millisecond,
	ErrorDelay:      time.Millisecond,
}

func runWorker(t *testing.T, w *Worker) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
}

func TestWorker_ProcessesJobsInOrder(t *testing.T) {
	q := &memQueue{}
	_, _ = q.Enqueue("/inbox/a.mp4")
	_, _ = q.Enqueue("/inbox/b.gif")

	runner := &fakeRunner{
		startFn: func(path string) (SessionInfo, error) {
			return SessionInfo{ID: path}, nil
		},
		waitFn: func(_ context.Context, id string) (*domain.Outcome, error) {
			if id == "/inbox/b.gif" {
				return &domain.Outcome{State: domain.SessionStateFailed, ErrorMessage: "unsupported input: no video stream found"}, nil
			}
			return &domain.Outcome{State: domain.SessionStateCompleted, OutputPath: "/inbox/a.webm"}, nil
		},
	}

	stop := runWorker(t, NewWorker(q, runner, fastWorker))
	require.Eventually(t, func() bool {
		return q.get(2).Status == domain.JobStatusFailed
	}, 2*time.Second, time.Millisecond)
	stop()

	a := q.get(1)
	assert.Equal(t, domain.JobStatusDone, a.Status)
	assert.Equal(t, "/inbox/a.webm", a.OutputPath)

	b := q.get(2)
	assert.Equal(t, "unsupported input: no video stream found", b.ErrorMessage)

	assert.Equal(t, []string{"/inbox/a.mp4", "/inbox/b.gif"}, runner.startedPaths())
	assert.Equal(t, 1, q.resetCalls)
}

func TestWorker_RequeuesWhileControllerBusy(t *testing.T) {
	q := &memQueue{}
	_, _ = q.Enqueue("/inbox/a.mp4")

	var calls int
	runner := &fakeRunner{
		startFn: func(path string) (SessionInfo, error) {
			calls++
			if calls < 3 {
				return SessionInfo{}, domain.ErrAlreadyRunning
			}
			return SessionInfo{ID: "s"}, nil
		},
		waitFn: func(context.Context, string) (*domain.Outcome, error) {
			return &domain.Outcome{State: domain.SessionStateCompleted, OutputPath: "/inbox/a.webm"}, nil
		},
	}

	stop := runWorker(t, NewWorker(q, runner, fastWorker))
	require.Eventually(t, func() bool {
		return q.get(1).Status == domain.JobStatusDone
	}, 2*time.Second, time.Millisecond)
	stop()

	assert.Equal(t, int64(3), q.get(1).Attempts)
}

func TestWorker_StartErrorFailsJob(t *testing.T) {
	q := &memQueue{}
	_, _ = q.Enqueue("/inbox/notes.txt")

	runner := &fakeRunner{
		startFn: func(string) (SessionInfo, error) {
			return SessionInfo{}, domain.ErrInvalidInputExtension
		},
	}

	stop := runWorker(t, NewWorker(q, runner, fastWorker))
	require.Eventually(t, func() bool {
		return q.get(1).Status == domain.JobStatusFailed
	}, 2*time.Second, time.Millisecond)
	stop()

	assert.Equal(t, domain.ErrInvalidInputExtension.Error(), q.get(1).ErrorMessage)
}

func TestWorker_ShutdownRequeuesInterruptedJob(t *testing.T) {
	q := &memQueue{}
	_, _ = q.Enqueue("/inbox/long.mp4")

	waiting := make(chan struct{})
	runner := &fakeRunner{
		startFn: func(string) (SessionInfo, error) { return SessionInfo{ID: "s"}, nil },
		waitFn: func(ctx context.Context, _ string) (*domain.Outcome, error) {
			close(waiting)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	stop := runWorker(t, NewWorker(q, runner, fastWorker))
	<-waiting
	stop()

	assert.Equal(t, domain.JobStatusPending, q.get(1).Status)
}

func TestWorker_ResetsStalledJobs(t *testing.T) {
	q := &memQueue{}
	_, _ = q.Enqueue("/inbox/a.mp4")
	q.jobs[0].Status = domain.JobStatusRunning

	runner := &fakeRunner{
		startFn: func(string) (SessionInfo, error) { return SessionInfo{ID: "s"}, nil },
		waitFn: func(context.Context, string) (*domain.Outcome, error) {
			return &domain.Outcome{State: domain.SessionStateCancelled}, nil
		},
	}

	stop := runWorker(t, NewWorker(q, runner, fastWorker))
	require.Eventually(t, func() bool {
		return q.get(1).Status == domain.JobStatusFailed
	}, 2*time.Second, time.Millisecond)
	stop()

	assert.Equal(t, "cancelled", q.get(1).ErrorMessage)
}

func TestWorker_DrivesController(t *testing.T) {
	h := newHarness(t)
	h.engine.autoEnd = true

	q := &memQueue{}
	_, _ = q.Enqueue("/inbox/a.mp4")
	_, _ = q.Enqueue("/inbox/b.txt")
	_, _ = q.Enqueue("/inbox/c.gif")

	stop := runWorker(t, NewWorker(q, h.ctrl, fastWorker))
	require.Eventually(t, func() bool {
		return q.get(3).Status == domain.JobStatusDone
	}, 2*time.Second, time.Millisecond)
	stop()

	assert.Equal(t, "/inbox/a.webm", q.get(1).OutputPath)
	assert.Equal(t, domain.JobStatusFailed, q.get(2).Status)
	assert.Contains(t, q.get(2).ErrorMessage, domain.ErrInvalidInputExtension.Error())
	assert.Equal(t, "/inbox/c.webm", q.get(3).OutputPath)
}

func TestWorkerOptions_Defaults(t *testing.T) {
	o := WorkerOptions{PollInterval: 30 * time.Second}.withDefaults()
	assert.Equal(t, 30*time.Second, o.PollInterval)
	assert.Equal(t, 30*time.Second, o.MaxPollInterval)
	assert.Equal(t, 5*time.Second, o.BusyRetry)
	assert.Equal(t, 2*time.Second, o.ErrorDelay)
}
