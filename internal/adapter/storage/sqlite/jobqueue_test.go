package sqlite

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/webmclip/internal/domain"
)

func TestJobQueue_EnqueueAndClaimFIFO(t *testing.T) {
	q := NewJobQueue(newTestStore(t))

	first, err := q.Enqueue("/in/a.mp4")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, first.Status)
	assert.False(t, first.CreatedAt.IsZero())
	assert.False(t, first.StartedAt.Valid)

	_, err = q.Enqueue("/in/b.mp4")
	require.NoError(t, err)

	job, err := q.Claim()
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, first.ID, job.ID)
	assert.Equal(t, domain.JobStatusRunning, job.Status)
	assert.Equal(t, int64(1), job.Attempts)
	assert.True(t, job.StartedAt.Valid)

	job, err = q.Claim()
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "/in/b.mp4", job.InputPath)

	job, err = q.Claim()
	require.NoError(t, err)
	assert.Nil(t, job, "queue drained")
}

func TestJobQueue_CompleteAndFail(t *testing.T) {
	q := NewJobQueue(newTestStore(t))
	a, _ := q.Enqueue("/in/a.mp4")
	b, _ := q.Enqueue("/in/b.mp4")
	_, _ = q.Claim()
	_, _ = q.Claim()

	require.NoError(t, q.Complete(a.ID, "/in/a.webm"))
	require.NoError(t, q.Fail(b.ID, "no video stream"))

	jobs, err := q.List(0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	// Newest first.
	assert.Equal(t, b.ID, jobs[0].ID)
	assert.Equal(t, domain.JobStatusFailed, jobs[0].Status)
	assert.Equal(t, "no video stream", jobs[0].ErrorMessage)
	assert.True(t, jobs[0].CompletedAt.Valid)

	assert.Equal(t, domain.JobStatusDone, jobs[1].Status)
	assert.Equal(t, "/in/a.webm", jobs[1].OutputPath)
}

func TestJobQueue_RequeueRunsAgain(t *testing.T) {
	q := NewJobQueue(newTestStore(t))
	a, _ := q.Enqueue("/in/a.mp4")
	_, _ = q.Claim()

	require.NoError(t, q.Requeue(a.ID))

	job, err := q.Claim()
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, a.ID, job.ID)
	assert.Equal(t, int64(2), job.Attempts)
}

func TestJobQueue_ResetStalled(t *testing.T) {
	q := NewJobQueue(newTestStore(t))
	_, _ = q.Enqueue("/in/a.mp4")
	_, _ = q.Enqueue("/in/b.mp4")
	_, _ = q.Claim()

	require.NoError(t, q.ResetStalled())

	jobs, err := q.List(0)
	require.NoError(t, err)
	for _, j := range jobs {
		assert.Equal(t, domain.JobStatusPending, j.Status, "job %d", j.ID)
	}
}

func TestJobQueue_UnknownJob(t *testing.T) {
	q := NewJobQueue(newTestStore(t))
	assert.True(t, errors.Is(q.Complete(99, "/x.webm"), domain.ErrNotFound))
	assert.True(t, errors.Is(q.Fail(99, "boom"), domain.ErrNotFound))
	assert.True(t, errors.Is(q.Requeue(99), domain.ErrNotFound))
}

func TestJobQueue_ListLimit(t *testing.T) {
	q := NewJobQueue(newTestStore(t))
	for range 5 {
		_, err := q.Enqueue("/in/a.mp4")
		require.NoError(t, err)
	}
	jobs, err := q.List(3)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}

func TestJobQueue_ConcurrentClaimsNeverShareAJob(t *testing.T) {
	q := NewJobQueue(newTestStore(t))
	const n = 20
	for range n {
		_, err := q.Enqueue("/in/a.mp4")
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = map[int64]int{}
		wg   sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.Claim()
				if err != nil || job == nil {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equal(t, 1, count, "job %d claimed twice", id)
	}
}
