package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/bnema/webmclip/internal/domain"
	"github.com/bnema/webmclip/internal/infrastructure/backoff"
	"github.com/bnema/webmclip/internal/infrastructure/logger"
	"github.com/bnema/webmclip/internal/infrastructure/metrics"
	"github.com/bnema/webmclip/internal/port"
)

// SessionRunner is the part of the controller the queue worker drives.
type SessionRunner interface {
	Start(ctx context.Context, inputPath string) (SessionInfo, error)
	Wait(ctx context.Context, sessionID string) (*domain.Outcome, error)
}

type WorkerOptions struct {
	PollInterval    time.Duration // first idle delay, grows up to MaxPollInterval
	MaxPollInterval time.Duration
	BusyRetry       time.Duration // delay after an interactive session held the controller
	ErrorDelay      time.Duration
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.MaxPollInterval <= 0 {
		o.MaxPollInterval = 10 * time.Second
	}
	o.MaxPollInterval = max(o.MaxPollInterval, o.PollInterval)
	if o.BusyRetry <= 0 {
		o.BusyRetry = 5 * time.Second
	}
	if o.ErrorDelay <= 0 {
		o.ErrorDelay = 2 * time.Second
	}
	return o
}

// Worker feeds queued inputs through the controller one at a time.
type Worker struct {
	jobQueue port.JobQueue
	runner   SessionRunner
	opts     WorkerOptions
	idle     *backoff.Backoff
	log      zerolog.Logger
}

func NewWorker(jobQueue port.JobQueue, runner SessionRunner, opts WorkerOptions) *Worker {
	opts = opts.withDefaults()
	return &Worker{
		jobQueue: jobQueue,
		runner:   runner,
		opts:     opts,
		idle:     backoff.New(opts.PollInterval, opts.MaxPollInterval, 2),
		log:      logger.WithComponent("worker"),
	}
}

// Run processes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	// Reset any stalled jobs from previous runs
	if err := w.jobQueue.ResetStalled(); err != nil {
		w.log.Error().Err(err).Msg("failed to reset stalled jobs")
	}
	w.log.Info().Msg("queue worker started")

	idleRounds := 0
	for {
		if ctx.Err() != nil {
			w.log.Info().Msg("queue worker shutting down")
			return nil
		}

		var delay time.Duration
		job, err := w.jobQueue.Claim()
		switch {
		case err != nil:
			w.log.Error().Err(err).Msg("failed to claim job")
			delay = w.opts.ErrorDelay
		case job == nil:
			idleRounds++
			delay = w.idle.Duration(idleRounds)
		default:
			idleRounds = 0
			delay = w.processJob(ctx, job)
		}

		if delay > 0 && !sleep(ctx, delay) {
			w.log.Info().Msg("queue worker shutting down")
			return nil
		}
	}
}

// processJob runs one claimed job and returns how long to pause before the
// next claim.
func (w *Worker) processJob(ctx context.Context, job *domain.QueuedJob) time.Duration {
	log := w.log.With().Int64("job", job.ID).Str("input", logger.SanitizePath(job.InputPath)).Logger()
	log.Info().Msg("processing job")

	info, err := w.runner.Start(ctx, job.InputPath)
	if errors.Is(err, domain.ErrAlreadyRunning) {
		log.Debug().Msg("controller busy, requeueing")
		w.requeue(log, job)
		return w.opts.BusyRetry
	}
	if err != nil {
		w.fail(log, job, err.Error())
		return 0
	}

	outcome, err := w.runner.Wait(ctx, info.ID)
	if err != nil {
		// Shutdown interrupted the wait; the job runs again on the next start.
		log.Warn().Err(err).Msg("wait for session interrupted")
		w.requeue(log, job)
		return 0
	}

	switch outcome.State {
	case domain.SessionStateCompleted:
		if err := w.jobQueue.Complete(job.ID, outcome.OutputPath); err != nil {
			log.Error().Err(err).Msg("failed to mark job done")
			return 0
		}
		metrics.QueueJobsTotal.WithLabelValues(string(domain.JobStatusDone)).Inc()
		log.Info().Str("output", logger.SanitizePath(outcome.OutputPath)).Msg("job completed")
	case domain.SessionStateCancelled:
		w.fail(log, job, "cancelled")
	default:
		w.fail(log, job, outcome.ErrorMessage)
	}
	return 0
}

func (w *Worker) fail(log zerolog.Logger, job *domain.QueuedJob, msg string) {
	log.Warn().Str("reason", msg).Msg("job failed")
	if err := w.jobQueue.Fail(job.ID, msg); err != nil {
		log.Error().Err(err).Msg("failed to mark job failed")
		return
	}
	metrics.QueueJobsTotal.WithLabelValues(string(domain.JobStatusFailed)).Inc()
}

func (w *Worker) requeue(log zerolog.Logger, job *domain.QueuedJob) {
	if err := w.jobQueue.Requeue(job.ID); err != nil {
		log.Error().Err(err).Msg("failed to requeue job")
		return
	}
	metrics.QueueJobsTotal.WithLabelValues(string(domain.JobStatusPending)).Inc()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
