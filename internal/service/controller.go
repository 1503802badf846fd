package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bnema/webmclip/internal/domain"
	"github.com/bnema/webmclip/internal/infrastructure/logger"
	"github.com/bnema/webmclip/internal/infrastructure/metrics"
	"github.com/bnema/webmclip/internal/port"
)

var ErrControllerClosed = errors.New("controller is shutting down")

// SessionInfo identifies an accepted session.
type SessionInfo struct {
	ID         string              `json:"id"`
	State      domain.SessionState `json:"state"`
	InputPath  string              `json:"input_path"`
	OutputPath string              `json:"output_path"`
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	State       domain.SessionState     `json:"state"`
	SessionID   string                  `json:"session_id,omitempty"`
	Progress    float64                 `json:"progress"`
	Input       domain.InputDescriptor  `json:"input"`
	Output      domain.OutputDescriptor `json:"output"`
	LastOutcome *domain.Outcome         `json:"last_outcome,omitempty"`
}

type session struct {
	id        string
	state     domain.SessionState
	input     domain.InputDescriptor
	output    domain.OutputDescriptor
	job       *domain.TranscodeJob
	proc      port.EngineProcess
	progress  float64
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	outcome   *domain.Outcome
}

func (s *session) info() SessionInfo {
	return SessionInfo{
		ID:         s.id,
		State:      s.state,
		InputPath:  s.input.Path,
		OutputPath: s.output.Path,
	}
}

// Controller owns at most one transcode session. Engine events are
// serialized through mu; events carrying a superseded session id are dropped.
type Controller struct {
	policy  domain.Policy
	engine  port.TranscodeEngine
	history port.HistoryStore
	bus     EventPublisher
	log     zerolog.Logger
	now     func() time.Time

	mu     sync.Mutex
	cur    *session
	last   *domain.Outcome
	closed bool
	wg     sync.WaitGroup
}

// NewController wires a controller. history and bus may be nil.
func NewController(policy domain.Policy, engine port.TranscodeEngine, history port.HistoryStore, bus EventPublisher) *Controller {
	return &Controller{
		policy:  policy.Clone(),
		engine:  engine,
		history: history,
		bus:     bus,
		log:     logger.WithComponent("controller"),
		now:     time.Now,
	}
}

func (c *Controller) Policy() domain.Policy {
	return c.policy.Clone()
}

// Start accepts inputPath and begins probing it in the background. It fails
// with ErrAlreadyRunning while another session is active and with
// ErrInvalidInputExtension for inputs the policy does not accept; neither
// touches the engine.
func (c *Controller) Start(ctx context.Context, inputPath string) (SessionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return SessionInfo{}, ErrControllerClosed
	}
	if c.cur != nil {
		metrics.SessionsRejectedTotal.WithLabelValues("already_running").Inc()
		return SessionInfo{}, fmt.Errorf("%w: session %s is %s", domain.ErrAlreadyRunning, c.cur.id, c.cur.state)
	}
	if !c.policy.Accepts(inputPath) {
		metrics.SessionsRejectedTotal.WithLabelValues("invalid_extension").Inc()
		return SessionInfo{}, fmt.Errorf("%w: %q", domain.ErrInvalidInputExtension, domain.Ext(inputPath))
	}

	// The session outlives the request that started it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{
		id:    uuid.NewString(),
		state: domain.SessionStateProbing,
		input: domain.InputDescriptor{
			Path: inputPath,
			Ext:  domain.Ext(inputPath),
		},
		output: domain.OutputDescriptor{
			Path: domain.OutputPathFor(inputPath, c.policy.OutputExtension),
		},
		startedAt: c.now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	c.cur = s

	metrics.SessionsStartedTotal.Inc()
	metrics.SessionActive.Set(1)
	metrics.SessionProgressPercent.Set(0)
	c.log.Info().
		Str("session", s.id).
		Str("input", logger.SanitizePath(inputPath)).
		Msg("session started")
	c.publishState(s)

	c.wg.Add(1)
	go c.probe(runCtx, s)

	return s.info(), nil
}

func (c *Controller) probe(ctx context.Context, s *session) {
	defer c.wg.Done()

	result, err := c.engine.Probe(ctx, s.input.Path)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cur != s || s.state != domain.SessionStateProbing {
		return
	}
	if err == nil && result == nil {
		err = errors.New("engine returned no probe result")
	}
	if err != nil {
		c.finish(s, domain.SessionStateFailed, fmt.Errorf("%w: %w", domain.ErrProbeFailed, err))
		return
	}
	meta, err := result.VideoMeta()
	if err != nil {
		c.finish(s, domain.SessionStateFailed, err)
		return
	}
	s.input.Meta = meta
	c.transition(s, domain.SessionStateConfiguring)

	c.configure(ctx, s)
}

// configure derives the engine job from the probed metadata and starts the
// engine. Called with mu held.
func (c *Controller) configure(ctx context.Context, s *session) {
	job := domain.BuildJob(c.policy, s.input, s.output)
	s.job = &job
	metrics.DerivedBitrateKbps.Observe(float64(job.BitrateKbps))

	c.log.Debug().
		Str("session", s.id).
		Int("bitrate_kbps", job.BitrateKbps).
		Str("size", job.Size.String()).
		Float64("duration", s.input.Meta.DurationSeconds).
		Msg("derived transcode parameters")

	c.transition(s, domain.SessionStateRunning)

	proc, err := c.engine.Run(ctx, job)
	if err == nil && proc == nil {
		err = errors.New("engine returned no process")
	}
	if err != nil {
		c.finish(s, domain.SessionStateFailed, fmt.Errorf("%w: %w", domain.ErrEngineProcessFailure, err))
		return
	}
	s.proc = proc

	c.wg.Add(1)
	go c.pump(s.id, proc)
}

func (c *Controller) pump(sessionID string, proc port.EngineProcess) {
	defer c.wg.Done()

	for ev := range proc.Events() {
		c.handleEvent(sessionID, ev)
	}
	// A channel closed without a final event still ends the session.
	c.handleEvent(sessionID, domain.EngineEvent{
		Type: domain.EngineEventError,
		Err:  errors.New("engine exited without reporting a result"),
	})
}

func (c *Controller) handleEvent(sessionID string, ev domain.EngineEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.cur
	if s == nil || s.id != sessionID {
		c.log.Debug().Str("session", sessionID).Str("event", string(ev.Type)).Msg("dropping stale engine event")
		return
	}

	switch ev.Type {
	case domain.EngineEventProgress:
		c.onProgress(s, ev.Percent)
	case domain.EngineEventEnd:
		c.onEnd(s)
	case domain.EngineEventError:
		c.onError(s, ev.Err)
	}
}

func (c *Controller) onProgress(s *session, percent float64) {
	if s.state != domain.SessionStateRunning {
		return
	}
	s.progress = min(max(percent, 0), 100)
	metrics.SessionProgressPercent.Set(s.progress)
	c.publish(Event{Type: EventTypeProgress, SessionID: s.id, State: s.state, Progress: s.progress})
}

func (c *Controller) onEnd(s *session) {
	if s.state != domain.SessionStateRunning {
		return
	}
	s.progress = 100
	c.finish(s, domain.SessionStateCompleted, nil)
}

func (c *Controller) onError(s *session, err error) {
	if !s.state.IsActive() {
		return
	}
	if err == nil {
		err = errors.New("unknown engine error")
	}
	c.finish(s, domain.SessionStateFailed, fmt.Errorf("%w: %w", domain.ErrEngineProcessFailure, err))
}

// Cancel kills the running engine process. It is a no-op unless a session
// is running.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelLocked()
}

func (c *Controller) cancelLocked() error {
	s := c.cur
	if s == nil || s.state != domain.SessionStateRunning || s.proc == nil {
		return nil
	}

	killErr := s.proc.Kill()
	c.finish(s, domain.SessionStateCancelled, nil)
	if killErr != nil {
		return fmt.Errorf("kill engine process: %w", killErr)
	}
	return nil
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{State: domain.SessionStateIdle, LastOutcome: c.last}
	if s := c.cur; s != nil {
		st.State = s.state
		st.SessionID = s.id
		st.Progress = s.progress
		st.Input = s.input
		st.Output = s.output
	}
	return st
}

// Wait blocks until the session finishes and returns its outcome. Finished
// sessions other than the most recent one are looked up in the history store.
func (c *Controller) Wait(ctx context.Context, sessionID string) (*domain.Outcome, error) {
	c.mu.Lock()
	if s := c.cur; s != nil && s.id == sessionID {
		c.mu.Unlock()
		select {
		case <-s.done:
			return s.outcome, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	last := c.last
	c.mu.Unlock()

	if last != nil && last.SessionID == sessionID {
		return last, nil
	}
	if c.history != nil {
		return c.history.GetOutcome(sessionID)
	}
	return nil, domain.ErrNotFound
}

// Shutdown refuses new sessions, stops the active one and waits for the
// controller's goroutines to exit.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	if s := c.cur; s != nil {
		if s.state == domain.SessionStateRunning {
			if err := c.cancelLocked(); err != nil {
				c.log.Warn().Err(err).Msg("cancel on shutdown")
			}
		} else {
			// Probing: the engine call observes the cancelled context.
			s.cancel()
		}
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) transition(s *session, state domain.SessionState) {
	c.transitionQuiet(s, state)
	c.publishState(s)
}

// finish moves s to a terminal state, records the outcome and returns the
// controller to idle. Called with mu held.
func (c *Controller) finish(s *session, state domain.SessionState, err error) {
	c.transitionQuiet(s, state)

	outcome := &domain.Outcome{
		SessionID:  s.id,
		State:      state,
		InputPath:  s.input.Path,
		Err:        err,
		StartedAt:  s.startedAt,
		FinishedAt: c.now(),
	}
	if state == domain.SessionStateCompleted {
		outcome.OutputPath = s.output.Path
	}
	if s.job != nil {
		outcome.BitrateKbps = s.job.BitrateKbps
		outcome.SizeSpec = s.job.Size
	}
	if err != nil {
		outcome.ErrorMessage = err.Error()
	}
	s.outcome = outcome

	s.input = domain.InputDescriptor{}
	s.output = domain.OutputDescriptor{}
	s.proc = nil
	s.cancel()

	metrics.SessionsFinishedTotal.WithLabelValues(string(state)).Inc()
	metrics.SessionDurationSeconds.WithLabelValues(string(state)).Observe(outcome.Duration().Seconds())
	metrics.SessionActive.Set(0)

	if c.history != nil {
		if saveErr := c.history.SaveOutcome(outcome); saveErr != nil {
			c.log.Error().Err(saveErr).Str("session", s.id).Msg("failed to record outcome")
		}
	}

	event := c.log.Info()
	if err != nil {
		event = c.log.Warn().Err(err)
	}
	event.Str("session", s.id).Str("state", string(state)).Dur("took", outcome.Duration()).Msg("session finished")

	if outcome.OutputPath != "" {
		c.publish(Event{Type: EventTypeOutput, SessionID: s.id, State: state, Progress: s.progress, OutputPath: outcome.OutputPath})
	}
	c.publish(Event{Type: EventTypeState, SessionID: s.id, State: state, Progress: s.progress, Message: outcome.ErrorMessage})

	c.last = outcome
	c.cur = nil
	close(s.done)

	c.publish(Event{Type: EventTypeState, SessionID: s.id, State: domain.SessionStateIdle})
}

func (c *Controller) transitionQuiet(s *session, state domain.SessionState) {
	c.log.Debug().Str("session", s.id).Str("from", string(s.state)).Str("to", string(state)).Msg("transition")
	s.state = state
}

func (c *Controller) publishState(s *session) {
	c.publish(Event{Type: EventTypeState, SessionID: s.id, State: s.state, Progress: s.progress})
}

func (c *Controller) publish(ev Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}
