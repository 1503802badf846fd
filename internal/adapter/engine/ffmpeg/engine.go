package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bnema/webmclip/internal/domain"
	"github.com/bnema/webmclip/internal/infrastructure/logger"
	"github.com/bnema/webmclip/internal/port"
)

var (
	ErrEmptyPath   = errors.New("path is empty")
	ErrInvalidPath = errors.New("path contains a null byte")
)

func validatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if strings.ContainsRune(path, 0) {
		return ErrInvalidPath
	}
	return nil
}

type Engine struct {
	ffmpegPath  string
	ffprobePath string
	log         zerolog.Logger
}

func NewEngine(opts Options) (*Engine, error) {
	ffmpegPath, ffprobePath, err := ResolveBinaries(opts)
	if err != nil {
		return nil, err
	}
	return &Engine{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		log:         logger.WithComponent("ffmpeg"),
	}, nil
}

func (e *Engine) Probe(ctx context.Context, inputPath string) (*domain.ProbeResult, error) {
	if err := validatePath(inputPath); err != nil {
		return nil, fmt.Errorf("invalid input path: %w", err)
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath,
	}
	cmd := exec.CommandContext(ctx, e.ffprobePath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w %s", err, strings.TrimSpace(stderr.String()))
	}

	var result domain.ProbeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	result.RawJSON = string(output)
	return &result, nil
}

func (e *Engine) Run(ctx context.Context, job domain.TranscodeJob) (port.EngineProcess, error) {
	if err := validatePath(job.InputPath); err != nil {
		return nil, fmt.Errorf("invalid input path: %w", err)
	}
	if err := validatePath(job.OutputPath); err != nil {
		return nil, fmt.Errorf("invalid output path: %w", err)
	}

	args := BuildCommand(job).Args()
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	e.log.Debug().Strs("args", args).Msg("starting ffmpeg")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	p := &process{
		cmd:    cmd,
		stderr: stderr,
		events: make(chan domain.EngineEvent, 16),
		log:    e.log.With().Int("pid", cmd.Process.Pid).Logger(),
	}
	go p.supervise(stdout, job.EffectiveDurationSeconds())
	return p, nil
}

type process struct {
	cmd      *exec.Cmd
	stderr   *tailBuffer
	events   chan domain.EngineEvent
	killOnce sync.Once
	log      zerolog.Logger
}

func (p *process) Events() <-chan domain.EngineEvent {
	return p.events
}

// Kill stops the process. Calling it again, or after exit, is a no-op.
func (p *process) Kill() error {
	var err error
	p.killOnce.Do(func() {
		err = p.cmd.Process.Kill()
		if errors.Is(err, os.ErrProcessDone) {
			err = nil
		}
	})
	return err
}

func (p *process) supervise(stdout io.Reader, totalSeconds float64) {
	defer close(p.events)

	err := parseProgress(stdout, totalSeconds, func(percent float64) {
		select {
		case p.events <- domain.EngineEvent{Type: domain.EngineEventProgress, Percent: percent}:
		default:
			// Drop progress if the consumer lags; the final event always lands.
		}
	})
	if err != nil {
		p.log.Warn().Err(err).Msg("progress reader failed")
	}

	if err := p.cmd.Wait(); err != nil {
		p.log.Debug().Err(err).Msg("ffmpeg exited with error")
		p.events <- domain.EngineEvent{
			Type: domain.EngineEventError,
			Err:  fmt.Errorf("ffmpeg: %w: %s", err, p.stderr.String()),
		}
		return
	}
	p.events <- domain.EngineEvent{Type: domain.EngineEventEnd}
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

var _ port.TranscodeEngine = (*Engine)(nil)
