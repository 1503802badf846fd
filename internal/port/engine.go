package port

import (
	"context"

	"github.com/bnema/webmclip/internal/domain"
)

// TranscodeEngine is the out-of-process transcoder the controller drives.
type TranscodeEngine interface {
	Probe(ctx context.Context, inputPath string) (*domain.ProbeResult, error)
	Run(ctx context.Context, job domain.TranscodeJob) (EngineProcess, error)
}

// EngineProcess is a handle on one running transcode. Events delivers
// progress updates followed by exactly one end or error event, then closes.
type EngineProcess interface {
	Events() <-chan domain.EngineEvent
	Kill() error
}
