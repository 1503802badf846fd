package domain

import (
	"fmt"
	"runtime"
	"slices"
	"strings"
)

// Policy holds the process-wide output constraints. It is built once at
// startup and passed around by value.
type Policy struct {
	Codec                   string   `yaml:"codec" json:"codec"`
	ContainerFormat         string   `yaml:"containerFormat" json:"container_format"`
	ConstantRateFactor      int      `yaml:"constantRateFactor" json:"constant_rate_factor"`
	Quality                 string   `yaml:"quality" json:"quality"`
	LagInFrames             int      `yaml:"lagInFrames" json:"lag_in_frames"`
	MaxWidth                int      `yaml:"maxWidth" json:"max_width"`
	MaxDurationSeconds      int      `yaml:"maxDurationSeconds" json:"max_duration_seconds"`
	MaxFileSizeMB           int      `yaml:"maxFileSizeMB" json:"max_file_size_mb"`
	Threads                 int      `yaml:"threads" json:"threads"`
	AcceptedInputExtensions []string `yaml:"acceptedInputExtensions" json:"accepted_input_extensions"`
	OutputExtension         string   `yaml:"outputExtension" json:"output_extension"`
	FallbackBitrateKbps     int      `yaml:"fallbackBitrateKbps" json:"fallback_bitrate_kbps"`
	// MinBitrateKbps floors the derived bitrate. Zero disables the floor.
	MinBitrateKbps int `yaml:"minBitrateKbps" json:"min_bitrate_kbps"`
}

const DefaultFallbackBitrateKbps = 2024

func DefaultPolicy() Policy {
	return Policy{
		Codec:                   "libvpx",
		ContainerFormat:         "webm",
		ConstantRateFactor:      32,
		Quality:                 "best",
		LagInFrames:             16,
		MaxWidth:                1052,
		MaxDurationSeconds:      120,
		MaxFileSizeMB:           4,
		Threads:                 runtime.NumCPU(),
		AcceptedInputExtensions: []string{".mp4", ".gif"},
		OutputExtension:         ".webm",
		FallbackBitrateKbps:     DefaultFallbackBitrateKbps,
	}
}

func (p Policy) Validate() error {
	switch {
	case p.Codec == "":
		return fmt.Errorf("policy: codec is required")
	case p.ContainerFormat == "":
		return fmt.Errorf("policy: containerFormat is required")
	case p.MaxWidth <= 0:
		return fmt.Errorf("policy: maxWidth must be positive, got %d", p.MaxWidth)
	case p.MaxDurationSeconds <= 0:
		return fmt.Errorf("policy: maxDurationSeconds must be positive, got %d", p.MaxDurationSeconds)
	case p.MaxFileSizeMB <= 0:
		return fmt.Errorf("policy: maxFileSizeMB must be positive, got %d", p.MaxFileSizeMB)
	case p.Threads <= 0:
		return fmt.Errorf("policy: threads must be positive, got %d", p.Threads)
	case p.ConstantRateFactor < 0 || p.ConstantRateFactor > 63:
		return fmt.Errorf("policy: constantRateFactor must be within 0-63, got %d", p.ConstantRateFactor)
	case p.LagInFrames < 0:
		return fmt.Errorf("policy: lagInFrames must not be negative, got %d", p.LagInFrames)
	case p.FallbackBitrateKbps <= 0:
		return fmt.Errorf("policy: fallbackBitrateKbps must be positive, got %d", p.FallbackBitrateKbps)
	case p.MinBitrateKbps < 0:
		return fmt.Errorf("policy: minBitrateKbps must not be negative, got %d", p.MinBitrateKbps)
	case len(p.AcceptedInputExtensions) == 0:
		return fmt.Errorf("policy: acceptedInputExtensions must not be empty")
	}

	if !strings.HasPrefix(p.OutputExtension, ".") || len(p.OutputExtension) < 2 {
		return fmt.Errorf("policy: outputExtension must look like \".webm\", got %q", p.OutputExtension)
	}
	for _, ext := range p.AcceptedInputExtensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("policy: accepted extension must look like \".mp4\", got %q", ext)
		}
	}
	if p.Accepts("x" + p.OutputExtension) {
		return fmt.Errorf("policy: outputExtension %s is also an accepted input extension", p.OutputExtension)
	}
	return nil
}

// Accepts reports whether path carries one of the accepted input extensions.
// Matching ignores case.
func (p Policy) Accepts(path string) bool {
	ext := strings.ToLower(Ext(path))
	if ext == "" {
		return false
	}
	return slices.ContainsFunc(p.AcceptedInputExtensions, func(accepted string) bool {
		return strings.ToLower(accepted) == ext
	})
}

// Clone returns a copy that does not share the extension slice.
func (p Policy) Clone() Policy {
	p.AcceptedInputExtensions = slices.Clone(p.AcceptedInputExtensions)
	return p
}
