package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// kbitsPerMegabyte converts a size budget in MB into kilobits (1 MB = 8192 kb).
const kbitsPerMegabyte = 8192

// MaxBitrateKbps is the largest bitrate DeriveBitrateKbps returns.
const MaxBitrateKbps = math.MaxInt32

// DeriveBitrateKbps returns the average bitrate that fits maxFileSizeMB into
// durationSeconds. Missing or nonsensical durations yield the fallback bitrate
// so the transcode can still proceed. The result is only capped at
// MaxBitrateKbps, which tiny positive durations would otherwise overflow.
func DeriveBitrateKbps(durationSeconds float64, maxFileSizeMB int) int {
	if math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) || durationSeconds <= 0 {
		return DefaultFallbackBitrateKbps
	}
	kbps := math.Floor(kbitsPerMegabyte * float64(maxFileSizeMB) / durationSeconds)
	if math.IsInf(kbps, 0) || kbps > MaxBitrateKbps {
		return MaxBitrateKbps
	}
	return int(kbps)
}

// SizeSpec is a "<width>x?" frame size: fixed width, height follows the
// source aspect ratio.
type SizeSpec string

// DeriveTargetSize keeps the input width when it is below maxWidth and caps it
// otherwise. Videos are never upscaled. A non-positive input width means the
// probe had no usable width, which caps to maxWidth.
func DeriveTargetSize(inputWidth, maxWidth int) SizeSpec {
	width := maxWidth
	if inputWidth > 0 && inputWidth < maxWidth {
		width = inputWidth
	}
	return SizeSpec(fmt.Sprintf("%dx?", width))
}

// Width returns the fixed width of the spec, or 0 if the spec is malformed.
func (s SizeSpec) Width() int {
	w, rest, ok := strings.Cut(string(s), "x")
	if !ok || rest != "?" {
		return 0
	}
	n, err := strconv.Atoi(w)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func (s SizeSpec) String() string {
	return string(s)
}

// MaxOutputBytes is the hard output size cap handed to the engine.
func MaxOutputBytes(maxFileSizeMB int) int64 {
	return int64(maxFileSizeMB) * oneMegabyte
}

// TranscodeJob is a fully derived engine invocation.
type TranscodeJob struct {
	InputPath          string   `json:"input_path"`
	OutputPath         string   `json:"output_path"`
	Codec              string   `json:"codec"`
	Format             string   `json:"format"`
	BitrateKbps        int      `json:"bitrate_kbps"`
	Size               SizeSpec `json:"size"`
	MaxDurationSeconds int      `json:"max_duration_seconds"`
	ConstantRateFactor int      `json:"constant_rate_factor"`
	Threads            int      `json:"threads"`
	Quality            string   `json:"quality"`
	LagInFrames        int      `json:"lag_in_frames"`
	MaxOutputBytes     int64    `json:"max_output_bytes"`
	NoAudio            bool     `json:"no_audio"`
	// SourceDurationSeconds is used for progress reporting only.
	SourceDurationSeconds float64 `json:"source_duration_seconds"`
}

// EffectiveDurationSeconds is how much of the source the engine will encode.
func (j TranscodeJob) EffectiveDurationSeconds() float64 {
	d := j.SourceDurationSeconds
	if limit := float64(j.MaxDurationSeconds); limit > 0 && (d <= 0 || d > limit) {
		d = limit
	}
	return d
}

// BuildJob derives the engine invocation for one input from its probed
// metadata and the policy.
func BuildJob(policy Policy, input InputDescriptor, output OutputDescriptor) TranscodeJob {
	var duration float64
	var width int
	if input.Meta != nil {
		duration = input.Meta.DurationSeconds
		width = input.Meta.Width
	}

	bitrate := DeriveBitrateKbps(duration, policy.MaxFileSizeMB)
	if !validDuration(duration) && policy.FallbackBitrateKbps > 0 {
		bitrate = policy.FallbackBitrateKbps
	}
	if policy.MinBitrateKbps > 0 && bitrate < policy.MinBitrateKbps {
		bitrate = policy.MinBitrateKbps
	}

	return TranscodeJob{
		InputPath:             input.Path,
		OutputPath:            output.Path,
		Codec:                 policy.Codec,
		Format:                policy.ContainerFormat,
		BitrateKbps:           bitrate,
		Size:                  DeriveTargetSize(width, policy.MaxWidth),
		MaxDurationSeconds:    policy.MaxDurationSeconds,
		ConstantRateFactor:    policy.ConstantRateFactor,
		Threads:               policy.Threads,
		Quality:               policy.Quality,
		LagInFrames:           policy.LagInFrames,
		MaxOutputBytes:        MaxOutputBytes(policy.MaxFileSizeMB),
		NoAudio:               true,
		SourceDurationSeconds: duration,
	}
}

func validDuration(d float64) bool {
	return !math.IsNaN(d) && !math.IsInf(d, 0) && d > 0
}
