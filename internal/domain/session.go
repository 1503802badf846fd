package domain

import (
	"path/filepath"
	"strings"
	"time"
)

type SessionState string

const (
	SessionStateIdle        SessionState = "idle"
	SessionStateProbing     SessionState = "probing"
	SessionStateConfiguring SessionState = "configuring"
	SessionStateRunning     SessionState = "running"
	SessionStateCompleted   SessionState = "completed"
	SessionStateFailed      SessionState = "failed"
	SessionStateCancelled   SessionState = "cancelled"
)

// IsActive is true while a session owns the controller.
func (s SessionState) IsActive() bool {
	return s == SessionStateProbing || s == SessionStateConfiguring || s == SessionStateRunning
}

func (s SessionState) IsTerminal() bool {
	return s == SessionStateCompleted || s == SessionStateFailed || s == SessionStateCancelled
}

type VideoMeta struct {
	DurationSeconds float64 `json:"duration_seconds"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	CodecType       string  `json:"codec_type"`
	CodecName       string  `json:"codec_name"`
	FrameRate       float64 `json:"frame_rate"`
}

type InputDescriptor struct {
	Path string     `json:"path"`
	Ext  string     `json:"ext"`
	Meta *VideoMeta `json:"meta,omitempty"`
}

func (d InputDescriptor) IsZero() bool {
	return d.Path == "" && d.Ext == "" && d.Meta == nil
}

type OutputDescriptor struct {
	Path string `json:"path"`
}

func (d OutputDescriptor) IsZero() bool {
	return d.Path == ""
}

// Ext returns the extension of the last path element, dot included.
func Ext(path string) string {
	return filepath.Ext(path)
}

// OutputPathFor swaps the trailing extension of input for outputExt.
// Only the final extension is replaced, directories are left alone.
func OutputPathFor(input, outputExt string) string {
	return strings.TrimSuffix(input, Ext(input)) + outputExt
}

// Outcome records how a session ended.
type Outcome struct {
	SessionID    string       `json:"session_id"`
	State        SessionState `json:"state"`
	InputPath    string       `json:"input_path"`
	OutputPath   string       `json:"output_path,omitempty"`
	BitrateKbps  int          `json:"bitrate_kbps,omitempty"`
	SizeSpec     SizeSpec     `json:"size_spec,omitempty"`
	Err          error        `json:"-"`
	ErrorMessage string       `json:"error_message,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
}

func (o *Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

type EngineEventType string

const (
	EngineEventProgress EngineEventType = "progress"
	EngineEventEnd      EngineEventType = "end"
	EngineEventError    EngineEventType = "error"
)

// EngineEvent is one lifecycle notification from a running engine process.
type EngineEvent struct {
	Type    EngineEventType
	Percent float64
	Err     error
}
