package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOutputPathFor(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"clip.mp4", "clip.webm"},
		{"/home/user/clips/clip.gif", "/home/user/clips/clip.webm"},
		{"/data/mp4.mp4/clip.mp4", "/data/mp4.mp4/clip.webm"},
		{"clip.backup.mp4", "clip.backup.webm"},
		{"noext", "noext.webm"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OutputPathFor(tt.input, ".webm"), "OutputPathFor(%q)", tt.input)
	}
}

func TestSessionState(t *testing.T) {
	active := []SessionState{SessionStateProbing, SessionStateConfiguring, SessionStateRunning}
	terminal := []SessionState{SessionStateCompleted, SessionStateFailed, SessionStateCancelled}

	for _, s := range active {
		assert.True(t, s.IsActive(), s)
		assert.False(t, s.IsTerminal(), s)
	}
	for _, s := range terminal {
		assert.False(t, s.IsActive(), s)
		assert.True(t, s.IsTerminal(), s)
	}
	assert.False(t, SessionStateIdle.IsActive())
	assert.False(t, SessionStateIdle.IsTerminal())
}

func TestDescriptors_IsZero(t *testing.T) {
	assert.True(t, InputDescriptor{}.IsZero())
	assert.False(t, InputDescriptor{Path: "a.mp4"}.IsZero())
	assert.True(t, OutputDescriptor{}.IsZero())
	assert.False(t, OutputDescriptor{Path: "a.webm"}.IsZero())
}

func TestOutcome_Duration(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	o := &Outcome{StartedAt: start, FinishedAt: start.Add(90 * time.Second)}
	assert.Equal(t, 90*time.Second, o.Duration())
}
