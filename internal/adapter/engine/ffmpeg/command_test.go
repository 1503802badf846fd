package ffmpeg

import (
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/bnema/webmclip/internal/domain"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestBuildCommand(t *testing.T) {
	job := domain.TranscodeJob{
		InputPath:          "/clips/clip.mp4",
		OutputPath:         "/clips/clip.webm",
		Codec:              "libvpx",
		Format:             "webm",
		BitrateKbps:        3276,
		Size:               "1052x?",
		MaxDurationSeconds: 120,
		ConstantRateFactor: 32,
		Threads:            8,
		Quality:            "best",
		LagInFrames:        16,
		MaxOutputBytes:     4194304,
		NoAudio:            true,
	}

	want := []string{
		"-hide_banner", "-nostats", "-progress", "pipe:1", "-y",
		"-i", "/clips/clip.mp4",
		"-an",
		"-c:v", "libvpx",
		"-b:v", "3276k",
		"-vf", "scale=1052:-2",
		"-t", "120",
		"-crf", "32",
		"-threads", "8",
		"-quality", "best",
		"-lag-in-frames", "16",
		"-fs", "4194304",
		"-f", "webm",
		"/clips/clip.webm",
	}

	if diff := cmp.Diff(want, BuildCommand(job).Args()); diff != "" {
		t.Errorf("BuildCommand() args mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildCommand_OptionalFlagsOmitted(t *testing.T) {
	job := domain.TranscodeJob{
		InputPath:  "in.gif",
		OutputPath: "in.webm",
		Codec:      "libvpx",
		Format:     "webm",
		Size:       "320x?",
		Threads:    2,
	}

	want := []string{
		"-hide_banner", "-nostats", "-progress", "pipe:1", "-y",
		"-i", "in.gif",
		"-c:v", "libvpx",
		"-vf", "scale=320:-2",
		"-crf", "0",
		"-threads", "2",
		"-f", "webm",
		"in.webm",
	}

	if diff := cmp.Diff(want, BuildCommand(job).Args()); diff != "" {
		t.Errorf("BuildCommand() args mismatch (-want +got):\n%s", diff)
	}
}

func TestCommand_AddOptions(t *testing.T) {
	got := NewCommand("a.mp4").
		AddOptions("-crf 10", "  -row-mt   1 ", "", "-auto-alt-ref").
		Output("a.webm").
		Args()

	want := []string{
		"-hide_banner", "-nostats", "-progress", "pipe:1", "-y",
		"-i", "a.mp4",
		"-crf", "10",
		"-row-mt", "1",
		"-auto-alt-ref",
		"a.webm",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Args() mismatch (-want +got):\n%s", diff)
	}
}

func TestCommand_MalformedSizeIgnored(t *testing.T) {
	got := NewCommand("a.mp4").Size("widex?").Output("a.webm").Args()
	for _, arg := range got {
		if arg == "-vf" {
			t.Fatalf("malformed size must not produce a scale filter: %v", got)
		}
	}
}
