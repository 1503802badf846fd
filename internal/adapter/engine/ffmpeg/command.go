package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bnema/webmclip/internal/domain"
)

// Command is a fluent description of one ffmpeg invocation.
type Command struct {
	input       string
	output      string
	noAudio     bool
	videoCodec  string
	bitrateKbps int
	size        domain.SizeSpec
	duration    int
	format      string
	options     []string
}

func NewCommand(input string) *Command {
	return &Command{input: input}
}

func (c *Command) NoAudio() *Command {
	c.noAudio = true
	return c
}

func (c *Command) VideoCodec(codec string) *Command {
	c.videoCodec = codec
	return c
}

func (c *Command) VideoBitrate(kbps int) *Command {
	c.bitrateKbps = kbps
	return c
}

// Size sets a "<width>x?" frame size; the height keeps the aspect ratio.
func (c *Command) Size(size domain.SizeSpec) *Command {
	c.size = size
	return c
}

// Duration truncates the output to the given number of seconds.
func (c *Command) Duration(seconds int) *Command {
	c.duration = seconds
	return c
}

func (c *Command) Format(format string) *Command {
	c.format = format
	return c
}

// AddOptions appends raw output options. Each entry is either a lone flag or
// "flag value", split on the first space.
func (c *Command) AddOptions(opts ...string) *Command {
	for _, opt := range opts {
		opt = strings.TrimSpace(opt)
		if opt == "" {
			continue
		}
		flag, value, ok := strings.Cut(opt, " ")
		c.options = append(c.options, flag)
		if ok {
			c.options = append(c.options, strings.TrimSpace(value))
		}
	}
	return c
}

func (c *Command) Output(path string) *Command {
	c.output = path
	return c
}

// Args renders the argument vector, progress reporting on stdout included.
func (c *Command) Args() []string {
	args := []string{
		"-hide_banner",
		"-nostats",
		"-progress", "pipe:1",
		"-y",
		"-i", c.input,
	}
	if c.noAudio {
		args = append(args, "-an")
	}
	if c.videoCodec != "" {
		args = append(args, "-c:v", c.videoCodec)
	}
	if c.bitrateKbps > 0 {
		args = append(args, "-b:v", strconv.Itoa(c.bitrateKbps)+"k")
	}
	if w := c.size.Width(); w > 0 {
		// -2 keeps the height even, which libvpx requires.
		args = append(args, "-vf", fmt.Sprintf("scale=%d:-2", w))
	}
	if c.duration > 0 {
		args = append(args, "-t", strconv.Itoa(c.duration))
	}
	args = append(args, c.options...)
	if c.format != "" {
		args = append(args, "-f", c.format)
	}
	return append(args, c.output)
}

// BuildCommand maps a derived job onto the fluent builder.
func BuildCommand(job domain.TranscodeJob) *Command {
	cmd := NewCommand(job.InputPath).
		VideoCodec(job.Codec).
		VideoBitrate(job.BitrateKbps).
		Size(job.Size).
		Duration(job.MaxDurationSeconds).
		AddOptions(
			fmt.Sprintf("-crf %d", job.ConstantRateFactor),
			fmt.Sprintf("-threads %d", job.Threads),
		)
	if job.NoAudio {
		cmd.NoAudio()
	}
	if job.Quality != "" {
		cmd.AddOptions("-quality " + job.Quality)
	}
	if job.LagInFrames > 0 {
		cmd.AddOptions(fmt.Sprintf("-lag-in-frames %d", job.LagInFrames))
	}
	if job.MaxOutputBytes > 0 {
		cmd.AddOptions(fmt.Sprintf("-fs %d", job.MaxOutputBytes))
	}
	return cmd.Format(job.Format).Output(job.OutputPath)
}
