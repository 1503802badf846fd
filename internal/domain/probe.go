package domain

import (
	"fmt"
	"math"
	"strconv"
)

type ProbeFormat struct {
	FormatName string            `json:"format_name"`
	FormatLong string            `json:"format_long_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	NbStreams  int               `json:"nb_streams"`
	Tags       map[string]string `json:"tags"`
}

type ProbeStream struct {
	Index        int               `json:"index"`
	CodecType    string            `json:"codec_type"`
	CodecName    string            `json:"codec_name"`
	CodecLong    string            `json:"codec_long_name"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	PixFmt       string            `json:"pix_fmt"`
	RFrameRate   string            `json:"r_frame_rate"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	Duration     string            `json:"duration"`
	BitRate      string            `json:"bit_rate"`
	Tags         map[string]string `json:"tags"`
}

type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`
	RawJSON string        `json:"-"`
}

const (
	oneKilobyte = 1024
	oneMegabyte = oneKilobyte * 1024
	oneGigabyte = oneMegabyte * 1024
)

const CodecTypeVideo = "video"

// VideoStreams returns the streams whose codec type is "video", in probe order.
func (p *ProbeResult) VideoStreams() []ProbeStream {
	var streams []ProbeStream
	for _, s := range p.Streams {
		if s.CodecType == CodecTypeVideo {
			streams = append(streams, s)
		}
	}
	return streams
}

// VideoMeta extracts the metadata of the first video stream. It returns
// ErrNoVideoStreamFound when the input carries no video.
func (p *ProbeResult) VideoMeta() (*VideoMeta, error) {
	streams := p.VideoStreams()
	if len(streams) == 0 {
		return nil, ErrNoVideoStreamFound
	}
	vs := streams[0]

	duration := ParseDuration(vs.Duration)
	if duration <= 0 {
		// GIF and some MP4 muxers only report the container duration.
		duration = ParseDuration(p.Format.Duration)
	}

	return &VideoMeta{
		DurationSeconds: duration,
		Width:           vs.Width,
		Height:          vs.Height,
		CodecType:       vs.CodecType,
		CodecName:       vs.CodecName,
		FrameRate:       ParseFrameRate(vs.AvgFrameRate),
	}, nil
}

func ParseFrameRate(fraction string) float64 {
	if fraction == "" || fraction == "0/0" {
		return 0
	}
	var num, den int
	if _, err := fmt.Sscanf(fraction, "%d/%d", &num, &den); err == nil && den > 0 {
		return float64(num) / float64(den)
	}
	return 0
}

// ParseDuration parses an ffprobe duration in seconds. Anything unusable
// yields 0.
func ParseDuration(durationStr string) float64 {
	if durationStr == "" || durationStr == "N/A" {
		return 0
	}
	duration, err := strconv.ParseFloat(durationStr, 64)
	if err != nil || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return 0
	}
	return duration
}

func FormatDuration(seconds float64) string {
	if seconds <= 0 {
		return "00:00"
	}
	hours := int(seconds) / 3600
	minutes := (int(seconds) % 3600) / 60
	secs := int(seconds) % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

func FormatSize(bytes int64) string {
	if bytes < oneKilobyte {
		return fmt.Sprintf("%d B", bytes)
	}
	if bytes < oneMegabyte {
		return fmt.Sprintf("%.1f KB", float64(bytes)/oneKilobyte)
	}
	if bytes < oneGigabyte {
		return fmt.Sprintf("%.1f MB", float64(bytes)/oneMegabyte)
	}
	return fmt.Sprintf("%.1f GB", float64(bytes)/oneGigabyte)
}
