package ffmpeg

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// parseProgress reads ffmpeg -progress output: key=value lines grouped into
// blocks terminated by progress=continue or progress=end. emit receives the
// completion percentage against totalSeconds after every block. Nothing is
// emitted when totalSeconds is unknown, except 100 at progress=end.
func parseProgress(r io.Reader, totalSeconds float64, emit func(percent float64)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	outTimeUs := int64(-1)

	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "out_time_us", "out_time_ms":
			// out_time_ms is also in microseconds.
			if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
				outTimeUs = us
			}
		case "out_time":
			if us := parseOutTime(value); us >= 0 {
				outTimeUs = us
			}
		case "progress":
			if value == "end" {
				emit(100)
				outTimeUs = -1
				continue
			}
			if outTimeUs >= 0 && totalSeconds > 0 {
				emit(percentOf(outTimeUs, totalSeconds))
			}
			outTimeUs = -1
		}
	}
	return scanner.Err()
}

// parseOutTime parses "HH:MM:SS.micro" into microseconds, -1 on failure.
func parseOutTime(value string) int64 {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return -1
	}
	hours, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || hours < 0 {
		return -1
	}
	minutes, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || minutes < 0 || minutes > 59 {
		return -1
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil || seconds < 0 || seconds >= 60 {
		return -1
	}
	return (hours*3600+minutes*60)*1_000_000 + int64(seconds*1_000_000)
}

func percentOf(outTimeUs int64, totalSeconds float64) float64 {
	pct := float64(outTimeUs) / 1_000_000 / totalSeconds * 100
	switch {
	case pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return pct
}
