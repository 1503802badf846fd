package logger

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// MaxLoggedPathRunes bounds how much of a path SanitizePath keeps.
const MaxLoggedPathRunes = 160

// SanitizeForLog escapes control characters so client or filesystem supplied
// text cannot forge log lines or drive the terminal. Printable Unicode is kept.
func SanitizeForLog(s string) string {
	clean := true
	for _, r := range s {
		if isControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		switch {
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case isControl(r):
			fmt.Fprintf(&b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SanitizePath cleans p, escapes it like SanitizeForLog and keeps only the
// tail of very long paths, where the file name lives.
func SanitizePath(p string) string {
	if p == "" {
		return ""
	}
	s := SanitizeForLog(filepath.Clean(p))
	if n := utf8.RuneCountInString(s); n > MaxLoggedPathRunes {
		runes := []rune(s)
		s = "..." + string(runes[n-MaxLoggedPathRunes+3:])
	}
	return s
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f
}
