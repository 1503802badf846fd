package validation

import (
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const maxFilenameLength = 255

// SanitizeFilename makes name safe for a response header: separators,
// quotes and control characters become '_', the result is capped at 255
// bytes with the extension kept. Empty names become "file".
func SanitizeFilename(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r < 0x20, r == 0x7f:
			return '_'
		case strings.ContainsRune(`"\/:`, r):
			return '_'
		}
		return r
	}, name)

	cleaned = strings.TrimSpace(cleaned)
	if strings.Trim(cleaned, "_") == "" {
		return "file"
	}
	if len(cleaned) > maxFilenameLength {
		cleaned = truncateKeepingExt(cleaned)
	}
	return cleaned
}

func truncateKeepingExt(name string) string {
	ext := filepath.Ext(name)
	if ext == "" || len(ext) >= maxFilenameLength {
		return truncateUTF8(name, maxFilenameLength)
	}
	return truncateUTF8(strings.TrimSuffix(name, ext), maxFilenameLength-len(ext)) + ext
}

// truncateUTF8 cuts s to at most n bytes on a rune boundary.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ContentDisposition formats a Content-Disposition value for the base name
// of path. Non-ASCII names are emitted in RFC 2231 form.
func ContentDisposition(path string, inline bool) string {
	disposition := "attachment"
	if inline {
		disposition = "inline"
	}
	base := filepath.Base(path)
	if base == "." || base == string(filepath.Separator) {
		base = ""
	}
	name := SanitizeFilename(base)
	if v := mime.FormatMediaType(disposition, map[string]string{"filename": name}); v != "" {
		return v
	}
	return disposition
}
