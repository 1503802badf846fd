// Package validation checks client-supplied input paths and names before
// they reach the controller or a response header.
package validation

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrDisallowedFileType = errors.New("file type not allowed")
	ErrNotAbsolute        = errors.New("path must be absolute")
	ErrNotRegularFile     = errors.New("not a regular file")
)

// allowedInputTypes lists the containers ffmpeg is asked to read. Extension
// policy is applied separately by the controller.
var allowedInputTypes = []string{
	"video/mp4",
	"video/x-m4v",
	"video/quicktime",
	"video/webm",
	"video/x-matroska",
	"image/gif",
}

// sniffLimit bounds how much of the file is read for detection.
const sniffLimit = 3072

// DetectInputType sniffs the content type of r. allowed reports whether the
// type, or one of its parents, is a video container or GIF.
func DetectInputType(r io.Reader) (mime string, allowed bool, err error) {
	m, err := mimetype.DetectReader(io.LimitReader(r, sniffLimit))
	if err != nil {
		return "", false, err
	}
	for p := m; p != nil; p = p.Parent() {
		if mimetype.EqualsAny(p.String(), allowedInputTypes...) {
			return m.String(), true, nil
		}
	}
	return m.String(), false, nil
}

// CheckInputFile verifies that path names an existing regular file whose
// content sniffs as an accepted input type. It returns the detected type.
func CheckInputFile(path string) (string, error) {
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("%w: %q", ErrNotAbsolute, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %q", ErrNotRegularFile, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close() //nolint:errcheck

	mime, allowed, err := DetectInputType(f)
	if err != nil {
		return "", fmt.Errorf("sniff %q: %w", path, err)
	}
	if !allowed {
		return mime, fmt.Errorf("%w: %s", ErrDisallowedFileType, mime)
	}
	return mime, nil
}
