package domain

import "errors"

var (
	ErrNotFound = errors.New("resource not found")

	// Session errors. All of them leave the controller idle and reusable.
	ErrInvalidInputExtension = errors.New("input extension not accepted")
	ErrNoVideoStreamFound    = errors.New("unsupported input: no video stream found")
	ErrEngineProcessFailure  = errors.New("transcode engine failed")
	ErrAlreadyRunning        = errors.New("a transcode session is already running")
	ErrProbeFailed           = errors.New("probe failed")
	ErrEngineNotFound        = errors.New("transcode engine binary not found")
)
