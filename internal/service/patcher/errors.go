package patcher

import "errors"

var (
	// ErrNoInputArtifacts is returned when the source directory holds no usable containers.
	ErrNoInputArtifacts = errors.New("no input artifacts")
	// ErrInvalidRequest is returned for a request with missing or conflicting fields.
	ErrInvalidRequest = errors.New("invalid patch request")
	// ErrNoOutputArtifacts is returned when the output directory is empty after producing outputs.
	ErrNoOutputArtifacts = errors.New("no output artifacts")
)

var errNoRepackager = errors.New("repackaging requested but no repackager is configured")
