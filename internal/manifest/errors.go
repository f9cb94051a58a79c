package manifest

import (
	"errors"
	"fmt"
)

// ErrFormat matches every error caused by an unreadable container or manifest.
var ErrFormat = errors.New("invalid manifest container")

var errNoManifestEntry = errors.New("manifest entry not found")

// FormatError reports a container whose manifest could not be read or decoded.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Unwrap exposes both ErrFormat and the cause to errors.Is and errors.As.
func (e *FormatError) Unwrap() []error {
	return []error{ErrFormat, e.Err}
}
