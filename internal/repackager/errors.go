package repackager

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRepackagingFailed matches every failure of the repackaging tool.
var ErrRepackagingFailed = errors.New("repackaging failed")

// Error describes a failed tool run.
type Error struct {
	// ExitCode is the tool exit status, -1 when it never ran or was killed.
	ExitCode int
	// Tail holds the last lines the tool printed.
	Tail []string
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%v (exit code %d)", ErrRepackagingFailed, e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	if len(e.Tail) > 0 {
		msg += "\n" + strings.Join(e.Tail, "\n")
	}

	return msg
}

// Unwrap exposes ErrRepackagingFailed and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRepackagingFailed}
	}

	return []error{ErrRepackagingFailed, e.Err}
}
