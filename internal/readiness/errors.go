package readiness

import (
	"errors"
	"fmt"
)

// ErrAuthRedirect marks a navigation that landed on an authentication
// page instead of the requested target.
var ErrAuthRedirect = errors.New("navigation ended on an authentication redirect")

// NavigationError is the only hard failure the orchestrator produces.
// Everything after a successful navigation degrades to a warning.
type NavigationError struct {
	Target   string
	Status   int
	FinalURL string
	Err      error
}

func (e *NavigationError) Error() string {
	msg := fmt.Sprintf("navigation to %s failed", e.Target)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.FinalURL != "" && e.FinalURL != e.Target {
		msg += fmt.Sprintf(" (final url %s)", e.FinalURL)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *NavigationError) Unwrap() error {
	return e.Err
}
