package core

import (
	"errors"
	"fmt"
	"time"
)

// ScheduleRetryError instructs the dispatcher to retry the current task at an
// exact time instead of applying its generic backoff. Produced for
// rate-limited vendor calls and for refresh backoff re-arming.
type ScheduleRetryError struct {
	RetryAt time.Time
	Cause   error
}

func (e *ScheduleRetryError) Error() string {
	if e == nil {
		return "core: schedule retry"
	}
	return fmt.Sprintf("core: retry scheduled for %s: %v", e.RetryAt.UTC().Format(time.RFC3339), e.Cause)
}

func (e *ScheduleRetryError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewScheduleRetryError schedules a retry after the given delay from now.
func NewScheduleRetryError(cause error, retryAt time.Time) *ScheduleRetryError {
	return &ScheduleRetryError{RetryAt: retryAt.UTC(), Cause: cause}
}

// AsScheduleRetry extracts a scheduled-retry instruction from an error chain.
func AsScheduleRetry(err error) (*ScheduleRetryError, bool) {
	var scheduled *ScheduleRetryError
	if errors.As(err, &scheduled) && scheduled != nil {
		return scheduled, true
	}
	return nil, false
}

// TerminalTaskError marks a task failure as non-retriable: the dispatcher
// records the failure and does not reschedule. Used for classified
// unauthorized/not_admin errors and missing tenants.
type TerminalTaskError struct {
	Cause error
}

func (e *TerminalTaskError) Error() string {
	if e == nil || e.Cause == nil {
		return "core: terminal task failure"
	}
	return "core: terminal task failure: " + e.Cause.Error()
}

func (e *TerminalTaskError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func NewTerminalTaskError(cause error) *TerminalTaskError {
	return &TerminalTaskError{Cause: cause}
}

// IsTerminalTask reports whether err carries a non-retriable marker.
func IsTerminalTask(err error) bool {
	var terminal *TerminalTaskError
	return errors.As(err, &terminal)
}
