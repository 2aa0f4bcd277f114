package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNoDatasetFound   = errors.New("no dataset found")
	ErrNoMatchingWindow = errors.New("no dataset window matches the requested rule and timestamp")
	ErrInvalidTimestamp = errors.New("timestamp must be YYYY-MM-DD or epoch seconds")
	ErrStageAborted     = errors.New("stage retries exhausted")
	ErrUnknownStatus    = errors.New("unknown instance status")
)

// AbortError reports the stage that exhausted its retry budget.
type AbortError struct {
	InstanceID string
	Stage      string
	Attempts   int
	Cause      error
}

func (e *AbortError) Error() string {
	msg := fmt.Sprintf("instance %s: stage %s aborted after %d attempts", e.InstanceID, e.Stage, e.Attempts)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *AbortError) Is(target error) bool {
	return target == ErrStageAborted
}

func (e *AbortError) Unwrap() error {
	return e.Cause
}

// InstanceError attaches the resolved instance id to a fatal run error.
type InstanceError struct {
	InstanceID string
	Err        error
}

func (e *InstanceError) Error() string {
	if e.InstanceID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("instance %s: %v", e.InstanceID, e.Err)
}

func (e *InstanceError) Unwrap() error {
	return e.Err
}
