package runtimeexec

import (
	"context"
	"fmt"
)

// Executor launches and observes a single stage container.
type Executor interface {
	Kind() string
	Submit(ctx context.Context, spec JobSpec) error
	Inspect(ctx context.Context, execution Execution) (Observation, error)
	Cancel(ctx context.Context, execution Execution) error
}

// JobSpec is one container of a stage attempt.
type JobSpec struct {
	Name       string
	InstanceID string
	Stage      string
	Attempt    int
	Index      int
	Count      int
	Image      string
	BinaryURL  string
	Args       []string
	Env        map[string]string
	Resources  map[string]any
	Namespace  string
}

type Execution struct {
	Name      string
	Namespace string
}

const (
	ObservationPending   = "pending"
	ObservationRunning   = "running"
	ObservationSucceeded = "succeeded"
	ObservationFailed    = "failed"
)

type Observation struct {
	Status  string
	Message string
	Details map[string]any
}

// StageFailedError is a stage attempt that ran and did not succeed.
type StageFailedError struct {
	Stage     string
	Container string
	Reason    string
}

func (e *StageFailedError) Error() string {
	if e.Container == "" {
		return fmt.Sprintf("stage %s failed: %s", e.Stage, e.Reason)
	}
	return fmt.Sprintf("stage %s failed in %s: %s", e.Stage, e.Container, e.Reason)
}
