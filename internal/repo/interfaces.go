package repo

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Stage attempt statuses recorded in the ledger.
const (
	AttemptRunning   = "Running"
	AttemptSucceeded = "Succeeded"
	AttemptFailed    = "Failed"
	AttemptCancelled = "Cancelled"
)

// StageAttemptRecord is one append-only row of the stage-attempt ledger. RunID
// identifies a single runner invocation; InstanceID correlates across invocations.
type StageAttemptRecord struct {
	ID           string
	RunID        string
	InstanceID   string
	StageName    string
	Attempt      int
	Status       string
	StartedAt    time.Time
	FinishedAt   *time.Time
	ErrorMessage string
}

// StageAttemptRepository records stage attempts. Inserts are idempotent on
// (run id, stage name, attempt, status).
type StageAttemptRepository interface {
	InsertAttempt(ctx context.Context, record StageAttemptRecord) (StageAttemptRecord, bool, error)
	ListByInstance(ctx context.Context, instanceID string) ([]StageAttemptRecord, error)
}
