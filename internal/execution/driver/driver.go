package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/attribution-runner/internal/domain"
	"github.com/animus-labs/attribution-runner/internal/execution/stageflow"
	"github.com/animus-labs/attribution-runner/internal/repo"
	"github.com/animus-labs/attribution-runner/internal/runtimeexec"
)

const DefaultRetryBudget = 2

type StageState string

const (
	StagePending   StageState = "Pending"
	StageRunning   StageState = "Running"
	StageSucceeded StageState = "Succeeded"
	StageFailed    StageState = "Failed"
	// StageResumed marks stages an earlier invocation already completed.
	StageResumed StageState = "Resumed"
)

type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "Succeeded"
	OutcomeAborted   OutcomeStatus = "Aborted"
	OutcomeCancelled OutcomeStatus = "Cancelled"
)

// StageRunner executes one attempt of a stage.
type StageRunner interface {
	ExecuteStage(ctx context.Context, req runtimeexec.StageRequest) error
}

// StatusObserver reads the instance status once the flow finishes.
type StatusObserver interface {
	GetInstance(ctx context.Context, instanceID string) (domain.Instance, error)
}

type RunInput struct {
	RunID         string
	InstanceID    string
	Flow          stageflow.Flow
	RetryBudget   int
	Params        domain.ExecutionParams
	StartIndex    int
	NumContainers int
	NumShards     int
}

type StageResult struct {
	Name     string
	State    StageState
	Attempts int
	Error    string
}

type Outcome struct {
	RunID       string
	InstanceID  string
	Status      OutcomeStatus
	Stages      []StageResult
	StagesRun   int
	FailedStage string
	Attempts    int
	FinalStatus domain.InstanceStatus
	Elapsed     time.Duration
}

type Options struct {
	RetryBackoff       time.Duration
	ObserveFinalStatus bool
}

type Driver struct {
	runner   StageRunner
	observer StatusObserver
	ledger   repo.StageAttemptRepository
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// New builds a Driver. observer and ledger may be nil.
func New(runner StageRunner, observer StatusObserver, ledger repo.StageAttemptRepository, opts Options, logger *slog.Logger) *Driver {
	if runner == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		runner:   runner,
		observer: observer,
		ledger:   ledger,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func (d *Driver) Run(ctx context.Context, in RunInput) (Outcome, error) {
	instanceID := strings.TrimSpace(in.InstanceID)
	if instanceID == "" {
		return Outcome{}, errors.New("instance id is required")
	}
	if err := in.Flow.Validate(); err != nil {
		return Outcome{}, &domain.InstanceError{InstanceID: instanceID, Err: err}
	}
	if in.RetryBudget < 0 {
		return Outcome{}, &domain.InstanceError{InstanceID: instanceID, Err: fmt.Errorf("retry budget must be >= 0, got %d", in.RetryBudget)}
	}
	if in.StartIndex < 0 || in.StartIndex > len(in.Flow.Stages) {
		return Outcome{}, &domain.InstanceError{InstanceID: instanceID, Err: fmt.Errorf("start index %d out of range", in.StartIndex)}
	}
	runID := strings.TrimSpace(in.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}

	started := d.now()
	logger := d.logger.With("instance_id", instanceID, "run_id", runID, "flow", in.Flow.Name)
	out := Outcome{
		RunID:      runID,
		InstanceID: instanceID,
		Stages:     make([]StageResult, len(in.Flow.Stages)),
	}
	for i, stage := range in.Flow.Stages {
		state := StagePending
		if i < in.StartIndex {
			state = StageResumed
		}
		out.Stages[i] = StageResult{Name: stage.Name, State: state}
	}
	logger.Info("stage flow started", "stages", len(in.Flow.Stages), "start_index", in.StartIndex, "retry_budget", in.RetryBudget)

	for i := in.StartIndex; i < len(in.Flow.Stages); i++ {
		stage := in.Flow.Stages[i]
		result, err := d.runStage(ctx, logger, runID, in, stage)
		out.Stages[i] = result
		out.Attempts += result.Attempts
		if err == nil {
			out.StagesRun++
			continue
		}
		out.Elapsed = d.now().Sub(started)
		out.FailedStage = stage.Name
		var abort *domain.AbortError
		if errors.As(err, &abort) {
			out.Status = OutcomeAborted
			logger.Error("stage flow aborted", "stage", stage.Name, "attempts", abort.Attempts, "error", abort.Cause)
			return out, err
		}
		out.Status = OutcomeCancelled
		logger.Warn("stage flow interrupted", "stage", stage.Name, "error", err)
		return out, &domain.InstanceError{InstanceID: instanceID, Err: fmt.Errorf("stage %s: %w", stage.Name, err)}
	}

	out.Status = OutcomeSucceeded
	out.Elapsed = d.now().Sub(started)
	if d.opts.ObserveFinalStatus && d.observer != nil {
		out.FinalStatus = d.observeFinalStatus(ctx, logger, instanceID)
	}
	logger.Info("stage flow succeeded",
		"stages_run", out.StagesRun,
		"attempts", out.Attempts,
		"final_status", string(out.FinalStatus),
		"elapsed", out.Elapsed.String(),
	)
	return out, nil
}

// runStage returns nil on success, *domain.AbortError when the budget is
// spent, or the context error when interrupted.
func (d *Driver) runStage(ctx context.Context, logger *slog.Logger, runID string, in RunInput, stage stageflow.Stage) (StageResult, error) {
	result := StageResult{Name: stage.Name, State: StagePending}
	logger = logger.With("stage", stage.Name)
	failures := 0
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.State = StageRunning
		startedAt := d.now().UTC()
		logger.Info("stage attempt started", "attempt", attempt, "state", string(StageRunning))
		d.record(ctx, logger, repo.StageAttemptRecord{
			RunID:      runID,
			InstanceID: in.InstanceID,
			StageName:  stage.Name,
			Attempt:    attempt,
			Status:     repo.AttemptRunning,
			StartedAt:  startedAt,
		})

		err := d.runner.ExecuteStage(ctx, runtimeexec.StageRequest{
			InstanceID:    in.InstanceID,
			Attempt:       attempt,
			Stage:         stage,
			GameType:      in.Flow.GameType,
			NumContainers: in.NumContainers,
			NumShards:     in.NumShards,
			Params:        in.Params,
		})
		finishedAt := d.now().UTC()
		record := repo.StageAttemptRecord{
			RunID:      runID,
			InstanceID: in.InstanceID,
			StageName:  stage.Name,
			Attempt:    attempt,
			StartedAt:  startedAt,
			FinishedAt: &finishedAt,
		}

		if err == nil {
			result.State = StageSucceeded
			result.Attempts = failures + 1
			result.Error = ""
			record.Status = repo.AttemptSucceeded
			d.record(ctx, logger, record)
			logger.Info("stage attempt succeeded", "attempt", attempt, "state", string(StageSucceeded))
			return result, nil
		}

		if ctx.Err() != nil {
			record.Status = repo.AttemptCancelled
			record.ErrorMessage = ctx.Err().Error()
			d.record(ctx, logger, record)
			logger.Warn("stage attempt cancelled", "attempt", attempt)
			return result, ctx.Err()
		}

		failures++
		result.State = StageFailed
		result.Attempts = failures
		result.Error = err.Error()
		record.Status = repo.AttemptFailed
		record.ErrorMessage = err.Error()
		d.record(ctx, logger, record)
		logger.Warn("stage attempt failed",
			"attempt", attempt,
			"state", string(StageFailed),
			"failures", failures,
			"retry_budget", in.RetryBudget,
			"error", err,
		)

		if failures > in.RetryBudget {
			return result, &domain.AbortError{
				InstanceID: in.InstanceID,
				Stage:      stage.Name,
				Attempts:   failures,
				Cause:      err,
			}
		}
		if err := d.sleep(ctx, d.opts.RetryBackoff); err != nil {
			return result, err
		}
	}
}

func (d *Driver) record(ctx context.Context, logger *slog.Logger, rec repo.StageAttemptRecord) {
	if d.ledger == nil {
		return
	}
	// Cancelled attempts are still written after the run context is done.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, _, err := d.ledger.InsertAttempt(wctx, rec); err != nil {
		logger.Warn("record stage attempt failed", "attempt", rec.Attempt, "status", rec.Status, "error", err)
	}
}

func (d *Driver) observeFinalStatus(ctx context.Context, logger *slog.Logger, instanceID string) domain.InstanceStatus {
	inst, err := d.observer.GetInstance(ctx, instanceID)
	if err != nil {
		logger.Warn("observe final instance status failed", "error", err)
		return ""
	}
	if !inst.Status.IsTerminalSuccess() {
		logger.Warn("instance has not reached the terminal status yet", "status", string(inst.Status))
	}
	return inst.Status
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
