package runtimeexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/attribution-runner/internal/domain"
	"github.com/animus-labs/attribution-runner/internal/execution/stageflow"
)

const (
	defaultPollInterval      = 10 * time.Second
	maxConsecutiveInspectErr = 5
	cancelTimeout            = 30 * time.Second
)

// StageRequest is one attempt of one stage for an instance.
type StageRequest struct {
	InstanceID    string
	Attempt       int
	Stage         stageflow.Stage
	GameType      domain.GameType
	NumContainers int
	NumShards     int
	Params        domain.ExecutionParams
}

type StageOptions struct {
	Image        string
	Namespace    string
	PollInterval time.Duration
	Resources    map[string]any
}

// StageExecutor fans a stage out to containers on a runtime and waits for them.
type StageExecutor struct {
	runtime      Executor
	image        string
	namespace    string
	pollInterval time.Duration
	resources    map[string]any
	logger       *slog.Logger
	sleep        func(ctx context.Context, d time.Duration) error
}

func NewStageExecutor(runtime Executor, opts StageOptions, logger *slog.Logger) (*StageExecutor, error) {
	if runtime == nil {
		return nil, errors.New("runtime executor is required")
	}
	image := strings.TrimSpace(opts.Image)
	if image == "" {
		return nil, errors.New("stage image is required")
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StageExecutor{
		runtime:      runtime,
		image:        image,
		namespace:    strings.TrimSpace(opts.Namespace),
		pollInterval: poll,
		resources:    opts.Resources,
		logger:       logger,
		sleep:        sleepContext,
	}, nil
}

// ContainerCount is how many containers a stage of the given kind launches.
func ContainerCount(kind stageflow.ContainerKind, numContainers, numShards int) int {
	switch kind {
	case stageflow.ContainersNone:
		return 0
	case stageflow.ContainersPID:
		return max(1, numContainers)
	case stageflow.ContainersMPC:
		return max(1, numShards)
	default:
		return 1
	}
}

// ExecuteStage returns nil once every container succeeded, a
// *StageFailedError when any failed, or the context error on cancellation.
func (s *StageExecutor) ExecuteStage(ctx context.Context, req StageRequest) error {
	if strings.TrimSpace(req.InstanceID) == "" {
		return errors.New("instance id is required")
	}
	count := ContainerCount(req.Stage.Containers, req.NumContainers, req.NumShards)
	logger := s.logger.With("instance_id", req.InstanceID, "stage", req.Stage.Name, "attempt", req.Attempt)
	if count == 0 {
		logger.Info("stage runs without containers")
		return nil
	}

	binaryURL := stageflow.BinaryURL(req.Stage.Binary)
	executions := make([]Execution, 0, count)
	for i := 0; i < count; i++ {
		spec := s.jobSpec(req, binaryURL, i, count)
		if err := s.runtime.Submit(ctx, spec); err != nil {
			if ctx.Err() != nil {
				s.cancelAll(ctx, logger, executions)
				return ctx.Err()
			}
			s.cancelAll(ctx, logger, executions)
			return &StageFailedError{Stage: req.Stage.Name, Container: spec.Name, Reason: "submit: " + err.Error()}
		}
		executions = append(executions, Execution{Name: spec.Name, Namespace: spec.Namespace})
	}
	logger.Info("stage containers submitted", "runtime", s.runtime.Kind(), "containers", count, "binary_url", binaryURL)

	err := s.wait(ctx, logger, req.Stage.Name, executions)
	if err == nil {
		return nil
	}
	var failed *StageFailedError
	if errors.As(err, &failed) {
		// wait has already cancelled the siblings of the failed container.
		return err
	}
	s.cancelAll(ctx, logger, executions)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (s *StageExecutor) jobSpec(req StageRequest, binaryURL string, index, count int) JobSpec {
	p := req.Params
	env := map[string]string{
		EnvInstanceID:          req.InstanceID,
		EnvStageName:           req.Stage.Name,
		EnvContainerIndex:      strconv.Itoa(index),
		EnvContainerCount:      strconv.Itoa(count),
		EnvBinaryURL:           binaryURL,
		EnvRepositoryPath:      stageflow.BinaryRepository(),
		EnvGameType:            string(req.GameType),
		EnvAggregationType:     p.AggregationType.Value(),
		EnvConcurrency:         strconv.Itoa(p.Concurrency),
		EnvFilesPerContainer:   strconv.Itoa(p.FilesPerContainer),
		EnvKAnonymityThreshold: strconv.Itoa(p.KAnonymityThreshold),
	}
	if p.AttributionRule != "" {
		env[EnvAttributionRule] = p.AttributionRule.Value()
	}
	if p.InputPath != "" {
		env[EnvInputPath] = p.InputPath
	}
	return JobSpec{
		Name:       containerName(req.InstanceID, req.Stage.Name, req.Attempt, index),
		InstanceID: req.InstanceID,
		Stage:      req.Stage.Name,
		Attempt:    req.Attempt,
		Index:      index,
		Count:      count,
		Image:      s.image,
		BinaryURL:  binaryURL,
		Env:        env,
		Resources:  s.resources,
		Namespace:  s.namespace,
	}
}

func (s *StageExecutor) wait(ctx context.Context, logger *slog.Logger, stage string, executions []Execution) error {
	done := make([]bool, len(executions))
	remaining := len(executions)
	inspectErrs := 0
	for {
		for i, ex := range executions {
			if done[i] {
				continue
			}
			obs, err := s.runtime.Inspect(ctx, ex)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				inspectErrs++
				if inspectErrs >= maxConsecutiveInspectErr {
					return fmt.Errorf("inspect %s: %w", ex.Name, err)
				}
				logger.Warn("inspect stage container failed", "container", ex.Name, "error", err)
				continue
			}
			inspectErrs = 0
			switch obs.Status {
			case ObservationSucceeded:
				done[i] = true
				remaining--
				logger.Info("stage container succeeded", "container", ex.Name)
			case ObservationFailed:
				s.cancelAll(ctx, logger, executions)
				reason := obs.Message
				if reason == "" {
					reason = "container failed"
				}
				return &StageFailedError{Stage: stage, Container: ex.Name, Reason: reason}
			}
		}
		if remaining == 0 {
			return nil
		}
		if err := s.sleep(ctx, s.pollInterval); err != nil {
			return err
		}
	}
}

// cancelAll stops the attempt's containers; it outlives a cancelled ctx.
func (s *StageExecutor) cancelAll(ctx context.Context, logger *slog.Logger, executions []Execution) {
	if len(executions) == 0 {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	for _, ex := range executions {
		if err := s.runtime.Cancel(cctx, ex); err != nil {
			logger.Warn("cancel stage container failed", "container", ex.Name, "error", err)
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
