package attribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/animus-labs/attribution-runner/internal/domain"
	"github.com/animus-labs/attribution-runner/internal/execution/driver"
	"github.com/animus-labs/attribution-runner/internal/execution/resolver"
	"github.com/animus-labs/attribution-runner/internal/execution/stageflow"
	"github.com/animus-labs/attribution-runner/internal/graphapi"
	"github.com/animus-labs/attribution-runner/internal/inputvalidator"
	"github.com/animus-labs/attribution-runner/internal/platform/requestid"
)

// Collaborator is the computation API surface the service needs.
type Collaborator interface {
	resolver.DatasetInfoGetter
	resolver.InstanceAPI
}

// InputSource opens input files and expands directories or prefixes into shards.
type InputSource interface {
	inputvalidator.Opener
	Expand(ctx context.Context, uri string) ([]string, error)
}

type FlowRunner interface {
	Run(ctx context.Context, in driver.RunInput) (driver.Outcome, error)
}

type Request struct {
	DatasetID           string
	InputPath           string
	Timestamp           string
	AttributionRule     domain.AttributionRule
	AggregationType     domain.AggregationType
	Concurrency         int
	FilesPerContainer   int
	KAnonymityThreshold int
	StageFlow           string
	RetryBudget         int
	SkipInputValidation bool
}

// Result describes one invocation. RunID is also sent as the request id on
// every collaborator call of the invocation.
type Result struct {
	RunID           string
	InstanceID      string
	Created         bool
	Window          domain.DatasetWindow
	StartIndex      int
	AlreadyComplete bool
	InputReports    []*inputvalidator.Report
	Outcome         driver.Outcome
}

type Service struct {
	api       Collaborator
	datasets  *resolver.DatasetResolver
	instances *resolver.InstanceResolver
	flows     *stageflow.Catalog
	runner    FlowRunner
	inputs    InputSource
	registry  *inputvalidator.Registry
	logger    *slog.Logger
}

// ErrNoRunner is returned by RunAttribution when the service was built for
// read-only commands.
var ErrNoRunner = errors.New("no flow runner configured")

// New wires the service. runner may be nil for read-only use; inputs may be nil
// when input pre-checks are always skipped.
func New(api Collaborator, runner FlowRunner, flows *stageflow.Catalog, inputs InputSource, logger *slog.Logger) *Service {
	if api == nil {
		return nil
	}
	if flows == nil {
		flows = stageflow.DefaultCatalog()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		api:       api,
		datasets:  resolver.NewDatasetResolver(api, logger),
		instances: resolver.NewInstanceResolver(api, logger),
		flows:     flows,
		runner:    runner,
		inputs:    inputs,
		registry:  inputvalidator.DefaultRegistry(),
		logger:    logger,
	}
}

// RunAttribution resolves the request to an instance and drives it through the
// stage flow. A run that stops part-way can be resumed by calling again with
// the same dataset, rule and timestamp.
func (s *Service) RunAttribution(ctx context.Context, req Request) (Result, error) {
	if s.runner == nil {
		return Result{}, ErrNoRunner
	}
	datasetID := strings.TrimSpace(req.DatasetID)
	if datasetID == "" {
		return Result{}, errors.New("dataset id is required")
	}
	if req.AttributionRule == "" {
		return Result{}, errors.New("attribution rule is required")
	}
	if req.RetryBudget < 0 {
		return Result{}, fmt.Errorf("retry budget must be >= 0, got %d", req.RetryBudget)
	}
	ts, err := resolver.ParseTimestamp(req.Timestamp)
	if err != nil {
		return Result{}, err
	}
	flowName := strings.TrimSpace(req.StageFlow)
	if flowName == "" {
		flowName = stageflow.DefaultAttributionFlow
	}
	flow, err := s.flows.Lookup(flowName)
	if err != nil {
		return Result{}, err
	}
	if flow.GameType != domain.GameAttribution {
		return Result{}, fmt.Errorf("stage flow %s runs %s, not %s", flow.Name, flow.GameType, domain.GameAttribution)
	}
	aggregation := req.AggregationType
	if aggregation == "" {
		aggregation = domain.AggregationMeasurement
	}

	runID := requestid.FromContext(ctx)
	ctx = requestid.WithContext(ctx, runID)
	logger := s.logger.With("run_id", runID, "dataset_id", datasetID, "attribution_rule", string(req.AttributionRule))
	result := Result{RunID: runID}

	if !req.SkipInputValidation {
		reports, err := s.checkInput(ctx, req.InputPath, req.Concurrency)
		result.InputReports = reports
		if err != nil {
			return result, err
		}
	}

	window, err := s.datasets.ResolveDataset(ctx, datasetID, req.AttributionRule, ts)
	if err != nil {
		return result, err
	}
	result.Window = window

	res, err := s.instances.ResolveOrCreateInstance(ctx, datasetID, req.AttributionRule, ts)
	if err != nil {
		return result, err
	}
	inst := res.Instance
	result.InstanceID = inst.ID
	result.Created = res.Created
	logger = logger.With("instance_id", inst.ID)

	start, err := flow.ResumeIndex(inst.Status)
	if err != nil {
		return result, &domain.InstanceError{InstanceID: inst.ID, Err: err}
	}
	result.StartIndex = start
	if start >= len(flow.Stages) {
		result.AlreadyComplete = true
		logger.Info("instance already completed every stage", "status", string(inst.Status))
		return result, nil
	}

	numContainers := inst.NumContainers
	if numContainers <= 0 {
		numContainers = window.ContainerCount
	}
	numShards := inst.NumShards
	if numShards <= 0 {
		numShards = window.ShardCount
	}

	logger.Info("running instance", "flow", flow.Name, "start_stage", flow.Stages[start].Name, "num_containers", numContainers, "num_shards", numShards)
	outcome, err := s.runner.Run(ctx, driver.RunInput{
		RunID:       runID,
		InstanceID:  inst.ID,
		Flow:        flow,
		RetryBudget: req.RetryBudget,
		StartIndex:  start,
		Params: domain.ExecutionParams{
			AttributionRule:     req.AttributionRule,
			AggregationType:     aggregation,
			InputPath:           req.InputPath,
			Concurrency:         req.Concurrency,
			FilesPerContainer:   req.FilesPerContainer,
			KAnonymityThreshold: req.KAnonymityThreshold,
		},
		NumContainers: numContainers,
		NumShards:     numShards,
	})
	result.Outcome = outcome
	if err != nil {
		return result, withInstance(inst.ID, err)
	}
	logger.Info("finished running instance", "stages_run", outcome.StagesRun, "final_status", string(outcome.FinalStatus))
	return result, nil
}

// DatasetInfo returns every window the collaborator knows for a dataset.
func (s *Service) DatasetInfo(ctx context.Context, datasetID string) (domain.DatasetInfo, error) {
	datasetID = strings.TrimSpace(datasetID)
	if datasetID == "" {
		return domain.DatasetInfo{}, errors.New("dataset id is required")
	}
	info, err := s.api.GetDatasetInfo(ctx, datasetID, graphapi.DefaultDatasetFields)
	if err != nil {
		return domain.DatasetInfo{}, err
	}
	if len(info.Windows) == 0 {
		return info, fmt.Errorf("dataset %s: %w", datasetID, domain.ErrNoDatasetFound)
	}
	return info, nil
}

// ValidateInput checks every shard under path without touching the collaborator.
func (s *Service) ValidateInput(ctx context.Context, path string, concurrency int, opts inputvalidator.FileOptions) ([]*inputvalidator.Report, error) {
	if s.inputs == nil {
		return nil, errors.New("input source is not configured")
	}
	return ValidateInput(ctx, s.registry, s.inputs, path, concurrency, opts)
}

// ValidateInput expands path into shards and validates them against registry.
func ValidateInput(ctx context.Context, registry *inputvalidator.Registry, inputs InputSource, path string, concurrency int, opts inputvalidator.FileOptions) ([]*inputvalidator.Report, error) {
	if registry == nil {
		registry = inputvalidator.DefaultRegistry()
	}
	uris, err := inputs.Expand(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(uris) == 0 {
		return nil, fmt.Errorf("no input files under %s", path)
	}
	return registry.ValidateFiles(ctx, inputs, uris, concurrency, opts)
}

func (s *Service) checkInput(ctx context.Context, path string, concurrency int) ([]*inputvalidator.Report, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("input path is required unless input validation is skipped")
	}
	reports, err := s.ValidateInput(ctx, path, concurrency, inputvalidator.FileOptions{Type: inputvalidator.ComputationAttribution})
	if err != nil {
		return reports, fmt.Errorf("validate input: %w", err)
	}
	for _, report := range reports {
		if err := report.Err(); err != nil {
			s.logger.Warn("input file failed validation", "source", report.Source, "issues", report.TotalIssues())
			return reports, fmt.Errorf("input %s: %w", report.Source, err)
		}
	}
	return reports, nil
}

func withInstance(instanceID string, err error) error {
	var instErr *domain.InstanceError
	var abort *domain.AbortError
	if errors.As(err, &instErr) || errors.As(err, &abort) {
		return err
	}
	return &domain.InstanceError{InstanceID: instanceID, Err: err}
}
