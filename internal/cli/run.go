package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/animus-labs/attribution-runner/internal/config"
	"github.com/animus-labs/attribution-runner/internal/domain"
	"github.com/animus-labs/attribution-runner/internal/execution/driver"
	"github.com/animus-labs/attribution-runner/internal/graphapi"
	"github.com/animus-labs/attribution-runner/internal/repo"
	"github.com/animus-labs/attribution-runner/internal/runtimeexec"
	"github.com/animus-labs/attribution-runner/internal/service/attribution"
)

// RunOptions holds flags for the run command. Zero numeric values fall back to
// the run section of the config.
type RunOptions struct {
	DatasetID           string
	InputPath           string
	Timestamp           string
	AttributionRule     string
	AggregationType     string
	Concurrency         int
	FilesPerContainer   int
	KAnonymityThreshold int
	StageFlow           string
	RetryBudget         int
	SkipInputValidation bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run or resume an attribution computation",
		Long: `Resolves the dataset window for the attribution rule and timestamp, reuses an
unfinished instance or creates one, and drives it through the stage flow from
the first stage that has not completed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttribution(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.DatasetID, "dataset-id", "", "dataset id (required)")
	cmd.Flags().StringVar(&opts.InputPath, "input-path", "", "input file, directory, or s3:// prefix")
	cmd.Flags().StringVar(&opts.Timestamp, "timestamp", "", "window timestamp, YYYY-MM-DD or epoch seconds (required)")
	cmd.Flags().StringVar(&opts.AttributionRule, "attribution-rule", "", "attribution rule, e.g. last_click_1d (required)")
	cmd.Flags().StringVar(&opts.AggregationType, "aggregation-type", string(domain.AggregationMeasurement), "aggregation type")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "stage concurrency (default from config)")
	cmd.Flags().IntVar(&opts.FilesPerContainer, "files-per-container", 0, "input files per container (default from config)")
	cmd.Flags().IntVar(&opts.KAnonymityThreshold, "k-anonymity-threshold", 0, "k-anonymity threshold (default from config)")
	cmd.Flags().StringVar(&opts.StageFlow, "stage-flow", "", "stage flow name (default from config)")
	cmd.Flags().IntVar(&opts.RetryBudget, "retry-budget", -1, "extra attempts per failed stage (default from config)")
	cmd.Flags().BoolVar(&opts.SkipInputValidation, "skip-input-validation", false, "skip the local input check")

	return cmd
}

func runAttribution(cmd *cobra.Command, rootOpts *RootOptions, opts *RunOptions) error {
	cfg, err := rootOpts.load()
	if err != nil {
		return err
	}
	req, err := buildRequest(cfg.Run, opts)
	if err != nil {
		return usageError("invalid run flags", err)
	}
	if err := cfg.ValidateForRun(); err != nil {
		return usageError("config validation failed", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := NewLogger(cmd.ErrOrStderr(), cfg.Log)

	api, err := graphapi.New(ctx, cfg.GraphAPI, nil, logger)
	if err != nil {
		return usageError("computation api client init failed", err)
	}
	stages, err := runtimeexec.New(cfg.Executor, logger)
	if err != nil {
		return usageError("stage executor init failed", err)
	}
	catalog, err := newCatalog(cfg)
	if err != nil {
		return usageError("load stage flows", err)
	}
	var inputs attribution.InputSource
	if !req.SkipInputValidation {
		opener, err := newInputs(ctx, cfg, req.InputPath)
		if err != nil {
			return usageError("input source init failed", err)
		}
		inputs = opener
	}

	store, closeLedger, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return runFailure("stage-attempt ledger unavailable", err)
	}
	defer closeLedger()
	var ledger repo.StageAttemptRepository
	if store != nil {
		ledger = store
	}

	runner := driver.New(stages, api, ledger, driver.Options{
		RetryBackoff:       cfg.Run.RetryBackoff,
		ObserveFinalStatus: cfg.Run.ObserveFinalStatus,
	}, logger)
	svc := attribution.New(api, runner, catalog, inputs, logger)

	result, runErr := svc.RunAttribution(ctx, req)
	if err := printRunResult(cmd.OutOrStdout(), rootOpts.Output, result, runErr); err != nil {
		return err
	}
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return runFailure("run interrupted", runErr)
		}
		return runFailure("run failed", runErr)
	}
	return nil
}

func buildRequest(defaults config.RunConfig, opts *RunOptions) (attribution.Request, error) {
	if strings.TrimSpace(opts.DatasetID) == "" {
		return attribution.Request{}, errors.New("--dataset-id is required")
	}
	if strings.TrimSpace(opts.Timestamp) == "" {
		return attribution.Request{}, errors.New("--timestamp is required")
	}
	rule, err := domain.ParseAttributionRule(opts.AttributionRule)
	if err != nil {
		return attribution.Request{}, err
	}
	aggregation, err := domain.ParseAggregationType(opts.AggregationType)
	if err != nil {
		return attribution.Request{}, err
	}
	if !opts.SkipInputValidation && strings.TrimSpace(opts.InputPath) == "" {
		return attribution.Request{}, errors.New("--input-path is required unless --skip-input-validation is set")
	}

	req := attribution.Request{
		DatasetID:           strings.TrimSpace(opts.DatasetID),
		InputPath:           strings.TrimSpace(opts.InputPath),
		Timestamp:           strings.TrimSpace(opts.Timestamp),
		AttributionRule:     rule,
		AggregationType:     aggregation,
		Concurrency:         firstPositive(opts.Concurrency, defaults.Concurrency),
		FilesPerContainer:   firstPositive(opts.FilesPerContainer, defaults.FilesPerContainer),
		KAnonymityThreshold: firstPositive(opts.KAnonymityThreshold, defaults.KAnonymityThreshold),
		StageFlow:           strings.TrimSpace(opts.StageFlow),
		RetryBudget:         opts.RetryBudget,
		SkipInputValidation: opts.SkipInputValidation,
	}
	if req.StageFlow == "" {
		req.StageFlow = defaults.StageFlow
	}
	if req.RetryBudget < 0 {
		req.RetryBudget = defaults.RetryBudget
	}
	return req, nil
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

type runSummary struct {
	RunID           string               `json:"run_id,omitempty"`
	InstanceID      string               `json:"instance_id,omitempty"`
	Created         bool                 `json:"created"`
	AlreadyComplete bool                 `json:"already_complete"`
	StartIndex      int                  `json:"start_index"`
	Status          driver.OutcomeStatus `json:"status,omitempty"`
	StagesRun       int                  `json:"stages_run"`
	Attempts        int                  `json:"attempts"`
	FailedStage     string               `json:"failed_stage,omitempty"`
	FinalStatus     string               `json:"final_status,omitempty"`
	Stages          []stageSummary       `json:"stages,omitempty"`
}

type stageSummary struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

func summarizeRun(result attribution.Result) runSummary {
	out := runSummary{
		RunID:           result.RunID,
		InstanceID:      result.InstanceID,
		Created:         result.Created,
		AlreadyComplete: result.AlreadyComplete,
		StartIndex:      result.StartIndex,
		Status:          result.Outcome.Status,
		StagesRun:       result.Outcome.StagesRun,
		Attempts:        result.Outcome.Attempts,
		FailedStage:     result.Outcome.FailedStage,
		FinalStatus:     string(result.Outcome.FinalStatus),
	}
	for _, stage := range result.Outcome.Stages {
		out.Stages = append(out.Stages, stageSummary{
			Name:     stage.Name,
			State:    string(stage.State),
			Attempts: stage.Attempts,
			Error:    stage.Error,
		})
	}
	return out
}

func printRunResult(w io.Writer, output string, result attribution.Result, runErr error) error {
	summary := summarizeRun(result)
	if output == "json" {
		status := outcomeOK
		if runErr != nil {
			status = outcomeFailed
		}
		return emitJSON(w, "run", status, summary, runErr)
	}

	if summary.InstanceID == "" {
		return nil
	}
	verb := "reused"
	if summary.Created {
		verb = "created"
	}
	fmt.Fprintf(w, "instance %s (%s), run %s\n", summary.InstanceID, verb, summary.RunID)
	if summary.AlreadyComplete {
		fmt.Fprintln(w, "all stages already completed")
		return nil
	}
	for _, stage := range summary.Stages {
		fmt.Fprintf(w, "  %-28s %-10s attempts=%d\n", stage.Name, stage.State, stage.Attempts)
	}
	if summary.Status != "" {
		fmt.Fprintf(w, "outcome: %s\n", summary.Status)
	}
	if summary.FinalStatus != "" {
		fmt.Fprintf(w, "instance status: %s\n", summary.FinalStatus)
	}
	return nil
}
