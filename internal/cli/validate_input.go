package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/animus-labs/attribution-runner/internal/inputvalidator"
	"github.com/animus-labs/attribution-runner/internal/service/attribution"
)

type ValidateInputOptions struct {
	Type        string
	Concurrency int
	MaxIssues   int
}

// NewValidateInputCommand checks input shards without contacting the computation API.
func NewValidateInputCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateInputOptions{}

	cmd := &cobra.Command{
		Use:   "validate-input <path>",
		Short: "Validate input CSV files against the computation schema",
		Long: `Validates a file, a directory of shards, or an s3:// prefix. Without --type
the schema is detected from each file's header.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateInput(cmd, rootOpts, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Type, "type", "", "computation type (attribution|lift); detected when empty")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "files validated in parallel (default from config)")
	cmd.Flags().IntVar(&opts.MaxIssues, "max-issues", 0, "issues kept per file (default from config)")

	return cmd
}

func validateInput(cmd *cobra.Command, rootOpts *RootOptions, opts *ValidateInputOptions, path string) error {
	cfg, err := rootOpts.load()
	if err != nil {
		return err
	}
	fileOpts := inputvalidator.FileOptions{MaxIssues: firstPositive(opts.MaxIssues, cfg.Run.MaxInputIssues)}
	if opts.Type != "" {
		ct, err := inputvalidator.ParseComputationType(opts.Type)
		if err != nil {
			return usageError("invalid --type", err)
		}
		fileOpts.Type = ct
	}

	ctx := cmd.Context()
	inputs, err := newInputs(ctx, cfg, path)
	if err != nil {
		return usageError("input source init failed", err)
	}
	concurrency := firstPositive(opts.Concurrency, cfg.Run.Concurrency)
	reports, err := attribution.ValidateInput(ctx, inputvalidator.DefaultRegistry(), inputs, path, concurrency, fileOpts)
	if err != nil {
		return usageError("validate input", err)
	}

	invalid := 0
	for _, report := range reports {
		if !report.Valid() {
			invalid++
		}
	}
	if err := printReports(cmd.OutOrStdout(), rootOpts.Output, reports, invalid); err != nil {
		return err
	}
	if invalid > 0 {
		return runFailure(fmt.Sprintf("%d of %d input files failed validation", invalid, len(reports)), nil)
	}
	return nil
}

type reportSummary struct {
	Source    string         `json:"source"`
	Type      string         `json:"type"`
	Rows      int            `json:"rows"`
	ValidRows int            `json:"valid_rows"`
	Issues    int            `json:"issues"`
	Truncated bool           `json:"truncated,omitempty"`
	Messages  []string       `json:"messages,omitempty"`
	Counts    map[string]int `json:"counts,omitempty"`
}

func summarizeReport(report *inputvalidator.Report) reportSummary {
	out := reportSummary{
		Source:    report.Source,
		Type:      string(report.Type),
		Rows:      report.Rows,
		ValidRows: report.ValidRows,
		Issues:    report.TotalIssues(),
		Truncated: report.Truncated,
	}
	for kind, n := range report.Counts {
		if n == 0 {
			continue
		}
		if out.Counts == nil {
			out.Counts = map[string]int{}
		}
		out.Counts[string(kind)] = n
	}
	for _, issue := range report.Issues {
		out.Messages = append(out.Messages, issue.Error())
	}
	return out
}

func printReports(w io.Writer, output string, reports []*inputvalidator.Report, invalid int) error {
	summaries := make([]reportSummary, 0, len(reports))
	for _, report := range reports {
		summaries = append(summaries, summarizeReport(report))
	}
	if output == "json" {
		status := outcomeOK
		if invalid > 0 {
			status = outcomeInvalid
		}
		return emitJSON(w, "validate-input", status, summaries, nil)
	}

	for _, s := range summaries {
		mark := "✓"
		if s.Issues > 0 {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s (%s): %d rows, %d valid, %d issues\n", mark, s.Source, s.Type, s.Rows, s.ValidRows, s.Issues)
		for _, msg := range s.Messages {
			fmt.Fprintf(w, "    %s\n", msg)
		}
		if s.Truncated {
			fmt.Fprintln(w, "    (more issues omitted)")
		}
	}
	if invalid == 0 {
		fmt.Fprintf(w, "✓ All %d input files valid\n", len(summaries))
	}
	return nil
}
