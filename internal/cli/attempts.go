package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus-labs/attribution-runner/internal/repo"
)

// NewAttemptsCommand prints the stage-attempt ledger of an instance.
func NewAttemptsCommand(rootOpts *RootOptions) *cobra.Command {
	var instanceID string

	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Show recorded stage attempts for an instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			if !cfg.Database.Enabled() {
				return usageError("database.url is required to read the stage-attempt ledger", nil)
			}
			logger := NewLogger(cmd.ErrOrStderr(), cfg.Log)
			store, closeLedger, err := openLedger(cmd.Context(), cfg, logger)
			if err != nil {
				return runFailure("stage-attempt ledger unavailable", err)
			}
			defer closeLedger()

			records, err := store.ListByInstance(cmd.Context(), strings.TrimSpace(instanceID))
			if err != nil {
				return runFailure("list stage attempts", err)
			}
			return printAttempts(cmd.OutOrStdout(), rootOpts.Output, records)
		},
	}

	cmd.Flags().StringVar(&instanceID, "instance-id", "", "instance id (required)")
	_ = cmd.MarkFlagRequired("instance-id")

	return cmd
}

type attemptSummary struct {
	RunID      string `json:"run_id"`
	Stage      string `json:"stage"`
	Attempt    int    `json:"attempt"`
	Status     string `json:"status"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Error      string `json:"error,omitempty"`
}

func printAttempts(w io.Writer, output string, records []repo.StageAttemptRecord) error {
	summaries := make([]attemptSummary, 0, len(records))
	for _, rec := range records {
		s := attemptSummary{
			RunID:     rec.RunID,
			Stage:     rec.StageName,
			Attempt:   rec.Attempt,
			Status:    rec.Status,
			StartedAt: rec.StartedAt.UTC().Format(time.RFC3339),
			Error:     rec.ErrorMessage,
		}
		if rec.FinishedAt != nil {
			s.FinishedAt = rec.FinishedAt.UTC().Format(time.RFC3339)
		}
		summaries = append(summaries, s)
	}
	if output == "json" {
		return emitJSON(w, "attempts", outcomeOK, summaries, nil)
	}

	if len(summaries) == 0 {
		fmt.Fprintln(w, "no recorded attempts")
		return nil
	}
	for _, s := range summaries {
		fmt.Fprintf(w, "%s  %-26s #%d %-10s %s\n", s.StartedAt, s.Stage, s.Attempt, s.Status, s.RunID)
		if s.Error != "" {
			fmt.Fprintf(w, "    %s\n", s.Error)
		}
	}
	return nil
}
