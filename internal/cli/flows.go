package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/animus-labs/attribution-runner/internal/execution/stageflow"
)

// NewFlowsCommand lists the stage flows a run can select.
func NewFlowsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "flows",
		Short: "List available stage flows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			catalog, err := newCatalog(cfg)
			if err != nil {
				return usageError("load stage flows", err)
			}
			return printFlows(cmd.OutOrStdout(), rootOpts.Output, catalog)
		},
	}
}

type flowStage struct {
	Name       string `json:"name"`
	Status     string `json:"status_prefix"`
	Binary     string `json:"binary,omitempty"`
	BinaryURL  string `json:"binary_url,omitempty"`
	Containers string `json:"containers"`
}

type flowSummary struct {
	Name     string      `json:"name"`
	GameType string      `json:"game_type"`
	Stages   []flowStage `json:"stages"`
}

func printFlows(w io.Writer, output string, catalog *stageflow.Catalog) error {
	var flows []flowSummary
	for _, name := range catalog.Names() {
		flow, err := catalog.Lookup(name)
		if err != nil {
			return err
		}
		summary := flowSummary{Name: flow.Name, GameType: string(flow.GameType)}
		for _, stage := range flow.Stages {
			fs := flowStage{
				Name:       stage.Name,
				Status:     stage.StatusPrefix,
				Binary:     stage.Binary,
				Containers: string(stage.Containers),
			}
			if stage.Binary != "" {
				fs.BinaryURL = stageflow.BinaryURL(stage.Binary)
			}
			summary.Stages = append(summary.Stages, fs)
		}
		flows = append(flows, summary)
	}
	if output == "json" {
		return emitJSON(w, "flows", outcomeOK, flows, nil)
	}

	for _, flow := range flows {
		fmt.Fprintf(w, "%s (%s)\n", flow.Name, flow.GameType)
		for i, stage := range flow.Stages {
			fmt.Fprintf(w, "  %2d. %-26s %-6s %s\n", i+1, stage.Name, stage.Containers, stage.Binary)
		}
	}
	return nil
}
