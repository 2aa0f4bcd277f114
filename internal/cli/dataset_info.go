package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/animus-labs/attribution-runner/internal/domain"
	"github.com/animus-labs/attribution-runner/internal/graphapi"
	"github.com/animus-labs/attribution-runner/internal/service/attribution"
)

// NewDatasetInfoCommand lists the windows the computation API reports for a dataset.
func NewDatasetInfoCommand(rootOpts *RootOptions) *cobra.Command {
	var datasetID string

	cmd := &cobra.Command{
		Use:   "dataset-info",
		Short: "Show the attribution windows of a dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			if err := cfg.GraphAPI.Validate(); err != nil {
				return usageError("config validation failed", err)
			}
			logger := NewLogger(cmd.ErrOrStderr(), cfg.Log)
			api, err := graphapi.New(cmd.Context(), cfg.GraphAPI, nil, logger)
			if err != nil {
				return usageError("computation api client init failed", err)
			}
			info, err := attribution.New(api, nil, nil, nil, logger).DatasetInfo(cmd.Context(), datasetID)
			if err != nil {
				return runFailure("dataset info", err)
			}
			return printDatasetInfo(cmd.OutOrStdout(), rootOpts.Output, info)
		},
	}

	cmd.Flags().StringVar(&datasetID, "dataset-id", "", "dataset id (required)")
	_ = cmd.MarkFlagRequired("dataset-id")

	return cmd
}

type windowSummary struct {
	AttributionRule string `json:"attribution_rule"`
	Timestamp       string `json:"timestamp"`
	Epoch           int64  `json:"epoch"`
	NumContainers   int    `json:"num_containers"`
	NumShards       int    `json:"num_shards"`
}

type datasetSummary struct {
	DatasetID        string          `json:"dataset_id"`
	AdObjectID       string          `json:"ad_object_id,omitempty"`
	TargetObjectType string          `json:"target_object_type,omitempty"`
	Windows          []windowSummary `json:"windows"`
}

func printDatasetInfo(w io.Writer, output string, info domain.DatasetInfo) error {
	summary := datasetSummary{
		DatasetID:        info.DatasetID,
		AdObjectID:       info.AdObjectID,
		TargetObjectType: info.TargetObjectType,
	}
	for _, win := range info.Windows {
		summary.Windows = append(summary.Windows, windowSummary{
			AttributionRule: win.AttributionRule.Value(),
			Timestamp:       win.Timestamp.UTC().Format(time.RFC3339),
			Epoch:           win.Timestamp.Unix(),
			NumContainers:   win.ContainerCount,
			NumShards:       win.ShardCount,
		})
	}
	if output == "json" {
		return emitJSON(w, "dataset-info", outcomeOK, summary, nil)
	}

	fmt.Fprintf(w, "dataset %s", summary.DatasetID)
	if summary.AdObjectID != "" {
		fmt.Fprintf(w, " (ad object %s)", summary.AdObjectID)
	}
	fmt.Fprintln(w)
	for _, win := range summary.Windows {
		fmt.Fprintf(w, "  %-16s %s  containers=%d shards=%d\n", win.AttributionRule, win.Timestamp, win.NumContainers, win.NumShards)
	}
	return nil
}
