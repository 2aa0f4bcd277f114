package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/attribution-runner/internal/domain"
	"github.com/animus-labs/attribution-runner/internal/graphapi"
)

// DatasetInfoGetter is the read-only part of the collaborator the dataset lookup needs.
type DatasetInfoGetter interface {
	GetDatasetInfo(ctx context.Context, datasetID string, fields []string) (domain.DatasetInfo, error)
}

type DatasetResolver struct {
	api    DatasetInfoGetter
	logger *slog.Logger
}

func NewDatasetResolver(api DatasetInfoGetter, logger *slog.Logger) *DatasetResolver {
	if api == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DatasetResolver{api: api, logger: logger}
}

// ResolveDataset returns the window whose rule matches and whose timestamp is
// exactly the requested instant.
func (r *DatasetResolver) ResolveDataset(ctx context.Context, datasetID string, rule domain.AttributionRule, ts time.Time) (domain.DatasetWindow, error) {
	datasetID = strings.TrimSpace(datasetID)
	if datasetID == "" {
		return domain.DatasetWindow{}, fmt.Errorf("dataset id is required")
	}
	info, err := r.api.GetDatasetInfo(ctx, datasetID, graphapi.DefaultDatasetFields)
	if err != nil {
		return domain.DatasetWindow{}, err
	}
	if len(info.Windows) == 0 {
		return domain.DatasetWindow{}, fmt.Errorf("dataset %s: %w", datasetID, domain.ErrNoDatasetFound)
	}

	window, ok := matchWindow(info.Windows, rule, ts)
	if !ok {
		return domain.DatasetWindow{}, fmt.Errorf("dataset %s rule %s at %s: %w",
			datasetID, rule, ts.UTC().Format(time.RFC3339), domain.ErrNoMatchingWindow)
	}
	r.logger.Info("dataset window resolved",
		"dataset_id", datasetID,
		"attribution_rule", string(rule),
		"timestamp", window.Timestamp.UTC().Format(time.RFC3339),
	)
	return window, nil
}

func matchWindow(windows []domain.DatasetWindow, rule domain.AttributionRule, ts time.Time) (domain.DatasetWindow, bool) {
	for _, w := range windows {
		if w.AttributionRule != rule {
			continue
		}
		if w.Timestamp.Equal(ts) {
			return w, true
		}
	}
	return domain.DatasetWindow{}, false
}
