package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/attribution-runner/internal/domain"
)

// InstanceAPI is the collaborator surface used to find or create instances.
type InstanceAPI interface {
	GetExistingInstances(ctx context.Context, datasetID string) ([]domain.Instance, error)
	CreateInstance(ctx context.Context, datasetID string, timestamp time.Time, rule domain.AttributionRule, resultType domain.ResultType) (string, error)
	GetInstance(ctx context.Context, instanceID string) (domain.Instance, error)
}

// Resolution is the instance a run will drive.
type Resolution struct {
	Instance domain.Instance
	Created  bool
}

type InstanceResolver struct {
	api    InstanceAPI
	logger *slog.Logger
}

func NewInstanceResolver(api InstanceAPI, logger *slog.Logger) *InstanceResolver {
	if api == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InstanceResolver{api: api, logger: logger}
}

// ResolveOrCreateInstance reuses the first non-terminal instance for the key,
// creating one only when none exists, then loads its current metadata.
func (r *InstanceResolver) ResolveOrCreateInstance(ctx context.Context, datasetID string, rule domain.AttributionRule, ts time.Time) (Resolution, error) {
	datasetID = strings.TrimSpace(datasetID)
	if datasetID == "" {
		return Resolution{}, fmt.Errorf("dataset id is required")
	}
	existing, err := r.api.GetExistingInstances(ctx, datasetID)
	if err != nil {
		return Resolution{}, err
	}

	var (
		instanceID string
		created    bool
	)
	inst, ok, err := findReusable(existing, rule, ts)
	if err != nil {
		return Resolution{}, err
	}
	if ok {
		instanceID = inst.ID
		r.logger.Info("reusing computation instance",
			"instance_id", instanceID,
			"dataset_id", datasetID,
			"status", string(inst.Status),
		)
	} else {
		instanceID, err = r.api.CreateInstance(ctx, datasetID, ts, rule, domain.ResultTypeMeasurement)
		if err != nil {
			return Resolution{}, err
		}
		created = true
		r.logger.Info("created computation instance",
			"instance_id", instanceID,
			"dataset_id", datasetID,
			"attribution_rule", string(rule),
		)
	}

	inst, err = r.api.GetInstance(ctx, instanceID)
	if err != nil {
		return Resolution{}, &domain.InstanceError{InstanceID: instanceID, Err: err}
	}
	if inst.ID == "" {
		inst.ID = instanceID
	}
	if inst.DatasetID == "" {
		inst.DatasetID = datasetID
	}
	return Resolution{Instance: inst, Created: created}, nil
}

// findReusable fails when an instance for the key reports a status the runner
// does not know, since it may be running or finished. Unknown statuses on
// other keys are ignored.
func findReusable(instances []domain.Instance, rule domain.AttributionRule, ts time.Time) (domain.Instance, bool, error) {
	for _, inst := range instances {
		if inst.AttributionRule != rule || !inst.RequestedTimestamp.Equal(ts) {
			continue
		}
		if !inst.StatusRecognized() {
			return domain.Instance{}, false, &domain.InstanceError{
				InstanceID: inst.ID,
				Err:        fmt.Errorf("%w %q", domain.ErrUnknownStatus, inst.RawStatus),
			}
		}
		if inst.Reusable() {
			return inst, true, nil
		}
	}
	return domain.Instance{}, false, nil
}
