package domain

import (
	"fmt"
	"strings"
	"time"
)

// AttributionRule selects the conversion-to-exposure matching policy of a dataset window.
type AttributionRule string

const (
	AttributionLastClick1D   AttributionRule = "LAST_CLICK_1D"
	AttributionLastClick7D   AttributionRule = "LAST_CLICK_7D"
	AttributionLastClick28D  AttributionRule = "LAST_CLICK_28D"
	AttributionLastTouch1D   AttributionRule = "LAST_TOUCH_1D"
	AttributionLastTouch7D   AttributionRule = "LAST_TOUCH_7D"
	AttributionLastTouch28D  AttributionRule = "LAST_TOUCH_28D"
	AttributionLastClick2_7D AttributionRule = "LAST_CLICK_2_7D"
	AttributionLastTouch2_7D AttributionRule = "LAST_TOUCH_2_7D"
)

var attributionRules = []AttributionRule{
	AttributionLastClick1D,
	AttributionLastClick7D,
	AttributionLastClick28D,
	AttributionLastTouch1D,
	AttributionLastTouch7D,
	AttributionLastTouch28D,
	AttributionLastClick2_7D,
	AttributionLastTouch2_7D,
}

// AttributionRules lists every supported rule in declaration order.
func AttributionRules() []AttributionRule {
	out := make([]AttributionRule, len(attributionRules))
	copy(out, attributionRules)
	return out
}

// ParseAttributionRule accepts either the rule name or its wire value, case-insensitively.
func ParseAttributionRule(value string) (AttributionRule, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, rule := range attributionRules {
		if string(rule) == normalized {
			return rule, nil
		}
	}
	return "", fmt.Errorf("unsupported attribution rule %q", value)
}

// Name is the key used by the dataset information payload.
func (r AttributionRule) Name() string {
	return string(r)
}

// Value is the wire value stored on computation instances.
func (r AttributionRule) Value() string {
	return strings.ToLower(string(r))
}

type AggregationType string

const AggregationMeasurement AggregationType = "MEASUREMENT"

func ParseAggregationType(value string) (AggregationType, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "", string(AggregationMeasurement):
		return AggregationMeasurement, nil
	default:
		return "", fmt.Errorf("unsupported aggregation type %q", value)
	}
}

func (a AggregationType) Value() string {
	return strings.ToLower(string(a))
}

// GameType is the kind of secure computation a stage flow runs.
type GameType string

const (
	GameAttribution GameType = "ATTRIBUTION"
	GameLift        GameType = "LIFT"
)

func ParseGameType(value string) (GameType, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(GameAttribution):
		return GameAttribution, nil
	case string(GameLift):
		return GameLift, nil
	default:
		return "", fmt.Errorf("unsupported game type %q", value)
	}
}

// ResultType is the result parameter sent when creating an instance.
type ResultType int

const (
	ResultTypeAttribution ResultType = 1
	ResultTypeMeasurement ResultType = 2
)

// DatasetWindow is one published time-slice of a dataset. Read-only to the runner.
type DatasetWindow struct {
	AttributionRule AttributionRule
	Timestamp       time.Time
	ContainerCount  int
	ShardCount      int
}

// DatasetInfo is the full dataset description returned by the API.
type DatasetInfo struct {
	DatasetID        string
	AdObjectID       string
	TargetObjectType string
	Windows          []DatasetWindow
}

// Instance is the server-tracked unit for one run of the pipeline on a dataset window.
type Instance struct {
	ID                 string
	DatasetID          string
	AttributionRule    AttributionRule
	RequestedTimestamp time.Time
	Status             InstanceStatus
	// RawStatus holds the reported value when Status is StatusUnknown because
	// the collaborator sent a status outside the known set.
	RawStatus     string
	NumContainers int
	NumShards     int
}

// StatusRecognized is false when the reported status is not one the runner knows.
func (i Instance) StatusRecognized() bool {
	return i.RawStatus == ""
}

// Reusable reports whether the instance may be resumed instead of creating a new one.
func (i Instance) Reusable() bool {
	return !i.Status.IsTerminalSuccess()
}

// ExecutionParams are forwarded unchanged to every stage of a run.
type ExecutionParams struct {
	AttributionRule     AttributionRule
	AggregationType     AggregationType
	InputPath           string
	Concurrency         int
	FilesPerContainer   int
	KAnonymityThreshold int
}
