package domain

import (
	"fmt"
	"strings"
)

// InstanceStatus is the closed set of statuses the computation API reports for an instance.
type InstanceStatus string

// StatusPhase is the suffix of a stage status.
type StatusPhase string

const (
	PhaseStarted   StatusPhase = "STARTED"
	PhaseCompleted StatusPhase = "COMPLETED"
	PhaseFailed    StatusPhase = "FAILED"
)

const (
	StatusUnknown          InstanceStatus = "UNKNOWN"
	StatusCreationStarted  InstanceStatus = "CREATION_STARTED"
	StatusCreated          InstanceStatus = "CREATED"
	StatusCreationFailed   InstanceStatus = "CREATION_FAILED"
	StatusTimeout          InstanceStatus = "TIMEOUT"
	StatusProcessingFailed InstanceStatus = "PROCESSING_REQUEST_FAILED"
)

// Stage status prefixes known to the computation API.
const (
	PrefixPreValidation          = "PC_PRE_VALIDATION"
	PrefixPIDShard               = "PID_SHARD"
	PrefixPIDPrepare             = "PID_PREPARE"
	PrefixIDMatching             = "ID_MATCHING"
	PrefixIDMatchingPostProcess  = "ID_MATCHING_POST_PROCESS"
	PrefixIDSpineCombiner        = "ID_SPINE_COMBINER"
	PrefixReshard                = "RESHARD"
	PrefixComputation            = "COMPUTATION"
	PrefixPCF2Attribution        = "PCF2_ATTRIBUTION"
	PrefixPCF2Aggregation        = "PCF2_AGGREGATION"
	PrefixPCF2Lift               = "PCF2_LIFT"
	PrefixDecoupledAttribution   = "DECOUPLED_ATTRIBUTION"
	PrefixDecoupledAggregation   = "DECOUPLED_AGGREGATION"
	PrefixAggregation            = "AGGREGATION"
	PrefixPostProcessingHandlers = "POST_PROCESSING_HANDLERS"
)

// StatusTerminalSuccess is the only status that makes an instance inert.
var StatusTerminalSuccess = StageStatus(PrefixPostProcessingHandlers, PhaseCompleted)

var stagePrefixes = []string{
	PrefixPreValidation,
	PrefixPIDShard,
	PrefixPIDPrepare,
	PrefixIDMatching,
	PrefixIDMatchingPostProcess,
	PrefixIDSpineCombiner,
	PrefixReshard,
	PrefixComputation,
	PrefixPCF2Attribution,
	PrefixPCF2Aggregation,
	PrefixPCF2Lift,
	PrefixDecoupledAttribution,
	PrefixDecoupledAggregation,
	PrefixAggregation,
	PrefixPostProcessingHandlers,
}

var knownStatuses = buildKnownStatuses()

func buildKnownStatuses() map[InstanceStatus]struct{} {
	out := map[InstanceStatus]struct{}{
		StatusUnknown:          {},
		StatusCreationStarted:  {},
		StatusCreated:          {},
		StatusCreationFailed:   {},
		StatusTimeout:          {},
		StatusProcessingFailed: {},
	}
	for _, prefix := range stagePrefixes {
		for _, phase := range []StatusPhase{PhaseStarted, PhaseCompleted, PhaseFailed} {
			out[StageStatus(prefix, phase)] = struct{}{}
		}
	}
	return out
}

// KnownStagePrefix reports whether prefix names a stage status family.
func KnownStagePrefix(prefix string) bool {
	for _, known := range stagePrefixes {
		if known == prefix {
			return true
		}
	}
	return false
}

// StageStatus composes the status for a stage prefix and phase.
func StageStatus(prefix string, phase StatusPhase) InstanceStatus {
	return InstanceStatus(prefix + "_" + string(phase))
}

// ParseInstanceStatus rejects statuses outside the known set.
func ParseInstanceStatus(value string) (InstanceStatus, error) {
	status := InstanceStatus(strings.ToUpper(strings.TrimSpace(value)))
	if _, ok := knownStatuses[status]; !ok {
		return "", fmt.Errorf("unknown instance status %q", value)
	}
	return status, nil
}

func (s InstanceStatus) IsTerminalSuccess() bool {
	return s == StatusTerminalSuccess
}

// Split returns the stage prefix and phase of a stage status. ok is false for
// lifecycle statuses such as CREATED.
func (s InstanceStatus) Split() (prefix string, phase StatusPhase, ok bool) {
	raw := string(s)
	for _, p := range []StatusPhase{PhaseStarted, PhaseCompleted, PhaseFailed} {
		suffix := "_" + string(p)
		if strings.HasSuffix(raw, suffix) {
			prefix = strings.TrimSuffix(raw, suffix)
			if KnownStagePrefix(prefix) {
				return prefix, p, true
			}
		}
	}
	return "", "", false
}
