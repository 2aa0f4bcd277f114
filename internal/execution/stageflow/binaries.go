package stageflow

import (
	"strings"

	"github.com/animus-labs/attribution-runner/internal/platform/env"
)

const (
	DefaultBinaryRepository = "https://one-docker-repository-prod.s3.us-west-2.amazonaws.com"
	// BinaryRepositoryEnv overrides DefaultBinaryRepository.
	BinaryRepositoryEnv = "ONEDOCKER_REPOSITORY_PATH"
)

const (
	BinaryAttributionIDCombiner = "data_processing/attribution_id_combiner/latest/attribution_id_combiner"
	BinaryLiftIDCombiner        = "data_processing/lift_id_combiner/latest/lift_id_combiner"
	BinaryPIDPreparer           = "data_processing/pid_preparer/latest/pid_preparer"
	BinaryPIDSharder            = "data_processing/sharder_hashed_for_pid/latest/sharder_hashed_for_pid"
	BinaryCrossPSIClient        = "pid/private-id-client/latest/cross-psi-client"
	BinaryCrossPSIXorClient     = "pid/private-id-client/latest/cross-psi-xor-client"
	BinaryPrivateIDClient       = "pid/private-id-client/latest/private-id-client"
	BinaryCrossPSIServer        = "pid/private-id-server/latest/cross-psi-server"
	BinaryCrossPSIXorServer     = "pid/private-id-server/latest/cross-psi-xor-server"
	BinaryPrivateIDServer       = "pid/private-id-server/latest/private-id-server"
	BinaryAttributionCompute    = "private_attribution/compute/latest/compute"
	BinaryDecoupledAggregation  = "private_attribution/decoupled_aggregation/latest/decoupled_aggregation"
	BinaryShardAggregator       = "private_attribution/shard-aggregator/latest/shard-aggregator"
	BinaryLift                  = "private_lift/lift/latest/lift"
)

var binaryPaths = []string{
	BinaryAttributionIDCombiner,
	BinaryLiftIDCombiner,
	BinaryPIDPreparer,
	BinaryPIDSharder,
	BinaryCrossPSIClient,
	BinaryCrossPSIXorClient,
	BinaryPrivateIDClient,
	BinaryCrossPSIServer,
	BinaryCrossPSIXorServer,
	BinaryPrivateIDServer,
	BinaryAttributionCompute,
	BinaryDecoupledAggregation,
	BinaryShardAggregator,
	BinaryLift,
}

// BinaryPaths lists every binary a stage may launch, relative to the repository.
func BinaryPaths() []string {
	out := make([]string, len(binaryPaths))
	copy(out, binaryPaths)
	return out
}

func KnownBinary(path string) bool {
	for _, p := range binaryPaths {
		if p == path {
			return true
		}
	}
	return false
}

// BinaryRepository returns the repository base URL, honouring the env override.
func BinaryRepository() string {
	return strings.TrimRight(env.NonEmpty(BinaryRepositoryEnv, DefaultBinaryRepository), "/")
}

// BinaryURL resolves a binary path against the repository.
func BinaryURL(path string) string {
	return BinaryRepository() + "/" + strings.TrimLeft(path, "/")
}
