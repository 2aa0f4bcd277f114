package stageflow

import "github.com/animus-labs/attribution-runner/internal/domain"

const (
	FlowAttributionPCF2      = "attribution_pcf2"
	FlowAttributionDecoupled = "attribution_decoupled"
)

// DefaultAttributionFlow is used when a run does not name a flow.
const DefaultAttributionFlow = FlowAttributionPCF2

func idMatchingStages(combiner string) []Stage {
	return []Stage{
		{Name: "pid_shard", StatusPrefix: domain.PrefixPIDShard, Binary: BinaryPIDSharder, Containers: ContainersPID},
		{Name: "pid_prepare", StatusPrefix: domain.PrefixPIDPrepare, Binary: BinaryPIDPreparer, Containers: ContainersPID},
		{Name: "id_match", StatusPrefix: domain.PrefixIDMatching, Binary: BinaryPrivateIDClient, Containers: ContainersPID},
		{Name: "id_spine_combiner", StatusPrefix: domain.PrefixIDSpineCombiner, Binary: combiner, Containers: ContainersPID},
		{Name: "reshard", StatusPrefix: domain.PrefixReshard, Binary: BinaryPIDSharder, Containers: ContainersMPC},
	}
}

func tailStages() []Stage {
	return []Stage{
		{Name: "aggregate_shards", StatusPrefix: domain.PrefixAggregation, Binary: BinaryShardAggregator, Containers: ContainersSingle},
		{Name: "post_processing_handlers", StatusPrefix: domain.PrefixPostProcessingHandlers, Containers: ContainersNone},
	}
}

func buildFlow(name string, game domain.GameType, combiner string, compute ...Stage) Flow {
	stages := idMatchingStages(combiner)
	stages = append(stages, compute...)
	stages = append(stages, tailStages()...)
	return Flow{Name: name, GameType: game, Stages: stages}
}

// BuiltinFlows returns fresh copies of the flows shipped with the runner.
func BuiltinFlows() []Flow {
	return []Flow{
		buildFlow(FlowAttributionPCF2, domain.GameAttribution, BinaryAttributionIDCombiner,
			Stage{Name: "pcf2_attribution", StatusPrefix: domain.PrefixPCF2Attribution, Binary: BinaryAttributionCompute, Containers: ContainersMPC},
			Stage{Name: "pcf2_aggregation", StatusPrefix: domain.PrefixPCF2Aggregation, Binary: BinaryDecoupledAggregation, Containers: ContainersMPC},
		),
		buildFlow(FlowAttributionDecoupled, domain.GameAttribution, BinaryAttributionIDCombiner,
			Stage{Name: "decoupled_attribution", StatusPrefix: domain.PrefixDecoupledAttribution, Binary: BinaryAttributionCompute, Containers: ContainersMPC},
			Stage{Name: "decoupled_aggregation", StatusPrefix: domain.PrefixDecoupledAggregation, Binary: BinaryDecoupledAggregation, Containers: ContainersMPC},
		),
	}
}

// DefaultCatalog holds the built-in flows.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(BuiltinFlows()...)
	if err != nil {
		panic(err)
	}
	return c
}
