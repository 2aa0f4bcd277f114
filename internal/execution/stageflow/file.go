package stageflow

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/attribution-runner/internal/domain"
)

const FileSchemaV1 = "attribution.stageflow.v1"

// File is the on-disk form of custom stage flows.
type File struct {
	Schema string     `yaml:"schema"`
	Flows  []FileFlow `yaml:"flows"`
}

type FileFlow struct {
	Name     string      `yaml:"name"`
	GameType string      `yaml:"game_type"`
	Stages   []FileStage `yaml:"stages"`
}

type FileStage struct {
	Name         string `yaml:"name"`
	StatusPrefix string `yaml:"status_prefix"`
	Binary       string `yaml:"binary,omitempty"`
	Containers   string `yaml:"containers,omitempty"`
}

// Parse decodes and validates a stage flow document.
func Parse(input []byte) ([]Flow, error) {
	var file File
	if err := yaml.Unmarshal(input, &file); err != nil {
		return nil, fmt.Errorf("decode stage flows: %w", err)
	}
	if strings.TrimSpace(file.Schema) != FileSchemaV1 {
		return nil, fmt.Errorf("stage flow schema must be %q", FileSchemaV1)
	}
	if len(file.Flows) == 0 {
		return nil, fmt.Errorf("stage flow file must define at least one flow")
	}

	flows := make([]Flow, 0, len(file.Flows))
	seen := make(map[string]struct{}, len(file.Flows))
	for i, ff := range file.Flows {
		game, err := domain.ParseGameType(ff.GameType)
		if err != nil {
			return nil, fmt.Errorf("flows[%d].game_type: %w", i, err)
		}
		flow := Flow{Name: strings.TrimSpace(ff.Name), GameType: game}
		for j, fs := range ff.Stages {
			kind, err := ParseContainerKind(fs.Containers)
			if err != nil {
				return nil, fmt.Errorf("flows[%d].stages[%d].containers: %w", i, j, err)
			}
			flow.Stages = append(flow.Stages, Stage{
				Name:         strings.TrimSpace(fs.Name),
				StatusPrefix: strings.ToUpper(strings.TrimSpace(fs.StatusPrefix)),
				Binary:       strings.TrimSpace(fs.Binary),
				Containers:   kind,
			})
		}
		if err := flow.Validate(); err != nil {
			return nil, fmt.Errorf("flows[%d]: %w", i, err)
		}
		if _, ok := seen[flow.Name]; ok {
			return nil, fmt.Errorf("flows[%d].name must be unique (duplicate %q)", i, flow.Name)
		}
		seen[flow.Name] = struct{}{}
		flows = append(flows, flow)
	}
	return flows, nil
}

func LoadFile(path string) ([]Flow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stage flows: %w", err)
	}
	return Parse(raw)
}
