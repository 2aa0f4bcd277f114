package stageflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/animus-labs/attribution-runner/internal/domain"
)

// ContainerKind decides how many containers a stage fans out to.
type ContainerKind string

const (
	// ContainersNone stages are handled by the collaborator; nothing is launched.
	ContainersNone   ContainerKind = "none"
	ContainersSingle ContainerKind = "single"
	// ContainersPID stages run one container per id-matching container.
	ContainersPID ContainerKind = "pid"
	// ContainersMPC stages run one container per shard.
	ContainersMPC ContainerKind = "mpc"
)

func ParseContainerKind(value string) (ContainerKind, error) {
	switch ContainerKind(strings.ToLower(strings.TrimSpace(value))) {
	case ContainersNone:
		return ContainersNone, nil
	case ContainersSingle, "":
		return ContainersSingle, nil
	case ContainersPID:
		return ContainersPID, nil
	case ContainersMPC:
		return ContainersMPC, nil
	default:
		return "", fmt.Errorf("unsupported container kind %q", value)
	}
}

type Stage struct {
	Name         string
	StatusPrefix string
	Binary       string
	Containers   ContainerKind
}

// Status returns the instance status this stage reports for phase.
func (s Stage) Status(phase domain.StatusPhase) domain.InstanceStatus {
	return domain.StageStatus(s.StatusPrefix, phase)
}

type Flow struct {
	Name     string
	GameType domain.GameType
	Stages   []Stage
}

func (f Flow) StageNames() []string {
	out := make([]string, 0, len(f.Stages))
	for _, s := range f.Stages {
		out = append(out, s.Name)
	}
	return out
}

// ResumeIndex maps an instance status to the first stage that still has to run.
// A completed stage resumes at its successor; a started or failed stage is
// re-run. Lifecycle statuses start from the beginning.
func (f Flow) ResumeIndex(status domain.InstanceStatus) (int, error) {
	if status.IsTerminalSuccess() {
		return len(f.Stages), nil
	}
	prefix, phase, ok := status.Split()
	if !ok {
		return 0, nil
	}
	if prefix == domain.PrefixPreValidation {
		return 0, nil
	}
	for i, stage := range f.Stages {
		if stage.StatusPrefix != prefix {
			continue
		}
		if phase == domain.PhaseCompleted {
			return i + 1, nil
		}
		return i, nil
	}
	return 0, fmt.Errorf("status %s does not belong to stage flow %s", status, f.Name)
}

// Validate checks stage names and prefixes are unique and every launched
// binary is one the repository publishes.
func (f Flow) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("flow name is required")
	}
	if _, err := domain.ParseGameType(string(f.GameType)); err != nil {
		return fmt.Errorf("flow %s: %w", f.Name, err)
	}
	if len(f.Stages) == 0 {
		return fmt.Errorf("flow %s: stages must be non-empty", f.Name)
	}
	names := make(map[string]struct{}, len(f.Stages))
	prefixes := make(map[string]struct{}, len(f.Stages))
	for i, s := range f.Stages {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("flow %s: stages[%d].name is required", f.Name, i)
		}
		if _, ok := names[name]; ok {
			return fmt.Errorf("flow %s: duplicate stage %q", f.Name, name)
		}
		names[name] = struct{}{}

		if !domain.KnownStagePrefix(s.StatusPrefix) {
			return fmt.Errorf("flow %s: stage %s has unknown status prefix %q", f.Name, name, s.StatusPrefix)
		}
		if _, ok := prefixes[s.StatusPrefix]; ok {
			return fmt.Errorf("flow %s: status prefix %q used twice", f.Name, s.StatusPrefix)
		}
		prefixes[s.StatusPrefix] = struct{}{}

		switch s.Containers {
		case ContainersNone:
			if s.Binary != "" {
				return fmt.Errorf("flow %s: stage %s launches no containers but names binary %q", f.Name, name, s.Binary)
			}
		case ContainersSingle, ContainersPID, ContainersMPC:
			if !KnownBinary(s.Binary) {
				return fmt.Errorf("flow %s: stage %s has unknown binary %q", f.Name, name, s.Binary)
			}
		default:
			return fmt.Errorf("flow %s: stage %s has unsupported container kind %q", f.Name, name, s.Containers)
		}
	}
	return nil
}

// Catalog is an immutable-after-build set of named flows.
type Catalog struct {
	flows map[string]Flow
}

func NewCatalog(flows ...Flow) (*Catalog, error) {
	c := &Catalog{flows: make(map[string]Flow, len(flows))}
	if err := c.add(flows...); err != nil {
		return nil, err
	}
	return c, nil
}

// With returns a new catalog holding c's flows plus extra; names must not collide.
func (c *Catalog) With(extra ...Flow) (*Catalog, error) {
	out := &Catalog{flows: make(map[string]Flow, len(c.flows)+len(extra))}
	for name, f := range c.flows {
		out.flows[name] = f
	}
	if err := out.add(extra...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Catalog) add(flows ...Flow) error {
	for _, f := range flows {
		if err := f.Validate(); err != nil {
			return err
		}
		if _, ok := c.flows[f.Name]; ok {
			return fmt.Errorf("stage flow %q already defined", f.Name)
		}
		c.flows[f.Name] = cloneFlow(f)
	}
	return nil
}

func (c *Catalog) Lookup(name string) (Flow, error) {
	f, ok := c.flows[strings.TrimSpace(name)]
	if !ok {
		return Flow{}, fmt.Errorf("unknown stage flow %q (known: %s)", name, strings.Join(c.Names(), ", "))
	}
	return cloneFlow(f), nil
}

func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.flows))
	for name := range c.flows {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func cloneFlow(f Flow) Flow {
	stages := make([]Stage, len(f.Stages))
	copy(stages, f.Stages)
	f.Stages = stages
	return f
}
