package runtimeexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

type DockerExecutor struct {
	dockerBin string
	network   string
}

func NewDockerExecutor(dockerBin, network string) (*DockerExecutor, error) {
	dockerBin = strings.TrimSpace(dockerBin)
	if dockerBin == "" {
		dockerBin = "docker"
	}
	if _, err := exec.LookPath(dockerBin); err != nil {
		return nil, fmt.Errorf("docker binary not found: %w", err)
	}
	network = strings.TrimSpace(network)
	if network == "" {
		network = "host"
	}
	return &DockerExecutor{dockerBin: dockerBin, network: network}, nil
}

func (e *DockerExecutor) Kind() string {
	return "docker"
}

func (e *DockerExecutor) Submit(ctx context.Context, spec JobSpec) error {
	args, err := dockerRunArgs(spec, e.network)
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, e.dockerBin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		text := strings.TrimSpace(string(out))
		if strings.Contains(text, "is already in use") {
			return nil
		}
		return fmt.Errorf("docker run failed: %w: %s", err, text)
	}
	return nil
}

func dockerRunArgs(spec JobSpec, network string) ([]string, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, errors.New("docker container name is required")
	}
	image := strings.TrimSpace(spec.Image)
	if image == "" {
		return nil, errors.New("image is required")
	}

	args := []string{
		"run",
		"--detach",
		"--name", name,
		"--network", network,
		"--label", "pc.instance_id=" + spec.InstanceID,
		"--label", "pc.stage=" + spec.Stage,
	}
	for _, kv := range sortedEnv(spec.Env) {
		args = append(args, "-e", kv[0]+"="+kv[1])
	}
	if cpu := stringResource(spec.Resources, "cpu"); cpu != "" {
		if parsed, err := strconv.ParseFloat(cpu, 64); err == nil && parsed > 0 {
			args = append(args, "--cpus", fmt.Sprintf("%g", parsed))
		}
	}
	if mem := stringResource(spec.Resources, "memory"); mem != "" {
		args = append(args, "--memory", mem)
	}
	args = append(args, image)
	args = append(args, spec.Args...)
	return args, nil
}

type dockerInspectState struct {
	Status     string    `json:"Status"`
	ExitCode   int       `json:"ExitCode"`
	Error      string    `json:"Error"`
	FinishedAt time.Time `json:"FinishedAt"`
}

func (e *DockerExecutor) Inspect(ctx context.Context, execution Execution) (Observation, error) {
	name := strings.TrimSpace(execution.Name)
	if name == "" {
		return Observation{}, errors.New("docker container name is required")
	}

	cmd := exec.CommandContext(ctx, e.dockerBin, "inspect", "--format", "{{json .State}}", name)
	out, err := cmd.CombinedOutput()
	if err != nil {
		text := strings.TrimSpace(string(out))
		if strings.Contains(text, "No such object") || strings.Contains(text, "not found") {
			return Observation{Status: ObservationPending, Message: "container_not_found"}, nil
		}
		return Observation{}, fmt.Errorf("docker inspect failed: %w: %s", err, text)
	}
	return parseDockerState(name, out)
}

func parseDockerState(name string, raw []byte) (Observation, error) {
	var state dockerInspectState
	if err := json.Unmarshal(raw, &state); err != nil {
		return Observation{}, fmt.Errorf("parse docker inspect: %w", err)
	}

	status := ObservationPending
	message := strings.TrimSpace(state.Status)
	switch strings.ToLower(message) {
	case "running":
		status = ObservationRunning
	case "exited", "dead":
		if state.ExitCode == 0 && strings.EqualFold(message, "exited") {
			status = ObservationSucceeded
		} else {
			status = ObservationFailed
			message = fmt.Sprintf("exit code %d", state.ExitCode)
			if e := strings.TrimSpace(state.Error); e != "" {
				message += ": " + e
			}
		}
	}

	return Observation{
		Status:  status,
		Message: message,
		Details: map[string]any{
			"docker_container": name,
			"exit_code":        state.ExitCode,
			"finished_at":      state.FinishedAt,
		},
	}, nil
}

func (e *DockerExecutor) Cancel(ctx context.Context, execution Execution) error {
	name := strings.TrimSpace(execution.Name)
	if name == "" {
		return errors.New("docker container name is required")
	}
	cmd := exec.CommandContext(ctx, e.dockerBin, "rm", "--force", name)
	out, err := cmd.CombinedOutput()
	if err != nil {
		text := strings.TrimSpace(string(out))
		if strings.Contains(text, "No such container") {
			return nil
		}
		return fmt.Errorf("docker rm failed: %w: %s", err, text)
	}
	return nil
}
