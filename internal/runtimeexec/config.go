package runtimeexec

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/attribution-runner/internal/platform/k8s"
)

const (
	KindDocker     = "docker"
	KindKubernetes = "kubernetes"
)

type Config struct {
	Kind         string           `mapstructure:"kind"`
	Image        string           `mapstructure:"image"`
	PollInterval time.Duration    `mapstructure:"poll_interval"`
	CPU          string           `mapstructure:"cpu"`
	Memory       string           `mapstructure:"memory"`
	Docker       DockerConfig     `mapstructure:"docker"`
	Kubernetes   KubernetesConfig `mapstructure:"kubernetes"`
}

type DockerConfig struct {
	Binary  string `mapstructure:"binary"`
	Network string `mapstructure:"network"`
}

// KubernetesConfig falls back to the in-cluster service account for anything unset.
type KubernetesConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Token          string        `mapstructure:"token"`
	CAFile         string        `mapstructure:"ca_file"`
	Namespace      string        `mapstructure:"namespace"`
	JobTTLSeconds  int32         `mapstructure:"job_ttl_seconds"`
	ServiceAccount string        `mapstructure:"service_account"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

func DefaultConfig() Config {
	return Config{
		Kind:         KindDocker,
		PollInterval: defaultPollInterval,
		Docker:       DockerConfig{Binary: "docker", Network: "host"},
		Kubernetes: KubernetesConfig{
			JobTTLSeconds:  3600,
			RequestTimeout: 15 * time.Second,
		},
	}
}

func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Kind)) {
	case KindDocker, KindKubernetes:
	default:
		return fmt.Errorf("executor.kind must be %q or %q, got %q", KindDocker, KindKubernetes, c.Kind)
	}
	if strings.TrimSpace(c.Image) == "" {
		return errors.New("executor.image is required")
	}
	if c.PollInterval < 0 {
		return errors.New("executor.poll_interval must be >= 0")
	}
	if c.Kubernetes.JobTTLSeconds < 0 {
		return errors.New("executor.kubernetes.job_ttl_seconds must be >= 0")
	}
	return nil
}

func (c Config) resources() map[string]any {
	out := map[string]any{}
	if cpu := strings.TrimSpace(c.CPU); cpu != "" {
		out["cpu"] = cpu
	}
	if mem := strings.TrimSpace(c.Memory); mem != "" {
		out["memory"] = mem
	}
	return out
}

// NewRuntime builds the container runtime named by cfg.Kind.
func NewRuntime(cfg Config) (Executor, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case KindDocker:
		docker, err := NewDockerExecutor(cfg.Docker.Binary, cfg.Docker.Network)
		if err != nil {
			return nil, err
		}
		return docker, nil
	case KindKubernetes:
		kc := cfg.Kubernetes
		baseURL := strings.TrimSpace(kc.BaseURL)
		var (
			client *k8s.Client
			err    error
		)
		if baseURL == "" {
			client, err = k8s.NewInClusterClient()
		} else {
			client, err = k8s.NewClient(k8s.Config{
				BaseURL:   baseURL,
				Token:     kc.Token,
				Namespace: kc.Namespace,
				CAFile:    kc.CAFile,
				Timeout:   kc.RequestTimeout,
			})
		}
		if err != nil {
			return nil, fmt.Errorf("kubernetes client: %w", err)
		}
		jobs, err := NewKubernetesJobExecutor(client, kc.Namespace, kc.JobTTLSeconds, kc.ServiceAccount)
		if err != nil {
			return nil, err
		}
		return jobs, nil
	default:
		return nil, fmt.Errorf("unsupported executor kind %q", cfg.Kind)
	}
}

// New builds a StageExecutor on the configured runtime.
func New(cfg Config, logger *slog.Logger) (*StageExecutor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	runtime, err := NewRuntime(cfg)
	if err != nil {
		return nil, err
	}
	return NewStageExecutor(runtime, StageOptions{
		Image:        cfg.Image,
		Namespace:    cfg.Kubernetes.Namespace,
		PollInterval: cfg.PollInterval,
		Resources:    cfg.resources(),
	}, logger)
}
