package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/animus-labs/attribution-runner/internal/execution/driver"
	"github.com/animus-labs/attribution-runner/internal/execution/stageflow"
	"github.com/animus-labs/attribution-runner/internal/graphapi"
	"github.com/animus-labs/attribution-runner/internal/platform/env"
	"github.com/animus-labs/attribution-runner/internal/platform/objectstore"
	"github.com/animus-labs/attribution-runner/internal/platform/postgres"
	"github.com/animus-labs/attribution-runner/internal/runtimeexec"
)

// EnvPrefix namespaces environment overrides, e.g. ATTRIBUTION_GRAPHAPI_ACCESS_TOKEN.
const EnvPrefix = "ATTRIBUTION"

// SearchPathsEnv lists the directories searched when no config path is given.
const SearchPathsEnv = "ATTRIBUTION_CONFIG_PATHS"

var defaultSearchPaths = []string{".", "./configs"}

type Config struct {
	GraphAPI    graphapi.Config    `mapstructure:"graphapi"`
	Executor    runtimeexec.Config `mapstructure:"executor"`
	Database    postgres.Config    `mapstructure:"database"`
	ObjectStore objectstore.Config `mapstructure:"object_store"`
	Log         LogConfig          `mapstructure:"log"`
	Run         RunConfig          `mapstructure:"run"`
}

type LogConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	AddSource bool   `mapstructure:"add_source"`
}

// RunConfig holds defaults for run requests; flags override them.
type RunConfig struct {
	StageFlow           string        `mapstructure:"stage_flow"`
	FlowsFile           string        `mapstructure:"flows_file"`
	RetryBudget         int           `mapstructure:"retry_budget"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`
	Concurrency         int           `mapstructure:"concurrency"`
	FilesPerContainer   int           `mapstructure:"files_per_container"`
	KAnonymityThreshold int           `mapstructure:"k_anonymity_threshold"`
	ObserveFinalStatus  bool          `mapstructure:"observe_final_status"`
	MaxInputIssues      int           `mapstructure:"max_input_issues"`
}

func Default() Config {
	return Config{
		GraphAPI:    graphapi.DefaultConfig(),
		Executor:    runtimeexec.DefaultConfig(),
		Database:    postgres.DefaultConfig(),
		ObjectStore: objectstore.Config{UseSSL: true},
		Log:         LogConfig{Level: "info", Format: "json"},
		Run: RunConfig{
			StageFlow:           stageflow.DefaultAttributionFlow,
			RetryBudget:         driver.DefaultRetryBudget,
			RetryBackoff:        30 * time.Second,
			Concurrency:         4,
			FilesPerContainer:   1,
			KAnonymityThreshold: 100,
			ObserveFinalStatus:  true,
			MaxInputIssues:      100,
		},
	}
}

// Load reads an optional YAML file and applies ATTRIBUTION_* env overrides.
// Without a path, attribution-runner.yaml is looked up in the directories of
// ATTRIBUTION_CONFIG_PATHS (default "." then "./configs"); a missing default
// file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("attribution-runner")
		v.SetConfigType("yaml")
		for _, dir := range env.List(SearchPathsEnv, defaultSearchPaths) {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so env overrides apply without a file.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("graphapi.base_url", d.GraphAPI.BaseURL)
	v.SetDefault("graphapi.access_token", d.GraphAPI.AccessToken)
	v.SetDefault("graphapi.request_timeout", d.GraphAPI.RequestTimeout)
	v.SetDefault("graphapi.max_retries", d.GraphAPI.MaxRetries)
	v.SetDefault("graphapi.initial_backoff", d.GraphAPI.InitialBackoff)
	v.SetDefault("graphapi.max_backoff", d.GraphAPI.MaxBackoff)
	v.SetDefault("graphapi.oidc.issuer_url", "")
	v.SetDefault("graphapi.oidc.client_id", "")
	v.SetDefault("graphapi.oidc.client_secret", "")
	v.SetDefault("graphapi.oidc.scopes", []string{})

	v.SetDefault("executor.kind", d.Executor.Kind)
	v.SetDefault("executor.image", d.Executor.Image)
	v.SetDefault("executor.poll_interval", d.Executor.PollInterval)
	v.SetDefault("executor.cpu", d.Executor.CPU)
	v.SetDefault("executor.memory", d.Executor.Memory)
	v.SetDefault("executor.docker.binary", d.Executor.Docker.Binary)
	v.SetDefault("executor.docker.network", d.Executor.Docker.Network)
	v.SetDefault("executor.kubernetes.base_url", d.Executor.Kubernetes.BaseURL)
	v.SetDefault("executor.kubernetes.token", d.Executor.Kubernetes.Token)
	v.SetDefault("executor.kubernetes.ca_file", d.Executor.Kubernetes.CAFile)
	v.SetDefault("executor.kubernetes.namespace", d.Executor.Kubernetes.Namespace)
	v.SetDefault("executor.kubernetes.job_ttl_seconds", d.Executor.Kubernetes.JobTTLSeconds)
	v.SetDefault("executor.kubernetes.service_account", d.Executor.Kubernetes.ServiceAccount)
	v.SetDefault("executor.kubernetes.request_timeout", d.Executor.Kubernetes.RequestTimeout)

	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("database.ping_timeout", d.Database.PingTimeout)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", d.Database.ConnMaxIdleTime)

	v.SetDefault("object_store.endpoint", d.ObjectStore.Endpoint)
	v.SetDefault("object_store.access_key", d.ObjectStore.AccessKey)
	v.SetDefault("object_store.secret_key", d.ObjectStore.SecretKey)
	v.SetDefault("object_store.region", d.ObjectStore.Region)
	v.SetDefault("object_store.use_ssl", d.ObjectStore.UseSSL)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.add_source", d.Log.AddSource)

	v.SetDefault("run.stage_flow", d.Run.StageFlow)
	v.SetDefault("run.flows_file", d.Run.FlowsFile)
	v.SetDefault("run.retry_budget", d.Run.RetryBudget)
	v.SetDefault("run.retry_backoff", d.Run.RetryBackoff)
	v.SetDefault("run.concurrency", d.Run.Concurrency)
	v.SetDefault("run.files_per_container", d.Run.FilesPerContainer)
	v.SetDefault("run.k_anonymity_threshold", d.Run.KAnonymityThreshold)
	v.SetDefault("run.observe_final_status", d.Run.ObserveFinalStatus)
	v.SetDefault("run.max_input_issues", d.Run.MaxInputIssues)
}

// Validate checks the sections every command needs. Collaborator and executor
// settings are checked by ValidateForRun, since offline commands never use them.
func (c Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if err := c.Run.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	return c.ObjectStore.Validate()
}

func (c Config) ValidateForRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := c.GraphAPI.Validate(); err != nil {
		return err
	}
	return c.Executor.Validate()
}

func (c LogConfig) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Level)
	}
	switch strings.ToLower(strings.TrimSpace(c.Format)) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format: %s, must be 'json' or 'text'", c.Format)
	}
	return nil
}

func (c RunConfig) Validate() error {
	if c.RetryBudget < 0 {
		return errors.New("run.retry_budget must be >= 0")
	}
	if c.RetryBackoff < 0 {
		return errors.New("run.retry_backoff must be >= 0")
	}
	if c.Concurrency < 1 {
		return errors.New("run.concurrency must be >= 1")
	}
	if c.FilesPerContainer < 1 {
		return errors.New("run.files_per_container must be >= 1")
	}
	if c.KAnonymityThreshold < 0 {
		return errors.New("run.k_anonymity_threshold must be >= 0")
	}
	return nil
}
