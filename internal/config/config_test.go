package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://graph.facebook.com/v17.0", cfg.GraphAPI.BaseURL)
	assert.Equal(t, 2, cfg.Run.RetryBudget)
	assert.Equal(t, "attribution_pcf2", cfg.Run.StageFlow)
	assert.Equal(t, "docker", cfg.Executor.Kind)
	assert.False(t, cfg.Database.Enabled())

	require.Error(t, cfg.ValidateForRun())
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
graphapi:
  access_token: from-file
  request_timeout: 5s
executor:
  kind: kubernetes
  image: pc-runner:1
  kubernetes:
    namespace: pc
run:
  retry_budget: 4
  retry_backoff: 1m
log:
  format: text
`), 0o600))

	t.Setenv("ATTRIBUTION_GRAPHAPI_ACCESS_TOKEN", "from-env")
	t.Setenv("ATTRIBUTION_RUN_CONCURRENCY", "8")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.GraphAPI.AccessToken)
	assert.Equal(t, 5*time.Second, cfg.GraphAPI.RequestTimeout)
	assert.Equal(t, "kubernetes", cfg.Executor.Kind)
	assert.Equal(t, "pc", cfg.Executor.Kubernetes.Namespace)
	assert.Equal(t, 4, cfg.Run.RetryBudget)
	assert.Equal(t, time.Minute, cfg.Run.RetryBackoff)
	assert.Equal(t, 8, cfg.Run.Concurrency)
	assert.Equal(t, "text", cfg.Log.Format)
	require.NoError(t, cfg.ValidateForRun())
}

func TestLoadSearchesConfiguredPaths(t *testing.T) {
	t.Chdir(t.TempDir())
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "attribution-runner.yaml"), []byte("run:\n  stage_flow: attribution_decoupled\n"), 0o600))
	t.Setenv(SearchPathsEnv, "/does/not/exist,"+dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "attribution_decoupled", cfg.Run.StageFlow)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("run:\n  retry_budget: -1\n"), 0o600))
	_, err := Load(path)
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLogConfigValidate(t *testing.T) {
	assert.NoError(t, LogConfig{Level: "DEBUG", Format: "json"}.Validate())
	assert.Error(t, LogConfig{Level: "trace", Format: "json"}.Validate())
	assert.Error(t, LogConfig{Level: "info", Format: "xml"}.Validate())
}
