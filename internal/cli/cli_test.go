package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/attribution-runner/internal/config"
	"github.com/animus-labs/attribution-runner/internal/domain"
)

const (
	goodShard = "id_,conversion_timestamp,conversion_value\nYWJj,1609459200,42\nZGVm,1609459300,7\n"
	badShard  = "id_,conversion_timestamp,conversion_value\nYWJj,16094,42\n"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"run", "validate-input", "dataset-info", "flows", "attempts"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	output := cmd.PersistentFlags().Lookup("output")
	require.NotNil(t, output)
	assert.Equal(t, "text", output.DefValue)
	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

func TestRejectsUnknownOutput(t *testing.T) {
	_, err := execute(t, "flows", "--output", "yaml")
	require.Error(t, err)
}

func TestFlowsText(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "runner.yaml", "log:\n  level: error\n")
	out, err := execute(t, "flows", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "attribution_pcf2 (attribution)")
	assert.Contains(t, out, "attribution_decoupled (attribution)")
	assert.Contains(t, out, "pcf2_attribution")
}

func TestFlowsJSONIncludesFlowsFile(t *testing.T) {
	dir := t.TempDir()
	flowsPath := writeFile(t, dir, "flows.yaml", `
schema: attribution.stageflow.v1
flows:
  - name: attribution_compute_only
    game_type: attribution
    stages:
      - name: compute
        status_prefix: PCF2_ATTRIBUTION
        binary: private_attribution/compute/latest/compute
        containers: mpc
      - name: post
        status_prefix: POST_PROCESSING_HANDLERS
        containers: none
`)
	cfgPath := writeFile(t, dir, "runner.yaml", "run:\n  flows_file: "+flowsPath+"\n")

	out, err := execute(t, "flows", "--config", cfgPath, "--output", "json")
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   []flowSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	var names []string
	for _, f := range resp.Data {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"attribution_compute_only", "attribution_decoupled", "attribution_pcf2"}, names)
	assert.Contains(t, resp.Data[0].Stages[0].BinaryURL, "private_attribution/compute/latest/compute")
}

func TestValidateInputValidDirectory(t *testing.T) {
	dir := t.TempDir()
	inputs := filepath.Join(dir, "inputs")
	require.NoError(t, os.Mkdir(inputs, 0o755))
	writeFile(t, inputs, "shard_0.csv", goodShard)
	writeFile(t, inputs, "shard_1.csv", goodShard)
	cfgPath := writeFile(t, dir, "runner.yaml", "log:\n  level: error\n")

	out, err := execute(t, "validate-input", "--config", cfgPath, "--type", "attribution", inputs)
	require.NoError(t, err)
	assert.Contains(t, out, "All 2 input files valid")
}

func TestValidateInputReportsIssues(t *testing.T) {
	dir := t.TempDir()
	bad := writeFile(t, dir, "bad.csv", badShard)
	cfgPath := writeFile(t, dir, "runner.yaml", "log:\n  level: error\n")

	out, err := execute(t, "validate-input", "--config", cfgPath, "--output", "json", bad)
	require.Error(t, err)
	assert.Equal(t, ExitRunFailed, ExitCode(err))

	var resp struct {
		Status string          `json:"status"`
		Data   []reportSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "invalid", resp.Status)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, 1, resp.Data[0].Issues)
	assert.Equal(t, 1, resp.Data[0].Counts["invalid_field_format"])
}

func TestValidateInputRejectsUnknownType(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.csv", goodShard)
	cfgPath := writeFile(t, dir, "runner.yaml", "log:\n  level: error\n")

	_, err := execute(t, "validate-input", "--config", cfgPath, "--type", "reach", good)
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitCode(err))
}

func TestDatasetInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ds-1", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{
			"id": "ds-1",
			"ad_object_id": "ad-9",
			"datasets_information": [
				{"key": "LAST_CLICK_1D", "value": [
					{"timestamp": "2021-01-01T00:00:00+0000", "num_containers": 2, "num_shards": 4}
				]}
			]
		}`)
	}))
	defer srv.Close()

	cfgPath := writeFile(t, t.TempDir(), "runner.yaml", "graphapi:\n  base_url: "+srv.URL+"\n  access_token: token-1\nlog:\n  level: error\n")
	out, err := execute(t, "dataset-info", "--config", cfgPath, "--dataset-id", "ds-1")
	require.NoError(t, err)
	assert.Contains(t, out, "dataset ds-1 (ad object ad-9)")
	assert.Contains(t, out, "last_click_1d")
	assert.Contains(t, out, "2021-01-01T00:00:00Z")
	assert.Contains(t, out, "containers=2 shards=4")
}

func TestDatasetInfoRequiresToken(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "runner.yaml", "log:\n  level: error\n")
	_, err := execute(t, "dataset-info", "--config", cfgPath, "--dataset-id", "ds-1")
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitCode(err))
}

func TestRunRejectsMissingFlags(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "runner.yaml", "log:\n  level: error\n")

	_, err := execute(t, "run", "--config", cfgPath, "--timestamp", "2021-01-01", "--attribution-rule", "last_click_1d")
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitCode(err))
	assert.Contains(t, err.Error(), "--dataset-id")

	_, err = execute(t, "run", "--config", cfgPath, "--dataset-id", "ds-1", "--timestamp", "2021-01-01", "--attribution-rule", "first_click")
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitCode(err))
}

func TestAttemptsRequiresDatabase(t *testing.T) {
	cfgPath := writeFile(t, t.TempDir(), "runner.yaml", "log:\n  level: error\n")
	_, err := execute(t, "attempts", "--config", cfgPath, "--instance-id", "inst-1")
	require.Error(t, err)
	assert.Equal(t, ExitUsage, ExitCode(err))
}

func TestBuildRequestAppliesConfigDefaults(t *testing.T) {
	defaults := config.Default().Run
	req, err := buildRequest(defaults, &RunOptions{
		DatasetID:           " ds-1 ",
		Timestamp:           "1609459200",
		AttributionRule:     "last_touch_1d",
		RetryBudget:         -1,
		SkipInputValidation: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "ds-1", req.DatasetID)
	assert.Equal(t, domain.AttributionLastTouch1D, req.AttributionRule)
	assert.Equal(t, domain.AggregationMeasurement, req.AggregationType)
	assert.Equal(t, defaults.RetryBudget, req.RetryBudget)
	assert.Equal(t, defaults.Concurrency, req.Concurrency)
	assert.Equal(t, defaults.StageFlow, req.StageFlow)

	req, err = buildRequest(defaults, &RunOptions{
		DatasetID:       "ds-1",
		Timestamp:       "2021-01-01",
		AttributionRule: "LAST_CLICK_7D",
		InputPath:       "/data/in",
		Concurrency:     16,
		RetryBudget:     0,
		StageFlow:       "attribution_decoupled",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, req.RetryBudget)
	assert.Equal(t, 16, req.Concurrency)
	assert.Equal(t, "attribution_decoupled", req.StageFlow)

	_, err = buildRequest(defaults, &RunOptions{DatasetID: "ds-1", Timestamp: "2021-01-01", AttributionRule: "last_click_1d"})
	require.Error(t, err)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitUsage, ExitCode(errors.New("unknown flag: --bogus")))
	assert.Equal(t, ExitUsage, ExitCode(usageError("load config", errors.New("no such file"))))

	failed := runFailure("run failed", domain.ErrStageAborted)
	assert.Equal(t, ExitRunFailed, ExitCode(fmt.Errorf("wrapped: %w", failed)))
	assert.ErrorIs(t, failed, domain.ErrStageAborted)
	assert.Equal(t, "run failed: stage retries exhausted", failed.Error())
}

func TestEmitJSONReportsCommandAndExitCode(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, emitJSON(&buf, "run", outcomeFailed, map[string]string{"instance_id": "i-1"}, errors.New("boom")))

	var report jsonReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	assert.Equal(t, "run", report.Command)
	assert.Equal(t, outcomeFailed, report.Status)
	assert.Equal(t, ExitRunFailed, report.ExitCode)
	assert.Equal(t, "boom", report.Error)

	buf.Reset()
	require.NoError(t, emitJSON(&buf, "flows", outcomeOK, nil, nil))
	require.NoError(t, json.Unmarshal(buf.Bytes(), &report))
	assert.Equal(t, ExitOK, report.ExitCode)
	assert.NotContains(t, buf.String(), `"error"`)
}
