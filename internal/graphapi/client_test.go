package graphapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/attribution-runner/internal/domain"
)

func testConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.AccessToken = "token-1"
	cfg.RequestTimeout = 2 * time.Second
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	return cfg
}

func newTestClient(t *testing.T, handler http.Handler) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := New(context.Background(), testConfig(srv.URL), srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	client.sleep = func(context.Context, time.Duration) error { return nil }
	return client
}

func TestGetDatasetInfo(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ds-1", r.URL.Path)
		assert.Equal(t, "ad_object_id,target_object_type,datasets_information", r.URL.Query().Get("fields"))
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Request-Id"))
		_, _ = io.WriteString(w, `{
			"id": "ds-1",
			"ad_object_id": "ad-9",
			"datasets_information": [
				{"key": "LAST_CLICK_1D", "value": [
					{"timestamp": "2021-01-01T00:00:00+0000", "num_containers": 2, "num_shards": 4},
					{"timestamp": 1609545600, "num_containers": 1, "num_shards": 1}
				]},
				{"key": "SOME_FUTURE_RULE", "value": [{"timestamp": "2021-01-01T00:00:00+0000"}]}
			]
		}`)
	}))

	info, err := client.GetDatasetInfo(context.Background(), "ds-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "ad-9", info.AdObjectID)
	require.Len(t, info.Windows, 2)
	assert.Equal(t, domain.AttributionLastClick1D, info.Windows[0].AttributionRule)
	assert.True(t, info.Windows[0].Timestamp.Equal(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2, info.Windows[0].ContainerCount)
	assert.Equal(t, 4, info.Windows[0].ShardCount)
	assert.True(t, info.Windows[1].Timestamp.Equal(time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC)))
}

func TestGetExistingInstances(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ds-1/instances", r.URL.Path)
		_, _ = io.WriteString(w, `{"data": [
			{"id": "i-1", "attribution_rule": "last_click_1d", "timestamp": "1609459200", "status": "ID_MATCHING_FAILED"},
			{"id": "i-2", "attribution_rule": "unheard_of", "timestamp": "1609459200", "status": "CREATED"}
		]}`)
	}))

	instances, err := client.GetExistingInstances(context.Background(), "ds-1")
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, "i-1", instances[0].ID)
	assert.Equal(t, "ds-1", instances[0].DatasetID)
	assert.Equal(t, domain.StageStatus(domain.PrefixIDMatching, domain.PhaseFailed), instances[0].Status)
}

func TestGetExistingInstancesKeepsUnknownStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[`+
			`{"id":"old","attribution_rule":"last_touch_28d","status":"INPUT_DATA_VALIDATION_COMPLETED"},`+
			`{"id":"good","attribution_rule":"last_click_1d","timestamp":1609459200,"status":"ID_MATCHING_FAILED"}]}`)
	}))

	instances, err := client.GetExistingInstances(context.Background(), "ds-1")
	require.NoError(t, err)
	require.Len(t, instances, 2)

	assert.Equal(t, "old", instances[0].ID)
	assert.Equal(t, domain.StatusUnknown, instances[0].Status)
	assert.Equal(t, "INPUT_DATA_VALIDATION_COMPLETED", instances[0].RawStatus)
	assert.False(t, instances[0].StatusRecognized())

	assert.Equal(t, "good", instances[1].ID)
	assert.True(t, instances[1].StatusRecognized())
	assert.Equal(t, domain.StageStatus(domain.PrefixIDMatching, domain.PhaseFailed), instances[1].Status)
}

func TestGetInstanceRejectsUnknownStatus(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id": "i-1", "attribution_rule": "last_click_1d", "timestamp": 1609459200, "status": "MYSTERY"}`)
	}))
	_, err := client.GetInstance(context.Background(), "i-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownStatus))
	assert.Contains(t, err.Error(), "MYSTERY")
}

func TestCreateInstance(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ds-1/instances", r.URL.Path)
		var body createInstanceRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, int64(1609459200), body.Timestamp)
		assert.Equal(t, "last_click_1d", body.AttributionRule)
		assert.Equal(t, 2, body.ResultType)
		_, _ = io.WriteString(w, `{"id": "i-new"}`)
	}))

	id, err := client.CreateInstance(context.Background(), "ds-1", time.Unix(1609459200, 0).UTC(), domain.AttributionLastClick1D, domain.ResultTypeMeasurement)
	require.NoError(t, err)
	assert.Equal(t, "i-new", id)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"id": "i-1", "status": "CREATED", "num_containers": 3, "num_shards": 6}`)
	}))

	inst, err := client.GetInstance(context.Background(), "i-1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, inst.NumContainers)
	assert.Equal(t, 6, inst.NumShards)
}

func TestApplicationErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error": "bad dataset"}`)
	}))

	_, err := client.GetInstance(context.Background(), "i-1")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.False(t, IsTransient(err))
}

func TestCreateInstanceNotRetriedOnServerError(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	_, err := client.CreateInstance(context.Background(), "ds-1", time.Unix(0, 0), domain.AttributionLastClick1D, domain.ResultTypeMeasurement)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCreateInstanceRetriedOnThrottle(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"id": "i-2"}`)
	}))
	id, err := client.CreateInstance(context.Background(), "ds-1", time.Unix(0, 0), domain.AttributionLastClick1D, domain.ResultTypeMeasurement)
	require.NoError(t, err)
	assert.Equal(t, "i-2", id)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRequestTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(srv.URL)
	cfg.RequestTimeout = 20 * time.Millisecond
	cfg.MaxRetries = 0
	client, err := New(context.Background(), cfg, srv.Client(), nil)
	require.NoError(t, err)

	_, err = client.GetInstance(context.Background(), "i-1")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(errors.New("plain")))
	assert.True(t, IsTransient(&APIError{StatusCode: 503}))
	assert.True(t, IsTransient(&APIError{StatusCode: 500}))
	assert.False(t, IsTransient(&APIError{StatusCode: 404}))
	assert.True(t, IsTransient(&transportError{err: io.ErrUnexpectedEOF}))
}

func TestComputeBackoff(t *testing.T) {
	assert.Equal(t, time.Duration(0), computeBackoff(time.Second, 10*time.Second, 0))
	assert.Equal(t, time.Second, computeBackoff(time.Second, 10*time.Second, 1))
	assert.Equal(t, 4*time.Second, computeBackoff(time.Second, 10*time.Second, 3))
	assert.Equal(t, 10*time.Second, computeBackoff(time.Second, 10*time.Second, 8))
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig("https://graph.example.test/v1")
	require.NoError(t, cfg.Validate())

	noToken := cfg
	noToken.AccessToken = ""
	require.Error(t, noToken.Validate())

	withOIDC := noToken
	withOIDC.OIDC = OIDCConfig{IssuerURL: "https://issuer.example.test", ClientID: "runner", ClientSecret: "s3cret"}
	require.NoError(t, withOIDC.Validate())

	badURL := cfg
	badURL.BaseURL = "not a url"
	require.Error(t, badURL.Validate())
}
