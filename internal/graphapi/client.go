package graphapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/animus-labs/attribution-runner/internal/domain"
	"github.com/animus-labs/attribution-runner/internal/platform/requestid"
)

// Client is the computation-management API surface the runner consumes.
type Client interface {
	GetDatasetInfo(ctx context.Context, datasetID string, fields []string) (domain.DatasetInfo, error)
	GetExistingInstances(ctx context.Context, datasetID string) ([]domain.Instance, error)
	CreateInstance(ctx context.Context, datasetID string, timestamp time.Time, rule domain.AttributionRule, resultType domain.ResultType) (string, error)
	GetInstance(ctx context.Context, instanceID string) (domain.Instance, error)
}

type HTTPClient struct {
	cfg     Config
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New builds an HTTPClient. A nil base client gets a default transport; the
// token source wraps whichever is used.
func New(ctx context.Context, cfg Config, base *http.Client, logger *slog.Logger) (*HTTPClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if base == nil {
		base = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ts, err := TokenSource(ctx, cfg, base)
	if err != nil {
		return nil, err
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &HTTPClient{
		cfg:     cfg,
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http: &http.Client{
			Transport: &oauth2.Transport{Source: ts, Base: transport},
		},
		logger: logger,
		sleep:  sleepContext,
	}, nil
}

func (c *HTTPClient) GetDatasetInfo(ctx context.Context, datasetID string, fields []string) (domain.DatasetInfo, error) {
	datasetID = strings.TrimSpace(datasetID)
	if datasetID == "" {
		return domain.DatasetInfo{}, errors.New("dataset id is required")
	}
	if len(fields) == 0 {
		fields = DefaultDatasetFields
	}
	query := url.Values{"fields": {strings.Join(fields, ",")}}

	var resp datasetInfoResponse
	if err := c.call(ctx, http.MethodGet, "/"+url.PathEscape(datasetID), query, nil, &resp, true); err != nil {
		return domain.DatasetInfo{}, fmt.Errorf("get dataset info %s: %w", datasetID, err)
	}

	info := domain.DatasetInfo{
		DatasetID:        datasetID,
		AdObjectID:       resp.AdObjectID,
		TargetObjectType: resp.TargetObjectType,
	}
	for _, group := range resp.DatasetsInformation {
		rule, err := domain.ParseAttributionRule(group.Key)
		if err != nil {
			c.logger.Warn("skipping dataset windows with unknown attribution rule", "dataset_id", datasetID, "rule", group.Key)
			continue
		}
		for _, w := range group.Value {
			info.Windows = append(info.Windows, domain.DatasetWindow{
				AttributionRule: rule,
				Timestamp:       w.Timestamp.Time,
				ContainerCount:  w.NumContainers,
				ShardCount:      w.NumShards,
			})
		}
	}
	return info, nil
}

func (c *HTTPClient) GetExistingInstances(ctx context.Context, datasetID string) ([]domain.Instance, error) {
	datasetID = strings.TrimSpace(datasetID)
	if datasetID == "" {
		return nil, errors.New("dataset id is required")
	}
	var resp instancesResponse
	if err := c.call(ctx, http.MethodGet, "/"+url.PathEscape(datasetID)+"/instances", nil, nil, &resp, true); err != nil {
		return nil, fmt.Errorf("get instances for %s: %w", datasetID, err)
	}
	out := make([]domain.Instance, 0, len(resp.Data))
	for _, p := range resp.Data {
		inst, known := toInstance(p)
		if !known {
			continue
		}
		if !inst.StatusRecognized() {
			c.logger.Warn("instance reports an unknown status", "dataset_id", datasetID, "instance_id", inst.ID, "status", inst.RawStatus)
		}
		if inst.DatasetID == "" {
			inst.DatasetID = datasetID
		}
		out = append(out, inst)
	}
	return out, nil
}

// CreateInstance is retried only when the server reports it did not process the
// request; a timed-out create is surfaced so it cannot be duplicated.
func (c *HTTPClient) CreateInstance(ctx context.Context, datasetID string, timestamp time.Time, rule domain.AttributionRule, resultType domain.ResultType) (string, error) {
	datasetID = strings.TrimSpace(datasetID)
	if datasetID == "" {
		return "", errors.New("dataset id is required")
	}
	body := createInstanceRequest{
		Timestamp:       timestamp.Unix(),
		AttributionRule: rule.Value(),
		ResultType:      int(resultType),
	}
	var resp createInstanceResponse
	if err := c.call(ctx, http.MethodPost, "/"+url.PathEscape(datasetID)+"/instances", nil, body, &resp, false); err != nil {
		return "", fmt.Errorf("create instance for %s: %w", datasetID, err)
	}
	if strings.TrimSpace(resp.ID) == "" {
		return "", fmt.Errorf("create instance for %s: empty instance id in response", datasetID)
	}
	return resp.ID, nil
}

func (c *HTTPClient) GetInstance(ctx context.Context, instanceID string) (domain.Instance, error) {
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return domain.Instance{}, errors.New("instance id is required")
	}
	var resp instancePayload
	if err := c.call(ctx, http.MethodGet, "/"+url.PathEscape(instanceID), nil, nil, &resp, true); err != nil {
		return domain.Instance{}, fmt.Errorf("get instance %s: %w", instanceID, err)
	}
	if resp.ID == "" {
		resp.ID = instanceID
	}
	inst, _ := toInstance(resp)
	if !inst.StatusRecognized() {
		return domain.Instance{}, fmt.Errorf("instance %s: %w %q", instanceID, domain.ErrUnknownStatus, inst.RawStatus)
	}
	return inst, nil
}

// toInstance reports known=false for rules this runner does not handle; such
// instances can never match a request. An unrecognized status is kept as
// StatusUnknown with the raw value so only a run that would resume that
// instance has to fail.
func toInstance(p instancePayload) (domain.Instance, bool) {
	inst := domain.Instance{
		ID:                 p.ID,
		DatasetID:          p.DatasetID,
		RequestedTimestamp: p.Timestamp.Time,
		NumContainers:      p.NumContainers,
		NumShards:          p.NumShards,
	}
	status, err := domain.ParseInstanceStatus(p.Status)
	if err != nil {
		inst.Status = domain.StatusUnknown
		inst.RawStatus = p.Status
	} else {
		inst.Status = status
	}
	if strings.TrimSpace(p.AttributionRule) == "" {
		return inst, true
	}
	rule, err := domain.ParseAttributionRule(p.AttributionRule)
	if err != nil {
		return inst, false
	}
	inst.AttributionRule = rule
	return inst, true
}

func (c *HTTPClient) call(ctx context.Context, method, path string, query url.Values, in, out any, retryTransport bool) error {
	var payload []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = b
	}

	reqID := requestid.FromContext(ctx)
	for attempt := 0; ; attempt++ {
		err := c.once(ctx, method, path, query, payload, out, reqID)
		if err == nil {
			return nil
		}
		if attempt >= c.cfg.MaxRetries || !c.retryable(err, retryTransport) || ctx.Err() != nil {
			return err
		}
		wait := computeBackoff(c.cfg.InitialBackoff, c.cfg.MaxBackoff, attempt+1)
		c.logger.Warn("graph api call failed; retrying",
			"method", method,
			"path", path,
			"attempt", attempt+1,
			"backoff", wait.String(),
			"request_id", reqID,
			"error", err,
		)
		if err := c.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (c *HTTPClient) retryable(err error, retryTransport bool) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if retryTransport {
			return IsTransient(err)
		}
		return apiErr.Temporary()
	}
	return retryTransport && IsTransient(err)
}

func (c *HTTPClient) once(ctx context.Context, method, path string, query url.Values, payload []byte, out any, reqID string) error {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(callCtx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", reqID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &transportError{err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode graph api response: %w", err)
	}
	return nil
}

func computeBackoff(initial, max time.Duration, attempt int) time.Duration {
	if attempt < 1 || initial <= 0 {
		return 0
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if max > 0 && backoff > float64(max) {
		return max
	}
	return time.Duration(backoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
