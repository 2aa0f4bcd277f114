package graphapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dataset information field names.
const (
	FieldAdObjectID          = "ad_object_id"
	FieldTargetObjectType    = "target_object_type"
	FieldDatasetsInformation = "datasets_information"
)

// DefaultDatasetFields is the projection the runner always requests.
var DefaultDatasetFields = []string{FieldAdObjectID, FieldTargetObjectType, FieldDatasetsInformation}

type datasetInfoResponse struct {
	ID                  string              `json:"id"`
	AdObjectID          string              `json:"ad_object_id"`
	TargetObjectType    string              `json:"target_object_type"`
	DatasetsInformation []datasetRuleWindow `json:"datasets_information"`
}

type datasetRuleWindow struct {
	Key   string          `json:"key"`
	Value []windowPayload `json:"value"`
}

type windowPayload struct {
	Timestamp     wireTime `json:"timestamp"`
	NumContainers int      `json:"num_containers"`
	NumShards     int      `json:"num_shards"`
}

type instancesResponse struct {
	Data []instancePayload `json:"data"`
}

type instancePayload struct {
	ID              string   `json:"id"`
	DatasetID       string   `json:"dataset_id,omitempty"`
	AttributionRule string   `json:"attribution_rule"`
	Timestamp       wireTime `json:"timestamp"`
	Status          string   `json:"status"`
	NumContainers   int      `json:"num_containers"`
	NumShards       int      `json:"num_shards"`
}

type createInstanceRequest struct {
	Timestamp       int64  `json:"timestamp"`
	AttributionRule string `json:"attribution_rule"`
	ResultType      int    `json:"result_type"`
}

type createInstanceResponse struct {
	ID string `json:"id"`
}

var wireTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// wireTime accepts epoch seconds (number or digit string) and the ISO layouts
// the API emits. Values without a zone are UTC.
type wireTime struct {
	time.Time
}

func (w *wireTime) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		w.Time = time.Time{}
		return nil
	}
	if raw[0] != '"' {
		secs, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("timestamp %s: %w", raw, err)
		}
		w.Time = time.Unix(secs, 0).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return err
	}
	t, err := parseWireTime(s)
	if err != nil {
		return err
	}
	w.Time = t
	return nil
}

func parseWireTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	for _, layout := range wireTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
