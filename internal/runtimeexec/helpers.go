package runtimeexec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const (
	EnvInstanceID          = "INSTANCE_ID"
	EnvStageName           = "STAGE_NAME"
	EnvContainerIndex      = "CONTAINER_INDEX"
	EnvContainerCount      = "CONTAINER_COUNT"
	EnvBinaryURL           = "BINARY_URL"
	EnvRepositoryPath      = "ONEDOCKER_REPOSITORY_PATH"
	EnvGameType            = "GAME_TYPE"
	EnvAttributionRule     = "ATTRIBUTION_RULE"
	EnvAggregationType     = "AGGREGATION_TYPE"
	EnvInputPath           = "INPUT_PATH"
	EnvConcurrency         = "CONCURRENCY"
	EnvFilesPerContainer   = "FILES_PER_CONTAINER"
	EnvKAnonymityThreshold = "K_ANONYMITY_THRESHOLD"
)

func parseIntResource(resources map[string]any, key string) int {
	if len(resources) == 0 {
		return 0
	}
	v, ok := resources[key]
	if !ok {
		return 0
	}
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

func stringResource(resources map[string]any, key string) string {
	v, ok := resources[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}

// sortedEnv returns KEY=VALUE pairs in key order so submissions are reproducible.
func sortedEnv(env map[string]string) [][2]string {
	keys := make([]string, 0, len(env))
	for k := range env {
		key := strings.TrimSpace(k)
		if key == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{strings.TrimSpace(k), env[k]})
	}
	return out
}

// containerName builds a DNS-1123 label unique per instance, stage, attempt and index.
func containerName(instanceID, stage string, attempt, index int) string {
	sum := sha256.Sum256([]byte(instanceID))
	stagePart := sanitizeLabel(stage)
	if len(stagePart) > 32 {
		stagePart = strings.Trim(stagePart[:32], "-")
	}
	return fmt.Sprintf("pc-%s-%s-a%d-%d", hex.EncodeToString(sum[:5]), stagePart, attempt, index)
}

func sanitizeLabel(value string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(value) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "stage"
	}
	return out
}
