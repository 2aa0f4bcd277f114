// Package env reads process-level knobs that sit outside the config file.
package env

import (
	"os"
	"strings"
)

// NonEmpty returns the trimmed value of key, or def when key is unset or blank.
func NonEmpty(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// List splits a comma-separated value of key, dropping blank items. def is
// returned when key is unset or holds no items.
func List(key string, def []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
