package resolver

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/attribution-runner/internal/domain"
)

const isoDateLayout = "2006-01-02"

// ParseTimestamp accepts a calendar date (YYYY-MM-DD, midnight UTC) or a
// base-10 epoch-seconds string.
func ParseTimestamp(raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", domain.ErrInvalidTimestamp)
	}
	if looksLikeISODate(value) {
		t, err := time.ParseInLocation(isoDateLayout, value, time.UTC)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", domain.ErrInvalidTimestamp, raw)
		}
		return t, nil
	}
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", domain.ErrInvalidTimestamp, raw)
	}
	return time.Unix(secs, 0).UTC(), nil
}

func looksLikeISODate(value string) bool {
	if len(value) != len(isoDateLayout) {
		return false
	}
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch i {
		case 4, 7:
			if c != '-' {
				return false
			}
		default:
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}
