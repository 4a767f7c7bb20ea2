package validations

import (
	"strings"
	"time"

	"github.com/spf13/cast"
)

// ParseBefore reads a pagination cursor given as RFC3339 or epoch
// seconds/milliseconds.
func ParseBefore(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, true
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true
	}
	n, err := cast.ToInt64E(raw)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	if n > 1e12 {
		return time.UnixMilli(n), true
	}
	return time.Unix(n, 0), true
}
