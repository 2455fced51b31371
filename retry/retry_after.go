package retry

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-request-network/core"
)

// RetryAfterFromHeaders reads a delta hint from retry-after-ms or a numeric
// retry-after header. HTTP-date values need a clock and are resolved by
// ParseRetryAfter instead.
func RetryAfterFromHeaders(headers map[string]string) (time.Duration, bool) {
	if raw := core.HeaderValue(headers, "retry-after-ms"); raw != "" {
		if ms, err := strconv.ParseFloat(raw, 64); err == nil && ms >= 0 {
			return time.Duration(ms * float64(time.Millisecond)), true
		}
	}
	if raw := core.HeaderValue(headers, "retry-after"); raw != "" {
		if seconds, err := strconv.ParseFloat(raw, 64); err == nil && seconds >= 0 {
			return time.Duration(seconds * float64(time.Second)), true
		}
	}
	return 0, false
}

// ParseRetryAfter resolves a Retry-After header value, either delta-seconds or
// an HTTP date relative to now. Dates in the past resolve to zero.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds * float64(time.Second)), true
	}
	retryAt, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	if !retryAt.After(now) {
		return 0, true
	}
	return retryAt.Sub(now), true
}
