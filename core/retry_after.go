package core

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HeaderRetryAfter is the lowercase header key carrying a vendor-provided
// retry delay, either delta-seconds or an HTTP-date.
const HeaderRetryAfter = "retry-after"

// RetryAfterCarrier is implemented by throttling errors that already resolved
// a retry delay, e.g. the adaptive rate-limit policy's ThrottledError.
type RetryAfterCarrier interface {
	RetryAfterDuration() time.Duration
}

// ParseRetryAfter interprets a Retry-After header value relative to now.
// Returns 0 when the value is absent or unparseable.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, ok := parseHTTPDate(value); ok {
		delay := at.Sub(now.UTC())
		if delay <= 0 {
			return 0
		}
		return delay
	}
	return 0
}

// parseHTTPDate accepts the standard http-date layouts plus RFC 1123 with a
// named zone; vendors emit "UTC" where the RFC wants "GMT".
func parseHTTPDate(value string) (time.Time, bool) {
	if at, err := http.ParseTime(value); err == nil {
		return at, true
	}
	for _, layout := range []string{time.RFC1123, time.RFC1123Z} {
		if at, err := time.Parse(layout, value); err == nil {
			return at, true
		}
	}
	return time.Time{}, false
}

// RetryDelayFromError resolves the retry delay for a rate-limited vendor
// error: an explicit carrier wins, then the response Retry-After header, then
// the fallback (60s by default configuration).
func RetryDelayFromError(err error, now time.Time, fallback time.Duration) time.Duration {
	if err == nil {
		return fallback
	}
	var carrier RetryAfterCarrier
	if errors.As(err, &carrier) {
		if delay := carrier.RetryAfterDuration(); delay > 0 {
			return delay
		}
	}
	if headers := HTTPHeadersFromError(err); len(headers) > 0 {
		if delay := ParseRetryAfter(headers[HeaderRetryAfter], now); delay > 0 {
			return delay
		}
	}
	return fallback
}
