package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// ClassifyConnectionError maps a connector-raised error onto the closed
// connection-error enum. The second return is false when the error carries no
// recognizable signal; callers treat that as unclassified/transient. The
// function never panics and never classifies nil.
func ClassifyConnectionError(err error) (ConnectionErrorKind, bool) {
	if err == nil {
		return "", false
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		if kind, ok := classifyRichError(richErr); ok {
			return kind, ok
		}
	}

	return classifyMessage(err.Error())
}

func classifyRichError(err *goerrors.Error) (ConnectionErrorKind, bool) {
	switch strings.TrimSpace(err.TextCode) {
	case EngineErrorUnauthorized:
		return ErrorKindUnauthorized, true
	case EngineErrorNotAdmin:
		return ErrorKindNotAdmin, true
	case EngineErrorRateLimited:
		return ErrorKindRateLimited, true
	}

	switch err.Category {
	case goerrors.CategoryAuth:
		return ErrorKindUnauthorized, true
	case goerrors.CategoryAuthz:
		return ErrorKindNotAdmin, true
	case goerrors.CategoryRateLimit:
		return ErrorKindRateLimited, true
	}

	switch HTTPStatusFromError(err) {
	case http.StatusUnauthorized:
		return ErrorKindUnauthorized, true
	case http.StatusForbidden:
		return ErrorKindNotAdmin, true
	case http.StatusTooManyRequests:
		return ErrorKindRateLimited, true
	}

	return "", false
}

func classifyMessage(message string) (ConnectionErrorKind, bool) {
	msg := strings.ToLower(strings.TrimSpace(message))
	switch {
	case msg == "":
		return "", false
	case strings.Contains(msg, "invalid_grant"),
		strings.Contains(msg, "invalid_token"),
		strings.Contains(msg, "token revoked"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "credential") && strings.Contains(msg, "not found"):
		return ErrorKindUnauthorized, true
	case strings.Contains(msg, "not an admin"),
		strings.Contains(msg, "not_admin"),
		strings.Contains(msg, "admin required"),
		strings.Contains(msg, "insufficient privilege"):
		return ErrorKindNotAdmin, true
	case strings.Contains(msg, "throttl"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"):
		return ErrorKindRateLimited, true
	default:
		return "", false
	}
}

// HTTPStatusFromError digs the vendor response status out of an error
// envelope. Returns 0 when none is present.
func HTTPStatusFromError(err error) int {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil {
		return 0
	}
	if richErr.Metadata != nil {
		switch value := richErr.Metadata[ErrMetaHTTPStatus].(type) {
		case int:
			return value
		case int64:
			return int(value)
		case float64:
			return int(value)
		}
	}
	if richErr.Code >= 100 && richErr.Code < 600 {
		return richErr.Code
	}
	return 0
}

// HTTPHeadersFromError extracts normalized (lowercase key) response headers
// from an error envelope, or nil.
func HTTPHeadersFromError(err error) map[string]string {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil || richErr.Metadata == nil {
		return nil
	}
	switch value := richErr.Metadata[ErrMetaHTTPHeaders].(type) {
	case map[string]string:
		return value
	case map[string]any:
		out := make(map[string]string, len(value))
		for key, raw := range value {
			if text, ok := raw.(string); ok {
				out[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(text)
			}
		}
		return out
	default:
		return nil
	}
}

// VendorCodeFromError extracts the vendor error code, or "".
func VendorCodeFromError(err error) string {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil || richErr.Metadata == nil {
		return ""
	}
	if code, ok := richErr.Metadata[ErrMetaVendorCode].(string); ok {
		return strings.TrimSpace(code)
	}
	return ""
}

// IsTenantNotFound reports whether err marks a missing tenant row, which both
// loops treat as already-cancelled rather than retriable.
func IsTenantNotFound(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr != nil {
		if strings.TrimSpace(richErr.TextCode) == EngineErrorTenantNotFound {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "tenant") && strings.Contains(msg, "not found")
}
