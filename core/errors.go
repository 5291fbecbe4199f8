package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	EngineErrorBadInput         = "DIRSYNC_BAD_INPUT"
	EngineErrorTenantNotFound   = "DIRSYNC_TENANT_NOT_FOUND"
	EngineErrorConnectorUnknown = "DIRSYNC_CONNECTOR_UNKNOWN"
	EngineErrorUnauthorized     = "DIRSYNC_UNAUTHORIZED"
	EngineErrorNotAdmin         = "DIRSYNC_NOT_ADMIN"
	EngineErrorRateLimited      = "DIRSYNC_RATE_LIMITED"
	EngineErrorRefreshLocked    = "DIRSYNC_REFRESH_LOCKED"
	EngineErrorVendorFailed     = "DIRSYNC_VENDOR_CALL_FAILED"
	EngineErrorInternal         = "DIRSYNC_INTERNAL_ERROR"
)

// Metadata keys attached to vendor errors so the classifier and the
// rate-limit policy can inspect the response without the original http types.
const (
	ErrMetaHTTPStatus  = "http_status"
	ErrMetaHTTPHeaders = "http_headers"
	ErrMetaVendorCode  = "vendor_code"
	ErrMetaBodySnippet = "body_snippet"
)

// NewVendorHTTPError builds the tagged error connectors raise for non-2xx
// vendor responses. The category is derived from the status so downstream
// classification stays a pure lookup.
func NewVendorHTTPError(message string, status int, headers map[string]string, vendorCode string) *goerrors.Error {
	category := goerrors.CategoryExternal
	textCode := EngineErrorVendorFailed
	switch {
	case status == http.StatusUnauthorized:
		category = goerrors.CategoryAuth
		textCode = EngineErrorUnauthorized
	case status == http.StatusForbidden:
		category = goerrors.CategoryAuthz
		textCode = EngineErrorNotAdmin
	case status == http.StatusTooManyRequests:
		category = goerrors.CategoryRateLimit
		textCode = EngineErrorRateLimited
	case status == http.StatusNotFound:
		category = goerrors.CategoryNotFound
		textCode = EngineErrorVendorFailed
	}
	metadata := map[string]any{
		ErrMetaHTTPStatus: status,
	}
	if len(headers) > 0 {
		normalized := make(map[string]string, len(headers))
		for key, value := range headers {
			normalized[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
		}
		metadata[ErrMetaHTTPHeaders] = normalized
	}
	if trimmed := strings.TrimSpace(vendorCode); trimmed != "" {
		metadata[ErrMetaVendorCode] = trimmed
	}
	return engineErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode).
			WithCode(status).
			WithMetadata(metadata),
	)
}

// NewTenantNotFoundError marks a tenant row as gone; both loops treat it as
// already-cancelled rather than retriable.
func NewTenantNotFoundError(tenantID string) *goerrors.Error {
	return engineErrorEnvelope(
		goerrors.New("core: tenant "+strings.TrimSpace(tenantID)+" not found", goerrors.CategoryNotFound).
			WithTextCode(EngineErrorTenantNotFound),
	)
}

func engineErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return engineErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "tenant") && strings.Contains(msg, "not found"):
		return newEngineError(err.Error(), goerrors.CategoryNotFound, EngineErrorTenantNotFound)
	case strings.Contains(msg, "connector") && strings.Contains(msg, "not registered"):
		return newEngineError(err.Error(), goerrors.CategoryNotFound, EngineErrorConnectorUnknown)
	case strings.Contains(msg, "lock already held"), strings.Contains(msg, "refresh lock"):
		return newEngineError(err.Error(), goerrors.CategoryConflict, EngineErrorRefreshLocked)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newEngineError(err.Error(), goerrors.CategoryRateLimit, EngineErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newEngineError(err.Error(), goerrors.CategoryBadInput, EngineErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return engineErrorEnvelope(mapped)
}

func newEngineError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return engineErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func engineErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = engineHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultEngineTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultEngineTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return EngineErrorBadInput
	case goerrors.CategoryNotFound:
		return EngineErrorTenantNotFound
	case goerrors.CategoryAuth:
		return EngineErrorUnauthorized
	case goerrors.CategoryAuthz:
		return EngineErrorNotAdmin
	case goerrors.CategoryConflict:
		return EngineErrorRefreshLocked
	case goerrors.CategoryRateLimit:
		return EngineErrorRateLimited
	case goerrors.CategoryExternal, goerrors.CategoryOperation:
		return EngineErrorVendorFailed
	default:
		return EngineErrorInternal
	}
}

func engineHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
