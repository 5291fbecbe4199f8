package inbound

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Signal kinds the dispatcher routes. Anything else is rejected at the door.
const (
	KindTenantInstalled   = "tenant_installed"
	KindTenantUninstalled = "tenant_uninstalled"
	KindSyncRequested     = "sync_requested"
	KindTokenExpiring     = "token_expiring"
)

// Signal is one externally delivered lifecycle notification, already parsed
// off whatever transport carried it.
type Signal struct {
	ConnectorID string
	TenantID    string
	Kind        string
	Headers     map[string]string
	Metadata    map[string]any
	ReceivedAt  time.Time
}

// Receipt reports how a signal was handled. StatusCode follows HTTP
// semantics so transport layers can echo it back to the sender.
type Receipt struct {
	Accepted   bool
	StatusCode int
	Metadata   map[string]any
}

// Handler processes every signal of one kind.
type Handler interface {
	Kind() string
	Handle(ctx context.Context, sig Signal) (Receipt, error)
}

// Verifier authenticates a signal before any state is touched. Transport
// layers supply signature or shared-secret checks here.
type Verifier interface {
	Verify(ctx context.Context, sig Signal) error
}

// ClaimStore is the idempotency ledger behind the dispatcher. Claim returns
// accepted=false when the key is already held or completed within its lease.
type ClaimStore interface {
	Claim(ctx context.Context, key string, lease time.Duration) (claimID string, accepted bool, err error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, retryAt time.Time) error
}

// IdempotencyKeyExtractor resolves the dedup key of a signal.
type IdempotencyKeyExtractor func(sig Signal) (string, error)

// DefaultIdempotencyKeyExtractor checks the metadata keys senders commonly
// use, then falls back to delivery headers.
func DefaultIdempotencyKeyExtractor(sig Signal) (string, error) {
	if sig.Metadata != nil {
		for _, key := range []string{"idempotency_key", "delivery_id", "message_id"} {
			if value := trimAny(sig.Metadata[key]); value != "" {
				return value, nil
			}
		}
	}
	if sig.Headers != nil {
		for _, key := range []string{"idempotency-key", "x-idempotency-key", "x-delivery-id"} {
			if value := headerValue(sig.Headers, key); value != "" {
				return value, nil
			}
		}
	}
	return "", signalBadInput("inbound: idempotency key is required", map[string]any{
		"connector_id": sig.ConnectorID,
		"kind":         sig.Kind,
	})
}

func normalizeKind(kind string) string {
	return strings.TrimSpace(strings.ToLower(kind))
}

func isSupportedKind(kind string) bool {
	switch normalizeKind(kind) {
	case KindTenantInstalled, KindTenantUninstalled, KindSyncRequested, KindTokenExpiring:
		return true
	default:
		return false
	}
}

func trimAny(value any) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
