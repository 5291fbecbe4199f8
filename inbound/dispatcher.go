package inbound

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-dirsync/core"
)

// Dispatcher routes verified signals to the handler registered for their
// kind, deduping redeliveries through the claim store.
type Dispatcher struct {
	Verifier   Verifier
	Store      ClaimStore
	ExtractKey IdempotencyKeyExtractor
	KeyTTL     time.Duration

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewDispatcher(verifier Verifier, store ClaimStore) *Dispatcher {
	return &Dispatcher{
		Verifier:   verifier,
		Store:      store,
		ExtractKey: DefaultIdempotencyKeyExtractor,
		KeyTTL:     10 * time.Minute,
		handlers:   map[string]Handler{},
	}
}

func (d *Dispatcher) Register(handler Handler) error {
	if d == nil {
		return signalInternal("inbound: dispatcher is nil", nil)
	}
	if handler == nil {
		return signalBadInput("inbound: handler is nil", nil)
	}
	kind := normalizeKind(handler.Kind())
	if !isSupportedKind(kind) {
		return signalBadInput(
			fmt.Sprintf("inbound: unsupported signal kind %q", kind),
			map[string]any{"kind": kind},
		)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[kind]; exists {
		return signalError(
			fmt.Sprintf("inbound: handler already registered for kind %q", kind),
			goerrors.CategoryConflict,
			http.StatusConflict,
			SignalErrorConflict,
			map[string]any{"kind": kind},
		)
	}
	d.handlers[kind] = handler
	return nil
}

func (d *Dispatcher) Dispatch(ctx context.Context, sig Signal) (Receipt, error) {
	if d == nil {
		return Receipt{}, signalInternal("inbound: dispatcher is nil", nil)
	}
	sig.ConnectorID = strings.TrimSpace(sig.ConnectorID)
	sig.TenantID = strings.TrimSpace(sig.TenantID)
	sig.Kind = normalizeKind(sig.Kind)
	if sig.ConnectorID == "" {
		return Receipt{}, signalBadInput("inbound: connector id is required", map[string]any{
			"kind": sig.Kind,
		})
	}
	if !isSupportedKind(sig.Kind) {
		return Receipt{}, signalBadInput(
			fmt.Sprintf("inbound: unsupported signal kind %q", sig.Kind),
			map[string]any{"connector_id": sig.ConnectorID, "kind": sig.Kind},
		)
	}
	if d.Verifier != nil {
		if err := d.Verifier.Verify(ctx, sig); err != nil {
			return Receipt{
					Accepted:   false,
					StatusCode: http.StatusUnauthorized,
					Metadata: map[string]any{
						"connector_id": sig.ConnectorID,
						"kind":         sig.Kind,
						"rejected":     true,
					},
				}, signalWrapError(
					err,
					goerrors.CategoryAuth,
					"inbound: signal verification failed",
					http.StatusUnauthorized,
					core.EngineErrorUnauthorized,
					map[string]any{"connector_id": sig.ConnectorID, "kind": sig.Kind},
				)
		}
	}

	claimID := ""
	if d.Store != nil {
		extractor := d.ExtractKey
		if extractor == nil {
			extractor = DefaultIdempotencyKeyExtractor
		}
		key, err := extractor(sig)
		if err != nil {
			return Receipt{}, signalWrapError(
				err,
				goerrors.CategoryBadInput,
				"inbound: resolve idempotency key",
				http.StatusBadRequest,
				core.EngineErrorBadInput,
				map[string]any{"connector_id": sig.ConnectorID, "kind": sig.Kind},
			)
		}
		var accepted bool
		claimID, accepted, err = d.Store.Claim(ctx, sig.ConnectorID+":"+sig.Kind+":"+key, d.keyTTL())
		if err != nil {
			return Receipt{}, signalWrapError(
				err,
				goerrors.CategoryOperation,
				"inbound: idempotency claim failed",
				http.StatusInternalServerError,
				core.EngineErrorInternal,
				map[string]any{
					"connector_id": sig.ConnectorID,
					"kind":         sig.Kind,
					"idempotency":  key,
				},
			)
		}
		if !accepted {
			return Receipt{
				Accepted:   true,
				StatusCode: http.StatusOK,
				Metadata: map[string]any{
					"connector_id": sig.ConnectorID,
					"kind":         sig.Kind,
					"deduped":      true,
				},
			}, nil
		}
	}

	handler := d.handlerFor(sig.Kind)
	if handler == nil {
		return Receipt{}, signalError(
			fmt.Sprintf("inbound: no handler registered for kind %q", sig.Kind),
			goerrors.CategoryNotFound,
			http.StatusNotFound,
			SignalErrorUnrouted,
			map[string]any{"connector_id": sig.ConnectorID, "kind": sig.Kind},
		)
	}
	receipt, err := handler.Handle(ctx, sig)
	if err != nil {
		handlerErr := signalWrapError(
			err,
			goerrors.CategoryOperation,
			"inbound: signal handler failed",
			http.StatusBadGateway,
			SignalErrorFailed,
			map[string]any{"connector_id": sig.ConnectorID, "kind": sig.Kind},
		)
		if failErr := d.releaseClaim(ctx, claimID, err); failErr != nil {
			return Receipt{}, errors.Join(handlerErr, failErr)
		}
		return Receipt{}, handlerErr
	}
	if !receipt.Accepted || receipt.StatusCode >= http.StatusInternalServerError {
		retryErr := signalError(
			fmt.Sprintf("inbound: handler returned retryable status %d", receipt.StatusCode),
			goerrors.CategoryOperation,
			http.StatusBadGateway,
			SignalErrorFailed,
			map[string]any{
				"connector_id": sig.ConnectorID,
				"kind":         sig.Kind,
				"status_code":  receipt.StatusCode,
			},
		)
		if failErr := d.releaseClaim(ctx, claimID, retryErr); failErr != nil {
			return receipt, errors.Join(retryErr, failErr)
		}
		return receipt, retryErr
	}
	if d.Store != nil && claimID != "" {
		if err := d.Store.Complete(ctx, claimID); err != nil {
			return Receipt{}, signalWrapError(
				err,
				goerrors.CategoryOperation,
				"inbound: complete idempotency claim",
				http.StatusInternalServerError,
				core.EngineErrorInternal,
				map[string]any{"connector_id": sig.ConnectorID, "kind": sig.Kind, "claim_id": claimID},
			)
		}
	}
	if receipt.Metadata == nil {
		receipt.Metadata = map[string]any{}
	}
	receipt.Metadata["connector_id"] = sig.ConnectorID
	receipt.Metadata["kind"] = sig.Kind
	return receipt, nil
}

// releaseClaim marks the claim retry-ready so the sender's redelivery can
// run the handler again.
func (d *Dispatcher) releaseClaim(ctx context.Context, claimID string, cause error) error {
	if d.Store == nil || claimID == "" {
		return nil
	}
	if err := d.Store.Fail(ctx, claimID, cause, time.Time{}); err != nil {
		return signalWrapError(
			err,
			goerrors.CategoryOperation,
			"inbound: release idempotency claim",
			http.StatusInternalServerError,
			core.EngineErrorInternal,
			map[string]any{"claim_id": claimID},
		)
	}
	return nil
}

func (d *Dispatcher) keyTTL() time.Duration {
	if d != nil && d.KeyTTL > 0 {
		return d.KeyTTL
	}
	return 10 * time.Minute
}

func (d *Dispatcher) handlerFor(kind string) Handler {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handlers[kind]
}
