package inbound

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/goliatone/go-dirsync/command"
	"github.com/goliatone/go-dirsync/core"
)

// RegisterLifecycleHandlers wires one handler per signal kind onto the
// dispatcher, all backed by the same lifecycle service.
func RegisterLifecycleHandlers(dispatcher *Dispatcher, service command.MutatingService) error {
	if dispatcher == nil {
		return signalInternal("inbound: dispatcher is required", nil)
	}
	if service == nil {
		return signalBadInput("inbound: lifecycle service is required", nil)
	}
	handlers := []Handler{
		&TenantInstalledHandler{Service: service},
		&TenantUninstalledHandler{Service: service},
		&SyncRequestedHandler{Service: service},
		&TokenExpiringHandler{Service: service},
	}
	for _, handler := range handlers {
		if err := dispatcher.Register(handler); err != nil {
			return err
		}
	}
	return nil
}

// TenantInstalledHandler provisions a tenant from a marketplace install
// signal. Secrets ride in the signal metadata, already decoded by the
// transport layer.
type TenantInstalledHandler struct {
	Service command.MutatingService
}

func (h *TenantInstalledHandler) Kind() string { return KindTenantInstalled }

func (h *TenantInstalledHandler) Handle(ctx context.Context, sig Signal) (Receipt, error) {
	if h == nil || h.Service == nil {
		return Receipt{}, signalInternal("inbound: lifecycle service is required", nil)
	}
	input := core.InstallTenantInput{
		TenantID:      resolveTenantID(sig),
		ConnectorID:   sig.ConnectorID,
		Region:        trimAny(sig.Metadata["region"]),
		AccessSecret:  trimAny(sig.Metadata["access_secret"]),
		RefreshSecret: trimAny(sig.Metadata["refresh_secret"]),
	}
	if raw := trimAny(sig.Metadata["expires_in"]); raw != "" {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Receipt{}, signalBadInput("inbound: expires_in is not a number", map[string]any{
				"connector_id": sig.ConnectorID,
				"expires_in":   raw,
			})
		}
		input.ExpiresInSeconds = seconds
	}
	tenant, err := h.Service.InstallTenant(ctx, input)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{
		Accepted:   true,
		StatusCode: http.StatusCreated,
		Metadata: map[string]any{
			"tenant_id":      tenant.ID,
			"tenant_status":  string(tenant.Status),
			"secret_version": tenant.SecretVersion,
		},
	}, nil
}

// TenantUninstalledHandler tears a tenant down. Uninstall is idempotent on
// the engine side, so a tenant that is already gone still acks.
type TenantUninstalledHandler struct {
	Service command.MutatingService
}

func (h *TenantUninstalledHandler) Kind() string { return KindTenantUninstalled }

func (h *TenantUninstalledHandler) Handle(ctx context.Context, sig Signal) (Receipt, error) {
	if h == nil || h.Service == nil {
		return Receipt{}, signalInternal("inbound: lifecycle service is required", nil)
	}
	tenantID := resolveTenantID(sig)
	if tenantID == "" {
		return Receipt{}, signalBadInput("inbound: tenant id is required", map[string]any{
			"connector_id": sig.ConnectorID,
			"kind":         sig.Kind,
		})
	}
	if err := h.Service.UninstallTenant(ctx, tenantID); err != nil && !core.IsTenantNotFound(err) {
		return Receipt{}, err
	}
	return Receipt{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Metadata:   map[string]any{"tenant_id": tenantID},
	}, nil
}

// SyncRequestedHandler enqueues an out-of-band sync run.
type SyncRequestedHandler struct {
	Service command.MutatingService
}

func (h *SyncRequestedHandler) Kind() string { return KindSyncRequested }

func (h *SyncRequestedHandler) Handle(ctx context.Context, sig Signal) (Receipt, error) {
	if h == nil || h.Service == nil {
		return Receipt{}, signalInternal("inbound: lifecycle service is required", nil)
	}
	tenantID := resolveTenantID(sig)
	if tenantID == "" {
		return Receipt{}, signalBadInput("inbound: tenant id is required", map[string]any{
			"connector_id": sig.ConnectorID,
			"kind":         sig.Kind,
		})
	}
	if err := h.Service.RequestSync(ctx, core.RequestSyncInput{TenantID: tenantID}); err != nil {
		return Receipt{}, err
	}
	return Receipt{
		Accepted:   true,
		StatusCode: http.StatusAccepted,
		Metadata:   map[string]any{"tenant_id": tenantID},
	}, nil
}

// TokenExpiringHandler pulls the refresh loop forward when the vendor warns
// that credentials are about to lapse. An expires_at in the metadata narrows
// the wake time; without one the refresh runs immediately.
type TokenExpiringHandler struct {
	Service command.MutatingService
}

func (h *TokenExpiringHandler) Kind() string { return KindTokenExpiring }

func (h *TokenExpiringHandler) Handle(ctx context.Context, sig Signal) (Receipt, error) {
	if h == nil || h.Service == nil {
		return Receipt{}, signalInternal("inbound: lifecycle service is required", nil)
	}
	tenantID := resolveTenantID(sig)
	if tenantID == "" {
		return Receipt{}, signalBadInput("inbound: tenant id is required", map[string]any{
			"connector_id": sig.ConnectorID,
			"kind":         sig.Kind,
		})
	}
	expiresAt := time.Time{}
	if raw := trimAny(sig.Metadata["expires_at"]); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return Receipt{}, signalBadInput("inbound: expires_at is not RFC 3339", map[string]any{
				"connector_id": sig.ConnectorID,
				"expires_at":   raw,
			})
		}
		expiresAt = parsed.UTC()
	}
	if err := h.Service.RequestTokenRefresh(ctx, tenantID, expiresAt); err != nil {
		return Receipt{}, err
	}
	return Receipt{
		Accepted:   true,
		StatusCode: http.StatusAccepted,
		Metadata:   map[string]any{"tenant_id": tenantID},
	}, nil
}

func resolveTenantID(sig Signal) string {
	if sig.TenantID != "" {
		return sig.TenantID
	}
	return trimAny(sig.Metadata["tenant_id"])
}
