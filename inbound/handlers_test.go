package inbound

import (
	"context"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-dirsync/core"
)

type stubLifecycleService struct {
	installs     []core.InstallTenantInput
	uninstalls   []string
	syncs        []core.RequestSyncInput
	refreshes    []string
	refreshAt    time.Time
	uninstallErr error
}

func (s *stubLifecycleService) InstallTenant(_ context.Context, input core.InstallTenantInput) (core.Tenant, error) {
	s.installs = append(s.installs, input)
	return core.Tenant{
		ID:            input.TenantID,
		ConnectorID:   input.ConnectorID,
		Status:        core.TenantStatusActive,
		SecretVersion: 1,
	}, nil
}

func (s *stubLifecycleService) UninstallTenant(_ context.Context, tenantID string) error {
	if s.uninstallErr != nil {
		return s.uninstallErr
	}
	s.uninstalls = append(s.uninstalls, tenantID)
	return nil
}

func (s *stubLifecycleService) RequestSync(_ context.Context, input core.RequestSyncInput) error {
	s.syncs = append(s.syncs, input)
	return nil
}

func (s *stubLifecycleService) RequestTokenRefresh(_ context.Context, tenantID string, expiresAt time.Time) error {
	s.refreshes = append(s.refreshes, tenantID)
	s.refreshAt = expiresAt
	return nil
}

func TestTenantInstalledHandler_ProvisionsTenant(t *testing.T) {
	service := &stubLifecycleService{}
	handler := &TenantInstalledHandler{Service: service}

	receipt, err := handler.Handle(context.Background(), Signal{
		ConnectorID: "acme-dir",
		TenantID:    "tenant_1",
		Kind:        KindTenantInstalled,
		Metadata: map[string]any{
			"region":         "eu-west-1",
			"access_secret":  "access-token",
			"refresh_secret": "refresh-token",
			"expires_in":     "3600",
		},
	})
	if err != nil {
		t.Fatalf("handle install: %v", err)
	}
	if !receipt.Accepted || receipt.StatusCode != 201 {
		t.Fatalf("unexpected receipt %#v", receipt)
	}
	if len(service.installs) != 1 {
		t.Fatalf("expected one install, got %d", len(service.installs))
	}
	input := service.installs[0]
	if input.TenantID != "tenant_1" || input.ConnectorID != "acme-dir" || input.Region != "eu-west-1" {
		t.Fatalf("unexpected install input %#v", input)
	}
	if input.AccessSecret != "access-token" || input.RefreshSecret != "refresh-token" || input.ExpiresInSeconds != 3600 {
		t.Fatalf("expected secrets carried through, got %#v", input)
	}
	if receipt.Metadata["tenant_status"] != string(core.TenantStatusActive) {
		t.Fatalf("expected tenant status in receipt, got %#v", receipt.Metadata)
	}
}

func TestTenantInstalledHandler_RejectsBadExpiresIn(t *testing.T) {
	handler := &TenantInstalledHandler{Service: &stubLifecycleService{}}
	_, err := handler.Handle(context.Background(), Signal{
		ConnectorID: "acme-dir",
		TenantID:    "tenant_1",
		Metadata:    map[string]any{"expires_in": "soon"},
	})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.EngineErrorBadInput {
		t.Fatalf("expected bad input envelope, got %v", err)
	}
}

func TestTenantUninstalledHandler_AcksMissingTenant(t *testing.T) {
	service := &stubLifecycleService{uninstallErr: core.NewTenantNotFoundError("tenant_1")}
	handler := &TenantUninstalledHandler{Service: service}

	receipt, err := handler.Handle(context.Background(), Signal{
		ConnectorID: "acme-dir",
		TenantID:    "tenant_1",
	})
	if err != nil {
		t.Fatalf("expected missing tenant to ack, got %v", err)
	}
	if !receipt.Accepted || receipt.StatusCode != 200 {
		t.Fatalf("unexpected receipt %#v", receipt)
	}
}

func TestTenantUninstalledHandler_ResolvesTenantFromMetadata(t *testing.T) {
	service := &stubLifecycleService{}
	handler := &TenantUninstalledHandler{Service: service}

	if _, err := handler.Handle(context.Background(), Signal{
		ConnectorID: "acme-dir",
		Metadata:    map[string]any{"tenant_id": "tenant_2"},
	}); err != nil {
		t.Fatalf("handle uninstall: %v", err)
	}
	if len(service.uninstalls) != 1 || service.uninstalls[0] != "tenant_2" {
		t.Fatalf("expected metadata tenant id used, got %#v", service.uninstalls)
	}
}

func TestSyncRequestedHandler_EnqueuesRun(t *testing.T) {
	service := &stubLifecycleService{}
	handler := &SyncRequestedHandler{Service: service}

	receipt, err := handler.Handle(context.Background(), Signal{
		ConnectorID: "acme-dir",
		TenantID:    "tenant_1",
	})
	if err != nil {
		t.Fatalf("handle sync request: %v", err)
	}
	if receipt.StatusCode != 202 || len(service.syncs) != 1 || service.syncs[0].TenantID != "tenant_1" {
		t.Fatalf("unexpected receipt %#v syncs %#v", receipt, service.syncs)
	}
}

func TestSyncRequestedHandler_RequiresTenantID(t *testing.T) {
	handler := &SyncRequestedHandler{Service: &stubLifecycleService{}}
	_, err := handler.Handle(context.Background(), Signal{ConnectorID: "acme-dir"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.EngineErrorBadInput {
		t.Fatalf("expected bad input envelope, got %v", err)
	}
}

func TestTokenExpiringHandler_ParsesExpiry(t *testing.T) {
	service := &stubLifecycleService{}
	handler := &TokenExpiringHandler{Service: service}
	expiresAt := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)

	receipt, err := handler.Handle(context.Background(), Signal{
		ConnectorID: "acme-dir",
		TenantID:    "tenant_1",
		Metadata:    map[string]any{"expires_at": expiresAt.Format(time.RFC3339)},
	})
	if err != nil {
		t.Fatalf("handle token expiring: %v", err)
	}
	if receipt.StatusCode != 202 || len(service.refreshes) != 1 {
		t.Fatalf("unexpected receipt %#v refreshes %#v", receipt, service.refreshes)
	}
	if !service.refreshAt.Equal(expiresAt) {
		t.Fatalf("expected expiry %v forwarded, got %v", expiresAt, service.refreshAt)
	}
}

func TestTokenExpiringHandler_RejectsBadExpiry(t *testing.T) {
	handler := &TokenExpiringHandler{Service: &stubLifecycleService{}}
	_, err := handler.Handle(context.Background(), Signal{
		ConnectorID: "acme-dir",
		TenantID:    "tenant_1",
		Metadata:    map[string]any{"expires_at": "tomorrow"},
	})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.EngineErrorBadInput {
		t.Fatalf("expected bad input envelope, got %v", err)
	}
}

func TestRegisterLifecycleHandlers_CoversEveryKind(t *testing.T) {
	service := &stubLifecycleService{}
	dispatcher := NewDispatcher(stubVerifier{}, NewInMemoryClaimStore())
	if err := RegisterLifecycleHandlers(dispatcher, service); err != nil {
		t.Fatalf("register lifecycle handlers: %v", err)
	}

	for i, kind := range []string{KindTenantInstalled, KindTenantUninstalled, KindSyncRequested, KindTokenExpiring} {
		receipt, err := dispatcher.Dispatch(context.Background(), Signal{
			ConnectorID: "acme-dir",
			TenantID:    "tenant_1",
			Kind:        kind,
			Metadata: map[string]any{
				"idempotency_key": kind,
				"access_secret":   "access-token",
			},
		})
		if err != nil {
			t.Fatalf("dispatch kind %q (%d): %v", kind, i, err)
		}
		if !receipt.Accepted {
			t.Fatalf("expected kind %q accepted, got %#v", kind, receipt)
		}
	}
	if len(service.installs) != 1 || len(service.uninstalls) != 1 || len(service.syncs) != 1 || len(service.refreshes) != 1 {
		t.Fatalf("expected every lifecycle call made: %#v", service)
	}
}
