package command

import (
	"context"
	"testing"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-dirsync/core"
)

type stubMutatingService struct {
	installFn   func(ctx context.Context, input core.InstallTenantInput) (core.Tenant, error)
	uninstallFn func(ctx context.Context, tenantID string) error
	syncFn      func(ctx context.Context, input core.RequestSyncInput) error
	refreshFn   func(ctx context.Context, tenantID string, expiresAt time.Time) error
}

func (s stubMutatingService) InstallTenant(ctx context.Context, input core.InstallTenantInput) (core.Tenant, error) {
	if s.installFn == nil {
		return core.Tenant{}, nil
	}
	return s.installFn(ctx, input)
}

func (s stubMutatingService) UninstallTenant(ctx context.Context, tenantID string) error {
	if s.uninstallFn == nil {
		return nil
	}
	return s.uninstallFn(ctx, tenantID)
}

func (s stubMutatingService) RequestSync(ctx context.Context, input core.RequestSyncInput) error {
	if s.syncFn == nil {
		return nil
	}
	return s.syncFn(ctx, input)
}

func (s stubMutatingService) RequestTokenRefresh(ctx context.Context, tenantID string, expiresAt time.Time) error {
	if s.refreshFn == nil {
		return nil
	}
	return s.refreshFn(ctx, tenantID, expiresAt)
}

func validInstallInput() core.InstallTenantInput {
	return core.InstallTenantInput{
		TenantID:         "tenant-1",
		ConnectorID:      "devkit",
		Region:           "us",
		AccessSecret:     "access",
		RefreshSecret:    "refresh",
		ExpiresInSeconds: 3600,
	}
}

func TestInstallTenantCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.Tenant{ID: "tenant-1", ConnectorID: "devkit", Status: core.TenantStatusActive}
	called := false
	svc := stubMutatingService{
		installFn: func(_ context.Context, input core.InstallTenantInput) (core.Tenant, error) {
			called = true
			if input.TenantID != "tenant-1" {
				t.Fatalf("expected tenant-1, got %q", input.TenantID)
			}
			return expected, nil
		},
	}

	cmd := NewInstallTenantCommand(svc)
	collector := gocmd.NewResult[core.Tenant]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := cmd.Execute(ctx, InstallTenantMessage{Input: validInstallInput()}); err != nil {
		t.Fatalf("execute install: %v", err)
	}
	if !called {
		t.Fatalf("expected install service invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.ID != expected.ID || result.Status != expected.Status {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestInstallTenantCommand_RejectsInvalidInput(t *testing.T) {
	called := false
	svc := stubMutatingService{
		installFn: func(_ context.Context, input core.InstallTenantInput) (core.Tenant, error) {
			called = true
			return core.Tenant{}, nil
		},
	}
	cmd := NewInstallTenantCommand(svc)
	if err := cmd.Execute(context.Background(), InstallTenantMessage{}); err == nil {
		t.Fatalf("expected validation error")
	}
	if called {
		t.Fatalf("invalid input must not reach the service")
	}
}

func TestUninstallTenantCommand_Delegates(t *testing.T) {
	called := false
	svc := stubMutatingService{
		uninstallFn: func(_ context.Context, tenantID string) error {
			called = true
			if tenantID != "tenant-1" {
				t.Fatalf("unexpected tenant id %q", tenantID)
			}
			return nil
		},
	}
	cmd := NewUninstallTenantCommand(svc)
	if err := cmd.Execute(context.Background(), UninstallTenantMessage{TenantID: "tenant-1"}); err != nil {
		t.Fatalf("execute uninstall: %v", err)
	}
	if !called {
		t.Fatalf("expected uninstall invocation")
	}
}

func TestRequestSyncCommand_Delegates(t *testing.T) {
	called := false
	svc := stubMutatingService{
		syncFn: func(_ context.Context, input core.RequestSyncInput) error {
			called = true
			if input.TenantID != "tenant-1" || !input.IsFirstSync {
				t.Fatalf("unexpected sync input: %#v", input)
			}
			return nil
		},
	}
	cmd := NewRequestSyncCommand(svc)
	err := cmd.Execute(context.Background(), RequestSyncMessage{
		Input: core.RequestSyncInput{TenantID: "tenant-1", IsFirstSync: true},
	})
	if err != nil {
		t.Fatalf("execute sync request: %v", err)
	}
	if !called {
		t.Fatalf("expected sync invocation")
	}
}

func TestRefreshTokenCommand_ParsesExpiry(t *testing.T) {
	expiresAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	called := false
	svc := stubMutatingService{
		refreshFn: func(_ context.Context, tenantID string, got time.Time) error {
			called = true
			if tenantID != "tenant-1" {
				t.Fatalf("unexpected tenant id %q", tenantID)
			}
			if !got.Equal(expiresAt) {
				t.Fatalf("expected expiry %s, got %s", expiresAt, got)
			}
			return nil
		},
	}
	cmd := NewRefreshTokenCommand(svc)
	err := cmd.Execute(context.Background(), RefreshTokenMessage{
		TenantID:  "tenant-1",
		ExpiresAt: expiresAt.Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("execute refresh token: %v", err)
	}
	if !called {
		t.Fatalf("expected refresh invocation")
	}
}

func TestRefreshTokenCommand_RejectsBadTimestamp(t *testing.T) {
	cmd := NewRefreshTokenCommand(stubMutatingService{})
	err := cmd.Execute(context.Background(), RefreshTokenMessage{TenantID: "tenant-1", ExpiresAt: "not-a-time"})
	if err == nil {
		t.Fatalf("expected timestamp validation error")
	}
}
