package core

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestRunTokenRefresh_RotatesAndRearmsLoop(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.connector.scriptRefresh(func() (RefreshedSecrets, error) {
		return RefreshedSecrets{
			AccessSecret:     "access-2",
			RefreshSecret:    "refresh-2",
			ExpiresInSeconds: 1800,
		}, nil
	})
	tenant := fixture.install(t, "tenant_1")
	claimAll(t, fixture.tasks)

	before := time.Now().UTC()
	result, err := fixture.engine.RunTokenRefresh(context.Background(), RefreshRunInput{
		TenantID:  "tenant_1",
		ExpiresAt: tenant.ExpiresAt,
	})
	if err != nil {
		t.Fatalf("run refresh: %v", err)
	}
	if !result.Rescheduled || result.Attempts != 1 {
		t.Fatalf("expected a rescheduled first-attempt success, got %#v", result)
	}
	if diff := result.NewExpiresAt.Sub(before.Add(30 * time.Minute)); diff < -time.Second || diff > time.Second {
		t.Fatalf("expected new expiry ~30m out, got %s", result.NewExpiresAt)
	}

	rotated, err := fixture.tenants.Get(context.Background(), "tenant_1")
	if err != nil {
		t.Fatalf("reload tenant: %v", err)
	}
	if rotated.SecretVersion != 2 {
		t.Fatalf("expected secret version bump, got %d", rotated.SecretVersion)
	}

	rearms := fixture.tasks.pending(TaskTokenRefreshRequested, "tenant_1")
	if len(rearms) != 1 {
		t.Fatalf("expected one re-armed refresh step, got %d", len(rearms))
	}
	expiresAt, err := payloadTime(rearms[0].Payload, PayloadKeyExpiresAt)
	if err != nil {
		t.Fatalf("re-arm expiry: %v", err)
	}
	wantWake := expiresAt.Add(-DefaultConfig().Refresh.AdvanceWindow())
	if diff := rearms[0].RunAt.Sub(wantWake); diff < -time.Second || diff > time.Second {
		t.Fatalf("expected wake at expiry minus the advance window, got %s vs %s", rearms[0].RunAt, wantWake)
	}
}

func TestRunTokenRefresh_SuccessRestoresActiveStatus(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.connector.scriptRefresh(func() (RefreshedSecrets, error) {
		return RefreshedSecrets{AccessSecret: "access-2", ExpiresInSeconds: 600}, nil
	})
	tenant := fixture.install(t, "tenant_1")
	claimAll(t, fixture.tasks)
	if err := fixture.tenants.UpdateStatus(context.Background(), "tenant_1", TenantStatusPendingReauth, "401"); err != nil {
		t.Fatalf("seed status: %v", err)
	}

	if _, err := fixture.engine.RunTokenRefresh(context.Background(), RefreshRunInput{
		TenantID:  "tenant_1",
		ExpiresAt: tenant.ExpiresAt,
	}); err != nil {
		t.Fatalf("run refresh: %v", err)
	}
	if status, _ := fixture.tenants.status("tenant_1"); status != TenantStatusActive {
		t.Fatalf("expected refresh success to restore active, got %q", status)
	}
}

func TestRunTokenRefresh_UnclassifiedFailureRearmsWithBackoff(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.connector.scriptRefresh(func() (RefreshedSecrets, error) {
		return RefreshedSecrets{}, fmt.Errorf("upstream timeout")
	})
	tenant := fixture.install(t, "tenant_1")
	claimAll(t, fixture.tasks)

	before := time.Now().UTC()
	result, err := fixture.engine.RunTokenRefresh(context.Background(), RefreshRunInput{
		TenantID:  "tenant_1",
		ExpiresAt: tenant.ExpiresAt,
	})
	if err != nil {
		t.Fatalf("a backed-off refresh must not surface an error: %v", err)
	}
	if !result.BackedOff {
		t.Fatalf("expected backed-off result, got %#v", result)
	}
	if result.Attempts != DefaultConfig().Refresh.MaxAttempts {
		t.Fatalf("expected bounded attempts, got %d", result.Attempts)
	}

	rearms := fixture.tasks.pending(TaskTokenRefreshRequested, "tenant_1")
	if len(rearms) != 1 {
		t.Fatalf("expected the loop re-armed, got %d pending", len(rearms))
	}
	// The original expiry survives the failure; only the wake moves.
	expiresAt, err := payloadTime(rearms[0].Payload, PayloadKeyExpiresAt)
	if err != nil {
		t.Fatalf("re-arm expiry: %v", err)
	}
	if diff := expiresAt.Sub(tenant.ExpiresAt); diff < -time.Second || diff > time.Second {
		t.Fatalf("expected the original expiry carried through, got %s vs %s", expiresAt, tenant.ExpiresAt)
	}
	wantWake := before.Add(DefaultConfig().Refresh.FailureBackoff())
	if diff := rearms[0].RunAt.Sub(wantWake); diff < -2*time.Second || diff > 2*time.Second {
		t.Fatalf("expected wake on the failure cadence, got %s", rearms[0].RunAt)
	}
}

func TestRunTokenRefresh_RateLimitedSchedulesRetry(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.connector.scriptRefresh(func() (RefreshedSecrets, error) {
		return RefreshedSecrets{}, NewVendorHTTPError(
			"slow down", 429, map[string]string{"Retry-After": "45"}, "")
	})
	tenant := fixture.install(t, "tenant_1")
	claimAll(t, fixture.tasks)

	before := time.Now().UTC()
	_, err := fixture.engine.RunTokenRefresh(context.Background(), RefreshRunInput{
		TenantID:  "tenant_1",
		ExpiresAt: tenant.ExpiresAt,
	})
	scheduled, ok := AsScheduleRetry(err)
	if !ok {
		t.Fatalf("expected a scheduled retry, got %v", err)
	}
	wait := scheduled.RetryAt.Sub(before)
	if wait < 44*time.Second || wait > 46*time.Second {
		t.Fatalf("expected the vendor retry-after to drive the delay, got %s", wait)
	}
	if got := len(fixture.sink.callsOf("report")); got != 0 {
		t.Fatalf("throttling must not produce a status report, got %d", got)
	}
}

func TestRunTokenRefresh_UnauthorizedIsTerminal(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.connector.scriptRefresh(func() (RefreshedSecrets, error) {
		return RefreshedSecrets{}, NewVendorHTTPError("invalid_grant", 401, nil, "")
	})
	tenant := fixture.install(t, "tenant_1")
	claimAll(t, fixture.tasks)

	result, err := fixture.engine.RunTokenRefresh(context.Background(), RefreshRunInput{
		TenantID:  "tenant_1",
		ExpiresAt: tenant.ExpiresAt,
	})
	if !IsTerminalTask(err) {
		t.Fatalf("expected terminal failure, got %v", err)
	}
	if !result.Terminal {
		t.Fatalf("expected terminal result, got %#v", result)
	}
	reports := fixture.sink.callsOf("report")
	if len(reports) != 1 || reports[0].errorKind != ErrorKindUnauthorized {
		t.Fatalf("expected one unauthorized report, got %#v", reports)
	}
	if status, _ := fixture.tenants.status("tenant_1"); status != TenantStatusPendingReauth {
		t.Fatalf("expected pending_reauth, got %q", status)
	}
	if got := len(fixture.tasks.pending(TaskTokenRefreshRequested, "tenant_1")); got != 0 {
		t.Fatalf("a terminal refresh must not re-arm the loop, found %d pending", got)
	}
}

func TestRunTokenRefresh_MissingTenantEndsLoop(t *testing.T) {
	fixture := newEngineFixture(t)
	result, err := fixture.engine.RunTokenRefresh(context.Background(), RefreshRunInput{
		TenantID:  "ghost",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	if !IsTerminalTask(err) {
		t.Fatalf("expected terminal failure, got %v", err)
	}
	if !result.Terminal {
		t.Fatalf("expected terminal result, got %#v", result)
	}
}

func TestRunTokenRefresh_MissingRefreshSecretIsTerminal(t *testing.T) {
	fixture := newEngineFixture(t)
	access, err := testSecretProvider{}.Encrypt(context.Background(), []byte("access-only"))
	if err != nil {
		t.Fatalf("seed secret: %v", err)
	}
	if _, err := fixture.tenants.Create(context.Background(), Tenant{
		ID:           "tenant_1",
		ConnectorID:  fixture.connector.ID(),
		AccessSecret: access,
		Status:       TenantStatusActive,
	}); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}

	result, err := fixture.engine.RunTokenRefresh(context.Background(), RefreshRunInput{
		TenantID:  "tenant_1",
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	if !IsTerminalTask(err) {
		t.Fatalf("expected terminal failure, got %v", err)
	}
	if !result.Terminal {
		t.Fatalf("expected terminal result, got %#v", result)
	}
	reports := fixture.sink.callsOf("report")
	if len(reports) != 1 || reports[0].errorKind != ErrorKindUnauthorized {
		t.Fatalf("expected an unauthorized report, got %#v", reports)
	}
}

func TestHandleRefreshTask_HonorsRefreshAtOverride(t *testing.T) {
	fixture := newEngineFixture(t)
	fixture.connector.scriptRefresh(func() (RefreshedSecrets, error) {
		return RefreshedSecrets{AccessSecret: "access-2", ExpiresInSeconds: 900}, nil
	})
	tenant := fixture.install(t, "tenant_1")
	claimAll(t, fixture.tasks)

	err := fixture.engine.HandleRefreshTask(context.Background(), Task{Payload: map[string]any{
		PayloadKeyTenantID:  "tenant_1",
		PayloadKeyExpiresAt: formatPayloadTime(tenant.ExpiresAt),
		PayloadKeyRefreshAt: formatPayloadTime(time.Now().UTC()),
	}})
	if err != nil {
		t.Fatalf("handle refresh task: %v", err)
	}
	if fixture.tenants.rotates != 1 {
		t.Fatalf("expected one rotation, got %d", fixture.tenants.rotates)
	}
}

func TestHandleRefreshTask_RequiresPayloadFields(t *testing.T) {
	fixture := newEngineFixture(t)
	if err := fixture.engine.HandleRefreshTask(context.Background(), Task{Payload: map[string]any{}}); !IsTerminalTask(err) {
		t.Fatalf("expected terminal failure for missing tenant id, got %v", err)
	}
	err := fixture.engine.HandleRefreshTask(context.Background(), Task{Payload: map[string]any{
		PayloadKeyTenantID: "tenant_1",
	}})
	if !IsTerminalTask(err) {
		t.Fatalf("expected terminal failure for missing expiry, got %v", err)
	}
}
