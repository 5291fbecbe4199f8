package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// InstallTenantInput carries the initial secret material handed over by the
// installation flow.
type InstallTenantInput struct {
	TenantID         string
	ConnectorID      string
	Region           string
	AccessSecret     string
	RefreshSecret    string
	ExpiresInSeconds int64
}

func (in InstallTenantInput) Validate() error {
	if strings.TrimSpace(in.TenantID) == "" {
		return fmt.Errorf("core: tenant id is required")
	}
	if strings.TrimSpace(in.ConnectorID) == "" {
		return fmt.Errorf("core: connector id is required")
	}
	if strings.TrimSpace(in.AccessSecret) == "" {
		return fmt.Errorf("core: access secret is required")
	}
	if strings.TrimSpace(in.RefreshSecret) == "" {
		return fmt.Errorf("core: refresh secret is required")
	}
	if in.ExpiresInSeconds <= 0 {
		return fmt.Errorf("core: expires_in must be positive")
	}
	return nil
}

// InstallTenant registers (or re-registers) a tenant, cancels any stale loop
// runs keyed to a previous installation, and starts both durable loops: one
// full sync and one refresh cycle.
func (e *Engine) InstallTenant(ctx context.Context, input InstallTenantInput) (tenant Tenant, err error) {
	startedAt := e.now()
	fields := map[string]any{
		"tenant_id":    strings.TrimSpace(input.TenantID),
		"connector_id": strings.TrimSpace(input.ConnectorID),
	}
	defer func() {
		e.observeOperation(ctx, startedAt, "tenant_install", err, fields)
	}()

	if e == nil || e.tenantStore == nil || e.taskStore == nil {
		return Tenant{}, fmt.Errorf("core: engine stores are not configured")
	}
	if err = input.Validate(); err != nil {
		return Tenant{}, e.mapError(err)
	}
	if e.credentials == nil {
		return Tenant{}, fmt.Errorf("core: credential service is not configured")
	}
	if _, ok := e.registry.Get(input.ConnectorID); !ok {
		return Tenant{}, e.mapError(fmt.Errorf("%w: %s", ErrConnectorNotFound, strings.TrimSpace(input.ConnectorID)))
	}

	tenantID := strings.TrimSpace(input.TenantID)
	now := startedAt

	// A reinstall invalidates every run keyed to the old installation.
	e.lifecycleGate.CancelTenant(tenantID)
	if _, cancelErr := e.taskStore.CancelByTenant(ctx, tenantID, TaskSyncRequested, TaskTokenRefreshRequested); cancelErr != nil {
		return Tenant{}, e.mapError(cancelErr)
	}

	access, refresh, err := e.credentials.EncryptPair(ctx, TokenPair{
		AccessSecret:  input.AccessSecret,
		RefreshSecret: input.RefreshSecret,
	})
	if err != nil {
		return Tenant{}, e.mapError(err)
	}

	expiresAt := now.Add(time.Duration(input.ExpiresInSeconds) * time.Second)
	tenant, err = e.tenantStore.Create(ctx, Tenant{
		ID:            tenantID,
		ConnectorID:   strings.TrimSpace(input.ConnectorID),
		Region:        strings.TrimSpace(input.Region),
		AccessSecret:  access,
		RefreshSecret: refresh,
		SecretVersion: 1,
		Status:        TenantStatusActive,
		ExpiresAt:     expiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return Tenant{}, e.mapError(err)
	}

	// syncStartedAt is fixed here, before any page fetch, and rides the
	// payload unchanged through every continuation.
	if err = e.enqueueSyncStep(ctx, tenantID, now, true, "", now); err != nil {
		return Tenant{}, e.mapError(err)
	}
	if err = e.enqueueRefreshStep(ctx, tenantID, expiresAt, nil); err != nil {
		return Tenant{}, e.mapError(err)
	}
	return tenant, nil
}

// UninstallTenant cancels both loops for the tenant and removes its row.
func (e *Engine) UninstallTenant(ctx context.Context, tenantID string) (err error) {
	startedAt := e.now()
	fields := map[string]any{"tenant_id": strings.TrimSpace(tenantID)}
	defer func() {
		e.observeOperation(ctx, startedAt, "tenant_uninstall", err, fields)
	}()

	if e == nil || e.tenantStore == nil || e.taskStore == nil {
		return fmt.Errorf("core: engine stores are not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return e.mapError(fmt.Errorf("core: tenant id is required"))
	}

	cancelled := e.lifecycleGate.CancelTenant(tenantID)
	fields["cancelled_runs"] = cancelled
	if _, cancelErr := e.taskStore.CancelByTenant(ctx, tenantID,
		TaskSyncRequested, TaskTokenRefreshRequested); cancelErr != nil {
		return e.mapError(cancelErr)
	}
	if deleteErr := e.tenantStore.Delete(ctx, tenantID); deleteErr != nil && !IsTenantNotFound(deleteErr) {
		return e.mapError(deleteErr)
	}
	return nil
}

// RequestSyncInput starts a fresh reconciliation run for an installed tenant.
type RequestSyncInput struct {
	TenantID    string
	IsFirstSync bool
}

// RequestSync enqueues the first step of a new sync run. The run's watermark
// is captured now, before any page is fetched.
func (e *Engine) RequestSync(ctx context.Context, input RequestSyncInput) (err error) {
	startedAt := e.now()
	fields := map[string]any{"tenant_id": strings.TrimSpace(input.TenantID)}
	defer func() {
		e.observeOperation(ctx, startedAt, "sync_request", err, fields)
	}()

	if e == nil || e.taskStore == nil {
		return fmt.Errorf("core: task store is not configured")
	}
	if _, err = e.loadTenant(ctx, input.TenantID); err != nil {
		return e.mapError(err)
	}
	return e.mapError(e.enqueueSyncStep(ctx, strings.TrimSpace(input.TenantID), startedAt, input.IsFirstSync, "", startedAt))
}

// RequestTokenRefresh arms the refresh loop for a tenant whose credential
// expires at the given time.
func (e *Engine) RequestTokenRefresh(ctx context.Context, tenantID string, expiresAt time.Time) (err error) {
	startedAt := e.now()
	fields := map[string]any{"tenant_id": strings.TrimSpace(tenantID)}
	defer func() {
		e.observeOperation(ctx, startedAt, "refresh_request", err, fields)
	}()

	if e == nil || e.taskStore == nil {
		return fmt.Errorf("core: task store is not configured")
	}
	if _, err = e.loadTenant(ctx, tenantID); err != nil {
		return e.mapError(err)
	}
	return e.mapError(e.enqueueRefreshStep(ctx, strings.TrimSpace(tenantID), expiresAt, nil))
}

// HandleTenantInstalledTask processes an install signal arriving through the
// queue: any run keyed to the previous installation is stale and must stop.
func (e *Engine) HandleTenantInstalledTask(ctx context.Context, task Task) error {
	tenantID := payloadString(task.Payload, PayloadKeyTenantID)
	if tenantID == "" {
		return NewTerminalTaskError(fmt.Errorf("core: installed task is missing tenant id"))
	}
	cancelled := e.lifecycleGate.CancelTenant(tenantID)
	e.logInfo(ctx, "tenant installed, stale runs cancelled", map[string]any{
		"tenant_id":      tenantID,
		"cancelled_runs": cancelled,
	})
	return nil
}

// HandleTenantUninstalledTask processes an uninstall signal arriving through
// the queue.
func (e *Engine) HandleTenantUninstalledTask(ctx context.Context, task Task) error {
	tenantID := payloadString(task.Payload, PayloadKeyTenantID)
	if tenantID == "" {
		return NewTerminalTaskError(fmt.Errorf("core: uninstalled task is missing tenant id"))
	}
	return e.UninstallTenant(ctx, tenantID)
}

func (e *Engine) enqueueSyncStep(ctx context.Context, tenantID string, syncStartedAt time.Time, isFirstSync bool, cursor string, runAt time.Time) error {
	return e.enqueueTask(ctx, Task{
		ID:       uuid.NewString(),
		Name:     TaskSyncRequested,
		TenantID: tenantID,
		Payload: map[string]any{
			PayloadKeyTenantID:      tenantID,
			PayloadKeySyncStartedAt: formatPayloadTime(syncStartedAt),
			PayloadKeyIsFirstSync:   isFirstSync,
			PayloadKeyCursor:        NormalizeCursor(cursor),
		},
		RunAt: runAt,
	})
}

func (e *Engine) enqueueRefreshStep(ctx context.Context, tenantID string, expiresAt time.Time, refreshAt *time.Time) error {
	payload := map[string]any{
		PayloadKeyTenantID:  tenantID,
		PayloadKeyExpiresAt: formatPayloadTime(expiresAt),
	}
	if refreshAt != nil {
		payload[PayloadKeyRefreshAt] = formatPayloadTime(*refreshAt)
	}
	return e.enqueueTask(ctx, Task{
		ID:       uuid.NewString(),
		Name:     TaskTokenRefreshRequested,
		TenantID: tenantID,
		Payload:  payload,
		RunAt:    e.refreshWakeTime(expiresAt, refreshAt),
	})
}

// refreshWakeTime is always expiresAt minus the advance window, never later
// than expiry, unless an explicit post-failure refreshAt override is set.
func (e *Engine) refreshWakeTime(expiresAt time.Time, refreshAt *time.Time) time.Time {
	if refreshAt != nil {
		return refreshAt.UTC()
	}
	wake := expiresAt.UTC().Add(-e.config.Refresh.AdvanceWindow())
	if now := e.now(); wake.Before(now) {
		return now
	}
	return wake
}
