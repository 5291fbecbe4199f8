package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// RefreshRunInput is one wake of the perpetual refresh loop. ExpiresAt stays
// fixed across failure re-arms; RefreshAt is the post-failure override.
type RefreshRunInput struct {
	TenantID  string
	ExpiresAt time.Time
	RefreshAt *time.Time
}

type RefreshRunResult struct {
	Attempts     int
	NewExpiresAt time.Time
	Rescheduled  bool
	BackedOff    bool
	Terminal     bool
}

// HandleRefreshTask adapts a claimed durable step into a refresh run.
func (e *Engine) HandleRefreshTask(ctx context.Context, task Task) error {
	tenantID := payloadString(task.Payload, PayloadKeyTenantID)
	if tenantID == "" {
		return NewTerminalTaskError(fmt.Errorf("core: refresh task is missing tenant id"))
	}
	expiresAt, err := payloadTime(task.Payload, PayloadKeyExpiresAt)
	if err != nil {
		return NewTerminalTaskError(err)
	}
	refreshAt, err := payloadOptionalTime(task.Payload, PayloadKeyRefreshAt)
	if err != nil {
		return NewTerminalTaskError(err)
	}
	_, err = e.RunTokenRefresh(ctx, RefreshRunInput{
		TenantID:  tenantID,
		ExpiresAt: expiresAt,
		RefreshAt: refreshAt,
	})
	return err
}

// RunTokenRefresh executes one refresh cycle: load the tenant, refresh the
// credential through the vendor, persist the rotated pair, and re-arm the
// loop at newExpiresAt minus the advance window. A failed cycle re-arms with
// the SAME expiresAt and refreshAt = now + failureBackoff; the loop only ends
// when the tenant is gone or the failure is classified terminal.
func (e *Engine) RunTokenRefresh(ctx context.Context, input RefreshRunInput) (result RefreshRunResult, err error) {
	startedAt := e.now()
	fields := map[string]any{
		"tenant_id": strings.TrimSpace(input.TenantID),
		"task_name": TaskTokenRefreshRequested,
	}
	defer func() {
		e.observeOperation(ctx, startedAt, "token_refresh", err, fields)
	}()

	if e == nil || e.tenantStore == nil || e.credentials == nil {
		return RefreshRunResult{}, fmt.Errorf("core: engine is not configured for refresh")
	}
	tenantID := strings.TrimSpace(input.TenantID)
	if tenantID == "" {
		return RefreshRunResult{}, e.mapError(fmt.Errorf("core: tenant id is required"))
	}

	runCtx, release, err := e.lifecycleGate.Track(ctx, tenantID, LoopRefresh)
	if err != nil {
		return RefreshRunResult{}, e.mapError(err)
	}
	defer release()

	unlock := func() {}
	if e.connectionLocker != nil {
		handle, lockErr := e.connectionLocker.Acquire(runCtx, LoopLockKey(LoopRefresh, tenantID), e.config.Refresh.LockTTL())
		if lockErr != nil {
			retryAt := e.now().Add(e.config.Refresh.LockTTL())
			return RefreshRunResult{}, NewScheduleRetryError(lockErr, retryAt)
		}
		unlock = func() { _ = handle.Unlock(runCtx) }
	}
	defer unlock()

	tenant, err := e.loadTenant(runCtx, tenantID)
	if err != nil {
		if IsTenantNotFound(err) {
			// Uninstall without cancellation; the loop ends here for good.
			e.logInfo(runCtx, "refresh loop terminating, tenant no longer exists", fields)
			result.Terminal = true
			return result, NewTerminalTaskError(err)
		}
		return result, e.mapError(err)
	}
	fields["connector_id"] = tenant.ConnectorID

	pair, err := e.credentials.DecryptPair(runCtx, tenant)
	if err != nil {
		return result, e.mapError(err)
	}
	if strings.TrimSpace(pair.RefreshSecret) == "" {
		missing := newEngineError("core: tenant has no refresh secret", goerrors.CategoryAuth, EngineErrorUnauthorized)
		e.reportClassified(runCtx, tenantID, ErrorKindUnauthorized, missing)
		result.Terminal = true
		return result, NewTerminalTaskError(missing)
	}

	connector, err := e.Connector(tenant.ConnectorID)
	if err != nil {
		return result, err
	}

	maxAttempts := e.config.Refresh.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultRetryMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		refreshed, callErr := e.callRefresh(runCtx, connector, tenant.ID, pair.RefreshSecret)
		if callErr == nil {
			return e.completeRefresh(runCtx, tenant, refreshed, result, fields)
		}
		lastErr = callErr

		kind, classified := ClassifyConnectionError(callErr)
		if classified {
			switch kind {
			case ErrorKindRateLimited:
				// Scheduled retry with the original expiresAt; no status report.
				delay := RetryDelayFromError(callErr, e.now(), e.config.RateLimit.DefaultRetryAfter())
				err = NewScheduleRetryError(callErr, e.now().Add(delay))
				return result, err
			default:
				e.reportClassified(runCtx, tenantID, kind, callErr)
				result.Terminal = true
				err = NewTerminalTaskError(e.mapError(callErr))
				return result, err
			}
		}

		if attempt == maxAttempts {
			break
		}
		delay := defaultRetryInitialBackoff
		if e.backoffScheduler != nil {
			delay = e.backoffScheduler.NextDelay(attempt)
		}
		if waitErr := waitWithContext(runCtx, delay); waitErr != nil {
			err = e.mapError(waitErr)
			return result, err
		}
	}

	// Bounded attempts exhausted on an unclassified failure: the loop must
	// not die. Re-arm with the same expiresAt on the failure cadence.
	refreshAt := e.now().Add(e.config.Refresh.FailureBackoff())
	if enqueueErr := e.enqueueRefreshStep(runCtx, tenantID, input.ExpiresAt, &refreshAt); enqueueErr != nil {
		err = e.mapError(enqueueErr)
		return result, err
	}
	result.BackedOff = true
	fields["refresh_at"] = formatPayloadTime(refreshAt)
	e.logWarn(runCtx, "refresh failed, rescheduled with backoff", map[string]any{
		"tenant_id":  tenantID,
		"refresh_at": formatPayloadTime(refreshAt),
		"error":      lastErr.Error(),
	})
	return result, nil
}

func (e *Engine) completeRefresh(ctx context.Context, tenant Tenant, refreshed RefreshedSecrets, result RefreshRunResult, fields map[string]any) (RefreshRunResult, error) {
	now := e.now()
	updated, err := e.credentials.Rotate(ctx, tenant.ID, refreshed, now)
	if err != nil {
		return result, e.mapError(err)
	}
	if tenant.Status != TenantStatusActive && tenant.Status.CanTransitionTo(TenantStatusActive) {
		if statusErr := e.tenantStore.UpdateStatus(ctx, tenant.ID, TenantStatusActive, "refresh succeeded"); statusErr != nil {
			e.logWarn(ctx, "tenant status update failed after refresh", map[string]any{
				"tenant_id": tenant.ID,
				"error":     statusErr.Error(),
			})
		}
	}

	result.NewExpiresAt = updated.ExpiresAt
	if result.NewExpiresAt.IsZero() {
		result.NewExpiresAt = now.Add(time.Duration(refreshed.ExpiresInSeconds) * time.Second)
	}
	if err := e.enqueueRefreshStep(ctx, tenant.ID, result.NewExpiresAt, nil); err != nil {
		return result, e.mapError(err)
	}
	result.Rescheduled = true
	fields["new_expires_at"] = formatPayloadTime(result.NewExpiresAt)
	return result, nil
}

func (e *Engine) callRefresh(ctx context.Context, connector VendorConnector, tenantID string, refreshSecret string) (RefreshedSecrets, error) {
	key := RateLimitKey{ConnectorID: connector.ID(), TenantID: tenantID, BucketKey: "refresh"}
	if e.rateLimitPolicy != nil {
		if err := e.rateLimitPolicy.BeforeCall(ctx, key); err != nil {
			return RefreshedSecrets{}, err
		}
	}
	refreshed, err := connector.Refresh(ctx, refreshSecret)
	if e.rateLimitPolicy != nil {
		if afterErr := e.rateLimitPolicy.AfterCall(ctx, key, vendorMetaFromError(err, e.now()), err); afterErr != nil {
			return RefreshedSecrets{}, afterErr
		}
	}
	if err != nil {
		return RefreshedSecrets{}, err
	}
	return refreshed, nil
}

// reportClassified pushes the tenant's connection status downstream and
// records the matching tenant status.
func (e *Engine) reportClassified(ctx context.Context, tenantID string, kind ConnectionErrorKind, cause error) {
	metadata := map[string]any{}
	if cause != nil {
		metadata["error"] = cause.Error()
	}
	if status := HTTPStatusFromError(cause); status > 0 {
		metadata["http_status"] = status
	}
	if e.directorySink != nil {
		if reportErr := e.directorySink.ReportConnectionStatus(ctx, tenantID, kind, metadata); reportErr != nil {
			e.logWarn(ctx, "connection status report failed", map[string]any{
				"tenant_id": tenantID,
				"kind":      string(kind),
				"error":     reportErr.Error(),
			})
		}
	}
	status := TenantStatusErrored
	if kind == ErrorKindUnauthorized {
		status = TenantStatusPendingReauth
	}
	reason := string(kind)
	if cause != nil {
		reason = cause.Error()
	}
	if e.tenantStore != nil {
		if statusErr := e.tenantStore.UpdateStatus(ctx, tenantID, status, reason); statusErr != nil && !IsTenantNotFound(statusErr) {
			e.logWarn(ctx, "tenant status transition failed", map[string]any{
				"tenant_id": tenantID,
				"status":    string(status),
				"error":     statusErr.Error(),
			})
		}
	}
}

func vendorMetaFromError(err error, now time.Time) VendorResponseMeta {
	meta := VendorResponseMeta{ReceivedAt: now.UTC()}
	if err == nil {
		meta.StatusCode = 200
		return meta
	}
	meta.StatusCode = HTTPStatusFromError(err)
	meta.Headers = HTTPHeadersFromError(err)
	meta.VendorCode = VendorCodeFromError(err)
	return meta
}
