package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Sync run step statuses.
const (
	SyncStepOngoing   = "ongoing"
	SyncStepCompleted = "completed"
)

// SyncStepInput is one durable page step of a reconciliation run. The run is
// identified by (TenantID, SyncStartedAt, IsFirstSync); SyncStartedAt is the
// deletion watermark and never changes mid-run.
type SyncStepInput struct {
	TenantID      string
	SyncStartedAt time.Time
	IsFirstSync   bool
	Cursor        string
}

func (in SyncStepInput) Validate() error {
	if strings.TrimSpace(in.TenantID) == "" {
		return fmt.Errorf("core: tenant id is required")
	}
	if in.SyncStartedAt.IsZero() {
		return fmt.Errorf("core: sync started-at watermark is required")
	}
	return nil
}

type SyncStepResult struct {
	Status       string
	NextCursor   string
	Upserted     int
	InvalidCount int
	Finalized    bool
}

// HandleSyncTask adapts a claimed durable step into a reconciler page step.
func (e *Engine) HandleSyncTask(ctx context.Context, task Task) error {
	tenantID := payloadString(task.Payload, PayloadKeyTenantID)
	if tenantID == "" {
		return NewTerminalTaskError(fmt.Errorf("core: sync task is missing tenant id"))
	}
	syncStartedAt, err := payloadTime(task.Payload, PayloadKeySyncStartedAt)
	if err != nil {
		return NewTerminalTaskError(err)
	}
	_, err = e.RunSyncStep(ctx, SyncStepInput{
		TenantID:      tenantID,
		SyncStartedAt: syncStartedAt,
		IsFirstSync:   payloadBool(task.Payload, PayloadKeyIsFirstSync),
		Cursor:        payloadString(task.Payload, PayloadKeyCursor),
	})
	return err
}

// RunSyncStep executes one page of a reconciliation run: fetch the page, log
// invalid records, upsert the valid batch, then either enqueue the
// continuation (non-empty next cursor) or finalize by pruning records last
// seen strictly before the run watermark. Pages of one run are strictly
// sequential; replaying a page is safe because the sink upserts by record id
// and continuations dedup on (task, tenant).
func (e *Engine) RunSyncStep(ctx context.Context, input SyncStepInput) (result SyncStepResult, err error) {
	startedAt := e.now()
	fields := map[string]any{
		"tenant_id": strings.TrimSpace(input.TenantID),
		"task_name": TaskSyncRequested,
		"cursor":    NormalizeCursor(input.Cursor),
	}
	defer func() {
		e.observeOperation(ctx, startedAt, "sync_step", err, fields)
	}()

	if e == nil || e.tenantStore == nil || e.directorySink == nil {
		return SyncStepResult{}, fmt.Errorf("core: engine is not configured for sync")
	}
	if err = input.Validate(); err != nil {
		return SyncStepResult{}, e.mapError(err)
	}
	tenantID := strings.TrimSpace(input.TenantID)
	cursor := NormalizeCursor(input.Cursor)

	runCtx, release, err := e.lifecycleGate.Track(ctx, tenantID, LoopSync)
	if err != nil {
		return SyncStepResult{}, e.mapError(err)
	}
	defer release()

	unlock := func() {}
	if e.connectionLocker != nil {
		handle, lockErr := e.connectionLocker.Acquire(runCtx, LoopLockKey(LoopSync, tenantID), e.config.Sync.LockTTL())
		if lockErr != nil {
			retryAt := e.now().Add(e.config.Sync.LockTTL())
			return SyncStepResult{}, NewScheduleRetryError(lockErr, retryAt)
		}
		unlock = func() { _ = handle.Unlock(runCtx) }
	}
	defer unlock()

	tenant, err := e.loadTenant(runCtx, tenantID)
	if err != nil {
		if IsTenantNotFound(err) {
			e.logInfo(runCtx, "sync run stopping, tenant no longer exists", fields)
			return result, NewTerminalTaskError(err)
		}
		return result, e.mapError(err)
	}
	fields["connector_id"] = tenant.ConnectorID

	var accessSecret string
	if e.credentials != nil {
		pair, decryptErr := e.credentials.DecryptPair(runCtx, tenant)
		if decryptErr != nil {
			err = e.mapError(decryptErr)
			return result, err
		}
		accessSecret = pair.AccessSecret
	}

	connector, err := e.Connector(tenant.ConnectorID)
	if err != nil {
		return result, err
	}

	page, err := e.callListPage(runCtx, connector, tenant.ID, accessSecret, cursor)
	if err != nil {
		kind, classified := ClassifyConnectionError(err)
		if classified {
			if kind == ErrorKindRateLimited {
				// Retry this same step after the vendor-specified delay;
				// no status report, the run is healthy, just throttled.
				delay := RetryDelayFromError(err, e.now(), e.config.RateLimit.DefaultRetryAfter())
				err = NewScheduleRetryError(err, e.now().Add(delay))
				return result, err
			}
			// Terminal: report the kind, stop without a continuation. A
			// future install or reconnection restarts the run.
			e.reportClassified(runCtx, tenantID, kind, err)
			err = NewTerminalTaskError(e.mapError(err))
			return result, err
		}
		// Unclassified failures ride the dispatcher's bounded retry; a page
		// that keeps failing is marked failed for operators, the next
		// scheduled full sync starts from scratch.
		err = e.mapError(err)
		return result, err
	}

	result.InvalidCount = len(page.Invalid)
	if result.InvalidCount > 0 {
		reasons := make([]string, 0, len(page.Invalid))
		for _, invalid := range page.Invalid {
			if trimmed := strings.TrimSpace(invalid.Reason); trimmed != "" {
				reasons = append(reasons, trimmed)
			}
		}
		e.logWarn(runCtx, "sync page carried invalid records", map[string]any{
			"tenant_id":     tenantID,
			"cursor":        cursor,
			"invalid_count": result.InvalidCount,
			"reasons":       strings.Join(reasons, "; "),
		})
	}

	if len(page.Records) > 0 {
		if upsertErr := e.directorySink.Upsert(runCtx, tenantID, page.Records); upsertErr != nil {
			err = e.mapError(upsertErr)
			return result, err
		}
		result.Upserted = len(page.Records)
	}

	nextCursor := NormalizeCursor(page.NextCursor)
	if nextCursor != "" && nextCursor == cursor {
		// A vendor echoing the requested cursor back means the chain is
		// done; advancing would loop forever.
		nextCursor = ""
	}

	if nextCursor != "" {
		if enqueueErr := e.enqueueSyncStep(runCtx, tenantID, input.SyncStartedAt, input.IsFirstSync, nextCursor, e.now()); enqueueErr != nil {
			err = e.mapError(enqueueErr)
			return result, err
		}
		result.Status = SyncStepOngoing
		result.NextCursor = nextCursor
		fields["next_cursor"] = nextCursor
		return result, nil
	}

	// Cursor chain exhausted: prune everything last seen strictly before the
	// watermark captured at run start. Records touched by this run carry
	// later timestamps and survive.
	if deleteErr := e.directorySink.DeleteStaleBefore(runCtx, tenantID, input.SyncStartedAt); deleteErr != nil {
		err = e.mapError(deleteErr)
		return result, err
	}
	if reportErr := e.directorySink.ReportConnectionStatus(runCtx, tenantID, "", nil); reportErr != nil {
		e.logWarn(runCtx, "healthy status report failed", map[string]any{
			"tenant_id": tenantID,
			"error":     reportErr.Error(),
		})
	}
	result.Status = SyncStepCompleted
	result.Finalized = true
	fields["finalized"] = true
	return result, nil
}

func (e *Engine) callListPage(ctx context.Context, connector VendorConnector, tenantID string, accessSecret string, cursor string) (Page, error) {
	callCtx := ctx
	if timeout := e.config.Sync.PageTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	key := RateLimitKey{ConnectorID: connector.ID(), TenantID: tenantID, BucketKey: "list"}
	if e.rateLimitPolicy != nil {
		if err := e.rateLimitPolicy.BeforeCall(callCtx, key); err != nil {
			return Page{}, err
		}
	}
	page, err := connector.ListPage(callCtx, accessSecret, cursor)
	if e.rateLimitPolicy != nil {
		if afterErr := e.rateLimitPolicy.AfterCall(callCtx, key, vendorMetaFromError(err, e.now()), err); afterErr != nil {
			return Page{}, afterErr
		}
	}
	if err != nil {
		return Page{}, err
	}
	return page, nil
}
