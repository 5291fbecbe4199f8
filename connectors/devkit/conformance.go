package devkit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dirsync/core"
)

// ValidateConnectorConformance walks a connector's listing from the first
// page to exhaustion and checks the contract every engine loop relies on:
// a stable non-empty id, normalized cursors, and a terminating page chain.
func ValidateConnectorConformance(
	ctx context.Context,
	connector core.VendorConnector,
	accessSecret string,
	maxPages int,
) error {
	if connector == nil {
		return fmt.Errorf("devkit: connector is required")
	}
	if strings.TrimSpace(connector.ID()) == "" {
		return fmt.Errorf("devkit: connector id is required")
	}
	if maxPages <= 0 {
		maxPages = 100
	}

	cursor := ""
	seen := map[string]bool{}
	for page := 0; page < maxPages; page++ {
		result, err := connector.ListPage(ctx, accessSecret, cursor)
		if err != nil {
			return fmt.Errorf("devkit: list page with cursor %q: %w", cursor, err)
		}
		next := core.NormalizeCursor(result.NextCursor)
		if next != result.NextCursor {
			return fmt.Errorf("devkit: connector returned unnormalized cursor %q", result.NextCursor)
		}
		if next == "" {
			return nil
		}
		if seen[next] {
			return fmt.Errorf("devkit: cursor %q repeats, listing will never terminate", next)
		}
		seen[next] = true
		cursor = next
	}
	return fmt.Errorf("devkit: listing did not terminate within %d pages", maxPages)
}

// ValidateTaskStoreConformance checks the durable-queue contract the
// dispatcher depends on: pending dedup absorbs replays, claims are exclusive,
// retry counts the spent attempt and reschedules, ack finalizes.
func ValidateTaskStoreConformance(ctx context.Context, store core.TaskStore, tenantID string) error {
	if store == nil {
		return fmt.Errorf("devkit: task store is required")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		tenantID = "devkit-tenant"
	}

	task := core.Task{
		Name:     core.TaskSyncRequested,
		TenantID: tenantID,
		RunAt:    time.Now().UTC().Add(-time.Second),
	}
	if err := store.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("devkit: enqueue: %w", err)
	}
	if err := store.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("devkit: duplicate enqueue should be absorbed: %w", err)
	}

	claimed, err := store.ClaimDue(ctx, 10)
	if err != nil {
		return fmt.Errorf("devkit: claim due: %w", err)
	}
	if len(claimed) != 1 {
		return fmt.Errorf("devkit: expected 1 claimed task after dedup, got %d", len(claimed))
	}
	if claimed[0].Status != core.TaskStatusProcessing {
		return fmt.Errorf("devkit: expected claimed task processing, got %q", claimed[0].Status)
	}

	reclaimed, err := store.ClaimDue(ctx, 10)
	if err != nil {
		return fmt.Errorf("devkit: second claim: %w", err)
	}
	if len(reclaimed) != 0 {
		return fmt.Errorf("devkit: processing tasks must not be re-claimed")
	}

	if err := store.Retry(ctx, claimed[0].ID, fmt.Errorf("transient"), time.Now().UTC().Add(-time.Second)); err != nil {
		return fmt.Errorf("devkit: retry: %w", err)
	}
	retried, err := store.ClaimDue(ctx, 10)
	if err != nil {
		return fmt.Errorf("devkit: claim after retry: %w", err)
	}
	if len(retried) != 1 {
		return fmt.Errorf("devkit: expected retried task to become claimable, got %d", len(retried))
	}
	if retried[0].Attempts != 1 {
		return fmt.Errorf("devkit: expected retry to count the spent attempt, got %d", retried[0].Attempts)
	}

	if err := store.Ack(ctx, retried[0].ID); err != nil {
		return fmt.Errorf("devkit: ack: %w", err)
	}
	if _, err := store.CancelByTenant(ctx, tenantID); err != nil {
		return fmt.Errorf("devkit: cancel by tenant: %w", err)
	}
	return nil
}

// ValidateRateLimitPolicyConformance checks a policy's throttle handshake: a
// throttled failure surfaces a retry delay, and the bucket stays gated until
// the delay elapses.
func ValidateRateLimitPolicyConformance(
	ctx context.Context,
	policy core.RateLimitPolicy,
	key core.RateLimitKey,
) error {
	if policy == nil {
		return fmt.Errorf("devkit: rate limit policy is required")
	}
	if err := policy.BeforeCall(ctx, key); err != nil {
		return fmt.Errorf("devkit: fresh bucket must not be gated: %w", err)
	}

	meta := core.VendorResponseMeta{
		StatusCode: 429,
		Headers:    map[string]string{core.HeaderRetryAfter: "1"},
		ReceivedAt: time.Now().UTC(),
	}
	afterErr := policy.AfterCall(ctx, key, meta, fmt.Errorf("vendor rejected call"))
	if afterErr == nil {
		return fmt.Errorf("devkit: throttled failure must surface an error")
	}
	if delay := core.RetryDelayFromError(afterErr, time.Now().UTC(), 0); delay <= 0 {
		return fmt.Errorf("devkit: throttle error must carry a retry delay")
	}
	if err := policy.BeforeCall(ctx, key); err == nil {
		return fmt.Errorf("devkit: throttled bucket must gate the next call")
	}
	return nil
}
