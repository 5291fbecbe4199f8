package scheduler

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/goliatone/go-dirsync/core"
)

// DispatcherConfig bounds one dispatcher instance. MaxAttempts applies only
// to unclassified handler failures; scheduled retries (throttles, lock
// contention) reschedule at the exact requested time without bound.
type DispatcherConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		PollInterval:   time.Second,
		BatchSize:      10,
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     5 * time.Minute,
	}
}

// ConfigFromScheduler maps the engine's scheduler section onto dispatcher
// bounds.
func ConfigFromScheduler(cfg core.SchedulerConfig) DispatcherConfig {
	return DispatcherConfig{
		PollInterval:   cfg.PollInterval(),
		BatchSize:      cfg.ClaimBatchSize,
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialRetryDelay(),
		MaxBackoff:     cfg.MaxRetryDelay(),
	}
}

// DispatchStats summarizes one dispatch pass.
type DispatchStats struct {
	Claimed   int
	Delivered int
	Scheduled int
	Retried   int
	Failed    int
}

// TaskDispatcher claims due durable tasks and routes each to its registered
// handler. Handler outcomes map onto the store: nil acks, a ScheduleRetryError
// reschedules at the exact requested time, a TerminalTaskError fails without
// retry, anything else rides bounded exponential backoff.
type TaskDispatcher struct {
	store    core.TaskStore
	handlers map[string]core.TaskHandler
	logger   core.Logger
	config   DispatcherConfig
	now      func() time.Time
}

func NewTaskDispatcher(store core.TaskStore, handlers map[string]core.TaskHandler, config DispatcherConfig, logger core.Logger) (*TaskDispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("scheduler: task store is required")
	}
	if len(handlers) == 0 {
		return nil, fmt.Errorf("scheduler: at least one task handler is required")
	}
	defaults := DefaultDispatcherConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	registered := make(map[string]core.TaskHandler, len(handlers))
	for name, handler := range handlers {
		name = strings.TrimSpace(name)
		if name == "" || handler == nil {
			continue
		}
		registered[name] = handler
	}
	return &TaskDispatcher{
		store:    store,
		handlers: registered,
		logger:   logger,
		config:   config,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

// Run polls the store until the context is cancelled.
func (d *TaskDispatcher) Run(ctx context.Context) error {
	if d == nil || d.store == nil {
		return fmt.Errorf("scheduler: dispatcher is not configured")
	}
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := d.DispatchDue(ctx, d.config.BatchSize); err != nil && d.logger != nil {
				d.logger.Error("dispatch pass failed", "error", err)
			}
		}
	}
}

// DispatchDue runs a single claim-and-handle pass.
func (d *TaskDispatcher) DispatchDue(ctx context.Context, batchSize int) (DispatchStats, error) {
	if d == nil || d.store == nil {
		return DispatchStats{}, fmt.Errorf("scheduler: dispatcher is not configured")
	}
	limit := batchSize
	if limit <= 0 {
		limit = d.config.BatchSize
	}
	tasks, err := d.store.ClaimDue(ctx, limit)
	if err != nil {
		return DispatchStats{}, err
	}

	stats := DispatchStats{Claimed: len(tasks)}
	var dispatchErr error
	for _, task := range tasks {
		outcome, err := d.dispatchOne(ctx, task)
		switch outcome {
		case outcomeDelivered:
			stats.Delivered++
		case outcomeScheduled:
			stats.Scheduled++
		case outcomeRetried:
			stats.Retried++
		case outcomeFailed:
			stats.Failed++
		}
		dispatchErr = joinErrors(dispatchErr, err)
	}
	return stats, dispatchErr
}

type dispatchOutcome int

const (
	outcomeDelivered dispatchOutcome = iota
	outcomeScheduled
	outcomeRetried
	outcomeFailed
)

func (d *TaskDispatcher) dispatchOne(ctx context.Context, task core.Task) (dispatchOutcome, error) {
	taskID := strings.TrimSpace(task.ID)
	handler, ok := d.handlers[strings.TrimSpace(task.Name)]
	if !ok {
		cause := fmt.Errorf("scheduler: no handler registered for task %q", task.Name)
		return outcomeFailed, joinErrors(cause, d.store.Fail(ctx, taskID, cause))
	}

	handleErr := handler(ctx, task)
	if handleErr == nil {
		if ackErr := d.store.Ack(ctx, taskID); ackErr != nil {
			return outcomeDelivered, ackErr
		}
		return outcomeDelivered, nil
	}

	if scheduled, ok := core.AsScheduleRetry(handleErr); ok {
		// Exact-time reschedule requested by the handler; this path never
		// counts against the attempt cap.
		if retryErr := d.store.Retry(ctx, taskID, scheduled.Cause, scheduled.RetryAt); retryErr != nil {
			return outcomeScheduled, joinErrors(handleErr, retryErr)
		}
		return outcomeScheduled, nil
	}

	if core.IsTerminalTask(handleErr) {
		if failErr := d.store.Fail(ctx, taskID, handleErr); failErr != nil {
			return outcomeFailed, joinErrors(handleErr, failErr)
		}
		return outcomeFailed, nil
	}

	attempt := claimedAttempt(task)
	if attempt+1 >= d.config.MaxAttempts {
		if failErr := d.store.Fail(ctx, taskID, handleErr); failErr != nil {
			return outcomeFailed, joinErrors(handleErr, failErr)
		}
		if d.logger != nil {
			d.logger.Error("task failed after exhausting retries",
				"task", task.Name, "tenant_id", task.TenantID, "attempts", attempt, "error", handleErr)
		}
		return outcomeFailed, handleErr
	}
	nextAttemptAt := d.now().Add(d.nextBackoffDelay(attempt + 1))
	if retryErr := d.store.Retry(ctx, taskID, handleErr, nextAttemptAt); retryErr != nil {
		return outcomeRetried, joinErrors(handleErr, retryErr)
	}
	return outcomeRetried, handleErr
}

func (d *TaskDispatcher) nextBackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(d.config.InitialBackoff)
	multiplier := math.Pow(2, float64(attempt-1))
	next := time.Duration(base * multiplier)
	if next < 0 || next > d.config.MaxBackoff {
		return d.config.MaxBackoff
	}
	return next
}

// claimedAttempt reads the delivery attempt count recorded by the store at
// claim time, preferring the column over metadata.
func claimedAttempt(task core.Task) int {
	if task.Attempts > 0 {
		return task.Attempts
	}
	if len(task.Metadata) == 0 {
		return 0
	}
	switch typed := task.Metadata[core.MetadataKeyTaskAttempts].(type) {
	case int:
		if typed > 0 {
			return typed
		}
	case int64:
		if typed > 0 {
			return int(typed)
		}
	case float64:
		if typed > 0 {
			return int(typed)
		}
	}
	return 0
}

func joinErrors(existing error, next error) error {
	if existing == nil {
		return next
	}
	if next == nil {
		return existing
	}
	return fmt.Errorf("%w; %v", existing, next)
}
