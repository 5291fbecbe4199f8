package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dirsync/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type TaskStore struct {
	db   *bun.DB
	repo repository.Repository[*taskRecord]
}

func NewTaskStore(db *bun.DB) (*TaskStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*taskRecord](db, taskHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid task repository wiring: %w", err)
		}
	}
	return &TaskStore{db: db, repo: repo}, nil
}

// Enqueue inserts a pending task. A pending row with the same dedup key
// absorbs the insert as a successful no-op so step continuations and loop
// re-arms are safe to replay.
func (s *TaskStore) Enqueue(ctx context.Context, task core.Task) error {
	if s == nil || s.db == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: task store is not configured")
	}
	if strings.TrimSpace(task.Name) == "" {
		return fmt.Errorf("sqlstore: task name is required")
	}
	if strings.TrimSpace(task.TenantID) == "" {
		return fmt.Errorf("sqlstore: task tenant id is required")
	}

	now := time.Now().UTC()
	if strings.TrimSpace(task.ID) == "" {
		task.ID = uuid.NewString()
	}
	if strings.TrimSpace(task.DedupKey) == "" {
		task.DedupKey = core.TaskDedupKey(task.Name, task.TenantID)
	}
	if strings.TrimSpace(task.Status) == "" {
		task.Status = core.TaskStatusPending
	}
	if task.RunAt.IsZero() {
		task.RunAt = now
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, existsErr := tx.NewSelect().
			Model((*taskRecord)(nil)).
			Where("?TableAlias.dedup_key = ?", strings.TrimSpace(task.DedupKey)).
			Where("?TableAlias.status = ?", core.TaskStatusPending).
			Exists(ctx)
		if existsErr != nil {
			return existsErr
		}
		if exists {
			return nil
		}
		record := &taskRecord{
			ID:        strings.TrimSpace(task.ID),
			Name:      strings.TrimSpace(task.Name),
			TenantID:  strings.TrimSpace(task.TenantID),
			DedupKey:  strings.TrimSpace(task.DedupKey),
			Payload:   copyAnyMap(task.Payload),
			Metadata:  copyAnyMap(task.Metadata),
			Status:    task.Status,
			Attempts:  task.Attempts,
			RunAt:     task.RunAt.UTC(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		_, createErr := s.repo.CreateTx(ctx, tx, record)
		return createErr
	})
}

// ClaimDue atomically flips due pending tasks to processing and returns them
// ordered by run time.
func (s *TaskStore) ClaimDue(ctx context.Context, limit int) ([]core.Task, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: task store is not configured")
	}
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC()
	var records []taskRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT id
	FROM dirsync_tasks
	WHERE status = ?
	  AND run_at <= ?
	ORDER BY run_at ASC
	LIMIT ?
)
UPDATE dirsync_tasks
SET status = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND status = ?
RETURNING
	id,
	name,
	tenant_id,
	dedup_key,
	payload,
	metadata,
	status,
	attempts,
	run_at,
	last_error,
	created_at,
	updated_at
`
		return tx.NewRaw(
			query,
			core.TaskStatusPending,
			now,
			limit,
			core.TaskStatusProcessing,
			now,
			core.TaskStatusPending,
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}

	tasks := make([]core.Task, 0, len(records))
	for _, record := range records {
		task := record.toDomain()
		if task.Metadata == nil {
			task.Metadata = map[string]any{}
		}
		task.Metadata[core.MetadataKeyTaskAttempts] = task.Attempts
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (s *TaskStore) Ack(ctx context.Context, taskID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: task store is not configured")
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return fmt.Errorf("sqlstore: task id is required")
	}
	_, err := s.db.NewUpdate().
		Model((*taskRecord)(nil)).
		Set("status = ?", core.TaskStatusDelivered).
		Set("last_error = ?", "").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", taskID).
		Where("status = ?", core.TaskStatusProcessing).
		Exec(ctx)
	return err
}

// Retry returns a processing task to pending at the given wake time and
// counts the spent attempt. A zero wake time marks the task failed instead.
func (s *TaskStore) Retry(ctx context.Context, taskID string, cause error, nextAttemptAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: task store is not configured")
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return fmt.Errorf("sqlstore: task id is required")
	}
	if nextAttemptAt.IsZero() {
		return s.Fail(ctx, taskID, cause)
	}
	lastError := ""
	if cause != nil {
		lastError = strings.TrimSpace(cause.Error())
	}
	_, err := s.db.NewUpdate().
		Model((*taskRecord)(nil)).
		Set("status = ?", core.TaskStatusPending).
		Set("attempts = attempts + 1").
		Set("run_at = ?", nextAttemptAt.UTC()).
		Set("last_error = ?", lastError).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", taskID).
		Where("status = ?", core.TaskStatusProcessing).
		Exec(ctx)
	return err
}

func (s *TaskStore) Fail(ctx context.Context, taskID string, cause error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: task store is not configured")
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return fmt.Errorf("sqlstore: task id is required")
	}
	lastError := ""
	if cause != nil {
		lastError = strings.TrimSpace(cause.Error())
	}
	_, err := s.db.NewUpdate().
		Model((*taskRecord)(nil)).
		Set("status = ?", core.TaskStatusFailed).
		Set("attempts = attempts + 1").
		Set("last_error = ?", lastError).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", taskID).
		Exec(ctx)
	return err
}

// CancelByTenant cancels every pending or processing task for the tenant,
// optionally narrowed to the given task names. A claimed handler noticing the
// cancellation mid-flight acks into a cancelled row, which is harmless.
func (s *TaskStore) CancelByTenant(ctx context.Context, tenantID string, names ...string) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: task store is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return 0, fmt.Errorf("sqlstore: tenant id is required")
	}
	trimmed := make([]string, 0, len(names))
	for _, name := range names {
		if value := strings.TrimSpace(name); value != "" {
			trimmed = append(trimmed, value)
		}
	}

	query := s.db.NewUpdate().
		Model((*taskRecord)(nil)).
		Set("status = ?", core.TaskStatusCancelled).
		Set("updated_at = ?", time.Now().UTC()).
		Where("tenant_id = ?", tenantID).
		Where("status IN (?)", bun.In([]string{core.TaskStatusPending, core.TaskStatusProcessing}))
	if len(trimmed) > 0 {
		query = query.Where("name IN (?)", bun.In(trimmed))
	}
	result, err := query.Exec(ctx)
	if err != nil {
		return 0, err
	}
	affected, affErr := result.RowsAffected()
	if affErr != nil {
		return 0, nil
	}
	return int(affected), nil
}

// PendingForTenant reports the pending tasks for a tenant, used by
// diagnostics and tests.
func (s *TaskStore) PendingForTenant(ctx context.Context, tenantID string) ([]core.Task, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: task store is not configured")
	}
	var records []taskRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("?TableAlias.status = ?", core.TaskStatusPending).
		OrderExpr("?TableAlias.run_at ASC").
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	tasks := make([]core.Task, 0, len(records))
	for _, record := range records {
		tasks = append(tasks, record.toDomain())
	}
	return tasks, nil
}

var _ core.TaskStore = (*TaskStore)(nil)
