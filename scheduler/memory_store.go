package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-dirsync/core"
	"github.com/google/uuid"
)

// MemoryTaskStore is a process-local core.TaskStore used in tests and single
// node deployments. It enforces the same pending-task dedup rule as the SQL
// store: at most one pending task per (name, tenant) pair.
type MemoryTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*core.Task
	nowFn func() time.Time
}

var _ core.TaskStore = (*MemoryTaskStore)(nil)

func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: map[string]*core.Task{},
		nowFn: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the store clock, for tests.
func (s *MemoryTaskStore) WithClock(nowFn func() time.Time) *MemoryTaskStore {
	if nowFn != nil {
		s.nowFn = nowFn
	}
	return s
}

// Enqueue inserts a pending task. A pending task with the same dedup key
// already in the store absorbs the enqueue as a no-op, which makes step
// continuations safe to replay.
func (s *MemoryTaskStore) Enqueue(ctx context.Context, task core.Task) error {
	if s == nil {
		return fmt.Errorf("scheduler: task store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	if strings.TrimSpace(task.ID) == "" {
		task.ID = uuid.NewString()
	}
	if strings.TrimSpace(task.DedupKey) == "" {
		task.DedupKey = core.TaskDedupKey(task.Name, task.TenantID)
	}
	if task.Status == "" {
		task.Status = core.TaskStatusPending
	}
	if task.RunAt.IsZero() {
		task.RunAt = now
	}
	task.CreatedAt = now
	task.UpdatedAt = now

	for _, existing := range s.tasks {
		if existing.Status == core.TaskStatusPending && existing.DedupKey == task.DedupKey {
			return nil
		}
	}
	clone := core.CloneTask(task)
	s.tasks[task.ID] = &clone
	return nil
}

// ClaimDue moves due pending tasks to processing and returns them ordered by
// run time.
func (s *MemoryTaskStore) ClaimDue(ctx context.Context, limit int) ([]core.Task, error) {
	if s == nil {
		return nil, fmt.Errorf("scheduler: task store is nil")
	}
	if limit <= 0 {
		limit = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	due := make([]*core.Task, 0, limit)
	for _, task := range s.tasks {
		if task.Status == core.TaskStatusPending && !task.RunAt.After(now) {
			due = append(due, task)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].RunAt.Equal(due[j].RunAt) {
			return due[i].ID < due[j].ID
		}
		return due[i].RunAt.Before(due[j].RunAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]core.Task, 0, len(due))
	for _, task := range due {
		task.Status = core.TaskStatusProcessing
		task.UpdatedAt = now
		if task.Metadata == nil {
			task.Metadata = map[string]any{}
		}
		task.Metadata[core.MetadataKeyTaskAttempts] = task.Attempts
		claimed = append(claimed, core.CloneTask(*task))
	}
	return claimed, nil
}

func (s *MemoryTaskStore) Ack(ctx context.Context, id string) error {
	return s.transition(id, core.TaskStatusProcessing, func(task *core.Task) {
		task.Status = core.TaskStatusDelivered
		task.LastError = ""
	})
}

// Retry returns a processing task to pending with the next wake time and
// counts the spent attempt.
func (s *MemoryTaskStore) Retry(ctx context.Context, id string, cause error, nextAttemptAt time.Time) error {
	return s.transition(id, core.TaskStatusProcessing, func(task *core.Task) {
		task.Status = core.TaskStatusPending
		task.Attempts++
		if !nextAttemptAt.IsZero() {
			task.RunAt = nextAttemptAt.UTC()
		}
		if cause != nil {
			task.LastError = cause.Error()
		}
	})
}

func (s *MemoryTaskStore) Fail(ctx context.Context, id string, cause error) error {
	return s.transition(id, core.TaskStatusProcessing, func(task *core.Task) {
		task.Status = core.TaskStatusFailed
		task.Attempts++
		if cause != nil {
			task.LastError = cause.Error()
		}
	})
}

// CancelByTenant cancels every pending or processing task for the tenant,
// optionally narrowed to the given task names.
func (s *MemoryTaskStore) CancelByTenant(ctx context.Context, tenantID string, names ...string) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("scheduler: task store is nil")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return 0, fmt.Errorf("scheduler: tenant id is required")
	}
	nameFilter := map[string]bool{}
	for _, name := range names {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			nameFilter[trimmed] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFn()
	cancelled := 0
	for _, task := range s.tasks {
		if task.TenantID != tenantID {
			continue
		}
		if task.Status != core.TaskStatusPending && task.Status != core.TaskStatusProcessing {
			continue
		}
		if len(nameFilter) > 0 && !nameFilter[task.Name] {
			continue
		}
		task.Status = core.TaskStatusCancelled
		task.UpdatedAt = now
		cancelled++
	}
	return cancelled, nil
}

// Tasks returns a snapshot of every stored task ordered by creation, for
// tests and diagnostics.
func (s *MemoryTaskStore) Tasks() []core.Task {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, core.CloneTask(*task))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *MemoryTaskStore) transition(id string, fromStatus string, apply func(*core.Task)) error {
	if s == nil {
		return fmt.Errorf("scheduler: task store is nil")
	}
	id = strings.TrimSpace(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("scheduler: task %q not found", id)
	}
	if task.Status != fromStatus {
		return fmt.Errorf("scheduler: task %q is %s, expected %s", id, task.Status, fromStatus)
	}
	apply(task)
	task.UpdatedAt = s.nowFn()
	return nil
}
