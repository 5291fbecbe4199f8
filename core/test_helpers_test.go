package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

type testSecretProvider struct{}

func (testSecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("test secret provider: plaintext is required")
	}
	encoded := base64.StdEncoding.EncodeToString(plaintext)
	return []byte("enc:" + encoded), nil
}

func (testSecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	value := strings.TrimSpace(string(ciphertext))
	if !strings.HasPrefix(value, "enc:") {
		return nil, fmt.Errorf("test secret provider: invalid ciphertext")
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, "enc:"))
	if err != nil {
		return nil, fmt.Errorf("test secret provider: decode ciphertext: %w", err)
	}
	return decoded, nil
}

type memoryTenantStore struct {
	mu      sync.Mutex
	byID    map[string]Tenant
	rotates int
}

func newMemoryTenantStore() *memoryTenantStore {
	return &memoryTenantStore{byID: map[string]Tenant{}}
}

func (s *memoryTenantStore) Get(_ context.Context, tenantID string) (Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.byID[strings.TrimSpace(tenantID)]
	if !ok {
		return Tenant{}, NewTenantNotFoundError(tenantID)
	}
	return CloneTenant(tenant), nil
}

func (s *memoryTenantStore) Create(_ context.Context, tenant Tenant) (Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant.ID = strings.TrimSpace(tenant.ID)
	if tenant.ID == "" {
		return Tenant{}, fmt.Errorf("tenant id is required")
	}
	if existing, ok := s.byID[tenant.ID]; ok {
		tenant.CreatedAt = existing.CreatedAt
	}
	s.byID[tenant.ID] = CloneTenant(tenant)
	return CloneTenant(tenant), nil
}

func (s *memoryTenantStore) RotateSecrets(_ context.Context, input RotateSecretsInput) (Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.byID[strings.TrimSpace(input.TenantID)]
	if !ok {
		return Tenant{}, NewTenantNotFoundError(input.TenantID)
	}
	tenant.AccessSecret = append([]byte(nil), input.AccessSecret...)
	tenant.RefreshSecret = append([]byte(nil), input.RefreshSecret...)
	tenant.SecretVersion++
	tenant.ExpiresAt = input.ExpiresAt.UTC()
	tenant.UpdatedAt = time.Now().UTC()
	s.byID[tenant.ID] = tenant
	s.rotates++
	return CloneTenant(tenant), nil
}

func (s *memoryTenantStore) UpdateStatus(_ context.Context, tenantID string, status TenantStatus, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant, ok := s.byID[strings.TrimSpace(tenantID)]
	if !ok {
		return NewTenantNotFoundError(tenantID)
	}
	if err := tenant.TransitionTo(status, time.Now().UTC()); err != nil {
		return err
	}
	tenant.StatusReason = strings.TrimSpace(reason)
	s.byID[tenant.ID] = tenant
	return nil
}

func (s *memoryTenantStore) Delete(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenantID = strings.TrimSpace(tenantID)
	if _, ok := s.byID[tenantID]; !ok {
		return NewTenantNotFoundError(tenantID)
	}
	delete(s.byID, tenantID)
	return nil
}

func (s *memoryTenantStore) status(tenantID string) (TenantStatus, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant := s.byID[tenantID]
	return tenant.Status, tenant.StatusReason
}

type memoryTaskQueue struct {
	mu    sync.Mutex
	tasks []Task
}

func newMemoryTaskQueue() *memoryTaskQueue {
	return &memoryTaskQueue{}
}

func (q *memoryTaskQueue) Enqueue(_ context.Context, task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	dedup := task.DedupKey
	if dedup == "" {
		dedup = TaskDedupKey(task.Name, task.TenantID)
	}
	for _, existing := range q.tasks {
		if existing.Status == TaskStatusPending && existing.DedupKey == dedup {
			return nil
		}
	}
	task.DedupKey = dedup
	task.Status = TaskStatusPending
	q.tasks = append(q.tasks, CloneTask(task))
	return nil
}

func (q *memoryTaskQueue) claimPending() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.tasks {
		if q.tasks[i].Status == TaskStatusPending {
			q.tasks[i].Status = TaskStatusProcessing
		}
	}
}

func (q *memoryTaskQueue) ClaimDue(_ context.Context, limit int) ([]Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now().UTC()
	claimed := []Task{}
	for i := range q.tasks {
		if len(claimed) >= limit {
			break
		}
		if q.tasks[i].Status == TaskStatusPending && !q.tasks[i].RunAt.After(now) {
			q.tasks[i].Status = TaskStatusProcessing
			claimed = append(claimed, CloneTask(q.tasks[i]))
		}
	}
	return claimed, nil
}

func (q *memoryTaskQueue) Ack(_ context.Context, taskID string) error {
	return q.setStatus(taskID, TaskStatusDelivered, "")
}

func (q *memoryTaskQueue) Retry(_ context.Context, taskID string, cause error, nextAttemptAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.tasks {
		if q.tasks[i].ID == taskID {
			q.tasks[i].Status = TaskStatusPending
			q.tasks[i].Attempts++
			q.tasks[i].RunAt = nextAttemptAt.UTC()
			if cause != nil {
				q.tasks[i].LastError = cause.Error()
			}
			return nil
		}
	}
	return fmt.Errorf("task %s not found", taskID)
}

func (q *memoryTaskQueue) Fail(_ context.Context, taskID string, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	return q.setStatus(taskID, TaskStatusFailed, message)
}

func (q *memoryTaskQueue) CancelByTenant(_ context.Context, tenantID string, names ...string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	matches := func(name string) bool {
		if len(names) == 0 {
			return true
		}
		for _, candidate := range names {
			if candidate == name {
				return true
			}
		}
		return false
	}
	cancelled := 0
	for i := range q.tasks {
		if q.tasks[i].TenantID != tenantID || !matches(q.tasks[i].Name) {
			continue
		}
		if q.tasks[i].Status == TaskStatusPending || q.tasks[i].Status == TaskStatusProcessing {
			q.tasks[i].Status = TaskStatusCancelled
			cancelled++
		}
	}
	return cancelled, nil
}

func (q *memoryTaskQueue) setStatus(taskID string, status string, lastError string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.tasks {
		if q.tasks[i].ID == taskID {
			q.tasks[i].Status = status
			if lastError != "" {
				q.tasks[i].LastError = lastError
			}
			return nil
		}
	}
	return fmt.Errorf("task %s not found", taskID)
}

func (q *memoryTaskQueue) pending(name string, tenantID string) []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := []Task{}
	for _, task := range q.tasks {
		if task.Status == TaskStatusPending && task.Name == name && task.TenantID == tenantID {
			out = append(out, CloneTask(task))
		}
	}
	return out
}

type scriptedConnector struct {
	mu        sync.Mutex
	id        string
	pages     map[string]Page
	pageErrs  map[string]error
	refreshes []func() (RefreshedSecrets, error)
	listCalls []string
}

func newScriptedConnector(id string) *scriptedConnector {
	return &scriptedConnector{
		id:       id,
		pages:    map[string]Page{},
		pageErrs: map[string]error{},
	}
}

func (c *scriptedConnector) ID() string { return c.id }

func (c *scriptedConnector) ListPage(_ context.Context, _ string, cursor string) (Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cursor = NormalizeCursor(cursor)
	c.listCalls = append(c.listCalls, cursor)
	if err, ok := c.pageErrs[cursor]; ok {
		return Page{}, err
	}
	page, ok := c.pages[cursor]
	if !ok {
		return Page{}, fmt.Errorf("no page for cursor %q", cursor)
	}
	return page, nil
}

func (c *scriptedConnector) Refresh(_ context.Context, _ string) (RefreshedSecrets, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.refreshes) == 0 {
		return RefreshedSecrets{}, fmt.Errorf("no refresh scripted")
	}
	next := c.refreshes[0]
	if len(c.refreshes) > 1 {
		c.refreshes = c.refreshes[1:]
	}
	return next()
}

func (c *scriptedConnector) scriptRefresh(outcome func() (RefreshedSecrets, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes = append(c.refreshes, outcome)
}

type sinkCall struct {
	kind      string
	records   []DirectoryRecord
	watermark time.Time
	errorKind ConnectionErrorKind
	metadata  map[string]any
}

type recordingSink struct {
	mu        sync.Mutex
	calls     []sinkCall
	upsertErr error
}

func (s *recordingSink) Upsert(_ context.Context, _ string, records []DirectoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.calls = append(s.calls, sinkCall{kind: "upsert", records: append([]DirectoryRecord(nil), records...)})
	return nil
}

func (s *recordingSink) DeleteStaleBefore(_ context.Context, _ string, watermark time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{kind: "delete_stale", watermark: watermark})
	return nil
}

func (s *recordingSink) ReportConnectionStatus(_ context.Context, _ string, kind ConnectionErrorKind, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{kind: "report", errorKind: kind, metadata: metadata})
	return nil
}

func (s *recordingSink) callsOf(kind string) []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []sinkCall{}
	for _, call := range s.calls {
		if call.kind == kind {
			out = append(out, call)
		}
	}
	return out
}

type zeroBackoffScheduler struct{}

func (zeroBackoffScheduler) NextDelay(int) time.Duration { return 0 }

type engineFixture struct {
	engine    *Engine
	tenants   *memoryTenantStore
	tasks     *memoryTaskQueue
	sink      *recordingSink
	connector *scriptedConnector
}

func newEngineFixture(t *testing.T, options ...Option) *engineFixture {
	t.Helper()
	fixture := &engineFixture{
		tenants:   newMemoryTenantStore(),
		tasks:     newMemoryTaskQueue(),
		sink:      &recordingSink{},
		connector: newScriptedConnector("acme-dir"),
	}
	base := []Option{
		WithTenantStore(fixture.tenants),
		WithTaskStore(fixture.tasks),
		WithDirectorySink(fixture.sink),
		WithSecretProvider(testSecretProvider{}),
		WithRetryBackoffScheduler(zeroBackoffScheduler{}),
	}
	engine, err := New(DefaultConfig(), append(base, options...)...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := engine.RegisterConnector(fixture.connector); err != nil {
		t.Fatalf("register connector: %v", err)
	}
	fixture.engine = engine
	return fixture
}

func (f *engineFixture) install(t *testing.T, tenantID string) Tenant {
	t.Helper()
	tenant, err := f.engine.InstallTenant(context.Background(), InstallTenantInput{
		TenantID:         tenantID,
		ConnectorID:      f.connector.ID(),
		AccessSecret:     "access-token",
		RefreshSecret:    "refresh-token",
		ExpiresInSeconds: 3600,
	})
	if err != nil {
		t.Fatalf("install tenant: %v", err)
	}
	return tenant
}
