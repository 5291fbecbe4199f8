package devkit

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-dirsync/core"
	"github.com/goliatone/go-dirsync/scheduler"
	"github.com/goliatone/go-dirsync/security"
)

type memoryTenantStore struct {
	tenants map[string]core.Tenant
}

func newMemoryTenantStore() *memoryTenantStore {
	return &memoryTenantStore{tenants: map[string]core.Tenant{}}
}

func (s *memoryTenantStore) Get(_ context.Context, tenantID string) (core.Tenant, error) {
	tenant, ok := s.tenants[tenantID]
	if !ok {
		return core.Tenant{}, core.NewTenantNotFoundError(tenantID)
	}
	return tenant, nil
}

func (s *memoryTenantStore) Create(_ context.Context, tenant core.Tenant) (core.Tenant, error) {
	s.tenants[tenant.ID] = tenant
	return tenant, nil
}

func (s *memoryTenantStore) RotateSecrets(_ context.Context, input core.RotateSecretsInput) (core.Tenant, error) {
	tenant, ok := s.tenants[input.TenantID]
	if !ok {
		return core.Tenant{}, core.NewTenantNotFoundError(input.TenantID)
	}
	tenant.AccessSecret = input.AccessSecret
	tenant.RefreshSecret = input.RefreshSecret
	tenant.ExpiresAt = input.ExpiresAt
	tenant.SecretVersion++
	s.tenants[input.TenantID] = tenant
	return tenant, nil
}

func (s *memoryTenantStore) UpdateStatus(_ context.Context, tenantID string, status core.TenantStatus, reason string) error {
	tenant, ok := s.tenants[tenantID]
	if !ok {
		return core.NewTenantNotFoundError(tenantID)
	}
	if err := tenant.TransitionTo(status, time.Now().UTC()); err != nil {
		return err
	}
	tenant.StatusReason = reason
	s.tenants[tenantID] = tenant
	return nil
}

func (s *memoryTenantStore) Delete(_ context.Context, tenantID string) error {
	delete(s.tenants, tenantID)
	return nil
}

func pageOf(ids []string, invalidReason string, next string) PageScript {
	records := make([]core.DirectoryRecord, 0, len(ids))
	for _, id := range ids {
		records = append(records, core.DirectoryRecord{
			ID:          id,
			DisplayName: "User " + id,
			Email:       id + "@acme.test",
		})
	}
	return PageScript{Page: core.Page{
		Records:    records,
		Invalid:    []core.InvalidRecord{{Raw: map[string]any{"id": nil}, Reason: invalidReason}},
		NextCursor: next,
	}}
}

// Walks a full three-page run through the real dispatcher: install enqueues
// the first step, each step enqueues its continuation, the empty cursor
// finalizes with one stale delete and one healthy report.
func TestSyncRunWalksAllPagesThroughDispatcher(t *testing.T) {
	secrets, err := security.NewAppKeySecretProviderFromString("integration-test-app-key")
	if err != nil {
		t.Fatalf("new secret provider: %v", err)
	}
	tenants := newMemoryTenantStore()
	tasks := scheduler.NewMemoryTaskStore()
	sink := NewRecordingSinkFixture()
	connector := NewScriptedConnectorFixture("acme-dir").
		ScriptPage("", pageOf([]string{"u1", "u2"}, "missing id", "p2")).
		ScriptPage("p2", pageOf([]string{"u3", "u4"}, "missing email", "p3")).
		ScriptPage("p3", pageOf([]string{"u5", "u6"}, "malformed role", ""))

	engine, err := core.New(core.DefaultConfig(),
		core.WithTenantStore(tenants),
		core.WithTaskStore(tasks),
		core.WithDirectorySink(sink),
		core.WithSecretProvider(secrets),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if err := engine.RegisterConnector(connector); err != nil {
		t.Fatalf("register connector: %v", err)
	}
	dispatcher, err := scheduler.NewTaskDispatcher(tasks, engine.TaskHandlers(), scheduler.DispatcherConfig{}, nil)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	ctx := context.Background()
	if _, err := engine.InstallTenant(ctx, core.InstallTenantInput{
		TenantID:         "tenant_1",
		ConnectorID:      "acme-dir",
		AccessSecret:     "access-token",
		RefreshSecret:    "refresh-token",
		ExpiresInSeconds: 3600,
	}); err != nil {
		t.Fatalf("install tenant: %v", err)
	}

	delivered := 0
	for i := 0; i < 6; i++ {
		stats, err := dispatcher.DispatchDue(ctx, 10)
		if err != nil {
			t.Fatalf("dispatch pass %d: %v", i, err)
		}
		delivered += stats.Delivered
		if stats.Claimed == 0 {
			break
		}
	}
	if delivered != 3 {
		t.Fatalf("expected three delivered sync steps, got %d", delivered)
	}

	listCalls := connector.CallsTo("list_page")
	if len(listCalls) != 3 {
		t.Fatalf("expected three page fetches, got %d", len(listCalls))
	}
	for i, wantCursor := range []string{"", "p2", "p3"} {
		if listCalls[i].Cursor != wantCursor {
			t.Fatalf("page %d fetched with cursor %q, want %q", i, listCalls[i].Cursor, wantCursor)
		}
		if listCalls[i].Secret != "access-token" {
			t.Fatalf("page %d fetched with secret %q", i, listCalls[i].Secret)
		}
	}

	records := sink.Records("tenant_1")
	if len(records) != 6 {
		t.Fatalf("expected six upserted records, got %d", len(records))
	}
	if upserts := sink.Upserts(); len(upserts) != 3 {
		t.Fatalf("expected one upsert batch per page, got %d", len(upserts))
	}

	deletes := sink.Deletes()
	if len(deletes) != 1 {
		t.Fatalf("expected exactly one stale delete, got %d", len(deletes))
	}
	reports := sink.Reports()
	if len(reports) != 1 || reports[0].Kind != core.ConnectionErrorKind("") {
		t.Fatalf("expected one healthy report, got %#v", reports)
	}
}
