package query

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-dirsync/core"
	goerrors "github.com/goliatone/go-errors"
)

type stubTenantReader struct {
	tenant core.Tenant
	err    error
	gotID  string
}

func (r *stubTenantReader) GetTenant(_ context.Context, tenantID string) (core.Tenant, error) {
	r.gotID = tenantID
	if r.err != nil {
		return core.Tenant{}, r.err
	}
	return r.tenant, nil
}

type stubBacklogReader struct {
	tasks []core.Task
}

func (r *stubBacklogReader) PendingForTenant(_ context.Context, _ string) ([]core.Task, error) {
	return r.tasks, nil
}

type stubConnector struct{ id string }

func (c stubConnector) ID() string { return c.id }

func (stubConnector) ListPage(context.Context, string, string) (core.Page, error) {
	return core.Page{}, nil
}

func (stubConnector) Refresh(context.Context, string) (core.RefreshedSecrets, error) {
	return core.RefreshedSecrets{}, nil
}

type stubConnectorLister struct {
	connectors []core.VendorConnector
}

func (l stubConnectorLister) List() []core.VendorConnector {
	return l.connectors
}

func TestGetTenantQuery_ReturnsReaderResult(t *testing.T) {
	reader := &stubTenantReader{tenant: core.Tenant{ID: "tenant_1", Status: core.TenantStatusActive}}
	tenant, err := NewGetTenantQuery(reader).Query(context.Background(), GetTenantMessage{TenantID: "tenant_1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if tenant.ID != "tenant_1" || reader.gotID != "tenant_1" {
		t.Fatalf("unexpected tenant %#v (reader saw %q)", tenant, reader.gotID)
	}
}

func TestGetTenantQuery_ValidatesMessage(t *testing.T) {
	_, err := NewGetTenantQuery(&stubTenantReader{}).Query(context.Background(), GetTenantMessage{})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryValidation {
		t.Fatalf("expected validation category, got %q", rich.Category)
	}
	if rich.TextCode != core.EngineErrorBadInput {
		t.Fatalf("expected %q text code, got %q", core.EngineErrorBadInput, rich.TextCode)
	}
	if rich.Code != http.StatusBadRequest {
		t.Fatalf("expected %d code, got %d", http.StatusBadRequest, rich.Code)
	}
	validation := rich.AllValidationErrors()
	if len(validation) == 0 || validation[0].Field != "tenant_id" {
		t.Fatalf("expected tenant_id validation field, got %#v", validation)
	}
}

func TestGetTenantQuery_NilReaderReturnsRichError(t *testing.T) {
	var q *GetTenantQuery
	_, err := q.Query(context.Background(), GetTenantMessage{TenantID: "tenant_1"})
	if err == nil {
		t.Fatalf("expected dependency error")
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != core.EngineErrorInternal {
		t.Fatalf("expected internal envelope, got %v", err)
	}
}

func TestGetTenantQuery_PropagatesReaderError(t *testing.T) {
	reader := &stubTenantReader{err: fmt.Errorf("tenant tenant_1 not found")}
	_, err := NewGetTenantQuery(reader).Query(context.Background(), GetTenantMessage{TenantID: "tenant_1"})
	if !core.IsTenantNotFound(err) {
		t.Fatalf("expected reader error to pass through, got %v", err)
	}
}

func TestListPendingTasksQuery_ReturnsBacklog(t *testing.T) {
	reader := &stubBacklogReader{tasks: []core.Task{
		{ID: "task_1", Name: core.TaskSyncRequested, RunAt: time.Now().UTC()},
	}}
	tasks, err := NewListPendingTasksQuery(reader).Query(context.Background(), ListPendingTasksMessage{TenantID: "tenant_1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Name != core.TaskSyncRequested {
		t.Fatalf("unexpected backlog %#v", tasks)
	}
}

func TestListConnectorsQuery_ReturnsRegisteredIDs(t *testing.T) {
	lister := stubConnectorLister{connectors: []core.VendorConnector{
		stubConnector{id: "acme-dir"},
		stubConnector{id: "globex-dir"},
	}}
	ids, err := NewListConnectorsQuery(lister).Query(context.Background(), ListConnectorsMessage{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(ids) != 2 || ids[0] != "acme-dir" || ids[1] != "globex-dir" {
		t.Fatalf("unexpected connector ids %#v", ids)
	}
}

func TestListConnectorsQuery_AcceptsEngineRegistry(t *testing.T) {
	registry := core.NewConnectorRegistry()
	if err := registry.Register(stubConnector{id: "acme-dir"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	ids, err := NewListConnectorsQuery(registry).Query(context.Background(), ListConnectorsMessage{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(ids) != 1 || ids[0] != "acme-dir" {
		t.Fatalf("unexpected ids %#v", ids)
	}
}
