package query

import (
	"context"

	"github.com/goliatone/go-dirsync/core"
)

// TenantReader is the read-side surface for tenant rows. The engine
// satisfies it; secrets come back encrypted.
type TenantReader interface {
	GetTenant(ctx context.Context, tenantID string) (core.Tenant, error)
}

// TaskBacklogReader exposes the pending durable steps of one tenant, for
// operator tooling. The SQL task store satisfies it.
type TaskBacklogReader interface {
	PendingForTenant(ctx context.Context, tenantID string) ([]core.Task, error)
}

// ConnectorLister enumerates the registered vendor connectors. The engine
// registry satisfies it.
type ConnectorLister interface {
	List() []core.VendorConnector
}

type GetTenantQuery struct {
	reader TenantReader
}

func NewGetTenantQuery(reader TenantReader) *GetTenantQuery {
	return &GetTenantQuery{reader: reader}
}

func (q *GetTenantQuery) Query(ctx context.Context, msg GetTenantMessage) (core.Tenant, error) {
	if q == nil || q.reader == nil {
		return core.Tenant{}, queryDependencyError("query: tenant reader is required")
	}
	if err := msg.Validate(); err != nil {
		return core.Tenant{}, err
	}
	return q.reader.GetTenant(ctx, msg.TenantID)
}

type ListPendingTasksQuery struct {
	reader TaskBacklogReader
}

func NewListPendingTasksQuery(reader TaskBacklogReader) *ListPendingTasksQuery {
	return &ListPendingTasksQuery{reader: reader}
}

func (q *ListPendingTasksQuery) Query(ctx context.Context, msg ListPendingTasksMessage) ([]core.Task, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: task backlog reader is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return q.reader.PendingForTenant(ctx, msg.TenantID)
}

type ListConnectorsQuery struct {
	lister ConnectorLister
}

func NewListConnectorsQuery(lister ConnectorLister) *ListConnectorsQuery {
	return &ListConnectorsQuery{lister: lister}
}

func (q *ListConnectorsQuery) Query(_ context.Context, msg ListConnectorsMessage) ([]string, error) {
	if q == nil || q.lister == nil {
		return nil, queryDependencyError("query: connector lister is required")
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	connectors := q.lister.List()
	ids := make([]string, 0, len(connectors))
	for _, connector := range connectors {
		if connector == nil {
			continue
		}
		ids = append(ids, connector.ID())
	}
	return ids, nil
}
