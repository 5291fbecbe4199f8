package query

import "strings"

const (
	TypeGetTenant        = "dirsync.query.tenant.get"
	TypeListPendingTasks = "dirsync.query.tasks.pending.list"
	TypeListConnectors   = "dirsync.query.connectors.list"
)

type GetTenantMessage struct {
	TenantID string
}

func (GetTenantMessage) Type() string { return TypeGetTenant }

func (m GetTenantMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return queryValidationError("tenant_id", "tenant id is required")
	}
	return nil
}

type ListPendingTasksMessage struct {
	TenantID string
}

func (ListPendingTasksMessage) Type() string { return TypeListPendingTasks }

func (m ListPendingTasksMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return queryValidationError("tenant_id", "tenant id is required")
	}
	return nil
}

type ListConnectorsMessage struct{}

func (ListConnectorsMessage) Type() string { return TypeListConnectors }

func (ListConnectorsMessage) Validate() error { return nil }
