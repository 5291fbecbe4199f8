package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-dirsync/core"
)

var (
	_ gocmd.Querier[GetTenantMessage, core.Tenant]        = (*GetTenantQuery)(nil)
	_ gocmd.Querier[ListPendingTasksMessage, []core.Task] = (*ListPendingTasksQuery)(nil)
	_ gocmd.Querier[ListConnectorsMessage, []string]      = (*ListConnectorsQuery)(nil)
)
