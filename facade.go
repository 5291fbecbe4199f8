package dirsync

import (
	"fmt"

	"github.com/goliatone/go-dirsync/command"
	"github.com/goliatone/go-dirsync/query"
)

// MutatingService is the lifecycle surface the command layer drives. The
// Engine satisfies it.
type MutatingService = command.MutatingService

// Commands bundles the pre-wired lifecycle command handlers.
type Commands struct {
	InstallTenant   *command.InstallTenantCommand
	UninstallTenant *command.UninstallTenantCommand
	RequestSync     *command.RequestSyncCommand
	RefreshToken    *command.RefreshTokenCommand
}

// Queries bundles the pre-wired read-side handlers.
type Queries struct {
	GetTenant        *query.GetTenantQuery
	ListPendingTasks *query.ListPendingTasksQuery
	ListConnectors   *query.ListConnectorsQuery
}

// Facade wires the lifecycle commands and queries around one service so
// composition layers can register them on a dispatcher without touching the
// command or query packages directly.
type Facade struct {
	service  MutatingService
	commands Commands
	queries  Queries
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	tenantReader  query.TenantReader
	backlogReader query.TaskBacklogReader
	lister        query.ConnectorLister
}

func WithTenantReader(reader query.TenantReader) FacadeOption {
	return func(options *facadeOptions) {
		options.tenantReader = reader
	}
}

func WithTaskBacklogReader(reader query.TaskBacklogReader) FacadeOption {
	return func(options *facadeOptions) {
		options.backlogReader = reader
	}
}

func WithConnectorLister(lister query.ConnectorLister) FacadeOption {
	return func(options *facadeOptions) {
		options.lister = lister
	}
}

func NewFacade(service MutatingService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("dirsync: mutating service is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}
	if cfg.tenantReader == nil {
		if reader, ok := service.(query.TenantReader); ok {
			cfg.tenantReader = reader
		}
	}
	if cfg.lister == nil {
		cfg.lister = resolveConnectorLister(service)
	}

	return &Facade{
		service: service,
		commands: Commands{
			InstallTenant:   command.NewInstallTenantCommand(service),
			UninstallTenant: command.NewUninstallTenantCommand(service),
			RequestSync:     command.NewRequestSyncCommand(service),
			RefreshToken:    command.NewRefreshTokenCommand(service),
		},
		queries: Queries{
			GetTenant:        query.NewGetTenantQuery(cfg.tenantReader),
			ListPendingTasks: query.NewListPendingTasksQuery(cfg.backlogReader),
			ListConnectors:   query.NewListConnectorsQuery(cfg.lister),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() MutatingService {
	if f == nil {
		return nil
	}
	return f.service
}

func resolveConnectorLister(service MutatingService) query.ConnectorLister {
	if lister, ok := service.(query.ConnectorLister); ok {
		return lister
	}
	provider, ok := service.(interface{ Dependencies() EngineDependencies })
	if !ok {
		return nil
	}
	return provider.Dependencies().Registry
}
