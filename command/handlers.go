package command

import (
	"context"
	"time"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-dirsync/core"
)

type MutatingService interface {
	InstallTenant(ctx context.Context, input core.InstallTenantInput) (core.Tenant, error)
	UninstallTenant(ctx context.Context, tenantID string) error
	RequestSync(ctx context.Context, input core.RequestSyncInput) error
	RequestTokenRefresh(ctx context.Context, tenantID string, expiresAt time.Time) error
}

type InstallTenantCommand struct {
	service MutatingService
}

func NewInstallTenantCommand(service MutatingService) *InstallTenantCommand {
	return &InstallTenantCommand{service: service}
}

func (c *InstallTenantCommand) Execute(ctx context.Context, msg InstallTenantMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: install service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.service.InstallTenant(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UninstallTenantCommand struct {
	service MutatingService
}

func NewUninstallTenantCommand(service MutatingService) *UninstallTenantCommand {
	return &UninstallTenantCommand{service: service}
}

func (c *UninstallTenantCommand) Execute(ctx context.Context, msg UninstallTenantMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: uninstall service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.UninstallTenant(ctx, msg.TenantID)
}

type RequestSyncCommand struct {
	service MutatingService
}

func NewRequestSyncCommand(service MutatingService) *RequestSyncCommand {
	return &RequestSyncCommand{service: service}
}

func (c *RequestSyncCommand) Execute(ctx context.Context, msg RequestSyncMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: sync service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.service.RequestSync(ctx, msg.Input)
}

type RefreshTokenCommand struct {
	service MutatingService
}

func NewRefreshTokenCommand(service MutatingService) *RefreshTokenCommand {
	return &RefreshTokenCommand{service: service}
}

func (c *RefreshTokenCommand) Execute(ctx context.Context, msg RefreshTokenMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	expiresAt, err := parseMessageTime(msg.ExpiresAt)
	if err != nil {
		return commandWrapValidation(err, "command: expires at is invalid")
	}
	return c.service.RequestTokenRefresh(ctx, msg.TenantID, expiresAt)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
