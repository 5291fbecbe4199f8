package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[InstallTenantMessage]   = (*InstallTenantCommand)(nil)
	_ gocmd.Commander[UninstallTenantMessage] = (*UninstallTenantCommand)(nil)
	_ gocmd.Commander[RequestSyncMessage]     = (*RequestSyncCommand)(nil)
	_ gocmd.Commander[RefreshTokenMessage]    = (*RefreshTokenCommand)(nil)
)
