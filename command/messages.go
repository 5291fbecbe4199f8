package command

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dirsync/core"
)

const (
	TypeInstallTenant   = "dirsync.command.tenant.install"
	TypeUninstallTenant = "dirsync.command.tenant.uninstall"
	TypeRequestSync     = "dirsync.command.sync.request"
	TypeRefreshToken    = "dirsync.command.token.refresh"
)

type InstallTenantMessage struct {
	Input core.InstallTenantInput
}

func (InstallTenantMessage) Type() string { return TypeInstallTenant }

func (m InstallTenantMessage) Validate() error {
	if err := m.Input.Validate(); err != nil {
		return commandWrapValidation(err, "command: install input is invalid")
	}
	return nil
}

type UninstallTenantMessage struct {
	TenantID string
}

func (UninstallTenantMessage) Type() string { return TypeUninstallTenant }

func (m UninstallTenantMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("command: tenant id is required")
	}
	return nil
}

type RequestSyncMessage struct {
	Input core.RequestSyncInput
}

func (RequestSyncMessage) Type() string { return TypeRequestSync }

func (m RequestSyncMessage) Validate() error {
	if strings.TrimSpace(m.Input.TenantID) == "" {
		return fmt.Errorf("command: tenant id is required")
	}
	return nil
}

type RefreshTokenMessage struct {
	TenantID  string
	ExpiresAt string
}

func (RefreshTokenMessage) Type() string { return TypeRefreshToken }

func (m RefreshTokenMessage) Validate() error {
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("command: tenant id is required")
	}
	if strings.TrimSpace(m.ExpiresAt) == "" {
		return fmt.Errorf("command: expires at is required")
	}
	if _, err := parseMessageTime(m.ExpiresAt); err != nil {
		return commandWrapValidation(err, "command: expires at is invalid")
	}
	return nil
}

// parseMessageTime parses the RFC3339 timestamps carried by queue-borne
// command messages.
func parseMessageTime(value string) (time.Time, error) {
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("command: timestamp is not RFC3339: %w", err)
	}
	return parsed.UTC(), nil
}
