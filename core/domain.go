package core

import (
	"fmt"
	"strings"
	"time"
)

// TenantStatus tracks the health of a tenant installation.
type TenantStatus string

const (
	TenantStatusActive        TenantStatus = "active"
	TenantStatusPendingReauth TenantStatus = "pending_reauth"
	TenantStatusErrored       TenantStatus = "errored"
	TenantStatusUninstalled   TenantStatus = "uninstalled"
)

var allowedTenantTransitions = map[TenantStatus]map[TenantStatus]bool{
	TenantStatusActive: {
		TenantStatusPendingReauth: true,
		TenantStatusErrored:       true,
		TenantStatusUninstalled:   true,
	},
	TenantStatusPendingReauth: {
		TenantStatusActive:      true,
		TenantStatusErrored:     true,
		TenantStatusUninstalled: true,
	},
	TenantStatusErrored: {
		TenantStatusActive:        true,
		TenantStatusPendingReauth: true,
		TenantStatusUninstalled:   true,
	},
	TenantStatusUninstalled: {
		TenantStatusActive: true,
	},
}

func (s TenantStatus) IsValid() bool {
	switch s {
	case TenantStatusActive, TenantStatusPendingReauth, TenantStatusErrored, TenantStatusUninstalled:
		return true
	default:
		return false
	}
}

func (s TenantStatus) CanTransitionTo(next TenantStatus) bool {
	if s == next {
		return true
	}
	allowed, ok := allowedTenantTransitions[s]
	if !ok {
		return false
	}
	return allowed[next]
}

// Tenant is one customer installation of a connector. It is the unit of
// isolation for both the refresh loop and the sync loop. Secret fields hold
// ciphertext produced by the configured SecretProvider.
type Tenant struct {
	ID            string
	ConnectorID   string
	Region        string
	AccessSecret  []byte
	RefreshSecret []byte
	SecretVersion int
	Status        TenantStatus
	StatusReason  string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (t *Tenant) TransitionTo(status TenantStatus, now time.Time) error {
	if t == nil {
		return fmt.Errorf("core: tenant is nil")
	}
	if !status.IsValid() {
		return fmt.Errorf("core: invalid tenant status %q", status)
	}
	if !t.Status.CanTransitionTo(status) {
		return fmt.Errorf("core: invalid tenant transition %q -> %q", t.Status, status)
	}
	t.Status = status
	t.UpdatedAt = now.UTC()
	return nil
}

// ConnectionErrorKind is the closed set of connection-health classifications.
// Derived from errors, never stored.
type ConnectionErrorKind string

const (
	ErrorKindUnauthorized ConnectionErrorKind = "unauthorized"
	ErrorKindNotAdmin     ConnectionErrorKind = "not_admin"
	ErrorKindRateLimited  ConnectionErrorKind = "rate_limited"
)

// DirectoryRecord is the normalized user representation pushed to the
// directory sink. Produced per page and not retained by the engine.
type DirectoryRecord struct {
	ID          string
	DisplayName string
	Email       string
	ExtraEmails []string
	Role        string
	Suspendable bool
	ProfileURL  string
}

// InvalidRecord is a vendor record that failed the connector's schema
// validation. Logged once per page, never fatal.
type InvalidRecord struct {
	Raw    any
	Reason string
}

// Page is one slice of the upstream listing. NextCursor empty means the
// listing is exhausted; adapters normalize vendor sentinels with
// NormalizeCursor before returning.
type Page struct {
	Records    []DirectoryRecord
	Invalid    []InvalidRecord
	NextCursor string
}

// RefreshedSecrets is the outcome of a successful token refresh.
type RefreshedSecrets struct {
	AccessSecret     string
	RefreshSecret    string
	ExpiresInSeconds int64
}

// TokenPair is the plaintext secret pair held by a tenant.
type TokenPair struct {
	AccessSecret  string
	RefreshSecret string
}

// Task names for the durable step protocol.
const (
	TaskSyncRequested         = "dirsync.sync.requested"
	TaskTokenRefreshRequested = "dirsync.token.refresh.requested"
	TaskTenantInstalled       = "dirsync.tenant.installed"
	TaskTenantUninstalled     = "dirsync.tenant.uninstalled"
)

// Payload keys shared by the durable step protocol. Times are RFC3339 UTC.
const (
	PayloadKeyTenantID      = "tenant_id"
	PayloadKeySyncStartedAt = "sync_started_at"
	PayloadKeyIsFirstSync   = "is_first_sync"
	PayloadKeyCursor        = "cursor"
	PayloadKeyExpiresAt     = "expires_at"
	PayloadKeyRefreshAt     = "refresh_at"
)

// MetadataKeyTaskAttempts carries the delivery attempt count on claimed tasks.
const MetadataKeyTaskAttempts = "dirsync.task.attempts"

// Task status values for durable tasks.
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusDelivered  = "delivered"
	TaskStatusFailed     = "failed"
	TaskStatusCancelled  = "cancelled"
)

// Task is one durable step. All resume state lives in the payload; a
// suspended task holds no lock or in-memory resource.
type Task struct {
	ID        string
	Name      string
	TenantID  string
	DedupKey  string
	Payload   map[string]any
	Metadata  map[string]any
	Status    string
	Attempts  int
	RunAt     time.Time
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskDedupKey builds the pending-task dedup key enforcing at most one
// pending step per loop per tenant.
func TaskDedupKey(name, tenantID string) string {
	return strings.TrimSpace(name) + "::" + strings.TrimSpace(tenantID)
}

// NormalizeCursor collapses the "no next page" sentinels vendors use (null,
// empty, whitespace) into the canonical empty string.
func NormalizeCursor(cursor string) string {
	return strings.TrimSpace(cursor)
}

func copyAnyMap(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}

// CloneTenant returns a deep copy safe to hand to callers.
func CloneTenant(tenant Tenant) Tenant {
	cloned := tenant
	cloned.AccessSecret = append([]byte(nil), tenant.AccessSecret...)
	cloned.RefreshSecret = append([]byte(nil), tenant.RefreshSecret...)
	return cloned
}

// CloneTask returns a deep copy safe to hand to handlers.
func CloneTask(task Task) Task {
	cloned := task
	cloned.Payload = copyAnyMap(task.Payload)
	cloned.Metadata = copyAnyMap(task.Metadata)
	return cloned
}
