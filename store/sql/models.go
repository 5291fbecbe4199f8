package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-dirsync/core"
	"github.com/uptrace/bun"
)

type tenantRecord struct {
	bun.BaseModel `bun:"table:dirsync_tenants,alias:dt"`

	ID            string    `bun:"id,pk"`
	ConnectorID   string    `bun:"connector_id,notnull"`
	Region        string    `bun:"region"`
	AccessSecret  []byte    `bun:"access_secret_enc,notnull"`
	RefreshSecret []byte    `bun:"refresh_secret_enc,notnull"`
	SecretVersion int       `bun:"secret_version,notnull"`
	Status        string    `bun:"status,notnull"`
	StatusReason  string    `bun:"status_reason"`
	ExpiresAt     time.Time `bun:"expires_at,nullzero"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type taskRecord struct {
	bun.BaseModel `bun:"table:dirsync_tasks,alias:dk"`

	ID        string         `bun:"id,pk"`
	Name      string         `bun:"name,notnull"`
	TenantID  string         `bun:"tenant_id,notnull"`
	DedupKey  string         `bun:"dedup_key,notnull"`
	Payload   map[string]any `bun:"payload,type:jsonb,notnull"`
	Metadata  map[string]any `bun:"metadata,type:jsonb,notnull"`
	Status    string         `bun:"status,notnull"`
	Attempts  int            `bun:"attempts,notnull"`
	RunAt     time.Time      `bun:"run_at,nullzero,notnull"`
	LastError string         `bun:"last_error"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type rateLimitStateRecord struct {
	bun.BaseModel `bun:"table:dirsync_rate_limit_states,alias:drl"`

	ID             string     `bun:"id,pk"`
	ConnectorID    string     `bun:"connector_id,notnull"`
	TenantID       string     `bun:"tenant_id,notnull"`
	BucketKey      string     `bun:"bucket_key,notnull"`
	Limit          int        `bun:"limit_total"`
	Remaining      int        `bun:"remaining"`
	ResetAt        *time.Time `bun:"reset_at,nullzero"`
	ThrottledUntil *time.Time `bun:"throttled_until,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *tenantRecord) toDomain() core.Tenant {
	if r == nil {
		return core.Tenant{}
	}
	return core.Tenant{
		ID:            strings.TrimSpace(r.ID),
		ConnectorID:   strings.TrimSpace(r.ConnectorID),
		Region:        strings.TrimSpace(r.Region),
		AccessSecret:  append([]byte(nil), r.AccessSecret...),
		RefreshSecret: append([]byte(nil), r.RefreshSecret...),
		SecretVersion: r.SecretVersion,
		Status:        core.TenantStatus(r.Status),
		StatusReason:  r.StatusReason,
		ExpiresAt:     r.ExpiresAt,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func tenantRecordFromDomain(tenant core.Tenant) *tenantRecord {
	return &tenantRecord{
		ID:            strings.TrimSpace(tenant.ID),
		ConnectorID:   strings.TrimSpace(tenant.ConnectorID),
		Region:        strings.TrimSpace(tenant.Region),
		AccessSecret:  append([]byte(nil), tenant.AccessSecret...),
		RefreshSecret: append([]byte(nil), tenant.RefreshSecret...),
		SecretVersion: tenant.SecretVersion,
		Status:        string(tenant.Status),
		StatusReason:  tenant.StatusReason,
		ExpiresAt:     tenant.ExpiresAt,
		CreatedAt:     tenant.CreatedAt,
		UpdatedAt:     tenant.UpdatedAt,
	}
}

func (r *taskRecord) toDomain() core.Task {
	if r == nil {
		return core.Task{}
	}
	return core.Task{
		ID:        strings.TrimSpace(r.ID),
		Name:      strings.TrimSpace(r.Name),
		TenantID:  strings.TrimSpace(r.TenantID),
		DedupKey:  strings.TrimSpace(r.DedupKey),
		Payload:   copyAnyMap(r.Payload),
		Metadata:  copyAnyMap(r.Metadata),
		Status:    strings.TrimSpace(r.Status),
		Attempts:  r.Attempts,
		RunAt:     r.RunAt,
		LastError: r.LastError,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
