package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dirsync/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type TenantStore struct {
	db   *bun.DB
	repo repository.Repository[*tenantRecord]
}

func NewTenantStore(db *bun.DB) (*TenantStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*tenantRecord](db, tenantHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid tenant repository wiring: %w", err)
		}
	}
	return &TenantStore{db: db, repo: repo}, nil
}

func (s *TenantStore) Get(ctx context.Context, tenantID string) (core.Tenant, error) {
	if s == nil || s.db == nil {
		return core.Tenant{}, fmt.Errorf("sqlstore: tenant store is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return core.Tenant{}, fmt.Errorf("sqlstore: tenant id is required")
	}
	record := &tenantRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", tenantID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Tenant{}, core.NewTenantNotFoundError(tenantID)
		}
		return core.Tenant{}, err
	}
	return record.toDomain(), nil
}

// Create inserts a tenant row, replacing an existing row with the same id.
// A reinstall carries fresh secret material, so the previous row's secrets
// and status are overwritten wholesale; only created_at survives.
func (s *TenantStore) Create(ctx context.Context, tenant core.Tenant) (core.Tenant, error) {
	if s == nil || s.db == nil || s.repo == nil {
		return core.Tenant{}, fmt.Errorf("sqlstore: tenant store is not configured")
	}
	tenantID := strings.TrimSpace(tenant.ID)
	if tenantID == "" {
		return core.Tenant{}, fmt.Errorf("sqlstore: tenant id is required")
	}
	now := time.Now().UTC()
	if tenant.CreatedAt.IsZero() {
		tenant.CreatedAt = now
	}
	if tenant.UpdatedAt.IsZero() {
		tenant.UpdatedAt = now
	}

	var created core.Tenant
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, findErr := findTenantTx(ctx, tx, tenantID)
		if findErr != nil {
			return findErr
		}
		record := tenantRecordFromDomain(tenant)
		if existing != nil {
			record.CreatedAt = existing.CreatedAt
			record.UpdatedAt = now
			if _, updateErr := tx.NewUpdate().
				Model(record).
				Where("id = ?", tenantID).
				Exec(ctx); updateErr != nil {
				return updateErr
			}
			created = record.toDomain()
			return nil
		}
		if _, createErr := s.repo.CreateTx(ctx, tx, record); createErr != nil {
			return createErr
		}
		// CreateTx stamps its own timestamps into the row; re-read so the
		// returned tenant matches persisted state.
		stored, findErr := findTenantTx(ctx, tx, tenantID)
		if findErr != nil {
			return findErr
		}
		if stored == nil {
			return fmt.Errorf("sqlstore: tenant %s missing after insert", tenantID)
		}
		created = stored.toDomain()
		return nil
	})
	if err != nil {
		return core.Tenant{}, err
	}
	return created, nil
}

// RotateSecrets swaps both encrypted columns, bumps the secret version and
// moves the expiry forward in one transaction.
func (s *TenantStore) RotateSecrets(ctx context.Context, input core.RotateSecretsInput) (core.Tenant, error) {
	if s == nil || s.db == nil {
		return core.Tenant{}, fmt.Errorf("sqlstore: tenant store is not configured")
	}
	tenantID := strings.TrimSpace(input.TenantID)
	if tenantID == "" {
		return core.Tenant{}, fmt.Errorf("sqlstore: tenant id is required")
	}
	if len(input.AccessSecret) == 0 {
		return core.Tenant{}, fmt.Errorf("sqlstore: access secret is required")
	}
	now := time.Now().UTC()

	var rotated core.Tenant
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, findErr := findTenantTx(ctx, tx, tenantID)
		if findErr != nil {
			return findErr
		}
		if record == nil {
			return core.NewTenantNotFoundError(tenantID)
		}
		record.AccessSecret = append([]byte(nil), input.AccessSecret...)
		if len(input.RefreshSecret) > 0 {
			record.RefreshSecret = append([]byte(nil), input.RefreshSecret...)
		}
		record.SecretVersion++
		if !input.ExpiresAt.IsZero() {
			record.ExpiresAt = input.ExpiresAt.UTC()
		}
		record.UpdatedAt = now
		if _, updateErr := tx.NewUpdate().
			Model(record).
			Where("id = ?", tenantID).
			Exec(ctx); updateErr != nil {
			return updateErr
		}
		rotated = record.toDomain()
		return nil
	})
	if err != nil {
		return core.Tenant{}, err
	}
	return rotated, nil
}

// UpdateStatus applies a tenant status transition, rejecting moves the
// lifecycle state machine does not allow.
func (s *TenantStore) UpdateStatus(ctx context.Context, tenantID string, status core.TenantStatus, reason string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: tenant store is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return fmt.Errorf("sqlstore: tenant id is required")
	}
	if !status.IsValid() {
		return fmt.Errorf("sqlstore: unknown tenant status %q", status)
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, findErr := findTenantTx(ctx, tx, tenantID)
		if findErr != nil {
			return findErr
		}
		if record == nil {
			return core.NewTenantNotFoundError(tenantID)
		}
		current := core.TenantStatus(record.Status)
		if current == status {
			return nil
		}
		if !current.CanTransitionTo(status) {
			return fmt.Errorf("sqlstore: tenant %q cannot move from %q to %q", tenantID, current, status)
		}
		_, updateErr := tx.NewUpdate().
			Model((*tenantRecord)(nil)).
			Set("status = ?", string(status)).
			Set("status_reason = ?", strings.TrimSpace(reason)).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", tenantID).
			Exec(ctx)
		return updateErr
	})
}

func (s *TenantStore) Delete(ctx context.Context, tenantID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: tenant store is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return fmt.Errorf("sqlstore: tenant id is required")
	}
	result, err := s.db.NewDelete().
		Model((*tenantRecord)(nil)).
		Where("id = ?", tenantID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, affErr := result.RowsAffected(); affErr == nil && affected == 0 {
		return core.NewTenantNotFoundError(tenantID)
	}
	return nil
}

func findTenantTx(ctx context.Context, tx bun.Tx, tenantID string) (*tenantRecord, error) {
	record := &tenantRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", tenantID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

var _ core.TenantStore = (*TenantStore)(nil)
