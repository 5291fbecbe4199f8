package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-dirsync/core"
	"github.com/goliatone/go-dirsync/ratelimit"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type RateLimitStateStore struct {
	db   *bun.DB
	repo repository.Repository[*rateLimitStateRecord]
}

func NewRateLimitStateStore(db *bun.DB) (*RateLimitStateStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*rateLimitStateRecord](db, rateLimitStateHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid rate-limit state repository wiring: %w", err)
		}
	}
	return &RateLimitStateStore{db: db, repo: repo}, nil
}

func (s *RateLimitStateStore) Get(ctx context.Context, key core.RateLimitKey) (ratelimit.State, error) {
	if s == nil || s.db == nil {
		return ratelimit.State{}, fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	key = normalizeRateLimitKey(key)
	if err := validateRateLimitKey(key); err != nil {
		return ratelimit.State{}, err
	}

	record := &rateLimitStateRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.connector_id = ?", key.ConnectorID).
		Where("?TableAlias.tenant_id = ?", key.TenantID).
		Where("?TableAlias.bucket_key = ?", key.BucketKey).
		OrderExpr("?TableAlias.updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return ratelimit.State{}, ratelimit.ErrStateNotFound
		}
		return ratelimit.State{}, err
	}
	return rateLimitRecordToState(record), nil
}

func (s *RateLimitStateStore) Upsert(ctx context.Context, key core.RateLimitKey, state ratelimit.State) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: rate-limit state store is not configured")
	}
	key = normalizeRateLimitKey(key)
	if err := validateRateLimitKey(key); err != nil {
		return err
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findRateLimitStateTx(ctx, tx, key)
		if err != nil {
			return err
		}
		created := false
		if record == nil {
			created = true
			record = &rateLimitStateRecord{
				ID:          uuid.NewString(),
				ConnectorID: key.ConnectorID,
				TenantID:    key.TenantID,
				BucketKey:   key.BucketKey,
				CreatedAt:   state.UpdatedAt.UTC(),
			}
		}
		record.Limit = state.Limit
		record.Remaining = state.Remaining
		record.ResetAt = timePointer(state.ResetAt)
		record.ThrottledUntil = timePointer(state.ThrottledUntil)
		record.UpdatedAt = state.UpdatedAt.UTC()

		if created {
			_, insertErr := tx.NewInsert().Model(record).Exec(ctx)
			return insertErr
		}
		_, updateErr := tx.NewUpdate().
			Model(record).
			Where("id = ?", record.ID).
			Exec(ctx)
		return updateErr
	})
}

func rateLimitRecordToState(record *rateLimitStateRecord) ratelimit.State {
	if record == nil {
		return ratelimit.State{}
	}
	state := ratelimit.State{
		Limit:     record.Limit,
		Remaining: record.Remaining,
		UpdatedAt: record.UpdatedAt,
	}
	if record.ResetAt != nil {
		state.ResetAt = record.ResetAt.UTC()
	}
	if record.ThrottledUntil != nil {
		state.ThrottledUntil = record.ThrottledUntil.UTC()
	}
	return state
}

func findRateLimitStateTx(
	ctx context.Context,
	tx bun.Tx,
	key core.RateLimitKey,
) (*rateLimitStateRecord, error) {
	record := &rateLimitStateRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.connector_id = ?", key.ConnectorID).
		Where("?TableAlias.tenant_id = ?", key.TenantID).
		Where("?TableAlias.bucket_key = ?", key.BucketKey).
		OrderExpr("?TableAlias.updated_at DESC").
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

func normalizeRateLimitKey(key core.RateLimitKey) core.RateLimitKey {
	return core.RateLimitKey{
		ConnectorID: strings.TrimSpace(strings.ToLower(key.ConnectorID)),
		TenantID:    strings.TrimSpace(strings.ToLower(key.TenantID)),
		BucketKey:   strings.TrimSpace(strings.ToLower(key.BucketKey)),
	}
}

func validateRateLimitKey(key core.RateLimitKey) error {
	if strings.TrimSpace(key.ConnectorID) == "" {
		return fmt.Errorf("sqlstore: rate-limit connector id is required")
	}
	if strings.TrimSpace(key.TenantID) == "" {
		return fmt.Errorf("sqlstore: rate-limit tenant id is required")
	}
	if strings.TrimSpace(key.BucketKey) == "" {
		return fmt.Errorf("sqlstore: rate-limit bucket key is required")
	}
	return nil
}

func timePointer(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

var _ ratelimit.StateStore = (*RateLimitStateStore)(nil)
