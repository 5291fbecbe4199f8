package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// CredentialService moves token pairs between their plaintext and at-rest
// forms. Each secret column stores Encrypt(codec payload); decode falls back
// to the legacy bare-token payload so pre-codec rows keep working.
type CredentialService struct {
	store    TenantStore
	secrets  SecretProvider
	codec    CredentialCodec
	fallback CredentialCodec
}

func NewCredentialService(store TenantStore, secrets SecretProvider, codec CredentialCodec) (*CredentialService, error) {
	if store == nil {
		return nil, fmt.Errorf("core: tenant store is required")
	}
	if secrets == nil {
		return nil, fmt.Errorf("core: secret provider is required")
	}
	if codec == nil {
		codec = JSONCredentialCodec{}
	}
	return &CredentialService{
		store:    store,
		secrets:  secrets,
		codec:    codec,
		fallback: LegacyTokenCredentialCodec{},
	}, nil
}

// EncryptPair produces the two ciphertext columns for a plaintext pair.
func (s *CredentialService) EncryptPair(ctx context.Context, pair TokenPair) (access []byte, refresh []byte, err error) {
	if s == nil || s.secrets == nil {
		return nil, nil, fmt.Errorf("core: credential service is not configured")
	}
	access, err = s.encryptSecret(ctx, strings.TrimSpace(pair.AccessSecret))
	if err != nil {
		return nil, nil, err
	}
	refresh, err = s.encryptSecret(ctx, strings.TrimSpace(pair.RefreshSecret))
	if err != nil {
		return nil, nil, err
	}
	return access, refresh, nil
}

// DecryptPair recovers the plaintext pair from a tenant row.
func (s *CredentialService) DecryptPair(ctx context.Context, tenant Tenant) (TokenPair, error) {
	if s == nil || s.secrets == nil {
		return TokenPair{}, fmt.Errorf("core: credential service is not configured")
	}
	access, err := s.decryptSecret(ctx, tenant.AccessSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("core: decrypt access secret: %w", err)
	}
	refresh, err := s.decryptSecret(ctx, tenant.RefreshSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("core: decrypt refresh secret: %w", err)
	}
	return TokenPair{AccessSecret: access, RefreshSecret: refresh}, nil
}

// Rotate persists a freshly refreshed pair for the tenant and returns the
// updated row. The store bumps the secret version in the same write.
func (s *CredentialService) Rotate(ctx context.Context, tenantID string, refreshed RefreshedSecrets, now time.Time) (Tenant, error) {
	if s == nil || s.store == nil {
		return Tenant{}, fmt.Errorf("core: credential service is not configured")
	}
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Tenant{}, fmt.Errorf("core: tenant id is required")
	}
	if strings.TrimSpace(refreshed.AccessSecret) == "" {
		return Tenant{}, fmt.Errorf("core: refreshed access secret is required")
	}
	access, refresh, err := s.EncryptPair(ctx, TokenPair{
		AccessSecret:  refreshed.AccessSecret,
		RefreshSecret: refreshed.RefreshSecret,
	})
	if err != nil {
		return Tenant{}, err
	}
	expiresAt := now.UTC().Add(time.Duration(refreshed.ExpiresInSeconds) * time.Second)
	return s.store.RotateSecrets(ctx, RotateSecretsInput{
		TenantID:      tenantID,
		AccessSecret:  access,
		RefreshSecret: refresh,
		ExpiresAt:     expiresAt,
	})
}

func (s *CredentialService) encryptSecret(ctx context.Context, token string) ([]byte, error) {
	if token == "" {
		return nil, nil
	}
	payload, err := s.codec.Encode(TokenPair{AccessSecret: token})
	if err != nil {
		return nil, err
	}
	encrypted, err := s.secrets.Encrypt(ctx, payload)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "core: encrypt secret").
			WithTextCode(EngineErrorInternal)
	}
	return encrypted, nil
}

func (s *CredentialService) decryptSecret(ctx context.Context, ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	payload, err := s.secrets.Decrypt(ctx, ciphertext)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "core: decrypt secret").
			WithTextCode(EngineErrorInternal)
	}
	pair, err := s.codec.Decode(payload)
	if err != nil {
		if s.fallback == nil {
			return "", err
		}
		pair, err = s.fallback.Decode(payload)
		if err != nil {
			return "", err
		}
	}
	if pair.AccessSecret != "" {
		return pair.AccessSecret, nil
	}
	return pair.RefreshSecret, nil
}
