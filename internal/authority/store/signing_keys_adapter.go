package store

import (
	"context"
	"time"

	"github.com/aussiebroadwan/stsession/internal/authority/domain"
	"github.com/aussiebroadwan/stsession/pkg/jwtx"
)

// KeyStoreAdapter adapts Store to jwtx.KeyStore so the jwtx package never
// has to import the domain package.
type KeyStoreAdapter struct {
	store Store
}

var _ jwtx.KeyStore = (*KeyStoreAdapter)(nil)

func NewKeyStoreAdapter(store Store) *KeyStoreAdapter {
	return &KeyStoreAdapter{store: store}
}

func (a *KeyStoreAdapter) ListSigningKeys(ctx context.Context) ([]jwtx.SigningKeyRecord, error) {
	keys, err := a.store.SigningKeys().ListSigningKeys(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]jwtx.SigningKeyRecord, len(keys))
	for i, key := range keys {
		records[i] = jwtx.SigningKeyRecord{
			ID:                  key.ID,
			Kid:                 key.Kid,
			Algorithm:           key.Algorithm,
			PrivateKeyEncrypted: key.PrivateKeyEncrypted,
			CreatedAt:           key.CreatedAt,
			RetiredAt:           key.RetiredAt,
			ExpiresAt:           key.ExpiresAt,
		}
	}
	return records, nil
}

func (a *KeyStoreAdapter) CreateSigningKey(ctx context.Context, record jwtx.SigningKeyRecord) error {
	return a.store.SigningKeys().CreateSigningKey(ctx, domain.SigningKey{
		ID:                  record.ID,
		Kid:                 record.Kid,
		Algorithm:           record.Algorithm,
		PrivateKeyEncrypted: record.PrivateKeyEncrypted,
		CreatedAt:           record.CreatedAt,
		RetiredAt:           record.RetiredAt,
		ExpiresAt:           record.ExpiresAt,
	})
}

func (a *KeyStoreAdapter) RetireSigningKey(ctx context.Context, kid string, retiredAt, expiresAt time.Time) error {
	return a.store.SigningKeys().RetireSigningKey(ctx, kid, retiredAt, expiresAt)
}
