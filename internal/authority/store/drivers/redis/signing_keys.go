package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aussiebroadwan/stsession/internal/authority/domain"
	"github.com/aussiebroadwan/stsession/internal/authority/store"
)

// Signing keys live in a single hash keyed by kid. There are only ever a
// handful of them.
type signingKeysRepo struct {
	s *Store
}

type keyRecord struct {
	ID         string `json:"id"`
	Kid        string `json:"kid"`
	Algorithm  string `json:"alg"`
	PrivateKey []byte `json:"key"`
	CreatedAt  int64  `json:"created"`
	RetiredAt  *int64 `json:"retired,omitempty"`
	ExpiresAt  *int64 `json:"expires,omitempty"`
}

func toKeyRecord(k domain.SigningKey) keyRecord {
	return keyRecord{
		ID:         k.ID,
		Kid:        k.Kid,
		Algorithm:  k.Algorithm,
		PrivateKey: k.PrivateKeyEncrypted,
		CreatedAt:  toMillis(k.CreatedAt),
		RetiredAt:  optionalMillis(k.RetiredAt),
		ExpiresAt:  optionalMillis(k.ExpiresAt),
	}
}

func (r keyRecord) domain() domain.SigningKey {
	return domain.SigningKey{
		ID:                  r.ID,
		Kid:                 r.Kid,
		Algorithm:           r.Algorithm,
		PrivateKeyEncrypted: r.PrivateKey,
		CreatedAt:           fromMillis(r.CreatedAt),
		RetiredAt:           optionalTime(r.RetiredAt),
		ExpiresAt:           optionalTime(r.ExpiresAt),
	}
}

func decodeKey(raw string) (keyRecord, error) {
	var rec keyRecord
	err := json.Unmarshal([]byte(raw), &rec)
	return rec, err
}

func (r *signingKeysRepo) CreateSigningKey(ctx context.Context, key domain.SigningKey) error {
	body, err := marshal(toKeyRecord(key))
	if err != nil {
		return err
	}
	created, err := r.s.rdb.HSetNX(ctx, r.s.signingKeysKey(), key.Kid, body).Result()
	if err != nil {
		return err
	}
	if !created {
		return store.ErrAlreadyExists
	}
	return nil
}

func (r *signingKeysRepo) GetSigningKeyByKid(ctx context.Context, kid string) (domain.SigningKey, error) {
	raw, err := r.s.rdb.HGet(ctx, r.s.signingKeysKey(), kid).Result()
	if err != nil {
		return domain.SigningKey{}, mapNotFound(err)
	}
	rec, err := decodeKey(raw)
	if err != nil {
		return domain.SigningKey{}, err
	}
	return rec.domain(), nil
}

func (r *signingKeysRepo) ListSigningKeys(ctx context.Context) ([]domain.SigningKey, error) {
	all, err := r.s.rdb.HGetAll(ctx, r.s.signingKeysKey()).Result()
	if err != nil {
		return nil, err
	}

	keys := make([]domain.SigningKey, 0, len(all))
	for _, raw := range all {
		rec, err := decodeKey(raw)
		if err != nil {
			return nil, err
		}
		keys = append(keys, rec.domain())
	}
	slices.SortFunc(keys, func(a, b domain.SigningKey) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	return keys, nil
}

func (r *signingKeysRepo) RetireSigningKey(ctx context.Context, kid string, retiredAt, expiresAt time.Time) error {
	key := r.s.signingKeysKey()

	return r.s.watchUpdate(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, kid).Result()
		if err != nil {
			return mapNotFound(err)
		}
		rec, err := decodeKey(raw)
		if err != nil {
			return err
		}
		if rec.RetiredAt != nil {
			return store.ErrNotFound
		}
		rec.RetiredAt = optionalMillis(&retiredAt)
		rec.ExpiresAt = optionalMillis(&expiresAt)

		body, err := marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, kid, body)
			return nil
		})
		return err
	}, key)
}

func (r *signingKeysRepo) DeleteExpiredSigningKeys(ctx context.Context, now time.Time) error {
	keys, err := r.ListSigningKeys(ctx)
	if err != nil {
		return err
	}

	var expired []string
	for _, k := range keys {
		if k.IsExpired(now) {
			expired = append(expired, k.Kid)
		}
	}
	if len(expired) == 0 {
		return nil
	}
	return r.s.rdb.HDel(ctx, r.s.signingKeysKey(), expired...).Err()
}
