// Package redis stores sessions, refresh tokens and signing keys in Redis.
// Refresh token rotation runs as a Lua script so that two concurrent
// exchanges of one token can never both succeed.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aussiebroadwan/stsession/internal/authority/store"
)

// DefaultPrefix namespaces every key the store writes.
const DefaultPrefix = "st:"

// maxTxRetries bounds optimistic WATCH retries on a hot key.
const maxTxRetries = 10

type Store struct {
	rdb    *redis.Client
	prefix string
}

var _ store.Store = (*Store)(nil)

// NewStore connects to the server named by a redis:// URL.
func NewStore(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid url: %w", err)
	}
	return NewStoreWithClient(redis.NewClient(opts), DefaultPrefix), nil
}

// NewStoreWithClient wraps an existing client. The store owns it from now on.
func NewStoreWithClient(rdb *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) Sessions() store.Sessions           { return &sessionsRepo{s: s} }
func (s *Store) RefreshTokens() store.RefreshTokens { return &refreshTokensRepo{s: s} }
func (s *Store) SigningKeys() store.SigningKeys     { return &signingKeysRepo{s: s} }

// ApplyMigrations is a no-op; Redis has no schema.
func (s *Store) ApplyMigrations() error { return nil }

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *Store) sessionKey(handle string) string       { return s.prefix + "session:" + handle }
func (s *Store) sessionTokensKey(handle string) string { return s.prefix + "session:" + handle + ":rt" }
func (s *Store) userKey(tenantID, userID string) string {
	return s.prefix + "user:" + tenantID + ":" + userID
}
func (s *Store) sessionExpiryKey() string    { return s.prefix + "sessions:expiry" }
func (s *Store) tokenKey(hash string) string { return s.prefix + "rt:" + hash }
func (s *Store) tokenExpiryKey() string      { return s.prefix + "rt:expiry" }
func (s *Store) signingKeysKey() string      { return s.prefix + "signing_keys" }

// watchUpdate runs fn under WATCH on key and retries when another client
// changed it in between.
func (s *Store) watchUpdate(ctx context.Context, fn func(tx *redis.Tx) error, key string) error {
	for range maxTxRetries {
		err := s.rdb.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("redis: too much contention on %s", key)
}

func mapNotFound(err error) error {
	if errors.Is(err, redis.Nil) {
		return store.ErrNotFound
	}
	return err
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func optionalMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func optionalTime(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := fromMillis(*ms)
	return &t
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
