package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aussiebroadwan/stsession/internal/authority/domain"
	"github.com/aussiebroadwan/stsession/internal/authority/store"
)

type refreshTokensRepo struct {
	s *Store
}

// rotateScript marks KEYS[1] rotated and writes its successor to KEYS[2].
//
//	KEYS: old token, new token, session token set, token expiry index
//	ARGV: now, new id, session handle, new expiry, new created, new hash, old hash
//
// Returns 0 when the old token is unknown, 2 when it was already rotated,
// 3 when the new hash is taken and 1 on success.
var rotateScript = redis.NewScript(`
local rotated = redis.call("HGET", KEYS[1], "rotated")
if not rotated then
  return 0
end
if rotated ~= "" then
  return 2
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 3
end
redis.call("HSET", KEYS[1], "rotated", ARGV[1])
redis.call("HSET", KEYS[2], "id", ARGV[2], "session", ARGV[3], "expires", ARGV[4], "created", ARGV[5], "rotated", "", "parent", ARGV[7])
redis.call("SADD", KEYS[3], ARGV[6])
redis.call("ZADD", KEYS[4], ARGV[4], ARGV[6])
return 1
`)

const (
	rotateNotFound = 0
	rotateOK       = 1
	rotateReused   = 2
	rotateConflict = 3
)

func tokenFields(t domain.RefreshToken) map[string]any {
	rotated := ""
	if t.RotatedAt != nil {
		rotated = strconv.FormatInt(toMillis(*t.RotatedAt), 10)
	}
	return map[string]any{
		"id":      t.ID,
		"session": t.SessionHandle,
		"parent":  t.ParentHash,
		"expires": toMillis(t.ExpiresAt),
		"created": toMillis(t.CreatedAt),
		"rotated": rotated,
	}
}

func parseToken(hash string, fields map[string]string) (domain.RefreshToken, error) {
	if len(fields) == 0 {
		return domain.RefreshToken{}, store.ErrNotFound
	}
	expires, err := strconv.ParseInt(fields["expires"], 10, 64)
	if err != nil {
		return domain.RefreshToken{}, err
	}
	created, err := strconv.ParseInt(fields["created"], 10, 64)
	if err != nil {
		return domain.RefreshToken{}, err
	}

	t := domain.RefreshToken{
		ID:            fields["id"],
		SessionHandle: fields["session"],
		TokenHash:     hash,
		ParentHash:    fields["parent"],
		ExpiresAt:     fromMillis(expires),
		CreatedAt:     fromMillis(created),
	}
	if r := fields["rotated"]; r != "" {
		ms, err := strconv.ParseInt(r, 10, 64)
		if err != nil {
			return domain.RefreshToken{}, err
		}
		t.RotatedAt = optionalTime(&ms)
	}
	return t, nil
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	key := r.s.tokenKey(t.TokenHash)

	return r.s.watchUpdate(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return store.ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, tokenFields(t))
			p.SAdd(ctx, r.s.sessionTokensKey(t.SessionHandle), t.TokenHash)
			p.ZAdd(ctx, r.s.tokenExpiryKey(), redis.Z{Score: float64(toMillis(t.ExpiresAt)), Member: t.TokenHash})
			return nil
		})
		return err
	}, key)
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	fields, err := r.s.rdb.HGetAll(ctx, r.s.tokenKey(hash)).Result()
	if err != nil {
		return domain.RefreshToken{}, err
	}
	return parseToken(hash, fields)
}

func (r *refreshTokensRepo) Rotate(ctx context.Context, oldHash string, next domain.RefreshToken, now time.Time) (domain.RefreshToken, error) {
	keys := []string{
		r.s.tokenKey(oldHash),
		r.s.tokenKey(next.TokenHash),
		r.s.sessionTokensKey(next.SessionHandle),
		r.s.tokenExpiryKey(),
	}
	res, err := rotateScript.Run(ctx, r.s.rdb, keys,
		toMillis(now), next.ID, next.SessionHandle, toMillis(next.ExpiresAt), toMillis(next.CreatedAt), next.TokenHash, oldHash,
	).Int()
	if err != nil {
		return domain.RefreshToken{}, err
	}

	switch res {
	case rotateNotFound:
		return domain.RefreshToken{}, store.ErrNotFound
	case rotateConflict:
		return domain.RefreshToken{}, store.ErrAlreadyExists
	}

	old, err := r.GetRefreshTokenByHash(ctx, oldHash)
	if err != nil {
		return domain.RefreshToken{}, err
	}
	if res == rotateReused {
		return old, store.ErrTokenReused
	}
	return old, nil
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) error {
	hashes, err := r.s.rdb.ZRangeByScore(ctx, r.s.tokenExpiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(toMillis(now), 10),
	}).Result()
	if err != nil {
		return err
	}

	for _, h := range hashes {
		session, err := r.s.rdb.HGet(ctx, r.s.tokenKey(h), "session").Result()
		if err != nil && err != redis.Nil {
			return err
		}
		_, err = r.s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, r.s.tokenKey(h))
			p.ZRem(ctx, r.s.tokenExpiryKey(), h)
			if session != "" {
				p.SRem(ctx, r.s.sessionTokensKey(session), h)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
