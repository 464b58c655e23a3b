package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aussiebroadwan/stsession/internal/authority/domain"
	"github.com/aussiebroadwan/stsession/internal/authority/store"
)

type sessionsRepo struct {
	s *Store
}

type sessionRecord struct {
	Handle             string         `json:"handle"`
	UserID             string         `json:"userId"`
	RecipeUserID       string         `json:"recipeUserId"`
	TenantID           string         `json:"tenantId"`
	UserDataInJWT      map[string]any `json:"jwt"`
	UserDataInDatabase map[string]any `json:"db"`
	AntiCsrfToken      string         `json:"antiCsrf,omitempty"`
	CreatedAt          int64          `json:"created"`
	ExpiresAt          int64          `json:"expires"`
	Revoked            bool           `json:"revoked,omitempty"`
}

func toRecord(s domain.Session) sessionRecord {
	return sessionRecord{
		Handle:             s.Handle,
		UserID:             s.UserID,
		RecipeUserID:       s.RecipeUserID,
		TenantID:           s.TenantID,
		UserDataInJWT:      s.UserDataInJWT,
		UserDataInDatabase: s.UserDataInDatabase,
		AntiCsrfToken:      s.AntiCsrfToken,
		CreatedAt:          toMillis(s.CreatedAt),
		ExpiresAt:          toMillis(s.ExpiresAt),
		Revoked:            s.Revoked,
	}
}

func (r sessionRecord) domain() domain.Session {
	s := domain.Session{
		Handle:             r.Handle,
		UserID:             r.UserID,
		RecipeUserID:       r.RecipeUserID,
		TenantID:           r.TenantID,
		UserDataInJWT:      r.UserDataInJWT,
		UserDataInDatabase: r.UserDataInDatabase,
		AntiCsrfToken:      r.AntiCsrfToken,
		CreatedAt:          fromMillis(r.CreatedAt),
		ExpiresAt:          fromMillis(r.ExpiresAt),
		Revoked:            r.Revoked,
	}
	if s.UserDataInJWT == nil {
		s.UserDataInJWT = map[string]any{}
	}
	if s.UserDataInDatabase == nil {
		s.UserDataInDatabase = map[string]any{}
	}
	return s
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *sessionsRepo) load(ctx context.Context, c getter, handle string) (sessionRecord, error) {
	raw, err := c.Get(ctx, r.s.sessionKey(handle)).Result()
	if err != nil {
		return sessionRecord{}, mapNotFound(err)
	}
	var rec sessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return sessionRecord{}, err
	}
	return rec, nil
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	body, err := marshal(toRecord(s))
	if err != nil {
		return err
	}

	created, err := r.s.rdb.SetNX(ctx, r.s.sessionKey(s.Handle), body, 0).Result()
	if err != nil {
		return err
	}
	if !created {
		return store.ErrAlreadyExists
	}

	_, err = r.s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, r.s.userKey(s.TenantID, s.UserID), s.Handle)
		p.ZAdd(ctx, r.s.sessionExpiryKey(), redis.Z{Score: float64(toMillis(s.ExpiresAt)), Member: s.Handle})
		return nil
	})
	return err
}

func (r *sessionsRepo) GetSession(ctx context.Context, handle string) (domain.Session, error) {
	rec, err := r.load(ctx, r.s.rdb, handle)
	if err != nil {
		return domain.Session{}, err
	}
	return rec.domain(), nil
}

func (r *sessionsRepo) ListSessionsForUser(ctx context.Context, userID, tenantID string) ([]domain.Session, error) {
	userKey := r.s.userKey(tenantID, userID)
	handles, err := r.s.rdb.SMembers(ctx, userKey).Result()
	if err != nil {
		return nil, err
	}

	out := make([]domain.Session, 0, len(handles))
	for _, h := range handles {
		rec, err := r.load(ctx, r.s.rdb, h)
		if err == store.ErrNotFound {
			// deleted by housekeeping; drop the stale index entry
			r.s.rdb.SRem(ctx, userKey, h)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec.domain())
	}

	slices.SortFunc(out, func(a, b domain.Session) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.Handle, a.Handle))
	})
	return out, nil
}

// update applies fn to the stored session under WATCH. fn reports whether
// anything changed; extra lets callers add commands to the same MULTI.
func (r *sessionsRepo) update(ctx context.Context, handle string, fn func(*sessionRecord) bool, extra func(redis.Pipeliner)) (bool, error) {
	key := r.s.sessionKey(handle)
	var changed bool

	err := r.s.watchUpdate(ctx, func(tx *redis.Tx) error {
		rec, err := r.load(ctx, tx, handle)
		if err != nil {
			return err
		}
		if changed = fn(&rec); !changed {
			return nil
		}
		body, err := marshal(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, body, 0)
			if extra != nil {
				extra(p)
			}
			return nil
		})
		return err
	}, key)
	return changed, err
}

func (r *sessionsRepo) UpdateUserDataInJWT(ctx context.Context, handle string, data map[string]any) error {
	_, err := r.update(ctx, handle, func(rec *sessionRecord) bool {
		rec.UserDataInJWT = data
		return true
	}, nil)
	return err
}

func (r *sessionsRepo) UpdateUserDataInDatabase(ctx context.Context, handle string, data map[string]any) error {
	_, err := r.update(ctx, handle, func(rec *sessionRecord) bool {
		rec.UserDataInDatabase = data
		return true
	}, nil)
	return err
}

func (r *sessionsRepo) ExtendSession(ctx context.Context, handle string, expiresAt time.Time) error {
	ms := toMillis(expiresAt)
	_, err := r.update(ctx, handle, func(rec *sessionRecord) bool {
		rec.ExpiresAt = ms
		return true
	}, func(p redis.Pipeliner) {
		p.ZAdd(ctx, r.s.sessionExpiryKey(), redis.Z{Score: float64(ms), Member: handle})
	})
	return err
}

func (r *sessionsRepo) RevokeSession(ctx context.Context, handle string) (bool, error) {
	changed, err := r.update(ctx, handle, func(rec *sessionRecord) bool {
		if rec.Revoked {
			return false
		}
		rec.Revoked = true
		return true
	}, nil)
	if err == store.ErrNotFound {
		return false, nil
	}
	return changed, err
}

func (r *sessionsRepo) DeleteExpiredSessions(ctx context.Context, now time.Time) error {
	handles, err := r.s.rdb.ZRangeByScore(ctx, r.s.sessionExpiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(toMillis(now), 10),
	}).Result()
	if err != nil {
		return err
	}

	for _, h := range handles {
		if err := r.delete(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// delete removes a session with its index entries and refresh tokens.
func (r *sessionsRepo) delete(ctx context.Context, handle string) error {
	rec, err := r.load(ctx, r.s.rdb, handle)
	if err != nil && err != store.ErrNotFound {
		return err
	}
	hashes, err := r.s.rdb.SMembers(ctx, r.s.sessionTokensKey(handle)).Result()
	if err != nil {
		return err
	}

	_, err = r.s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.s.sessionKey(handle), r.s.sessionTokensKey(handle))
		p.ZRem(ctx, r.s.sessionExpiryKey(), handle)
		if rec.Handle != "" {
			p.SRem(ctx, r.s.userKey(rec.TenantID, rec.UserID), handle)
		}
		for _, h := range hashes {
			p.Del(ctx, r.s.tokenKey(h))
			p.ZRem(ctx, r.s.tokenExpiryKey(), h)
		}
		return nil
	})
	return err
}
