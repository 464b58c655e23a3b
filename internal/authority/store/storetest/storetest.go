// Package storetest holds the behaviour every store driver must share.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/stsession/internal/authority/domain"
	"github.com/aussiebroadwan/stsession/internal/authority/store"
	"github.com/aussiebroadwan/stsession/pkg/idx"
)

var epoch = time.UnixMilli(1_700_000_000_000).UTC()

// Run exercises a fresh store from newStore in every subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("list and revoke", func(t *testing.T) { testListAndRevoke(t, newStore(t)) })
	t.Run("rotate", func(t *testing.T) { testRotate(t, newStore(t)) })
	t.Run("concurrent rotate", func(t *testing.T) { testConcurrentRotate(t, newStore(t)) })
	t.Run("housekeeping", func(t *testing.T) { testHousekeeping(t, newStore(t)) })
	t.Run("signing keys", func(t *testing.T) { testSigningKeys(t, newStore(t)) })
}

func newSession(userID string) domain.Session {
	return domain.Session{
		Handle:             idx.New().String(),
		UserID:             userID,
		RecipeUserID:       userID,
		TenantID:           domain.DefaultTenant,
		UserDataInJWT:      map[string]any{"plan": "pro"},
		UserDataInDatabase: map[string]any{"cart": float64(2)},
		AntiCsrfToken:      "csrf",
		CreatedAt:          epoch,
		ExpiresAt:          epoch.Add(24 * time.Hour),
	}
}

func newToken(handle, hash string, expires time.Time) domain.RefreshToken {
	return domain.RefreshToken{
		ID:            idx.New().String(),
		SessionHandle: handle,
		TokenHash:     hash,
		ExpiresAt:     expires,
		CreatedAt:     epoch,
	}
}

func testSessions(t *testing.T, st store.Store) {
	ctx := context.Background()
	s := newSession("u1")
	require.NoError(t, st.Sessions().CreateSession(ctx, s))
	require.ErrorIs(t, st.Sessions().CreateSession(ctx, s), store.ErrAlreadyExists)

	got, err := st.Sessions().GetSession(ctx, s.Handle)
	require.NoError(t, err)
	require.Equal(t, s.UserID, got.UserID)
	require.Equal(t, s.TenantID, got.TenantID)
	require.Equal(t, "pro", got.UserDataInJWT["plan"])
	require.Equal(t, float64(2), got.UserDataInDatabase["cart"])
	require.Equal(t, "csrf", got.AntiCsrfToken)
	require.True(t, s.ExpiresAt.Equal(got.ExpiresAt))
	require.True(t, got.IsActive(epoch))

	require.NoError(t, st.Sessions().UpdateUserDataInJWT(ctx, s.Handle, map[string]any{"plan": "free"}))
	require.NoError(t, st.Sessions().UpdateUserDataInDatabase(ctx, s.Handle, map[string]any{}))
	later := epoch.Add(48 * time.Hour)
	require.NoError(t, st.Sessions().ExtendSession(ctx, s.Handle, later))

	got, err = st.Sessions().GetSession(ctx, s.Handle)
	require.NoError(t, err)
	require.Equal(t, "free", got.UserDataInJWT["plan"])
	require.Empty(t, got.UserDataInDatabase)
	require.True(t, later.Equal(got.ExpiresAt))

	_, err = st.Sessions().GetSession(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.ErrorIs(t, st.Sessions().UpdateUserDataInJWT(ctx, "missing", nil), store.ErrNotFound)
}

func testListAndRevoke(t *testing.T, st store.Store) {
	ctx := context.Background()
	a, b, other := newSession("u1"), newSession("u1"), newSession("u2")
	for _, s := range []domain.Session{a, b, other} {
		require.NoError(t, st.Sessions().CreateSession(ctx, s))
	}

	list, err := st.Sessions().ListSessionsForUser(ctx, "u1", domain.DefaultTenant)
	require.NoError(t, err)
	require.Len(t, list, 2)

	list, err = st.Sessions().ListSessionsForUser(ctx, "u1", "elsewhere")
	require.NoError(t, err)
	require.Empty(t, list)

	ok, err := st.Sessions().RevokeSession(ctx, a.Handle)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.Sessions().RevokeSession(ctx, a.Handle)
	require.NoError(t, err)
	require.False(t, ok, "second revoke is a no-op")

	ok, err = st.Sessions().RevokeSession(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	got, err := st.Sessions().GetSession(ctx, a.Handle)
	require.NoError(t, err)
	require.True(t, got.Revoked)
	require.False(t, got.IsActive(epoch))
}

func testRotate(t *testing.T, st store.Store) {
	ctx := context.Background()
	s := newSession("u1")
	require.NoError(t, st.Sessions().CreateSession(ctx, s))

	first := newToken(s.Handle, "hash-1", s.ExpiresAt)
	require.NoError(t, st.RefreshTokens().CreateRefreshToken(ctx, first))

	got, err := st.RefreshTokens().GetRefreshTokenByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.Equal(t, s.Handle, got.SessionHandle)
	require.False(t, got.IsRotated())
	require.Empty(t, got.ParentHash)

	old, err := st.RefreshTokens().Rotate(ctx, "hash-1", newToken(s.Handle, "hash-2", s.ExpiresAt), epoch)
	require.NoError(t, err)
	require.Equal(t, first.ID, old.ID)

	got, err = st.RefreshTokens().GetRefreshTokenByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.True(t, got.IsRotated())

	got, err = st.RefreshTokens().GetRefreshTokenByHash(ctx, "hash-2")
	require.NoError(t, err)
	require.False(t, got.IsRotated())
	require.Equal(t, "hash-1", got.ParentHash)

	// the rotated token cannot be exchanged again, and still names its session
	old, err = st.RefreshTokens().Rotate(ctx, "hash-1", newToken(s.Handle, "hash-3", s.ExpiresAt), epoch)
	require.ErrorIs(t, err, store.ErrTokenReused)
	require.Equal(t, s.Handle, old.SessionHandle)

	_, err = st.RefreshTokens().GetRefreshTokenByHash(ctx, "hash-3")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = st.RefreshTokens().Rotate(ctx, "unknown", newToken(s.Handle, "hash-4", s.ExpiresAt), epoch)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testConcurrentRotate(t *testing.T, st store.Store) {
	ctx := context.Background()
	s := newSession("u1")
	require.NoError(t, st.Sessions().CreateSession(ctx, s))
	require.NoError(t, st.RefreshTokens().CreateRefreshToken(ctx, newToken(s.Handle, "root", s.ExpiresAt)))

	const n = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		reused int
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := newToken(s.Handle, fmt.Sprintf("next-%d", i), s.ExpiresAt)
			_, err := st.RefreshTokens().Rotate(ctx, "root", next, epoch)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, store.ErrTokenReused):
				reused++
			default:
				t.Errorf("unexpected rotate error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, n-1, reused)

	// only the winner's successor was stored
	stored := 0
	for i := range n {
		got, err := st.RefreshTokens().GetRefreshTokenByHash(ctx, fmt.Sprintf("next-%d", i))
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		require.NoError(t, err)
		require.Equal(t, "root", got.ParentHash)
		stored++
	}
	require.Equal(t, 1, stored)
}

func testHousekeeping(t *testing.T, st store.Store) {
	ctx := context.Background()
	s := newSession("u1")
	require.NoError(t, st.Sessions().CreateSession(ctx, s))
	require.NoError(t, st.RefreshTokens().CreateRefreshToken(ctx, newToken(s.Handle, "short", epoch.Add(time.Hour))))
	require.NoError(t, st.RefreshTokens().CreateRefreshToken(ctx, newToken(s.Handle, "long", s.ExpiresAt)))

	now := epoch.Add(2 * time.Hour)
	require.NoError(t, st.RefreshTokens().DeleteExpiredRefreshTokens(ctx, now))
	require.NoError(t, st.Sessions().DeleteExpiredSessions(ctx, now))

	_, err := st.RefreshTokens().GetRefreshTokenByHash(ctx, "short")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.RefreshTokens().GetRefreshTokenByHash(ctx, "long")
	require.NoError(t, err)
	_, err = st.Sessions().GetSession(ctx, s.Handle)
	require.NoError(t, err)

	require.NoError(t, st.Sessions().DeleteExpiredSessions(ctx, s.ExpiresAt.Add(time.Second)))
	_, err = st.Sessions().GetSession(ctx, s.Handle)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testSigningKeys(t *testing.T, st store.Store) {
	ctx := context.Background()

	older := domain.SigningKey{ID: idx.New().String(), Kid: "k1", Algorithm: "EdDSA", PrivateKeyEncrypted: []byte{1, 2, 3}, CreatedAt: epoch}
	newer := domain.SigningKey{ID: idx.New().String(), Kid: "k2", Algorithm: "EdDSA", PrivateKeyEncrypted: []byte{4, 5, 6}, CreatedAt: epoch.Add(time.Minute)}
	require.NoError(t, st.SigningKeys().CreateSigningKey(ctx, older))
	require.NoError(t, st.SigningKeys().CreateSigningKey(ctx, newer))

	keys, err := st.SigningKeys().ListSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.Equal(t, "k2", keys[0].Kid, "newest first")
	require.Equal(t, []byte{4, 5, 6}, keys[0].PrivateKeyEncrypted)

	retired, expires := epoch.Add(time.Hour), epoch.Add(25*time.Hour)
	require.NoError(t, st.SigningKeys().RetireSigningKey(ctx, "k1", retired, expires))
	require.ErrorIs(t, st.SigningKeys().RetireSigningKey(ctx, "missing", retired, expires), store.ErrNotFound)

	k1, err := st.SigningKeys().GetSigningKeyByKid(ctx, "k1")
	require.NoError(t, err)
	require.False(t, k1.IsActive())
	require.True(t, retired.Equal(*k1.RetiredAt))
	require.True(t, k1.IsExpired(expires))

	require.NoError(t, st.SigningKeys().DeleteExpiredSigningKeys(ctx, expires))
	_, err = st.SigningKeys().GetSigningKeyByKid(ctx, "k1")
	require.ErrorIs(t, err, store.ErrNotFound)

	keys, err = st.SigningKeys().ListSigningKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
}
