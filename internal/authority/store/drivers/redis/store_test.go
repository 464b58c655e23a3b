package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/stsession/internal/authority/domain"
	"github.com/aussiebroadwan/stsession/internal/authority/store"
	"github.com/aussiebroadwan/stsession/internal/authority/store/drivers/redis"
	"github.com/aussiebroadwan/stsession/internal/authority/store/storetest"
)

func newStore(t *testing.T) (*redis.Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	st, err := redis.NewStore("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		st, _ := newStore(t)
		return st
	})
}

func TestNewStoreRejectsBadURL(t *testing.T) {
	_, err := redis.NewStore("not-a-url")
	require.Error(t, err)
}

func TestPrefixIsolatesStores(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	a := redis.NewStoreWithClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), "a:")
	b := redis.NewStoreWithClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), "b:")
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})

	require.NoError(t, a.Ping(ctx))
	require.NoError(t, a.ApplyMigrations())

	keys, err := b.SigningKeys().ListSigningKeys(ctx)
	require.NoError(t, err)
	require.Empty(t, keys)

	require.False(t, mr.Exists("a:signing_keys"))
}

func TestListPrunesDeletedSessions(t *testing.T) {
	st, mr := newStore(t)
	ctx := context.Background()

	now := time.UnixMilli(1_700_000_000_000).UTC()
	for i, h := range []string{"h1", "h2"} {
		require.NoError(t, st.Sessions().CreateSession(ctx, domain.Session{
			Handle:    h,
			UserID:    "u1",
			TenantID:  domain.DefaultTenant,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
			ExpiresAt: now.Add(time.Hour),
		}))
	}
	mr.Del("st:session:h1")

	got, err := st.Sessions().ListSessionsForUser(ctx, "u1", "public")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "h2", got[0].Handle)

	members, err := mr.SMembers("st:user:public:u1")
	require.NoError(t, err)
	require.Equal(t, []string{"h2"}, members)
}
