package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/stsession/internal/authority/service"
	"github.com/aussiebroadwan/stsession/pkg/slogx"
)

func TestHousekeepingCleanup(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	keys := &service.KeyRotationService{Keys: f.keys}

	pair, err := f.svc.Create(ctx, service.CreateRequest{UserID: "u1"})
	require.NoError(t, err)

	oldKid := keys.List(ctx)[0].Kid
	_, err = keys.Rotate(ctx)
	require.NoError(t, err)
	_, err = keys.Retire(ctx, oldKid)
	require.NoError(t, err)

	hk := service.NewHousekeepingService(f.store, f.keys, slogx.Discard(), time.Minute)
	hk.Now = f.Now

	require.Equal(t, 3, hk.Cleanup(ctx))
	_, err = f.svc.Get(ctx, pair.Session.Handle)
	require.NoError(t, err, "nothing has expired yet")
	require.Len(t, f.keys.KeySet().KeyIDs(), 2)

	f.advance(48 * time.Hour)
	require.Equal(t, 3, hk.Cleanup(ctx))

	_, err = f.store.Sessions().GetSession(ctx, pair.Session.Handle)
	require.Error(t, err)
	_, err = f.store.SigningKeys().GetSigningKeyByKid(ctx, oldKid)
	require.Error(t, err)
	require.Len(t, f.keys.KeySet().KeyIDs(), 1)
}

func TestHousekeepingStartStop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	hk := service.NewHousekeepingService(f.store, nil, slogx.Discard(), 0)
	require.Equal(t, time.Hour, hk.Interval)

	hk.Start()
	hk.Stop()
}
