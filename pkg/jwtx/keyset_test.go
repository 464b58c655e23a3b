package jwtx_test

import (
	"context"
	"testing"

	"github.com/aussiebroadwan/stsession/pkg/cryptox"
	"github.com/aussiebroadwan/stsession/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T, alg, kid string) jwtx.Signer {
	t.Helper()
	pemData, err := cryptox.GenerateSigningKey(alg, 2048)
	require.NoError(t, err)
	s, err := jwtx.NewSigner(alg, kid, pemData)
	require.NoError(t, err)
	return s
}

func TestKeySet_OrderAndLookup(t *testing.T) {
	newest := newTestSigner(t, jwtx.AlgorithmEdDSA, "k2")
	older := newTestSigner(t, jwtx.AlgorithmES256, "k1")

	ks := jwtx.NewKeySet()
	require.False(t, ks.IsReady())
	_, err := ks.Latest()
	require.ErrorIs(t, err, jwtx.ErrNoKey)

	require.NoError(t, ks.ResetFromJWKS(jwtx.JWKS{Keys: []jwtx.JWK{newest.PublicJWK(), older.PublicJWK()}}))
	require.True(t, ks.IsReady())
	require.Equal(t, []string{"k2", "k1"}, ks.KeyIDs())

	latest, err := ks.Latest()
	require.NoError(t, err)
	require.Equal(t, "k2", latest.KeyID)
	require.Equal(t, jwtx.AlgorithmEdDSA, latest.Algorithm)

	k1, err := ks.Get("k1")
	require.NoError(t, err)
	require.Equal(t, jwtx.AlgorithmES256, k1.Algorithm)

	_, err = ks.Get("nope")
	require.ErrorIs(t, err, jwtx.ErrNoKey)

	viaProvider, err := ks.GetKey(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "k2", viaProvider.KeyID)
}

func TestKeySet_ResetIsAllOrNothing(t *testing.T) {
	good := newTestSigner(t, jwtx.AlgorithmEdDSA, "good")

	ks := jwtx.NewKeySet()
	require.NoError(t, ks.ResetFromJWKS(jwtx.JWKS{Keys: []jwtx.JWK{good.PublicJWK()}}))

	bad := jwtx.JWKS{Keys: []jwtx.JWK{
		newTestSigner(t, jwtx.AlgorithmEdDSA, "fresh").PublicJWK(),
		{Kty: "RSA", Kid: "broken", N: "!!", E: "AQAB"},
	}}
	require.Error(t, ks.ResetFromJWKS(bad))

	// the previous set survives untouched
	require.Equal(t, []string{"good"}, ks.KeyIDs())
	require.Len(t, ks.PublicJWKS().Keys, 1)

	dup := jwtx.JWKS{Keys: []jwtx.JWK{good.PublicJWK(), good.PublicJWK()}}
	require.ErrorContains(t, ks.ResetFromJWKS(dup), "duplicate kid")
}

func TestKeySet_PublicJWKSIsACopy(t *testing.T) {
	ks := jwtx.NewKeySet()
	require.NoError(t, ks.ResetFromJWKS(jwtx.JWKS{Keys: []jwtx.JWK{
		newTestSigner(t, jwtx.AlgorithmEdDSA, "k1").PublicJWK(),
	}}))

	jwks := ks.PublicJWKS()
	jwks.Keys[0].Kid = "mutated"
	require.Equal(t, "k1", ks.PublicJWKS().Keys[0].Kid)
}
