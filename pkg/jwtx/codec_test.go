package jwtx_test

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/stsession/pkg/cryptox"
	"github.com/aussiebroadwan/stsession/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func sampleClaims(payload map[string]any) jwtx.Claims {
	return jwtx.NewAccessClaims("u1", "", "public", "handle-1",
		cryptox.HashRefreshToken("refresh-1"), payload, testNow, time.Hour)
}

func keySetFor(t *testing.T, signers ...jwtx.Signer) *jwtx.KeySet {
	t.Helper()
	ks := jwtx.NewKeySet()
	jwks := jwtx.JWKS{}
	for _, s := range signers {
		jwks.Keys = append(jwks.Keys, s.PublicJWK())
	}
	require.NoError(t, ks.ResetFromJWKS(jwks))
	return ks
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	payload := map[string]any{
		"role":   "admin",
		"count":  float64(3),
		"nested": map[string]any{"a": true},
		"tags":   []any{"x", "y"},
	}

	for _, alg := range []string{jwtx.AlgorithmRS256, jwtx.AlgorithmES256, jwtx.AlgorithmEdDSA} {
		t.Run(alg, func(t *testing.T) {
			signer := newTestSigner(t, alg, "kid-"+alg)
			dec := jwtx.Decoder{Keys: keySetFor(t, signer), Now: fixedNow}

			in := sampleClaims(payload)
			in.AntiCsrfToken = "csrf"
			in.ParentRefreshTokenHash1 = cryptox.HashRefreshToken("refresh-0")

			token, err := jwtx.Encode(signer, in)
			require.NoError(t, err)

			out, err := dec.Decode(context.Background(), token)
			require.NoError(t, err)
			require.Equal(t, payload, out.Payload)
			require.Equal(t, "u1", out.Subject)
			require.Equal(t, "u1", out.RecipeUserID)
			require.Equal(t, "handle-1", out.SessionHandle)
			require.Equal(t, "public", out.TenantID)
			require.Equal(t, in.RefreshTokenHash1, out.RefreshTokenHash1)
			require.Equal(t, in.ParentRefreshTokenHash1, out.ParentRefreshTokenHash1)
			require.Equal(t, "csrf", out.AntiCsrfToken)
			require.Equal(t, jwtx.TokenTypeAccess, out.TokenType)
			require.True(t, in.Expiry().Equal(out.Expiry()))
		})
	}
}

func TestEncode_Deterministic(t *testing.T) {
	for _, alg := range []string{jwtx.AlgorithmRS256, jwtx.AlgorithmEdDSA} {
		signer := newTestSigner(t, alg, "kid")
		claims := sampleClaims(map[string]any{"b": 1, "a": 2})

		first, err := jwtx.Encode(signer, claims)
		require.NoError(t, err)
		second, err := jwtx.Encode(signer, claims)
		require.NoError(t, err)
		require.Equal(t, first, second, alg)
	}
}

func TestEncode_RejectsProtectedPayload(t *testing.T) {
	signer := newTestSigner(t, jwtx.AlgorithmEdDSA, "kid")

	for _, name := range jwtx.ProtectedClaimNames {
		claims := sampleClaims(map[string]any{name: "x"})
		_, err := jwtx.Encode(signer, claims)
		require.ErrorIs(t, err, jwtx.ErrProtectedClaim, name)
	}
}

func TestDecode_Expiry(t *testing.T) {
	signer := newTestSigner(t, jwtx.AlgorithmEdDSA, "kid")
	token, err := jwtx.Encode(signer, sampleClaims(nil))
	require.NoError(t, err)

	ks := keySetFor(t, signer)

	t.Run("within leeway", func(t *testing.T) {
		dec := jwtx.Decoder{Keys: ks, Leeway: 5 * time.Second, Now: func() time.Time {
			return testNow.Add(time.Hour + 3*time.Second)
		}}
		_, err := dec.Decode(context.Background(), token)
		require.NoError(t, err)
	})

	t.Run("past leeway", func(t *testing.T) {
		dec := jwtx.Decoder{Keys: ks, Now: func() time.Time {
			return testNow.Add(time.Hour + 2*time.Second)
		}}
		_, err := dec.Decode(context.Background(), token)
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("ignoring expiry still verifies", func(t *testing.T) {
		dec := jwtx.Decoder{Keys: ks, Now: func() time.Time {
			return testNow.Add(48 * time.Hour)
		}}
		claims, err := dec.DecodeIgnoringExpiry(context.Background(), token)
		require.NoError(t, err)
		require.Equal(t, "handle-1", claims.SessionHandle)

		other := jwtx.Decoder{Keys: keySetFor(t, newTestSigner(t, jwtx.AlgorithmEdDSA, "kid"))}
		_, err = other.DecodeIgnoringExpiry(context.Background(), token)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})
}

func TestDecode_KeySelection(t *testing.T) {
	older := newTestSigner(t, jwtx.AlgorithmEdDSA, "old")
	newer := newTestSigner(t, jwtx.AlgorithmEdDSA, "new")
	dec := jwtx.Decoder{Keys: keySetFor(t, newer, older), Now: fixedNow}

	t.Run("kid picks the older key", func(t *testing.T) {
		token, err := jwtx.Encode(older, sampleClaims(nil))
		require.NoError(t, err)
		_, err = dec.Decode(context.Background(), token)
		require.NoError(t, err)
	})

	t.Run("unknown kid", func(t *testing.T) {
		stranger := newTestSigner(t, jwtx.AlgorithmEdDSA, "stranger")
		token, err := jwtx.Encode(stranger, sampleClaims(nil))
		require.NoError(t, err)
		_, err = dec.Decode(context.Background(), token)
		require.ErrorIs(t, err, jwtx.ErrUnknownKID)
		require.ErrorIs(t, err, jwtx.ErrNoKey)
	})

	t.Run("missing kid falls back to latest", func(t *testing.T) {
		token, latest := signWithoutKID(t, "latest", sampleClaims(nil))
		_, stale := signWithoutKID(t, "stale", sampleClaims(nil))

		ok := jwtx.Decoder{Keys: keySetFor(t, latest, stale), Now: fixedNow}
		_, err := ok.Decode(context.Background(), token)
		require.NoError(t, err)

		// only the latest key is tried
		wrong := jwtx.Decoder{Keys: keySetFor(t, stale, latest), Now: fixedNow}
		_, err = wrong.Decode(context.Background(), token)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})
}

// signWithoutKID signs claims with a fresh Ed25519 key but omits the kid
// header. The returned signer publishes the matching key.
func signWithoutKID(t *testing.T, kid string, claims jwtx.Claims) (string, jwtx.Signer) {
	t.Helper()
	pemData, err := cryptox.GenerateEd25519Key()
	require.NoError(t, err)

	signer, err := jwtx.NewSigner(jwtx.AlgorithmEdDSA, kid, pemData)
	require.NoError(t, err)

	block, _ := pem.Decode(pemData)
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
	require.NoError(t, err)
	return token, signer
}

func TestDecode_AlgorithmMismatch(t *testing.T) {
	ec := newTestSigner(t, jwtx.AlgorithmES256, "shared")
	ed := newTestSigner(t, jwtx.AlgorithmEdDSA, "shared")

	token, err := jwtx.Encode(ed, sampleClaims(nil))
	require.NoError(t, err)

	dec := jwtx.Decoder{Keys: keySetFor(t, ec), Now: fixedNow}
	_, err = dec.Decode(context.Background(), token)
	require.ErrorIs(t, err, jwtx.ErrAlgMismatch)
}

func TestDecode_Rejects(t *testing.T) {
	signer := newTestSigner(t, jwtx.AlgorithmEdDSA, "kid")
	dec := jwtx.Decoder{Keys: keySetFor(t, signer), Now: fixedNow}
	ctx := context.Background()

	t.Run("garbage", func(t *testing.T) {
		for _, tok := range []string{"", "abc", "a.b.c"} {
			_, err := dec.Decode(ctx, tok)
			require.ErrorIs(t, err, jwtx.ErrMalformed, tok)
		}
	})

	t.Run("tampered payload", func(t *testing.T) {
		token, err := jwtx.Encode(signer, sampleClaims(nil))
		require.NoError(t, err)
		parts := strings.Split(token, ".")

		forged := sampleClaims(nil)
		forged.Subject = "admin"
		body, err := json.Marshal(forged)
		require.NoError(t, err)

		_, err = dec.Decode(ctx, parts[0]+"."+base64.RawURLEncoding.EncodeToString(body)+"."+parts[2])
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})

	t.Run("alg none", func(t *testing.T) {
		unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, sampleClaims(nil)).
			SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = dec.Decode(ctx, unsigned)
		require.Error(t, err)
		require.True(t, errors.Is(err, jwtx.ErrInvalidSig) || errors.Is(err, jwtx.ErrMalformed))
	})

	t.Run("missing protected claims", func(t *testing.T) {
		for name, mutate := range map[string]func(*jwtx.Claims){
			"sub":               func(c *jwtx.Claims) { c.Subject = "" },
			"sessionHandle":     func(c *jwtx.Claims) { c.SessionHandle = "" },
			"refreshTokenHash1": func(c *jwtx.Claims) { c.RefreshTokenHash1 = "" },
			"tId":               func(c *jwtx.Claims) { c.TenantID = "" },
			"iat":               func(c *jwtx.Claims) { c.IssuedAt = nil },
			"stt":               func(c *jwtx.Claims) { c.TokenType = 1 },
		} {
			claims := sampleClaims(nil)
			mutate(&claims)
			token, err := jwtx.Encode(signer, claims)
			require.NoError(t, err)
			_, err = dec.Decode(ctx, token)
			require.ErrorIs(t, err, jwtx.ErrInvalidClaim, name)
		}
	})

	t.Run("missing exp", func(t *testing.T) {
		claims := sampleClaims(nil)
		claims.ExpiresAt = nil
		token, err := jwtx.Encode(signer, claims)
		require.NoError(t, err)
		_, err = dec.Decode(ctx, token)
		require.ErrorIs(t, err, jwtx.ErrInvalidClaim)
	})

	t.Run("badly typed protected claim", func(t *testing.T) {
		var c jwtx.Claims
		err := json.Unmarshal([]byte(`{"sub":42}`), &c)
		require.ErrorIs(t, err, jwtx.ErrInvalidClaim)
	})
}

type failingKeys struct{ err error }

func (f failingKeys) GetKey(context.Context, string) (jwtx.SigningKey, error) {
	return jwtx.SigningKey{}, f.err
}

func TestDecode_KeySourceFailure(t *testing.T) {
	signer := newTestSigner(t, jwtx.AlgorithmEdDSA, "kid")
	token, err := jwtx.Encode(signer, sampleClaims(nil))
	require.NoError(t, err)

	boom := errors.New("connection refused")
	_, err = jwtx.Decoder{Keys: failingKeys{err: boom}}.Decode(context.Background(), token)
	require.ErrorIs(t, err, jwtx.ErrKeyUnavailable)
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, jwtx.ErrInvalidSig)
}

func TestClaims_MissingTokenTypeIsInvalid(t *testing.T) {
	var c jwtx.Claims
	require.NoError(t, json.Unmarshal([]byte(`{"sub":"u1","sessionHandle":"h","refreshTokenHash1":"x","tId":"public","iat":1,"exp":2}`), &c))
	require.ErrorIs(t, c.Validate(), jwtx.ErrInvalidClaim)
}
