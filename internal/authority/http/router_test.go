package http_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	authorityhttp "github.com/aussiebroadwan/stsession/internal/authority/http"
	"github.com/aussiebroadwan/stsession/internal/authority/service"
	"github.com/aussiebroadwan/stsession/internal/authority/store/drivers/sqlite"
	"github.com/aussiebroadwan/stsession/pkg/authsdk"
	"github.com/aussiebroadwan/stsession/pkg/cryptox"
	"github.com/aussiebroadwan/stsession/pkg/httpx"
	"github.com/aussiebroadwan/stsession/pkg/jwtx"
	"github.com/aussiebroadwan/stsession/pkg/keycache"
	"github.com/aussiebroadwan/stsession/pkg/session"
	"github.com/aussiebroadwan/stsession/pkg/slogx"
)

const apiKey = "test-api-key"

func newAuthority(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	keys, err := jwtx.NewKeyManager(ctx, jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA})
	require.NoError(t, err)

	router := authorityhttp.NewRouter(keys, "test", st, slogx.Discard())
	router.SessionService = &service.SessionService{Store: st, Keys: keys}
	router.KeyRotationService = &service.KeyRotationService{Keys: keys}
	router.APIKey = func(k string) bool { return k == apiKey }
	router.ApplyRoutes()

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestSessionLifecycleThroughManager(t *testing.T) {
	t.Parallel()

	srv := newAuthority(t)
	ctx := context.Background()
	mgr, _ := session.NewHTTPManager(session.Config{AntiCsrf: session.AntiCsrfNone},
		authsdk.NewSDKClient(srv.URL, apiKey), keycache.Options{})

	tokens, err := mgr.CreateNewSession(ctx, "u1", "", "", map[string]any{"role": "admin"}, map[string]any{"theme": "dark"})
	require.NoError(t, err)

	s, err := mgr.VerifyAccessToken(ctx, tokens.AccessToken, session.VerifyOptions{})
	require.NoError(t, err)
	require.Equal(t, "u1", s.UserID())
	require.Equal(t, "public", s.TenantID())
	require.Equal(t, "admin", s.AccessTokenPayload()["role"])

	info, err := mgr.GetSessionInformation(ctx, s.Handle())
	require.NoError(t, err)
	require.Equal(t, "dark", info.UserDataInDatabase["theme"])

	next, err := mgr.RefreshSession(ctx, session.RefreshInput{RefreshToken: tokens.RefreshToken, SessionHandle: s.Handle()})
	require.NoError(t, err)
	require.NotEqual(t, tokens.RefreshToken, next.RefreshToken)

	// replaying the first refresh token is theft
	_, err = mgr.RefreshSession(ctx, session.RefreshInput{RefreshToken: tokens.RefreshToken})
	require.ErrorIs(t, err, session.ErrTokenTheftDetected)
	var theft *session.TokenTheftError
	require.True(t, errors.As(err, &theft))
	require.Equal(t, s.Handle(), theft.SessionHandle)
	require.Equal(t, "u1", theft.UserID)

	_, err = mgr.RefreshSession(ctx, session.RefreshInput{RefreshToken: next.RefreshToken})
	require.ErrorIs(t, err, session.ErrUnauthorised)
}

func TestRevokeAndRegenerate(t *testing.T) {
	t.Parallel()

	srv := newAuthority(t)
	ctx := context.Background()
	client := authsdk.NewSDKClient(srv.URL, apiKey)

	created, err := client.CreateSession(ctx, authsdk.CreateSessionRequest{UserID: "u1", UserDataInJWT: map[string]any{"n": 1}})
	require.NoError(t, err)
	require.Equal(t, authsdk.StatusOK, created.Status)
	require.NotNil(t, created.AccessToken)
	require.NotNil(t, created.RefreshToken)

	regen, err := client.RegenerateAccessToken(ctx, authsdk.RegenerateAccessTokenRequest{
		AccessToken:   created.AccessToken.Token,
		UserDataInJWT: map[string]any{"n": 2},
	})
	require.NoError(t, err)
	require.Equal(t, authsdk.StatusOK, regen.Status)
	require.NotNil(t, regen.AccessToken)
	require.Equal(t, created.AccessToken.Expiry, regen.AccessToken.Expiry)
	require.Equal(t, float64(2), regen.Session.UserDataInJWT["n"])

	upd, err := client.UpdateSessionData(ctx, authsdk.UpdateSessionDataRequest{
		SessionHandle:      created.Session.Handle,
		UserDataInDatabase: map[string]any{"k": "v"},
	})
	require.NoError(t, err)
	require.Equal(t, authsdk.StatusOK, upd.Status)

	revoked, err := client.RevokeSessions(ctx, authsdk.RevokeSessionsRequest{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, []string{created.Session.Handle}, revoked.SessionHandlesRevoked)

	info, err := client.GetSessionInformation(ctx, created.Session.Handle)
	require.NoError(t, err)
	require.Equal(t, authsdk.StatusUnauthorised, info.Status)

	refreshed, err := client.RefreshSession(ctx, authsdk.RefreshSessionRequest{
		RefreshTokenHash1: cryptox.HashRefreshToken(created.RefreshToken.Token),
	})
	require.NoError(t, err, "a refused refresh is a status, not an error")
	require.Equal(t, authsdk.StatusUnauthorised, refreshed.Status)
}

func TestRefreshLimitedPerForwardedClient(t *testing.T) {
	t.Parallel()

	srv := newAuthority(t)
	client := authsdk.NewSDKClient(srv.URL, apiKey)

	refresh := func(ip string) error {
		ctx := authsdk.WithClientIP(context.Background(), ip)
		_, err := client.RefreshSession(ctx, authsdk.RefreshSessionRequest{
			RefreshTokenHash1: cryptox.HashRefreshToken("unknown"),
		})
		return err
	}

	for i := range httpx.RefreshLimit.Burst {
		require.NoError(t, refresh("203.0.113.7"), "request %d", i)
	}

	var apiErr *authsdk.APIError
	require.ErrorAs(t, refresh("203.0.113.7"), &apiErr)
	require.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	require.Equal(t, authsdk.StatusRateLimited, apiErr.Status)

	// another user behind the same application server has their own bucket
	require.NoError(t, refresh("203.0.113.8"))
}

func TestAPIKeyRequired(t *testing.T) {
	t.Parallel()

	srv := newAuthority(t)
	ctx := context.Background()

	_, err := authsdk.NewSDKClient(srv.URL, "wrong").CreateSession(ctx, authsdk.CreateSessionRequest{UserID: "u1"})
	var apiErr *authsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Equal(t, authsdk.StatusInvalidAPIKey, apiErr.Status)

	// discovery and health stay public
	anon := authsdk.NewSDKClient(srv.URL, "")
	jwks, err := anon.GetJWKS(ctx)
	require.NoError(t, err)
	require.Len(t, jwks.Keys, 1)

	live, err := anon.GetLiveness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", live.Status)

	ready, err := anon.GetReadiness(ctx)
	require.NoError(t, err)
	require.Equal(t, "ok", ready.Checks.Store)
	require.Equal(t, "ok", ready.Checks.Signer)
}

func TestMalformedRequests(t *testing.T) {
	t.Parallel()

	srv := newAuthority(t)
	ctx := context.Background()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/recipe/session", strings.NewReader("{"))
	require.NoError(t, err)
	req.Header.Set("api-key", apiKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, err = authsdk.NewSDKClient(srv.URL, apiKey).CreateSession(ctx, authsdk.CreateSessionRequest{
		UserID:        "u1",
		UserDataInJWT: map[string]any{"sessionHandle": "spoofed"},
	})
	var apiErr *authsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestKeyEndpoints(t *testing.T) {
	t.Parallel()

	srv := newAuthority(t)
	ctx := context.Background()
	client := authsdk.NewSDKClient(srv.URL, apiKey)

	listed, err := client.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, listed.Keys, 1)
	oldKid := listed.Keys[0].Kid

	rotated, err := client.RotateKey(ctx)
	require.NoError(t, err)
	require.True(t, rotated.Key.Active)

	jwks, err := client.GetJWKS(ctx)
	require.NoError(t, err)
	require.Len(t, jwks.Keys, 2)
	require.Equal(t, rotated.Key.Kid, jwks.Keys[0].Kid, "newest first")

	retired, err := client.RetireKey(ctx, oldKid)
	require.NoError(t, err)
	require.False(t, retired.Key.Active)

	var apiErr *authsdk.APIError
	_, err = client.RetireKey(ctx, "missing")
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	_, err = client.RetireKey(ctx, rotated.Key.Kid)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusConflict, apiErr.StatusCode)
	require.Equal(t, authsdk.StatusConflict, apiErr.Status)
}
