package session_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/stsession/pkg/httpx"
	"github.com/aussiebroadwan/stsession/pkg/session"
)

// echoUser answers 200 with the user the middleware attached.
func echoUser(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := ""
		if s, ok := session.FromContext(r.Context()); ok {
			user = s.UserID()
			id, ok := httpx.UserIDFromContext(r.Context())
			require.True(t, ok)
			require.Equal(t, user, id)
		}
		httpx.WriteStatus(w, http.StatusOK, "OK", user)
	})
}

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) httpx.StatusBody {
	t.Helper()
	var body httpx.StatusBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestMiddlewareNoSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})

	rec := httptest.NewRecorder()
	h.mgr.Middleware(session.VerifyOptions{})(echoUser(t)).ServeHTTP(rec, headerRequest("", ""))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, session.StatusUnauthorised, decodeStatus(t, rec).Status)

	rec = httptest.NewRecorder()
	h.mgr.Middleware(session.VerifyOptions{SessionOptional: true})(echoUser(t)).ServeHTTP(rec, headerRequest("", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, decodeStatus(t, rec).Message)
}

func TestMiddlewareRefreshesExpiredToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{AntiCsrf: session.AntiCsrfNone})
	ctx := context.Background()

	tokens, err := h.mgr.CreateNewSession(ctx, "u1", "", "public", nil, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.mgr.Middleware(session.VerifyOptions{})(echoUser(t)).ServeHTTP(rec, headerRequest(tokens.AccessToken, tokens.RefreshToken))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "u1", decodeStatus(t, rec).Message)
	require.Empty(t, rec.Header().Get(session.HeaderAccessToken), "a valid token is left alone")

	h.clk.Advance(2 * time.Hour)

	rec = httptest.NewRecorder()
	h.mgr.Middleware(session.VerifyOptions{})(echoUser(t)).ServeHTTP(rec, headerRequest(tokens.AccessToken, tokens.RefreshToken))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "u1", decodeStatus(t, rec).Message)

	newAccess := rec.Header().Get(session.HeaderAccessToken)
	newRefresh := rec.Header().Get(session.HeaderRefreshToken)
	require.NotEmpty(t, newAccess)
	require.NotEqual(t, tokens.AccessToken, newAccess)
	require.NotEqual(t, tokens.RefreshToken, newRefresh)
	require.NotEmpty(t, rec.Header().Get(session.HeaderFrontToken))
	require.Empty(t, rec.Result().Cookies())

	_, err = h.mgr.VerifyAccessToken(ctx, newAccess, session.VerifyOptions{})
	require.NoError(t, err)
}

func TestMiddlewareInvalidClaim(t *testing.T) {
	t.Parallel()

	verified := session.NewBooleanClaim("verified", fixed(false))
	verified.Validators = []session.Validator{verified.IsTrue(0)}

	reg := session.NewRegistry()
	require.NoError(t, reg.Register(verified.Claim))

	h := newHarness(t, session.Config{AntiCsrf: session.AntiCsrfNone, Claims: reg})
	ctx := context.Background()

	tokens, err := h.mgr.CreateNewSession(ctx, "u1", "", "public", nil, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.mgr.Middleware(session.VerifyOptions{})(echoUser(t)).ServeHTTP(rec, headerRequest(tokens.AccessToken, tokens.RefreshToken))
	require.Equal(t, http.StatusForbidden, rec.Code)

	var body session.InvalidClaimsBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, session.StatusInvalidClaims, body.Status)
	require.Len(t, body.ClaimValidationErrors, 1)
	require.Equal(t, "verified-hasValue", body.ClaimValidationErrors[0].ID)

	// an empty validator list switches the check off for this route
	rec = httptest.NewRecorder()
	h.mgr.Middleware(session.VerifyOptions{ClaimValidators: []session.Validator{}})(echoUser(t)).
		ServeHTTP(rec, headerRequest(tokens.AccessToken, tokens.RefreshToken))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddlewareAuthorityDown(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{AntiCsrf: session.AntiCsrfNone})
	ctx := context.Background()

	tokens, err := h.mgr.CreateNewSession(ctx, "u1", "", "public", nil, nil)
	require.NoError(t, err)
	h.auth.setFailure(errNetwork)

	rec := httptest.NewRecorder()
	h.mgr.Middleware(session.VerifyOptions{})(echoUser(t)).ServeHTTP(rec, headerRequest(tokens.AccessToken, tokens.RefreshToken))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, session.StatusUnavailable, decodeStatus(t, rec).Status)
}

func TestRefreshHandlerTheftClearsCookies(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{AntiCsrf: session.AntiCsrfNone})
	ctx := context.Background()

	login := httptest.NewRequest(http.MethodPost, "/login", nil)
	login.Header.Set(session.HeaderAuthMode, "cookie")
	loginRec := httptest.NewRecorder()
	_, err := h.mgr.StartSession(ctx, loginRec, login, "u1", "", "public", nil, nil)
	require.NoError(t, err)
	original := cookieValue(t, loginRec, session.CookieRefreshToken)

	refreshReq := func(rt string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/auth/session/refresh", nil)
		r.RemoteAddr = "203.0.113.7:51000"
		r.AddCookie(&http.Cookie{Name: session.CookieRefreshToken, Value: rt})
		return r
	}

	rec := httptest.NewRecorder()
	h.mgr.RefreshHandler().ServeHTTP(rec, refreshReq(original))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "203.0.113.7", h.auth.lastClientIP, "the end user address is forwarded for rate limiting")
	rotated := cookieValue(t, rec, session.CookieRefreshToken)
	require.NotEqual(t, original, rotated)

	rec = httptest.NewRecorder()
	h.mgr.RefreshHandler().ServeHTTP(rec, refreshReq(original))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, session.StatusTokenTheftDetected, decodeStatus(t, rec).Status)
	require.Empty(t, cookieValue(t, rec, session.CookieAccessToken))
	require.Empty(t, cookieValue(t, rec, session.CookieRefreshToken))
	require.Equal(t, "remove", rec.Header().Get(session.HeaderFrontToken))

	// the legitimate holder is logged out as well
	rec = httptest.NewRecorder()
	h.mgr.RefreshHandler().ServeHTTP(rec, refreshReq(rotated))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, session.StatusUnauthorised, decodeStatus(t, rec).Status)
}

func TestRefreshHandlerRejectsGet(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	rec := httptest.NewRecorder()
	h.mgr.RefreshHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/session/refresh", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRefreshHandlerWithoutToken(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	rec := httptest.NewRecorder()
	h.mgr.RefreshHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/session/refresh", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, session.StatusUnauthorised, decodeStatus(t, rec).Status)
}

// TestCookieSessionRecoversAfterExpiry follows a browser: cookies replayed
// by a jar, so the refresh cookie only reaches the refresh path.
func TestCookieSessionRecoversAfterExpiry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, session.Config{})
	ctx := context.Background()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	apiURL, _ := url.Parse("http://app.example.com/api/items")
	refreshURL, _ := url.Parse("http://app.example.com/auth/session/refresh")

	send := func(method string, u *url.URL) *http.Request {
		r := httptest.NewRequest(method, u.String(), nil)
		r.Header.Set("rid", "session")
		for _, c := range jar.Cookies(u) {
			r.AddCookie(c)
		}
		return r
	}

	login := httptest.NewRequest(http.MethodPost, "http://app.example.com/login", nil)
	login.Header.Set(session.HeaderAuthMode, "cookie")
	loginRec := httptest.NewRecorder()
	_, err = h.mgr.StartSession(ctx, loginRec, login, "u1", "", "public", nil, nil)
	require.NoError(t, err)
	jar.SetCookies(refreshURL, loginRec.Result().Cookies())

	api := send(http.MethodGet, apiURL)
	_, err = api.Cookie(session.CookieRefreshToken)
	require.ErrorIs(t, err, http.ErrNoCookie, "the refresh cookie is path scoped")

	rec := httptest.NewRecorder()
	h.mgr.Middleware(session.VerifyOptions{})(echoUser(t)).ServeHTTP(rec, api)
	require.Equal(t, http.StatusOK, rec.Code)

	h.clk.Advance(2 * time.Hour)

	_, err = h.mgr.Verify(ctx, send(http.MethodGet, apiURL), session.VerifyOptions{})
	require.ErrorIs(t, err, session.ErrTryRefreshToken)
	require.NotErrorIs(t, err, session.ErrUnauthorised)

	rec = httptest.NewRecorder()
	h.mgr.Middleware(session.VerifyOptions{})(echoUser(t)).ServeHTTP(rec, send(http.MethodGet, apiURL))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, session.StatusTryRefreshToken, decodeStatus(t, rec).Status)

	// the frontend refreshes and retries
	rec = httptest.NewRecorder()
	h.mgr.RefreshHandler().ServeHTTP(rec, send(http.MethodPost, refreshURL))
	require.Equal(t, http.StatusOK, rec.Code)
	jar.SetCookies(refreshURL, rec.Result().Cookies())

	rec = httptest.NewRecorder()
	h.mgr.Middleware(session.VerifyOptions{})(echoUser(t)).ServeHTTP(rec, send(http.MethodGet, apiURL))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "u1", decodeStatus(t, rec).Message)
}
