package session_test

import (
	"context"
	"errors"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/stsession/pkg/authsdk"
	"github.com/aussiebroadwan/stsession/pkg/cryptox"
	"github.com/aussiebroadwan/stsession/pkg/idx"
	"github.com/aussiebroadwan/stsession/pkg/jwtx"
	"github.com/aussiebroadwan/stsession/pkg/keycache"
	"github.com/aussiebroadwan/stsession/pkg/session"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Unix(1_700_000_000, 0)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeSession struct {
	ref      authsdk.SessionRef
	data     map[string]any
	antiCsrf string
	created  time.Time
	current  string // hash2 of the live refresh token
	revoked  bool
}

// fakeAuthority keeps sessions in memory and rotates refresh tokens the way
// the reference authority does: a rotated token presented again is theft.
type fakeAuthority struct {
	mu       sync.Mutex
	clk      *clock
	signer   jwtx.Signer
	keys     *jwtx.KeySet
	sessions map[string]*fakeSession
	rotated  map[string]string // hash2 -> handle, for tokens already used
	live     map[string]string // hash2 -> handle

	accessTTL  time.Duration
	refreshTTL time.Duration

	// failWith makes every session call fail, as if the network were down.
	failWith error
	// lastRefresh is the most recent refresh request seen.
	lastRefresh authsdk.RefreshSessionRequest
	// lastClientIP is the end user address forwarded with it.
	lastClientIP string
}

var _ session.Authority = (*fakeAuthority)(nil)

func newFakeAuthority(t *testing.T, clk *clock) *fakeAuthority {
	t.Helper()

	pemKey, err := cryptox.GenerateEd25519Key()
	require.NoError(t, err)
	signer, err := jwtx.NewSigner(jwtx.AlgorithmEdDSA, "s-"+idx.New().String(), pemKey)
	require.NoError(t, err)

	keys := jwtx.NewKeySet()
	require.NoError(t, keys.ResetFromJWKS(jwtx.JWKS{Keys: []jwtx.JWK{signer.PublicJWK()}}))

	return &fakeAuthority{
		clk:        clk,
		signer:     signer,
		keys:       keys,
		sessions:   make(map[string]*fakeSession),
		rotated:    make(map[string]string),
		live:       make(map[string]string),
		accessTTL:  time.Hour,
		refreshTTL: 24 * time.Hour,
	}
}

func (a *fakeAuthority) FetchJWKS(context.Context) (jwtx.JWKS, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failWith != nil {
		return jwtx.JWKS{}, a.failWith
	}
	return a.keys.PublicJWKS(), nil
}

func (a *fakeAuthority) setFailure(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failWith = err
}

func (a *fakeAuthority) mintLocked(s *fakeSession) (*authsdk.SessionResponse, error) {
	now := a.clk.Now()
	rt, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}
	hash1 := cryptox.HashRefreshToken(rt)
	hash2 := cryptox.HashRefreshToken(hash1)

	at, err := a.signAccessLocked(s, hash1)
	if err != nil {
		return nil, err
	}

	if s.current != "" {
		delete(a.live, s.current)
		a.rotated[s.current] = s.ref.Handle
	}
	s.current = hash2
	a.live[hash2] = s.ref.Handle

	ref := s.ref
	ref.UserDataInJWT = maps.Clone(s.ref.UserDataInJWT)
	return &authsdk.SessionResponse{
		Status:        authsdk.StatusOK,
		Session:       &ref,
		AccessToken:   &authsdk.TokenInfo{Token: at, Expiry: now.Add(a.accessTTL).UnixMilli(), CreatedTime: now.UnixMilli()},
		RefreshToken:  &authsdk.TokenInfo{Token: rt, Expiry: now.Add(a.refreshTTL).UnixMilli(), CreatedTime: now.UnixMilli()},
		AntiCsrfToken: s.antiCsrf,
	}, nil
}

func (a *fakeAuthority) signAccessLocked(s *fakeSession, hash1 string) (string, error) {
	claims := jwtx.NewAccessClaims(s.ref.UserID, s.ref.RecipeUserID, s.ref.TenantID, s.ref.Handle, hash1, s.ref.UserDataInJWT, a.clk.Now(), a.accessTTL)
	claims.AntiCsrfToken = s.antiCsrf
	return jwtx.Encode(a.signer, claims)
}

func (a *fakeAuthority) CreateSession(_ context.Context, req authsdk.CreateSessionRequest) (*authsdk.SessionResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failWith != nil {
		return nil, a.failWith
	}

	recipe := req.RecipeUserID
	if recipe == "" {
		recipe = req.UserID
	}
	s := &fakeSession{
		ref: authsdk.SessionRef{
			Handle:        idx.New().String(),
			UserID:        req.UserID,
			RecipeUserID:  recipe,
			TenantID:      req.TenantID,
			UserDataInJWT: maps.Clone(req.UserDataInJWT),
		},
		data:    maps.Clone(req.UserDataInDatabase),
		created: a.clk.Now(),
	}
	if req.EnableAntiCsrf {
		s.antiCsrf = uuid.NewString()
	}
	a.sessions[s.ref.Handle] = s
	return a.mintLocked(s)
}

func (a *fakeAuthority) RefreshSession(ctx context.Context, req authsdk.RefreshSessionRequest) (*authsdk.SessionResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failWith != nil {
		return nil, a.failWith
	}
	a.lastRefresh = req
	a.lastClientIP = authsdk.ClientIPFromContext(ctx)

	hash2 := cryptox.HashRefreshToken(req.RefreshTokenHash1)

	if handle, ok := a.rotated[hash2]; ok {
		s := a.sessions[handle]
		s.revoked = true
		delete(a.live, s.current)
		return &authsdk.SessionResponse{
			Status:  authsdk.StatusTokenTheftDetected,
			Session: &authsdk.SessionRef{Handle: handle, UserID: s.ref.UserID, RecipeUserID: s.ref.RecipeUserID},
		}, nil
	}

	handle, ok := a.live[hash2]
	if !ok || a.sessions[handle].revoked {
		return &authsdk.SessionResponse{Status: authsdk.StatusUnauthorised, Message: "unknown refresh token"}, nil
	}
	s := a.sessions[handle]
	if req.EnableAntiCsrf && s.antiCsrf != "" && req.AntiCsrfToken != s.antiCsrf {
		return &authsdk.SessionResponse{Status: authsdk.StatusUnauthorised, Message: "anti-csrf check failed"}, nil
	}
	return a.mintLocked(s)
}

func (a *fakeAuthority) RegenerateAccessToken(ctx context.Context, req authsdk.RegenerateAccessTokenRequest) (*authsdk.RegenerateAccessTokenResponse, error) {
	claims, err := jwtx.Decoder{Keys: a.keys, Now: a.clk.Now}.DecodeIgnoringExpiry(ctx, req.AccessToken)
	if err != nil {
		return &authsdk.RegenerateAccessTokenResponse{Status: authsdk.StatusUnauthorised, Message: err.Error()}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failWith != nil {
		return nil, a.failWith
	}

	s, ok := a.sessions[claims.SessionHandle]
	if !ok || s.revoked {
		return &authsdk.RegenerateAccessTokenResponse{Status: authsdk.StatusUnauthorised, Message: "session revoked"}, nil
	}
	s.ref.UserDataInJWT = maps.Clone(req.UserDataInJWT)

	at, err := a.signAccessLocked(s, claims.RefreshTokenHash1)
	if err != nil {
		return nil, err
	}
	now := a.clk.Now()
	ref := s.ref
	return &authsdk.RegenerateAccessTokenResponse{
		Status:      authsdk.StatusOK,
		Session:     &ref,
		AccessToken: &authsdk.TokenInfo{Token: at, Expiry: now.Add(a.accessTTL).UnixMilli(), CreatedTime: now.UnixMilli()},
	}, nil
}

func (a *fakeAuthority) RevokeSessions(_ context.Context, req authsdk.RevokeSessionsRequest) (*authsdk.RevokeSessionsResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failWith != nil {
		return nil, a.failWith
	}

	out := &authsdk.RevokeSessionsResponse{Status: authsdk.StatusOK, SessionHandlesRevoked: []string{}}
	revoke := func(s *fakeSession) {
		if s.revoked {
			return
		}
		s.revoked = true
		delete(a.live, s.current)
		out.SessionHandlesRevoked = append(out.SessionHandlesRevoked, s.ref.Handle)
	}

	if len(req.SessionHandles) > 0 {
		for _, h := range req.SessionHandles {
			if s, ok := a.sessions[h]; ok {
				revoke(s)
			}
		}
		return out, nil
	}
	for _, s := range a.sessions {
		if s.ref.UserID == req.UserID && s.ref.TenantID == req.TenantID {
			revoke(s)
		}
	}
	return out, nil
}

func (a *fakeAuthority) GetSessionInformation(_ context.Context, handle string) (*authsdk.SessionInformation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failWith != nil {
		return nil, a.failWith
	}

	s, ok := a.sessions[handle]
	if !ok || s.revoked {
		return &authsdk.SessionInformation{Status: authsdk.StatusUnauthorised}, nil
	}
	return &authsdk.SessionInformation{
		Status:             authsdk.StatusOK,
		SessionHandle:      s.ref.Handle,
		UserID:             s.ref.UserID,
		RecipeUserID:       s.ref.RecipeUserID,
		TenantID:           s.ref.TenantID,
		UserDataInJWT:      maps.Clone(s.ref.UserDataInJWT),
		UserDataInDatabase: maps.Clone(s.data),
		TimeCreated:        s.created.UnixMilli(),
		Expiry:             s.created.Add(a.refreshTTL).UnixMilli(),
	}, nil
}

func (a *fakeAuthority) UpdateSessionData(_ context.Context, req authsdk.UpdateSessionDataRequest) (*authsdk.StatusResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failWith != nil {
		return nil, a.failWith
	}

	s, ok := a.sessions[req.SessionHandle]
	if !ok || s.revoked {
		return &authsdk.StatusResponse{Status: authsdk.StatusUnauthorised}, nil
	}
	s.data = maps.Clone(req.UserDataInDatabase)
	return &authsdk.StatusResponse{Status: authsdk.StatusOK}, nil
}

var errNetwork = errors.New("connection refused")

// harness is a Manager wired to a fake authority through a real key cache.
type harness struct {
	clk   *clock
	auth  *fakeAuthority
	cache *keycache.Cache
	mgr   *session.Manager
}

func newHarness(t *testing.T, cfg session.Config) *harness {
	t.Helper()

	clk := newClock()
	auth := newFakeAuthority(t, clk)
	cache := keycache.New(auth, keycache.Options{Now: clk.Now})

	cfg.Now = clk.Now
	mgr := session.NewManager(cfg, auth, jwtx.Decoder{Keys: cache, Now: clk.Now})

	return &harness{clk: clk, auth: auth, cache: cache, mgr: mgr}
}
