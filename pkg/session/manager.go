// Package session verifies, refreshes and revokes user sessions issued by a
// session authority.
//
// The Manager never stores sessions. Access tokens are verified locally
// against the authority's published keys (see keycache); everything that
// changes session state (create, refresh, payload regeneration, revocation)
// is a call to the Authority.
package session

import (
	"context"
	"net/http"
	"time"

	"github.com/aussiebroadwan/stsession/pkg/authsdk"
	"github.com/aussiebroadwan/stsession/pkg/jwtx"
	"github.com/aussiebroadwan/stsession/pkg/keycache"
)

// Authority is the remote owner of session state. *authsdk.SDKClient
// implements it over HTTP.
//
// Protocol outcomes (UNAUTHORISED, TOKEN_THEFT_DETECTED) come back in the
// response status. A returned error always means the call itself failed.
type Authority interface {
	CreateSession(ctx context.Context, req authsdk.CreateSessionRequest) (*authsdk.SessionResponse, error)
	RefreshSession(ctx context.Context, req authsdk.RefreshSessionRequest) (*authsdk.SessionResponse, error)
	RegenerateAccessToken(ctx context.Context, req authsdk.RegenerateAccessTokenRequest) (*authsdk.RegenerateAccessTokenResponse, error)
	RevokeSessions(ctx context.Context, req authsdk.RevokeSessionsRequest) (*authsdk.RevokeSessionsResponse, error)
	GetSessionInformation(ctx context.Context, handle string) (*authsdk.SessionInformation, error)
	UpdateSessionData(ctx context.Context, req authsdk.UpdateSessionDataRequest) (*authsdk.StatusResponse, error)
}

var _ Authority = (*authsdk.SDKClient)(nil)

// TokenDecoder verifies access tokens. jwtx.Decoder implements it.
type TokenDecoder interface {
	Decode(ctx context.Context, token string) (*jwtx.Claims, error)
	DecodeIgnoringExpiry(ctx context.Context, token string) (*jwtx.Claims, error)
}

var _ TokenDecoder = jwtx.Decoder{}

// Config controls transport and anti-forgery behaviour.
type Config struct {
	// AntiCsrf defaults to AntiCsrfViaCustomHeader.
	AntiCsrf AntiCsrfMode

	// CustomHeaderName is checked by AntiCsrfViaCustomHeader. Default "rid".
	CustomHeaderName string

	// GetTokenTransferMethod picks the transport when the request does not
	// say (st-auth-mode missing or "any"). forCreate is true when a new
	// session is being written. Default: TransferAny.
	GetTokenTransferMethod func(r *http.Request, forCreate bool) TransferMethod

	CookieSecure   bool
	CookieSameSite http.SameSite
	CookieDomain   string

	// AccessTokenPath scopes the access token cookie. Default "/".
	AccessTokenPath string

	// RefreshPath scopes the refresh token cookie. Default "/auth/session/refresh".
	RefreshPath string

	// ClockSkew is tolerated on access token expiry. Default 1s.
	ClockSkew time.Duration

	// Claims attached to every new session and fetched again on each
	// refresh. Optional.
	Claims *Registry

	// Now overrides the clock.
	Now func() time.Time
}

func (c *Config) normalise() {
	if c.AntiCsrf == "" {
		c.AntiCsrf = AntiCsrfViaCustomHeader
	}
	if c.CustomHeaderName == "" {
		c.CustomHeaderName = DefaultCustomHeader
	}
	if c.GetTokenTransferMethod == nil {
		c.GetTokenTransferMethod = func(*http.Request, bool) TransferMethod { return TransferAny }
	}
	if c.CookieSameSite == 0 {
		c.CookieSameSite = http.SameSiteLaxMode
	}
	if c.AccessTokenPath == "" {
		c.AccessTokenPath = "/"
	}
	if c.RefreshPath == "" {
		c.RefreshPath = "/auth/session/refresh"
	}
	if c.ClockSkew <= 0 {
		c.ClockSkew = jwtx.DefaultLeeway
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Claims == nil {
		c.Claims = NewRegistry()
	}
	c.Claims.setClockIfUnset(c.Now)
}

// Manager is the entry point for session operations. It is safe for
// concurrent use and holds no per-session state.
type Manager struct {
	cfg       Config
	authority Authority
	decoder   TokenDecoder
}

// NewManager wires a Manager from its strategies.
func NewManager(cfg Config, authority Authority, decoder TokenDecoder) *Manager {
	cfg.normalise()
	return &Manager{cfg: cfg, authority: authority, decoder: decoder}
}

// NewHTTPManager builds the usual stack: client for session calls, a key
// cache fed by the same client, and a decoder on top of the cache.
func NewHTTPManager(cfg Config, client *authsdk.SDKClient, cacheOpts keycache.Options) (*Manager, *keycache.Cache) {
	cfg.normalise()
	cache := keycache.New(client, cacheOpts)
	dec := jwtx.Decoder{Keys: cache, Leeway: cfg.ClockSkew, Now: cfg.Now}
	return NewManager(cfg, client, dec), cache
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Claims returns the claim registry.
func (m *Manager) Claims() *Registry { return m.cfg.Claims }

func (m *Manager) now() time.Time { return m.cfg.Now() }
