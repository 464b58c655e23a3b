package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"time"

	"github.com/aussiebroadwan/stsession/pkg/authsdk"
	"github.com/aussiebroadwan/stsession/pkg/cryptox"
	"github.com/aussiebroadwan/stsession/pkg/eventx"
	"github.com/aussiebroadwan/stsession/pkg/httpx"
	"github.com/aussiebroadwan/stsession/pkg/slogx"
)

// Tokens is a freshly minted credential set.
type Tokens struct {
	AccessToken        string
	AccessTokenExpiry  time.Time
	RefreshToken       string
	RefreshTokenExpiry time.Time
	AntiCsrfToken      string
	FrontToken         string

	Session *Session
}

// RefreshInput is one refresh attempt.
type RefreshInput struct {
	RefreshToken string

	// AntiCsrfToken is forwarded when EnableAntiCsrf is set.
	AntiCsrfToken  string
	EnableAntiCsrf bool

	// SessionHandle of the presented access token, if it could be decoded.
	SessionHandle string
}

// CreateNewSession starts a session. payload becomes the custom access
// token payload after registered claims are fetched into it; dbData stays
// at the authority.
func (m *Manager) CreateNewSession(ctx context.Context, userID, recipeUserID, tenantID string, payload, dbData map[string]any) (*Tokens, error) {
	return m.createSession(ctx, userID, recipeUserID, tenantID, payload, dbData, m.cfg.AntiCsrf == AntiCsrfViaToken)
}

// StartSession creates a session and writes its tokens to w using the
// transport the request asks for.
func (m *Manager) StartSession(ctx context.Context, w http.ResponseWriter, r *http.Request, userID, recipeUserID, tenantID string, payload, dbData map[string]any) (*Session, error) {
	method := m.writePreference(r)
	enableAntiCsrf := method == TransferCookie && m.cfg.AntiCsrf == AntiCsrfViaToken

	t, err := m.createSession(ctx, userID, recipeUserID, tenantID, payload, dbData, enableAntiCsrf)
	if err != nil {
		return nil, err
	}
	m.WriteTokens(w, t, method)
	t.Session.method = method
	t.Session.w = w
	return t.Session, nil
}

func (m *Manager) createSession(ctx context.Context, userID, recipeUserID, tenantID string, payload, dbData map[string]any, enableAntiCsrf bool) (*Tokens, error) {
	if userID == "" {
		return nil, errors.New("session: user id is required")
	}

	base, err := MergePayload(nil, payload)
	if err != nil {
		return nil, err
	}
	full, err := m.cfg.Claims.BuildPayloadUpdate(ctx, userID, tenantID, base)
	if err != nil {
		return nil, err
	}

	resp, err := m.authority.CreateSession(ctx, authsdk.CreateSessionRequest{
		UserID:             userID,
		RecipeUserID:       recipeUserID,
		TenantID:           tenantID,
		UserDataInJWT:      full,
		UserDataInDatabase: dbData,
		EnableAntiCsrf:     enableAntiCsrf,
	})
	if err != nil {
		return nil, unavailable(err)
	}
	if resp.Status != authsdk.StatusOK {
		return nil, unavailable(fmt.Errorf("unexpected create status %q: %s", resp.Status, resp.Message))
	}

	t, err := m.tokensFrom(resp, full)
	if err != nil {
		return nil, err
	}

	eventx.Emit(ctx, EventSessionCreated, "session_handle", t.Session.handle, "user_id", userID)
	return t, nil
}

// RefreshSession rotates a refresh token. The token is hashed before it
// leaves the process. Concurrent refreshes are not serialised here; the
// authority decides which one wins. Registered claims are fetched again so
// the new access token carries current values.
func (m *Manager) RefreshSession(ctx context.Context, in RefreshInput) (*Tokens, error) {
	if in.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrUnauthorised)
	}

	req := authsdk.RefreshSessionRequest{
		RefreshTokenHash1: cryptox.HashRefreshToken(in.RefreshToken),
		EnableAntiCsrf:    in.EnableAntiCsrf,
		SessionHandle:     in.SessionHandle,
	}
	if in.EnableAntiCsrf {
		req.AntiCsrfToken = in.AntiCsrfToken
	}

	resp, err := m.authority.RefreshSession(ctx, req)
	if err != nil {
		return nil, unavailable(err)
	}

	switch resp.Status {
	case authsdk.StatusOK:
		t, err := m.tokensFrom(resp, nil)
		if err != nil {
			return nil, err
		}
		m.refetchClaims(ctx, t)
		eventx.Emit(ctx, EventRefreshSucceeded, "session_handle", t.Session.handle)
		return t, nil

	case authsdk.StatusUnauthorised:
		eventx.Emit(ctx, EventRefreshUnauthorised, "message", resp.Message)
		return nil, fmt.Errorf("%w: %s", ErrUnauthorised, resp.Message)

	case authsdk.StatusTokenTheftDetected:
		theft := &TokenTheftError{}
		if resp.Session != nil {
			theft.SessionHandle = resp.Session.Handle
			theft.UserID = resp.Session.UserID
			theft.RecipeUserID = resp.Session.RecipeUserID
		}
		slogx.FromContext(ctx).WarnContext(ctx, "refresh token reuse detected",
			"session_handle", theft.SessionHandle,
			"user_id", theft.UserID,
		)
		eventx.Emit(ctx, EventTokenTheftDetected, "session_handle", theft.SessionHandle, "user_id", theft.UserID)
		return nil, theft

	default:
		return nil, unavailable(fmt.Errorf("unexpected refresh status %q", resp.Status))
	}
}

// RefreshFromRequest runs a refresh for the tokens on r and writes the
// result to w. Terminal failures clear the client's tokens; transient ones
// leave them alone so the client can retry.
func (m *Manager) RefreshFromRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) (*Tokens, error) {
	token, method := m.refreshTokenFrom(r)
	if token == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrUnauthorised)
	}

	in := RefreshInput{RefreshToken: token}
	if method == TransferCookie {
		switch m.cfg.AntiCsrf {
		case AntiCsrfViaToken:
			in.EnableAntiCsrf = true
			in.AntiCsrfToken = r.Header.Get(HeaderAntiCsrf)
		case AntiCsrfViaCustomHeader:
			if r.Header.Get(m.cfg.CustomHeaderName) == "" {
				return nil, fmt.Errorf("%w: missing %s header on refresh", ErrUnauthorised, m.cfg.CustomHeaderName)
			}
		}
	}

	if access, _ := m.accessTokenFrom(r); access != "" {
		if c, err := m.decoder.DecodeIgnoringExpiry(ctx, access); err == nil {
			in.SessionHandle = c.SessionHandle
		}
	}

	t, err := m.RefreshSession(authsdk.WithClientIP(ctx, httpx.IPKeyExtractor(r)), in)
	if err != nil {
		if errors.Is(err, ErrUnauthorised) || errors.Is(err, ErrTokenTheftDetected) {
			m.ClearTokens(w, method)
		}
		return nil, err
	}

	m.WriteTokens(w, t, method)
	t.Session.method = method
	t.Session.w = w
	return t, nil
}

// refetchClaims re-runs the registered fetchers for a freshly rotated session
// and swaps in the regenerated access token. The rotation is already
// committed at the authority, so on failure t keeps the carried-over payload.
func (m *Manager) refetchClaims(ctx context.Context, t *Tokens) {
	if !m.cfg.Claims.hasFetchers() {
		return
	}

	s := t.Session
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := m.cfg.Claims.BuildPayloadUpdate(ctx, s.userID, s.tenantID, s.payload)
	if err == nil {
		err = s.regenerateLocked(ctx, next)
	}
	var front string
	if err == nil {
		front, err = EncodeFrontToken(s.userID, s.expiry, s.payload)
	}
	if err != nil {
		slogx.FromContext(ctx).WarnContext(ctx, "claims not refetched on refresh",
			"session_handle", s.handle,
			"error", err,
		)
		return
	}

	t.AccessToken = s.accessToken
	t.AccessTokenExpiry = s.expiry
	t.FrontToken = front
}

// tokensFrom builds Tokens from an OK response. payload stands in when the
// authority did not echo the custom payload.
func (m *Manager) tokensFrom(resp *authsdk.SessionResponse, payload map[string]any) (*Tokens, error) {
	if resp.Session == nil || resp.AccessToken == nil || resp.RefreshToken == nil {
		return nil, unavailable(errors.New("authority response is missing tokens"))
	}

	s := newSessionFromRef(m, resp.Session, resp.AccessToken)
	if s.payload == nil {
		s.payload = maps.Clone(payload)
	}
	front, err := EncodeFrontToken(s.userID, s.expiry, s.payload)
	if err != nil {
		return nil, err
	}

	return &Tokens{
		AccessToken:        resp.AccessToken.Token,
		AccessTokenExpiry:  resp.AccessToken.ExpiresAt(),
		RefreshToken:       resp.RefreshToken.Token,
		RefreshTokenExpiry: resp.RefreshToken.ExpiresAt(),
		AntiCsrfToken:      resp.AntiCsrfToken,
		FrontToken:         front,
		Session:            s,
	}, nil
}

// RevokeSession ends one session. It reports whether the authority knew it.
func (m *Manager) RevokeSession(ctx context.Context, handle string) (bool, error) {
	resp, err := m.authority.RevokeSessions(ctx, authsdk.RevokeSessionsRequest{SessionHandles: []string{handle}})
	if err != nil {
		return false, unavailable(err)
	}
	eventx.Emit(ctx, EventSessionRevoked, "session_handle", handle, "revoked", len(resp.SessionHandlesRevoked))
	return len(resp.SessionHandlesRevoked) > 0, nil
}

// RevokeAllSessionsForUser ends every session of a user in a tenant and
// returns the revoked handles.
func (m *Manager) RevokeAllSessionsForUser(ctx context.Context, userID, tenantID string) ([]string, error) {
	resp, err := m.authority.RevokeSessions(ctx, authsdk.RevokeSessionsRequest{UserID: userID, TenantID: tenantID})
	if err != nil {
		return nil, unavailable(err)
	}
	for _, h := range resp.SessionHandlesRevoked {
		eventx.Emit(ctx, EventSessionRevoked, "session_handle", h, "user_id", userID)
	}
	return resp.SessionHandlesRevoked, nil
}

// GetSessionInformation returns the authority's record of a session, or
// ErrUnauthorised when it no longer exists.
func (m *Manager) GetSessionInformation(ctx context.Context, handle string) (*authsdk.SessionInformation, error) {
	info, err := m.authority.GetSessionInformation(ctx, handle)
	if err != nil {
		return nil, unavailable(err)
	}
	if info.Status != authsdk.StatusOK {
		return nil, fmt.Errorf("%w: session %s not found", ErrUnauthorised, handle)
	}
	return info, nil
}

// UpdateSessionDataInDatabase replaces the server-side data of a session.
func (m *Manager) UpdateSessionDataInDatabase(ctx context.Context, handle string, data map[string]any) error {
	resp, err := m.authority.UpdateSessionData(ctx, authsdk.UpdateSessionDataRequest{SessionHandle: handle, UserDataInDatabase: data})
	if err != nil {
		return unavailable(err)
	}
	if resp.Status != authsdk.StatusOK {
		return fmt.Errorf("%w: session %s not found", ErrUnauthorised, handle)
	}
	return nil
}
