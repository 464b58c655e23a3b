package session

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/stsession/pkg/authsdk"
	"github.com/aussiebroadwan/stsession/pkg/eventx"
	"github.com/aussiebroadwan/stsession/pkg/jwtx"
)

// Session is a verified, request-scoped view of a session. Mutations go to
// the authority and, when the Session came from a request, the new access
// token is written to that request's response. Call them before the handler
// writes its body.
type Session struct {
	m *Manager

	handle       string
	userID       string
	recipeUserID string
	tenantID     string

	mu          sync.Mutex
	accessToken string
	expiry      time.Time
	payload     map[string]any

	method TransferMethod
	w      http.ResponseWriter
}

func newSessionFromClaims(m *Manager, token string, c *jwtx.Claims, method TransferMethod, w http.ResponseWriter) *Session {
	return &Session{
		m:            m,
		handle:       c.SessionHandle,
		userID:       c.Subject,
		recipeUserID: c.RecipeUserID,
		tenantID:     c.TenantID,
		accessToken:  token,
		expiry:       c.Expiry(),
		payload:      maps.Clone(c.Payload),
		method:       method,
		w:            w,
	}
}

func newSessionFromRef(m *Manager, ref *authsdk.SessionRef, access *authsdk.TokenInfo) *Session {
	s := &Session{
		m:            m,
		handle:       ref.Handle,
		userID:       ref.UserID,
		recipeUserID: ref.RecipeUserID,
		tenantID:     ref.TenantID,
		payload:      maps.Clone(ref.UserDataInJWT),
	}
	if s.recipeUserID == "" {
		s.recipeUserID = s.userID
	}
	if access != nil {
		s.accessToken = access.Token
		s.expiry = access.ExpiresAt()
	}
	return s
}

func (s *Session) Handle() string       { return s.handle }
func (s *Session) UserID() string       { return s.userID }
func (s *Session) RecipeUserID() string { return s.recipeUserID }
func (s *Session) TenantID() string     { return s.tenantID }

// AccessToken returns the current access token, which changes after a
// payload update.
func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// Expiry returns the access token expiry.
func (s *Session) Expiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiry
}

// AccessTokenPayload returns a copy of the custom payload.
func (s *Session) AccessTokenPayload() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.payload)
}

// GetClaimValue reads a claim from the payload.
func (s *Session) GetClaimValue(c Claim) (ClaimValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := ReadClaim(s.payload, c.Key)
	return v, v.Present
}

// ValidateClaims checks validators against the current payload.
func (s *Session) ValidateClaims(validators []Validator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ValidateClaims(s.payload, validators, s.m.now())
}

// FetchAndSetClaim refreshes c from its source and stores it in the token.
func (s *Session) FetchAndSetClaim(ctx context.Context, c Claim) error {
	if c.Fetch == nil {
		return fmt.Errorf("session: claim %q has no fetch function", c.Key)
	}
	v, ok, err := c.Fetch(ctx, s.userID, s.tenantID)
	if err != nil {
		return fmt.Errorf("session: fetch claim %q: %w", c.Key, err)
	}
	if !ok {
		return s.RemoveClaim(ctx, c)
	}
	return s.SetClaimValue(ctx, c, v)
}

// SetClaimValue stores value for c without consulting its source.
func (s *Session) SetClaimValue(ctx context.Context, c Claim, value any) error {
	if jwtx.IsProtectedClaim(c.Key) {
		return fmt.Errorf("%w: %q", ErrProtectedClaim, c.Key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := maps.Clone(s.payload)
	if next == nil {
		next = make(map[string]any)
	}
	next[c.Key] = storedClaim(value, s.m.now())
	return s.regenerateLocked(ctx, next)
}

// RemoveClaim deletes c from the token.
func (s *Session) RemoveClaim(ctx context.Context, c Claim) error {
	return s.MergeIntoAccessTokenPayload(ctx, map[string]any{c.Key: nil})
}

// MergeIntoAccessTokenPayload applies update to the payload. Nil values
// delete keys.
func (s *Session) MergeIntoAccessTokenPayload(ctx context.Context, update map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := MergePayload(s.payload, update)
	if err != nil {
		return err
	}
	return s.regenerateLocked(ctx, next)
}

func (s *Session) regenerateLocked(ctx context.Context, payload map[string]any) error {
	resp, err := s.m.authority.RegenerateAccessToken(ctx, authsdk.RegenerateAccessTokenRequest{
		AccessToken:   s.accessToken,
		UserDataInJWT: payload,
	})
	if err != nil {
		return unavailable(err)
	}

	switch resp.Status {
	case authsdk.StatusOK:
	case authsdk.StatusUnauthorised:
		return fmt.Errorf("%w: %s", ErrUnauthorised, resp.Message)
	default:
		return unavailable(fmt.Errorf("unexpected regenerate status %q", resp.Status))
	}

	s.payload = payload
	if resp.Session != nil && resp.Session.UserDataInJWT != nil {
		s.payload = maps.Clone(resp.Session.UserDataInJWT)
	}

	if resp.AccessToken != nil {
		s.accessToken = resp.AccessToken.Token
		s.expiry = resp.AccessToken.ExpiresAt()
		if s.w != nil {
			front, err := EncodeFrontToken(s.userID, s.expiry, s.payload)
			if err != nil {
				return err
			}
			s.m.writeAccessToken(s.w, s.accessToken, front, s.method)
		}
	}

	eventx.Emit(ctx, EventClaimsRegenerated, "session_handle", s.handle)
	return nil
}

// Revoke ends the session at the authority and, for request-bound sessions,
// clears the client's tokens.
func (s *Session) Revoke(ctx context.Context) error {
	if _, err := s.m.RevokeSession(ctx, s.handle); err != nil {
		return err
	}
	if s.w != nil {
		s.m.ClearTokens(s.w, s.method)
	}
	return nil
}

// GetSessionDataFromDatabase returns the server-side data of the session.
func (s *Session) GetSessionDataFromDatabase(ctx context.Context) (map[string]any, error) {
	info, err := s.m.GetSessionInformation(ctx, s.handle)
	if err != nil {
		return nil, err
	}
	return info.UserDataInDatabase, nil
}

// UpdateSessionDataInDatabase replaces the server-side data of the session.
func (s *Session) UpdateSessionDataInDatabase(ctx context.Context, data map[string]any) error {
	return s.m.UpdateSessionDataInDatabase(ctx, s.handle, data)
}

type sessionCtxKey struct{}

// WithSession attaches s to ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, s)
}

// FromContext returns the session put there by the middleware.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionCtxKey{}).(*Session)
	return s, ok && s != nil
}
