package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/stsession/pkg/eventx"
	"github.com/aussiebroadwan/stsession/pkg/jwtx"
)

// VerifyStatus is the non-error outcome of Verify.
type VerifyStatus int

const (
	StatusVerified VerifyStatus = iota
	StatusRequiresRefresh
	StatusNoSession
)

func (s VerifyStatus) String() string {
	switch s {
	case StatusVerified:
		return "verified"
	case StatusRequiresRefresh:
		return "requires_refresh"
	case StatusNoSession:
		return "no_session"
	default:
		return fmt.Sprintf("VerifyStatus(%d)", int(s))
	}
}

// VerifyOptions tunes a single verification.
type VerifyOptions struct {
	// AllowRefresh turns a recoverable failure into StatusRequiresRefresh
	// when the refresh token is on the request. Without it the failure stays
	// ErrTryRefreshToken.
	AllowRefresh bool

	// SessionOptional returns StatusNoSession when the request carries no
	// tokens at all.
	SessionOptional bool

	// ClaimValidators replaces the registry defaults when non-nil. An empty
	// non-nil slice disables claim validation.
	ClaimValidators []Validator

	// SkipAntiCsrf disables the anti-forgery check, e.g. for safe methods.
	SkipAntiCsrf bool
}

// VerifyResult is the outcome of Verify.
type VerifyResult struct {
	Status  VerifyStatus
	Session *Session

	// Cause explains StatusRequiresRefresh.
	Cause error
}

// Verify checks the access token on r. It never changes any state: no
// tokens are written and the authority is not called (apart from a key
// fetch for an unknown kid).
func (m *Manager) Verify(ctx context.Context, r *http.Request, opts VerifyOptions) (*VerifyResult, error) {
	token, method := m.accessTokenFrom(r)
	if token == "" {
		if !hasRefreshToken(r) {
			if opts.SessionOptional {
				return &VerifyResult{Status: StatusNoSession}, nil
			}
			return nil, fmt.Errorf("%w: no session tokens on request", ErrUnauthorised)
		}
		return tryRefresh(r, opts, fmt.Errorf("%w: access token missing", ErrTryRefreshToken))
	}

	claims, err := m.decoder.Decode(ctx, token)
	if err != nil {
		derr := decodeError(err)
		if errors.Is(derr, ErrAuthorityUnavailable) {
			return nil, derr
		}
		return tryRefresh(r, opts, derr)
	}

	// A forged request must not be able to trigger a refresh, so this
	// failure never becomes StatusRequiresRefresh.
	if method == TransferCookie && !opts.SkipAntiCsrf {
		if err := CheckAntiForgery(r, claims, m.cfg.AntiCsrf, m.cfg.CustomHeaderName); err != nil {
			return nil, err
		}
	}

	if err := m.validateClaims(claims, opts); err != nil {
		return nil, err
	}

	s := newSessionFromClaims(m, token, claims, method, nil)
	eventx.Emit(ctx, EventSessionVerified, "session_handle", s.handle, "user_id", s.userID)
	return &VerifyResult{Status: StatusVerified, Session: s}, nil
}

// VerifyAccessToken checks a bare access token outside of any request. No
// anti-forgery check applies. Failures are ErrTryRefreshToken,
// *InvalidClaimError or ErrAuthorityUnavailable.
func (m *Manager) VerifyAccessToken(ctx context.Context, token string, opts VerifyOptions) (*Session, error) {
	claims, err := m.decoder.Decode(ctx, token)
	if err != nil {
		return nil, decodeError(err)
	}
	if err := m.validateClaims(claims, opts); err != nil {
		return nil, err
	}
	s := newSessionFromClaims(m, token, claims, TransferHeader, nil)
	eventx.Emit(ctx, EventSessionVerified, "session_handle", s.handle, "user_id", s.userID)
	return s, nil
}

// VerifyAndRefresh verifies r and, when the access token needs it, refreshes
// the session, writes the new tokens to w and verifies the new access token
// once. A nil Session with a nil error means no session and
// opts.SessionOptional.
func (m *Manager) VerifyAndRefresh(ctx context.Context, w http.ResponseWriter, r *http.Request, opts VerifyOptions) (*Session, error) {
	opts.AllowRefresh = true

	res, err := m.Verify(ctx, r, opts)
	if err != nil {
		return nil, err
	}

	switch res.Status {
	case StatusVerified:
		res.Session.w = w
		return res.Session, nil
	case StatusNoSession:
		return nil, nil
	}

	t, err := m.RefreshFromRequest(ctx, w, r)
	if err != nil {
		return nil, err
	}

	claims, err := m.decoder.Decode(ctx, t.AccessToken)
	if err != nil {
		return nil, decodeError(err)
	}
	if err := m.validateClaims(claims, opts); err != nil {
		return nil, err
	}

	s := newSessionFromClaims(m, t.AccessToken, claims, t.Session.method, w)
	eventx.Emit(ctx, EventSessionVerified, "session_handle", s.handle, "user_id", s.userID)
	return s, nil
}

func (m *Manager) validateClaims(claims *jwtx.Claims, opts VerifyOptions) error {
	validators := opts.ClaimValidators
	if validators == nil {
		validators = m.cfg.Claims.DefaultValidators()
	}
	return ValidateClaims(claims.Payload, validators, m.now())
}

// tryRefresh reports a recoverable failure. The refresh cookie is scoped to
// the refresh path, so its absence here says nothing about the session: the
// client is told to refresh and only an in-place refresh needs the token.
func tryRefresh(r *http.Request, opts VerifyOptions, cause error) (*VerifyResult, error) {
	if opts.AllowRefresh && hasRefreshToken(r) {
		return &VerifyResult{Status: StatusRequiresRefresh, Cause: cause}, nil
	}
	return nil, cause
}

// decodeError maps codec failures. Only an unreachable key source is
// transient; everything else asks the client to refresh.
func decodeError(err error) error {
	if errors.Is(err, jwtx.ErrKeyUnavailable) {
		return unavailable(err)
	}
	return fmt.Errorf("%w: %w", ErrTryRefreshToken, err)
}
