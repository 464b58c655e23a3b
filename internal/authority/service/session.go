package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/aussiebroadwan/stsession/internal/authority/domain"
	"github.com/aussiebroadwan/stsession/internal/authority/store"
	"github.com/aussiebroadwan/stsession/pkg/cryptox"
	"github.com/aussiebroadwan/stsession/pkg/idx"
	"github.com/aussiebroadwan/stsession/pkg/jwtx"
	"github.com/aussiebroadwan/stsession/pkg/slogx"
)

// SessionService owns the session lifecycle: creation, refresh token
// rotation with reuse detection, revocation and session data.
//
// Clients never send raw refresh tokens. They send hash1 = sha256(token) and
// the store keys tokens by hash2 = sha256(hash1), so a leaked database cannot
// be replayed against the refresh endpoint.
type SessionService struct {
	Store      store.Store
	Keys       *jwtx.KeyManager
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Now overrides the clock.
	Now func() time.Time
}

type CreateRequest struct {
	UserID             string
	RecipeUserID       string
	TenantID           string
	UserDataInJWT      map[string]any
	UserDataInDatabase map[string]any
	EnableAntiCsrf     bool
}

type RefreshRequest struct {
	RefreshTokenHash1 string
	AntiCsrfToken     string
	EnableAntiCsrf    bool
	SessionHandle     string
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *SessionService) accessTTL() time.Duration {
	if s.AccessTTL > 0 {
		return s.AccessTTL
	}
	return jwtx.DefaultAccessTokenTTL
}

func (s *SessionService) refreshTTL() time.Duration {
	if s.RefreshTTL > 0 {
		return s.RefreshTTL
	}
	return jwtx.DefaultRefreshTokenTTL
}

// Create starts a session and issues its first token pair.
func (s *SessionService) Create(ctx context.Context, req CreateRequest) (*domain.TokenPair, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}
	if err := jwtx.CheckPayload(req.UserDataInJWT); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	now := s.now()
	sess := domain.Session{
		Handle:             idx.NewAt(now).String(),
		UserID:             req.UserID,
		RecipeUserID:       req.RecipeUserID,
		TenantID:           req.TenantID,
		UserDataInJWT:      orEmpty(req.UserDataInJWT),
		UserDataInDatabase: orEmpty(req.UserDataInDatabase),
		CreatedAt:          now,
		ExpiresAt:          now.Add(s.refreshTTL()),
	}
	if sess.RecipeUserID == "" {
		sess.RecipeUserID = sess.UserID
	}
	if sess.TenantID == "" {
		sess.TenantID = domain.DefaultTenant
	}
	if req.EnableAntiCsrf {
		sess.AntiCsrfToken = uuid.NewString()
	}

	if err := s.Store.Sessions().CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	rt, raw, err := s.newRefreshToken(sess.Handle, now)
	if err != nil {
		return nil, err
	}
	if err := s.Store.RefreshTokens().CreateRefreshToken(ctx, rt); err != nil {
		// a session without a refresh token is unreachable; make sure it stays that way
		_, _ = s.Store.Sessions().RevokeSession(ctx, sess.Handle)
		return nil, fmt.Errorf("failed to create refresh token: %w", err)
	}

	access, err := s.signAccess(sess, cryptox.HashRefreshToken(raw), "", now, s.accessTTL())
	if err != nil {
		return nil, err
	}

	slogx.FromContext(ctx).Info("session created",
		slog.String("session_handle", sess.Handle),
		slog.String("user_id", sess.UserID),
		slog.String("tenant_id", sess.TenantID))

	return &domain.TokenPair{
		Session:       sess,
		AccessToken:   access,
		RefreshToken:  &domain.IssuedToken{Token: raw, CreatedAt: now, ExpiresAt: rt.ExpiresAt},
		AntiCsrfToken: sess.AntiCsrfToken,
	}, nil
}

// Refresh exchanges a refresh token for a new pair. Presenting a token that
// was already exchanged revokes the session and returns *TheftError.
func (s *SessionService) Refresh(ctx context.Context, req RefreshRequest) (*domain.TokenPair, error) {
	if req.RefreshTokenHash1 == "" {
		return nil, fmt.Errorf("%w: refreshTokenHash1 is required", ErrInvalidRequest)
	}

	now := s.now()
	l := slogx.FromContext(ctx)
	hash2 := cryptox.HashRefreshToken(req.RefreshTokenHash1)

	current, err := s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, hash2)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthorised
	}
	if err != nil {
		return nil, err
	}

	sess, err := s.Store.Sessions().GetSession(ctx, current.SessionHandle)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthorised
	}
	if err != nil {
		return nil, err
	}

	if current.IsRotated() {
		return nil, s.theft(ctx, sess)
	}

	switch {
	case !sess.IsActive(now):
		l.Debug("refresh on inactive session", slog.String("session_handle", sess.Handle))
		return nil, ErrUnauthorised
	case !now.Before(current.ExpiresAt):
		return nil, ErrUnauthorised
	case req.SessionHandle != "" && req.SessionHandle != sess.Handle:
		l.Warn("refresh token presented with another session's access token",
			slog.String("session_handle", sess.Handle))
		return nil, ErrUnauthorised
	case req.EnableAntiCsrf && sess.AntiCsrfToken != "" &&
		subtle.ConstantTimeCompare([]byte(req.AntiCsrfToken), []byte(sess.AntiCsrfToken)) != 1:
		return nil, ErrUnauthorised
	}

	next, raw, err := s.newRefreshToken(sess.Handle, now)
	if err != nil {
		return nil, err
	}
	next.ParentHash = hash2

	_, err = s.Store.RefreshTokens().Rotate(ctx, hash2, next, now)
	switch {
	case errors.Is(err, store.ErrTokenReused):
		// lost a race against another exchange of the same token
		return nil, s.theft(ctx, sess)
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrUnauthorised
	case err != nil:
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	sess.ExpiresAt = next.ExpiresAt
	if err := s.Store.Sessions().ExtendSession(ctx, sess.Handle, sess.ExpiresAt); err != nil {
		return nil, fmt.Errorf("failed to extend session: %w", err)
	}

	access, err := s.signAccess(sess, cryptox.HashRefreshToken(raw), req.RefreshTokenHash1, now, s.accessTTL())
	if err != nil {
		return nil, err
	}

	l.Debug("refresh token rotated", slog.String("session_handle", sess.Handle))

	return &domain.TokenPair{
		Session:       sess,
		AccessToken:   access,
		RefreshToken:  &domain.IssuedToken{Token: raw, CreatedAt: now, ExpiresAt: next.ExpiresAt},
		AntiCsrfToken: sess.AntiCsrfToken,
	}, nil
}

func (s *SessionService) theft(ctx context.Context, sess domain.Session) error {
	l := slogx.FromContext(ctx)
	l.Warn("refresh token reuse detected, revoking session",
		slog.String("session_handle", sess.Handle),
		slog.String("user_id", sess.UserID))

	if _, err := s.Store.Sessions().RevokeSession(ctx, sess.Handle); err != nil {
		l.Error("failed to revoke session after token theft",
			slog.String("session_handle", sess.Handle), slog.Any("error", err))
		return err
	}
	sess.Revoked = true
	return &TheftError{Session: sess}
}

// Revoke revokes the given sessions and returns the handles that were live.
// Unknown or malformed handles are skipped.
func (s *SessionService) Revoke(ctx context.Context, handles []string) ([]string, error) {
	revoked := []string{}
	for _, h := range handles {
		if _, err := idx.Parse(h); err != nil {
			continue
		}
		ok, err := s.Store.Sessions().RevokeSession(ctx, h)
		if err != nil {
			return revoked, fmt.Errorf("failed to revoke session %s: %w", h, err)
		}
		if ok {
			revoked = append(revoked, h)
		}
	}
	return revoked, nil
}

// RevokeAllForUser revokes every session the user holds in tenantID.
func (s *SessionService) RevokeAllForUser(ctx context.Context, userID, tenantID string) ([]string, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}
	if tenantID == "" {
		tenantID = domain.DefaultTenant
	}

	sessions, err := s.Store.Sessions().ListSessionsForUser(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	handles := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		handles = append(handles, sess.Handle)
	}
	return s.Revoke(ctx, handles)
}

// Regenerate replaces the session's access token payload. The returned token
// keeps the expiry of the one presented; when that has already passed only
// the stored payload changes and AccessToken is nil.
func (s *SessionService) Regenerate(ctx context.Context, accessToken string, payload map[string]any) (*domain.TokenPair, error) {
	if err := jwtx.CheckPayload(payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	now := s.now()
	claims, err := jwtx.Decoder{Keys: s.Keys.KeySet(), Now: s.now}.DecodeIgnoringExpiry(ctx, accessToken)
	if err != nil {
		slogx.FromContext(ctx).Debug("regenerate with unverifiable token", slog.Any("error", err))
		return nil, ErrUnauthorised
	}

	sess, err := s.Get(ctx, claims.SessionHandle)
	if err != nil {
		return nil, err
	}

	sess.UserDataInJWT = orEmpty(payload)
	if err := s.Store.Sessions().UpdateUserDataInJWT(ctx, sess.Handle, sess.UserDataInJWT); err != nil {
		return nil, fmt.Errorf("failed to update session payload: %w", err)
	}

	out := &domain.TokenPair{Session: sess, AntiCsrfToken: sess.AntiCsrfToken}
	if exp := claims.Expiry(); now.Before(exp) {
		access, err := s.signAccess(sess, claims.RefreshTokenHash1, claims.ParentRefreshTokenHash1, now, exp.Sub(now))
		if err != nil {
			return nil, err
		}
		out.AccessToken = access
	}
	return out, nil
}

// Get returns a live session.
func (s *SessionService) Get(ctx context.Context, handle string) (domain.Session, error) {
	if handle == "" {
		return domain.Session{}, fmt.Errorf("%w: sessionHandle is required", ErrInvalidRequest)
	}
	// handles are always ULIDs; anything else cannot name a session
	if _, err := idx.Parse(handle); err != nil {
		return domain.Session{}, ErrUnauthorised
	}
	sess, err := s.Store.Sessions().GetSession(ctx, handle)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Session{}, ErrUnauthorised
	}
	if err != nil {
		return domain.Session{}, err
	}
	if !sess.IsActive(s.now()) {
		return domain.Session{}, ErrUnauthorised
	}
	return sess, nil
}

// UpdateData replaces the server-side data of a live session.
func (s *SessionService) UpdateData(ctx context.Context, handle string, data map[string]any) error {
	if _, err := s.Get(ctx, handle); err != nil {
		return err
	}
	return s.Store.Sessions().UpdateUserDataInDatabase(ctx, handle, orEmpty(data))
}

func (s *SessionService) newRefreshToken(handle string, now time.Time) (domain.RefreshToken, string, error) {
	raw, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return domain.RefreshToken{}, "", err
	}
	return domain.RefreshToken{
		ID:            idx.NewAt(now).String(),
		SessionHandle: handle,
		TokenHash:     cryptox.HashRefreshToken(cryptox.HashRefreshToken(raw)),
		ExpiresAt:     now.Add(s.refreshTTL()),
		CreatedAt:     now,
	}, raw, nil
}

// signAccess mints an access token bound to the refresh token hash1. parentHash1
// links a refreshed token to the refresh token it replaced.
func (s *SessionService) signAccess(sess domain.Session, hash1, parentHash1 string, issuedAt time.Time, ttl time.Duration) (*domain.IssuedToken, error) {
	signer := s.Keys.Signer()
	if signer == nil {
		return nil, errors.New("no active signing key")
	}

	claims := jwtx.NewAccessClaims(sess.UserID, sess.RecipeUserID, sess.TenantID, sess.Handle, hash1, sess.UserDataInJWT, issuedAt, ttl)
	claims.AntiCsrfToken = sess.AntiCsrfToken
	claims.ParentRefreshTokenHash1 = parentHash1

	token, err := jwtx.Encode(signer, claims)
	if err != nil {
		return nil, fmt.Errorf("failed to sign access token: %w", err)
	}
	return &domain.IssuedToken{Token: token, CreatedAt: claims.IssuedAt.Time, ExpiresAt: claims.Expiry()}, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}
