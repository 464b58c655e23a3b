package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/stsession/internal/authority/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrTokenReused is returned by Rotate when the token was already
	// exchanged. The returned token still carries its session handle.
	ErrTokenReused = errors.New("store: refresh token already rotated")
)

// Store is the root data access interface. Concrete drivers (sqlite, redis)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable.
type Store interface {
	Sessions() Sessions
	RefreshTokens() RefreshTokens
	SigningKeys() SigningKeys

	ApplyMigrations() error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the backend is still reachable.
	Ping(ctx context.Context) error
}

type Sessions interface {
	// CreateSession inserts a new session (handle is provided by the service via ULID).
	CreateSession(ctx context.Context, s domain.Session) error

	// GetSession returns a session by handle, revoked or not.
	GetSession(ctx context.Context, handle string) (domain.Session, error)

	// ListSessionsForUser returns every stored session of a user in a tenant.
	ListSessionsForUser(ctx context.Context, userID, tenantID string) ([]domain.Session, error)

	// UpdateUserDataInJWT replaces the custom access token payload.
	UpdateUserDataInJWT(ctx context.Context, handle string, data map[string]any) error

	// UpdateUserDataInDatabase replaces the server-side session data.
	UpdateUserDataInDatabase(ctx context.Context, handle string, data map[string]any) error

	// ExtendSession moves the expiry forward after a refresh.
	ExtendSession(ctx context.Context, handle string, expiresAt time.Time) error

	// RevokeSession marks a session revoked. It reports whether the session
	// existed and was not already revoked.
	RevokeSession(ctx context.Context, handle string) (bool, error)

	// DeleteExpiredSessions is housekeeping; refresh tokens go with them.
	DeleteExpiredSessions(ctx context.Context, now time.Time) error
}

type RefreshTokens interface {
	// CreateRefreshToken stores the first token of a session.
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns the token by its stored (double) hash.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// Rotate atomically marks the token stored under oldHash as rotated and
	// stores next in its place, with next.ParentHash set to oldHash. Exactly
	// one of two concurrent callers with the same oldHash succeeds; the other
	// gets ErrTokenReused.
	Rotate(ctx context.Context, oldHash string, next domain.RefreshToken, now time.Time) (domain.RefreshToken, error)

	// DeleteExpiredRefreshTokens is housekeeping.
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) error
}

type SigningKeys interface {
	// CreateSigningKey stores a new signing key with encrypted private key material.
	CreateSigningKey(ctx context.Context, key domain.SigningKey) error

	// GetSigningKeyByKid fetches a signing key by its key identifier.
	GetSigningKeyByKid(ctx context.Context, kid string) (domain.SigningKey, error)

	// ListSigningKeys returns every stored key, retired ones included,
	// newest first.
	ListSigningKeys(ctx context.Context) ([]domain.SigningKey, error)

	// RetireSigningKey marks a key as retired. It stays published until expiresAt.
	RetireSigningKey(ctx context.Context, kid string, retiredAt, expiresAt time.Time) error

	// DeleteExpiredSigningKeys removes all keys that have passed their expires_at timestamp.
	DeleteExpiredSigningKeys(ctx context.Context, now time.Time) error
}
