package session

import (
	"errors"
	"fmt"

	"github.com/aussiebroadwan/stsession/pkg/jwtx"
)

var (
	// ErrTryRefreshToken means the access token cannot be used but the
	// session may still be alive; the client should call refresh.
	ErrTryRefreshToken = errors.New("session: try refresh token")

	// ErrUnauthorised means there is no usable session. Terminal.
	ErrUnauthorised = errors.New("session: unauthorised")

	// ErrTokenTheftDetected means a rotated refresh token was replayed and
	// the session has been revoked. Returned as *TokenTheftError.
	ErrTokenTheftDetected = errors.New("session: token theft detected")

	// ErrInvalidClaim is matched by *InvalidClaimError.
	ErrInvalidClaim = errors.New("session: invalid claim")

	// ErrAuthorityUnavailable is a transient failure reaching the authority
	// or its keys. Safe to retry; never a verdict on the session.
	ErrAuthorityUnavailable = errors.New("session: authority unavailable")

	// ErrProtectedClaim is returned when a payload or claim uses a reserved name.
	ErrProtectedClaim = jwtx.ErrProtectedClaim
)

// TokenTheftError names the session whose refresh token was replayed.
type TokenTheftError struct {
	SessionHandle string
	UserID        string
	RecipeUserID  string
}

func (e *TokenTheftError) Error() string {
	return fmt.Sprintf("session: token theft detected for session %s of user %s", e.SessionHandle, e.UserID)
}

func (e *TokenTheftError) Is(target error) bool { return target == ErrTokenTheftDetected }

// InvalidClaimError is the first failed claim validator.
type InvalidClaimError struct {
	Key         string
	ValidatorID string
	Reason      string
}

func (e *InvalidClaimError) Error() string {
	return fmt.Sprintf("session: invalid claim %q (%s): %s", e.Key, e.ValidatorID, e.Reason)
}

func (e *InvalidClaimError) Is(target error) bool { return target == ErrInvalidClaim }

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrAuthorityUnavailable, err)
}
