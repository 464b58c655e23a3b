package service

import (
	"errors"
	"fmt"

	"github.com/aussiebroadwan/stsession/internal/authority/domain"
)

var (
	// ErrUnauthorised covers every reason a token or handle is not honoured:
	// unknown, expired, revoked or failing the anti-csrf check.
	ErrUnauthorised = errors.New("unauthorised")

	// ErrInvalidRequest is a malformed call, such as a payload that sets a
	// protected claim.
	ErrInvalidRequest = errors.New("invalid_request")
)

// TheftError reports that an already rotated refresh token was presented.
// The session has been revoked by the time the caller sees it.
type TheftError struct {
	Session domain.Session
}

func (e *TheftError) Error() string {
	return fmt.Sprintf("refresh token reused for session %s", e.Session.Handle)
}
