package jwtx

import "errors"

var (
	ErrMalformed    = errors.New("jwtx: malformed token")
	ErrAlgMismatch  = errors.New("jwtx: algorithm mismatch")
	ErrUnknownKID   = errors.New("jwtx: unknown kid")
	ErrInvalidSig   = errors.New("jwtx: invalid signature")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")

	// ErrKeyUnavailable wraps key lookups that failed for reasons other than
	// an unknown kid, such as the key source being unreachable.
	ErrKeyUnavailable = errors.New("jwtx: verification key unavailable")
)
