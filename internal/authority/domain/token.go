package domain

import "time"

// IssuedToken is a token handed to a client with its lifetime.
type IssuedToken struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// TokenPair is what create, refresh and regenerate hand back. RefreshToken is
// nil after regenerate; AccessToken is nil when regenerate was asked about an
// access token that had already expired.
type TokenPair struct {
	Session       Session
	AccessToken   *IssuedToken
	RefreshToken  *IssuedToken
	AntiCsrfToken string
}
