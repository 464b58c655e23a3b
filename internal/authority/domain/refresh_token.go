package domain

import "time"

// RefreshToken is one link in a session's refresh chain. Only the double
// hash of the token is stored; the client sends the single hash.
type RefreshToken struct {
	ID            string
	SessionHandle string
	TokenHash     string
	ParentHash    string // TokenHash of the token this one replaced; empty for the first
	ExpiresAt     time.Time
	RotatedAt     *time.Time // set once the token has been exchanged
	CreatedAt     time.Time
}

// IsRotated reports whether the token was already used. Presenting a rotated
// token again means it was copied.
func (t *RefreshToken) IsRotated() bool { return t.RotatedAt != nil }
