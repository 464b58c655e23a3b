package domain

import "time"

// DefaultTenant is used when a session is created without a tenant.
const DefaultTenant = "public"

// Session is the authority's record of a login. It lives until its refresh
// chain expires or it is revoked.
type Session struct {
	Handle             string
	UserID             string
	RecipeUserID       string
	TenantID           string
	UserDataInJWT      map[string]any
	UserDataInDatabase map[string]any
	AntiCsrfToken      string // empty when anti-csrf was not enabled at creation
	CreatedAt          time.Time
	ExpiresAt          time.Time // moves forward with every refresh
	Revoked            bool
}

// IsActive reports whether the session can still be refreshed or read.
func (s *Session) IsActive(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}
