package authsdk

import (
	"time"

	"github.com/aussiebroadwan/stsession/pkg/jwtx"
)

// Response statuses shared by every authority endpoint.
const (
	StatusOK                 = "OK"
	StatusUnauthorised       = "UNAUTHORISED"
	StatusTokenTheftDetected = "TOKEN_THEFT_DETECTED"
)

// ============================================================================
// Session Types
// ============================================================================

// TokenInfo is a token together with its lifetime. Times are Unix milliseconds.
type TokenInfo struct {
	Token       string `json:"token"`
	Expiry      int64  `json:"expiry"`
	CreatedTime int64  `json:"createdTime"`
}

// ExpiresAt converts Expiry to a time.Time.
func (t TokenInfo) ExpiresAt() time.Time { return time.UnixMilli(t.Expiry) }

// SessionRef identifies a session and its owner.
type SessionRef struct {
	Handle        string         `json:"handle"`
	UserID        string         `json:"userId"`
	RecipeUserID  string         `json:"recipeUserId,omitempty"`
	TenantID      string         `json:"tenantId,omitempty"`
	UserDataInJWT map[string]any `json:"userDataInJWT,omitempty"`
}

// CreateSessionRequest is the body of POST /recipe/session.
type CreateSessionRequest struct {
	UserID             string         `json:"userId"`
	RecipeUserID       string         `json:"recipeUserId,omitempty"`
	TenantID           string         `json:"tenantId,omitempty"`
	UserDataInJWT      map[string]any `json:"userDataInJWT,omitempty"`
	UserDataInDatabase map[string]any `json:"userDataInDatabase,omitempty"`
	EnableAntiCsrf     bool           `json:"enableAntiCsrf"`
}

// RefreshSessionRequest is the body of POST /recipe/session/refresh. The
// refresh token itself never leaves the client; only its SHA-256 does.
type RefreshSessionRequest struct {
	RefreshTokenHash1 string `json:"refreshTokenHash1"`
	AntiCsrfToken     string `json:"antiCsrfToken,omitempty"`
	EnableAntiCsrf    bool   `json:"enableAntiCsrf"`

	// SessionHandle links the refresh to the session of the presented access
	// token, when one was available.
	SessionHandle string `json:"sessionHandle,omitempty"`
}

// SessionResponse answers create and refresh.
//
// With StatusOK every token field is set (AntiCsrfToken only when anti-csrf
// is enabled). With StatusTokenTheftDetected only Session is set.
type SessionResponse struct {
	Status        string      `json:"status"`
	Message       string      `json:"message,omitempty"`
	Session       *SessionRef `json:"session,omitempty"`
	AccessToken   *TokenInfo  `json:"accessToken,omitempty"`
	RefreshToken  *TokenInfo  `json:"refreshToken,omitempty"`
	AntiCsrfToken string      `json:"antiCsrfToken,omitempty"`
}

// RevokeSessionsRequest revokes either the listed handles or every session of
// a user within a tenant.
type RevokeSessionsRequest struct {
	SessionHandles []string `json:"sessionHandles,omitempty"`
	UserID         string   `json:"userId,omitempty"`
	TenantID       string   `json:"tenantId,omitempty"`
}

type RevokeSessionsResponse struct {
	Status                string   `json:"status"`
	SessionHandlesRevoked []string `json:"sessionHandlesRevoked"`
}

// RegenerateAccessTokenRequest replaces the custom payload of the session the
// access token belongs to and asks for a token carrying it.
type RegenerateAccessTokenRequest struct {
	AccessToken   string         `json:"accessToken"`
	UserDataInJWT map[string]any `json:"userDataInJWT"`
}

type RegenerateAccessTokenResponse struct {
	Status      string      `json:"status"`
	Message     string      `json:"message,omitempty"`
	Session     *SessionRef `json:"session,omitempty"`
	AccessToken *TokenInfo  `json:"accessToken,omitempty"`
}

// SessionInformation is the authority's view of a session.
type SessionInformation struct {
	Status             string         `json:"status"`
	Message            string         `json:"message,omitempty"`
	SessionHandle      string         `json:"sessionHandle,omitempty"`
	UserID             string         `json:"userId,omitempty"`
	RecipeUserID       string         `json:"recipeUserId,omitempty"`
	TenantID           string         `json:"tenantId,omitempty"`
	UserDataInJWT      map[string]any `json:"userDataInJWT,omitempty"`
	UserDataInDatabase map[string]any `json:"userDataInDatabase,omitempty"`
	TimeCreated        int64          `json:"timeCreated,omitempty"`
	Expiry             int64          `json:"expiry,omitempty"`
}

type UpdateSessionDataRequest struct {
	SessionHandle      string         `json:"sessionHandle"`
	UserDataInDatabase map[string]any `json:"userDataInDatabase"`
}

// StatusResponse is a body with nothing but a status.
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ============================================================================
// Health Types
// ============================================================================

// HealthResponse represents the response structure for health check endpoints.
// Used by both /livez and /readyz endpoints (readyz includes additional Checks field).
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime,omitempty"`
	Version string        `json:"version,omitempty"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports the state of the authority's dependencies.
type HealthChecks struct {
	Store  string `json:"store"`
	Signer string `json:"signer"`
}

// ============================================================================
// Key Types
// ============================================================================

// JWKSResponse is the body of GET /.well-known/jwks.json.
type JWKSResponse = jwtx.JWKS

type KeyResponse struct {
	Status string       `json:"status"`
	Key    jwtx.KeyInfo `json:"key"`
}

type ListKeysResponse struct {
	Status string         `json:"status"`
	Keys   []jwtx.KeyInfo `json:"keys"`
}
