package jwtx

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default lifetimes handed out by the authority.
const (
	DefaultAccessTokenTTL  = time.Hour
	DefaultRefreshTokenTTL = 100 * 24 * time.Hour
)

// TokenTypeAccess is the only stt value this package issues or accepts.
const TokenTypeAccess = 0

// Protected claim names. User payloads can never set these.
const (
	ClaimSubject                 = "sub"
	ClaimIssuedAt                = "iat"
	ClaimExpiresAt               = "exp"
	ClaimSessionHandle           = "sessionHandle"
	ClaimParentRefreshTokenHash1 = "parentRefreshTokenHash1"
	ClaimRefreshTokenHash1       = "refreshTokenHash1"
	ClaimAntiCsrfToken           = "antiCsrfToken"
	ClaimRecipeUserID            = "rsub"
	ClaimTenantID                = "tId"
	ClaimTokenType               = "stt"
)

// ProtectedClaimNames is the reserved set, in a stable order.
var ProtectedClaimNames = []string{
	ClaimSubject,
	ClaimIssuedAt,
	ClaimExpiresAt,
	ClaimSessionHandle,
	ClaimParentRefreshTokenHash1,
	ClaimRefreshTokenHash1,
	ClaimAntiCsrfToken,
	ClaimRecipeUserID,
	ClaimTenantID,
	ClaimTokenType,
}

// ErrProtectedClaim is returned when a payload tries to set a reserved name.
var ErrProtectedClaim = errors.New("jwtx: protected claim name")

// IsProtectedClaim reports whether name is reserved.
func IsProtectedClaim(name string) bool {
	return slices.Contains(ProtectedClaimNames, name)
}

// CheckPayload returns ErrProtectedClaim for the first reserved key, in
// sorted key order.
func CheckPayload(payload map[string]any) error {
	for _, k := range slices.Sorted(maps.Keys(payload)) {
		if IsProtectedClaim(k) {
			return fmt.Errorf("%w: %q", ErrProtectedClaim, k)
		}
	}
	return nil
}

// Claims is the access token body. Protected fields map to reserved names;
// everything else lives flat at the top level and surfaces as Payload.
type Claims struct {
	Subject                 string
	RecipeUserID            string
	SessionHandle           string
	RefreshTokenHash1       string
	ParentRefreshTokenHash1 string
	AntiCsrfToken           string
	TenantID                string
	TokenType               int
	IssuedAt                *jwt.NumericDate
	ExpiresAt               *jwt.NumericDate

	Payload map[string]any
}

// NewAccessClaims builds claims for a freshly minted access token.
func NewAccessClaims(userID, recipeUserID, tenantID, sessionHandle, refreshHash1 string, payload map[string]any, now time.Time, ttl time.Duration) Claims {
	if recipeUserID == "" {
		recipeUserID = userID
	}
	return Claims{
		Subject:           userID,
		RecipeUserID:      recipeUserID,
		SessionHandle:     sessionHandle,
		RefreshTokenHash1: refreshHash1,
		TenantID:          tenantID,
		TokenType:         TokenTypeAccess,
		IssuedAt:          jwt.NewNumericDate(now),
		ExpiresAt:         jwt.NewNumericDate(now.Add(ttl)),
		Payload:           maps.Clone(payload),
	}
}

// Expiry returns exp as a time, or the zero time.
func (c Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// jwt.Claims

func (c Claims) GetExpirationTime() (*jwt.NumericDate, error) { return c.ExpiresAt, nil }
func (c Claims) GetIssuedAt() (*jwt.NumericDate, error)       { return c.IssuedAt, nil }
func (c Claims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (c Claims) GetIssuer() (string, error)                   { return "", nil }
func (c Claims) GetSubject() (string, error)                  { return c.Subject, nil }
func (c Claims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

// Validate checks the protected claims are present. The jwt parser calls it
// after the registered time checks.
func (c *Claims) Validate() error {
	switch {
	case c.Subject == "":
		return fmt.Errorf("%w: missing %s", ErrInvalidClaim, ClaimSubject)
	case c.SessionHandle == "":
		return fmt.Errorf("%w: missing %s", ErrInvalidClaim, ClaimSessionHandle)
	case c.RefreshTokenHash1 == "":
		return fmt.Errorf("%w: missing %s", ErrInvalidClaim, ClaimRefreshTokenHash1)
	case c.TenantID == "":
		return fmt.Errorf("%w: missing %s", ErrInvalidClaim, ClaimTenantID)
	case c.IssuedAt == nil:
		return fmt.Errorf("%w: missing %s", ErrInvalidClaim, ClaimIssuedAt)
	case c.ExpiresAt == nil:
		return fmt.Errorf("%w: missing %s", ErrInvalidClaim, ClaimExpiresAt)
	case c.TokenType != TokenTypeAccess:
		return fmt.Errorf("%w: unexpected %s %d", ErrInvalidClaim, ClaimTokenType, c.TokenType)
	}
	return nil
}

// MarshalJSON flattens Payload next to the protected claims. Map keys are
// emitted sorted so the same claims always serialise to the same bytes.
func (c Claims) MarshalJSON() ([]byte, error) {
	if err := CheckPayload(c.Payload); err != nil {
		return nil, err
	}

	out := make(map[string]any, len(c.Payload)+10)
	maps.Copy(out, c.Payload)

	out[ClaimSubject] = c.Subject
	out[ClaimSessionHandle] = c.SessionHandle
	out[ClaimRefreshTokenHash1] = c.RefreshTokenHash1
	out[ClaimTenantID] = c.TenantID
	out[ClaimTokenType] = c.TokenType
	if c.RecipeUserID != "" {
		out[ClaimRecipeUserID] = c.RecipeUserID
	}
	if c.ParentRefreshTokenHash1 != "" {
		out[ClaimParentRefreshTokenHash1] = c.ParentRefreshTokenHash1
	}
	if c.AntiCsrfToken != "" {
		out[ClaimAntiCsrfToken] = c.AntiCsrfToken
	}
	if c.IssuedAt != nil {
		out[ClaimIssuedAt] = c.IssuedAt
	}
	if c.ExpiresAt != nil {
		out[ClaimExpiresAt] = c.ExpiresAt
	}

	return json.Marshal(out)
}

// UnmarshalJSON splits reserved names into fields. A reserved name with the
// wrong JSON type is an error.
func (c *Claims) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	// stt must be present; -1 makes Validate reject its absence.
	*c = Claims{TokenType: -1, Payload: make(map[string]any, len(raw))}

	strs := map[string]*string{
		ClaimSubject:                 &c.Subject,
		ClaimRecipeUserID:            &c.RecipeUserID,
		ClaimSessionHandle:           &c.SessionHandle,
		ClaimRefreshTokenHash1:       &c.RefreshTokenHash1,
		ClaimParentRefreshTokenHash1: &c.ParentRefreshTokenHash1,
		ClaimAntiCsrfToken:           &c.AntiCsrfToken,
		ClaimTenantID:                &c.TenantID,
	}

	for name, msg := range raw {
		if dst, ok := strs[name]; ok {
			if err := json.Unmarshal(msg, dst); err != nil {
				return fmt.Errorf("%w: %s must be a string", ErrInvalidClaim, name)
			}
			continue
		}

		switch name {
		case ClaimIssuedAt:
			c.IssuedAt = new(jwt.NumericDate)
			if err := c.IssuedAt.UnmarshalJSON(msg); err != nil {
				return fmt.Errorf("%w: %s must be numeric", ErrInvalidClaim, name)
			}
		case ClaimExpiresAt:
			c.ExpiresAt = new(jwt.NumericDate)
			if err := c.ExpiresAt.UnmarshalJSON(msg); err != nil {
				return fmt.Errorf("%w: %s must be numeric", ErrInvalidClaim, name)
			}
		case ClaimTokenType:
			if err := json.Unmarshal(msg, &c.TokenType); err != nil {
				return fmt.Errorf("%w: %s must be an integer", ErrInvalidClaim, name)
			}
		default:
			var v any
			if err := json.Unmarshal(msg, &v); err != nil {
				return err
			}
			c.Payload[name] = v
		}
	}

	return nil
}
