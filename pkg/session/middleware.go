package session

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/stsession/pkg/authsdk"
	"github.com/aussiebroadwan/stsession/pkg/httpx"
	"github.com/aussiebroadwan/stsession/pkg/slogx"
)

// Response statuses written by the middleware and refresh handler.
const (
	StatusTryRefreshToken    = "TRY_REFRESH_TOKEN"
	StatusUnauthorised       = "UNAUTHORISED"
	StatusTokenTheftDetected = "TOKEN_THEFT_DETECTED"
	StatusInvalidClaims      = "INVALID_CLAIMS"
	StatusUnavailable        = "UNAVAILABLE"
)

// InvalidClaimsBody is the 403 response for a failed claim validator.
type InvalidClaimsBody struct {
	Status                string                 `json:"status"`
	Message               string                 `json:"message"`
	ClaimValidationErrors []ClaimValidationError `json:"claimValidationErrors"`
}

type ClaimValidationError struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Middleware verifies every request and attaches the session to its
// context. Expired access tokens are refreshed in place when the request
// also carries a refresh token.
func (m *Manager) Middleware(opts VerifyOptions) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			s, err := m.VerifyAndRefresh(ctx, w, r, opts)
			if err != nil {
				m.WriteError(w, r, err)
				return
			}

			if s != nil {
				ctx = WithSession(ctx, s)
				ctx = httpx.WithUserID(ctx, s.UserID())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RefreshHandler serves the refresh endpoint.
func (m *Manager) RefreshHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			authsdk.ErrMethodNotAllowed.WriteError(w)
			return
		}
		if _, err := m.RefreshFromRequest(r.Context(), w, r); err != nil {
			m.WriteError(w, r, err)
			return
		}
		httpx.WriteStatus(w, http.StatusOK, authsdk.StatusOK, "")
	})
}

// WriteError maps a session error to its HTTP response. Credentials were
// already cleared by RefreshFromRequest where that applies.
func (m *Manager) WriteError(w http.ResponseWriter, r *http.Request, err error) {
	logger := slogx.FromContext(r.Context())

	var claimErr *InvalidClaimError
	switch {
	case errors.As(err, &claimErr):
		httpx.WriteJSON(w, http.StatusForbidden, InvalidClaimsBody{
			Status:  StatusInvalidClaims,
			Message: "invalid claim",
			ClaimValidationErrors: []ClaimValidationError{
				{ID: claimErr.ValidatorID, Reason: claimErr.Reason},
			},
		})
	case errors.Is(err, ErrTokenTheftDetected):
		httpx.WriteStatus(w, http.StatusUnauthorized, StatusTokenTheftDetected, "token theft detected")
	case errors.Is(err, ErrTryRefreshToken):
		httpx.WriteStatus(w, http.StatusUnauthorized, StatusTryRefreshToken, "try refresh token")
	case errors.Is(err, ErrUnauthorised):
		httpx.WriteStatus(w, http.StatusUnauthorized, StatusUnauthorised, "unauthorised")
	case errors.Is(err, ErrAuthorityUnavailable):
		logger.Warn("session authority unavailable", "error", err)
		httpx.WriteStatus(w, http.StatusServiceUnavailable, StatusUnavailable, "session authority unavailable")
	default:
		logger.Error("session check failed", "error", err)
		authsdk.ErrServerError.WriteError(w)
	}
}
