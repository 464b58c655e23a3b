package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/stsession/internal/authority/domain"
	"github.com/aussiebroadwan/stsession/internal/authority/service"
	"github.com/aussiebroadwan/stsession/pkg/authsdk"
	"github.com/aussiebroadwan/stsession/pkg/httpx"
	"github.com/aussiebroadwan/stsession/pkg/slogx"
)

// SessionHandler serves the /recipe/session endpoints.
//
// Protocol outcomes (UNAUTHORISED, TOKEN_THEFT_DETECTED) are answered with
// 200 and a status in the body; non-2xx is reserved for malformed calls and
// server faults so clients can tell "no" apart from "broken".
type SessionHandler struct {
	SessionService *service.SessionService
}

// HandleCreate handles POST /recipe/session.
func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req authsdk.CreateSessionRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrBadRequest.WriteError(w)
		return
	}

	pair, err := h.SessionService.Create(r.Context(), service.CreateRequest{
		UserID:             req.UserID,
		RecipeUserID:       req.RecipeUserID,
		TenantID:           req.TenantID,
		UserDataInJWT:      req.UserDataInJWT,
		UserDataInDatabase: req.UserDataInDatabase,
		EnableAntiCsrf:     req.EnableAntiCsrf,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sessionResponse(pair))
}

// HandleRefresh handles POST /recipe/session/refresh.
func (h *SessionHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshSessionRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrBadRequest.WriteError(w)
		return
	}

	pair, err := h.SessionService.Refresh(r.Context(), service.RefreshRequest{
		RefreshTokenHash1: req.RefreshTokenHash1,
		AntiCsrfToken:     req.AntiCsrfToken,
		EnableAntiCsrf:    req.EnableAntiCsrf,
		SessionHandle:     req.SessionHandle,
	})

	var theft *service.TheftError
	if errors.As(err, &theft) {
		httpx.WriteJSON(w, http.StatusOK, authsdk.SessionResponse{
			Status: authsdk.StatusTokenTheftDetected,
			Session: &authsdk.SessionRef{
				Handle:       theft.Session.Handle,
				UserID:       theft.Session.UserID,
				RecipeUserID: theft.Session.RecipeUserID,
			},
		})
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sessionResponse(pair))
}

// HandleRemove handles POST /recipe/session/remove.
func (h *SessionHandler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RevokeSessionsRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrBadRequest.WriteError(w)
		return
	}

	var (
		revoked []string
		err     error
	)
	if len(req.SessionHandles) > 0 {
		revoked, err = h.SessionService.Revoke(r.Context(), req.SessionHandles)
	} else {
		revoked, err = h.SessionService.RevokeAllForUser(r.Context(), req.UserID, req.TenantID)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.RevokeSessionsResponse{
		Status:                authsdk.StatusOK,
		SessionHandlesRevoked: revoked,
	})
}

// HandleRegenerate handles POST /recipe/session/regenerate.
func (h *SessionHandler) HandleRegenerate(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RegenerateAccessTokenRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil || req.AccessToken == "" {
		authsdk.ErrBadRequest.WriteError(w)
		return
	}

	pair, err := h.SessionService.Regenerate(r.Context(), req.AccessToken, req.UserDataInJWT)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	resp := authsdk.RegenerateAccessTokenResponse{
		Status:  authsdk.StatusOK,
		Session: sessionRef(pair.Session),
	}
	if pair.AccessToken != nil {
		resp.AccessToken = tokenInfo(pair.AccessToken)
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleGet handles GET /recipe/session?sessionHandle=.
func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := h.SessionService.Get(r.Context(), r.URL.Query().Get("sessionHandle"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.SessionInformation{
		Status:             authsdk.StatusOK,
		SessionHandle:      sess.Handle,
		UserID:             sess.UserID,
		RecipeUserID:       sess.RecipeUserID,
		TenantID:           sess.TenantID,
		UserDataInJWT:      sess.UserDataInJWT,
		UserDataInDatabase: sess.UserDataInDatabase,
		TimeCreated:        sess.CreatedAt.UnixMilli(),
		Expiry:             sess.ExpiresAt.UnixMilli(),
	})
}

// HandleUpdateData handles PUT /recipe/session/data.
func (h *SessionHandler) HandleUpdateData(w http.ResponseWriter, r *http.Request) {
	var req authsdk.UpdateSessionDataRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		authsdk.ErrBadRequest.WriteError(w)
		return
	}

	if err := h.SessionService.UpdateData(r.Context(), req.SessionHandle, req.UserDataInDatabase); err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.StatusResponse{Status: authsdk.StatusOK})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrUnauthorised):
		httpx.WriteStatus(w, http.StatusOK, authsdk.StatusUnauthorised, err.Error())
	case errors.Is(err, service.ErrInvalidRequest):
		authsdk.NewAPIError(http.StatusBadRequest, authsdk.StatusBadRequest, err.Error()).WriteError(w)
	default:
		slogx.FromContext(r.Context()).Error("session request failed", "path", r.URL.Path, "error", err)
		authsdk.ErrServerError.WriteError(w)
	}
}

func sessionResponse(pair *domain.TokenPair) authsdk.SessionResponse {
	resp := authsdk.SessionResponse{
		Status:        authsdk.StatusOK,
		Session:       sessionRef(pair.Session),
		AntiCsrfToken: pair.AntiCsrfToken,
	}
	if pair.AccessToken != nil {
		resp.AccessToken = tokenInfo(pair.AccessToken)
	}
	if pair.RefreshToken != nil {
		resp.RefreshToken = tokenInfo(pair.RefreshToken)
	}
	return resp
}

func sessionRef(s domain.Session) *authsdk.SessionRef {
	return &authsdk.SessionRef{
		Handle:        s.Handle,
		UserID:        s.UserID,
		RecipeUserID:  s.RecipeUserID,
		TenantID:      s.TenantID,
		UserDataInJWT: s.UserDataInJWT,
	}
}

func tokenInfo(t *domain.IssuedToken) *authsdk.TokenInfo {
	return &authsdk.TokenInfo{
		Token:       t.Token,
		Expiry:      t.ExpiresAt.UnixMilli(),
		CreatedTime: t.CreatedAt.UnixMilli(),
	}
}
