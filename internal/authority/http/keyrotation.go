package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/stsession/internal/authority/service"
	"github.com/aussiebroadwan/stsession/pkg/authsdk"
	"github.com/aussiebroadwan/stsession/pkg/httpx"
	"github.com/aussiebroadwan/stsession/pkg/jwtx"
	"github.com/aussiebroadwan/stsession/pkg/slogx"
)

// KeyRotationHandler serves the operator endpoints under /v1/keys.
type KeyRotationHandler struct {
	KeyRotationService *service.KeyRotationService
}

// HandleRotate handles POST /v1/keys/rotate.
func (h *KeyRotationHandler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	info, err := h.KeyRotationService.Rotate(r.Context())
	if err != nil {
		slogx.FromContext(r.Context()).Error("key rotation failed", "error", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.KeyResponse{Status: authsdk.StatusOK, Key: info})
}

// HandleListKeys handles GET /v1/keys.
func (h *KeyRotationHandler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, authsdk.ListKeysResponse{
		Status: authsdk.StatusOK,
		Keys:   h.KeyRotationService.List(r.Context()),
	})
}

// HandleRetireKey handles POST /v1/keys/{kid}/retire.
func (h *KeyRotationHandler) HandleRetireKey(w http.ResponseWriter, r *http.Request) {
	kid := r.PathValue("kid")
	if kid == "" {
		authsdk.ErrBadRequest.WriteError(w)
		return
	}

	info, err := h.KeyRotationService.Retire(r.Context(), kid)
	switch {
	case errors.Is(err, service.ErrUnknownKey):
		authsdk.NewAPIError(http.StatusNotFound, authsdk.StatusNotFound, "unknown kid "+kid).WriteError(w)
		return
	case errors.Is(err, jwtx.ErrLastActiveKey):
		authsdk.NewAPIError(http.StatusConflict, authsdk.StatusConflict, "rotate before retiring the last active key").WriteError(w)
		return
	case err != nil:
		slogx.FromContext(r.Context()).Error("key retirement failed", "kid", kid, "error", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.KeyResponse{Status: authsdk.StatusOK, Key: info})
}
