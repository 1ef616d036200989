package handlers

import (
	"net/http"

	"github.com/BradenHooton/sentinel/internal/auth"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// EnrollMFA handles POST /auth/mfa/enroll
// @Summary Begin TOTP enrollment
// @Accept json
// @Security BearerAuth
// @Param request body EnrollMFARequest false "Current code when re-enrolling"
// @Produce json
// @Success 200 {object} models.MFAEnrollment
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /auth/mfa/enroll [post]
func (h *AuthHandler) EnrollMFA(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req EnrollMFARequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	enrollment, err := h.service.EnrollMFA(r.Context(), claims.UserID(), req.CurrentCode, h.device(r, DeviceRequest{DeviceID: claims.DeviceID}))
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	// the secret is shown once and must not be cached
	w.Header().Set("Cache-Control", "no-store")
	pkghttp.WriteJSON(w, http.StatusOK, enrollment)
}

// ConfirmMFA handles POST /auth/mfa/confirm
// @Summary Confirm TOTP enrollment
// @Accept json
// @Security BearerAuth
// @Param request body ConfirmMFARequest true "Code from the authenticator app"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /auth/mfa/confirm [post]
func (h *AuthHandler) ConfirmMFA(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req ConfirmMFARequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ConfirmMFA(r.Context(), claims.UserID(), req.Code, h.device(r, DeviceRequest{DeviceID: claims.DeviceID})); err != nil {
		h.writeAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
