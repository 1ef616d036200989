package handlers

import (
	"net/http"

	"github.com/BradenHooton/sentinel/internal/auth"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// UnlockAccount handles POST /auth/accounts/{id}/unlock
// Clears the persisted lock and the login and MFA counters for an account.
// @Summary Unlock an account
// @Security BearerAuth
// @Param id path string true "Account ID"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /auth/accounts/{id}/unlock [post]
func (h *AuthHandler) UnlockAccount(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid account ID")
		return
	}

	if err := h.service.UnlockAccount(r.Context(), claims.UserID(), id); err != nil {
		h.writeAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
