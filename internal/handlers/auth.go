package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/services"
	pkgauth "github.com/BradenHooton/sentinel/pkg/auth"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// maxBodyBytes bounds every JSON request body on the auth endpoints
const maxBodyBytes = 16 << 10

// DeviceIDHeader lets clients identify their device on requests without a body
const DeviceIDHeader = "X-Device-ID"

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
	VerifyMFA(ctx context.Context, req services.MFAVerifyRequest) (*services.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string, device models.DeviceInfo) (*models.TokenPair, error)
	Logout(ctx context.Context, claims *models.TokenClaims, refreshToken string, device models.DeviceInfo) error
	ChangePassword(ctx context.Context, userID, current, next string, device models.DeviceInfo) error
	EnrollMFA(ctx context.Context, userID, currentCode string, device models.DeviceInfo) (*models.MFAEnrollment, error)
	ConfirmMFA(ctx context.Context, userID, code string, device models.DeviceInfo) error
	UnlockAccount(ctx context.Context, adminID, accountID string) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
	cookies  auth.CookieConfig
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig, cookies auth.CookieConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
		cookies:  cookies,
		logger:   logger,
	}
}

// Request DTOs

// DeviceRequest is the client's description of the device it runs on
type DeviceRequest struct {
	DeviceID string `json:"device_id" validate:"omitempty,max=128"`
	Name     string `json:"name" validate:"omitempty,max=128"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string        `json:"email" validate:"required,email,max=254"`
	Password string        `json:"password" validate:"required,max=128"`
	Device   DeviceRequest `json:"device_info"`
}

// VerifyMFARequest completes a login that answered mfa_required
type VerifyMFARequest struct {
	UserID    string        `json:"user_id" validate:"required,max=64"`
	SessionID string        `json:"session_id" validate:"required,max=64"`
	Code      string        `json:"code" validate:"required,max=16"`
	Method    string        `json:"method" validate:"omitempty,oneof=totp"`
	Timestamp int64         `json:"timestamp" validate:"required,gt=0"`
	Device    DeviceRequest `json:"device_info"`
}

// RefreshTokenRequest carries the refresh token for clients that cannot use cookies
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"omitempty,max=4096"`
	DeviceID     string `json:"device_id" validate:"omitempty,max=128"`
}

// ChangePasswordRequest represents the request body for a password change
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=128"`
	NewPassword     string `json:"new_password" validate:"required,max=128"`
}

// decodeJSON reads a bounded JSON body into dst. An empty body is allowed when optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// device combines what the client says about its device with what the request shows
func (h *AuthHandler) device(r *http.Request, d DeviceRequest) models.DeviceInfo {
	id := d.DeviceID
	if id == "" {
		id = r.Header.Get(DeviceIDHeader)
	}
	return models.DeviceInfo{
		DeviceID:  id,
		Name:      d.Name,
		UserAgent: pkghttp.ExtractUserAgent(r),
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
	}
}

// Login handles password login
// @Summary User login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} services.LoginResult
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /auth/login [post]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.Login(r.Context(), services.LoginRequest{
		Email:    req.Email,
		Password: req.Password,
		Device:   h.device(r, req.Device),
	})
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	h.writeLoginResult(w, result)
}

// VerifyMFA handles the second step of an MFA login
// @Summary Verify MFA code
// @Accept json
// @Param request body VerifyMFARequest true "MFA verification"
// @Produce json
// @Success 200 {object} services.LoginResult
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /auth/verify-mfa [post]
func (h *AuthHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req VerifyMFARequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.service.VerifyMFA(r.Context(), services.MFAVerifyRequest{
		UserID:      req.UserID,
		ChallengeID: req.SessionID,
		Code:        req.Code,
		Method:      req.Method,
		Timestamp:   req.Timestamp,
		Device:      h.device(r, req.Device),
	})
	if err != nil {
		h.writeAuthError(w, err)
		return
	}

	h.writeLoginResult(w, result)
}

// RefreshToken exchanges a refresh token (cookie or body) for a new pair
// @Summary Refresh access token
// @Accept json
// @Param request body RefreshTokenRequest false "Refresh token request"
// @Produce json
// @Success 200 {object} models.TokenPair
// @Failure 401 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /auth/refresh [post]
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	token := req.RefreshToken
	if cookie, err := auth.GetRefreshTokenCookie(r); err == nil {
		token = cookie
	}
	if token == "" {
		pkghttp.WriteUnauthorized(w, "Missing refresh token")
		return
	}

	pair, err := h.service.Refresh(r.Context(), token, h.device(r, DeviceRequest{DeviceID: req.DeviceID}))
	if err != nil {
		if !errors.Is(err, models.ErrStoreUnavailable) {
			auth.ClearRefreshTokenCookie(w, h.cookies)
		}
		h.writeAuthError(w, err)
		return
	}

	auth.SetRefreshTokenCookie(w, pair.RefreshToken, pair.RefreshExpiresAt, h.cookies)
	pkghttp.WriteJSON(w, http.StatusOK, pair)
}

// Logout revokes the current access token and ends its session
// @Summary User logout
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req RefreshTokenRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	refresh := req.RefreshToken
	if cookie, err := auth.GetRefreshTokenCookie(r); err == nil {
		refresh = cookie
	}

	if err := h.service.Logout(r.Context(), claims, refresh, h.device(r, DeviceRequest{DeviceID: claims.DeviceID})); err != nil {
		h.writeAuthError(w, err)
		return
	}

	auth.ClearRefreshTokenCookie(w, h.cookies)
	w.WriteHeader(http.StatusNoContent)
}

// ChangePassword replaces the caller's password
// @Summary Change password
// @Accept json
// @Security BearerAuth
// @Param request body ChangePasswordRequest true "Password change"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /auth/password [post]
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req ChangePasswordRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	device := h.device(r, DeviceRequest{DeviceID: claims.DeviceID})
	if err := h.service.ChangePassword(r.Context(), claims.UserID(), req.CurrentPassword, req.NewPassword, device); err != nil {
		h.writeAuthError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AuthHandler) writeLoginResult(w http.ResponseWriter, result *services.LoginResult) {
	if result.Tokens != nil {
		auth.SetRefreshTokenCookie(w, result.Tokens.RefreshToken, result.Tokens.RefreshExpiresAt, h.cookies)
	}
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

// writeAuthError maps service outcomes onto responses. Credential and token
// failures share one generic message so responses do not reveal which check failed.
func (h *AuthHandler) writeAuthError(w http.ResponseWriter, err error) {
	var pve *pkgauth.PasswordValidationError

	switch {
	case errors.Is(err, models.ErrAccountLocked):
		pkghttp.WriteLocked(w, "Too many attempts. Please try again later.", models.RetryAfter(err))
	case errors.Is(err, models.ErrStoreUnavailable):
		pkghttp.WriteServiceUnavailable(w, "Authentication is temporarily unavailable")
	case errors.Is(err, models.ErrInvalidCredentials):
		pkghttp.WriteUnauthorized(w, "Invalid email or password")
	case errors.Is(err, models.ErrInvalidMFACode),
		errors.Is(err, models.ErrMFAExpired):
		pkghttp.WriteUnauthorized(w, "Invalid or expired verification code")
	case errors.Is(err, models.ErrTokenExpired),
		errors.Is(err, models.ErrTokenRevoked),
		errors.Is(err, models.ErrTokenMalformed),
		errors.Is(err, models.ErrDeviceUntrusted):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrMFANotEnrolled):
		pkghttp.WriteBadRequest(w, "No MFA enrollment in progress")
	case errors.As(err, &pve):
		pkghttp.WriteBadRequest(w, "Password does not meet requirements")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Account not found")
	default:
		h.logger.Error("auth request failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
