package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/services"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds access token claims to request context for testing authenticated endpoints
func WithAuthContext(req *http.Request, userID string, role models.Role, deviceID string) *http.Request {
	claims := &models.TokenClaims{
		Type:      models.TokenKindAccess,
		Role:      role.String(),
		DeviceID:  deviceID,
		SessionID: "session-" + userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: userID,
			ID:      "jti-" + userID,
		},
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc          func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
	VerifyMFAFunc      func(ctx context.Context, req services.MFAVerifyRequest) (*services.LoginResult, error)
	RefreshFunc        func(ctx context.Context, refreshToken string, device models.DeviceInfo) (*models.TokenPair, error)
	LogoutFunc         func(ctx context.Context, claims *models.TokenClaims, refreshToken string, device models.DeviceInfo) error
	ChangePasswordFunc func(ctx context.Context, userID, current, next string, device models.DeviceInfo) error
	EnrollMFAFunc      func(ctx context.Context, userID, currentCode string, device models.DeviceInfo) (*models.MFAEnrollment, error)
	ConfirmMFAFunc     func(ctx context.Context, userID, code string, device models.DeviceInfo) error
	UnlockAccountFunc  func(ctx context.Context, adminID, accountID string) error
}

func (m *MockAuthService) Login(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, req)
}

func (m *MockAuthService) VerifyMFA(ctx context.Context, req services.MFAVerifyRequest) (*services.LoginResult, error) {
	if m.VerifyMFAFunc == nil {
		return nil, models.ErrInvalidMFACode
	}
	return m.VerifyMFAFunc(ctx, req)
}

func (m *MockAuthService) Refresh(ctx context.Context, refreshToken string, device models.DeviceInfo) (*models.TokenPair, error) {
	if m.RefreshFunc == nil {
		return nil, models.ErrTokenRevoked
	}
	return m.RefreshFunc(ctx, refreshToken, device)
}

func (m *MockAuthService) Logout(ctx context.Context, claims *models.TokenClaims, refreshToken string, device models.DeviceInfo) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, claims, refreshToken, device)
}

func (m *MockAuthService) ChangePassword(ctx context.Context, userID, current, next string, device models.DeviceInfo) error {
	if m.ChangePasswordFunc == nil {
		return nil
	}
	return m.ChangePasswordFunc(ctx, userID, current, next, device)
}

func (m *MockAuthService) EnrollMFA(ctx context.Context, userID, currentCode string, device models.DeviceInfo) (*models.MFAEnrollment, error) {
	if m.EnrollMFAFunc == nil {
		return nil, models.ErrInternalServer
	}
	return m.EnrollMFAFunc(ctx, userID, currentCode, device)
}

func (m *MockAuthService) ConfirmMFA(ctx context.Context, userID, code string, device models.DeviceInfo) error {
	if m.ConfirmMFAFunc == nil {
		return nil
	}
	return m.ConfirmMFAFunc(ctx, userID, code, device)
}

func (m *MockAuthService) UnlockAccount(ctx context.Context, adminID, accountID string) error {
	if m.UnlockAccountFunc == nil {
		return nil
	}
	return m.UnlockAccountFunc(ctx, adminID, accountID)
}
