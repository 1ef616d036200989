package routes

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/handlers"
	"github.com/BradenHooton/sentinel/internal/middleware"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
)

// stubVerifier maps bearer tokens straight to roles
type stubVerifier struct{}

func (stubVerifier) Verify(ctx context.Context, token string, kind models.TokenKind) (*models.TokenClaims, error) {
	role, err := models.ParseRole(token)
	if err != nil {
		return nil, models.ErrTokenMalformed
	}
	return &models.TokenClaims{
		Type:             kind,
		Role:             role.String(),
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-" + token},
	}, nil
}

func newRouter(t *testing.T, mock *handlers.MockAuthService) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := chi.NewRouter()
	h := handlers.NewAuthHandler(mock, nil, auth.CookieConfig{}, logger)
	RegisterRoutes(router, h, stubVerifier{}, RouteConfig{
		PublicLimit:        middleware.RateLimitConfig{RequestsPerMinute: 100},
		AuthenticatedLimit: middleware.RateLimitConfig{RequestsPerMinute: 100},
		AllowedOrigins:     []string{"https://app.example.com"},
		Logger:             logger,
	})
	return router
}

func TestRoutes_Access(t *testing.T) {
	const accountID = "6f1c2a8e-3b7d-4c55-9a0e-2d4f8b1e7c30"
	unlocked := ""
	router := newRouter(t, &handlers.MockAuthService{
		UnlockAccountFunc: func(ctx context.Context, adminID, id string) error {
			unlocked = id
			return nil
		},
		LogoutFunc: func(ctx context.Context, claims *models.TokenClaims, refreshToken string, device models.DeviceInfo) error {
			return nil
		},
	})

	tests := []struct {
		name     string
		path     string
		token    string
		expected int
	}{
		{"logout needs a token", "/auth/logout", "", http.StatusUnauthorized},
		{"logout with token", "/auth/logout", "member", http.StatusNoContent},
		{"unlock needs a token", "/auth/accounts/" + accountID + "/unlock", "", http.StatusUnauthorized},
		{"unlock refuses members", "/auth/accounts/" + accountID + "/unlock", "member", http.StatusForbidden},
		{"unlock for admins", "/auth/accounts/" + accountID + "/unlock", "admin", http.StatusNoContent},
		{"unknown route", "/auth/nothing", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.expected, w.Code)
		})
	}
	assert.Equal(t, accountID, unlocked)
}

func TestRoutes_PublicLogin(t *testing.T) {
	router := newRouter(t, &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
			return &services.LoginResult{User: &models.AccountResponse{ID: "user-1"}, MFARequired: true, SessionID: "c"}, nil
		},
	})

	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "password123",
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoutes_RefreshCookieFromForeignOrigin(t *testing.T) {
	router := newRouter(t, &handlers.MockAuthService{
		RefreshFunc: func(ctx context.Context, refreshToken string, device models.DeviceInfo) (*models.TokenPair, error) {
			t.Fatal("refresh must not run for a cross-site request")
			return nil, nil
		},
	})

	req := httptest.NewRequest("POST", "/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: auth.RefreshCookieName, Value: "token"})
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
