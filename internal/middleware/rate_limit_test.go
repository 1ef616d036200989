package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(remote string) *http.Request {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = remote
	return req
}

func withClaims(req *http.Request, userID string) *http.Request {
	claims := &models.TokenClaims{
		Type:             models.TokenKindAccess,
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	}
	return req.WithContext(context.WithValue(req.Context(), auth.UserContextKey, claims))
}

func TestRateLimitByIP_EnforcesLimit(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 3})(okHandler())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("192.0.2.10:4000"))
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("192.0.2.10:4001"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code, "port does not matter")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "rate_limit_exceeded", resp.Error)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("192.0.2.11:4000"))
	assert.Equal(t, http.StatusOK, w.Code, "other clients are unaffected")
}

func TestRateLimitByIP_IgnoresSpoofedForwardedFor(t *testing.T) {
	handler := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 1})(okHandler())

	req := requestFrom("192.0.2.20:4000")
	req.Header.Set("X-Forwarded-For", "198.51.100.1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// a new header value from an untrusted peer must not open a new bucket
	req = requestFrom("192.0.2.20:4000")
	req.Header.Set("X-Forwarded-For", "198.51.100.2")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestRateLimitByIP_TrustedProxy(t *testing.T) {
	cfg := RateLimitConfig{
		RequestsPerMinute: 1,
		IPConfig:          &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}},
	}
	handler := RateLimitByIP(cfg)(okHandler())

	for _, client := range []string{"198.51.100.1", "198.51.100.2"} {
		req := requestFrom("10.0.0.5:4000")
		req.Header.Set("X-Forwarded-For", client)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, client)
	}
}

func TestRateLimitByUser(t *testing.T) {
	handler := RateLimitByUser(RateLimitConfig{RequestsPerMinute: 2})(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, withClaims(requestFrom("192.0.2.30:1"), "user-a"))
		require.Equal(t, http.StatusOK, w.Code)
	}

	// same account from another address shares the bucket
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, withClaims(requestFrom("192.0.2.31:1"), "user-a"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, withClaims(requestFrom("192.0.2.30:1"), "user-b"))
	assert.Equal(t, http.StatusOK, w.Code)

	// without claims the address is the key
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("192.0.2.30:1"))
	assert.Equal(t, http.StatusOK, w.Code)
}
