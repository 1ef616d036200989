package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BradenHooton/sentinel/internal/models"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	// UserContextKey is the key for storing access token claims in context
	UserContextKey contextKey = "user"
)

// TokenVerifier is the part of TokenIssuer the middleware depends on
type TokenVerifier interface {
	Verify(ctx context.Context, token string, kind models.TokenKind) (*models.TokenClaims, error)
}

// AuthMiddleware requires a valid, unrevoked bearer access token and puts its claims in the context.
// A blacklist that cannot be consulted fails closed with 503.
func AuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "Missing or invalid authorization header")
				return
			}

			claims, err := verifier.Verify(r.Context(), token, models.TokenKindAccess)
			if err != nil {
				if errors.Is(err, models.ErrStoreUnavailable) {
					pkghttp.WriteServiceUnavailable(w, "Unable to verify token status")
					return
				}
				pkghttp.WriteUnauthorized(w, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose token role does not include min.
// Must be mounted after AuthMiddleware.
func RequireRole(min models.Role) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetUserFromContext(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "Unauthorized")
				return
			}

			role, err := models.ParseRole(claims.Role)
			if err != nil || !role.Includes(min) {
				pkghttp.WriteForbidden(w, "Insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetUserFromContext extracts access token claims from the request context
func GetUserFromContext(r *http.Request) *models.TokenClaims {
	claims, ok := r.Context().Value(UserContextKey).(*models.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// bearerToken pulls the token out of "Authorization: Bearer <token>"
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
