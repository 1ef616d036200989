package routes

import (
	"log/slog"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/handlers"
	"github.com/BradenHooton/sentinel/internal/middleware"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/go-chi/chi/v5"
)

// RouteConfig carries the settings the route table needs
type RouteConfig struct {
	PublicLimit        middleware.RateLimitConfig
	AuthenticatedLimit middleware.RateLimitConfig
	AllowedOrigins     []string
	Logger             *slog.Logger
}

// RegisterRoutes registers all auth routes.
// The per-IP limiter here and the per-identifier lockout in the service are separate gates.
func RegisterRoutes(router chi.Router, authHandler *handlers.AuthHandler, verifier auth.TokenVerifier, cfg RouteConfig) {
	csrf := middleware.CSRFProtection(cfg.AllowedOrigins, cfg.Logger)

	router.Route("/auth", func(r chi.Router) {
		// Public routes - no authentication required
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(cfg.PublicLimit))
			r.Post("/login", authHandler.Login)
			r.Post("/verify-mfa", authHandler.VerifyMFA)
			r.With(csrf).Post("/refresh", authHandler.RefreshToken)
		})

		// Protected routes - authentication required
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(verifier))
			r.Use(middleware.RateLimitByUser(cfg.AuthenticatedLimit))

			r.With(csrf).Post("/logout", authHandler.Logout)
			r.Post("/password", authHandler.ChangePassword)
			r.Post("/mfa/enroll", authHandler.EnrollMFA)
			r.Post("/mfa/confirm", authHandler.ConfirmMFA)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleAdmin))
				r.Post("/accounts/{id}/unlock", authHandler.UnlockAccount)
			})
		})
	})
}
