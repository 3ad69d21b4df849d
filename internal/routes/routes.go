package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/rowanvale/sentinel/internal/auth"
	"github.com/rowanvale/sentinel/internal/handlers"
	"github.com/rowanvale/sentinel/internal/middleware"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	accountHandler *handlers.AccountHandler,
	factorHandler *handlers.FactorHandler,
	sessionValidator *auth.SessionValidator,
) {
	// Rate limiting configs for auth endpoints. Code requests get a tighter
	// budget because each one can trigger an outbound email.
	authRateLimit := middleware.DefaultAuthRateLimit()
	codeRateLimit := middleware.CodeRequestRateLimit()

	// Public routes - no authentication required
	router.With(middleware.RateLimitByIP(authRateLimit)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(authRateLimit)).Post("/auth/login/factor", authHandler.LoginFactor)
	router.With(middleware.RateLimitByIP(authRateLimit)).Post("/auth/register", authHandler.Register)
	router.With(middleware.RateLimitByIP(authRateLimit)).Post("/auth/password/reset", authHandler.ResetPassword)

	// Code issuance serves both anonymous purposes (registration, login-email,
	// forgot-password) and session-bound ones, so the session is optional here
	// and the handler decides per purpose.
	router.With(
		auth.OptionalSession(sessionValidator),
		middleware.RateLimitByIP(codeRateLimit),
	).Post("/auth/code", accountHandler.RequestCode)

	router.With(auth.OptionalSession(sessionValidator)).
		Get("/auth/factor-status", accountHandler.FactorStatus)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireSession(sessionValidator))

		r.Post("/account/totp", factorHandler.StartTotp)
		r.Post("/account/totp/confirm", factorHandler.ConfirmTotp)
		r.Post("/account/totp/disable", factorHandler.DisableTotp)

		r.Post("/account/email-factor", factorHandler.EnableEmailFactor)
		r.Post("/account/email-factor/disable", factorHandler.DisableEmailFactor)

		r.Put("/account/password", accountHandler.ChangePassword)
		r.Put("/account/email", accountHandler.ChangeEmail)
		r.Post("/account/logout", accountHandler.Logout)
	})
}
