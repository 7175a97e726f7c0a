package routes

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BradenHooton/parlourguard/internal/auth"
	"github.com/BradenHooton/parlourguard/internal/handlers"
	"github.com/BradenHooton/parlourguard/internal/middleware"
	"github.com/BradenHooton/parlourguard/internal/models"
	pkghttp "github.com/BradenHooton/parlourguard/pkg/http"
)

// Handlers groups everything the router dispatches to
type Handlers struct {
	Auth       *handlers.AuthHandler
	Challenges *handlers.ChallengeHandler
	Sessions   *handlers.SessionHandler
	Risk       *handlers.RiskHandler
	Reports    *handlers.ReportHandler
	Audit      *handlers.AuditHandler
	Health     *handlers.HealthHandler
}

// Dependencies are the cross-cutting collaborators of the protected routes
type Dependencies struct {
	TokenManager *auth.TokenManager
	Sessions     auth.SessionValidator
	AuditTrail   middleware.AuditAppender
	IPConfig     *pkghttp.IPConfig
	RateLimits   RateLimits
	Logger       *slog.Logger
}

// RateLimits holds the per-minute budgets of the route groups
type RateLimits struct {
	Login         middleware.RateLimitConfig
	Verify        middleware.RateLimitConfig
	Authenticated middleware.RateLimitConfig
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, h Handlers, deps Dependencies) {
	router.Get("/health", h.Health.Health)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Public routes - no authentication required
	router.With(middleware.RateLimitByIP(deps.RateLimits.Login, deps.IPConfig)).Post("/auth/login", h.Auth.Login)
	router.With(middleware.RateLimitByIP(deps.RateLimits.Verify, deps.IPConfig)).Post("/auth/login/verify", h.Auth.CompleteLogin)
	router.With(middleware.RateLimitByIP(deps.RateLimits.Verify, deps.IPConfig)).Post("/challenges/verify", h.Challenges.Verify)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(deps.TokenManager, deps.Sessions, deps.Logger))
		r.Use(middleware.RateLimitBySession(deps.RateLimits.Authenticated, deps.IPConfig))

		r.Post("/auth/logout", h.Auth.Logout)

		r.With(middleware.AuditAccess(deps.AuditTrail, models.AuditResourceTypeChallenge, "", deps.IPConfig)).
			Post("/challenges", h.Challenges.Create)

		r.Route("/sessions", func(r chi.Router) {
			r.Use(middleware.AuditAccess(deps.AuditTrail, models.AuditResourceTypeSession, "id", deps.IPConfig))
			r.Get("/", h.Sessions.List)
			r.Delete("/{id}", h.Sessions.Revoke)
		})

		// Admin-only routes. Access is audited before the role check so refused attempts are recorded too.
		admin := func(resourceType, idParam string) chi.Router {
			return r.With(
				middleware.AuditAccess(deps.AuditTrail, resourceType, idParam, deps.IPConfig),
				auth.RequireRole(models.RoleAdmin),
			)
		}
		admin(models.AuditResourceTypeChallenge, "id").Post("/admin/challenges/{id}/approve", h.Challenges.Approve)
		admin(models.AuditResourceTypeRisk, "email").Get("/risk/{email}", h.Risk.GetProfile)
		admin(models.AuditResourceTypeReport, "").Get("/reports/security", h.Reports.GetSecurityReport)
		r.With(auth.RequireRole(models.RoleAdmin)).Post("/audit/records", h.Audit.CreateRecord)
	})
}
