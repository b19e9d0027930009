package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/upb/repairdesk-core/app"
	"github.com/upb/repairdesk-core/handlers"
	"github.com/upb/repairdesk-core/middleware"
	"github.com/upb/repairdesk-core/services"
	"github.com/upb/repairdesk-core/services/access"
	"github.com/upb/repairdesk-core/utils"
)

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()

	// Core middleware
	r.Use(chimw.RequestID)
	r.Use(deps.ProxyTrust.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics(deps.Metrics))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if deps.RateLimit != nil {
		r.Use(deps.RateLimit.PreAuth)
	}
	r.Use(deps.AccessControl.Handler)
	if deps.RateLimit != nil {
		r.Use(deps.RateLimit.PostAuth)
	}

	health := handlers.NewHealthHandler(deps.DB, deps.Redis, deps.Logger)
	auth := handlers.NewAuthHandler(deps.Credentials, deps.Config.Server.TLS.Enabled || deps.Config.IsProduction(), deps.Logger)
	invites := handlers.NewInvitationHandler(deps.Invitations, deps.Logger)
	orgs := handlers.NewOrganizationHandler(deps.Organizations, deps.Logger)
	auditLogs := handlers.NewAuditHandler(deps.Audit, deps.Logger)
	portal := handlers.NewPortalHandler(deps.Logger)

	r.Get(access.RouteHealth, health.HandleHealth)
	r.Get(access.RouteReady, health.HandleReadiness)
	if deps.Config.Observability.MetricsEnabled {
		r.Method(http.MethodGet, access.RouteMetrics, deps.Metrics.Handler())
	}

	r.Post(access.RouteLogin, auth.HandleLogin)
	r.Post(access.RouteRefresh, auth.HandleRefresh)
	r.Post(access.RouteLogout, auth.HandleLogout)
	r.Get(access.RouteMe, auth.HandleMe)
	r.Post(access.RouteTwoFactorSetup, auth.HandleTwoFactorSetup)
	r.Post(access.RouteTwoFactorVerify, auth.HandleTwoFactorVerify)
	r.Post(access.RouteTwoFactorDisable, auth.HandleTwoFactorDisable)

	r.Post(access.RouteAcceptInvitation, invites.HandleAccept)
	r.Post(access.RouteOrganizations, orgs.HandleCreate)
	r.Get(access.RouteOrganization, orgs.HandleGet)
	r.Post(access.RouteOrgInvitations, invites.HandleCreate)
	r.Post(access.RouteOrgCustomers, invites.HandleCreateCustomer)

	r.Get(access.RouteAuditLogs, auditLogs.HandleList)
	r.Get(access.RoutePortalMe, portal.HandleMe)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusNotFound, services.CodeNotFound, "endpoint not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteError(w, http.StatusMethodNotAllowed, services.CodeNotFound, "method not allowed", nil)
	})

	return r
}
