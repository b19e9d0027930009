package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/repairdesk-core/internal/observability"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/services"
	"github.com/upb/repairdesk-core/services/access"
	"github.com/upb/repairdesk-core/services/audit"
	"github.com/upb/repairdesk-core/services/credentials"
	"github.com/upb/repairdesk-core/services/tenancy"
	"github.com/upb/repairdesk-core/utils"
	"go.uber.org/zap"
)

// TokenValidator verifies access tokens
type TokenValidator interface {
	ValidateAccessToken(ctx context.Context, token string) (*credentials.AccessClaims, error)
}

// IdentityResolver turns claims into the caller's identity
type IdentityResolver interface {
	Resolve(ctx context.Context, claims *credentials.AccessClaims) (*tenancy.Identity, error)
	RequireActiveServices(ctx context.Context, identity *tenancy.Identity) error
}

// AccessTokenCookieName is read when no Authorization header is present
const AccessTokenCookieName = "access_token"

// AccessControl authenticates and authorizes every request against the
// policy table before any handler runs.
type AccessControl struct {
	validator TokenValidator
	resolver  IdentityResolver
	policy    *access.Policy
	audit     audit.Recorder
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewAccessControl creates the access-control middleware
func NewAccessControl(
	validator TokenValidator,
	resolver IdentityResolver,
	policy *access.Policy,
	recorder audit.Recorder,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *AccessControl {
	return &AccessControl{
		validator: validator,
		resolver:  resolver,
		policy:    policy,
		audit:     recorder,
		metrics:   metrics,
		logger:    logger,
	}
}

// Handler runs the pipeline: public routes pass; otherwise the token is
// verified, the caller resolved, the tenant and role checks applied and,
// where the route asks for it, the customer's active services checked.
// The identity is attached to the context for handlers.
func (m *AccessControl) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		match, matched := m.policy.Match(r.Method, r.URL.Path)
		if matched && match.Rule.Public {
			next.ServeHTTP(w, r)
			return
		}

		token := extractToken(r)
		if token == "" {
			m.deny(w, r, nil, match, services.ErrNoToken)
			return
		}

		claims, err := m.validator.ValidateAccessToken(ctx, token)
		if err != nil {
			m.deny(w, r, nil, match, err)
			return
		}

		identity, err := m.resolver.Resolve(ctx, claims)
		if err != nil {
			m.deny(w, r, nil, match, err)
			return
		}

		if !matched {
			m.deny(w, r, identity, nil, services.ErrInsufficientPermissions)
			return
		}
		if err := access.Decide(identity, match); err != nil {
			m.deny(w, r, identity, match, err)
			return
		}
		if match.Rule.RequireActiveServices {
			if err := m.resolver.RequireActiveServices(ctx, identity); err != nil {
				m.deny(w, r, identity, match, err)
				return
			}
		}

		m.logger.Debug("access granted",
			zap.String("request_id", GetRequestIDFromContext(ctx)),
			zap.String("account_id", identity.AccountID.String()),
			zap.String("route", match.Rule.Pattern))

		ctx = WithClaims(ctx, claims)
		ctx = WithIdentity(ctx, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// deny writes the error and, for authentication and authorization
// failures, records the decision in the audit log.
func (m *AccessControl) deny(w http.ResponseWriter, r *http.Request, identity *tenancy.Identity, match *access.Match, err error) {
	ctx := r.Context()
	code := services.GetErrorCode(err)
	m.metrics.AccessDenied(code)

	route := r.URL.Path
	details := map[string]interface{}{
		"code":   code,
		"method": r.Method,
		"path":   r.URL.Path,
	}
	var target string
	if match != nil {
		route = match.Rule.Pattern
		details["route"] = match.Rule.Pattern
		if param := match.Rule.TenantParam; param != "" {
			target = match.Param(param)
			details["target_organization_id"] = target
		}
	}

	entry := models.NewAuditLog(models.AuditActionAccessDenied, r.Method+" "+route, models.OutcomeFailure).
		WithRequest(GetRequestIDFromContext(ctx), ClientIP(r))
	if identity != nil {
		details["role"] = identity.Role
		entry.WithActor(identity.AccountID).WithOrganization(identity.OrganizationID)
		if identity.OrganizationID != nil {
			details["caller_organization_id"] = identity.OrganizationID.String()
		}
	}
	// the targeted tenant sees attempts against it in its own audit view
	if id, err := uuid.Parse(target); err == nil {
		entry.WithTargetOrganization(id)
	}

	m.logger.Info("access denied",
		zap.String("request_id", GetRequestIDFromContext(ctx)),
		zap.String("code", code),
		zap.String("method", r.Method),
		zap.String("route", route))

	if !services.IsInternalError(err) {
		m.audit.Record(ctx, entry.WithDetails(details))
	}
	utils.WriteDomainError(w, err, m.logger)
}

// extractToken reads the bearer token from the Authorization header, or
// from the access_token cookie when the header is absent.
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(AccessTokenCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return ""
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
