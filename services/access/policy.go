// Package access holds the route authorization table and the compiled
// matcher that evaluates it.
package access

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/upb/repairdesk-core/models"
)

// AnyMethod matches every HTTP method
const AnyMethod = "*"

// Rule grants access to one route pattern.
//
// Patterns are slash-separated segments. A segment is a literal, a
// parameter written {name}, or a final * matching the rest of the path.
type Rule struct {
	Method  string
	Pattern string
	// Public routes skip authentication entirely.
	Public bool
	// Roles allowed on the route. Empty means any authenticated caller.
	Roles []models.Role
	// TenantParam names the pattern parameter carrying an organization id
	// that must equal the caller's own, unless the caller is platform.
	TenantParam string
	// RequireActiveServices gates customers without an open job or device.
	RequireActiveServices bool
}

// Allows reports whether role is permitted by the rule
func (r *Rule) Allows(role models.Role) bool {
	if len(r.Roles) == 0 {
		return true
	}
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// Route patterns used by the router and the policy table
const (
	RouteHealth           = "/healthz"
	RouteReady            = "/readyz"
	RouteMetrics          = "/metrics"
	RouteLogin            = "/api/v1/auth/login"
	RouteRefresh          = "/api/v1/auth/refresh"
	RouteLogout           = "/api/v1/auth/logout"
	RouteMe               = "/api/v1/auth/me"
	RouteTwoFactorSetup   = "/api/v1/auth/2fa/setup"
	RouteTwoFactorVerify  = "/api/v1/auth/2fa/verify"
	RouteTwoFactorDisable = "/api/v1/auth/2fa/disable"
	RouteAcceptInvitation = "/api/v1/invitations/accept"
	RouteOrganizations    = "/api/v1/organizations"
	RouteOrganization     = "/api/v1/organizations/{orgId}"
	RouteOrgInvitations   = "/api/v1/organizations/{orgId}/invitations"
	RouteOrgCustomers     = "/api/v1/organizations/{orgId}/customers"
	RouteAuditLogs        = "/api/v1/audit/logs"
	RoutePortalMe         = "/api/v1/portal/me"
)

// OrgParam is the path parameter holding an organization id
const OrgParam = "orgId"

// DefaultRules is the production authorization table.
func DefaultRules() []Rule {
	staff := []models.Role{
		models.RolePlatformAdmin,
		models.RoleOrgOwner,
		models.RoleOrgManager,
		models.RoleOrgAdmin,
		models.RoleTechnician,
	}
	inviters := []models.Role{
		models.RolePlatformAdmin,
		models.RoleOrgOwner,
		models.RoleOrgManager,
		models.RoleOrgAdmin,
	}

	return []Rule{
		{Method: http.MethodGet, Pattern: RouteHealth, Public: true},
		{Method: http.MethodGet, Pattern: RouteReady, Public: true},
		{Method: http.MethodGet, Pattern: RouteMetrics, Public: true},
		{Method: http.MethodPost, Pattern: RouteLogin, Public: true},
		{Method: http.MethodPost, Pattern: RouteRefresh, Public: true},
		{Method: http.MethodPost, Pattern: RouteAcceptInvitation, Public: true},

		{Method: http.MethodPost, Pattern: RouteLogout},
		{Method: http.MethodGet, Pattern: RouteMe},
		{Method: http.MethodPost, Pattern: RouteTwoFactorSetup},
		{Method: http.MethodPost, Pattern: RouteTwoFactorVerify},
		{Method: http.MethodPost, Pattern: RouteTwoFactorDisable},

		{Method: http.MethodPost, Pattern: RouteOrganizations, Roles: []models.Role{models.RolePlatformAdmin}},
		{Method: http.MethodGet, Pattern: RouteOrganization, Roles: staff, TenantParam: OrgParam},
		{Method: http.MethodPost, Pattern: RouteOrgInvitations, Roles: inviters, TenantParam: OrgParam},
		{Method: http.MethodPost, Pattern: RouteOrgCustomers, Roles: staff, TenantParam: OrgParam},

		{Method: http.MethodGet, Pattern: RouteAuditLogs, Roles: []models.Role{
			models.RolePlatformAdmin,
			models.RoleOrgOwner,
			models.RoleOrgAdmin,
		}},

		{Method: http.MethodGet, Pattern: RoutePortalMe, Roles: []models.Role{models.RoleCustomer}, RequireActiveServices: true},
	}
}

// validate checks a rule on its own; Compile checks the table as a whole.
func (r *Rule) validate() error {
	if r.Method == "" {
		return fmt.Errorf("rule %q: method is required", r.Pattern)
	}
	if !strings.HasPrefix(r.Pattern, "/") {
		return fmt.Errorf("rule %q: pattern must start with /", r.Pattern)
	}
	if r.Public && (len(r.Roles) > 0 || r.TenantParam != "" || r.RequireActiveServices) {
		return fmt.Errorf("rule %s %s: public rules cannot carry restrictions", r.Method, r.Pattern)
	}
	for _, role := range r.Roles {
		if !role.Valid() {
			return fmt.Errorf("rule %s %s: unknown role %q", r.Method, r.Pattern, role)
		}
	}
	return nil
}
