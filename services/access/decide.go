package access

import (
	"github.com/google/uuid"
	"github.com/upb/repairdesk-core/services"
	"github.com/upb/repairdesk-core/services/tenancy"
)

// Decide applies the tenant check and then the role table to a resolved
// identity. The tenant check runs first, so a caller outside the route's
// organization is told CROSS_ORG_ACCESS_DENIED whatever their role.
func Decide(identity *tenancy.Identity, m *Match) error {
	if identity == nil {
		return services.ErrNoToken
	}
	if m == nil {
		return services.ErrInsufficientPermissions
	}

	if param := m.Rule.TenantParam; param != "" && !identity.IsPlatform() {
		target, err := uuid.Parse(m.Param(param))
		if err != nil || identity.OrganizationID == nil || *identity.OrganizationID != target {
			return services.ErrCrossOrgAccessDenied
		}
	}

	if !m.Rule.Allows(identity.Role) {
		return services.ErrInsufficientPermissions
	}
	return nil
}
