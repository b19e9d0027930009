// Package tenancy turns verified token claims into the caller's identity
// and tenancy mode. It makes no authorization decisions.
package tenancy

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/repositories"
	"github.com/upb/repairdesk-core/services"
	"github.com/upb/repairdesk-core/services/credentials"
)

// Mode is the tenancy class of a caller
type Mode string

const (
	ModePlatform     Mode = "platform"
	ModeOrganization Mode = "organization"
	ModeCustomer     Mode = "customer"
)

// Identity is the resolved caller attached to each authorized request.
type Identity struct {
	AccountID      uuid.UUID   `json:"account_id"`
	Email          string      `json:"email"`
	Role           models.Role `json:"role"`
	OrganizationID *uuid.UUID  `json:"organization_id,omitempty"`
	Mode           Mode        `json:"mode"`
}

// Scope is the filter downstream queries must apply for an identity.
type Scope struct {
	Unrestricted   bool
	OrganizationID uuid.UUID
	// OwnerAccountID is set for customers, who see only their own records.
	OwnerAccountID *uuid.UUID
}

// Scope returns the data filter for the identity
func (i *Identity) Scope() Scope {
	switch i.Mode {
	case ModePlatform:
		return Scope{Unrestricted: true}
	case ModeCustomer:
		owner := i.AccountID
		return Scope{OrganizationID: *i.OrganizationID, OwnerAccountID: &owner}
	default:
		return Scope{OrganizationID: *i.OrganizationID}
	}
}

// IsPlatform reports whether the caller has cross-organization visibility
func (i *Identity) IsPlatform() bool {
	return i.Mode == ModePlatform
}

// OrganizationFilter returns nil for platform callers and the caller's
// organization otherwise.
func (i *Identity) OrganizationFilter() *uuid.UUID {
	if i.IsPlatform() || i.OrganizationID == nil {
		return nil
	}
	id := *i.OrganizationID
	return &id
}

// Resolver loads accounts and organizations for verified claims
type Resolver struct {
	accounts      repositories.AccountRepository
	organizations repositories.OrganizationRepository
	services      repositories.ServiceRelationshipChecker
}

// NewResolver creates a Resolver
func NewResolver(accounts repositories.AccountRepository, organizations repositories.OrganizationRepository, checker repositories.ServiceRelationshipChecker) *Resolver {
	return &Resolver{
		accounts:      accounts,
		organizations: organizations,
		services:      checker,
	}
}

// Resolve classifies the account named by claims. The account record is
// authoritative; role and organization in the token are not trusted.
func (r *Resolver) Resolve(ctx context.Context, claims *credentials.AccessClaims) (*Identity, error) {
	if claims == nil {
		return nil, services.ErrInvalidToken
	}

	account, err := r.accounts.GetByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrInvalidToken
		}
		return nil, services.WrapInternal("account lookup failed", err)
	}
	if !account.IsActive() {
		return nil, services.ErrAccountInactive
	}
	if err := account.ValidateTenancy(); err != nil {
		return nil, services.ErrInvalidToken.Wrap(err)
	}

	identity := &Identity{
		AccountID: account.ID,
		Email:     account.Email,
		Role:      account.Role,
		Mode:      modeFor(account.Role),
	}
	if identity.Mode == ModePlatform {
		return identity, nil
	}

	orgID := *account.OrganizationID
	identity.OrganizationID = &orgID

	org, err := r.organizations.GetByID(ctx, orgID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrOrganizationInactive
		}
		return nil, services.WrapInternal("organization lookup failed", err)
	}
	if !org.Active {
		return nil, services.ErrOrganizationInactive
	}

	return identity, nil
}

// RequireActiveServices fails with NO_ACTIVE_SERVICES for a customer with no
// open job or registered device. Other modes always pass.
func (r *Resolver) RequireActiveServices(ctx context.Context, identity *Identity) error {
	if identity.Mode != ModeCustomer {
		return nil
	}
	active, err := r.services.HasActiveServices(ctx, identity.AccountID)
	if err != nil {
		return services.WrapInternal("service relationship lookup failed", err)
	}
	if !active {
		return services.ErrNoActiveServices
	}
	return nil
}

func modeFor(role models.Role) Mode {
	switch role {
	case models.RolePlatformAdmin:
		return ModePlatform
	case models.RoleCustomer:
		return ModeCustomer
	default:
		return ModeOrganization
	}
}
