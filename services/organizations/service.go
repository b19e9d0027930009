// Package organizations manages tenants.
package organizations

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/repositories"
	"github.com/upb/repairdesk-core/services"
	"github.com/upb/repairdesk-core/services/audit"
	"github.com/upb/repairdesk-core/services/credentials"
	"github.com/upb/repairdesk-core/services/tenancy"
)

// CreateInput describes a new organization
type CreateInput struct {
	Name             string
	SubscriptionTier models.SubscriptionTier
	credentials.RequestMeta
}

// Service creates and reads organizations
type Service struct {
	repo  repositories.OrganizationRepository
	audit audit.Recorder
}

// NewService creates an organizations Service
func NewService(repo repositories.OrganizationRepository, recorder audit.Recorder) *Service {
	return &Service{repo: repo, audit: recorder}
}

// Create adds an active organization. Only platform callers may create one.
func (s *Service) Create(ctx context.Context, caller *tenancy.Identity, in CreateInput) (*models.Organization, error) {
	if caller == nil || !caller.IsPlatform() {
		return nil, services.ErrInsufficientPermissions
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, services.ErrInvalidInput.WithDetail("name", "required")
	}
	switch in.SubscriptionTier {
	case "", models.TierStarter, models.TierProfessional, models.TierEnterprise:
	default:
		return nil, services.ErrInvalidInput.WithDetail("subscription_tier", in.SubscriptionTier)
	}

	org := models.NewOrganization(name, in.SubscriptionTier)
	if err := s.repo.Create(ctx, org); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, services.NewDomainError(services.ErrorTypeConflict, services.CodeConflict, "organization already exists", err)
		}
		return nil, services.WrapInternal("create organization failed", err)
	}

	s.audit.Record(ctx, models.NewAuditLog(models.AuditActionOrganizationCreate, "organization:"+org.ID.String(), models.OutcomeSuccess).
		WithActor(caller.AccountID).
		WithOrganization(&org.ID).
		WithRequest(in.RequestID, in.SourceIP).
		WithDetails(map[string]interface{}{"name": org.Name, "subscription_tier": org.SubscriptionTier}))
	return org, nil
}

// Get returns the organization if caller may see it
func (s *Service) Get(ctx context.Context, caller *tenancy.Identity, id uuid.UUID) (*models.Organization, error) {
	if caller == nil {
		return nil, services.ErrNoToken
	}
	if !caller.IsPlatform() && (caller.OrganizationID == nil || *caller.OrganizationID != id) {
		return nil, services.ErrCrossOrgAccessDenied
	}
	org, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrOrganizationNotFound
		}
		return nil, services.WrapInternal("organization lookup failed", err)
	}
	return org, nil
}
