package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/upb/repairdesk-core/middleware"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/services/organizations"
	"github.com/upb/repairdesk-core/services/tenancy"
	"github.com/upb/repairdesk-core/utils"
	"go.uber.org/zap"
)

// OrganizationService is the slice of organizations.Service the handlers use
type OrganizationService interface {
	Create(ctx context.Context, caller *tenancy.Identity, in organizations.CreateInput) (*models.Organization, error)
	Get(ctx context.Context, caller *tenancy.Identity, id uuid.UUID) (*models.Organization, error)
}

// CreateOrganizationRequest is the body of POST /api/v1/organizations
type CreateOrganizationRequest struct {
	Name             string `json:"name" validate:"required,max=200"`
	SubscriptionTier string `json:"subscription_tier" validate:"required,oneof=starter professional enterprise"`
}

// OrganizationHandler serves organization endpoints
type OrganizationHandler struct {
	organizations OrganizationService
	logger        *zap.Logger
}

// NewOrganizationHandler creates a new OrganizationHandler
func NewOrganizationHandler(svc OrganizationService, logger *zap.Logger) *OrganizationHandler {
	return &OrganizationHandler{organizations: svc, logger: logger}
}

// HandleCreate handles POST /api/v1/organizations
func (h *OrganizationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateOrganizationRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	org, err := h.organizations.Create(r.Context(), identity, organizations.CreateInput{
		Name:             req.Name,
		SubscriptionTier: models.SubscriptionTier(req.SubscriptionTier),
		RequestMeta:      middleware.RequestMeta(r),
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, org)
}

// HandleGet handles GET /api/v1/organizations/{orgId}
func (h *OrganizationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}
	orgID, ok := parseOrganizationParam(w, r, h.logger)
	if !ok {
		return
	}

	org, err := h.organizations.Get(r.Context(), identity, orgID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, org)
}
