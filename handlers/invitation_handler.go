package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/repairdesk-core/middleware"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/services"
	"github.com/upb/repairdesk-core/services/access"
	"github.com/upb/repairdesk-core/services/invitations"
	"github.com/upb/repairdesk-core/services/tenancy"
	"github.com/upb/repairdesk-core/utils"
	"go.uber.org/zap"
)

// InvitationService is the slice of invitations.Service the handlers use
type InvitationService interface {
	Create(ctx context.Context, inviter *tenancy.Identity, in invitations.CreateInput) (*invitations.Created, error)
	Accept(ctx context.Context, in invitations.AcceptInput) (*models.Account, error)
}

// CreateInvitationRequest is the body of POST .../invitations
type CreateInvitationRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required,role"`
}

// CreateCustomerRequest is the body of POST .../customers
type CreateCustomerRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// AcceptInvitationRequest is the body of POST /api/v1/invitations/accept
type AcceptInvitationRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8"`
}

// InvitationResponse never carries the invitation token
type InvitationResponse struct {
	Invitation *models.Invitation `json:"invitation"`
	Delivered  bool               `json:"delivered"`
}

// InvitationHandler serves invitation creation and acceptance
type InvitationHandler struct {
	invitations InvitationService
	logger      *zap.Logger
}

// NewInvitationHandler creates a new InvitationHandler
func NewInvitationHandler(svc InvitationService, logger *zap.Logger) *InvitationHandler {
	return &InvitationHandler{invitations: svc, logger: logger}
}

// HandleCreate handles POST /api/v1/organizations/{orgId}/invitations
func (h *InvitationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}
	orgID, ok := parseOrganizationParam(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateInvitationRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		HandleServiceError(w, services.ErrInvalidInput.WithDetail("role", err.Error()), h.logger)
		return
	}

	h.create(w, r, identity, invitations.CreateInput{
		Email:          req.Email,
		Role:           role,
		OrganizationID: orgID,
		RequestMeta:    middleware.RequestMeta(r),
	})
}

// HandleCreateCustomer handles POST /api/v1/organizations/{orgId}/customers.
// The invitation role is always CUSTOMER.
func (h *InvitationHandler) HandleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}
	orgID, ok := parseOrganizationParam(w, r, h.logger)
	if !ok {
		return
	}

	var req CreateCustomerRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.create(w, r, identity, invitations.CreateInput{
		Email:          req.Email,
		Role:           models.RoleCustomer,
		OrganizationID: orgID,
		RequestMeta:    middleware.RequestMeta(r),
	})
}

// HandleAccept handles POST /api/v1/invitations/accept
func (h *InvitationHandler) HandleAccept(w http.ResponseWriter, r *http.Request) {
	var req AcceptInvitationRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	account, err := h.invitations.Accept(r.Context(), invitations.AcceptInput{
		Token:       req.Token,
		Password:    req.Password,
		RequestMeta: middleware.RequestMeta(r),
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, account)
}

func (h *InvitationHandler) create(w http.ResponseWriter, r *http.Request, identity *tenancy.Identity, in invitations.CreateInput) {
	created, err := h.invitations.Create(r.Context(), identity, in)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, InvitationResponse{
		Invitation: created.Invitation,
		Delivered:  created.Delivered,
	})
}

func parseOrganizationParam(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, access.OrgParam))
	if err != nil {
		HandleServiceError(w, services.ErrInvalidInput.WithDetail(access.OrgParam, "must be a UUID"), logger)
		return uuid.Nil, false
	}
	return id, true
}
