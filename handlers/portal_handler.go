package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/upb/repairdesk-core/utils"
	"go.uber.org/zap"
)

// PortalProfile is what a customer sees at /api/v1/portal/me
type PortalProfile struct {
	AccountID      uuid.UUID  `json:"account_id"`
	Email          string     `json:"email"`
	OrganizationID *uuid.UUID `json:"organization_id"`
}

// PortalHandler serves the customer portal
type PortalHandler struct {
	logger *zap.Logger
}

// NewPortalHandler creates a new PortalHandler
func NewPortalHandler(logger *zap.Logger) *PortalHandler {
	return &PortalHandler{logger: logger}
}

// HandleMe handles GET /api/v1/portal/me. Access control has already
// required an active service relationship.
func (h *PortalHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}
	_ = utils.WriteOK(w, PortalProfile{
		AccountID:      identity.AccountID,
		Email:          identity.Email,
		OrganizationID: identity.OrganizationID,
	})
}
