package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/services"
	"github.com/upb/repairdesk-core/utils"
	"go.uber.org/zap"
)

// AuditLister reads recent audit entries
type AuditLister interface {
	ListRecent(ctx context.Context, organizationID *uuid.UUID, limit int) ([]*models.AuditLog, error)
}

// AuditHandler serves the audit log
type AuditHandler struct {
	audit  AuditLister
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(lister AuditLister, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{audit: lister, logger: logger}
}

// HandleList handles GET /api/v1/audit/logs?limit=N. Organization callers
// only see their own organization's entries.
func (h *AuditHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			HandleServiceError(w, services.ErrInvalidInput.WithDetail("limit", "must be a non-negative integer"), h.logger)
			return
		}
		limit = n
	}

	entries, err := h.audit.ListRecent(r.Context(), identity.OrganizationFilter(), limit)
	if err != nil {
		HandleServiceError(w, services.WrapInternal("list audit logs failed", err), h.logger)
		return
	}
	if entries == nil {
		entries = []*models.AuditLog{}
	}
	_ = utils.WriteOK(w, entries)
}
