package handlers

import (
	"net/http"

	"github.com/upb/repairdesk-core/middleware"
	"github.com/upb/repairdesk-core/services"
	"github.com/upb/repairdesk-core/services/tenancy"
	"github.com/upb/repairdesk-core/utils"
	"go.uber.org/zap"
)

// HandleServiceError maps domain errors to HTTP responses
func HandleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	utils.WriteDomainError(w, err, logger)
}

// requireIdentity returns the caller resolved by the access-control
// middleware, answering 401 when there is none.
func requireIdentity(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (*tenancy.Identity, bool) {
	identity := middleware.GetIdentityFromContext(r.Context())
	if identity == nil {
		HandleServiceError(w, services.ErrNoToken, logger)
		return nil, false
	}
	return identity, true
}
