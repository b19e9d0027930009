package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/upb/repairdesk-core/middleware"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/services"
	"github.com/upb/repairdesk-core/services/credentials"
	"github.com/upb/repairdesk-core/services/tenancy"
	"github.com/upb/repairdesk-core/utils"
	"go.uber.org/zap"
)

// CredentialService is the slice of credentials.Service the auth handlers use
type CredentialService interface {
	Authenticate(ctx context.Context, in credentials.LoginInput) (*credentials.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string, meta credentials.RequestMeta) (*credentials.TokenPair, error)
	Logout(ctx context.Context, accountID uuid.UUID, meta credentials.RequestMeta) error
	SetupTwoFactor(ctx context.Context, accountID uuid.UUID, meta credentials.RequestMeta) (*credentials.TwoFactorSetup, error)
	VerifyTwoFactorSetup(ctx context.Context, accountID uuid.UUID, code string, meta credentials.RequestMeta) (bool, error)
	DisableTwoFactor(ctx context.Context, accountID uuid.UUID, code string, meta credentials.RequestMeta) (bool, error)
}

// LoginRequest is the body of POST /api/v1/auth/login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	TOTP     string `json:"totp,omitempty" validate:"omitempty,totp"`
}

// RefreshRequest is the body of POST /api/v1/auth/refresh
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// TwoFactorRequest is the body of the two-factor endpoints. AccountID is
// optional and must name the caller when present.
type TwoFactorRequest struct {
	AccountID string `json:"account_id,omitempty" validate:"omitempty,uuid"`
	Code      string `json:"code,omitempty" validate:"omitempty,totp"`
}

// LoginResponse is returned by a successful login
type LoginResponse struct {
	Account *models.Account `json:"account"`
	credentials.TokenPair
}

// AuthHandler serves login, refresh, logout and two-factor management
type AuthHandler struct {
	credentials   CredentialService
	secureCookies bool
	logger        *zap.Logger
}

// NewAuthHandler creates a new AuthHandler. secureCookies marks the
// access_token cookie Secure.
func NewAuthHandler(svc CredentialService, secureCookies bool, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		credentials:   svc,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

// HandleLogin handles POST /api/v1/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	result, err := h.credentials.Authenticate(r.Context(), credentials.LoginInput{
		Email:       req.Email,
		Password:    req.Password,
		TOTP:        req.TOTP,
		RequestMeta: middleware.RequestMeta(r),
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.setAccessCookie(w, result.AccessToken, result.AccessTokenExpiresAt)
	_ = utils.WriteOK(w, LoginResponse{Account: result.Account, TokenPair: result.TokenPair})
}

// HandleRefresh handles POST /api/v1/auth/refresh
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	pair, err := h.credentials.Refresh(r.Context(), req.RefreshToken, middleware.RequestMeta(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.setAccessCookie(w, pair.AccessToken, pair.AccessTokenExpiresAt)
	_ = utils.WriteOK(w, pair)
}

// HandleLogout handles POST /api/v1/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.credentials.Logout(r.Context(), identity.AccountID, middleware.RequestMeta(r)); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	utils.WriteNoContent(w)
}

// HandleMe handles GET /api/v1/auth/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	identity, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}
	_ = utils.WriteOK(w, identity)
}

// HandleTwoFactorSetup handles POST /api/v1/auth/2fa/setup
func (h *AuthHandler) HandleTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	identity, _, ok := h.twoFactorRequest(w, r, false)
	if !ok {
		return
	}

	setup, err := h.credentials.SetupTwoFactor(r.Context(), identity.AccountID, middleware.RequestMeta(r))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, setup)
}

// HandleTwoFactorVerify handles POST /api/v1/auth/2fa/verify
func (h *AuthHandler) HandleTwoFactorVerify(w http.ResponseWriter, r *http.Request) {
	identity, req, ok := h.twoFactorRequest(w, r, true)
	if !ok {
		return
	}

	enabled, err := h.credentials.VerifyTwoFactorSetup(r.Context(), identity.AccountID, req.Code, middleware.RequestMeta(r))
	h.writeTwoFactorResult(w, enabled, true, err)
}

// HandleTwoFactorDisable handles POST /api/v1/auth/2fa/disable
func (h *AuthHandler) HandleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	identity, req, ok := h.twoFactorRequest(w, r, true)
	if !ok {
		return
	}

	disabled, err := h.credentials.DisableTwoFactor(r.Context(), identity.AccountID, req.Code, middleware.RequestMeta(r))
	h.writeTwoFactorResult(w, disabled, false, err)
}

// twoFactorRequest decodes the body, when there is one, and enforces that
// callers only manage their own two-factor settings.
func (h *AuthHandler) twoFactorRequest(w http.ResponseWriter, r *http.Request, needCode bool) (*tenancy.Identity, TwoFactorRequest, bool) {
	var req TwoFactorRequest
	identity, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return nil, req, false
	}

	if needCode || r.ContentLength > 0 {
		if err := utils.DecodeJSON(r, &req); err != nil {
			HandleServiceError(w, err, h.logger)
			return nil, req, false
		}
	}
	if needCode && req.Code == "" {
		HandleServiceError(w, services.ErrInvalidInput.WithDetail("code", "code is required"), h.logger)
		return nil, req, false
	}
	if req.AccountID != "" && req.AccountID != identity.AccountID.String() {
		HandleServiceError(w, services.ErrInsufficientPermissions.WithDetail("reason", "two-factor settings are self-service"), h.logger)
		return nil, req, false
	}
	return identity, req, true
}

// writeTwoFactorResult answers a verify or disable. A rejected code is a
// 401 INVALID_TOTP.
func (h *AuthHandler) writeTwoFactorResult(w http.ResponseWriter, accepted, enabled bool, err error) {
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if !accepted {
		HandleServiceError(w, services.ErrInvalidTOTP, h.logger)
		return
	}
	_ = utils.WriteOK(w, map[string]bool{"two_factor_enabled": enabled})
}

func (h *AuthHandler) setAccessCookie(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessTokenCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}
