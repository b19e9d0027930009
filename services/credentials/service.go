// Package credentials verifies passwords and TOTP codes, tracks lockout
// and issues access and refresh tokens.
package credentials

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/upb/repairdesk-core/internal/observability"
	"github.com/upb/repairdesk-core/internal/secrets"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/repositories"
	"github.com/upb/repairdesk-core/services"
	"github.com/upb/repairdesk-core/services/audit"
	"go.uber.org/zap"
)

// Config holds the credential policy
type Config struct {
	JWTSecret        string
	Issuer           string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	LockoutThreshold int
	LockoutDuration  time.Duration
	TOTPIssuer       string
	TOTPSkew         uint
}

// DefaultConfig returns the standard policy with the given signing secret
func DefaultConfig(secret string) Config {
	return Config{
		JWTSecret:        secret,
		Issuer:           "repairdesk",
		AccessTokenTTL:   15 * time.Minute,
		RefreshTokenTTL:  7 * 24 * time.Hour,
		LockoutThreshold: 5,
		LockoutDuration:  15 * time.Minute,
		TOTPIssuer:       "RepairDesk",
		TOTPSkew:         2,
	}
}

// RequestMeta identifies the request an operation runs for, for the audit log.
type RequestMeta struct {
	SourceIP  string
	RequestID string
}

// LoginInput is a login attempt
type LoginInput struct {
	Email    string
	Password string
	TOTP     string
	RequestMeta
}

// TokenPair is what a successful login or refresh returns
type TokenPair struct {
	AccessToken           string    `json:"access_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshToken          string    `json:"refresh_token"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
}

// LoginResult is a successful login
type LoginResult struct {
	Account *models.Account
	TokenPair
}

// Service implements the credential and token operations
type Service struct {
	accounts  repositories.AccountRepository
	refresh   repositories.RefreshTokenRepository
	hasher    PasswordHasher
	tokens    *TokenIssuer
	encryptor *secrets.Encryptor
	audit     audit.Recorder
	metrics   *observability.Metrics
	logger    *zap.Logger
	cfg       Config
	now       func() time.Time
}

// Dependencies are the collaborators of a Service. Now may be nil.
type Dependencies struct {
	Accounts      repositories.AccountRepository
	RefreshTokens repositories.RefreshTokenRepository
	Hasher        PasswordHasher
	Encryptor     *secrets.Encryptor
	Audit         audit.Recorder
	Metrics       *observability.Metrics
	Logger        *zap.Logger
	Now           func() time.Time
}

// NewService creates a credential Service
func NewService(deps Dependencies, cfg Config) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		accounts:  deps.Accounts,
		refresh:   deps.RefreshTokens,
		hasher:    deps.Hasher,
		tokens:    NewTokenIssuer(cfg.JWTSecret, cfg.Issuer, cfg.AccessTokenTTL, now),
		encryptor: deps.Encryptor,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		cfg:       cfg,
		now:       now,
	}
}

// Authenticate checks email, password and, when enabled, the TOTP code.
//
// A missing account and a wrong password produce the same error after the
// same bcrypt work. The lock is checked before the password, and the TOTP
// code only after it, so a wrong password never reveals whether two-factor
// is on. Once credentials are verified, bookkeeping and token persistence
// ignore cancellation of ctx.
func (s *Service) Authenticate(ctx context.Context, in LoginInput) (*LoginResult, error) {
	now := s.now()

	account, err := s.accounts.GetByEmail(ctx, in.Email)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, services.WrapInternal("account lookup failed", err)
		}
		s.hasher.Compare("", in.Password)
		return nil, s.loginFailed(ctx, in, nil, services.ErrInvalidCredentials, nil)
	}

	if account.IsLocked(now) {
		return nil, s.loginFailed(ctx, in, account, s.lockedError(account, now),
			map[string]interface{}{"lock_until": account.LockUntil.UTC()})
	}

	if !s.hasher.Compare(account.PasswordHash, in.Password) {
		details := s.countFailure(ctx, account, now)
		return nil, s.loginFailed(ctx, in, account, services.ErrInvalidCredentials, details)
	}

	if account.TwoFactorEnabled && !s.validateTOTP(account, in.TOTP, now) {
		details := s.countFailure(ctx, account, now)
		return nil, s.loginFailed(ctx, in, account, services.ErrInvalidTOTP, details)
	}

	if !account.IsActive() {
		return nil, s.loginFailed(ctx, in, account, services.ErrAccountInactive, nil)
	}

	persist := context.WithoutCancel(ctx)
	if err := s.accounts.RecordLoginSuccess(persist, account.ID, now); err != nil {
		return nil, services.WrapInternal("record login success failed", err)
	}
	account.FailedLoginAttempts = 0
	account.LockUntil = nil
	lastLogin := now.UTC()
	account.LastLogin = &lastLogin

	pair, err := s.issuePair(persist, account, now, "")
	if err != nil {
		return nil, err
	}

	s.metrics.AuthAttempt(string(models.OutcomeSuccess), "")
	s.record(ctx, models.AuditActionLogin, models.OutcomeSuccess, account, false, in.RequestMeta, map[string]interface{}{
		"two_factor": account.TwoFactorEnabled,
	})
	s.logger.Info("login succeeded", zap.String("account_id", account.ID.String()))

	return &LoginResult{Account: account, TokenPair: *pair}, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// invalidated; replaying it returns TOKEN_UNKNOWN.
func (s *Service) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*TokenPair, error) {
	now := s.now()

	if refreshToken == "" {
		return nil, s.refreshFailed(ctx, meta, nil, services.ErrTokenUnknown)
	}
	hash := secrets.HashToken(refreshToken)

	stored, err := s.refresh.GetByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, s.refreshFailed(ctx, meta, nil, services.ErrTokenUnknown)
		}
		return nil, services.WrapInternal("refresh token lookup failed", err)
	}

	account, err := s.accounts.GetByID(ctx, stored.AccountID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, s.refreshFailed(ctx, meta, nil, services.ErrTokenUnknown)
		}
		return nil, services.WrapInternal("account lookup failed", err)
	}

	if stored.IsExpired(now) {
		if err := s.refresh.Revoke(context.WithoutCancel(ctx), stored.AccountID); err != nil {
			s.logger.Warn("failed to remove expired refresh token", zap.Error(err))
		}
		return nil, s.refreshFailed(ctx, meta, account, services.ErrTokenExpired)
	}

	if !account.IsActive() {
		return nil, s.refreshFailed(ctx, meta, account, services.ErrAccountInactive)
	}

	pair, err := s.issuePair(context.WithoutCancel(ctx), account, now, hash)
	if err != nil {
		if errors.Is(err, services.ErrTokenUnknown) {
			return nil, s.refreshFailed(ctx, meta, account, services.ErrTokenUnknown)
		}
		return nil, err
	}

	s.metrics.AuthAttempt(string(models.OutcomeSuccess), "")
	s.record(ctx, models.AuditActionRefresh, models.OutcomeSuccess, account, false, meta, nil)
	return pair, nil
}

// Logout revokes the account's refresh token. Access tokens stay valid
// until they expire.
func (s *Service) Logout(ctx context.Context, accountID uuid.UUID, meta RequestMeta) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return services.ErrAccountNotFound
		}
		return services.WrapInternal("account lookup failed", err)
	}

	if err := s.refresh.Revoke(context.WithoutCancel(ctx), accountID); err != nil {
		return services.WrapInternal("revoke refresh token failed", err)
	}

	s.record(ctx, models.AuditActionLogout, models.OutcomeSuccess, account, false, meta, nil)
	return nil
}

// ValidateAccessToken verifies an access token and returns its claims.
func (s *Service) ValidateAccessToken(_ context.Context, token string) (*AccessClaims, error) {
	if token == "" {
		return nil, services.ErrNoToken
	}
	return s.tokens.Parse(token)
}

// issuePair mints an access token and a refresh token. With an empty
// previousHash the refresh token replaces whatever the account had;
// otherwise it rotates previousHash and fails with ErrTokenUnknown when a
// concurrent refresh already did.
func (s *Service) issuePair(ctx context.Context, account *models.Account, now time.Time, previousHash string) (*TokenPair, error) {
	access, accessExp, err := s.tokens.Issue(account)
	if err != nil {
		return nil, services.WrapInternal("sign access token failed", err)
	}

	raw, hash, err := secrets.NewOpaqueToken()
	if err != nil {
		return nil, services.WrapInternal("generate refresh token failed", err)
	}
	next := &models.RefreshToken{
		AccountID: account.ID,
		TokenHash: hash,
		ExpiresAt: now.Add(s.cfg.RefreshTokenTTL).UTC(),
		CreatedAt: now.UTC(),
	}

	if previousHash == "" {
		err = s.refresh.Replace(ctx, next)
	} else {
		err = s.refresh.Rotate(ctx, previousHash, next)
		if errors.Is(err, repositories.ErrConflict) || errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrTokenUnknown
		}
	}
	if err != nil {
		return nil, services.WrapInternal("store refresh token failed", err)
	}

	return &TokenPair{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp.UTC(),
		RefreshToken:          raw,
		RefreshTokenExpiresAt: next.ExpiresAt,
	}, nil
}

// countFailure applies one failed attempt to the account and returns the
// audit details describing the result.
func (s *Service) countFailure(ctx context.Context, account *models.Account, now time.Time) map[string]interface{} {
	result, err := s.accounts.RecordLoginFailure(context.WithoutCancel(ctx), account.ID,
		s.cfg.LockoutThreshold, now.Add(s.cfg.LockoutDuration).UTC())
	if err != nil {
		s.logger.Error("failed to record login failure",
			zap.String("account_id", account.ID.String()),
			zap.Error(err))
		return nil
	}

	details := map[string]interface{}{"failed_attempts": result.Attempts}
	if result.LockUntil != nil && result.LockUntil.After(now) {
		details["locked_until"] = result.LockUntil.UTC()
		s.logger.Warn("account locked after repeated failures",
			zap.String("account_id", account.ID.String()),
			zap.Time("lock_until", *result.LockUntil))
	}
	return details
}

func (s *Service) lockedError(account *models.Account, now time.Time) *services.DomainError {
	return services.ErrAccountLocked.
		WithDetail("lock_until", account.LockUntil.UTC()).
		WithDetail("retry_after", int(math.Ceil(account.LockUntil.Sub(now).Seconds())))
}

func (s *Service) loginFailed(ctx context.Context, in LoginInput, account *models.Account, failure *services.DomainError, details map[string]interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["reason"] = failure.Code
	details["email"] = models.NormalizeEmail(in.Email)

	s.metrics.AuthAttempt(string(models.OutcomeFailure), failure.Code)
	s.record(ctx, models.AuditActionLogin, models.OutcomeFailure, account, true, in.RequestMeta, details)
	return failure
}

func (s *Service) refreshFailed(ctx context.Context, meta RequestMeta, account *models.Account, failure *services.DomainError) error {
	s.metrics.AuthAttempt(string(models.OutcomeFailure), failure.Code)
	s.record(ctx, models.AuditActionRefresh, models.OutcomeFailure, account, true, meta, map[string]interface{}{
		"reason": failure.Code,
	})
	return failure
}

// record writes an audit entry about target. The actor is set only for
// calls made by an authenticated or fully verified account; failed
// credential checks stay anonymous.
func (s *Service) record(ctx context.Context, action models.AuditAction, outcome models.AuditOutcome, target *models.Account, anonymous bool, meta RequestMeta, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	entry := models.NewAuditLog(action, "account", outcome).WithRequest(meta.RequestID, meta.SourceIP)
	if target != nil {
		entry.Resource = "account:" + target.ID.String()
		entry.WithOrganization(target.OrganizationID)
		if !anonymous {
			entry.WithActor(target.ID)
		}
	}
	if details != nil {
		entry.WithDetails(details)
	}
	s.audit.Record(ctx, entry)
}
