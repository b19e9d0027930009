package credentials

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/repositories"
	"github.com/upb/repairdesk-core/services"
	"go.uber.org/zap"
)

const totpPeriod = 30

// TwoFactorSetup is returned once, when a secret is generated
type TwoFactorSetup struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

// SetupTwoFactor generates a new TOTP secret and stores it encrypted.
// Two-factor stays disabled until VerifyTwoFactorSetup succeeds.
func (s *Service) SetupTwoFactor(ctx context.Context, accountID uuid.UUID, meta RequestMeta) (*TwoFactorSetup, error) {
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.TwoFactorEnabled {
		return nil, services.ErrTwoFactorEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.cfg.TOTPIssuer,
		AccountName: account.Email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, services.WrapInternal("generate totp secret failed", err)
	}

	sealed, err := s.encryptor.Seal(key.Secret())
	if err != nil {
		return nil, services.WrapInternal("encrypt totp secret failed", err)
	}
	if err := s.accounts.SetTwoFactorSecret(ctx, account.ID, sealed); err != nil {
		return nil, services.WrapInternal("store totp secret failed", err)
	}

	s.record(ctx, models.AuditActionTwoFactorSetup, models.OutcomeSuccess, account, false, meta, nil)
	return &TwoFactorSetup{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
	}, nil
}

// VerifyTwoFactorSetup enables two-factor when code matches the pending
// secret. Enabling revokes the account's refresh token; a wrong code counts
// toward lockout.
func (s *Service) VerifyTwoFactorSetup(ctx context.Context, accountID uuid.UUID, code string, meta RequestMeta) (bool, error) {
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return false, err
	}
	if account.TwoFactorEnabled {
		return false, services.ErrTwoFactorEnabled
	}
	now := s.now()
	if account.IsLocked(now) {
		return false, s.lockedError(account, now)
	}

	if account.TwoFactorSecret == "" {
		s.codeRejected(ctx, models.AuditActionTwoFactorEnable, account, meta, nil)
		return false, nil
	}
	if !s.validateTOTP(account, code, now) {
		s.codeRejected(ctx, models.AuditActionTwoFactorEnable, account, meta, s.countFailure(ctx, account, now))
		return false, nil
	}

	if err := s.accounts.SetTwoFactorEnabled(ctx, account.ID, true); err != nil {
		return false, services.WrapInternal("enable two-factor failed", err)
	}
	s.revokeSessions(ctx, account.ID)

	s.record(ctx, models.AuditActionTwoFactorEnable, models.OutcomeSuccess, account, false, meta, nil)
	return true, nil
}

// DisableTwoFactor clears the secret and disables two-factor, but only with
// a currently valid code. An invalid code changes nothing except the
// failure counter.
func (s *Service) DisableTwoFactor(ctx context.Context, accountID uuid.UUID, code string, meta RequestMeta) (bool, error) {
	account, err := s.loadAccount(ctx, accountID)
	if err != nil {
		return false, err
	}

	now := s.now()
	if account.IsLocked(now) {
		return false, s.lockedError(account, now)
	}

	if !account.TwoFactorEnabled {
		s.codeRejected(ctx, models.AuditActionTwoFactorDisable, account, meta, map[string]interface{}{"enabled": false})
		return false, nil
	}
	if !s.validateTOTP(account, code, now) {
		s.codeRejected(ctx, models.AuditActionTwoFactorDisable, account, meta, s.countFailure(ctx, account, now))
		return false, nil
	}

	if err := s.accounts.SetTwoFactorEnabled(ctx, account.ID, false); err != nil {
		return false, services.WrapInternal("disable two-factor failed", err)
	}
	s.revokeSessions(ctx, account.ID)

	s.record(ctx, models.AuditActionTwoFactorDisable, models.OutcomeSuccess, account, false, meta, nil)
	return true, nil
}

// validateTOTP checks code against the account's sealed secret, allowing
// TOTPSkew periods either side of now.
func (s *Service) validateTOTP(account *models.Account, code string, now time.Time) bool {
	if code == "" || account.TwoFactorSecret == "" {
		return false
	}

	secret, err := s.encryptor.Open(account.TwoFactorSecret)
	if err != nil {
		s.logger.Error("failed to decrypt totp secret",
			zap.String("account_id", account.ID.String()),
			zap.Error(err))
		return false
	}

	ok, err := totp.ValidateCustom(code, secret, now.UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      s.cfg.TOTPSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// codeRejected records a refused two-factor code. Guesses against an
// existing secret count toward the same lockout as failed logins.
func (s *Service) codeRejected(ctx context.Context, action models.AuditAction, account *models.Account, meta RequestMeta, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["reason"] = services.CodeInvalidTOTP
	s.metrics.AuthAttempt(string(models.OutcomeFailure), services.CodeInvalidTOTP)
	s.record(ctx, action, models.OutcomeFailure, account, false, meta, details)
}

func (s *Service) revokeSessions(ctx context.Context, accountID uuid.UUID) {
	if err := s.refresh.Revoke(context.WithoutCancel(ctx), accountID); err != nil {
		s.logger.Warn("failed to revoke refresh token",
			zap.String("account_id", accountID.String()),
			zap.Error(err))
	}
}

func (s *Service) loadAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrAccountNotFound
		}
		return nil, services.WrapInternal("account lookup failed", err)
	}
	return account, nil
}
