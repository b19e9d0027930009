// Package invitations onboards organization members and customers through
// single-use emailed links.
package invitations

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/upb/repairdesk-core/internal/notify"
	"github.com/upb/repairdesk-core/internal/secrets"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/repositories"
	"github.com/upb/repairdesk-core/services"
	"github.com/upb/repairdesk-core/services/audit"
	"github.com/upb/repairdesk-core/services/credentials"
	"github.com/upb/repairdesk-core/services/tenancy"
	"go.uber.org/zap"
)

// MinPasswordLength applies to passwords chosen on acceptance
const MinPasswordLength = 8

// Config holds invitation settings
type Config struct {
	TTL           time.Duration
	InviteBaseURL string
}

// CreateInput describes a new invitation
type CreateInput struct {
	Email          string
	Role           models.Role
	OrganizationID uuid.UUID
	credentials.RequestMeta
}

// Created is the stored invitation and its one-time token. The token only
// leaves the service through the notifier.
type Created struct {
	Invitation *models.Invitation
	Token      string
	Delivered  bool
}

// AcceptInput redeems an invitation token
type AcceptInput struct {
	Token    string
	Password string
	credentials.RequestMeta
}

// Dependencies are the collaborators of the Service
type Dependencies struct {
	Invitations   repositories.InvitationRepository
	Accounts      repositories.AccountRepository
	Organizations repositories.OrganizationRepository
	TxManager     repositories.TransactionManager
	Hasher        credentials.PasswordHasher
	Notifier      notify.Notifier
	Audit         audit.Recorder
	Logger        *zap.Logger
	Now           func() time.Time
}

// Service creates and redeems invitations
type Service struct {
	invitations   repositories.InvitationRepository
	accounts      repositories.AccountRepository
	organizations repositories.OrganizationRepository
	txManager     repositories.TransactionManager
	hasher        credentials.PasswordHasher
	notifier      notify.Notifier
	audit         audit.Recorder
	logger        *zap.Logger
	now           func() time.Time
	cfg           Config
}

// NewService creates an invitations Service
func NewService(deps Dependencies, cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		invitations:   deps.Invitations,
		accounts:      deps.Accounts,
		organizations: deps.Organizations,
		txManager:     deps.TxManager,
		hasher:        deps.Hasher,
		notifier:      deps.Notifier,
		audit:         deps.Audit,
		logger:        deps.Logger,
		now:           now,
		cfg:           cfg,
	}
}

// Create stores an invitation from inviter and hands it to the notifier.
// Technicians may only invite customers. A delivery failure is logged and
// reported through Created.Delivered.
func (s *Service) Create(ctx context.Context, inviter *tenancy.Identity, in CreateInput) (*Created, error) {
	if inviter == nil {
		return nil, services.ErrNoToken
	}
	email := models.NormalizeEmail(in.Email)
	if email == "" {
		return nil, services.ErrInvalidInput.WithDetail("email", "required")
	}
	if in.Role != models.RoleCustomer && !in.Role.IsOrganizationMember() {
		return nil, services.ErrInvalidInput.WithDetail("role", "must be an organization role or CUSTOMER")
	}
	if inviter.Role == models.RoleTechnician && in.Role != models.RoleCustomer {
		return nil, services.ErrInsufficientPermissions.WithDetail("role", in.Role)
	}
	if inviter.Role == models.RoleCustomer {
		return nil, services.ErrInsufficientPermissions
	}
	if !inviter.IsPlatform() && (inviter.OrganizationID == nil || *inviter.OrganizationID != in.OrganizationID) {
		return nil, services.ErrCrossOrgAccessDenied
	}

	org, err := s.organizations.GetByID(ctx, in.OrganizationID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrOrganizationNotFound
		}
		return nil, services.WrapInternal("organization lookup failed", err)
	}
	if !org.Active {
		return nil, services.ErrOrganizationInactive
	}

	if _, err := s.accounts.GetByEmail(ctx, email); err == nil {
		return nil, services.ErrDuplicateEmail
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return nil, services.WrapInternal("account lookup failed", err)
	}

	token, hash, err := secrets.NewOpaqueToken()
	if err != nil {
		return nil, services.WrapInternal("generate invitation token failed", err)
	}
	inv := models.NewInvitation(email, in.Role, org.ID, inviter.AccountID, hash, s.now().UTC(), s.cfg.TTL)
	if err := s.invitations.Create(ctx, inv); err != nil {
		return nil, services.WrapInternal("store invitation failed", err)
	}

	created := &Created{Invitation: inv, Token: token, Delivered: true}
	if err := s.notifier.SendInvitation(ctx, notify.InvitationMessage{
		InvitationID:   inv.ID,
		Email:          inv.Email,
		Role:           string(inv.Role),
		OrganizationID: inv.OrganizationID,
		AcceptURL:      s.acceptURL(token),
		ExpiresAt:      inv.ExpiresAt,
	}); err != nil {
		created.Delivered = false
		s.logger.Error("failed to send invitation",
			zap.String("invitation_id", inv.ID.String()),
			zap.Error(err))
	}

	s.audit.Record(ctx, models.NewAuditLog(models.AuditActionInvitationCreate, "invitation:"+inv.ID.String(), models.OutcomeSuccess).
		WithActor(inviter.AccountID).
		WithOrganization(&inv.OrganizationID).
		WithRequest(in.RequestID, in.SourceIP).
		WithDetails(map[string]interface{}{
			"role":      inv.Role,
			"delivered": created.Delivered,
		}))

	return created, nil
}

// Accept consumes the invitation named by token and creates its account.
// Unknown, expired and already used tokens all fail with INVITATION_INVALID.
func (s *Service) Accept(ctx context.Context, in AcceptInput) (*models.Account, error) {
	if len(in.Password) < MinPasswordLength {
		return nil, services.ErrInvalidInput.WithDetail("password", "too short")
	}
	if in.Token == "" {
		return nil, services.ErrInvitationInvalid
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, services.WrapInternal("hash password failed", err)
	}

	var (
		account *models.Account
		inv     *models.Invitation
	)
	now := s.now().UTC()
	err = s.txManager.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
		var err error
		inv, err = s.invitations.GetByTokenHash(ctx, secrets.HashToken(in.Token))
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return services.ErrInvitationInvalid
			}
			return services.WrapInternal("invitation lookup failed", err)
		}
		if !inv.IsUsable(now) {
			return services.ErrInvitationInvalid
		}

		if err := s.invitations.MarkAccepted(ctx, inv.ID, now); err != nil {
			if errors.Is(err, repositories.ErrConflict) {
				return services.ErrInvitationInvalid
			}
			return services.WrapInternal("consume invitation failed", err)
		}

		orgID := inv.OrganizationID
		account = models.NewAccount(inv.Email, passwordHash, inv.Role, &orgID)
		if err := s.accounts.Create(ctx, account); err != nil {
			if errors.Is(err, repositories.ErrDuplicate) {
				return services.ErrDuplicateEmail
			}
			return services.WrapInternal("create account failed", err)
		}
		return nil
	})

	if err != nil && services.GetErrorType(err) == "" {
		err = services.WrapInternal("invitation transaction failed", err)
	}
	if err != nil {
		details := map[string]interface{}{"reason": services.GetErrorCode(err)}
		entry := models.NewAuditLog(models.AuditActionInvitationAccept, "invitation", models.OutcomeFailure).
			WithRequest(in.RequestID, in.SourceIP)
		if inv != nil {
			entry.Resource = "invitation:" + inv.ID.String()
			entry.WithOrganization(&inv.OrganizationID)
		}
		s.audit.Record(ctx, entry.WithDetails(details))
		return nil, err
	}

	s.audit.Record(ctx, models.NewAuditLog(models.AuditActionInvitationAccept, "invitation:"+inv.ID.String(), models.OutcomeSuccess).
		WithActor(account.ID).
		WithOrganization(account.OrganizationID).
		WithRequest(in.RequestID, in.SourceIP).
		WithDetails(map[string]interface{}{"role": account.Role}))

	s.logger.Info("invitation accepted",
		zap.String("invitation_id", inv.ID.String()),
		zap.String("account_id", account.ID.String()))
	return account, nil
}

func (s *Service) acceptURL(token string) string {
	return s.cfg.InviteBaseURL + "?" + url.Values{"token": {token}}.Encode()
}
