package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/repairdesk-core/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique constraint would be violated.
	ErrDuplicate = errors.New("duplicate record")
	// ErrConflict is returned when a conditional update lost a race.
	ErrConflict = errors.New("conditional update did not apply")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction. Repositories
	// called with the ctx passed to fn run inside the transaction.
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	Commit() error
	Rollback() error
	Context() context.Context
}

// LoginFailure is the account state after a failed attempt was counted.
type LoginFailure struct {
	Attempts  int
	LockUntil *time.Time
}

// AccountRepository handles account data and login bookkeeping. Every
// bookkeeping method is a single atomic update of one account row.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)

	// RecordLoginFailure increments the failure counter and sets lockUntil
	// once the counter reaches threshold.
	RecordLoginFailure(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (*LoginFailure, error)

	// RecordLoginSuccess clears the failure counter and lock, and stamps last login.
	RecordLoginSuccess(ctx context.Context, id uuid.UUID, at time.Time) error

	// SetTwoFactorSecret stores a pending secret and leaves two-factor disabled.
	SetTwoFactorSecret(ctx context.Context, id uuid.UUID, encryptedSecret string) error

	// SetTwoFactorEnabled flips the enabled flag. Disabling also clears the secret.
	SetTwoFactorEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

// OrganizationRepository handles organization data operations
type OrganizationRepository interface {
	Create(ctx context.Context, org *models.Organization) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
}

// RefreshTokenRepository keeps at most one refresh token per account.
type RefreshTokenRepository interface {
	// Replace stores token as the account's only refresh token.
	Replace(ctx context.Context, token *models.RefreshToken) error

	// GetByHash looks a token up by its hash.
	GetByHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)

	// Rotate swaps oldHash for next only if oldHash is still current.
	// It returns ErrConflict when another rotation won.
	Rotate(ctx context.Context, oldHash string, next *models.RefreshToken) error

	// Revoke removes the account's refresh token.
	Revoke(ctx context.Context, accountID uuid.UUID) error
}

// InvitationRepository handles invitation data operations
type InvitationRepository interface {
	Create(ctx context.Context, inv *models.Invitation) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Invitation, error)

	// MarkAccepted consumes the invitation. It returns ErrConflict when the
	// invitation was already accepted or has expired at acceptedAt.
	MarkAccepted(ctx context.Context, id uuid.UUID, acceptedAt time.Time) error
}

// AuditQuery selects audit entries for ListRecent.
type AuditQuery struct {
	OrganizationID *uuid.UUID // nil means every organization; matches the entry's own or target organization
	Limit          int
}

// AuditRepository is the append-only audit sink. It has no update or delete.
type AuditRepository interface {
	Insert(ctx context.Context, log *models.AuditLog) error
	ListRecent(ctx context.Context, q AuditQuery) ([]*models.AuditLog, error)
}

// ServiceRelationshipChecker reports whether a customer has an open job or
// registered device with their organization.
type ServiceRelationshipChecker interface {
	HasActiveServices(ctx context.Context, customerID uuid.UUID) (bool, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Accounts      AccountRepository
	Organizations OrganizationRepository
	RefreshTokens RefreshTokenRepository
	Invitations   InvitationRepository
	AuditLogs     AuditRepository
	Services      ServiceRelationshipChecker
}
