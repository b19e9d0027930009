package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/repositories"
	"go.uber.org/zap"
)

// InvitationRepository implements the repositories.InvitationRepository interface
type InvitationRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewInvitationRepository creates a new invitation repository
func NewInvitationRepository(db *DB, logger *zap.Logger) repositories.InvitationRepository {
	return &InvitationRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a pending invitation
func (r *InvitationRepository) Create(ctx context.Context, inv *models.Invitation) error {
	query := `
		INSERT INTO invitations (id, email, role, organization_id, token_hash, invited_by, expires_at, accepted_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		inv.ID,
		inv.Email,
		inv.Role,
		inv.OrganizationID,
		inv.TokenHash,
		inv.InvitedBy,
		inv.ExpiresAt,
		inv.AcceptedAt,
		inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}

	r.logger.Debug("invitation created", zap.String("id", inv.ID.String()))
	return nil
}

// GetByTokenHash retrieves an invitation by token hash
func (r *InvitationRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Invitation, error) {
	query := `
		SELECT id, email, role, organization_id, token_hash, invited_by, expires_at, accepted_at, created_at
		FROM invitations
		WHERE token_hash = $1
	`

	executor := GetExecutor(ctx, r.db)
	var (
		inv      models.Invitation
		accepted sql.NullTime
	)
	err := executor.QueryRowContext(ctx, query, tokenHash).Scan(
		&inv.ID,
		&inv.Email,
		&inv.Role,
		&inv.OrganizationID,
		&inv.TokenHash,
		&inv.InvitedBy,
		&inv.ExpiresAt,
		&accepted,
		&inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	if accepted.Valid {
		t := accepted.Time
		inv.AcceptedAt = &t
	}
	return &inv, nil
}

// MarkAccepted consumes the invitation exactly once
func (r *InvitationRepository) MarkAccepted(ctx context.Context, id uuid.UUID, acceptedAt time.Time) error {
	query := `
		UPDATE invitations
		SET accepted_at = $2
		WHERE id = $1 AND accepted_at IS NULL AND expires_at > $2
	`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, acceptedAt)
	if err != nil {
		return fmt.Errorf("failed to accept invitation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to accept invitation: %w", err)
	}
	if n == 0 {
		return repositories.ErrConflict
	}
	return nil
}
