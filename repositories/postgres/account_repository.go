package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/repositories"
	"go.uber.org/zap"
)

const accountColumns = `id, email, password_hash, role, organization_id, two_factor_secret,
	two_factor_enabled, failed_login_attempts, lock_until, last_login, status, created_at, updated_at`

// AccountRepository implements the repositories.AccountRepository interface
type AccountRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *DB, logger *zap.Logger) repositories.AccountRepository {
	return &AccountRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new account
func (r *AccountRepository) Create(ctx context.Context, a *models.Account) error {
	query := `
		INSERT INTO accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		a.ID,
		a.Email,
		a.PasswordHash,
		a.Role,
		a.OrganizationID,
		nullString(a.TwoFactorSecret),
		a.TwoFactorEnabled,
		a.FailedLoginAttempts,
		a.LockUntil,
		a.LastLogin,
		a.Status,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repositories.ErrDuplicate
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	r.logger.Debug("account created", zap.String("id", a.ID.String()), zap.String("role", string(a.Role)))
	return nil
}

// GetByID retrieves an account by ID
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return r.queryOne(ctx, query, id)
}

// GetByEmail retrieves an account by normalized email
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return r.queryOne(ctx, query, models.NormalizeEmail(email))
}

// RecordLoginFailure counts a failed login in one statement. Reaching the
// threshold sets the lock and restarts the counter.
func (r *AccountRepository) RecordLoginFailure(ctx context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (*repositories.LoginFailure, error) {
	query := `
		UPDATE accounts
		SET failed_login_attempts = CASE WHEN failed_login_attempts + 1 >= $2 THEN 0 ELSE failed_login_attempts + 1 END,
		    lock_until = CASE WHEN failed_login_attempts + 1 >= $2 THEN $3 ELSE lock_until END,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING failed_login_attempts, lock_until
	`

	executor := GetExecutor(ctx, r.db)
	var (
		attempts int
		lock     sql.NullTime
	)
	err := executor.QueryRowContext(ctx, query, id, threshold, lockUntil).Scan(&attempts, &lock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to record login failure: %w", err)
	}

	out := &repositories.LoginFailure{Attempts: attempts}
	if lock.Valid {
		t := lock.Time
		out.LockUntil = &t
	}
	return out, nil
}

// RecordLoginSuccess resets lockout state and stamps last login
func (r *AccountRepository) RecordLoginSuccess(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE accounts
		SET failed_login_attempts = 0, lock_until = NULL, last_login = $2, updated_at = $2
		WHERE id = $1
	`
	return r.execOne(ctx, "record login success", query, id, at)
}

// SetTwoFactorSecret stores a pending secret; two-factor stays disabled
func (r *AccountRepository) SetTwoFactorSecret(ctx context.Context, id uuid.UUID, encryptedSecret string) error {
	query := `
		UPDATE accounts
		SET two_factor_secret = $2, two_factor_enabled = false, updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, "set two-factor secret", query, id, encryptedSecret)
}

// SetTwoFactorEnabled toggles two-factor; disabling clears the secret
func (r *AccountRepository) SetTwoFactorEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	query := `
		UPDATE accounts
		SET two_factor_enabled = $2,
		    two_factor_secret = CASE WHEN $2 THEN two_factor_secret ELSE NULL END,
		    updated_at = NOW()
		WHERE id = $1
	`
	return r.execOne(ctx, "set two-factor enabled", query, id, enabled)
}

func (r *AccountRepository) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if n == 0 {
		return repositories.ErrNotFound
	}
	return nil
}

func (r *AccountRepository) queryOne(ctx context.Context, query string, arg interface{}) (*models.Account, error) {
	executor := GetExecutor(ctx, r.db)
	a, err := scanAccount(executor.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		a         models.Account
		orgID     uuid.NullUUID
		secret    sql.NullString
		lockUntil sql.NullTime
		lastLogin sql.NullTime
	)
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&a.Role,
		&orgID,
		&secret,
		&a.TwoFactorEnabled,
		&a.FailedLoginAttempts,
		&lockUntil,
		&lastLogin,
		&a.Status,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if orgID.Valid {
		id := orgID.UUID
		a.OrganizationID = &id
	}
	a.TwoFactorSecret = secret.String
	if lockUntil.Valid {
		t := lockUntil.Time
		a.LockUntil = &t
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		a.LastLogin = &t
	}
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
