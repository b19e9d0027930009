package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/repositories"
	"go.uber.org/zap"
)

func newMockDB(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return WrapDB(sqlDB, zap.NewNop()), mock
}

var accountRowColumns = []string{
	"id", "email", "password_hash", "role", "organization_id", "two_factor_secret",
	"two_factor_enabled", "failed_login_attempts", "lock_until", "last_login", "status", "created_at", "updated_at",
}

func TestAccountRepository_GetByEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("maps nullable columns", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAccountRepository(db, zap.NewNop())

		id := uuid.New()
		orgID := uuid.New()
		now := time.Now().UTC()
		lock := now.Add(10 * time.Minute)

		mock.ExpectQuery("FROM accounts WHERE email").
			WithArgs("owner@shop.io").
			WillReturnRows(sqlmock.NewRows(accountRowColumns).AddRow(
				id.String(), "owner@shop.io", "hash", "ORG_OWNER", orgID.String(), nil,
				false, 3, lock, nil, "ACTIVE", now, now,
			))

		acct, err := repo.GetByEmail(ctx, "  Owner@Shop.io")
		require.NoError(t, err)
		assert.Equal(t, id, acct.ID)
		assert.Equal(t, models.RoleOrgOwner, acct.Role)
		require.NotNil(t, acct.OrganizationID)
		assert.Equal(t, orgID, *acct.OrganizationID)
		assert.Empty(t, acct.TwoFactorSecret)
		assert.Equal(t, 3, acct.FailedLoginAttempts)
		require.NotNil(t, acct.LockUntil)
		assert.Nil(t, acct.LastLogin)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing row is ErrNotFound", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAccountRepository(db, zap.NewNop())

		mock.ExpectQuery("FROM accounts WHERE email").WillReturnError(sql.ErrNoRows)

		_, err := repo.GetByEmail(ctx, "ghost@shop.io")
		assert.ErrorIs(t, err, repositories.ErrNotFound)
	})
}

func TestAccountRepository_Create(t *testing.T) {
	ctx := context.Background()
	orgID := uuid.New()
	acct := models.NewAccount("tech@shop.io", "hash", models.RoleTechnician, &orgID)

	t.Run("inserts", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAccountRepository(db, zap.NewNop())

		mock.ExpectExec("INSERT INTO accounts").WillReturnResult(sqlmock.NewResult(1, 1))
		require.NoError(t, repo.Create(ctx, acct))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation is ErrDuplicate", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewAccountRepository(db, zap.NewNop())

		mock.ExpectExec("INSERT INTO accounts").WillReturnError(&pq.Error{Code: "23505"})
		assert.ErrorIs(t, repo.Create(ctx, acct), repositories.ErrDuplicate)
	})
}

func TestAccountRepository_RecordLoginFailure(t *testing.T) {
	ctx := context.Background()
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db, zap.NewNop())

	id := uuid.New()
	lockUntil := time.Now().Add(15 * time.Minute).UTC()

	mock.ExpectQuery("UPDATE accounts").
		WithArgs(id, 5, lockUntil).
		WillReturnRows(sqlmock.NewRows([]string{"failed_login_attempts", "lock_until"}).AddRow(0, lockUntil))

	failure, err := repo.RecordLoginFailure(ctx, id, 5, lockUntil)
	require.NoError(t, err)
	assert.Equal(t, 0, failure.Attempts)
	require.NotNil(t, failure.LockUntil)
	assert.True(t, failure.LockUntil.Equal(lockUntil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_RecordLoginSuccess_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAccountRepository(db, zap.NewNop())

	mock.ExpectExec("UPDATE accounts").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RecordLoginSuccess(context.Background(), uuid.New(), time.Now())
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestRefreshTokenRepository_Rotate(t *testing.T) {
	ctx := context.Background()
	next := &models.RefreshToken{AccountID: uuid.New(), TokenHash: "new", ExpiresAt: time.Now().Add(time.Hour), CreatedAt: time.Now()}

	t.Run("swaps current hash", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewRefreshTokenRepository(db, zap.NewNop())

		mock.ExpectExec("UPDATE refresh_tokens").
			WithArgs(next.AccountID, "old", "new", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Rotate(ctx, "old", next))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale hash is ErrConflict", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewRefreshTokenRepository(db, zap.NewNop())

		mock.ExpectExec("UPDATE refresh_tokens").WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, repo.Rotate(ctx, "old", next), repositories.ErrConflict)
	})
}

func TestRefreshTokenRepository_ReplaceUpserts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRefreshTokenRepository(db, zap.NewNop())

	mock.ExpectExec("ON CONFLICT \\(account_id\\) DO UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Replace(context.Background(), &models.RefreshToken{AccountID: uuid.New(), TokenHash: "h"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvitationRepository_MarkAccepted(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewInvitationRepository(db, zap.NewNop())
	id := uuid.New()

	mock.ExpectExec("UPDATE invitations").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE invitations").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.MarkAccepted(context.Background(), id, time.Now()))
	assert.ErrorIs(t, repo.MarkAccepted(context.Background(), id, time.Now()), repositories.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_ListRecent(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())

	orgID, otherOrg := uuid.New(), uuid.New()
	actor := uuid.New()
	cols := []string{"id", "timestamp", "actor_id", "organization_id", "target_organization_id", "source_ip", "action", "resource", "outcome", "details", "request_id"}

	mock.ExpectQuery(`FROM audit_logs WHERE organization_id = \$1 OR target_organization_id = \$1`).
		WithArgs(orgID, 10).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(uuid.New().String(), time.Now(), actor.String(), otherOrg.String(), orgID.String(), "10.0.0.1", "access.denied", "GET /x", "failure", []byte(`{"reason":"CROSS_ORG_ACCESS_DENIED"}`), "r1").
			AddRow(uuid.New().String(), time.Now(), nil, orgID.String(), nil, nil, "auth.login", "account", "failure", nil, nil))

	logs, err := repo.ListRecent(context.Background(), repositories.AuditQuery{OrganizationID: &orgID, Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, actor, *logs[0].ActorID)
	assert.Equal(t, models.AuditActionAccessDenied, logs[0].Action)
	assert.Equal(t, orgID, *logs[0].TargetOrganizationID)
	assert.Nil(t, logs[1].ActorID)
	assert.Nil(t, logs[1].TargetOrganizationID)
	assert.Empty(t, logs[1].SourceIP)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepository_ListRecentUnscoped(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())

	mock.ExpectQuery("FROM audit_logs ORDER BY timestamp DESC").
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	logs, err := repo.ListRecent(context.Background(), repositories.AuditQuery{Limit: 50})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestAuditRepository_InsertStoresTarget(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAuditRepository(db, zap.NewNop())

	caller, target := uuid.New(), uuid.New()
	entry := models.NewAuditLog(models.AuditActionAccessDenied, "GET /api/v1/organizations/{orgId}", models.OutcomeFailure).
		WithOrganization(&caller).
		WithTargetOrganization(target)

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), caller, target,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Insert(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionManager_InTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commits and routes queries through the tx", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())
		orgs := NewOrganizationRepository(db, zap.NewNop())

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO organizations").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		err := tm.InTransaction(ctx, func(ctx context.Context, _ repositories.Transaction) error {
			return orgs.Create(ctx, models.NewOrganization("Fixit", models.TierStarter))
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock := newMockDB(t)
		tm := NewTransactionManager(db, zap.NewNop())
		boom := errors.New("boom")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := tm.InTransaction(ctx, func(context.Context, repositories.Transaction) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestServiceRelationshipRepository(t *testing.T) {
	db, mock := newMockDB(t)
	checker := NewServiceRelationshipRepository(db)
	id := uuid.New()

	mock.ExpectQuery("FROM customer_service_links").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := checker.HasActiveServices(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)
}
