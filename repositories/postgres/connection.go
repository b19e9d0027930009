package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/upb/repairdesk-core/config"
	"go.uber.org/zap"
)

// DB wraps the sql.DB connection pool
type DB struct {
	*sql.DB
	logger *zap.Logger
}

// NewDB creates a new database connection pool
func NewDB(cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("connection", cfg.LogString()))

	return &DB{
		DB:     db,
		logger: logger,
	}, nil
}

// WrapDB adapts an already opened pool.
func WrapDB(db *sql.DB, logger *zap.Logger) *DB {
	return &DB{DB: db, logger: logger}
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.logger.Info("closing database connection")
	return db.DB.Close()
}

const coreSchema = `
	CREATE TABLE IF NOT EXISTS organizations (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		subscription_tier VARCHAR(50) NOT NULL DEFAULT 'starter',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS accounts (
		id UUID PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		password_hash VARCHAR(255) NOT NULL,
		role VARCHAR(32) NOT NULL,
		organization_id UUID REFERENCES organizations(id) ON DELETE RESTRICT,
		two_factor_secret TEXT,
		two_factor_enabled BOOLEAN NOT NULL DEFAULT false,
		failed_login_attempts INTEGER NOT NULL DEFAULT 0,
		lock_until TIMESTAMPTZ,
		last_login TIMESTAMPTZ,
		status VARCHAR(16) NOT NULL DEFAULT 'ACTIVE',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CONSTRAINT accounts_tenancy CHECK (
			(role = 'PLATFORM_ADMIN' AND organization_id IS NULL) OR
			(role <> 'PLATFORM_ADMIN' AND organization_id IS NOT NULL)
		)
	);

	CREATE TABLE IF NOT EXISTS refresh_tokens (
		account_id UUID PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
		token_hash CHAR(64) NOT NULL UNIQUE,
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS invitations (
		id UUID PRIMARY KEY,
		email VARCHAR(255) NOT NULL,
		role VARCHAR(32) NOT NULL,
		organization_id UUID NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
		token_hash CHAR(64) NOT NULL UNIQUE,
		invited_by UUID NOT NULL REFERENCES accounts(id),
		expires_at TIMESTAMPTZ NOT NULL,
		accepted_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS customer_service_links (
		id UUID PRIMARY KEY,
		customer_id UUID NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		kind VARCHAR(16) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_organization_id ON accounts(organization_id);
	CREATE INDEX IF NOT EXISTS idx_invitations_organization_id ON invitations(organization_id);
	CREATE INDEX IF NOT EXISTS idx_customer_service_links_customer ON customer_service_links(customer_id) WHERE active;
`

const auditSchema = `
	CREATE TABLE IF NOT EXISTS audit_logs (
		id UUID PRIMARY KEY,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		actor_id UUID,
		organization_id UUID,
		target_organization_id UUID,
		source_ip VARCHAR(45),
		action VARCHAR(64) NOT NULL,
		resource VARCHAR(255) NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		details JSONB,
		request_id VARCHAR(255)
	);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_logs_organization_id ON audit_logs(organization_id, timestamp DESC);
	ALTER TABLE audit_logs ADD COLUMN IF NOT EXISTS target_organization_id UUID;
	CREATE INDEX IF NOT EXISTS idx_audit_logs_target_organization_id ON audit_logs(target_organization_id, timestamp DESC)
		WHERE target_organization_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id ON audit_logs(actor_id);

	CREATE OR REPLACE FUNCTION audit_logs_append_only() RETURNS trigger AS $$
	BEGIN
		RAISE EXCEPTION 'audit_logs is append-only';
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS audit_logs_append_only ON audit_logs;
	CREATE TRIGGER audit_logs_append_only
		BEFORE UPDATE OR DELETE ON audit_logs
		FOR EACH ROW EXECUTE FUNCTION audit_logs_append_only();
`

// InitSchema creates the account, tenant, token and invitation tables, and
// the audit table when audit shares this database.
func (db *DB) InitSchema(ctx context.Context, includeAudit bool) error {
	if _, err := db.ExecContext(ctx, coreSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	if includeAudit {
		if err := db.InitAuditSchema(ctx); err != nil {
			return err
		}
	}
	db.logger.Info("database schema initialized successfully")
	return nil
}

// InitAuditSchema initializes the audit table (no foreign keys, so it can
// live in a separate database).
func (db *DB) InitAuditSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, auditSchema); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	db.logger.Info("audit schema initialized successfully")
	return nil
}
