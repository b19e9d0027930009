package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/repositories"
	"go.uber.org/zap"
)

// AuditRepository implements the repositories.AuditRepository interface.
// It only ever inserts and selects.
type AuditRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *DB, logger *zap.Logger) repositories.AuditRepository {
	return &AuditRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new audit log entry
func (r *AuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	query := `
		INSERT INTO audit_logs (
			id, timestamp, actor_id, organization_id, target_organization_id,
			source_ip, action, resource, outcome, details, request_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	var details interface{}
	if len(log.Details) > 0 {
		details = []byte(log.Details)
	}

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		log.ID,
		log.Timestamp,
		log.ActorID,
		log.OrganizationID,
		log.TargetOrganizationID,
		log.SourceIP,
		log.Action,
		log.Resource,
		log.Outcome,
		details,
		log.RequestID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	r.logger.Debug("audit log inserted", zap.String("id", log.ID.String()), zap.String("action", string(log.Action)))
	return nil
}

// ListRecent returns the newest entries first. A scoped query also returns
// entries aimed at the organization from outside it.
func (r *AuditRepository) ListRecent(ctx context.Context, q repositories.AuditQuery) ([]*models.AuditLog, error) {
	const columns = `id, timestamp, actor_id, organization_id, target_organization_id,
		source_ip, action, resource, outcome, details, request_id`

	var (
		query string
		args  []interface{}
	)
	if q.OrganizationID != nil {
		query = `SELECT ` + columns + ` FROM audit_logs WHERE organization_id = $1 OR target_organization_id = $1 ORDER BY timestamp DESC LIMIT $2`
		args = []interface{}{*q.OrganizationID, q.Limit}
	} else {
		query = `SELECT ` + columns + ` FROM audit_logs ORDER BY timestamp DESC LIMIT $1`
		args = []interface{}{q.Limit}
	}

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		var (
			log      models.AuditLog
			actorID  uuid.NullUUID
			orgID    uuid.NullUUID
			target   uuid.NullUUID
			sourceIP sql.NullString
			details  []byte
			reqID    sql.NullString
		)
		if err := rows.Scan(
			&log.ID,
			&log.Timestamp,
			&actorID,
			&orgID,
			&target,
			&sourceIP,
			&log.Action,
			&log.Resource,
			&log.Outcome,
			&details,
			&reqID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if actorID.Valid {
			id := actorID.UUID
			log.ActorID = &id
		}
		if orgID.Valid {
			id := orgID.UUID
			log.OrganizationID = &id
		}
		if target.Valid {
			id := target.UUID
			log.TargetOrganizationID = &id
		}
		log.SourceIP = sourceIP.String
		log.Details = details
		log.RequestID = reqID.String
		logs = append(logs, &log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}
	return logs, nil
}
