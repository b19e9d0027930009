package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/repairdesk-core/repositories"
)

// ServiceRelationshipRepository answers whether a customer has an open job or device.
type ServiceRelationshipRepository struct {
	db *DB
}

// NewServiceRelationshipRepository creates a new checker
func NewServiceRelationshipRepository(db *DB) repositories.ServiceRelationshipChecker {
	return &ServiceRelationshipRepository{db: db}
}

// HasActiveServices reports whether any active link exists for the customer
func (r *ServiceRelationshipRepository) HasActiveServices(ctx context.Context, customerID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM customer_service_links WHERE customer_id = $1 AND active)`

	var exists bool
	if err := GetExecutor(ctx, r.db).QueryRowContext(ctx, query, customerID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check customer services: %w", err)
	}
	return exists, nil
}
