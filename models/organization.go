package models

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionTier is the billing plan of an organization.
type SubscriptionTier string

const (
	TierStarter      SubscriptionTier = "starter"
	TierProfessional SubscriptionTier = "professional"
	TierEnterprise   SubscriptionTier = "enterprise"
)

// Organization represents a tenant in the multi-tenant system
type Organization struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	Name             string           `json:"name" db:"name"`
	Active           bool             `json:"active" db:"active"`
	SubscriptionTier SubscriptionTier `json:"subscription_tier" db:"subscription_tier"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Organization model
func (Organization) TableName() string {
	return "organizations"
}

// NewOrganization creates an active Organization
func NewOrganization(name string, tier SubscriptionTier) *Organization {
	if tier == "" {
		tier = TierStarter
	}
	now := time.Now().UTC()
	return &Organization{
		ID:               uuid.New(),
		Name:             name,
		Active:           true,
		SubscriptionTier: tier,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
