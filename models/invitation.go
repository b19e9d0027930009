package models

import (
	"time"

	"github.com/google/uuid"
)

// Invitation lets a new member or customer create an account in an
// organization. It can be accepted once, before it expires.
type Invitation struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	Email          string     `json:"email" db:"email"`
	Role           Role       `json:"role" db:"role"`
	OrganizationID uuid.UUID  `json:"organization_id" db:"organization_id"`
	TokenHash      string     `json:"-" db:"token_hash"`
	InvitedBy      uuid.UUID  `json:"invited_by" db:"invited_by"`
	ExpiresAt      time.Time  `json:"expires_at" db:"expires_at"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty" db:"accepted_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Invitation model
func (Invitation) TableName() string {
	return "invitations"
}

// NewInvitation creates a pending invitation that expires ttl after now.
func NewInvitation(email string, role Role, orgID, invitedBy uuid.UUID, tokenHash string, now time.Time, ttl time.Duration) *Invitation {
	return &Invitation{
		ID:             uuid.New(),
		Email:          NormalizeEmail(email),
		Role:           role,
		OrganizationID: orgID,
		TokenHash:      tokenHash,
		InvitedBy:      invitedBy,
		ExpiresAt:      now.Add(ttl),
		CreatedAt:      now,
	}
}

// IsAccepted reports whether the invitation was already consumed.
func (i *Invitation) IsAccepted() bool {
	return i.AcceptedAt != nil
}

// IsUsable reports whether the invitation can still be accepted at now.
func (i *Invitation) IsUsable(now time.Time) bool {
	return !i.IsAccepted() && now.Before(i.ExpiresAt)
}
