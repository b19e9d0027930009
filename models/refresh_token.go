package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is the single live refresh credential of an account. Only the
// SHA-256 of the opaque value is stored.
type RefreshToken struct {
	AccountID uuid.UUID `json:"account_id" db:"account_id"`
	TokenHash string    `json:"-" db:"token_hash"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the RefreshToken model
func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

// IsExpired reports whether the token is past its expiry at now.
func (t *RefreshToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
