package models

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the fixed set of account roles.
type Role string

const (
	RolePlatformAdmin Role = "PLATFORM_ADMIN"
	RoleOrgOwner      Role = "ORG_OWNER"
	RoleOrgManager    Role = "ORG_MANAGER"
	RoleOrgAdmin      Role = "ORG_ADMIN"
	RoleTechnician    Role = "TECHNICIAN"
	RoleCustomer      Role = "CUSTOMER"
)

// AllRoles lists every role in privilege order.
var AllRoles = []Role{
	RolePlatformAdmin,
	RoleOrgOwner,
	RoleOrgManager,
	RoleOrgAdmin,
	RoleTechnician,
	RoleCustomer,
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range AllRoles {
		if r == known {
			return true
		}
	}
	return false
}

// IsOrganizationMember reports whether r is a staff role bound to one organization.
func (r Role) IsOrganizationMember() bool {
	switch r {
	case RoleOrgOwner, RoleOrgManager, RoleOrgAdmin, RoleTechnician:
		return true
	}
	return false
}

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", errors.New("unknown role: " + s)
	}
	return r, nil
}

// AccountStatus is the administrative state of an account.
type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "ACTIVE"
	AccountStatusSuspended AccountStatus = "SUSPENDED"
)

// ErrTenancyViolation is returned when an account's role and organization
// reference disagree.
var ErrTenancyViolation = errors.New("account tenancy invariant violated")

// Account is a login identity. Platform admins have no organization; every
// other role belongs to exactly one.
type Account struct {
	ID                  uuid.UUID     `json:"id" db:"id"`
	Email               string        `json:"email" db:"email"`
	PasswordHash        string        `json:"-" db:"password_hash"`
	Role                Role          `json:"role" db:"role"`
	OrganizationID      *uuid.UUID    `json:"organization_id,omitempty" db:"organization_id"`
	TwoFactorSecret     string        `json:"-" db:"two_factor_secret"` // age ciphertext, base64
	TwoFactorEnabled    bool          `json:"two_factor_enabled" db:"two_factor_enabled"`
	FailedLoginAttempts int           `json:"-" db:"failed_login_attempts"`
	LockUntil           *time.Time    `json:"-" db:"lock_until"`
	LastLogin           *time.Time    `json:"last_login,omitempty" db:"last_login"`
	Status              AccountStatus `json:"status" db:"status"`
	CreatedAt           time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Account model
func (Account) TableName() string {
	return "accounts"
}

// NewAccount creates an active account. The email is normalized to lower case.
func NewAccount(email, passwordHash string, role Role, orgID *uuid.UUID) *Account {
	now := time.Now().UTC()
	return &Account{
		ID:             uuid.New(),
		Email:          NormalizeEmail(email),
		PasswordHash:   passwordHash,
		Role:           role,
		OrganizationID: orgID,
		Status:         AccountStatusActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// NormalizeEmail is the canonical form used for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateTenancy enforces the role/organization pairing.
func (a *Account) ValidateTenancy() error {
	if !a.Role.Valid() {
		return ErrTenancyViolation
	}
	if a.Role == RolePlatformAdmin {
		if a.OrganizationID != nil {
			return ErrTenancyViolation
		}
		return nil
	}
	if a.OrganizationID == nil || *a.OrganizationID == uuid.Nil {
		return ErrTenancyViolation
	}
	return nil
}

// IsLocked reports whether a lockout is in effect at now.
func (a *Account) IsLocked(now time.Time) bool {
	return a.LockUntil != nil && a.LockUntil.After(now)
}

// IsActive reports whether the account may sign in.
func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}
