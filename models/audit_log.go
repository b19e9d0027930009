package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionLogin              AuditAction = "auth.login"
	AuditActionRefresh            AuditAction = "auth.refresh"
	AuditActionLogout             AuditAction = "auth.logout"
	AuditActionTwoFactorSetup     AuditAction = "auth.2fa.setup"
	AuditActionTwoFactorEnable    AuditAction = "auth.2fa.enable"
	AuditActionTwoFactorDisable   AuditAction = "auth.2fa.disable"
	AuditActionAccessDenied       AuditAction = "access.denied"
	AuditActionRateLimitSummary   AuditAction = "rate_limit.summary"
	AuditActionRateLimitBlock     AuditAction = "rate_limit.block"
	AuditActionInvitationCreate   AuditAction = "invitation.create"
	AuditActionInvitationAccept   AuditAction = "invitation.accept"
	AuditActionOrganizationCreate AuditAction = "organization.create"
)

// AuditOutcome is the result recorded for an audited action.
type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeFailure AuditOutcome = "failure"
)

// AuditLog is an append-only audit trail entry
type AuditLog struct {
	ID                   uuid.UUID       `json:"id" db:"id"`
	Timestamp            time.Time       `json:"timestamp" db:"timestamp"`
	ActorID              *uuid.UUID      `json:"actor_id,omitempty" db:"actor_id"`
	OrganizationID       *uuid.UUID      `json:"organization_id,omitempty" db:"organization_id"`
	// TargetOrganizationID is the tenant an action was aimed at when it
	// differs from the actor's own, e.g. a cross-organization denial.
	TargetOrganizationID *uuid.UUID      `json:"target_organization_id,omitempty" db:"target_organization_id"`
	SourceIP             string          `json:"source_ip" db:"source_ip"`
	Action               AuditAction     `json:"action" db:"action"`
	Resource             string          `json:"resource" db:"resource"`
	Outcome              AuditOutcome    `json:"outcome" db:"outcome"`
	Details              json.RawMessage `json:"details,omitempty" db:"details"`
	RequestID            string          `json:"request_id,omitempty" db:"request_id"`
}

// TableName returns the table name for the AuditLog model
func (AuditLog) TableName() string {
	return "audit_logs"
}

// NewAuditLog creates a new AuditLog instance
func NewAuditLog(action AuditAction, resource string, outcome AuditOutcome) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		Action:    action,
		Resource:  resource,
		Outcome:   outcome,
		Timestamp: time.Now().UTC(),
	}
}

// WithActor sets the acting account
func (a *AuditLog) WithActor(actorID uuid.UUID) *AuditLog {
	a.ActorID = &actorID
	return a
}

// WithOrganization sets the tenant the action happened in
func (a *AuditLog) WithOrganization(orgID *uuid.UUID) *AuditLog {
	if orgID != nil {
		id := *orgID
		a.OrganizationID = &id
	}
	return a
}

// WithTargetOrganization sets the tenant the action was aimed at. It is
// left empty when target equals the entry's own organization.
func (a *AuditLog) WithTargetOrganization(target uuid.UUID) *AuditLog {
	if a.OrganizationID != nil && *a.OrganizationID == target {
		return a
	}
	a.TargetOrganizationID = &target
	return a
}

// WithDetails sets the details
func (a *AuditLog) WithDetails(details interface{}) *AuditLog {
	if data, err := json.Marshal(details); err == nil {
		a.Details = data
	}
	return a
}

// WithRequest sets request metadata
func (a *AuditLog) WithRequest(requestID, sourceIP string) *AuditLog {
	a.RequestID = requestID
	a.SourceIP = sourceIP
	return a
}
