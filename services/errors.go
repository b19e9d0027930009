package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeLocked       ErrorType = "locked"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeInternal     ErrorType = "internal"
)

// Category groups failures for audit and reporting.
type Category string

const (
	CategoryAuth          Category = "AUTH"
	CategoryAuthorization Category = "AUTHORIZATION"
	CategoryRateLimit     Category = "RATE_LIMIT"
	CategoryValidation    Category = "VALIDATION"
	CategoryInternal      Category = "INTERNAL"
)

// Failure codes returned to clients and written to the audit log.
const (
	CodeAccountLocked          = "ACCOUNT_LOCKED"
	CodeInvalidCredentials     = "INVALID_CREDENTIALS"
	CodeInvalidTOTP            = "INVALID_TOTP"
	CodeTokenExpired           = "TOKEN_EXPIRED"
	CodeTokenUnknown           = "TOKEN_UNKNOWN"
	CodeAccountInactive        = "ACCOUNT_INACTIVE"
	CodeOrganizationInactive   = "ORGANIZATION_INACTIVE"
	CodeNoActiveServices       = "NO_ACTIVE_SERVICES"
	CodeNoToken                = "NO_TOKEN"
	CodeInvalidToken           = "INVALID_TOKEN"
	CodeCrossOrgAccessDenied   = "CROSS_ORG_ACCESS_DENIED"
	CodeInsufficientPermission = "INSUFFICIENT_PERMISSIONS"
	CodeRateLimited            = "RATE_LIMITED"
	CodeIPBlocked              = "IP_BLOCKED"
	CodeValidationFailed       = "VALIDATION_FAILED"
	CodeInvitationInvalid      = "INVITATION_INVALID"
	CodeNotFound               = "NOT_FOUND"
	CodeConflict               = "CONFLICT"
	CodeInternal               = "INTERNAL"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Code    string
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches on Type, and on Code when the target carries one.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if e.Type != t.Type {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

// WithDetail returns a copy of e with the detail added. Sentinels are never mutated.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	c := e.clone()
	c.Details[key] = value
	return c
}

// Wrap returns a copy of e carrying err as its cause.
func (e *DomainError) Wrap(err error) *DomainError {
	c := e.clone()
	c.Err = err
	return c
}

// Category maps the error onto the failure taxonomy.
func (e *DomainError) Category() Category {
	switch e.Type {
	case ErrorTypeUnauthorized, ErrorTypeLocked:
		return CategoryAuth
	case ErrorTypeForbidden:
		return CategoryAuthorization
	case ErrorTypeRateLimit:
		return CategoryRateLimit
	case ErrorTypeValidation, ErrorTypeNotFound, ErrorTypeConflict:
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

func (e *DomainError) clone() *DomainError {
	details := make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	return &DomainError{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: details,
	}
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, code, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Authentication
	ErrAccountLocked      = NewDomainError(ErrorTypeLocked, CodeAccountLocked, "account is temporarily locked", nil)
	ErrInvalidCredentials = NewDomainError(ErrorTypeUnauthorized, CodeInvalidCredentials, "invalid email or password", nil)
	ErrInvalidTOTP        = NewDomainError(ErrorTypeUnauthorized, CodeInvalidTOTP, "invalid or missing two-factor code", nil)
	ErrTokenExpired       = NewDomainError(ErrorTypeUnauthorized, CodeTokenExpired, "token expired", nil)
	ErrTokenUnknown       = NewDomainError(ErrorTypeUnauthorized, CodeTokenUnknown, "token not recognized", nil)
	ErrNoToken            = NewDomainError(ErrorTypeUnauthorized, CodeNoToken, "authentication required", nil)
	ErrInvalidToken       = NewDomainError(ErrorTypeUnauthorized, CodeInvalidToken, "invalid authentication token", nil)

	// Account and tenant state
	ErrAccountInactive      = NewDomainError(ErrorTypeForbidden, CodeAccountInactive, "account is not active", nil)
	ErrOrganizationInactive = NewDomainError(ErrorTypeForbidden, CodeOrganizationInactive, "organization is not active", nil)
	ErrNoActiveServices     = NewDomainError(ErrorTypeForbidden, CodeNoActiveServices, "no active services for this customer", nil)

	// Authorization
	ErrCrossOrgAccessDenied    = NewDomainError(ErrorTypeForbidden, CodeCrossOrgAccessDenied, "access to another organization is denied", nil)
	ErrInsufficientPermissions = NewDomainError(ErrorTypeForbidden, CodeInsufficientPermission, "insufficient permissions", nil)

	// Rate limiting
	ErrRateLimited = NewDomainError(ErrorTypeRateLimit, CodeRateLimited, "rate limit exceeded", nil)
	ErrIPBlocked   = NewDomainError(ErrorTypeRateLimit, CodeIPBlocked, "client temporarily blocked", nil)

	// Validation / lookup
	ErrInvalidInput         = NewDomainError(ErrorTypeValidation, CodeValidationFailed, "invalid input", nil)
	ErrInvitationInvalid    = NewDomainError(ErrorTypeNotFound, CodeInvitationInvalid, "invitation is invalid or expired", nil)
	ErrAccountNotFound      = NewDomainError(ErrorTypeNotFound, CodeNotFound, "account not found", nil)
	ErrOrganizationNotFound = NewDomainError(ErrorTypeNotFound, CodeNotFound, "organization not found", nil)
	ErrDuplicateEmail       = NewDomainError(ErrorTypeConflict, CodeConflict, "email already exists", nil)
	ErrTwoFactorEnabled     = NewDomainError(ErrorTypeConflict, CodeConflict, "two-factor authentication is already enabled", nil)

	// Internal
	ErrInternal = NewDomainError(ErrorTypeInternal, CodeInternal, "internal server error", nil)
)

// Error type checking helper functions

func hasType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool { return hasType(err, ErrorTypeNotFound) }

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool { return hasType(err, ErrorTypeValidation) }

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool { return hasType(err, ErrorTypeUnauthorized) }

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool { return hasType(err, ErrorTypeForbidden) }

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool { return hasType(err, ErrorTypeRateLimit) }

// IsLockedError checks if an error is an account lockout
func IsLockedError(err error) bool { return hasType(err, ErrorTypeLocked) }

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool { return hasType(err, ErrorTypeConflict) }

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool { return hasType(err, ErrorTypeInternal) }

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorCode returns the failure code of a domain error, or CodeInternal.
func GetErrorCode(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, CodeInternal, message, err)
}
