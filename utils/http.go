package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/upb/repairdesk-core/services"
	"go.uber.org/zap"
)

// MaxBodyBytes bounds JSON request bodies
const MaxBodyBytes = 1 << 20

// ErrorResponse is the body of every failed request. Error carries the
// failure code, e.g. CROSS_ORG_ACCESS_DENIED.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse represents a generic success response
type SuccessResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}

	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 OK response with optional data
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Data: data})
}

// WriteCreated writes a 201 Created response with optional data
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, SuccessResponse{Data: data})
}

// WriteNoContent writes a 204 No Content response
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteError writes an error response with a failure code
func WriteError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) error {
	return WriteJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
		Details: details,
	})
}

// StatusFor maps an error onto its HTTP status
func StatusFor(err error) int {
	switch services.GetErrorType(err) {
	case services.ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorTypeForbidden:
		return http.StatusForbidden
	case services.ErrorTypeNotFound:
		return http.StatusNotFound
	case services.ErrorTypeValidation:
		return http.StatusBadRequest
	case services.ErrorTypeConflict:
		return http.StatusConflict
	case services.ErrorTypeRateLimit, services.ErrorTypeLocked:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteDomainError writes err with its status and failure code. Internal
// errors are logged and answered with a generic message. A retry_after
// detail, in seconds, also sets the Retry-After header.
func WriteDomainError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if err == nil {
		return
	}

	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("internal server error", zap.Error(err))
		if werr := WriteError(w, status, services.CodeInternal, "An internal error occurred", nil); werr != nil {
			logger.Error("failed to write internal error response", zap.Error(werr))
		}
		return
	}

	var domainErr *services.DomainError
	message := err.Error()
	var details map[string]interface{}
	if errors.As(err, &domainErr) {
		message = domainErr.Message
		if len(domainErr.Details) > 0 {
			details = domainErr.Details
		}
	}
	if secs, ok := details["retry_after"].(int); ok && secs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	if werr := WriteError(w, status, services.GetErrorCode(err), message, details); werr != nil {
		logger.Error("failed to write error response", zap.Error(werr))
	}
}

// DecodeJSON reads a JSON body into dst and validates it. Failures come
// back as VALIDATION_FAILED domain errors.
func DecodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return services.ErrInvalidInput.WithDetail("body", fmt.Sprintf("malformed JSON: %v", err))
	}
	if err := ValidateStruct(dst); err != nil {
		if fields := GetValidationFields(err); fields != nil {
			out := services.ErrInvalidInput
			for k, v := range fields {
				out = out.WithDetail(k, v)
			}
			return out
		}
		return services.ErrInvalidInput.Wrap(err)
	}
	return nil
}
