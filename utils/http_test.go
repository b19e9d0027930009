package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/repairdesk-core/services"
	"go.uber.org/zap"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteJSON(w, http.StatusAccepted, map[string]string{"status": "queued"}))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"queued"}`, w.Body.String())
}

func TestWriteOKAndCreated(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteOK(w, map[string]int{"n": 1}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":{"n":1}}`, w.Body.String())

	w = httptest.NewRecorder()
	require.NoError(t, WriteCreated(w, "x"))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{services.ErrInvalidCredentials, http.StatusUnauthorized},
		{services.ErrTokenExpired, http.StatusUnauthorized},
		{services.ErrCrossOrgAccessDenied, http.StatusForbidden},
		{services.ErrNoActiveServices, http.StatusForbidden},
		{services.ErrAccountNotFound, http.StatusNotFound},
		{services.ErrInvalidInput, http.StatusBadRequest},
		{services.ErrDuplicateEmail, http.StatusConflict},
		{services.ErrRateLimited, http.StatusTooManyRequests},
		{services.ErrAccountLocked, http.StatusTooManyRequests},
		{services.ErrInternal, http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, StatusFor(tt.err), tt.err.Error())
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWriteDomainError(t *testing.T) {
	logger := zap.NewNop()

	t.Run("domain error carries its code", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteDomainError(w, services.ErrCrossOrgAccessDenied, logger)

		assert.Equal(t, http.StatusForbidden, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, services.CodeCrossOrgAccessDenied, resp.Error)
		assert.Equal(t, "access to another organization is denied", resp.Message)
	})

	t.Run("retry after header", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteDomainError(w, services.ErrAccountLocked.WithDetail("retry_after", 900), logger)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "900", w.Header().Get("Retry-After"))
		resp := decodeError(t, w)
		assert.Equal(t, services.CodeAccountLocked, resp.Error)
		assert.EqualValues(t, 900, resp.Details["retry_after"])
	})

	t.Run("internal error hides cause", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteDomainError(w, services.WrapInternal("db down", errors.New("dial tcp 10.0.0.5:5432")), logger)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "10.0.0.5")
		assert.Equal(t, services.CodeInternal, decodeError(t, w).Error)
	})

	t.Run("nil error writes nothing", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteDomainError(w, nil, logger)
		assert.Empty(t, w.Body.String())
	})
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Email string `json:"email" validate:"required,email"`
	}

	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{"valid", `{"email":"a@example.com"}`, ""},
		{"malformed", `{"email":`, "body"},
		{"unknown field", `{"email":"a@example.com","admin":true}`, "body"},
		{"invalid email", `{"email":"nope"}`, "email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(tt.payload))
			var dst body
			err := DecodeJSON(req, &dst)
			if tt.field == "" {
				require.NoError(t, err)
				assert.Equal(t, "a@example.com", dst.Email)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, services.ErrInvalidInput)
			assert.Contains(t, services.GetErrorDetails(err), tt.field)
		})
	}

	t.Run("oversized body", func(t *testing.T) {
		big := `{"email":"` + strings.Repeat("a", MaxBodyBytes) + `@example.com"}`
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(big))
		var dst body
		assert.ErrorIs(t, DecodeJSON(req, &dst), services.ErrInvalidInput)
	})
}
