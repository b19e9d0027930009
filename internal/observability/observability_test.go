package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{"json info", "info", "json", false},
		{"console debug", "DEBUG", "console", false},
		{"bad level", "loud", "json", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.AuthAttempt("failure", "INVALID_CREDENTIALS")
	m.AuthAttempt("failure", "INVALID_CREDENTIALS")
	m.AccessDenied("CROSS_ORG_ACCESS_DENIED")
	m.RateLimited("auth")
	m.KeyBlocked()
	m.AuditWrite("postgres", nil)
	m.AuditWrite("kafka", errors.New("broker down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.authAttempts.WithLabelValues("failure", "INVALID_CREDENTIALS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.accessDenials.WithLabelValues("CROSS_ORG_ACCESS_DENIED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitDenials.WithLabelValues("auth")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimitBlocks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.auditWrites.WithLabelValues("kafka", "error")))
}

func TestMetrics_RequestStarted(t *testing.T) {
	m := NewMetrics()

	done := m.RequestStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpInFlight))
	done(http.MethodGet, "/healthz", http.StatusOK)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.httpInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/healthz", "200")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AuthAttempt("success", "")
		m.AccessDenied("NO_TOKEN")
		m.RateLimited("api")
		m.KeyBlocked()
		m.AuditWrite("postgres", nil)
		m.RequestStarted()("GET", "/", 200)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.KeyBlocked()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rate_limit_blocks_total 1")
}
