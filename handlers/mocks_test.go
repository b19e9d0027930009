package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/repairdesk-core/middleware"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/services/access"
	"github.com/upb/repairdesk-core/services/credentials"
	"github.com/upb/repairdesk-core/services/invitations"
	"github.com/upb/repairdesk-core/services/organizations"
	"github.com/upb/repairdesk-core/services/tenancy"
)

type MockCredentialService struct {
	mock.Mock
}

func (m *MockCredentialService) Authenticate(ctx context.Context, in credentials.LoginInput) (*credentials.LoginResult, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credentials.LoginResult), args.Error(1)
}

func (m *MockCredentialService) Refresh(ctx context.Context, refreshToken string, meta credentials.RequestMeta) (*credentials.TokenPair, error) {
	args := m.Called(ctx, refreshToken, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credentials.TokenPair), args.Error(1)
}

func (m *MockCredentialService) Logout(ctx context.Context, accountID uuid.UUID, meta credentials.RequestMeta) error {
	return m.Called(ctx, accountID, meta).Error(0)
}

func (m *MockCredentialService) SetupTwoFactor(ctx context.Context, accountID uuid.UUID, meta credentials.RequestMeta) (*credentials.TwoFactorSetup, error) {
	args := m.Called(ctx, accountID, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*credentials.TwoFactorSetup), args.Error(1)
}

func (m *MockCredentialService) VerifyTwoFactorSetup(ctx context.Context, accountID uuid.UUID, code string, meta credentials.RequestMeta) (bool, error) {
	args := m.Called(ctx, accountID, code, meta)
	return args.Bool(0), args.Error(1)
}

func (m *MockCredentialService) DisableTwoFactor(ctx context.Context, accountID uuid.UUID, code string, meta credentials.RequestMeta) (bool, error) {
	args := m.Called(ctx, accountID, code, meta)
	return args.Bool(0), args.Error(1)
}

type MockInvitationService struct {
	mock.Mock
}

func (m *MockInvitationService) Create(ctx context.Context, inviter *tenancy.Identity, in invitations.CreateInput) (*invitations.Created, error) {
	args := m.Called(ctx, inviter, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*invitations.Created), args.Error(1)
}

func (m *MockInvitationService) Accept(ctx context.Context, in invitations.AcceptInput) (*models.Account, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

type MockOrganizationService struct {
	mock.Mock
}

func (m *MockOrganizationService) Create(ctx context.Context, caller *tenancy.Identity, in organizations.CreateInput) (*models.Organization, error) {
	args := m.Called(ctx, caller, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Organization), args.Error(1)
}

func (m *MockOrganizationService) Get(ctx context.Context, caller *tenancy.Identity, id uuid.UUID) (*models.Organization, error) {
	args := m.Called(ctx, caller, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Organization), args.Error(1)
}

type MockAuditLister struct {
	mock.Mock
}

func (m *MockAuditLister) ListRecent(ctx context.Context, organizationID *uuid.UUID, limit int) ([]*models.AuditLog, error) {
	args := m.Called(ctx, organizationID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AuditLog), args.Error(1)
}

func orgIdentity(role models.Role, orgID uuid.UUID) *tenancy.Identity {
	mode := tenancy.ModeOrganization
	if role == models.RoleCustomer {
		mode = tenancy.ModeCustomer
	}
	return &tenancy.Identity{
		AccountID:      uuid.New(),
		Email:          "user@example.com",
		Role:           role,
		OrganizationID: &orgID,
		Mode:           mode,
	}
}

func platformIdentity() *tenancy.Identity {
	return &tenancy.Identity{
		AccountID: uuid.New(),
		Email:     "root@example.com",
		Role:      models.RolePlatformAdmin,
		Mode:      tenancy.ModePlatform,
	}
}

// newRequest builds a request with an optional JSON body, caller identity
// and orgId route parameter.
func newRequest(t *testing.T, method, target string, body interface{}, identity *tenancy.Identity, orgID string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	ctx := req.Context()
	if identity != nil {
		ctx = middleware.WithIdentity(ctx, identity)
	}
	if orgID != "" {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add(access.OrgParam, orgID)
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return req.WithContext(ctx)
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&out))
	return out
}
