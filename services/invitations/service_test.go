package invitations

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/repairdesk-core/internal/notify"
	"github.com/upb/repairdesk-core/internal/secrets"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/repositories"
	"github.com/upb/repairdesk-core/repositories/memory"
	"github.com/upb/repairdesk-core/services"
	"github.com/upb/repairdesk-core/services/audit"
	"github.com/upb/repairdesk-core/services/credentials"
	"github.com/upb/repairdesk-core/services/tenancy"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type captureNotifier struct {
	mu   sync.Mutex
	sent []notify.InvitationMessage
	err  error
}

func (n *captureNotifier) SendInvitation(_ context.Context, msg notify.InvitationMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

type fixture struct {
	svc      *Service
	repos    *repositories.Repositories
	audit    *audit.Service
	notifier *captureNotifier
	hasher   *credentials.BcryptHasher
	now      time.Time
	org      *models.Organization
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	repos := store.Repositories()

	hasher, err := credentials.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)

	org := models.NewOrganization("Fixit Shop", models.TierStarter)
	require.NoError(t, repos.Organizations.Create(context.Background(), org))

	f := &fixture{
		repos:    repos,
		audit:    audit.NewService(repos.AuditLogs, zap.NewNop(), nil, audit.Config{}),
		notifier: &captureNotifier{},
		hasher:   hasher,
		now:      base,
		org:      org,
	}
	f.svc = NewService(Dependencies{
		Invitations:   repos.Invitations,
		Accounts:      repos.Accounts,
		Organizations: repos.Organizations,
		TxManager:     store.TransactionManager(),
		Hasher:        hasher,
		Notifier:      f.notifier,
		Audit:         f.audit,
		Logger:        zap.NewNop(),
		Now:           func() time.Time { return f.now },
	}, Config{InviteBaseURL: "https://app.example.com/invite"})
	return f
}

func (f *fixture) member(role models.Role) *tenancy.Identity {
	id := &tenancy.Identity{AccountID: uuid.New(), Role: role, Mode: tenancy.ModeOrganization}
	switch role {
	case models.RolePlatformAdmin:
		id.Mode = tenancy.ModePlatform
		return id
	case models.RoleCustomer:
		id.Mode = tenancy.ModeCustomer
	}
	org := f.org.ID
	id.OrganizationID = &org
	return id
}

func (f *fixture) invite(t *testing.T, email string, role models.Role) *Created {
	t.Helper()
	created, err := f.svc.Create(context.Background(), f.member(models.RoleOrgManager), CreateInput{
		Email:          email,
		Role:           role,
		OrganizationID: f.org.ID,
	})
	require.NoError(t, err)
	return created
}

func TestCreate(t *testing.T) {
	f := newFixture(t)

	created := f.invite(t, " Tech@Example.com ", models.RoleTechnician)
	inv := created.Invitation

	assert.Equal(t, "tech@example.com", inv.Email)
	assert.Equal(t, base.Add(7*24*time.Hour), inv.ExpiresAt)
	assert.Equal(t, secrets.HashToken(created.Token), inv.TokenHash)
	assert.NotContains(t, inv.TokenHash, created.Token)
	assert.True(t, created.Delivered)

	stored, err := f.repos.Invitations.GetByTokenHash(context.Background(), inv.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, stored.ID)

	require.Len(t, f.notifier.sent, 1)
	msg := f.notifier.sent[0]
	assert.Equal(t, inv.ID, msg.InvitationID)
	assert.Equal(t, string(models.RoleTechnician), msg.Role)
	u, err := url.Parse(msg.AcceptURL)
	require.NoError(t, err)
	assert.Equal(t, created.Token, u.Query().Get("token"))

	entries, err := f.audit.ListRecent(context.Background(), nil, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditActionInvitationCreate, entries[0].Action)
	assert.NotContains(t, string(entries[0].Details), created.Token)
}

func TestCreate_Rules(t *testing.T) {
	f := newFixture(t)
	existing := models.NewAccount("taken@example.com", "x", models.RoleTechnician, &f.org.ID)
	require.NoError(t, f.repos.Accounts.Create(context.Background(), existing))

	inactive := models.NewOrganization("Closed", models.TierStarter)
	inactive.Active = false
	require.NoError(t, f.repos.Organizations.Create(context.Background(), inactive))

	tests := []struct {
		name    string
		inviter *tenancy.Identity
		input   CreateInput
		want    error
	}{
		{"technician invites customer", f.member(models.RoleTechnician), CreateInput{Email: "c@example.com", Role: models.RoleCustomer, OrganizationID: f.org.ID}, nil},
		{"technician invites admin", f.member(models.RoleTechnician), CreateInput{Email: "a@example.com", Role: models.RoleOrgAdmin, OrganizationID: f.org.ID}, services.ErrInsufficientPermissions},
		{"customer invites", f.member(models.RoleCustomer), CreateInput{Email: "a@example.com", Role: models.RoleCustomer, OrganizationID: f.org.ID}, services.ErrInsufficientPermissions},
		{"platform role", f.member(models.RoleOrgOwner), CreateInput{Email: "p@example.com", Role: models.RolePlatformAdmin, OrganizationID: f.org.ID}, services.ErrInvalidInput},
		{"missing email", f.member(models.RoleOrgOwner), CreateInput{Role: models.RoleCustomer, OrganizationID: f.org.ID}, services.ErrInvalidInput},
		{"other organization", f.member(models.RoleOrgOwner), CreateInput{Email: "o@example.com", Role: models.RoleCustomer, OrganizationID: uuid.New()}, services.ErrCrossOrgAccessDenied},
		{"platform any organization", f.member(models.RolePlatformAdmin), CreateInput{Email: "owner@example.com", Role: models.RoleOrgOwner, OrganizationID: f.org.ID}, nil},
		{"unknown organization", f.member(models.RolePlatformAdmin), CreateInput{Email: "x@example.com", Role: models.RoleOrgOwner, OrganizationID: uuid.New()}, services.ErrOrganizationNotFound},
		{"inactive organization", f.member(models.RolePlatformAdmin), CreateInput{Email: "x@example.com", Role: models.RoleOrgOwner, OrganizationID: inactive.ID}, services.ErrOrganizationInactive},
		{"existing account", f.member(models.RoleOrgOwner), CreateInput{Email: "TAKEN@example.com", Role: models.RoleCustomer, OrganizationID: f.org.ID}, services.ErrDuplicateEmail},
		{"no inviter", nil, CreateInput{Email: "x@example.com", Role: models.RoleCustomer, OrganizationID: f.org.ID}, services.ErrNoToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tt.inviter, tt.input)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreate_DeliveryFailure(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("queue unavailable")

	created := f.invite(t, "late@example.com", models.RoleCustomer)
	assert.False(t, created.Delivered)

	_, err := f.repos.Invitations.GetByTokenHash(context.Background(), created.Invitation.TokenHash)
	assert.NoError(t, err)
}

func TestAccept(t *testing.T) {
	f := newFixture(t)
	created := f.invite(t, "tech@example.com", models.RoleTechnician)

	account, err := f.svc.Accept(context.Background(), AcceptInput{
		Token:       created.Token,
		Password:    "correct horse battery",
		RequestMeta: credentials.RequestMeta{SourceIP: "203.0.113.9"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleTechnician, account.Role)
	require.NotNil(t, account.OrganizationID)
	assert.Equal(t, f.org.ID, *account.OrganizationID)
	assert.NoError(t, account.ValidateTenancy())

	stored, err := f.repos.Accounts.GetByEmail(context.Background(), "tech@example.com")
	require.NoError(t, err)
	assert.True(t, f.hasher.Compare(stored.PasswordHash, "correct horse battery"))

	_, err = f.svc.Accept(context.Background(), AcceptInput{Token: created.Token, Password: "another password"})
	assert.ErrorIs(t, err, services.ErrInvitationInvalid)

	entries, err := f.audit.ListRecent(context.Background(), nil, 10)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(string(e.Details), "correct horse"), "audit entry leaks password")
	}
}

func TestAccept_Invalid(t *testing.T) {
	f := newFixture(t)
	created := f.invite(t, "late@example.com", models.RoleCustomer)

	_, err := f.svc.Accept(context.Background(), AcceptInput{Token: "unknown", Password: "long enough"})
	assert.ErrorIs(t, err, services.ErrInvitationInvalid)

	_, err = f.svc.Accept(context.Background(), AcceptInput{Token: created.Token, Password: "short"})
	assert.ErrorIs(t, err, services.ErrInvalidInput)

	f.now = base.Add(7 * 24 * time.Hour)
	_, err = f.svc.Accept(context.Background(), AcceptInput{Token: created.Token, Password: "long enough"})
	assert.ErrorIs(t, err, services.ErrInvitationInvalid)

	_, err = f.repos.Accounts.GetByEmail(context.Background(), "late@example.com")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestAccept_ExactlyOnce(t *testing.T) {
	f := newFixture(t)
	created := f.invite(t, "race@example.com", models.RoleCustomer)

	var wins int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Accept(context.Background(), AcceptInput{Token: created.Token, Password: "long enough"})
			if err == nil {
				atomic.AddInt64(&wins, 1)
			} else {
				assert.ErrorIs(t, err, services.ErrInvitationInvalid)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins)
}
