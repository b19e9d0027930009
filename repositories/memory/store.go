// Package memory holds single-process implementations of the repository
// interfaces, used in development mode and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/repositories"
)

// Store keeps every table in maps behind one mutex, which makes each
// bookkeeping call atomic per account.
type Store struct {
	mu            sync.Mutex
	accounts      map[uuid.UUID]*models.Account
	emails        map[string]uuid.UUID
	organizations map[uuid.UUID]*models.Organization
	refresh       map[uuid.UUID]*models.RefreshToken
	invitations   map[uuid.UUID]*models.Invitation
	audit         []*models.AuditLog
	services      map[uuid.UUID]bool
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		accounts:      make(map[uuid.UUID]*models.Account),
		emails:        make(map[string]uuid.UUID),
		organizations: make(map[uuid.UUID]*models.Organization),
		refresh:       make(map[uuid.UUID]*models.RefreshToken),
		invitations:   make(map[uuid.UUID]*models.Invitation),
		services:      make(map[uuid.UUID]bool),
	}
}

// Repositories exposes the store through the repository interfaces
func (s *Store) Repositories() *repositories.Repositories {
	return &repositories.Repositories{
		Accounts:      (*accountRepo)(s),
		Organizations: (*organizationRepo)(s),
		RefreshTokens: (*refreshRepo)(s),
		Invitations:   (*invitationRepo)(s),
		AuditLogs:     (*auditRepo)(s),
		Services:      (*serviceRepo)(s),
	}
}

// TransactionManager runs fn directly; the store has no rollback.
func (s *Store) TransactionManager() repositories.TransactionManager {
	return txManager{}
}

// SetActiveServices marks whether a customer has an open job or device.
func (s *Store) SetActiveServices(customerID uuid.UUID, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[customerID] = active
}

type accountRepo Store

func (r *accountRepo) Create(_ context.Context, a *models.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := models.NormalizeEmail(a.Email)
	if _, ok := r.emails[email]; ok {
		return repositories.ErrDuplicate
	}
	cp := *a
	cp.Email = email
	r.accounts[a.ID] = &cp
	r.emails[email] = a.ID
	return nil
}

func (r *accountRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *accountRepo) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	r.mu.Lock()
	id, ok := r.emails[models.NormalizeEmail(email)]
	r.mu.Unlock()
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *accountRepo) RecordLoginFailure(_ context.Context, id uuid.UUID, threshold int, lockUntil time.Time) (*repositories.LoginFailure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	a.FailedLoginAttempts++
	if a.FailedLoginAttempts >= threshold {
		a.FailedLoginAttempts = 0
		lu := lockUntil
		a.LockUntil = &lu
	}
	a.UpdatedAt = time.Now().UTC()

	out := &repositories.LoginFailure{Attempts: a.FailedLoginAttempts}
	if a.LockUntil != nil {
		lu := *a.LockUntil
		out.LockUntil = &lu
	}
	return out, nil
}

func (r *accountRepo) RecordLoginSuccess(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(a *models.Account) {
		a.FailedLoginAttempts = 0
		a.LockUntil = nil
		t := at
		a.LastLogin = &t
	})
}

func (r *accountRepo) SetTwoFactorSecret(_ context.Context, id uuid.UUID, secret string) error {
	return r.update(id, func(a *models.Account) {
		a.TwoFactorSecret = secret
		a.TwoFactorEnabled = false
	})
}

func (r *accountRepo) SetTwoFactorEnabled(_ context.Context, id uuid.UUID, enabled bool) error {
	return r.update(id, func(a *models.Account) {
		a.TwoFactorEnabled = enabled
		if !enabled {
			a.TwoFactorSecret = ""
		}
	})
}

func (r *accountRepo) update(id uuid.UUID, fn func(*models.Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[id]
	if !ok {
		return repositories.ErrNotFound
	}
	fn(a)
	a.UpdatedAt = time.Now().UTC()
	return nil
}

type organizationRepo Store

func (r *organizationRepo) Create(_ context.Context, org *models.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.organizations[org.ID]; ok {
		return repositories.ErrDuplicate
	}
	cp := *org
	r.organizations[org.ID] = &cp
	return nil
}

func (r *organizationRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	org, ok := r.organizations[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	cp := *org
	return &cp, nil
}

type refreshRepo Store

func (r *refreshRepo) Replace(_ context.Context, t *models.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.refresh[t.AccountID] = &cp
	return nil
}

func (r *refreshRepo) GetByHash(_ context.Context, hash string) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.refresh {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *refreshRepo) Rotate(_ context.Context, oldHash string, next *models.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.refresh[next.AccountID]
	if !ok || cur.TokenHash != oldHash {
		return repositories.ErrConflict
	}
	cp := *next
	r.refresh[next.AccountID] = &cp
	return nil
}

func (r *refreshRepo) Revoke(_ context.Context, accountID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.refresh, accountID)
	return nil
}

type invitationRepo Store

func (r *invitationRepo) Create(_ context.Context, inv *models.Invitation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *inv
	r.invitations[inv.ID] = &cp
	return nil
}

func (r *invitationRepo) GetByTokenHash(_ context.Context, hash string) (*models.Invitation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invitations {
		if inv.TokenHash == hash {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *invitationRepo) MarkAccepted(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invitations[id]
	if !ok || !inv.IsUsable(at) {
		return repositories.ErrConflict
	}
	t := at
	inv.AcceptedAt = &t
	return nil
}

type auditRepo Store

func (r *auditRepo) Insert(_ context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *log
	r.audit = append(r.audit, &cp)
	return nil
}

func (r *auditRepo) ListRecent(_ context.Context, q repositories.AuditQuery) ([]*models.AuditLog, error) {
	r.mu.Lock()
	matched := make([]*models.AuditLog, 0, len(r.audit))
	for _, l := range r.audit {
		if q.OrganizationID != nil && !inOrganization(l, *q.OrganizationID) {
			continue
		}
		cp := *l
		matched = append(matched, &cp)
	}
	r.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func inOrganization(l *models.AuditLog, org uuid.UUID) bool {
	return (l.OrganizationID != nil && *l.OrganizationID == org) ||
		(l.TargetOrganizationID != nil && *l.TargetOrganizationID == org)
}

type serviceRepo Store

func (r *serviceRepo) HasActiveServices(_ context.Context, customerID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.services[customerID], nil
}

type txManager struct{}

func (txManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return noopTx{ctx: ctx}, nil
}

func (m txManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	return fn(ctx, noopTx{ctx: ctx})
}

type noopTx struct{ ctx context.Context }

func (noopTx) Commit() error              { return nil }
func (noopTx) Rollback() error            { return nil }
func (t noopTx) Context() context.Context { return t.ctx }
