package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/repairdesk-core/internal/observability"
	"github.com/upb/repairdesk-core/models"
	"go.uber.org/zap"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type recorder struct {
	mu      sync.Mutex
	entries []*models.AuditLog
}

func (r *recorder) Record(_ context.Context, entry *models.AuditLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recorder) actions() []models.AuditAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AuditAction, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Action)
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, store Store) (*Limiter, *clock, *recorder) {
	t.Helper()
	c := &clock{now: base}
	rec := &recorder{}
	l := NewLimiter(store, DefaultConfig(), rec, observability.NewMetrics(), zap.NewNop())
	l.now = c.Now
	return l, c, rec
}

func TestLimiter_AuthTier(t *testing.T) {
	l, _, _ := newTestLimiter(t, NewMemoryStore())
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := l.Allow(ctx, ClassAuth, "203.0.113.7")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 5-i, d.Remaining)
		assert.Equal(t, base.Add(15*time.Minute), d.ResetAt)
	}

	d, err := l.Allow(ctx, ClassAuth, "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.False(t, d.Blocked)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, 15*time.Minute, d.RetryAfter)

	other, err := l.Allow(ctx, ClassAuth, "198.51.100.1")
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	api, err := l.Allow(ctx, ClassAPI, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, api.Allowed)
}

func TestLimiter_WindowResetsAtBoundary(t *testing.T) {
	l, c, _ := newTestLimiter(t, NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := l.Allow(ctx, ClassAuth, "ip")
		require.NoError(t, err)
	}

	c.Advance(15*time.Minute - time.Millisecond)
	d, _ := l.Allow(ctx, ClassAuth, "ip")
	assert.False(t, d.Allowed)

	c.Advance(time.Millisecond)
	d, _ = l.Allow(ctx, ClassAuth, "ip")
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

func TestLimiter_BlocksRepeatOffenders(t *testing.T) {
	store := NewMemoryStore()
	l, c, rec := newTestLimiter(t, store)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		d, _ := l.Allow(ctx, ClassAuth, "ip")
		assert.False(t, d.Blocked, "request %d", i+1)
	}

	d, err := l.Allow(ctx, ClassAuth, "ip")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, d.Blocked)
	assert.Equal(t, time.Hour, d.RetryAfter)
	assert.Contains(t, rec.actions(), models.AuditActionRateLimitBlock)

	// blocked requests consume no slot, on any class
	for _, class := range []Class{ClassAuth, ClassAPI, ClassGlobal} {
		d, err = l.Allow(ctx, class, "ip")
		require.NoError(t, err)
		assert.True(t, d.Blocked, string(class))
	}
	assert.Equal(t, 10, store.windows["auth:ip"].Count)
	_, hasAPI := store.windows["api:ip"]
	assert.False(t, hasAPI)

	c.Advance(30 * time.Minute)
	d, _ = l.Allow(ctx, ClassAuth, "ip")
	assert.True(t, d.Blocked)
	assert.Equal(t, 30*time.Minute, d.RetryAfter)

	c.Advance(30 * time.Minute)
	d, _ = l.Allow(ctx, ClassAuth, "ip")
	assert.True(t, d.Allowed)
	assert.False(t, d.Blocked)
}

func TestLimiter_ViolationsExpire(t *testing.T) {
	l, c, _ := newTestLimiter(t, NewMemoryStore())
	l.cfg.Tiers[ClassAuth] = Tier{Limit: 1, Window: time.Minute}
	ctx := context.Background()

	// four violations, then their tracking lifetime passes
	for i := 0; i < 5; i++ {
		_, _ = l.Allow(ctx, ClassAuth, "ip")
	}
	c.Advance(time.Hour)

	for i := 0; i < 5; i++ {
		d, _ := l.Allow(ctx, ClassAuth, "ip")
		assert.False(t, d.Blocked)
	}
}

func TestLimiter_UnknownClass(t *testing.T) {
	l, _, _ := newTestLimiter(t, NewMemoryStore())
	d, err := l.Allow(context.Background(), Class("bogus"), "ip")
	assert.Error(t, err)
	assert.True(t, d.Allowed)
}

type failingStore struct{ *MemoryStore }

var errStoreDown = errors.New("store down")

func (failingStore) Hit(context.Context, string, time.Duration, time.Time) (models.RateWindow, error) {
	return models.RateWindow{}, errStoreDown
}

func TestLimiter_FailsOpen(t *testing.T) {
	l, _, _ := newTestLimiter(t, &failingStore{MemoryStore: NewMemoryStore()})

	d, err := l.Allow(context.Background(), ClassAuth, "ip")
	assert.ErrorIs(t, err, errStoreDown)
	assert.True(t, d.Allowed)
	assert.Equal(t, 5, d.Limit)
}

func TestLimiter_ConcurrentRequests(t *testing.T) {
	l, _, _ := newTestLimiter(t, NewMemoryStore())
	l.cfg.Tiers[ClassAPI] = Tier{Limit: 50, Window: time.Minute}

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(context.Background(), ClassAPI, "ip")
			if err == nil && d.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed)
}

func TestLimiter_FlushSummary(t *testing.T) {
	l, _, rec := newTestLimiter(t, NewMemoryStore())
	ctx := context.Background()

	assert.True(t, l.Flush(ctx).Empty())
	assert.Empty(t, rec.actions())

	for i := 0; i < 8; i++ {
		_, _ = l.Allow(ctx, ClassAuth, "ip")
	}
	s := l.Flush(ctx)
	assert.Equal(t, map[Class]int{ClassAuth: 3}, s.Denials)
	assert.Equal(t, 0, s.Blocks)
	assert.Equal(t, []models.AuditAction{models.AuditActionRateLimitSummary}, rec.actions())

	assert.True(t, l.Flush(ctx).Empty())
}

func TestLimiter_StartSweeper(t *testing.T) {
	store := NewMemoryStore()
	l, c, rec := newTestLimiter(t, store)

	_, _ = l.Allow(context.Background(), ClassAPI, "ip")
	require.Equal(t, 1, store.Len())
	c.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.StartSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Empty(t, rec.actions())
}

func TestMemoryStore_Sweep(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, _ = s.Hit(ctx, "a", time.Minute, base)
	_, _ = s.Hit(ctx, "b", time.Hour, base)
	_, _ = s.AddViolation(ctx, "a", time.Minute, base)
	_ = s.Block(ctx, "c", time.Minute, base)

	removed, err := s.Sweep(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	assert.Equal(t, 1, s.Len())

	_, blocked, _ := s.BlockedUntil(ctx, "c", base.Add(time.Minute))
	assert.False(t, blocked)
}

func TestMemoryStore_BlockClearsViolations(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = s.AddViolation(ctx, "ip", time.Hour, base)
	}
	require.NoError(t, s.Block(ctx, "ip", time.Hour, base))

	n, err := s.AddViolation(ctx, "ip", time.Hour, base)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
