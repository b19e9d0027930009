// Package ratelimit implements fixed-window request limits per client key
// with automatic blocking of repeat offenders.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/repairdesk-core/internal/observability"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/services/audit"
	"go.uber.org/zap"
)

// Class identifies a rate-limit tier
type Class string

const (
	ClassGlobal              Class = "global"
	ClassAuth                Class = "auth"
	ClassAPI                 Class = "api"
	ClassAuthenticatedGlobal Class = "authenticated-global"
	ClassAuthenticatedAPI    Class = "authenticated-api"
)

// Tier is the request budget of one class
type Tier struct {
	Limit  int
	Window time.Duration
}

// Config holds the limiter's tiers and block policy
type Config struct {
	Tiers              map[Class]Tier
	ViolationThreshold int
	BlockDuration      time.Duration
}

// DefaultConfig returns the default tiers
func DefaultConfig() Config {
	return Config{
		Tiers: map[Class]Tier{
			ClassGlobal:              {Limit: 300, Window: 15 * time.Minute},
			ClassAuth:                {Limit: 5, Window: 15 * time.Minute},
			ClassAPI:                 {Limit: 60, Window: time.Minute},
			ClassAuthenticatedGlobal: {Limit: 1000, Window: 15 * time.Minute},
			ClassAuthenticatedAPI:    {Limit: 120, Window: time.Minute},
		},
		ViolationThreshold: 5,
		BlockDuration:      time.Hour,
	}
}

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed    bool
	Blocked    bool
	Class      Class
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter applies the tiers to client keys. Windows are counted per
// (class, key); violations and blocks are tracked per key across classes.
type Limiter struct {
	store   Store
	cfg     Config
	audit   audit.Recorder
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.Mutex
	denials map[Class]int
	blocks  int
}

// NewLimiter creates a Limiter. recorder may be nil.
func NewLimiter(store Store, cfg Config, recorder audit.Recorder, metrics *observability.Metrics, logger *zap.Logger) *Limiter {
	if cfg.ViolationThreshold <= 0 {
		cfg.ViolationThreshold = DefaultConfig().ViolationThreshold
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = DefaultConfig().BlockDuration
	}
	return &Limiter{
		store:   store,
		cfg:     cfg,
		audit:   recorder,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
		denials: make(map[Class]int),
	}
}

// Tier returns the configured tier for class
func (l *Limiter) Tier(class Class) (Tier, bool) {
	t, ok := l.cfg.Tiers[class]
	return t, ok
}

// Allow counts one request for key under class. A blocked key is denied
// without consuming a slot. When the store fails the returned decision
// allows the request and the error is returned alongside it.
func (l *Limiter) Allow(ctx context.Context, class Class, key string) (Decision, error) {
	tier, ok := l.cfg.Tiers[class]
	if !ok {
		return Decision{Allowed: true, Class: class}, fmt.Errorf("unknown rate limit class %q", class)
	}
	now := l.now()
	open := Decision{Allowed: true, Class: class, Limit: tier.Limit, Remaining: tier.Limit}

	until, blocked, err := l.store.BlockedUntil(ctx, key, now)
	if err != nil {
		return open, fmt.Errorf("check block: %w", err)
	}
	if blocked {
		l.countDenial(class)
		return Decision{
			Blocked:    true,
			Class:      class,
			Limit:      tier.Limit,
			ResetAt:    until,
			RetryAfter: until.Sub(now),
		}, nil
	}

	window, err := l.store.Hit(ctx, windowKey(class, key), tier.Window, now)
	if err != nil {
		return open, fmt.Errorf("count request: %w", err)
	}

	d := Decision{
		Allowed: window.Count <= tier.Limit,
		Class:   class,
		Limit:   tier.Limit,
		ResetAt: window.ResetAt,
	}
	if d.Allowed {
		d.Remaining = tier.Limit - window.Count
		return d, nil
	}

	d.RetryAfter = window.ResetAt.Sub(now)
	l.countDenial(class)

	violations, err := l.store.AddViolation(ctx, key, l.cfg.BlockDuration, now)
	if err != nil {
		l.logger.Warn("failed to record rate limit violation", zap.String("class", string(class)), zap.Error(err))
		return d, nil
	}
	if violations >= l.cfg.ViolationThreshold {
		if err := l.store.Block(ctx, key, l.cfg.BlockDuration, now); err != nil {
			l.logger.Warn("failed to block key", zap.String("class", string(class)), zap.Error(err))
			return d, nil
		}
		l.blocked(ctx, class, key, violations)
		d.Blocked = true
		d.ResetAt = now.Add(l.cfg.BlockDuration)
		d.RetryAfter = l.cfg.BlockDuration
	}
	return d, nil
}

func (l *Limiter) countDenial(class Class) {
	l.metrics.RateLimited(string(class))
	l.mu.Lock()
	l.denials[class]++
	l.mu.Unlock()
}

func (l *Limiter) blocked(ctx context.Context, class Class, key string, violations int) {
	l.metrics.KeyBlocked()
	l.mu.Lock()
	l.blocks++
	l.mu.Unlock()

	l.logger.Warn("rate limit key blocked",
		zap.String("class", string(class)),
		zap.String("key", key),
		zap.Int("violations", violations),
		zap.Duration("duration", l.cfg.BlockDuration))

	if l.audit != nil {
		l.audit.Record(ctx, models.NewAuditLog(models.AuditActionRateLimitBlock, "ratelimit:"+key, models.OutcomeFailure).
			WithDetails(map[string]interface{}{
				"class":            class,
				"violations":       violations,
				"duration_seconds": int(l.cfg.BlockDuration.Seconds()),
			}))
	}
}

// Summary is the denial tally since the last flush
type Summary struct {
	Denials map[Class]int `json:"denials"`
	Blocks  int           `json:"blocks"`
}

// Empty reports whether nothing was denied
func (s Summary) Empty() bool {
	return len(s.Denials) == 0 && s.Blocks == 0
}

// Flush returns and resets the denial tally, writing it to the audit log
// as one rate_limit.summary entry when it is not empty.
func (l *Limiter) Flush(ctx context.Context) Summary {
	l.mu.Lock()
	s := Summary{Denials: l.denials, Blocks: l.blocks}
	l.denials = make(map[Class]int)
	l.blocks = 0
	l.mu.Unlock()

	if s.Empty() || l.audit == nil {
		return s
	}
	l.audit.Record(ctx, models.NewAuditLog(models.AuditActionRateLimitSummary, "ratelimit", models.OutcomeFailure).
		WithDetails(s))
	return s
}

// StartSweeper garbage-collects expired windows and blocks every interval
// and flushes the denial summary. It returns when ctx is done, after a
// final flush.
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info("started rate limit sweeper", zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			l.sweep(ctx)
		case <-ctx.Done():
			l.Flush(context.WithoutCancel(ctx))
			l.logger.Info("stopping rate limit sweeper")
			return
		}
	}
}

func (l *Limiter) sweep(ctx context.Context) {
	removed, err := l.store.Sweep(ctx, l.now())
	if err != nil {
		l.logger.Error("failed to sweep rate limit store", zap.Error(err))
	} else if removed > 0 {
		l.logger.Debug("swept rate limit entries", zap.Int("removed", removed))
	}
	l.Flush(ctx)
}

func windowKey(class Class, key string) string {
	return string(class) + ":" + key
}
