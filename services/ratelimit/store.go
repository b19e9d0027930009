package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/upb/repairdesk-core/models"
)

// Store holds windows, violation counters and blocks. Each method must be
// atomic for its key.
type Store interface {
	// Hit counts one request in key's window, starting a new window of the
	// given length when none is open.
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (models.RateWindow, error)
	// AddViolation increments key's violation counter and returns it. The
	// counter lives for lifetime from its first violation.
	AddViolation(ctx context.Context, key string, lifetime time.Duration, now time.Time) (int, error)
	// Block denies key for d and clears its violations.
	Block(ctx context.Context, key string, d time.Duration, now time.Time) error
	BlockedUntil(ctx context.Context, key string, now time.Time) (time.Time, bool, error)
	// Sweep removes expired entries and reports how many it removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// MemoryStore keeps everything in process. Expired entries are ignored on
// access and removed by Sweep.
type MemoryStore struct {
	mu         sync.Mutex
	windows    map[string]*models.RateWindow
	violations map[string]*models.RateWindow
	blocks     map[string]time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows:    make(map[string]*models.RateWindow),
		violations: make(map[string]*models.RateWindow),
		blocks:     make(map[string]time.Time),
	}
}

func (s *MemoryStore) Hit(_ context.Context, key string, window time.Duration, now time.Time) (models.RateWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || w.Expired(now) {
		w = &models.RateWindow{Key: key, ResetAt: now.Add(window)}
		s.windows[key] = w
	}
	w.Count++
	return *w, nil
}

func (s *MemoryStore) AddViolation(_ context.Context, key string, lifetime time.Duration, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.violations[key]
	if !ok || v.Expired(now) {
		v = &models.RateWindow{Key: key, ResetAt: now.Add(lifetime)}
		s.violations[key] = v
	}
	v.Violations++
	return v.Violations, nil
}

func (s *MemoryStore) Block(_ context.Context, key string, d time.Duration, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks[key] = now.Add(d)
	delete(s.violations, key)
	return nil
}

func (s *MemoryStore) BlockedUntil(_ context.Context, key string, now time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.blocks[key]
	if !ok || !now.Before(until) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for k, w := range s.windows {
		if w.Expired(now) {
			delete(s.windows, k)
			removed++
		}
	}
	for k, v := range s.violations {
		if v.Expired(now) {
			delete(s.violations, k)
			removed++
		}
	}
	for k, until := range s.blocks {
		if !now.Before(until) {
			delete(s.blocks, k)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of tracked entries
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows) + len(s.violations) + len(s.blocks)
}
