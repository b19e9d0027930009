package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/repairdesk-core/internal/observability"
	"github.com/upb/repairdesk-core/models"
	"github.com/upb/repairdesk-core/repositories"
	"go.uber.org/zap"
)

// List limits for ListRecent
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Recorder appends audit entries. Record never fails from the caller's
// point of view; write errors are logged.
type Recorder interface {
	Record(ctx context.Context, entry *models.AuditLog)
}

// Sink receives a copy of every stored entry, e.g. for SIEM fan-out.
type Sink interface {
	Name() string
	Publish(ctx context.Context, entry *models.AuditLog) error
}

// Config holds configuration for the Service
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers; 0 writes synchronously
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  10000,
		WorkerCount: 5,
	}
}

// Service writes audit entries through a pool of background workers. When
// the buffer is full the entry is written on the caller's goroutine, so
// nothing is dropped.
type Service struct {
	repo        repositories.AuditRepository
	sinks       []Sink
	logger      *zap.Logger
	metrics     *observability.Metrics
	eventChan   chan *models.AuditLog
	workerCount int
	bufferSize  int
	now         func() time.Time
	wg          sync.WaitGroup
	mu          sync.RWMutex
	started     bool
	stopped     bool
}

// NewService creates a new audit Service
func NewService(repo repositories.AuditRepository, logger *zap.Logger, metrics *observability.Metrics, config Config, sinks ...Sink) *Service {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	return &Service{
		repo:        repo,
		sinks:       sinks,
		logger:      logger,
		metrics:     metrics,
		eventChan:   make(chan *models.AuditLog, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
		now:         time.Now,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting queued entries and waits for the workers to drain
// the buffer. Entries recorded afterwards are written synchronously.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	pending := len(s.eventChan)
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", pending))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record stamps entry with the server time, strips credentials from its
// details and queues it.
func (s *Service) Record(ctx context.Context, entry *models.AuditLog) {
	if entry == nil {
		return
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.Timestamp = s.now().UTC()
	entry.Details = RedactDetails(entry.Details)

	s.mu.RLock()
	if s.started && !s.stopped && s.workerCount > 0 {
		select {
		case s.eventChan <- entry:
			s.mu.RUnlock()
			return
		default:
			s.logger.Warn("audit event channel full, writing synchronously",
				zap.String("action", string(entry.Action)))
		}
	}
	s.mu.RUnlock()

	if err := s.write(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error("failed to write audit entry",
			zap.Error(err),
			zap.String("action", string(entry.Action)))
	}
}

// ListRecent returns the newest entries first. A nil organizationID lists
// every organization; the limit is clamped to [1, MaxListLimit] and
// defaults to DefaultListLimit.
func (s *Service) ListRecent(ctx context.Context, organizationID *uuid.UUID, limit int) ([]*models.AuditLog, error) {
	entries, err := s.repo.ListRecent(ctx, repositories.AuditQuery{
		OrganizationID: organizationID,
		Limit:          ClampLimit(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return entries, nil
}

// ClampLimit applies the ListRecent bounds to a requested limit
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for entry := range s.eventChan {
		if err := s.write(context.Background(), entry); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(entry.Action)))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// write stores entry and then forwards it to every sink. A sink failure
// does not fail the write.
func (s *Service) write(ctx context.Context, entry *models.AuditLog) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.repo.Insert(ctx, entry)
	s.metrics.AuditWrite("store", err)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	for _, sink := range s.sinks {
		serr := sink.Publish(ctx, entry)
		s.metrics.AuditWrite(sink.Name(), serr)
		if serr != nil {
			s.logger.Warn("audit sink publish failed",
				zap.String("sink", sink.Name()),
				zap.Error(serr))
		}
	}
	return nil
}

// GetStats returns statistics about the audit service
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}
