// ABOUTME: Cron-driven job that recomputes conversation previews from the message log
// ABOUTME: Wraps robfig/cron with overlap protection and structured logging

package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs reconciliation every fifteen minutes.
const DefaultSchedule = "*/15 * * * *"

// Reconciler recomputes denormalized previews. Implemented by messaging.Service.
type Reconciler interface {
	ReconcilePreviews(ctx context.Context) (int, error)
}

// Scheduler runs a Reconciler on a cron schedule.
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	timeout    time.Duration
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewScheduler creates a scheduler for the given cron spec. An empty spec uses
// DefaultSchedule. Pass nil logger for default.
func NewScheduler(spec string, reconciler Reconciler, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if spec == "" {
		spec = DefaultSchedule
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:       cron.New(),
		reconciler: reconciler,
		timeout:    5 * time.Minute,
		logger:     logger.With("component", "reconcile"),
		ctx:        ctx,
		cancel:     cancel,
	}

	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		cancel()
		return nil, fmt.Errorf("parsing reconcile schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("preview reconciliation scheduled", "entries", len(s.cron.Entries()))
}

// RunOnce performs a single reconciliation pass. Overlapping passes are skipped.
func (s *Scheduler) RunOnce() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("skipping reconciliation, previous run still active")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	start := time.Now()
	fixed, err := s.reconciler.ReconcilePreviews(ctx)
	if err != nil {
		s.logger.Error("preview reconciliation failed", "error", err, "fixed", fixed)
		return
	}
	s.logger.Info("preview reconciliation complete", "fixed", fixed, "duration", time.Since(start))
}

// Stop halts the schedule, cancels any running pass and waits for it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
