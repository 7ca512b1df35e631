package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"helpdesk-ingest-go/internal/config"
)

// Scheduler fires fetch cycles on a fixed interval
type Scheduler struct {
	cron         *cron.Cron
	entryID      cron.EntryID
	config       *config.SchedulerConfig
	orchestrator *Orchestrator
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	isRunning    bool
	mu           sync.RWMutex
}

// New creates a new scheduler
func New(cfg *config.SchedulerConfig, orchestrator *Orchestrator) *Scheduler {
	return &Scheduler{
		cron:         cron.New(cron.WithSeconds()),
		config:       cfg,
		orchestrator: orchestrator,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}
	if s.config.IntervalMinutes <= 0 {
		return fmt.Errorf("invalid scheduler interval: %d minutes", s.config.IntervalMinutes)
	}

	schedule := intervalSpec(s.config.IntervalMinutes)

	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	entryID, err := s.cron.AddFunc(schedule, s.fetch)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with interval: %d minutes", s.config.IntervalMinutes)
	return nil
}

// Stop stops the scheduler and cancels a cycle it started
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()

	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// RunOnce triggers a manual cycle. It returns false when one is already
// running.
func (s *Scheduler) RunOnce() bool {
	logrus.Info("Manual fetch requested")
	return s.orchestrator.TriggerFetch(ReasonManual)
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns the time of the last scheduled run
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Prev
}

// Wait waits for a cycle started by the scheduler to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// intervalSpec is a constant-delay schedule. Minute-field steps such as
// */45 reset every hour and only space runs evenly for divisors of 60.
func intervalSpec(minutes int) string {
	return fmt.Sprintf("@every %dm", minutes)
}

func (s *Scheduler) fetch() {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		logrus.Info("Scheduler not running, skipping fetch cycle")
		return
	}
	ctx := s.ctx
	s.mu.RUnlock()

	if _, ok := s.orchestrator.RunCycle(ctx, ReasonCron); !ok {
		logrus.Debug("Scheduled fetch skipped, a cycle is already running")
	}
}
