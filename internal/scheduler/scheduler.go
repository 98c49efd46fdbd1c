// Package scheduler runs periodic session maintenance: clearing elapsed
// disableChat gates and purging conversations nobody has touched in a
// long time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/thehassans/WhatsappAutomated-sub000/internal/session"
)

// Config holds the cron schedules and retention window. Zero values
// fall back to the defaults below.
type Config struct {
	GateSweepCron  string        // default every minute
	StaleSweepCron string        // default hourly
	StaleAfter     time.Duration // default 30 days
}

const (
	defaultGateSweepCron  = "* * * * *"
	defaultStaleSweepCron = "0 * * * *"
	defaultStaleAfter     = 30 * 24 * time.Hour
)

type job struct {
	name     string
	schedule cron.Schedule
	run      func(ctx context.Context) error
	next     time.Time
}

// Scheduler drives the maintenance jobs on a one-minute tick.
type Scheduler struct {
	store      session.Store
	jobs       []*job
	logger     *slog.Logger
	staleAfter time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job names currently executing (dedup)

	now func() time.Time
}

// New creates a Scheduler with the gate and retention sweeps registered.
func New(store session.Store, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GateSweepCron == "" {
		cfg.GateSweepCron = defaultGateSweepCron
	}
	if cfg.StaleSweepCron == "" {
		cfg.StaleSweepCron = defaultStaleSweepCron
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}

	s := &Scheduler{
		store:      store,
		logger:     logger,
		staleAfter: cfg.StaleAfter,
		inflight:   make(map[string]struct{}),
		now:        func() time.Time { return time.Now().UTC() },
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	for _, spec := range []struct {
		name string
		expr string
		run  func(ctx context.Context) error
	}{
		{"gate-sweep", cfg.GateSweepCron, s.sweepGates},
		{"stale-sweep", cfg.StaleSweepCron, s.purgeStale},
	} {
		schedule, err := parser.Parse(spec.expr)
		if err != nil {
			return nil, fmt.Errorf("parse cron expression %q for %s: %w", spec.expr, spec.name, err)
		}
		s.jobs = append(s.jobs, &job{name: spec.name, schedule: schedule, run: spec.run})
	}

	return s, nil
}

// Start launches the background loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	now := s.now()
	for _, j := range s.jobs {
		j.next = j.schedule.Next(now)
	}

	go s.loop(loopCtx)
	s.logger.Info("maintenance scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every due job. A job still running from a previous tick is
// skipped, not queued.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	for _, j := range s.jobs {
		if j.next.After(now) {
			continue
		}
		j.next = j.schedule.Next(now)
		if !s.tryAcquire(j.name) {
			continue
		}
		if err := j.run(ctx); err != nil {
			s.logger.Error("maintenance job failed",
				slog.String("job", j.name),
				slog.String("error", err.Error()),
			)
		}
		s.release(j.name)
	}
}

// sweepGates clears disableChat flags whose window has elapsed so the
// rows do not accumulate stale gate state.
func (s *Scheduler) sweepGates(ctx context.Context) error {
	expired, err := s.store.ListExpiredDisable(ctx, s.now())
	if err != nil {
		return fmt.Errorf("list expired gates: %w", err)
	}

	cleared := 0
	for _, sess := range expired {
		key := session.Key{TenantID: sess.TenantID, FlowID: sess.FlowID, Correspondent: sess.Correspondent}
		if err := s.store.Patch(ctx, key, session.Patch{DisableChat: session.SetDisableChat(nil)}); err != nil {
			s.logger.Warn("failed to clear elapsed gate",
				slog.String("tenant_id", sess.TenantID),
				slog.String("correspondent", sess.Correspondent),
				slog.String("error", err.Error()),
			)
			continue
		}
		cleared++
	}

	if cleared > 0 {
		s.logger.Info("cleared elapsed disable gates", slog.Int("count", cleared))
	}
	return nil
}

// purgeStale drops sessions with no activity inside the retention window.
func (s *Scheduler) purgeStale(ctx context.Context) error {
	cutoff := s.now().Add(-s.staleAfter)
	dropped, err := s.store.DeleteStale(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge stale sessions: %w", err)
	}
	if dropped > 0 {
		s.logger.Info("purged stale sessions", slog.Int64("count", dropped))
	}
	return nil
}

// tryAcquire marks the job in-flight unless it already is.
func (s *Scheduler) tryAcquire(name string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[name]; ok {
		return false
	}
	s.inflight[name] = struct{}{}
	return true
}

func (s *Scheduler) release(name string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, name)
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("maintenance scheduler stopped")
	return nil
}
