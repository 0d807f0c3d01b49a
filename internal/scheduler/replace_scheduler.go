package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/basekick-labs/dynaload/internal/runlog"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Trigger starting a scheduled run
const triggerSchedule = "schedule"

// RunFunc performs one replace. *job.Runner's Run method satisfies it.
type RunFunc func(ctx context.Context, trigger string) (*runlog.Run, error)

// ReplaceScheduler runs table replaces on a cron schedule
type ReplaceScheduler struct {
	run        RunFunc
	schedule   string // Cron schedule (e.g., "0 * * * *" = hourly)
	runTimeout time.Duration
	cron       *cron.Cron
	running    bool
	lastRun    *runlog.Run
	mu         sync.Mutex
	logger     zerolog.Logger
}

// ReplaceSchedulerConfig holds configuration for the replace scheduler
type ReplaceSchedulerConfig struct {
	Run        RunFunc
	Schedule   string        // Cron schedule string (e.g., "0 * * * *")
	RunTimeout time.Duration // Per-run bound (default: 15 minutes)
	Logger     zerolog.Logger
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NewReplaceScheduler creates a new replace scheduler
func NewReplaceScheduler(cfg *ReplaceSchedulerConfig) (*ReplaceScheduler, error) {
	// Default schedule: hourly
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = "0 * * * *"
	}

	if _, err := cronParser.Parse(schedule); err != nil {
		return nil, err
	}

	timeout := cfg.RunTimeout
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}

	s := &ReplaceScheduler{
		run:        cfg.Run,
		schedule:   schedule,
		runTimeout: timeout,
		logger:     cfg.Logger,
	}

	s.logger.Info().
		Str("schedule", schedule).
		Dur("run_timeout", timeout).
		Msg("Replace scheduler initialized")

	return s, nil
}

// Start starts the replace scheduler
func (s *ReplaceScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn().Msg("Replace scheduler already running")
		return nil
	}

	s.cron = cron.New(cron.WithParser(cronParser))

	_, err := s.cron.AddFunc(s.schedule, func() {
		s.runScheduled()
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Time("next_run", s.getNextRun()).
		Msg("Replace scheduler started")

	return nil
}

// Stop stops the scheduler and waits for an in-flight run to finish
func (s *ReplaceScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	c := s.cron
	s.running = false
	s.mu.Unlock()

	if c != nil {
		ctx := c.Stop()
		<-ctx.Done() // Wait for running jobs to complete
	}

	s.logger.Info().Msg("Replace scheduler stopped")
}

// Close stops the scheduler; it has the signature the shutdown coordinator expects
func (s *ReplaceScheduler) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ReplaceScheduler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), s.runTimeout)
	defer cancel()

	s.logger.Info().Msg("Triggering scheduled replace")
	if _, err := s.execute(ctx, triggerSchedule); err != nil {
		s.logger.Error().Err(err).Msg("Scheduled replace failed")
	}
}

// TriggerNow runs a replace immediately, outside the schedule
func (s *ReplaceScheduler) TriggerNow(ctx context.Context, trigger string) (*runlog.Run, error) {
	s.logger.Info().Str("trigger", trigger).Msg("Manual replace trigger")
	return s.execute(ctx, trigger)
}

func (s *ReplaceScheduler) execute(ctx context.Context, trigger string) (*runlog.Run, error) {
	run, err := s.run(ctx, trigger)

	s.mu.Lock()
	s.lastRun = run
	s.mu.Unlock()

	return run, err
}

// getNextRun returns the next scheduled run time
func (s *ReplaceScheduler) getNextRun() time.Time {
	schedule, err := cronParser.Parse(s.schedule)
	if err != nil {
		return time.Time{}
	}
	return schedule.Next(time.Now())
}

// Status returns scheduler status
func (s *ReplaceScheduler) Status() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := map[string]interface{}{
		"running":  s.running,
		"schedule": s.schedule,
	}

	if s.running {
		status["next_run"] = s.getNextRun().Format(time.RFC3339)
	}

	if s.lastRun != nil {
		status["last_run_id"] = s.lastRun.ID
		status["last_run_status"] = string(s.lastRun.Status)
	}

	return status
}

// IsRunning returns whether the scheduler is running
func (s *ReplaceScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// GetSchedule returns the cron schedule string
func (s *ReplaceScheduler) GetSchedule() string {
	return s.schedule
}
