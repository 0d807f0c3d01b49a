// Package job runs replace jobs: load the dataset, replace the table, record
// the outcome.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/basekick-labs/dynaload/internal/dataset"
	"github.com/basekick-labs/dynaload/internal/replace"
	"github.com/basekick-labs/dynaload/internal/runlog"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrRunInProgress is returned by Start while another run on the same table
// has not finished
var ErrRunInProgress = errors.New("a replace run is already in progress")

// Trigger values recorded with each run
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerAPI      = "api"
)

// Loader produces the dataset for a run. source.Source satisfies it.
type Loader interface {
	Load(ctx context.Context) (*dataset.Dataset, error)
	Describe() string
}

// Recorder persists run history. *runlog.Repository satisfies it.
type Recorder interface {
	Record(ctx context.Context, run *runlog.Run) error
}

// RunnerConfig holds the dependencies of a Runner
type RunnerConfig struct {
	Table    string
	Loader   Loader
	Replacer *replace.Replacer
	Recorder Recorder      // optional
	Timeout  time.Duration // bound for runs started with Start; zero means none
	Logger   zerolog.Logger
}

// Runner executes replace runs against one table. Overlapping calls share a
// single execution.
type Runner struct {
	table    string
	loader   Loader
	replacer *replace.Replacer
	recorder Recorder
	timeout  time.Duration
	group    singleflight.Group

	mu      sync.RWMutex
	current *runlog.Run
	last    *runlog.Run

	logger zerolog.Logger
}

// NewRunner creates a Runner
func NewRunner(cfg *RunnerConfig) *Runner {
	return &Runner{
		table:    cfg.Table,
		loader:   cfg.Loader,
		replacer: cfg.Replacer,
		recorder: cfg.Recorder,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger.With().Str("table", cfg.Table).Logger(),
	}
}

// Table returns the table the runner replaces
func (r *Runner) Table() string {
	return r.table
}

// Run performs one replace and blocks until it finishes. A caller arriving
// while a run is in flight waits for that run and receives its outcome.
func (r *Runner) Run(ctx context.Context, trigger string) (*runlog.Run, error) {
	return r.do(ctx, trigger, nil)
}

// Start begins a run in the background and returns its ID
func (r *Runner) Start(trigger string) (string, error) {
	if r.Current() != nil {
		return "", ErrRunInProgress
	}

	ids := make(chan string, 1)
	notify := func(run *runlog.Run) {
		select {
		case ids <- run.ID:
		default:
		}
	}

	go func() {
		ctx := context.Background()
		if r.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		// A joined run never calls notify from execute
		run, _ := r.do(ctx, trigger, notify)
		notify(run)
	}()

	return <-ids, nil
}

// Current returns the in-flight run, or nil
func (r *Runner) Current() *runlog.Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return nil
	}
	cp := *r.current
	return &cp
}

// Last returns the most recently finished run, or nil
func (r *Runner) Last() *runlog.Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return nil
	}
	cp := *r.last
	return &cp
}

func (r *Runner) do(ctx context.Context, trigger string, onStart func(*runlog.Run)) (*runlog.Run, error) {
	v, err, shared := r.group.Do(r.table, func() (interface{}, error) {
		return r.execute(ctx, trigger, onStart)
	})
	if shared {
		r.logger.Debug().Str("trigger", trigger).Msg("Joined in-flight run")
	}
	run := v.(*runlog.Run)
	cp := *run
	return &cp, err
}

func (r *Runner) execute(ctx context.Context, trigger string, onStart func(*runlog.Run)) (*runlog.Run, error) {
	run := &runlog.Run{
		ID:        uuid.NewString(),
		Table:     r.table,
		Trigger:   trigger,
		Source:    r.loader.Describe(),
		Status:    runlog.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	log := r.logger.With().Str("run_id", run.ID).Str("trigger", trigger).Logger()

	r.mu.Lock()
	cp := *run
	r.current = &cp
	r.mu.Unlock()
	if onStart != nil {
		onStart(run)
	}

	log.Info().Str("source", run.Source).Msg("Starting replace run")
	r.record(ctx, run, log)

	ds, err := r.loader.Load(ctx)
	if err != nil {
		return r.finish(ctx, run, nil, fmt.Errorf("load dataset: %w", err), log)
	}

	res, err := r.replacer.WithRun(run.ID, trigger).Replace(ctx, ds, r.table)
	return r.finish(ctx, run, res, err, log)
}

func (r *Runner) finish(ctx context.Context, run *runlog.Run, res *replace.Result, runErr error, log zerolog.Logger) (*runlog.Run, error) {
	finished := time.Now().UTC()
	run.FinishedAt = &finished
	if res != nil {
		run.Records = res.Records
		run.Scanned = res.Scanned
		run.Deleted = res.Deleted
		run.Written = res.Written
		run.Truncated = res.Truncated
	}

	if runErr != nil {
		run.Status = runlog.StatusFailed
		run.Error = runErr.Error()
		log.Error().
			Err(runErr).
			Int("deleted", run.Deleted).
			Int("written", run.Written).
			Msg("Replace run failed")
	} else {
		run.Status = runlog.StatusSucceeded
		log.Info().
			Int("records", run.Records).
			Int("deleted", run.Deleted).
			Int("written", run.Written).
			Bool("truncated", run.Truncated).
			Dur("duration", finished.Sub(run.StartedAt)).
			Msg("Replace run completed")
	}

	// History is written even when the run's context expired
	r.record(context.WithoutCancel(ctx), run, log)

	r.mu.Lock()
	cp := *run
	r.last = &cp
	r.current = nil
	r.mu.Unlock()

	return run, runErr
}

func (r *Runner) record(ctx context.Context, run *runlog.Run, log zerolog.Logger) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.Record(ctx, run); err != nil {
		log.Warn().Err(err).Msg("Failed to record run history")
	}
}
