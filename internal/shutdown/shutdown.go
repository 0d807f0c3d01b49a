package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Shutdownable is an interface for components that can be shut down gracefully
type Shutdownable interface {
	Close() error
}

// ShutdownFunc is a function that performs cleanup during shutdown
type ShutdownFunc func(ctx context.Context) error

// Priorities for serve-mode components. Lower shuts down first.
const (
	PriorityHTTPServer = 10 // Stop accepting run triggers
	PriorityScheduler  = 20 // Stop cron, wait for an in-flight run
	PrioritySource     = 60 // Dataset source connections and storage backends
	PriorityRunLog     = 80 // Run history database last
)

// Coordinator manages graceful shutdown of all components
type Coordinator struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu    sync.Mutex
	steps []step

	shutdownOnce sync.Once
	triggerOnce  sync.Once // guards close(shutdownCh) for both Shutdown and TriggerShutdown
	shutdownCh   chan struct{}
}

type step struct {
	name     string
	kind     string // "hook" or "component"
	priority int
	run      ShutdownFunc
}

// New creates a new shutdown coordinator
func New(timeout time.Duration, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		timeout:    timeout,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}
}

// Register registers a component for graceful shutdown
func (c *Coordinator) Register(name string, component Shutdownable, priority int) {
	c.add(step{
		name:     name,
		kind:     "component",
		priority: priority,
		run: func(context.Context) error {
			return component.Close()
		},
	})
}

// RegisterHook registers a shutdown hook function
func (c *Coordinator) RegisterHook(name string, hook ShutdownFunc, priority int) {
	c.add(step{name: name, kind: "hook", priority: priority, run: hook})
}

func (c *Coordinator) add(s step) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.steps = append(c.steps, s)

	c.logger.Debug().
		Str("name", s.name).
		Str("kind", s.kind).
		Int("priority", s.priority).
		Msg("Registered for shutdown")
}

// Done is closed once shutdown has been triggered
func (c *Coordinator) Done() <-chan struct{} {
	return c.shutdownCh
}

// WaitForSignal blocks until a shutdown signal is received or TriggerShutdown is called
func (c *Coordinator) WaitForSignal() os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		c.logger.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		return sig
	case <-c.shutdownCh:
		return syscall.SIGTERM
	}
}

// Shutdown runs every registered step in priority order within the timeout.
// It returns the first step error, or the context error if time ran out.
func (c *Coordinator) Shutdown() error {
	var shutdownErr error

	c.shutdownOnce.Do(func() {
		c.triggerOnce.Do(func() {
			close(c.shutdownCh)
		})

		c.mu.Lock()
		steps := make([]step, len(c.steps))
		copy(steps, c.steps)
		c.mu.Unlock()

		// Registration order breaks ties
		sort.SliceStable(steps, func(i, j int) bool {
			return steps[i].priority < steps[j].priority
		})

		c.logger.Info().
			Dur("timeout", c.timeout).
			Int("steps", len(steps)).
			Msg("Starting graceful shutdown")

		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		start := time.Now()
		for _, s := range steps {
			if ctx.Err() != nil {
				c.logger.Warn().
					Str("name", s.name).
					Msg("Shutdown timeout reached, skipping remaining steps")
				shutdownErr = ctx.Err()
				return
			}

			if err := s.run(ctx); err != nil {
				c.logger.Error().
					Err(err).
					Str("name", s.name).
					Str("kind", s.kind).
					Msg("Shutdown step failed")
				if shutdownErr == nil {
					shutdownErr = err
				}
				continue
			}

			c.logger.Debug().
				Str("name", s.name).
				Str("kind", s.kind).
				Msg("Shutdown step complete")
		}

		c.logger.Info().
			Dur("duration", time.Since(start)).
			Msg("Graceful shutdown complete")
	})

	return shutdownErr
}

// TriggerShutdown triggers a shutdown programmatically.
// It is safe to call from multiple goroutines.
func (c *Coordinator) TriggerShutdown() {
	c.triggerOnce.Do(func() {
		c.logger.Info().Msg("Programmatic shutdown triggered")
		close(c.shutdownCh)
	})
}
