package shutdown

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trace records the order serve-mode pieces were stopped in
type trace struct {
	mu    sync.Mutex
	names []string
}

func (tr *trace) add(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.names = append(tr.names, name)
}

func (tr *trace) got() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.names...)
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (tr *trace) closer(name string, err error) Shutdownable {
	return closerFunc(func() error {
		tr.add(name)
		return err
	})
}

func (tr *trace) hook(name string, err error) ShutdownFunc {
	return func(context.Context) error {
		tr.add(name)
		return err
	}
}

// registerServeMode wires the steps dynaload serve registers, deliberately
// out of priority order
func registerServeMode(c *Coordinator, tr *trace) {
	c.Register("runlog", tr.closer("runlog", nil), PriorityRunLog)
	c.Register("source", tr.closer("source", nil), PrioritySource)
	c.RegisterHook("scheduler", tr.hook("scheduler", nil), PriorityScheduler)
	c.RegisterHook("http-server", tr.hook("http-server", nil), PriorityHTTPServer)
}

func TestShutdown_ServeModeOrder(t *testing.T) {
	c := New(time.Second, zerolog.Nop())
	tr := &trace{}
	registerServeMode(c, tr)

	require.NoError(t, c.Shutdown())
	assert.Equal(t, []string{"http-server", "scheduler", "source", "runlog"}, tr.got())
}

func TestShutdown_HooksAndClosersShareOnePriorityOrder(t *testing.T) {
	c := New(time.Second, zerolog.Nop())
	tr := &trace{}

	// A closer registered before a hook still runs after it when its priority is higher
	c.Register("storage", tr.closer("storage", nil), PrioritySource)
	c.RegisterHook("drain-runs", tr.hook("drain-runs", nil), PriorityScheduler)
	c.Register("sql-source", tr.closer("sql-source", nil), PrioritySource)

	require.NoError(t, c.Shutdown())
	assert.Equal(t, []string{"drain-runs", "storage", "sql-source"}, tr.got())
}

func TestShutdown_FailedStepDoesNotStopLaterSteps(t *testing.T) {
	c := New(time.Second, zerolog.Nop())
	tr := &trace{}
	schedErr := errors.New("run still in flight")

	c.RegisterHook("http-server", tr.hook("http-server", nil), PriorityHTTPServer)
	c.RegisterHook("scheduler", tr.hook("scheduler", schedErr), PriorityScheduler)
	c.Register("source", tr.closer("source", errors.New("db gone")), PrioritySource)
	c.Register("runlog", tr.closer("runlog", nil), PriorityRunLog)

	err := c.Shutdown()
	assert.ErrorIs(t, err, schedErr)
	assert.Equal(t, []string{"http-server", "scheduler", "source", "runlog"}, tr.got())
}

func TestShutdown_TimeoutSkipsRemainingSteps(t *testing.T) {
	c := New(20*time.Millisecond, zerolog.Nop())
	tr := &trace{}

	c.RegisterHook("scheduler", func(ctx context.Context) error {
		tr.add("scheduler")
		<-ctx.Done()
		return ctx.Err()
	}, PriorityScheduler)
	c.Register("runlog", tr.closer("runlog", nil), PriorityRunLog)

	err := c.Shutdown()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"scheduler"}, tr.got())
}

func TestShutdown_HookGetsDeadline(t *testing.T) {
	c := New(time.Second, zerolog.Nop())

	var deadline time.Time
	c.RegisterHook("http-server", func(ctx context.Context) error {
		var ok bool
		deadline, ok = ctx.Deadline()
		assert.True(t, ok)
		return nil
	}, PriorityHTTPServer)

	before := time.Now()
	require.NoError(t, c.Shutdown())
	assert.WithinDuration(t, before.Add(time.Second), deadline, 500*time.Millisecond)
}

func TestShutdown_RunsOnce(t *testing.T) {
	c := New(time.Second, zerolog.Nop())
	tr := &trace{}
	registerServeMode(c, tr)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Shutdown()
		}()
	}
	wg.Wait()

	assert.Len(t, tr.got(), 4)
	assert.NoError(t, c.Shutdown())
}

func TestShutdown_NothingRegistered(t *testing.T) {
	c := New(time.Second, zerolog.Nop())
	assert.NoError(t, c.Shutdown())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done should be closed after Shutdown")
	}
}

func TestTriggerShutdown_ReleasesWaitForSignal(t *testing.T) {
	c := New(time.Second, zerolog.Nop())

	sigCh := make(chan os.Signal, 1)
	go func() {
		sigCh <- c.WaitForSignal()
	}()

	for range 3 {
		c.TriggerShutdown()
	}

	select {
	case sig := <-sigCh:
		assert.Equal(t, syscall.SIGTERM, sig)
	case <-time.After(time.Second):
		t.Fatal("WaitForSignal did not return after TriggerShutdown")
	}
}

func TestTriggerShutdown_ThenShutdownStillStops(t *testing.T) {
	c := New(time.Second, zerolog.Nop())
	tr := &trace{}
	registerServeMode(c, tr)

	c.TriggerShutdown()
	<-c.Done()

	require.NoError(t, c.Shutdown())
	assert.Equal(t, []string{"http-server", "scheduler", "source", "runlog"}, tr.got())
}
