package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/basekick-labs/dynaload/internal/job"
	"github.com/basekick-labs/dynaload/internal/runlog"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// Runner is the replace runner surface the API drives. *job.Runner satisfies it.
type Runner interface {
	Run(ctx context.Context, trigger string) (*runlog.Run, error)
	Start(trigger string) (string, error)
	Current() *runlog.Run
	Last() *runlog.Run
	Table() string
}

// RunHistory reads persisted runs. *runlog.Repository satisfies it.
type RunHistory interface {
	List(ctx context.Context, limit int) ([]*runlog.Run, error)
	Get(ctx context.Context, id string) (*runlog.Run, error)
}

// SchedulerStatus reports the cron scheduler state
type SchedulerStatus interface {
	Status() map[string]interface{}
}

// RunsHandler handles replace run API endpoints
type RunsHandler struct {
	runner     Runner
	history    RunHistory      // nil when the run log is disabled
	scheduler  SchedulerStatus // nil when the scheduler is disabled
	runTimeout time.Duration
	logger     zerolog.Logger
}

// NewRunsHandler creates a new runs handler
func NewRunsHandler(runner Runner, history RunHistory, scheduler SchedulerStatus, runTimeout time.Duration, logger zerolog.Logger) *RunsHandler {
	if runTimeout <= 0 {
		runTimeout = 15 * time.Minute
	}
	return &RunsHandler{
		runner:     runner,
		history:    history,
		scheduler:  scheduler,
		runTimeout: runTimeout,
		logger:     logger,
	}
}

// RegisterRoutes registers run API routes
func (h *RunsHandler) RegisterRoutes(app *fiber.App) {
	app.Post("/api/v1/runs", h.handleTrigger)
	app.Get("/api/v1/runs", h.handleList)
	app.Get("/api/v1/runs/:id", h.handleGet)
	app.Get("/api/v1/scheduler", h.handleScheduler)
}

// handleTrigger starts a replace. With async=true it returns immediately with
// the run ID; otherwise it waits for the run to finish.
func (h *RunsHandler) handleTrigger(c *fiber.Ctx) error {
	if c.QueryBool("async", false) {
		id, err := h.runner.Start(job.TriggerAPI)
		if errors.Is(err, job.ErrRunInProgress) {
			current := h.runner.Current()
			resp := fiber.Map{"error": err.Error()}
			if current != nil {
				resp["run_id"] = current.ID
			}
			return c.Status(fiber.StatusConflict).JSON(resp)
		}
		if err != nil {
			return err
		}

		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"run_id": id,
			"table":  h.runner.Table(),
			"status": runlog.StatusRunning,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.runTimeout)
	defer cancel()

	run, err := h.runner.Run(ctx, job.TriggerAPI)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
			"run":   run,
		})
	}

	return c.JSON(fiber.Map{"run": run})
}

// handleList returns recent runs, newest first
func (h *RunsHandler) handleList(c *fiber.Ctx) error {
	limit := 20
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	var runs []*runlog.Run
	if h.history != nil {
		var err error
		runs, err = h.history.List(c.UserContext(), limit)
		if err != nil {
			h.logger.Error().Err(err).Msg("Failed to list runs")
			return fiber.NewError(fiber.StatusInternalServerError, "failed to list runs")
		}
	} else {
		// Without a run log only the in-memory runs are known
		runs = make([]*runlog.Run, 0, 2)
		if cur := h.runner.Current(); cur != nil {
			runs = append(runs, cur)
		}
		if last := h.runner.Last(); last != nil && len(runs) < limit {
			runs = append(runs, last)
		}
	}

	return c.JSON(fiber.Map{
		"table":   h.runner.Table(),
		"count":   len(runs),
		"runs":    runs,
		"current": h.runner.Current(),
	})
}

// handleGet returns one run by ID
func (h *RunsHandler) handleGet(c *fiber.Ctx) error {
	id := c.Params("id")

	for _, r := range []*runlog.Run{h.runner.Current(), h.runner.Last()} {
		if r != nil && r.ID == id {
			return c.JSON(r)
		}
	}

	if h.history != nil {
		run, err := h.history.Get(c.UserContext(), id)
		if err != nil {
			h.logger.Error().Err(err).Str("run_id", id).Msg("Failed to get run")
			return fiber.NewError(fiber.StatusInternalServerError, "failed to get run")
		}
		if run != nil {
			return c.JSON(run)
		}
	}

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "run not found",
	})
}

// handleScheduler returns the cron scheduler status
func (h *RunsHandler) handleScheduler(c *fiber.Ctx) error {
	if h.scheduler == nil {
		return c.JSON(fiber.Map{"enabled": false})
	}

	status := h.scheduler.Status()
	status["enabled"] = true
	return c.JSON(status)
}
