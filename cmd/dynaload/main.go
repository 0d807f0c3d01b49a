package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/basekick-labs/dynaload/internal/api"
	"github.com/basekick-labs/dynaload/internal/config"
	"github.com/basekick-labs/dynaload/internal/dynamo"
	"github.com/basekick-labs/dynaload/internal/job"
	"github.com/basekick-labs/dynaload/internal/logger"
	"github.com/basekick-labs/dynaload/internal/replace"
	"github.com/basekick-labs/dynaload/internal/runlog"
	"github.com/basekick-labs/dynaload/internal/scheduler"
	"github.com/basekick-labs/dynaload/internal/shutdown"
	"github.com/basekick-labs/dynaload/internal/source"
	"github.com/rs/zerolog/log"
)

// Version is set at build time
var Version = "dev"

const usage = `usage: dynaload [command] [flags]

commands:
  run     replace the table once and exit (default)
  serve   run on a schedule and serve the HTTP API until interrupted
`

func main() {
	cmd := "run"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "run":
		err = runCommand(args)
	case "serve":
		err = serveCommand(args)
	case "version":
		fmt.Println(Version)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stderr, usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the components shared by run and serve
type app struct {
	cfg    *config.Config
	store  *dynamo.Store
	source source.Source
	runlog *runlog.Repository // nil when disabled
	runner *job.Runner
}

// loadConfig reads configuration, applies flag overrides, validates it and sets up logging
func loadConfig(table, path string) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if table != "" {
		cfg.DynamoDB.Table = table
	}
	if path != "" {
		cfg.Source.Path = path
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	client, err := dynamo.NewClient(ctx, &dynamo.ClientConfig{
		Region:    cfg.DynamoDB.Region,
		Endpoint:  cfg.DynamoDB.Endpoint,
		AccessKey: cfg.DynamoDB.AccessKey,
		SecretKey: cfg.DynamoDB.SecretKey,
	}, logger.Get("dynamodb"))
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB client: %w", err)
	}

	store := dynamo.NewStore(client, logger.Get("dynamodb"))
	if err := store.CheckKey(ctx, cfg.DynamoDB.Table, cfg.DynamoDB.KeyAttribute); err != nil {
		return nil, err
	}

	src, err := source.FromConfig(ctx, &cfg.Source, logger.Get("source"))
	if err != nil {
		return nil, fmt.Errorf("failed to create source: %w", err)
	}

	a := &app{cfg: cfg, store: store, source: src}

	var recorder job.Recorder
	if cfg.RunLog.Enabled {
		a.runlog, err = runlog.NewRepository(cfg.RunLog.DBPath, logger.Get("runlog"))
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("failed to open run log: %w", err)
		}
		recorder = a.runlog
	}

	a.runner = job.NewRunner(&job.RunnerConfig{
		Table:    cfg.DynamoDB.Table,
		Loader:   src,
		Replacer: replace.New(store, cfg.DynamoDB.KeyAttribute, logger.Get("replacer")),
		Recorder: recorder,
		Timeout:  time.Duration(cfg.Scheduler.RunTimeoutSeconds) * time.Second,
		Logger:   logger.Get("runner"),
	})

	return a, nil
}

func (a *app) close() {
	if err := a.source.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close source")
	}
	if a.runlog != nil {
		if err := a.runlog.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close run log")
		}
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	table := fs.String("table", "", "DynamoDB table to replace (overrides dynamodb.table)")
	path := fs.String("path", "", "Dataset object path (overrides source.path)")
	asJSON := fs.Bool("json", false, "Print the run summary as JSON on stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*table, *path)
	if err != nil {
		return err
	}
	log.Info().Str("version", Version).Str("table", cfg.DynamoDB.Table).Msg("Starting dynaload run")

	ctx := context.Background()
	if cfg.Scheduler.RunTimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Scheduler.RunTimeoutSeconds)*time.Second)
		defer cancel()
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	run, runErr := a.runner.Run(ctx, job.TriggerManual)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(run); err != nil {
			return err
		}
	} else if runErr != nil {
		printSummary(os.Stderr, run, runErr)
	} else {
		printSummary(os.Stdout, run, nil)
	}

	return runErr
}

func serveCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	table := fs.String("table", "", "DynamoDB table to replace (overrides dynamodb.table)")
	path := fs.String("path", "", "Dataset object path (overrides source.path)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*table, *path)
	if err != nil {
		return err
	}
	if !cfg.Scheduler.Enabled && !cfg.Server.Enabled {
		return fmt.Errorf("serve needs scheduler.enabled or server.enabled")
	}
	log.Info().Str("version", Version).Str("table", cfg.DynamoDB.Table).Msg("Starting dynaload server")

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := newApp(startCtx, cfg)
	cancel()
	if err != nil {
		return err
	}

	coordinator := shutdown.New(30*time.Second, logger.Get("shutdown"))
	coordinator.Register("source", a.source, shutdown.PrioritySource)
	if a.runlog != nil {
		coordinator.Register("runlog", a.runlog, shutdown.PriorityRunLog)
	}

	var sched api.SchedulerStatus
	if cfg.Scheduler.Enabled {
		s, err := scheduler.NewReplaceScheduler(&scheduler.ReplaceSchedulerConfig{
			Run:        a.runner.Run,
			Schedule:   cfg.Scheduler.Schedule,
			RunTimeout: time.Duration(cfg.Scheduler.RunTimeoutSeconds) * time.Second,
			Logger:     logger.Get("scheduler"),
		})
		if err != nil {
			a.close()
			return fmt.Errorf("failed to create scheduler: %w", err)
		}
		if err := s.Start(); err != nil {
			a.close()
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		coordinator.RegisterHook("scheduler", s.Close, shutdown.PriorityScheduler)
		sched = s
	}

	if cfg.Server.Enabled {
		server := api.NewServer(&api.ServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
			IdleTimeout:  120 * time.Second,
			Ready: func(ctx context.Context) error {
				return a.store.CheckKey(ctx, cfg.DynamoDB.Table, cfg.DynamoDB.KeyAttribute)
			},
		}, logger.Get("api"))

		var history api.RunHistory
		if a.runlog != nil {
			history = a.runlog
		}
		api.NewRunsHandler(a.runner, history, sched, time.Duration(cfg.Scheduler.RunTimeoutSeconds)*time.Second, logger.Get("api")).
			RegisterRoutes(server.GetApp())

		if err := server.Start(); err != nil {
			coordinator.Shutdown()
			return err
		}
		coordinator.RegisterHook("http-server", server.Shutdown, shutdown.PriorityHTTPServer)
	}

	sig := coordinator.WaitForSignal()
	log.Info().Str("signal", sig.String()).Msg("Initiating graceful shutdown...")

	return coordinator.Shutdown()
}
