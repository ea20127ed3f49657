package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/konzern/cmd/konzern/cli"
	"github.com/odyssey-erp/konzern/internal/app"
	"github.com/odyssey-erp/konzern/internal/consol/entries"
	consolhttp "github.com/odyssey-erp/konzern/internal/consol/http"
	"github.com/odyssey-erp/konzern/internal/consol/orchestrator"
	"github.com/odyssey-erp/konzern/internal/consol/pgstore"
	"github.com/odyssey-erp/konzern/internal/lineage"
	"github.com/odyssey-erp/konzern/internal/observability"
	"github.com/odyssey-erp/konzern/internal/platform/cache"
	"github.com/odyssey-erp/konzern/internal/platform/db"
	"github.com/odyssey-erp/konzern/internal/shared"
	"github.com/odyssey-erp/konzern/jobs"
)

const usage = `usage: konzern <command> [flags]

commands:
  serve      start the HTTP API (default)
  migrate    apply the database schema
  run        consolidate one statement in-process
  enqueue    queue a consolidation run for the worker
  refresh    queue a refresh of all finalized group statements
  queue      show queue statistics
  export     write the Prüfpfad of a statement to stdout
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		_, _ = fmt.Fprint(stdout, usage)
		return cli.ExitOK
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return cli.ExitError
	}
	logger := app.NewLogger(cfg)

	switch cmd {
	case "serve":
		return serve(ctx, cfg, logger)
	case "migrate":
		return migrate(ctx, cfg, logger, stderr)
	case "run", "export":
		return runLocal(ctx, cmd, args, cfg, logger, stdout, stderr)
	case "enqueue", "refresh", "queue":
		return runQueue(ctx, cmd, args, cfg, stdout, stderr)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return cli.ExitError
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func openStore(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*pgxpool.Pool, *pgstore.Store, error) {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return nil, nil, err
	}
	store := pgstore.New(pool, logger)
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate schema: %w", err)
		}
	}
	return pool, store, nil
}

// newOrchestrator wires the run pipeline. Without redis the statement lock
// only guards this process.
func newOrchestrator(cfg *app.Config, store *pgstore.Store, pool *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger) *orchestrator.Service {
	var locker orchestrator.Locker
	if redisClient != nil {
		locker = shared.NewRedisLocker(redisClient, cfg.LockTTL)
	}
	rate, _ := cfg.TaxRate()
	tolerance, _ := cfg.Tolerance()
	return orchestrator.NewService(store, locker, shared.NewAuditLogger(pool), logger, orchestrator.Config{
		Tolerance:       tolerance,
		TaxRate:         rate,
		UsefulLifeYears: cfg.UsefulLifeYears,
		StepTimeout:     cfg.StepTimeout,
	})
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	pool, store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store", slog.Any("error", err))
		return cli.ExitError
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, runs use in-process locks and queueing is disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	audit := shared.NewAuditLogger(pool)
	consolService := newOrchestrator(cfg, store, pool, redisClient, logger)
	entryService := entries.NewService(store, lineage.NewTracker(store, logger), audit, shared.NewApprovalRecorder(pool, logger), logger)

	handlerCfg := consolhttp.Config{
		Logger:      logger,
		Service:     consolService,
		Statements:  store,
		Entries:     entryService,
		Recorder:    lineage.NewRecorder(store, logger).WithCompanies(store),
		Pruefpfad:   lineage.NewPruefpfad(store, audit, logger),
		Idempotency: shared.NewIdempotencyStore(pool),
		Registerer:  metrics.Registerer(),
	}
	var jobHandler *jobs.Handler
	if redisClient != nil {
		jobsCLI := cli.NewJobsCLI(cache.AsynqOpt(redisClient))
		defer func() {
			if err := jobsCLI.Close(); err != nil {
				logger.Warn("jobs client close", slog.Any("error", err))
			}
		}()
		handlerCfg.Enqueuer = jobsCLI.Client()
		jobHandler = jobs.NewHandler(jobsCLI.Inspector(), logger)
	}
	consolHandler, err := consolhttp.NewHandler(handlerCfg)
	if err != nil {
		logger.Error("init consolidation handler", slog.Any("error", err))
		return cli.ExitError
	}

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		Metrics:       metrics,
		Pool:          pool,
		ConsolHandler: consolHandler,
		JobHandler:    jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			logger.Error("http server", slog.Any("error", err))
			return cli.ExitError
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return cli.ExitError
	}
	return cli.ExitOK
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger, stderr io.Writer) int {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "migrate: %v\n", err)
		return cli.ExitError
	}
	defer pool.Close()
	if err := pgstore.New(pool, logger).Migrate(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "migrate: %v\n", err)
		return cli.ExitError
	}
	logger.Info("schema applied")
	return cli.ExitOK
}

func runLocal(ctx context.Context, cmd string, args []string, cfg *app.Config, logger *slog.Logger, stdout, stderr io.Writer) int {
	fs := newFlagSet(cmd, stderr)
	statement := fs.String("statement", "", "financial statement id")
	jsonOut := fs.Bool("json", false, "print JSON")
	taxRate := fs.String("tax-rate", "", "deferred tax rate in percent (run)")
	actor := fs.String("actor", shared.SystemActor, "actor recorded in the audit log (run)")
	format := fs.String("format", "json", "json or csv (export)")
	if err := fs.Parse(args); err != nil {
		return cli.ExitError
	}

	pool, store, err := openStore(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return cli.ExitError
	}
	defer pool.Close()

	var redisClient *redis.Client
	if cmd == "run" {
		redisClient, err = cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, using in-process lock", slog.Any("error", err))
		} else {
			defer func() { _ = redisClient.Close() }()
		}
	}
	service := newOrchestrator(cfg, store, pool, redisClient, logger)
	ops := cli.NewConsolOpsCLI(cli.Deps{Runner: service, Exporter: service})
	out := cli.Output{JSONOutput: *jsonOut, Stdout: stdout, Stderr: stderr}

	if cmd == "export" {
		return ops.ExportCommand(ctx, cli.ExportOptions{Output: out, StatementID: *statement, Format: *format})
	}
	return ops.RunCommand(ctx, cli.RunOptions{Output: out, StatementID: *statement, TaxRate: *taxRate, Actor: *actor})
}

func runQueue(ctx context.Context, cmd string, args []string, cfg *app.Config, stdout, stderr io.Writer) int {
	fs := newFlagSet(cmd, stderr)
	statement := fs.String("statement", "", "financial statement id (enqueue)")
	taxRate := fs.String("tax-rate", "", "deferred tax rate in percent (enqueue)")
	actor := fs.String("actor", shared.SystemActor, "actor recorded in the audit log (enqueue)")
	year := fs.Int("year", 0, "fiscal year, 0 for all (refresh)")
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return cli.ExitError
	}

	opt, err := cache.Options(cfg.RedisAddr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return cli.ExitError
	}
	jobsCLI := cli.NewJobsCLI(asynq.RedisClientOpt{Addr: opt.Addr, Username: opt.Username, Password: opt.Password, DB: opt.DB})
	defer func() { _ = jobsCLI.Close() }()

	ops := cli.NewConsolOpsCLI(cli.Deps{Enqueuer: jobsCLI.Client(), Inspector: jobsCLI.Inspector()})
	out := cli.Output{JSONOutput: *jsonOut, Stdout: stdout, Stderr: stderr}
	switch cmd {
	case "enqueue":
		return ops.EnqueueCommand(ctx, cli.EnqueueOptions{Output: out, StatementID: *statement, TaxRate: *taxRate, Actor: *actor})
	case "refresh":
		return ops.RefreshCommand(ctx, cli.RefreshOptions{Output: out, FiscalYear: *year})
	default:
		return ops.QueueCommand(ctx, out)
	}
}
