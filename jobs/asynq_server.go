package jobs

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/platform/httpx"
)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler allows injecting custom Asynq handlers during worker setup.
type TaskHandler struct {
	Type    string
	Handler asynq.HandlerFunc
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Concurrency int
	Logger      *slog.Logger
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// Queue weights favour interactive runs over scheduled maintenance.
var queueWeights = map[string]int{QueueCritical: 6, QueueDefault: 3}

// NewWorker builds the broker server and, when cron entries are given, the
// scheduler. At least one handler must be registered.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	mux, err := buildMux(cfg.Handlers)
	if err != nil {
		return nil, err
	}
	scheduler, err := buildScheduler(cfg.RedisOpts, cfg.Cron)
	if err != nil {
		return nil, err
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: cmp.Or(max(cfg.Concurrency, 0), 5),
		Queues:      queueWeights,
		Logger:      asynqLogger{logger: cfg.Logger},
	})
	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: cfg.Logger}, nil
}

func buildMux(handlers []TaskHandler) (*asynq.ServeMux, error) {
	mux := asynq.NewServeMux()
	var registered int
	for _, h := range handlers {
		if h.Type != "" && h.Handler != nil {
			mux.HandleFunc(h.Type, h.Handler)
			registered++
		}
	}
	if registered == 0 {
		return nil, errors.New("worker: no task handlers configured")
	}
	return mux, nil
}

func buildScheduler(opts asynq.RedisClientOpt, entries []CronRegistration) (*asynq.Scheduler, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	scheduler := asynq.NewScheduler(opts, &asynq.SchedulerOpts{Location: time.UTC})
	for _, entry := range entries {
		if entry.Spec == "" || entry.Task == nil {
			continue
		}
		if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
			return nil, fmt.Errorf("worker: register %s: %w", entry.Task.Type(), err)
		}
	}
	return scheduler, nil
}

// Run processes tasks until ctx is cancelled or the server stops on its own.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return fmt.Errorf("worker: start scheduler: %w", err)
		}
		defer w.scheduler.Shutdown()
	}
	stopped := make(chan error, 1)
	go func() { stopped <- w.server.Run(w.mux) }()

	select {
	case err := <-stopped:
		return err
	case <-ctx.Done():
		w.server.Shutdown()
		return ctx.Err()
	}
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueRun queues the consolidation of one statement. A run already queued
// for the statement is reported as consol.ErrConcurrencyConflict.
func (c *Client) EnqueueRun(ctx context.Context, payload ConsolRunPayload) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs client not initialised")
	}
	task, err := NewConsolRunTask(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", consol.ErrValidation, err)
	}
	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return nil, fmt.Errorf("run of statement %s already queued: %w", payload.StatementID, consol.ErrConcurrencyConflict)
		}
		return nil, err
	}
	return info, nil
}

// EnqueueRefresh queues a refresh of all finalized statements.
func (c *Client) EnqueueRefresh(ctx context.Context, fiscalYear int) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs client not initialised")
	}
	task, err := NewConsolidateRefreshTask(fiscalYear)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", consol.ErrValidation, err)
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// QueueStats summarises the state of one queue.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// Inspector is the subset of *asynq.Inspector used for observability.
type Inspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector Inspector
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector Inspector, logger *slog.Logger) *Handler {
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Get("/runs/{statementID}", h.runStatus)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, []QueueStats{{Queue: QueueCritical}, {Queue: QueueDefault}})
		return
	}
	stats := make([]QueueStats, 0, 2)
	for _, queue := range []string{QueueCritical, QueueDefault} {
		s, err := QueueInfo(h.inspector, queue)
		if err != nil {
			h.log().Warn("jobs health", slog.String("queue", queue), slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
			return
		}
		stats = append(stats, s)
	}
	httpx.JSON(w, http.StatusOK, stats)
}

func (h *Handler) runStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "statementID"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid statement id", consol.ErrValidation))
		return
	}
	if h.inspector == nil {
		httpx.RespondError(w, fmt.Errorf("run of %s: %w", id, consol.ErrNotFound))
		return
	}
	info, err := h.inspector.GetTaskInfo(QueueCritical, RunTaskID(id))
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			httpx.RespondError(w, fmt.Errorf("run of %s: %w", id, consol.ErrNotFound))
			return
		}
		h.log().Warn("run status", slog.String("statement_id", id.String()), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"task_id":   info.ID,
		"state":     info.State.String(),
		"retried":   info.Retried,
		"last_err":  info.LastErr,
		"next_at":   info.NextProcessAt,
		"completed": info.CompletedAt,
	})
}

// QueueInfo converts the broker's queue info into QueueStats.
func QueueInfo(inspector Inspector, queue string) (QueueStats, error) {
	info, err := inspector.GetQueueInfo(queue)
	if err != nil {
		if errors.Is(err, asynq.ErrQueueNotFound) {
			return QueueStats{Queue: queue}, nil
		}
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: queue}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

func (h *Handler) log() *slog.Logger {
	if h != nil && h.logger != nil {
		return h.logger.With(slog.String("component", "jobs_http"))
	}
	return slog.Default().With(slog.String("component", "jobs_http"))
}

// asynqLogger routes broker logs through slog.
type asynqLogger struct {
	logger *slog.Logger
}

func (l asynqLogger) base() *slog.Logger {
	if l.logger != nil {
		return l.logger.With(slog.String("component", "asynq"))
	}
	return slog.Default().With(slog.String("component", "asynq"))
}

func (l asynqLogger) Debug(args ...interface{}) { l.base().Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.base().Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.base().Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.base().Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) {
	l.base().Error(fmt.Sprint(args...))
	os.Exit(1)
}
