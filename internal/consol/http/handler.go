package http

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/entries"
	"github.com/odyssey-erp/konzern/internal/consol/orchestrator"
	"github.com/odyssey-erp/konzern/internal/lineage"
	"github.com/odyssey-erp/konzern/internal/platform/httpx"
	"github.com/odyssey-erp/konzern/internal/shared"
	"github.com/odyssey-erp/konzern/jobs"
)

// IdempotencyHeader lets clients retry a run without consolidating twice.
const IdempotencyHeader = "Idempotency-Key"

const idempotencyModule = "consol.run"

// RunEnqueuer queues consolidation runs for the worker.
type RunEnqueuer interface {
	EnqueueRun(ctx context.Context, payload jobs.ConsolRunPayload) (*asynq.TaskInfo, error)
}

// IdempotencyGuard claims request keys. shared.IdempotencyStore satisfies it.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Config carries the dependencies of the consolidation API. Enqueuer and
// Idempotency are optional.
type Config struct {
	Logger      *slog.Logger
	Service     *orchestrator.Service
	Statements  consol.StatementStore
	Entries     *entries.Service
	Recorder    *lineage.Recorder
	Pruefpfad   *lineage.Pruefpfad
	Enqueuer    RunEnqueuer
	Idempotency IdempotencyGuard
	// HeavyRate limits runs and exports per actor and minute.
	HeavyRate int
	CacheTTL  time.Duration
	// Registerer receives the view cache metrics. Nil disables them.
	Registerer prometheus.Registerer
}

// Handler wires the consolidation endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *orchestrator.Service
	statements  consol.StatementStore
	entries     *entries.Service
	recorder    *lineage.Recorder
	pruefpfad   *lineage.Pruefpfad
	enqueuer    RunEnqueuer
	idempotency IdempotencyGuard
	views       *viewCache
	rateLimit   func(http.Handler) http.Handler
}

// NewHandler constructs the consolidation handler.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Service == nil || cfg.Statements == nil || cfg.Entries == nil {
		return nil, fmt.Errorf("consol handler: orchestrator, statements and entries required")
	}
	if cfg.Recorder == nil || cfg.Pruefpfad == nil {
		return nil, fmt.Errorf("consol handler: lineage recorder and pruefpfad required")
	}
	viewMetrics, err := newViewMetrics(cfg.Registerer)
	if err != nil {
		return nil, fmt.Errorf("consol handler: view cache metrics: %w", err)
	}
	rate := cfg.HeavyRate
	if rate <= 0 {
		rate = 10
	}
	limiter := httprate.Limit(rate, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		if actor := shared.ActorFromContext(r.Context()); actor != "" {
			return "actor:" + actor, nil
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return "ip:" + r.RemoteAddr, nil
		}
		return "ip:" + host, nil
	}))
	return &Handler{
		logger:      cfg.Logger,
		service:     cfg.Service,
		statements:  cfg.Statements,
		entries:     cfg.Entries,
		recorder:    cfg.Recorder,
		pruefpfad:   cfg.Pruefpfad,
		enqueuer:    cfg.Enqueuer,
		idempotency: cfg.Idempotency,
		views:       newViewCache(cfg.CacheTTL, viewMetrics),
		rateLimit:   limiter,
	}, nil
}

// MountRoutes registers the consolidation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/companies/{companyID}/scope", h.handleScope)

	r.Route("/statements/{statementID}", func(r chi.Router) {
		r.Get("/", h.handleGetStatement)
		r.Patch("/status", h.handleSetStatus)
		r.Get("/match", h.handleMatch)
		r.Post("/enqueue", h.handleEnqueue)
		r.Get("/entries", h.handleListEntries)
		r.Post("/deferred-taxes", h.handleCalculateDeferredTax)
		r.Get("/deferred-taxes", h.handleListDeferredTaxes)
		r.Get("/deferred-taxes/summary", h.handleDeferredTaxSummary)
		r.Get("/lineage", h.handleGraph)
		r.Get("/lineage/nodes", h.handleListNodes)
		r.Get("/documentation", h.handleListDocumentation)
		r.Get("/documentation/stats", h.handleDocumentationStats)
		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Post("/run", h.handleRun)
			r.Get("/audit-trail", h.handleAuditTrail)
		})
	})

	r.Delete("/deferred-taxes/{deferredTaxID}", h.handleDeleteDeferredTax)

	r.Post("/entries", h.handleCreateEntry)
	r.Route("/entries/{entryID}", func(r chi.Router) {
		r.Put("/", h.handleUpdateEntry)
		r.Delete("/", h.handleDeleteEntry)
		r.Get("/approvals", h.handleEntryApprovals)
		r.Post("/submit", h.handleSubmitEntry)
		r.Post("/approve", h.handleApproveEntry)
		r.Post("/reject", h.handleRejectEntry)
		r.Post("/reopen", h.handleReopenEntry)
		r.Post("/reverse", h.handleReverseEntry)
	})

	r.Route("/lineage", func(r chi.Router) {
		r.Get("/nodes/{nodeID}", h.handleGetNode)
		r.Get("/nodes/{nodeID}/upstream", h.handleUpstream)
		r.Get("/nodes/{nodeID}/downstream", h.handleDownstream)
		r.Post("/nodes/{nodeID}/audited", h.handleMarkAudited)
		r.Post("/traces/{traceID}/reverse", h.handleReverseTrace)
	})

	r.Post("/documentation", h.handleCreateDocumentation)
	r.Route("/documentation/{docID}", func(r chi.Router) {
		r.Get("/", h.handleGetDocumentation)
		r.Put("/", h.handleUpdateDocumentation)
		r.Post("/review", h.handleReviewDocumentation)
		r.Post("/verify", h.handleVerifyDocumentation)
		r.Post("/flag", h.handleFlagDocumentation)
	})
}

// fail writes the problem response of err. Server-side failures are logged
// with the request id.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := httpx.Classify(err)
	if status >= http.StatusInternalServerError {
		h.log().Error("consol request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err))
	}
	httpx.RespondErrorAt(w, r, err)
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s %q", consol.ErrValidation, name, raw)
	}
	return id, nil
}

func uuidQuery(r *http.Request, name string) (*uuid.UUID, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s %q", consol.ErrValidation, name, raw)
	}
	return &id, nil
}

func boolQuery(r *http.Request, name string) (*bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s %q", consol.ErrValidation, name, raw)
	}
	return &v, nil
}

func intQuery(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", consol.ErrValidation, name, raw)
	}
	return v, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// decodeOptional decodes a JSON body when one was sent.
func decodeOptional(r *http.Request, target any) error {
	if r.Body == nil || r.Body == http.NoBody || r.ContentLength == 0 {
		return nil
	}
	return httpx.DecodeJSON(r, target)
}

// actorOf prefers the authenticated actor of the request over the one
// named in the body.
func actorOf(r *http.Request, fallback string) string {
	if actor := shared.ActorFromContext(r.Context()); actor != "" {
		return actor
	}
	return strings.TrimSpace(fallback)
}

func (h *Handler) log() *slog.Logger {
	if h != nil && h.logger != nil {
		return h.logger.With(slog.String("component", "consol_http"))
	}
	return slog.Default().With(slog.String("component", "consol_http"))
}
