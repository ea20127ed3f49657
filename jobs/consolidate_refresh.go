package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/orchestrator"
	jobmetrics "github.com/odyssey-erp/konzern/internal/jobs"
	"github.com/odyssey-erp/konzern/internal/shared"
)

// StatementSource lists candidate statements and their companies.
type StatementSource interface {
	consol.CompanyReader
	ListFinancialStatements(ctx context.Context, filter consol.StatementFilter) ([]consol.FinancialStatement, error)
}

// RefreshSummary reports the outcome of one refresh.
type RefreshSummary struct {
	Candidates   int
	Consolidated int
	Skipped      int
	Failed       int
	Entries      int
}

// ConsolidateRefreshJob consolidates every finalized statement of an
// ultimate parent.
type ConsolidateRefreshJob struct {
	Service     ConsolidationRunner
	Statements  StatementSource
	Concurrency int
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	clock       func() time.Time
}

// NewConsolidateRefreshJob constructs the job handler.
func NewConsolidateRefreshJob(service ConsolidationRunner, statements StatementSource, concurrency int, logger *slog.Logger, metrics *jobmetrics.Metrics) *ConsolidateRefreshJob {
	return &ConsolidateRefreshJob{
		Service:     service,
		Statements:  statements,
		Concurrency: concurrency,
		Logger:      logger,
		Metrics:     metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the consolidate refresh job.
func (j *ConsolidateRefreshJob) Handle(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil || j.Statements == nil {
		return errors.New("consolidate refresh: dependencies not configured")
	}
	var payload ConsolidateRefreshPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskConsolidateRefresh)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	summary, err := j.Refresh(ctx, payload.FiscalYear)
	if err != nil {
		return err
	}
	if summary.Candidates == 0 {
		j.log().Info("no finalized statements to consolidate", slog.Int("fiscal_year", payload.FiscalYear))
	}
	return nil
}

// Refresh runs every eligible statement with bounded concurrency. One
// failing statement does not stop the others; failures are joined into the
// returned error.
func (j *ConsolidateRefreshJob) Refresh(ctx context.Context, fiscalYear int) (RefreshSummary, error) {
	statements, err := j.candidates(ctx, fiscalYear)
	if err != nil {
		j.log().Error("list statements", slog.Int("fiscal_year", fiscalYear), slog.Any("error", err))
		return RefreshSummary{}, err
	}
	summary := RefreshSummary{Candidates: len(statements)}
	if len(statements) == 0 {
		return summary, nil
	}

	start := j.now()
	var (
		mu       sync.Mutex
		failures []error
		g        errgroup.Group
	)
	g.SetLimit(j.limit())
	for _, stmt := range statements {
		id := stmt.ID
		g.Go(func() error {
			res, err := j.Service.Run(ctx, id, orchestrator.RunOptions{Actor: shared.SystemActor})
			recordRun(j.metrics(), TaskConsolidateRefresh, res)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				summary.Consolidated++
				summary.Entries += res.Summary.TotalEntries
			case errors.Is(err, consol.ErrConcurrencyConflict), errors.Is(err, consol.ErrInvalidTransition):
				summary.Skipped++
				j.log().Info("statement skipped", slog.String("statement_id", id.String()), slog.Any("reason", err))
			default:
				summary.Failed++
				failures = append(failures, fmt.Errorf("statement %s: %w", id, err))
				j.log().Error("consolidate statement", slog.String("statement_id", id.String()), slog.Any("error", err))
			}
			return nil
		})
	}
	_ = g.Wait()

	j.log().Info("consolidation refresh finished",
		slog.Int("candidates", summary.Candidates),
		slog.Int("consolidated", summary.Consolidated),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.Duration("duration", j.now().Sub(start)))
	return summary, errors.Join(failures...)
}

// candidates returns finalized statements whose company is an ultimate
// parent, ordered as the store lists them.
func (j *ConsolidateRefreshJob) candidates(ctx context.Context, fiscalYear int) ([]consol.FinancialStatement, error) {
	statements, err := j.Statements.ListFinancialStatements(ctx, consol.StatementFilter{
		FiscalYear: fiscalYear,
		Status:     consol.StatementFinalized,
	})
	if err != nil {
		return nil, err
	}
	parents := make(map[uuid.UUID]bool)
	out := make([]consol.FinancialStatement, 0, len(statements))
	for _, stmt := range statements {
		isParent, seen := parents[stmt.CompanyID]
		if !seen {
			company, err := j.Statements.GetCompany(ctx, stmt.CompanyID)
			if err != nil {
				if errors.Is(err, consol.ErrNotFound) {
					parents[stmt.CompanyID] = false
					continue
				}
				return nil, err
			}
			isParent = company.IsUltimateParent
			parents[stmt.CompanyID] = isParent
		}
		if isParent {
			out = append(out, stmt)
		}
	}
	return out, nil
}

func (j *ConsolidateRefreshJob) limit() int {
	if j.Concurrency > 0 {
		return j.Concurrency
	}
	return 1
}

func (j *ConsolidateRefreshJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ConsolidateRefreshJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskConsolidateRefresh))
	}
	return slog.Default().With(slog.String("job", TaskConsolidateRefresh))
}

func (j *ConsolidateRefreshJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *ConsolidateRefreshJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
