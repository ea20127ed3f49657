package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/orchestrator"
	jobmetrics "github.com/odyssey-erp/konzern/internal/jobs"
)

// ConsolidationRunner executes one consolidation run.
type ConsolidationRunner interface {
	Run(ctx context.Context, statementID uuid.UUID, opts orchestrator.RunOptions) (orchestrator.RunResult, error)
}

// ConsolRunJob handles TaskConsolRun.
type ConsolRunJob struct {
	Service ConsolidationRunner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewConsolRunJob constructs the job handler.
func NewConsolRunJob(service ConsolidationRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) *ConsolRunJob {
	return &ConsolRunJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle runs the consolidation of the statement named in the payload.
// Errors that a retry cannot fix are marked with asynq.SkipRetry; a held
// statement lock is retried.
func (j *ConsolRunJob) Handle(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Service == nil {
		return errors.New("consol run: dependencies not configured")
	}
	var payload ConsolRunPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	statementID, err := uuid.Parse(payload.StatementID)
	if err != nil {
		return asynq.SkipRetry
	}
	opts := orchestrator.RunOptions{Actor: payload.Actor}
	if payload.TaxRate != "" {
		rate, err := decimal.NewFromString(payload.TaxRate)
		if err != nil {
			return asynq.SkipRetry
		}
		opts.TaxRate = &rate
	}

	tracker := j.metrics().Track(TaskConsolRun)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	res, err := j.Service.Run(ctx, statementID, opts)
	recordRun(j.metrics(), TaskConsolRun, res)
	if err != nil {
		if errors.Is(err, consol.ErrInvalidTransition) {
			j.log().Info("statement not eligible for consolidation", slog.String("statement_id", statementID.String()), slog.Any("reason", err))
			return nil
		}
		j.log().Error("consolidation run", slog.String("statement_id", statementID.String()), slog.Any("error", err))
		return classifyRunError(err)
	}
	j.log().Info("consolidated statement",
		slog.String("statement_id", statementID.String()),
		slog.Int("entries", res.Summary.TotalEntries),
		slog.Int("missing_info", len(res.MissingInfo)),
		slog.Duration("duration", res.FinishedAt.Sub(res.StartedAt)))
	return nil
}

// classifyRunError keeps lock conflicts and infrastructure failures
// retryable and stops retries for data problems.
func classifyRunError(err error) error {
	switch {
	case errors.Is(err, consol.ErrNotFound),
		errors.Is(err, consol.ErrInvalidScope),
		errors.Is(err, consol.ErrValidation):
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		return err
	}
}

func recordRun(m *jobmetrics.Metrics, job string, res orchestrator.RunResult) {
	counts := make(map[consol.AdjustmentType]int)
	for _, entry := range res.Entries {
		counts[entry.AdjustmentType]++
	}
	for typ, n := range counts {
		m.AddEntries(string(typ), n)
	}
	m.AddMissingInfo(job, len(res.MissingInfo))
}

func (j *ConsolRunJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ConsolRunJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskConsolRun))
	}
	return slog.Default().With(slog.String("job", TaskConsolRun))
}
