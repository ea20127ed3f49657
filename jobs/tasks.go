package jobs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/konzern/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries runs requested by users.
	QueueCritical = "critical"

	// TaskConsolRun consolidates one financial statement.
	TaskConsolRun = "consol:run"
	// TaskConsolidateRefresh consolidates every finalized statement.
	TaskConsolidateRefresh = "consol:refresh"
	// TaskIdempotencyCleanup prunes expired Idempotency-Key records.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// ConsolRunPayload identifies the statement a run consolidates.
type ConsolRunPayload struct {
	StatementID string `json:"statement_id"`
	TaxRate     string `json:"tax_rate,omitempty"`
	Actor       string `json:"actor,omitempty"`
}

// NewConsolRunTask builds a run task. The task id is derived from the
// statement so a second enqueue while the first is pending is rejected by
// the broker with asynq.ErrTaskIDConflict.
func NewConsolRunTask(payload ConsolRunPayload) (*asynq.Task, error) {
	id, err := uuid.Parse(strings.TrimSpace(payload.StatementID))
	if err != nil {
		return nil, fmt.Errorf("consol run: invalid statement id %q", payload.StatementID)
	}
	payload.StatementID = id.String()
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConsolRun, body,
		asynq.Queue(QueueCritical),
		asynq.TaskID(RunTaskID(id)),
		asynq.MaxRetry(5),
	), nil
}

// RunTaskID is the broker task id of a statement's run.
func RunTaskID(statementID uuid.UUID) string {
	return TaskConsolRun + ":" + statementID.String()
}

// ConsolidateRefreshPayload configures the scope of the refresh job. A zero
// fiscal year covers every year.
type ConsolidateRefreshPayload struct {
	FiscalYear int `json:"fiscal_year,omitempty"`
}

// NewConsolidateRefreshTask creates an Asynq task for consolidating all
// finalized statements.
func NewConsolidateRefreshTask(fiscalYear int) (*asynq.Task, error) {
	if fiscalYear < 0 {
		return nil, fmt.Errorf("consolidate refresh: invalid fiscal year %d", fiscalYear)
	}
	body, err := json.Marshal(ConsolidateRefreshPayload{FiscalYear: fiscalYear})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConsolidateRefresh, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// NewIdempotencyCleanupTask creates the task that prunes stale request keys.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil, asynq.Queue(QueueDefault), asynq.MaxRetry(1))
}
