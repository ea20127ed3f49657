package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/orchestrator"
	jobmetrics "github.com/odyssey-erp/konzern/internal/jobs"
)

type stubRunner struct {
	mu    sync.Mutex
	calls []uuid.UUID
	opts  []orchestrator.RunOptions
	errs  map[uuid.UUID]error
	res   orchestrator.RunResult
}

func (s *stubRunner) Run(_ context.Context, id uuid.UUID, opts orchestrator.RunOptions) (orchestrator.RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, id)
	s.opts = append(s.opts, opts)
	if err := s.errs[id]; err != nil {
		return orchestrator.RunResult{StatementID: id}, err
	}
	res := s.res
	res.StatementID = id
	return res, nil
}

func testMetrics(t *testing.T) (*jobmetrics.Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return jobmetrics.NewMetrics(reg), reg
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue next
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func runTask(t *testing.T, payload ConsolRunPayload) *asynq.Task {
	t.Helper()
	task, err := NewConsolRunTask(payload)
	require.NoError(t, err)
	return task
}

func TestNewConsolRunTask(t *testing.T) {
	id := uuid.New()
	task, err := NewConsolRunTask(ConsolRunPayload{StatementID: " " + id.String() + " ", TaxRate: "30"})
	require.NoError(t, err)
	require.Equal(t, TaskConsolRun, task.Type())

	var payload ConsolRunPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, id.String(), payload.StatementID)
	require.Equal(t, "consol:run:"+id.String(), RunTaskID(id))

	_, err = NewConsolRunTask(ConsolRunPayload{StatementID: "nope"})
	require.Error(t, err)
}

func TestConsolRunJobRunsStatement(t *testing.T) {
	metrics, reg := testMetrics(t)
	runner := &stubRunner{res: orchestrator.RunResult{
		Entries: []consol.ConsolidationEntry{
			{AdjustmentType: consol.AdjustmentDebtConsolidation},
			{AdjustmentType: consol.AdjustmentDebtConsolidation},
		},
		MissingInfo: []string{"Beta GmbH: no participation"},
	}}
	job := NewConsolRunJob(runner, nil, metrics)
	id := uuid.New()

	err := job.Handle(context.Background(), runTask(t, ConsolRunPayload{StatementID: id.String(), TaxRate: "29.5", Actor: "ops"}))
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{id}, runner.calls)
	require.Equal(t, "ops", runner.opts[0].Actor)
	require.True(t, runner.opts[0].TaxRate.Equal(decimal.RequireFromString("29.5")))

	require.Equal(t, 1.0, counterValue(t, reg, "konzern_jobs_total", map[string]string{"job": TaskConsolRun, "status": "success"}))
	require.Equal(t, 2.0, counterValue(t, reg, "konzern_consolidation_entries_total", map[string]string{"adjustment_type": string(consol.AdjustmentDebtConsolidation)}))
	require.Equal(t, 1.0, counterValue(t, reg, "konzern_consolidation_missing_info_total", map[string]string{"job": TaskConsolRun}))
}

func TestConsolRunJobErrorClassification(t *testing.T) {
	id := uuid.New()
	cases := []struct {
		name      string
		err       error
		wantNil   bool
		skipRetry bool
	}{
		{name: "already consolidated", err: fmt.Errorf("statement: %w", consol.ErrInvalidTransition), wantNil: true},
		{name: "missing statement", err: fmt.Errorf("statement: %w", consol.ErrNotFound), skipRetry: true},
		{name: "empty scope", err: fmt.Errorf("scope: %w", consol.ErrInvalidScope), skipRetry: true},
		{name: "lock held", err: fmt.Errorf("lock: %w", consol.ErrConcurrencyConflict)},
		{name: "database down", err: errors.New("connection refused")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			metrics, reg := testMetrics(t)
			runner := &stubRunner{errs: map[uuid.UUID]error{id: tc.err}}
			err := NewConsolRunJob(runner, nil, metrics).Handle(context.Background(), runTask(t, ConsolRunPayload{StatementID: id.String()}))
			if tc.wantNil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.err)
			require.Equal(t, tc.skipRetry, errors.Is(err, asynq.SkipRetry))
			require.Equal(t, 1.0, counterValue(t, reg, "konzern_jobs_failures_total", map[string]string{"job": TaskConsolRun}))
		})
	}
}

func TestConsolRunJobRejectsBadPayload(t *testing.T) {
	runner := &stubRunner{}
	job := NewConsolRunJob(runner, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskConsolRun, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskConsolRun, []byte(`{"statement_id":"x"}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskConsolRun, []byte(fmt.Sprintf(`{"statement_id":%q,"tax_rate":"abc"}`, uuid.NewString()))))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, runner.calls)

	require.Error(t, (*ConsolRunJob)(nil).Handle(context.Background(), asynq.NewTask(TaskConsolRun, nil)))
}
