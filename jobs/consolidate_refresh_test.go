package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/memstore"
	"github.com/odyssey-erp/konzern/internal/consol/orchestrator"
	"github.com/odyssey-erp/konzern/internal/shared"
)

type refreshFixture struct {
	store      *memstore.Store
	holdingA   consol.FinancialStatement
	holdingB   consol.FinancialStatement
	holdingOld consol.FinancialStatement
}

func newRefreshFixture() refreshFixture {
	store := memstore.New()
	a := store.AddCompany(consol.Company{Name: "Alpha Holding AG", IsConsolidated: true, IsUltimateParent: true})
	b := store.AddCompany(consol.Company{Name: "Beta Holding SE", IsConsolidated: true, IsUltimateParent: true})
	sub := store.AddCompany(consol.Company{Name: "Gamma GmbH", IsConsolidated: true, ParentID: &a.ID})

	f := refreshFixture{store: store}
	f.holdingA = store.AddStatement(consol.FinancialStatement{CompanyID: a.ID, FiscalYear: 2024})
	f.holdingB = store.AddStatement(consol.FinancialStatement{CompanyID: b.ID, FiscalYear: 2024})
	f.holdingOld = store.AddStatement(consol.FinancialStatement{CompanyID: a.ID, FiscalYear: 2023})
	store.AddStatement(consol.FinancialStatement{CompanyID: sub.ID, FiscalYear: 2024})
	store.AddStatement(consol.FinancialStatement{CompanyID: b.ID, FiscalYear: 2025, Status: consol.StatementDraft})
	return f
}

func TestRefreshRunsFinalizedParentStatements(t *testing.T) {
	f := newRefreshFixture()
	runner := &stubRunner{}
	job := NewConsolidateRefreshJob(runner, f.store, 2, nil, nil)

	summary, err := job.Refresh(context.Background(), 2024)
	require.NoError(t, err)
	require.Equal(t, RefreshSummary{Candidates: 2, Consolidated: 2}, summary)
	require.ElementsMatch(t, []uuid.UUID{f.holdingA.ID, f.holdingB.ID}, runner.calls)
	for _, opts := range runner.opts {
		require.Equal(t, shared.SystemActor, opts.Actor)
	}

	runner = &stubRunner{}
	summary, err = NewConsolidateRefreshJob(runner, f.store, 0, nil, nil).Refresh(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Candidates)
	require.Len(t, runner.calls, 3)
}

func TestRefreshSkipsAndCollectsFailures(t *testing.T) {
	f := newRefreshFixture()
	boom := errors.New("database down")
	runner := &stubRunner{errs: map[uuid.UUID]error{
		f.holdingA.ID:   fmt.Errorf("lock: %w", consol.ErrConcurrencyConflict),
		f.holdingB.ID:   boom,
		f.holdingOld.ID: fmt.Errorf("status: %w", consol.ErrInvalidTransition),
	}}
	job := NewConsolidateRefreshJob(runner, f.store, 3, nil, nil)

	summary, err := job.Refresh(context.Background(), 0)
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), f.holdingB.ID.String())
	require.Equal(t, RefreshSummary{Candidates: 3, Skipped: 2, Failed: 1}, summary)
}

func TestRefreshHandleDecodesPayload(t *testing.T) {
	f := newRefreshFixture()
	runner := &stubRunner{res: orchestrator.RunResult{Summary: orchestrator.Summary{TotalEntries: 4}}}
	metrics, reg := testMetrics(t)
	job := NewConsolidateRefreshJob(runner, f.store, 1, nil, metrics)

	task, err := NewConsolidateRefreshTask(2023)
	require.NoError(t, err)
	var payload ConsolidateRefreshPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, 2023, payload.FiscalYear)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []uuid.UUID{f.holdingOld.ID}, runner.calls)
	require.Equal(t, 1.0, counterValue(t, reg, "konzern_jobs_total", map[string]string{"job": TaskConsolidateRefresh, "status": "success"}))

	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskConsolidateRefresh, []byte("{"))), asynq.SkipRetry)

	_, err = NewConsolidateRefreshTask(-1)
	require.Error(t, err)
	require.Error(t, (&ConsolidateRefreshJob{}).Handle(context.Background(), task))
}
