package deferredtax

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/memstore"
	"github.com/odyssey-erp/konzern/internal/shared"
)

type stubAudit struct {
	logs []shared.AuditLog
}

func (s *stubAudit) Record(_ context.Context, log shared.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

func seedEntry(t *testing.T, store *memstore.Store, statementID uuid.UUID, typ consol.AdjustmentType, status consol.EntryStatus, amount int64) consol.ConsolidationEntry {
	t.Helper()
	entry, err := store.InsertConsolidationEntry(context.Background(), consol.ConsolidationEntry{
		FinancialStatementID: statementID,
		AdjustmentType:       typ,
		Amount:               decimal.NewFromInt(amount),
		Description:          "Kapitalkonsolidierung Beta GmbH",
		Status:               status,
		Source:               consol.SourceAutomatic,
		AffectedCompanyIDs:   []uuid.UUID{uuid.New()},
	})
	require.NoError(t, err)
	return entry
}

func TestCalculateCapitalConsolidationScenario(t *testing.T) {
	store := memstore.New()
	statementID := uuid.New()
	origin := seedEntry(t, store, statementID, consol.AdjustmentCapitalConsolidation, consol.EntryApproved, -50000)

	rate := decimal.NewFromInt(30)
	res, err := NewCalculator(store, nil, nil, nil, Config{}).Calculate(context.Background(), statementID, &rate)
	require.NoError(t, err)
	require.Len(t, res.DeferredTaxes, 1)

	row := res.DeferredTaxes[0]
	require.True(t, row.DeferredTaxAmount.Equal(decimal.NewFromInt(15000)))
	require.True(t, row.TemporaryDifferenceAmount.Equal(decimal.NewFromInt(50000)))
	require.Equal(t, consol.DifferenceDeductible, row.DifferenceType)
	require.Equal(t, consol.TaxSourceCapitalConsolidation, row.Source)
	require.Equal(t, origin.ID, *row.OriginatingEntryID)
	require.Equal(t, origin.AffectedCompanyIDs[0], *row.CompanyID)
	require.NotNil(t, row.DeferredTaxEntryID)

	generated, err := store.GetConsolidationEntry(context.Background(), *row.DeferredTaxEntryID)
	require.NoError(t, err)
	require.Equal(t, consol.AdjustmentDeferredTax, generated.AdjustmentType)
	require.Equal(t, consol.Hgb306, *generated.HgbReference)
	require.Equal(t, consol.EntryApproved, generated.Status)
	require.True(t, generated.Amount.Equal(decimal.NewFromInt(15000)))
	require.Contains(t, generated.Description, "Aktiv")

	require.True(t, res.Summary.TotalAssets.Equal(decimal.NewFromInt(15000)))
	require.True(t, res.Summary.Net.Equal(decimal.NewFromInt(15000)))
}

func TestCalculateIsIdempotent(t *testing.T) {
	store := memstore.New()
	statementID := uuid.New()
	seedEntry(t, store, statementID, consol.AdjustmentCapitalConsolidation, consol.EntryApproved, -50000)
	calc := NewCalculator(store, nil, nil, nil, Config{})

	first, err := calc.Calculate(context.Background(), statementID, nil)
	require.NoError(t, err)
	second, err := calc.Calculate(context.Background(), statementID, nil)
	require.NoError(t, err)

	require.Len(t, second.DeferredTaxes, 1)
	require.Equal(t, first.DeferredTaxes[0].ID, second.DeferredTaxes[0].ID)
	require.True(t, second.DeferredTaxes[0].ChangeAmount.IsZero())
	require.True(t, second.DeferredTaxes[0].PriorYearAmount.Equal(decimal.NewFromInt(15000)))
	require.Equal(t, *first.DeferredTaxes[0].DeferredTaxEntryID, *second.DeferredTaxes[0].DeferredTaxEntryID)
	require.Empty(t, second.Entries)

	rows, err := store.ListDeferredTaxes(context.Background(), statementID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	entries, err := store.ListConsolidationEntries(context.Background(), consol.EntryFilter{
		FinancialStatementID: statementID,
		AdjustmentTypes:      []consol.AdjustmentType{consol.AdjustmentDeferredTax},
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestCalculateUpdatesInPlaceOnRateChange(t *testing.T) {
	store := memstore.New()
	statementID := uuid.New()
	seedEntry(t, store, statementID, consol.AdjustmentDebtConsolidation, consol.EntryApproved, 10000)
	calc := NewCalculator(store, nil, nil, nil, Config{})

	_, err := calc.Calculate(context.Background(), statementID, nil)
	require.NoError(t, err)
	rate := decimal.NewFromInt(25)
	res, err := calc.Calculate(context.Background(), statementID, &rate)
	require.NoError(t, err)

	row := res.DeferredTaxes[0]
	require.Equal(t, consol.DifferenceTaxable, row.DifferenceType)
	require.True(t, row.DeferredTaxAmount.Equal(decimal.NewFromInt(2500)))
	require.True(t, row.PriorYearAmount.Equal(decimal.NewFromInt(3000)))
	require.True(t, row.ChangeAmount.Equal(decimal.NewFromInt(-500)))
	require.True(t, res.Summary.TotalLiabilities.Equal(decimal.NewFromInt(2500)))
	require.True(t, res.Summary.Net.Equal(decimal.NewFromInt(-2500)))
}

func TestCalculateSkipsNonQualifyingEntries(t *testing.T) {
	store := memstore.New()
	statementID := uuid.New()
	seedEntry(t, store, statementID, consol.AdjustmentDebtConsolidation, consol.EntryPending, -1000)
	seedEntry(t, store, statementID, consol.AdjustmentOther, consol.EntryApproved, -1000)
	seedEntry(t, store, statementID, consol.AdjustmentMinorityInterest, consol.EntryApproved, 2000)
	seedEntry(t, store, uuid.New(), consol.AdjustmentDebtConsolidation, consol.EntryApproved, -1000)

	res, err := NewCalculator(store, nil, nil, nil, Config{}).Calculate(context.Background(), statementID, nil)
	require.NoError(t, err)
	require.Empty(t, res.DeferredTaxes)
	require.Empty(t, res.Entries)
	require.Zero(t, res.Summary.Positions)
}

func TestCalculateRejectsInvalidRate(t *testing.T) {
	calc := NewCalculator(memstore.New(), nil, nil, nil, Config{})
	for _, v := range []string{"0", "-5", "100.5"} {
		rate := decimal.RequireFromString(v)
		_, err := calc.Calculate(context.Background(), uuid.New(), &rate)
		require.ErrorIs(t, err, consol.ErrValidation, "rate %s", v)
	}
}

func TestDeleteCascadesToGeneratedEntry(t *testing.T) {
	store := memstore.New()
	statementID := uuid.New()
	origin := seedEntry(t, store, statementID, consol.AdjustmentIntercompanyProfit, consol.EntryApproved, -800)
	audit := &stubAudit{}
	calc := NewCalculator(store, nil, audit, nil, Config{})

	res, err := calc.Calculate(context.Background(), statementID, nil)
	require.NoError(t, err)
	row := res.DeferredTaxes[0]

	require.NoError(t, calc.Delete(context.Background(), row.ID))
	_, err = store.GetConsolidationEntry(context.Background(), *row.DeferredTaxEntryID)
	require.ErrorIs(t, err, consol.ErrNotFound)
	_, err = store.GetConsolidationEntry(context.Background(), origin.ID)
	require.NoError(t, err)
	rows, err := calc.List(context.Background(), statementID)
	require.NoError(t, err)
	require.Empty(t, rows)

	require.Len(t, audit.logs, 2)
	require.Equal(t, AuditDeleteAction, audit.logs[1].Action)
	require.ErrorIs(t, calc.Delete(context.Background(), row.ID), consol.ErrNotFound)
}

func TestSummarizeBySource(t *testing.T) {
	rows := []consol.DeferredTax{
		{Source: consol.TaxSourceIntercompanyProfit, DifferenceType: consol.DifferenceDeductible, DeferredTaxAmount: decimal.NewFromInt(300), ChangeAmount: decimal.NewFromInt(300), Status: consol.DeferredTaxActive},
		{Source: consol.TaxSourceIntercompanyProfit, DifferenceType: consol.DifferenceTaxable, DeferredTaxAmount: decimal.NewFromInt(100), ChangeAmount: decimal.NewFromInt(-50), Status: consol.DeferredTaxActive},
		{Source: consol.TaxSourceDebtConsolidation, DifferenceType: consol.DifferenceTaxable, DeferredTaxAmount: decimal.NewFromInt(900), ChangeAmount: decimal.Zero, Status: consol.DeferredTaxReversed},
	}
	s := Summarize(rows)
	require.Equal(t, 2, s.Positions)
	require.True(t, s.TotalAssets.Equal(decimal.NewFromInt(300)))
	require.True(t, s.TotalLiabilities.Equal(decimal.NewFromInt(100)))
	require.True(t, s.Net.Equal(decimal.NewFromInt(200)))
	require.True(t, s.ChangeFromPriorYear.Equal(decimal.NewFromInt(250)))
	require.Len(t, s.BySource, 1)
	require.True(t, s.BySource[consol.TaxSourceIntercompanyProfit].Liabilities.Equal(decimal.NewFromInt(100)))
}
