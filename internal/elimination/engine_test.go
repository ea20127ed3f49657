package elimination

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/ic"
	"github.com/odyssey-erp/konzern/internal/consol/memstore"
	"github.com/odyssey-erp/konzern/internal/consol/scope"
)

type fixture struct {
	store   *memstore.Store
	parent  consol.Company
	sub     consol.Company
	target  consol.FinancialStatement
	subStmt consol.FinancialStatement
	scope   scope.Scope
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memstore.New()
	parent := store.AddCompany(consol.Company{Name: "Holding AG", IsConsolidated: true})
	sub := store.AddCompany(consol.Company{Name: "Beta GmbH", IsConsolidated: true, ParentID: &parent.ID})
	f := fixture{
		store:   store,
		parent:  parent,
		sub:     sub,
		target:  store.AddStatement(consol.FinancialStatement{CompanyID: parent.ID, FiscalYear: 2024}),
		subStmt: store.AddStatement(consol.FinancialStatement{CompanyID: sub.ID, FiscalYear: 2024}),
	}
	sc, err := scope.NewResolver(store, nil).Resolve(context.Background(), parent.ID)
	require.NoError(t, err)
	f.scope = sc
	return f
}

func (f fixture) balance(stmt consol.FinancialStatement, number, name string, amount int64) consol.AccountBalance {
	return f.store.AddBalance(consol.AccountBalance{
		FinancialStatementID: stmt.ID,
		AccountNumber:        number,
		AccountName:          name,
		Balance:              decimal.NewFromInt(amount),
		IsIntercompany:       true,
	})
}

func (f fixture) match(t *testing.T) ic.Result {
	t.Helper()
	res, err := ic.NewMatcher(f.store, nil, nil, ic.MatcherConfig{}).Match(context.Background(), f.target, f.scope)
	require.NoError(t, err)
	return res
}

func TestEliminateDebtProducesOffsettingPair(t *testing.T) {
	f := newFixture(t)
	recv := f.balance(f.subStmt, "1200", "Forderungen gegen Holding AG", 10000)
	pay := f.balance(f.target, "2200", "Verbindlichkeiten gegenüber Beta GmbH", -10000)

	summary, err := NewEliminator(f.store, nil, nil).EliminateDebt(context.Background(), f.target, f.scope, f.match(t))
	require.NoError(t, err)

	require.Len(t, summary.Entries, 2)
	require.Equal(t, 0, summary.UnmatchedTransactions)
	require.Equal(t, 1, summary.PairsEliminated)

	byAccount := map[string]consol.ConsolidationEntry{}
	for _, e := range summary.Entries {
		byAccount[e.AccountID.String()] = e
		require.Equal(t, consol.AdjustmentDebtConsolidation, e.AdjustmentType)
		require.Equal(t, consol.Hgb303, *e.HgbReference)
		require.Equal(t, consol.EntryApproved, e.Status)
		require.Contains(t, e.Description, "Holding AG")
		require.Contains(t, e.Description, "Beta GmbH")
		require.Contains(t, e.Description, consol.FormatAmount(decimal.NewFromInt(10000)))
	}
	require.True(t, byAccount[recv.AccountID.String()].Amount.Equal(decimal.NewFromInt(-10000)))
	require.True(t, byAccount[pay.AccountID.String()].Amount.Equal(decimal.NewFromInt(10000)))
}

func TestEliminatedPairsSumToZero(t *testing.T) {
	f := newFixture(t)
	f.balance(f.subStmt, "1200", "Forderungen gegen Holding AG", 10000)
	f.balance(f.target, "2200", "Verbindlichkeiten gegenüber Beta GmbH", -9500)
	f.balance(f.subStmt, "1300", "Darlehensforderung Holding AG", 25000)
	f.balance(f.target, "2300", "Darlehensverbindlichkeit Beta GmbH", -25000)
	f.balance(f.subStmt, "8100", "Zinserträge Holding AG", -1250)
	f.balance(f.target, "7300", "Zinsaufwand Beta GmbH", 1250)

	summary, err := NewEliminator(f.store, nil, nil).EliminateDebt(context.Background(), f.target, f.scope, f.match(t))
	require.NoError(t, err)
	require.Len(t, summary.Entries, 6)

	for i := 0; i < len(summary.Entries); i += 2 {
		sum := summary.Entries[i].Amount.Add(summary.Entries[i+1].Amount)
		require.True(t, sum.Abs().LessThanOrEqual(consol.DefaultTolerance), "pair %d sums to %s", i/2, sum)
	}
	var interest int
	for _, e := range summary.Entries {
		if e.AdjustmentType == consol.AdjustmentIncomeExpense {
			interest++
			require.Equal(t, consol.Hgb305, *e.HgbReference)
		}
	}
	require.Equal(t, 2, interest)
	require.Equal(t, 1, summary.UnmatchedTransactions)
}

func TestEliminateDebtSkipsFailedInserts(t *testing.T) {
	f := newFixture(t)
	recv := f.balance(f.subStmt, "1200", "Forderungen gegen Holding AG", 10000)
	f.balance(f.target, "2200", "Verbindlichkeiten gegenüber Beta GmbH", -10000)
	f.balance(f.subStmt, "1300", "Darlehensforderung Holding AG", 5000)
	f.balance(f.target, "2300", "Darlehensverbindlichkeit Beta GmbH", -5000)
	f.store.FailEntryInserts(func(e consol.ConsolidationEntry) error {
		if e.AccountID != nil && *e.AccountID == recv.AccountID {
			return errors.New("insert failed")
		}
		return nil
	})

	summary, err := NewEliminator(f.store, nil, nil).EliminateDebt(context.Background(), f.target, f.scope, f.match(t))
	require.NoError(t, err)
	require.Len(t, summary.Entries, 3)
	require.Equal(t, 1, summary.FailedInserts)
	require.Equal(t, 1, summary.PairsEliminated)
	require.Len(t, summary.MissingInfo, 1)
}

func TestProfitToEliminate(t *testing.T) {
	cases := []struct {
		name      string
		price     int64
		cost      int64
		remaining int64
		want      string
		ok        bool
	}{
		{name: "partial inventory", price: 1000, cost: 800, remaining: 500, want: "100", ok: true},
		{name: "full inventory", price: 1200, cost: 900, remaining: 1200, want: "300", ok: true},
		{name: "loss-making sale", price: 1000, cost: 1100, remaining: 500, want: "0"},
		{name: "sold through", price: 1000, cost: 800, remaining: 0, want: "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok, err := ProfitToEliminate(decimal.NewFromInt(tc.price), decimal.NewFromInt(tc.cost), decimal.NewFromInt(tc.remaining))
			require.NoError(t, err)
			require.Equal(t, tc.ok, ok)
			require.True(t, got.Equal(decimal.RequireFromString(tc.want)), "got %s", got)
		})
	}

	_, ok, err := ProfitToEliminate(decimal.Zero, decimal.NewFromInt(1), decimal.NewFromInt(1))
	require.False(t, ok)
	require.ErrorIs(t, err, consol.ErrComputation)
}

func TestEliminateProfitReportsMissingData(t *testing.T) {
	f := newFixture(t)
	cost := decimal.NewFromInt(600)
	remaining := decimal.NewFromInt(400)
	deliveries := []consol.IntercompanyTransaction{
		{FromCompanyID: f.sub.ID, ToCompanyID: f.parent.ID, Amount: decimal.NewFromInt(1000), TransactionType: consol.TransactionDelivery, AcquisitionCost: &cost, RemainingInventory: &remaining},
		{FromCompanyID: f.sub.ID, ToCompanyID: f.parent.ID, Amount: decimal.NewFromInt(500), TransactionType: consol.TransactionDelivery},
		{FromCompanyID: f.sub.ID, ToCompanyID: f.parent.ID, Amount: decimal.NewFromInt(500), TransactionType: consol.TransactionDelivery, AcquisitionCost: &cost},
		{FromCompanyID: f.sub.ID, ToCompanyID: f.parent.ID, Amount: decimal.Zero, TransactionType: consol.TransactionDelivery, AcquisitionCost: &cost, RemainingInventory: &remaining},
	}

	summary, err := NewEliminator(f.store, nil, nil).EliminateProfit(context.Background(), f.target, f.scope, deliveries)
	require.NoError(t, err)
	require.Len(t, summary.Entries, 1)
	entry := summary.Entries[0]
	require.Equal(t, consol.AdjustmentIntercompanyProfit, entry.AdjustmentType)
	require.Equal(t, consol.Hgb304, *entry.HgbReference)
	require.True(t, entry.Amount.Equal(decimal.NewFromInt(-160)))
	require.True(t, summary.ProfitEliminated.Equal(decimal.NewFromInt(160)))
	require.Len(t, summary.MissingInfo, 2)
	require.Contains(t, summary.MissingInfo[0], "Anschaffungskosten")
	require.Contains(t, summary.MissingInfo[1], "Restbestand")
	require.Len(t, summary.Skipped, 1)
	require.ErrorIs(t, summary.Skipped[0], consol.ErrComputation)
}

func TestEliminateRevenuePairsDeliveries(t *testing.T) {
	f := newFixture(t)
	f.balance(f.subStmt, "8000", "Umsatzerlöse Holding AG", -30000)
	f.balance(f.target, "5400", "Wareneingang Beta GmbH", 30000)

	summary, err := NewEliminator(f.store, nil, nil).Run(context.Background(), f.target, f.scope, f.match(t))
	require.NoError(t, err)
	require.Len(t, summary.Entries, 2)
	require.True(t, summary.RevenueEliminated.Equal(decimal.NewFromInt(30000)))
	require.True(t, summary.Entries[0].Amount.Equal(decimal.NewFromInt(30000)))
	require.True(t, summary.Entries[1].Amount.Equal(decimal.NewFromInt(-30000)))
	for _, e := range summary.Entries {
		require.Equal(t, consol.AdjustmentIncomeExpense, e.AdjustmentType)
	}
	require.True(t, summary.TotalEliminated().Equal(decimal.NewFromInt(30000)))
}

func (f fixture) delivery(amount int64) consol.IntercompanyTransaction {
	return f.store.AddTransaction(consol.IntercompanyTransaction{
		FinancialStatementID: f.subStmt.ID,
		FromCompanyID:        f.sub.ID,
		ToCompanyID:          f.parent.ID,
		AccountID:            uuid.New(),
		AccountNumber:        "8000",
		AccountName:          "Umsatzerlöse Holding AG",
		Amount:               decimal.NewFromInt(amount),
		TransactionType:      consol.TransactionDelivery,
	})
}

func TestEliminateRevenueWithoutBuyerExpense(t *testing.T) {
	f := newFixture(t)
	tx := f.delivery(5000)

	summary, err := NewEliminator(f.store, nil, nil).EliminateRevenue(context.Background(), f.target, f.scope, f.match(t))
	require.NoError(t, err)
	require.Len(t, summary.Entries, 2)
	require.Equal(t, tx.AccountID, *summary.Entries[0].AccountID)
	require.True(t, summary.Entries[0].Amount.Equal(decimal.NewFromInt(5000)))
	require.Nil(t, summary.Entries[1].AccountID)
	require.True(t, summary.Entries[1].Amount.Equal(decimal.NewFromInt(-5000)))
	require.True(t, summary.RevenueEliminated.Equal(decimal.NewFromInt(5000)))
	require.Equal(t, 1, summary.PairsEliminated)
	require.Zero(t, summary.UnmatchedTransactions)
	require.Len(t, summary.MissingInfo, 1)
	require.Contains(t, summary.MissingInfo[0], "kein Aufwand")
}

func TestEliminateRevenueDeliveryAtFullAmount(t *testing.T) {
	f := newFixture(t)
	tx := f.delivery(5000)
	expense := f.balance(f.target, "5400", "Wareneingang Beta GmbH", 4800)

	summary, err := NewEliminator(f.store, nil, nil).Run(context.Background(), f.target, f.scope, f.match(t))
	require.NoError(t, err)

	var revenue []consol.ConsolidationEntry
	for _, e := range summary.Entries {
		if e.AdjustmentType == consol.AdjustmentIncomeExpense {
			revenue = append(revenue, e)
		}
	}
	require.Len(t, revenue, 2)
	require.Equal(t, tx.AccountID, *revenue[0].AccountID)
	require.True(t, revenue[0].Amount.Equal(decimal.NewFromInt(5000)))
	require.Equal(t, expense.AccountID, *revenue[1].AccountID)
	require.True(t, revenue[1].Amount.Equal(decimal.NewFromInt(-5000)))
	require.True(t, summary.RevenueEliminated.Equal(decimal.NewFromInt(5000)))
	require.Zero(t, summary.UnmatchedTransactions)

	var mismatch bool
	for _, m := range summary.MissingInfo {
		if strings.Contains(m, "weicht") {
			mismatch = true
		}
	}
	require.True(t, mismatch, "missing info: %v", summary.MissingInfo)
}

func TestEliminateRevenueBalancesAtFullRowAmounts(t *testing.T) {
	f := newFixture(t)
	rev := f.balance(f.subStmt, "8000", "Umsatzerlöse Holding AG", -30000)
	exp := f.balance(f.target, "5400", "Wareneingang Beta GmbH", 28000)

	summary, err := NewEliminator(f.store, nil, nil).EliminateRevenue(context.Background(), f.target, f.scope, f.match(t))
	require.NoError(t, err)
	require.Len(t, summary.Entries, 2)
	require.Equal(t, rev.AccountID, *summary.Entries[0].AccountID)
	require.True(t, summary.Entries[0].Amount.Equal(decimal.NewFromInt(30000)))
	require.Equal(t, exp.AccountID, *summary.Entries[1].AccountID)
	require.True(t, summary.Entries[1].Amount.Equal(decimal.NewFromInt(-28000)))
	require.True(t, summary.RevenueEliminated.Equal(decimal.NewFromInt(30000)))
	require.Zero(t, summary.UnmatchedTransactions)
	require.Len(t, summary.MissingInfo, 1)
	require.Contains(t, summary.MissingInfo[0], "weichen ab")
}
