// Package elimination removes intercompany debt, profit and revenue from the
// group figures.
package elimination

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/ic"
)

// categoryRules maps matched pair categories to the entry they produce.
var categoryRules = map[ic.Category]struct {
	adjustment consol.AdjustmentType
	hgb        consol.HgbReference
	label      string
}{
	ic.CategoryTrade:    {consol.AdjustmentDebtConsolidation, consol.Hgb303, "Schuldenkonsolidierung"},
	ic.CategoryLoan:     {consol.AdjustmentDebtConsolidation, consol.Hgb303, "Schuldenkonsolidierung Darlehen"},
	ic.CategoryInterest: {consol.AdjustmentIncomeExpense, consol.Hgb305, "Aufwands- und Ertragskonsolidierung Zinsen"},
	ic.CategoryRevenue:  {consol.AdjustmentIncomeExpense, consol.Hgb305, "Eliminierung Zwischenumsatz"},
}

// Summary reports the entries of one elimination pass.
type Summary struct {
	Entries               []consol.ConsolidationEntry
	PairsEliminated       int
	DebtEliminated        decimal.Decimal
	ProfitEliminated      decimal.Decimal
	RevenueEliminated     decimal.Decimal
	UnmatchedTransactions int
	FailedInserts         int
	MissingInfo           []string
	Skipped               []error
}

// TotalEliminated sums every eliminated amount.
func (s Summary) TotalEliminated() decimal.Decimal {
	return s.DebtEliminated.Add(s.ProfitEliminated).Add(s.RevenueEliminated)
}

// Merge folds another summary into s.
func (s *Summary) Merge(other Summary) {
	s.Entries = append(s.Entries, other.Entries...)
	s.PairsEliminated += other.PairsEliminated
	s.DebtEliminated = s.DebtEliminated.Add(other.DebtEliminated)
	s.ProfitEliminated = s.ProfitEliminated.Add(other.ProfitEliminated)
	s.RevenueEliminated = s.RevenueEliminated.Add(other.RevenueEliminated)
	s.UnmatchedTransactions += other.UnmatchedTransactions
	s.FailedInserts += other.FailedInserts
	s.MissingInfo = append(s.MissingInfo, other.MissingInfo...)
	s.Skipped = append(s.Skipped, other.Skipped...)
}

func newSummary() Summary {
	return Summary{
		DebtEliminated:    decimal.Zero,
		ProfitEliminated:  decimal.Zero,
		RevenueEliminated: decimal.Zero,
	}
}
