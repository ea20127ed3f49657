// Package capital eliminates investments against subsidiary equity and rolls
// forward associates and joint ventures.
package capital

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol"
)

// Repository is the read and write surface the consolidator needs.
type Repository interface {
	consol.CompanyReader
	consol.StatementStore
	consol.BalanceReader
	consol.TransactionReader
	consol.ParticipationReader
	consol.EquityMethodStore
	consol.GoodwillAmortizationStore
}

// Config tunes the consolidator.
type Config struct {
	// UsefulLifeYears is the goodwill amortisation period used when a
	// participation carries no override.
	UsefulLifeYears int
}

// Net income sources of the equity method.
const (
	NetIncomeFromIncomeStatement = "income_statement"
	NetIncomeFromBalances        = "account_balances"
)

// SubsidiaryResult is the capital consolidation of one fully consolidated subsidiary.
type SubsidiaryResult struct {
	CompanyID          uuid.UUID
	Name               string
	Percentage         decimal.Decimal
	AcquisitionCost    decimal.Decimal
	Equity             decimal.Decimal
	HiddenReserves     decimal.Decimal
	ProportionalEquity decimal.Decimal
	Goodwill           decimal.Decimal
	NegativeGoodwill   decimal.Decimal
	MinorityInterest   decimal.Decimal

	// Amortization is this year's goodwill write-down, the accumulated
	// figure includes it.
	Amortization            decimal.Decimal
	AccumulatedAmortization decimal.Decimal
}

// JointVentureResult is the quota consolidation of one joint venture.
type JointVentureResult struct {
	CompanyID    uuid.UUID
	Name         string
	Quota        decimal.Decimal
	Totals       map[consol.AccountType]decimal.Decimal
	Included     map[consol.AccountType]decimal.Decimal
	ICEliminated decimal.Decimal
}

// Result collects everything one capital consolidation pass produced.
type Result struct {
	Entries               []consol.ConsolidationEntry
	Subsidiaries          []SubsidiaryResult
	EquityMethod          []consol.EquityMethodResult
	JointVentures         []JointVentureResult
	TotalGoodwill         decimal.Decimal
	TotalNegativeGoodwill decimal.Decimal
	TotalMinorityInterest decimal.Decimal
	FailedInserts         int
	MissingInfo           []string
}

// Merge folds another result into r.
func (r *Result) Merge(other Result) {
	r.Entries = append(r.Entries, other.Entries...)
	r.Subsidiaries = append(r.Subsidiaries, other.Subsidiaries...)
	r.EquityMethod = append(r.EquityMethod, other.EquityMethod...)
	r.JointVentures = append(r.JointVentures, other.JointVentures...)
	r.TotalGoodwill = r.TotalGoodwill.Add(other.TotalGoodwill)
	r.TotalNegativeGoodwill = r.TotalNegativeGoodwill.Add(other.TotalNegativeGoodwill)
	r.TotalMinorityInterest = r.TotalMinorityInterest.Add(other.TotalMinorityInterest)
	r.FailedInserts += other.FailedInserts
	r.MissingInfo = append(r.MissingInfo, other.MissingInfo...)
}

func newResult() Result {
	return Result{
		TotalGoodwill:         decimal.Zero,
		TotalNegativeGoodwill: decimal.Zero,
		TotalMinorityInterest: decimal.Zero,
	}
}

var accountTypeLabels = map[consol.AccountType]string{
	consol.AccountAsset:     "Vermögensgegenstände",
	consol.AccountLiability: "Schulden",
	consol.AccountEquity:    "Eigenkapital",
	consol.AccountRevenue:   "Erträge",
	consol.AccountExpense:   "Aufwendungen",
}
