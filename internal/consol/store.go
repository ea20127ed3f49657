package consol

import (
	"context"

	"github.com/google/uuid"
)

// CompanyReader resolves companies of the group hierarchy. GetCompany returns
// ErrNotFound for unknown ids; list calls return empty slices for no rows.
type CompanyReader interface {
	GetCompany(ctx context.Context, id uuid.UUID) (Company, error)
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]Company, error)
}

// StatementFilter narrows statement lookups.
type StatementFilter struct {
	CompanyIDs []uuid.UUID
	FiscalYear int
	Status     StatementStatus
}

// StatementStore reads and transitions financial statements.
type StatementStore interface {
	GetFinancialStatement(ctx context.Context, id uuid.UUID) (FinancialStatement, error)
	ListFinancialStatements(ctx context.Context, filter StatementFilter) ([]FinancialStatement, error)
	UpdateStatementStatus(ctx context.Context, id uuid.UUID, status StatementStatus) error
}

// BalanceFilter narrows account balance lookups of one statement.
type BalanceFilter struct {
	IntercompanyOnly bool
	AccountTypes     []AccountType
}

// BalanceReader exposes the immutable standalone source data.
type BalanceReader interface {
	ListAccountBalances(ctx context.Context, statementID uuid.UUID, filter BalanceFilter) ([]AccountBalance, error)
	ListIncomeStatementBalances(ctx context.Context, statementID uuid.UUID) ([]IncomeStatementBalance, error)
}

// TransactionFilter narrows intercompany transaction lookups.
type TransactionFilter struct {
	StatementIDs []uuid.UUID
	CompanyIDs   []uuid.UUID
	Types        []TransactionType
}

// TransactionReader lists raw intercompany transactions.
type TransactionReader interface {
	ListIntercompanyTransactions(ctx context.Context, filter TransactionFilter) ([]IntercompanyTransaction, error)
}

// ParticipationFilter narrows participation lookups.
type ParticipationFilter struct {
	ParentCompanyIDs     []uuid.UUID
	SubsidiaryCompanyIDs []uuid.UUID
	ActiveOnly           bool
}

// ParticipationReader lists ownership stakes.
type ParticipationReader interface {
	ListParticipations(ctx context.Context, filter ParticipationFilter) ([]Participation, error)
}

// EntryFilter narrows consolidation entry lookups.
type EntryFilter struct {
	FinancialStatementID uuid.UUID
	AdjustmentTypes      []AdjustmentType
	Statuses             []EntryStatus
	Source               EntrySource
}

// EntryWriter persists generated entries.
type EntryWriter interface {
	InsertConsolidationEntry(ctx context.Context, entry ConsolidationEntry) (ConsolidationEntry, error)
}

// EntryStore is the full persistence contract for consolidation entries.
type EntryStore interface {
	EntryWriter
	GetConsolidationEntry(ctx context.Context, id uuid.UUID) (ConsolidationEntry, error)
	ListConsolidationEntries(ctx context.Context, filter EntryFilter) ([]ConsolidationEntry, error)
	UpdateConsolidationEntry(ctx context.Context, entry ConsolidationEntry) (ConsolidationEntry, error)
	DeleteConsolidationEntry(ctx context.Context, id uuid.UUID) error
}

// DeferredTaxStore persists deferred tax positions. FindDeferredTaxByOrigin
// returns ErrNotFound when no position exists for the entry.
type DeferredTaxStore interface {
	GetDeferredTax(ctx context.Context, id uuid.UUID) (DeferredTax, error)
	FindDeferredTaxByOrigin(ctx context.Context, originatingEntryID uuid.UUID) (DeferredTax, error)
	ListDeferredTaxes(ctx context.Context, statementID uuid.UUID) ([]DeferredTax, error)
	UpsertDeferredTax(ctx context.Context, row DeferredTax) (DeferredTax, error)
	DeleteDeferredTax(ctx context.Context, id uuid.UUID) error
}

// EquityMethodStore persists equity-method roll-forwards.
type EquityMethodStore interface {
	LatestEquityMethodResult(ctx context.Context, participationID uuid.UUID, beforeFiscalYear int) (EquityMethodResult, error)
	SaveEquityMethodResult(ctx context.Context, result EquityMethodResult) (EquityMethodResult, error)
}

// GoodwillAmortizationStore persists the goodwill write-down schedule of
// fully consolidated subsidiaries.
type GoodwillAmortizationStore interface {
	LatestGoodwillAmortization(ctx context.Context, participationID uuid.UUID, beforeFiscalYear int) (GoodwillAmortization, error)
	SaveGoodwillAmortization(ctx context.Context, row GoodwillAmortization) (GoodwillAmortization, error)
}

// Store aggregates every persistence contract used by the pipeline.
type Store interface {
	CompanyReader
	StatementStore
	BalanceReader
	TransactionReader
	ParticipationReader
	EntryStore
	DeferredTaxStore
	EquityMethodStore
	GoodwillAmortizationStore
}
