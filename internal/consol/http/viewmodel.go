package http

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/capital"
	"github.com/odyssey-erp/konzern/internal/consol/deferredtax"
	"github.com/odyssey-erp/konzern/internal/consol/ic"
	"github.com/odyssey-erp/konzern/internal/consol/orchestrator"
	"github.com/odyssey-erp/konzern/internal/consol/scope"
	"github.com/odyssey-erp/konzern/internal/elimination"
	"github.com/odyssey-erp/konzern/internal/lineage"
	"github.com/odyssey-erp/konzern/internal/shared"
)

// ScopeVM lists the companies of a consolidation group.
type ScopeVM struct {
	ParentID    uuid.UUID        `json:"parent_id"`
	ParentName  string           `json:"parent_name"`
	Companies   []consol.Company `json:"companies"`
	Diagnostics []string         `json:"diagnostics,omitempty"`
}

// ScopeFromDomain maps a resolved scope.
func ScopeFromDomain(sc scope.Scope) ScopeVM {
	companies := sc.Companies
	if companies == nil {
		companies = []consol.Company{}
	}
	return ScopeVM{
		ParentID:    sc.Parent.ID,
		ParentName:  sc.Parent.Name,
		Companies:   companies,
		Diagnostics: sc.Diagnostics,
	}
}

// PairVM is one matched creditor/debtor pair.
type PairVM struct {
	Category        ic.Category     `json:"category"`
	CreditorID      uuid.UUID       `json:"creditor_id"`
	DebtorID        uuid.UUID       `json:"debtor_id"`
	CreditorAccount string          `json:"creditor_account"`
	DebtorAccount   string          `json:"debtor_account"`
	Matched         decimal.Decimal `json:"matched"`
	Difference      decimal.Decimal `json:"difference"`
	Exact           bool            `json:"exact"`
}

// UnmatchedVM is an intercompany row without counterpart.
type UnmatchedVM struct {
	CompanyID      uuid.UUID       `json:"company_id"`
	CounterpartyID uuid.UUID       `json:"counterparty_id"`
	AccountNumber  string          `json:"account_number"`
	Side           ic.Side         `json:"side"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         string          `json:"reason"`
}

// ReconciliationVM totals one relationship.
type ReconciliationVM struct {
	Category        ic.Category                 `json:"category"`
	CreditorID      uuid.UUID                   `json:"creditor_id"`
	DebtorID        uuid.UUID                   `json:"debtor_id"`
	ReceivableTotal decimal.Decimal             `json:"receivable_total"`
	PayableTotal    decimal.Decimal             `json:"payable_total"`
	Difference      decimal.Decimal             `json:"difference"`
	Status          consol.ReconciliationStatus `json:"status"`
}

// MatchVM is the outcome of transaction matching.
type MatchVM struct {
	StatementID     uuid.UUID          `json:"statement_id"`
	FiscalYear      int                `json:"fiscal_year"`
	MatchedAmount   decimal.Decimal    `json:"matched_amount"`
	Pairs           []PairVM           `json:"pairs"`
	Unmatched       []UnmatchedVM      `json:"unmatched"`
	Reconciliations []ReconciliationVM `json:"reconciliations"`
	MissingInfo     []string           `json:"missing_info,omitempty"`
}

// MatchFromDomain maps a matcher result.
func MatchFromDomain(res ic.Result) MatchVM {
	vm := MatchVM{
		StatementID:     res.StatementID,
		FiscalYear:      res.FiscalYear,
		MatchedAmount:   res.MatchedAmount(),
		Pairs:           make([]PairVM, 0, len(res.Pairs)),
		Unmatched:       make([]UnmatchedVM, 0, len(res.Unmatched)),
		Reconciliations: make([]ReconciliationVM, 0, len(res.Reconciliations)),
		MissingInfo:     res.MissingInfo,
	}
	for _, p := range res.Pairs {
		vm.Pairs = append(vm.Pairs, PairVM{
			Category:        p.Category,
			CreditorID:      p.CreditorID,
			DebtorID:        p.DebtorID,
			CreditorAccount: p.Creditor.AccountNumber,
			DebtorAccount:   p.Debtor.AccountNumber,
			Matched:         p.Matched,
			Difference:      p.Difference,
			Exact:           p.Exact,
		})
	}
	for _, u := range res.Unmatched {
		vm.Unmatched = append(vm.Unmatched, UnmatchedVM{
			CompanyID:      u.Candidate.CompanyID,
			CounterpartyID: u.Candidate.CounterpartyID,
			AccountNumber:  u.Candidate.AccountNumber,
			Side:           u.Candidate.Side,
			Amount:         u.Amount,
			Reason:         u.Reason,
		})
	}
	for _, r := range res.Reconciliations {
		vm.Reconciliations = append(vm.Reconciliations, ReconciliationVM{
			Category:        r.Category,
			CreditorID:      r.CreditorID,
			DebtorID:        r.DebtorID,
			ReceivableTotal: r.ReceivableTotal,
			PayableTotal:    r.PayableTotal,
			Difference:      r.Difference,
			Status:          r.Status,
		})
	}
	return vm
}

// SummaryVM counts the entries of a run.
type SummaryVM struct {
	TotalEntries             int             `json:"total_entries"`
	IntercompanyEliminations int             `json:"intercompany_eliminations"`
	DebtConsolidations       int             `json:"debt_consolidations"`
	CapitalConsolidations    int             `json:"capital_consolidations"`
	EquityMethod             int             `json:"equity_method"`
	Proportional             int             `json:"proportional"`
	DeferredTax              int             `json:"deferred_tax"`
	MinorityInterest         int             `json:"minority_interest"`
	TotalAmount              decimal.Decimal `json:"total_amount"`
	UnmatchedTransactions    int             `json:"unmatched_transactions"`
	FailedInserts            int             `json:"failed_inserts"`
}

// EliminationVM totals debt and profit elimination.
type EliminationVM struct {
	PairsEliminated   int             `json:"pairs_eliminated"`
	DebtEliminated    decimal.Decimal `json:"debt_eliminated"`
	ProfitEliminated  decimal.Decimal `json:"profit_eliminated"`
	RevenueEliminated decimal.Decimal `json:"revenue_eliminated"`
}

// SubsidiaryVM is the capital consolidation of one subsidiary.
type SubsidiaryVM struct {
	CompanyID               uuid.UUID       `json:"company_id"`
	Name                    string          `json:"name"`
	Percentage              decimal.Decimal `json:"percentage"`
	AcquisitionCost         decimal.Decimal `json:"acquisition_cost"`
	ProportionalEquity      decimal.Decimal `json:"proportional_equity"`
	Goodwill                decimal.Decimal `json:"goodwill"`
	NegativeGoodwill        decimal.Decimal `json:"negative_goodwill"`
	MinorityInterest        decimal.Decimal `json:"minority_interest"`
	Amortization            decimal.Decimal `json:"goodwill_amortization"`
	AccumulatedAmortization decimal.Decimal `json:"accumulated_goodwill_amortization"`
}

// CapitalVM totals capital consolidation.
type CapitalVM struct {
	TotalGoodwill         decimal.Decimal             `json:"total_goodwill"`
	TotalNegativeGoodwill decimal.Decimal             `json:"total_negative_goodwill"`
	TotalMinorityInterest decimal.Decimal             `json:"total_minority_interest"`
	Subsidiaries          []SubsidiaryVM              `json:"subsidiaries"`
	EquityMethod          []consol.EquityMethodResult `json:"equity_method"`
}

// CapitalFromDomain maps a capital consolidation result.
func CapitalFromDomain(res capital.Result) CapitalVM {
	vm := CapitalVM{
		TotalGoodwill:         res.TotalGoodwill,
		TotalNegativeGoodwill: res.TotalNegativeGoodwill,
		TotalMinorityInterest: res.TotalMinorityInterest,
		Subsidiaries:          make([]SubsidiaryVM, 0, len(res.Subsidiaries)),
		EquityMethod:          res.EquityMethod,
	}
	if vm.EquityMethod == nil {
		vm.EquityMethod = []consol.EquityMethodResult{}
	}
	for _, s := range res.Subsidiaries {
		vm.Subsidiaries = append(vm.Subsidiaries, SubsidiaryVM{
			CompanyID:               s.CompanyID,
			Name:                    s.Name,
			Percentage:              s.Percentage,
			AcquisitionCost:         s.AcquisitionCost,
			ProportionalEquity:      s.ProportionalEquity,
			Goodwill:                s.Goodwill,
			NegativeGoodwill:        s.NegativeGoodwill,
			MinorityInterest:        s.MinorityInterest,
			Amortization:            s.Amortization,
			AccumulatedAmortization: s.AccumulatedAmortization,
		})
	}
	return vm
}

// SourceTotalsVM splits deferred taxes of one source.
type SourceTotalsVM struct {
	Assets      decimal.Decimal `json:"assets"`
	Liabilities decimal.Decimal `json:"liabilities"`
}

// DeferredTaxSummaryVM aggregates the positions of a statement.
type DeferredTaxSummaryVM struct {
	TotalAssets         decimal.Decimal                             `json:"total_assets"`
	TotalLiabilities    decimal.Decimal                             `json:"total_liabilities"`
	Net                 decimal.Decimal                             `json:"net"`
	ChangeFromPriorYear decimal.Decimal                             `json:"change_from_prior_year"`
	Positions           int                                         `json:"positions"`
	BySource            map[consol.DeferredTaxSource]SourceTotalsVM `json:"by_source"`
}

// DeferredTaxSummaryFromDomain maps a deferred tax summary.
func DeferredTaxSummaryFromDomain(s deferredtax.Summary) DeferredTaxSummaryVM {
	vm := DeferredTaxSummaryVM{
		TotalAssets:         s.TotalAssets,
		TotalLiabilities:    s.TotalLiabilities,
		Net:                 s.Net,
		ChangeFromPriorYear: s.ChangeFromPriorYear,
		Positions:           s.Positions,
		BySource:            make(map[consol.DeferredTaxSource]SourceTotalsVM, len(s.BySource)),
	}
	for source, totals := range s.BySource {
		vm.BySource[source] = SourceTotalsVM{Assets: totals.Assets, Liabilities: totals.Liabilities}
	}
	return vm
}

// DeferredTaxVM is the outcome of a deferred tax calculation.
type DeferredTaxVM struct {
	StatementID   uuid.UUID                   `json:"statement_id"`
	TaxRate       decimal.Decimal             `json:"tax_rate"`
	DeferredTaxes []consol.DeferredTax        `json:"deferred_taxes"`
	Entries       []consol.ConsolidationEntry `json:"entries"`
	Summary       DeferredTaxSummaryVM        `json:"summary"`
	FailedWrites  int                         `json:"failed_writes"`
	MissingInfo   []string                    `json:"missing_info,omitempty"`
}

// DeferredTaxFromDomain maps a calculator result.
func DeferredTaxFromDomain(res deferredtax.Result) DeferredTaxVM {
	vm := DeferredTaxVM{
		StatementID:   res.StatementID,
		TaxRate:       res.TaxRate,
		DeferredTaxes: res.DeferredTaxes,
		Entries:       res.Entries,
		Summary:       DeferredTaxSummaryFromDomain(res.Summary),
		FailedWrites:  res.FailedWrites,
		MissingInfo:   res.MissingInfo,
	}
	if vm.DeferredTaxes == nil {
		vm.DeferredTaxes = []consol.DeferredTax{}
	}
	if vm.Entries == nil {
		vm.Entries = []consol.ConsolidationEntry{}
	}
	return vm
}

// RunVM is the response of a consolidation run.
type RunVM struct {
	StatementID        uuid.UUID                   `json:"statement_id"`
	Summary            SummaryVM                   `json:"summary"`
	Scope              ScopeVM                     `json:"scope"`
	Match              MatchVM                     `json:"match"`
	Elimination        EliminationVM               `json:"elimination"`
	Capital            CapitalVM                   `json:"capital"`
	DeferredTax        DeferredTaxVM               `json:"deferred_tax"`
	Entries            []consol.ConsolidationEntry `json:"entries"`
	ConsolidatedValues []lineage.Node              `json:"consolidated_values"`
	MissingInfo        []string                    `json:"missing_info"`
	StartedAt          time.Time                   `json:"started_at"`
	FinishedAt         time.Time                   `json:"finished_at"`
}

// RunFromDomain maps a run result.
func RunFromDomain(res orchestrator.RunResult) RunVM {
	vm := RunVM{
		StatementID:        res.StatementID,
		Summary:            SummaryVM(res.Summary),
		Scope:              ScopeFromDomain(res.Scope),
		Match:              MatchFromDomain(res.Match),
		Elimination:        eliminationFromDomain(res.Elimination),
		Capital:            CapitalFromDomain(res.Capital),
		DeferredTax:        DeferredTaxFromDomain(res.DeferredTax),
		Entries:            res.Entries,
		ConsolidatedValues: res.ConsolidatedValues,
		MissingInfo:        res.MissingInfo,
		StartedAt:          res.StartedAt,
		FinishedAt:         res.FinishedAt,
	}
	if vm.Entries == nil {
		vm.Entries = []consol.ConsolidationEntry{}
	}
	if vm.ConsolidatedValues == nil {
		vm.ConsolidatedValues = []lineage.Node{}
	}
	if vm.MissingInfo == nil {
		vm.MissingInfo = []string{}
	}
	return vm
}

func eliminationFromDomain(s elimination.Summary) EliminationVM {
	return EliminationVM{
		PairsEliminated:   s.PairsEliminated,
		DebtEliminated:    s.DebtEliminated,
		ProfitEliminated:  s.ProfitEliminated,
		RevenueEliminated: s.RevenueEliminated,
	}
}

// EntryPageVM is one page of consolidation entries.
type EntryPageVM struct {
	Items      []consol.ConsolidationEntry `json:"items"`
	Pagination shared.Pagination           `json:"pagination"`
}

// NodeDetailVM is a lineage node with its active edges.
type NodeDetailVM struct {
	Node     lineage.Node    `json:"node"`
	Incoming []lineage.Trace `json:"incoming"`
	Outgoing []lineage.Trace `json:"outgoing"`
}

// EnqueueVM acknowledges a queued run.
type EnqueueVM struct {
	TaskID string `json:"task_id"`
	Queue  string `json:"queue"`
}
