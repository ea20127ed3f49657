package consol

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ConsolidationType describes how a company enters the group statements.
type ConsolidationType string

const (
	ConsolidationFull         ConsolidationType = "full"
	ConsolidationProportional ConsolidationType = "proportional"
	ConsolidationEquity       ConsolidationType = "equity"
	ConsolidationNone         ConsolidationType = "none"
)

// Company is a legal entity of the group hierarchy.
type Company struct {
	ID                 uuid.UUID         `json:"id"`
	Name               string            `json:"name"`
	ParentID           *uuid.UUID        `json:"parent_id,omitempty"`
	IsConsolidated     bool              `json:"is_consolidated"`
	ConsolidationType  ConsolidationType `json:"consolidation_type"`
	ExclusionReason    string            `json:"exclusion_reason"`
	FunctionalCurrency string            `json:"functional_currency"`
	IsUltimateParent   bool              `json:"is_ultimate_parent"`
}

// StatementStatus tracks the lifecycle of a financial statement.
type StatementStatus string

const (
	StatementDraft        StatementStatus = "draft"
	StatementFinalized    StatementStatus = "finalized"
	StatementConsolidated StatementStatus = "consolidated"
)

// FinancialStatement is the standalone statement of one company for one period.
type FinancialStatement struct {
	ID          uuid.UUID       `json:"id"`
	CompanyID   uuid.UUID       `json:"company_id"`
	FiscalYear  int             `json:"fiscal_year"`
	PeriodStart time.Time       `json:"period_start"`
	PeriodEnd   time.Time       `json:"period_end"`
	Status      StatementStatus `json:"status"`
}

// AccountType classifies ledger accounts.
type AccountType string

const (
	AccountAsset     AccountType = "asset"
	AccountLiability AccountType = "liability"
	AccountEquity    AccountType = "equity"
	AccountRevenue   AccountType = "revenue"
	AccountExpense   AccountType = "expense"
)

// AccountBalance is an immutable standalone balance. Balance = Debit - Credit.
type AccountBalance struct {
	ID                   uuid.UUID       `json:"id"`
	FinancialStatementID uuid.UUID       `json:"financial_statement_id"`
	CompanyID            uuid.UUID       `json:"company_id"`
	AccountID            uuid.UUID       `json:"account_id"`
	AccountNumber        string          `json:"account_number"`
	AccountName          string          `json:"account_name"`
	AccountType          AccountType     `json:"account_type"`
	Debit                decimal.Decimal `json:"debit"`
	Credit               decimal.Decimal `json:"credit"`
	Balance              decimal.Decimal `json:"balance"`
	IsIntercompany       bool            `json:"is_intercompany"`
}

// IncomeStatementBalance is a line of a dedicated income statement.
type IncomeStatementBalance struct {
	FinancialStatementID uuid.UUID       `json:"financial_statement_id"`
	AccountID            uuid.UUID       `json:"account_id"`
	Amount               decimal.Decimal `json:"amount"`
	IsIncome             bool            `json:"is_income"`
}

// TransactionType is the business nature of an intercompany transaction.
type TransactionType string

const (
	TransactionDelivery   TransactionType = "delivery"
	TransactionLoan       TransactionType = "loan"
	TransactionReceivable TransactionType = "receivable"
	TransactionPayable    TransactionType = "payable"
	TransactionInterest   TransactionType = "interest"
	TransactionDividend   TransactionType = "dividend"
	TransactionOther      TransactionType = "other"
)

// IntercompanyTransaction is a directional flow between two group companies.
// FromCompanyID is the creditor (seller, lender, holder of the receivable) and
// ToCompanyID the debtor. For dividends From is the paying company.
type IntercompanyTransaction struct {
	ID                   uuid.UUID        `json:"id"`
	FinancialStatementID uuid.UUID        `json:"financial_statement_id"`
	FromCompanyID        uuid.UUID        `json:"from_company_id"`
	ToCompanyID          uuid.UUID        `json:"to_company_id"`
	AccountID            uuid.UUID        `json:"account_id"`
	AccountNumber        string           `json:"account_number"`
	AccountName          string           `json:"account_name"`
	Amount               decimal.Decimal  `json:"amount"`
	TransactionDate      time.Time        `json:"transaction_date"`
	TransactionType      TransactionType  `json:"transaction_type"`
	AcquisitionCost      *decimal.Decimal `json:"acquisition_cost,omitempty"`
	RemainingInventory   *decimal.Decimal `json:"remaining_inventory,omitempty"`
}

// Participation is an ownership stake held by a parent in another company.
type Participation struct {
	ID                  uuid.UUID        `json:"id"`
	ParentCompanyID     uuid.UUID        `json:"parent_company_id"`
	SubsidiaryCompanyID uuid.UUID        `json:"subsidiary_company_id"`
	Percentage          decimal.Decimal  `json:"percentage"`
	VotingRights        decimal.Decimal  `json:"voting_rights"`
	AcquisitionCost     decimal.Decimal  `json:"acquisition_cost"`
	AcquisitionDate     *time.Time       `json:"acquisition_date,omitempty"`
	Goodwill            decimal.Decimal  `json:"goodwill"`
	NegativeGoodwill    decimal.Decimal  `json:"negative_goodwill"`
	HiddenReserves      decimal.Decimal  `json:"hidden_reserves"`
	EquityAtAcquisition *decimal.Decimal `json:"equity_at_acquisition,omitempty"`
	UsefulLifeYears     int              `json:"useful_life_years"`
	IsActive            bool             `json:"is_active"`
}

// Quota returns the ownership percentage as a fraction.
func (p Participation) Quota() decimal.Decimal {
	return p.Percentage.Div(hundred)
}

// AdjustmentType classifies consolidation entries.
type AdjustmentType string

const (
	AdjustmentElimination          AdjustmentType = "elimination"
	AdjustmentReclassification     AdjustmentType = "reclassification"
	AdjustmentCapitalConsolidation AdjustmentType = "capital_consolidation"
	AdjustmentDebtConsolidation    AdjustmentType = "debt_consolidation"
	AdjustmentIntercompanyProfit   AdjustmentType = "intercompany_profit"
	AdjustmentIncomeExpense        AdjustmentType = "income_expense"
	AdjustmentCurrencyTranslation  AdjustmentType = "currency_translation"
	AdjustmentDeferredTax          AdjustmentType = "deferred_tax"
	AdjustmentMinorityInterest     AdjustmentType = "minority_interest"
	AdjustmentOther                AdjustmentType = "other"
)

// EntryStatus tracks the approval workflow of an entry.
type EntryStatus string

const (
	EntryDraft    EntryStatus = "draft"
	EntryPending  EntryStatus = "pending"
	EntryApproved EntryStatus = "approved"
	EntryRejected EntryStatus = "rejected"
	EntryReversed EntryStatus = "reversed"
)

// EntrySource records how an entry was created.
type EntrySource string

const (
	SourceAutomatic EntrySource = "automatic"
	SourceManual    EntrySource = "manual"
	SourceImport    EntrySource = "import"
)

// HgbReference names the HGB paragraph an entry is based on.
type HgbReference string

const (
	Hgb301   HgbReference = "§301"
	Hgb303   HgbReference = "§303"
	Hgb304   HgbReference = "§304"
	Hgb305   HgbReference = "§305"
	Hgb306   HgbReference = "§306"
	Hgb307   HgbReference = "§307"
	Hgb308   HgbReference = "§308"
	Hgb308a  HgbReference = "§308a"
	Hgb309   HgbReference = "§309"
	Hgb310   HgbReference = "§310"
	Hgb312   HgbReference = "§312"
	HgbOther HgbReference = "Sonstige"
)

// ConsolidationEntry is one adjustment applied on top of the standalone
// balances. Amounts follow the debit-minus-credit convention.
type ConsolidationEntry struct {
	ID                   uuid.UUID       `json:"id"`
	FinancialStatementID uuid.UUID       `json:"financial_statement_id"`
	AccountID            *uuid.UUID      `json:"account_id,omitempty"`
	DebitAccountID       *uuid.UUID      `json:"debit_account_id,omitempty"`
	CreditAccountID      *uuid.UUID      `json:"credit_account_id,omitempty"`
	AdjustmentType       AdjustmentType  `json:"adjustment_type"`
	Amount               decimal.Decimal `json:"amount"`
	Description          string          `json:"description"`
	Status               EntryStatus     `json:"status"`
	Source               EntrySource     `json:"source"`
	HgbReference         *HgbReference   `json:"hgb_reference,omitempty"`
	AffectedCompanyIDs   []uuid.UUID     `json:"affected_company_ids"`
	CreatedBy            string          `json:"created_by"`
	ApprovedBy           string          `json:"approved_by"`
	ApprovedAt           *time.Time      `json:"approved_at,omitempty"`
	RejectionReason      string          `json:"rejection_reason"`
	ReversedByEntryID    *uuid.UUID      `json:"reversed_by_entry_id,omitempty"`
	ReversesEntryID      *uuid.UUID      `json:"reverses_entry_id,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// TargetAccountID returns the account the entry primarily adjusts.
func (e ConsolidationEntry) TargetAccountID() *uuid.UUID {
	switch {
	case e.AccountID != nil:
		return e.AccountID
	case e.Amount.IsNegative() && e.CreditAccountID != nil:
		return e.CreditAccountID
	case e.DebitAccountID != nil:
		return e.DebitAccountID
	default:
		return e.CreditAccountID
	}
}

// DifferenceType classifies temporary differences.
type DifferenceType string

const (
	DifferenceDeductible DifferenceType = "deductible"
	DifferenceTaxable    DifferenceType = "taxable"
)

// DeferredTaxSource names the origin of a temporary difference.
type DeferredTaxSource string

const (
	TaxSourceCapitalConsolidation DeferredTaxSource = "capital_consolidation"
	TaxSourceDebtConsolidation    DeferredTaxSource = "debt_consolidation"
	TaxSourceIntercompanyProfit   DeferredTaxSource = "intercompany_profit"
	TaxSourceIncomeExpense        DeferredTaxSource = "income_expense"
	TaxSourceCurrencyTranslation  DeferredTaxSource = "currency_translation"
	TaxSourceHiddenReserves       DeferredTaxSource = "hidden_reserves"
	TaxSourceGoodwill             DeferredTaxSource = "goodwill"
	TaxSourcePensionProvisions    DeferredTaxSource = "pension_provisions"
	TaxSourceValuationAdjustment  DeferredTaxSource = "valuation_adjustment"
	TaxSourceOther                DeferredTaxSource = "other"
)

// DeferredTaxStatus tracks the state of a deferred tax position.
type DeferredTaxStatus string

const (
	DeferredTaxActive     DeferredTaxStatus = "active"
	DeferredTaxReversed   DeferredTaxStatus = "reversed"
	DeferredTaxWrittenOff DeferredTaxStatus = "written_off"
)

// DeferredTax is a deferred tax position derived from one consolidation entry.
type DeferredTax struct {
	ID                        uuid.UUID         `json:"id"`
	FinancialStatementID      uuid.UUID         `json:"financial_statement_id"`
	CompanyID                 *uuid.UUID        `json:"company_id,omitempty"`
	DifferenceType            DifferenceType    `json:"difference_type"`
	Source                    DeferredTaxSource `json:"source"`
	Description               string            `json:"description"`
	TemporaryDifferenceAmount decimal.Decimal   `json:"temporary_difference_amount"`
	TaxRate                   decimal.Decimal   `json:"tax_rate"`
	DeferredTaxAmount         decimal.Decimal   `json:"deferred_tax_amount"`
	PriorYearAmount           decimal.Decimal   `json:"prior_year_amount"`
	ChangeAmount              decimal.Decimal   `json:"change_amount"`
	AffectsEquity             bool              `json:"affects_equity"`
	ExpectedReversalYear      *int              `json:"expected_reversal_year,omitempty"`
	OriginatingEntryID        *uuid.UUID        `json:"originating_entry_id,omitempty"`
	DeferredTaxEntryID        *uuid.UUID        `json:"deferred_tax_entry_id,omitempty"`
	Status                    DeferredTaxStatus `json:"status"`
	HgbNote                   string            `json:"hgb_note"`
	CreatedAt                 time.Time         `json:"created_at"`
	UpdatedAt                 time.Time         `json:"updated_at"`
}

// IsAsset reports whether the position is a deferred tax asset.
func (d DeferredTax) IsAsset() bool {
	return d.DifferenceType == DifferenceDeductible
}

// EquityMethodResult is the roll-forward of an associate's carrying value.
type EquityMethodResult struct {
	ID                uuid.UUID       `json:"id"`
	ParticipationID   uuid.UUID       `json:"participation_id"`
	StatementID       uuid.UUID       `json:"statement_id"`
	AssociateID       uuid.UUID       `json:"associate_id"`
	FiscalYear        int             `json:"fiscal_year"`
	OpeningValue      decimal.Decimal `json:"opening_value"`
	ShareOfProfit     decimal.Decimal `json:"share_of_profit"`
	DividendsReceived decimal.Decimal `json:"dividends_received"`
	Amortization      decimal.Decimal `json:"amortization"`
	OtherAdjustments  decimal.Decimal `json:"other_adjustments"`
	ClosingValue      decimal.Decimal `json:"closing_value"`
	NetIncomeSource   string          `json:"net_income_source"`
	EntryIDs          []uuid.UUID     `json:"entry_ids"`
	CreatedAt         time.Time       `json:"created_at"`
}

// GoodwillAmortization is one year of the straight-line write-down of the
// goodwill from a full consolidation.
type GoodwillAmortization struct {
	ID                      uuid.UUID       `json:"id"`
	ParticipationID         uuid.UUID       `json:"participation_id"`
	StatementID             uuid.UUID       `json:"statement_id"`
	SubsidiaryID            uuid.UUID       `json:"subsidiary_id"`
	FiscalYear              int             `json:"fiscal_year"`
	Goodwill                decimal.Decimal `json:"goodwill"`
	UsefulLifeYears         int             `json:"useful_life_years"`
	Amortization            decimal.Decimal `json:"amortization"`
	AccumulatedAmortization decimal.Decimal `json:"accumulated_amortization"`
	CarryingValue           decimal.Decimal `json:"carrying_value"`
	EntryIDs                []uuid.UUID     `json:"entry_ids"`
	CreatedAt               time.Time       `json:"created_at"`
}

// ReconciliationStatus tracks an intercompany reconciliation.
type ReconciliationStatus string

const (
	ReconciliationCleared ReconciliationStatus = "cleared"
	ReconciliationOpen    ReconciliationStatus = "open"
)
