package ic

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol"
)

// Side is the role a row plays inside an intercompany relationship.
type Side string

const (
	SideReceivable Side = "receivable"
	SidePayable    Side = "payable"
	SideRevenue    Side = "revenue"
	SideExpense    Side = "expense"
)

// Creditor reports whether the holder of the row is the creditor (lender,
// seller, holder of the receivable).
func (s Side) Creditor() bool {
	return s == SideReceivable || s == SideRevenue
}

// positive reports whether a well-formed row on this side has a debit balance.
func (s Side) positive() bool {
	return s == SideReceivable || s == SideExpense
}

// Category groups rows that are matched against each other.
type Category string

const (
	CategoryTrade    Category = "trade"
	CategoryLoan     Category = "loan"
	CategoryInterest Category = "interest"
	CategoryRevenue  Category = "revenue"
)

// Origin tells whether a candidate came from a balance or an explicit transaction.
type Origin string

const (
	OriginBalance     Origin = "balance"
	OriginTransaction Origin = "transaction"
)

// Candidate is one classified intercompany row.
type Candidate struct {
	ID             uuid.UUID
	Origin         Origin
	StatementID    uuid.UUID
	CompanyID      uuid.UUID
	CounterpartyID uuid.UUID
	AccountID      uuid.UUID
	AccountNumber  string
	AccountName    string
	Amount         decimal.Decimal
	Side           Side
	Category       Category
}

// Creditor returns the creditor company of the relationship.
func (c Candidate) Creditor() uuid.UUID {
	if c.Side.Creditor() {
		return c.CompanyID
	}
	return c.CounterpartyID
}

// Debtor returns the debtor company of the relationship.
func (c Candidate) Debtor() uuid.UUID {
	if c.Side.Creditor() {
		return c.CounterpartyID
	}
	return c.CompanyID
}

// Label renders the account for diagnostics.
func (c Candidate) Label() string {
	return fmt.Sprintf("Konto %s (%s)", c.AccountNumber, c.AccountName)
}

// Source converts the candidate into a lineage source.
func (c Candidate) Source() consol.LineageSource {
	company := c.CompanyID
	entity := consol.EntityAccountBalance
	if c.Origin == OriginTransaction {
		entity = consol.EntityTransaction
	}
	return consol.LineageSource{
		EntityType:  entity,
		EntityID:    c.ID,
		Name:        fmt.Sprintf("%s: %s", c.AccountNumber, c.AccountName),
		Value:       c.Amount,
		CompanyID:   &company,
		AccountCode: c.AccountNumber,
	}
}

type sideRule struct {
	side   Side
	name   *regexp.Regexp
	number *regexp.Regexp
}

var (
	interestPattern = regexp.MustCompile(`(?i)zins|interest`)
	loanPattern     = regexp.MustCompile(`(?i)kredit|darlehen|loan|finanzierung`)

	// Names are checked for every side before any number range, so a
	// "Materialaufwand für bezogene Leistungen" never reads as revenue.
	sideRules = []sideRule{
		{side: SideReceivable, name: regexp.MustCompile(`(?i)forderung|receivable|ausstehend`), number: regexp.MustCompile(`^1\d{3}`)},
		{side: SidePayable, name: regexp.MustCompile(`(?i)verbindlichkeit|payable|schulden`), number: regexp.MustCompile(`^2\d{3}`)},
		{side: SideExpense, name: regexp.MustCompile(`(?i)aufwand|aufwendung|expense|wareneinsatz|wareneingang|einkauf`), number: regexp.MustCompile(`^[4-7]\d{3}`)},
		{side: SideRevenue, name: regexp.MustCompile(`(?i)umsatz|erlös|erloes|ertr|revenue|income|lieferung|leistung`), number: regexp.MustCompile(`^8\d{3}`)},
	}

	accountTypeSides = map[consol.AccountType]Side{
		consol.AccountAsset:     SideReceivable,
		consol.AccountLiability: SidePayable,
		consol.AccountRevenue:   SideRevenue,
		consol.AccountExpense:   SideExpense,
	}

	transactionSides = map[consol.TransactionType]struct {
		side     Side
		category Category
	}{
		consol.TransactionReceivable: {SideReceivable, CategoryTrade},
		consol.TransactionPayable:    {SidePayable, CategoryTrade},
		consol.TransactionLoan:       {SideReceivable, CategoryLoan},
		consol.TransactionInterest:   {SideRevenue, CategoryInterest},
		consol.TransactionDelivery:   {SideRevenue, CategoryRevenue},
	}
)

func classifySide(b consol.AccountBalance) (Side, bool) {
	for _, rule := range sideRules {
		if rule.name.MatchString(b.AccountName) {
			return rule.side, true
		}
	}
	for _, rule := range sideRules {
		if rule.number.MatchString(b.AccountNumber) {
			return rule.side, true
		}
	}
	side, ok := accountTypeSides[b.AccountType]
	return side, ok
}

func categoryOf(name string, side Side) Category {
	switch {
	case interestPattern.MatchString(name):
		return CategoryInterest
	case loanPattern.MatchString(name):
		return CategoryLoan
	case side == SideRevenue || side == SideExpense:
		return CategoryRevenue
	default:
		return CategoryTrade
	}
}

// ClassifyBalance turns an intercompany balance into a candidate. The second
// return value is a diagnostic when the row cannot take part in matching.
func ClassifyBalance(b consol.AccountBalance, companies []consol.Company) (Candidate, string) {
	cand := Candidate{
		ID:            b.ID,
		Origin:        OriginBalance,
		StatementID:   b.FinancialStatementID,
		CompanyID:     b.CompanyID,
		AccountID:     b.AccountID,
		AccountNumber: b.AccountNumber,
		AccountName:   b.AccountName,
		Amount:        b.Balance,
	}
	if b.Balance.IsZero() {
		return cand, ""
	}
	side, ok := classifySide(b)
	if !ok {
		// Interest and loan rows without a recognisable side fall back to the sign.
		if !interestPattern.MatchString(b.AccountName) && !loanPattern.MatchString(b.AccountName) {
			return cand, fmt.Sprintf("%s: Transaktionstyp konnte nicht bestimmt werden", cand.Label())
		}
		side = SidePayable
		if b.Balance.IsPositive() {
			side = SideReceivable
		}
	}
	cand.Side = side
	cand.Category = categoryOf(b.AccountName, side)
	if side.positive() != b.Balance.IsPositive() {
		return cand, fmt.Sprintf("%s: Saldo %s passt nicht zur Seite %s", cand.Label(), consol.FormatAmount(b.Balance), side)
	}

	counterparty, ok := identifyCounterparty(b.AccountName, b.CompanyID, companies)
	if !ok {
		return cand, fmt.Sprintf("%s: Geschäftspartner konnte nicht identifiziert werden", cand.Label())
	}
	cand.CounterpartyID = counterparty
	return cand, ""
}

// ClassifyTransaction turns an explicit intercompany transaction into a
// candidate held by the company that books the row.
func ClassifyTransaction(t consol.IntercompanyTransaction) (Candidate, string, bool) {
	rule, ok := transactionSides[t.TransactionType]
	if !ok {
		return Candidate{}, "", false
	}
	cand := Candidate{
		ID:            t.ID,
		Origin:        OriginTransaction,
		StatementID:   t.FinancialStatementID,
		AccountID:     t.AccountID,
		AccountNumber: t.AccountNumber,
		AccountName:   t.AccountName,
		Side:          rule.side,
		Category:      rule.category,
	}
	amount := t.Amount.Abs()
	if rule.side.Creditor() {
		cand.CompanyID, cand.CounterpartyID = t.FromCompanyID, t.ToCompanyID
	} else {
		cand.CompanyID, cand.CounterpartyID = t.ToCompanyID, t.FromCompanyID
	}
	if !rule.side.positive() {
		amount = amount.Neg()
	}
	cand.Amount = amount
	if t.FromCompanyID == t.ToCompanyID {
		return cand, fmt.Sprintf("%s: Transaktion mit sich selbst wird ignoriert", cand.Label()), true
	}
	return cand, "", true
}

// identifyCounterparty picks the longest scope company name contained in the
// account name, never the holder itself.
func identifyCounterparty(accountName string, holder uuid.UUID, companies []consol.Company) (uuid.UUID, bool) {
	haystack := strings.ToLower(accountName)
	var (
		best    uuid.UUID
		bestLen int
	)
	for _, c := range companies {
		if c.ID == holder || c.Name == "" {
			continue
		}
		name := strings.ToLower(c.Name)
		if len(name) > bestLen && strings.Contains(haystack, name) {
			best, bestLen = c.ID, len(name)
		}
	}
	return best, bestLen > 0
}
