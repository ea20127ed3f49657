package ic

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/scope"
	"github.com/odyssey-erp/konzern/internal/shared"
)

const (
	// AuditAction identifies audit log entries emitted by the matcher.
	AuditAction = "ic_match"
	// AuditEntity describes the audit entity for match runs.
	AuditEntity = "financial_statements"
)

// Repository describes the reads required by the matcher.
type Repository interface {
	consol.StatementStore
	consol.BalanceReader
	consol.TransactionReader
}

// AuditRecorder captures audit events.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Pair is a matched creditor/debtor relationship.
type Pair struct {
	Category   Category
	CreditorID uuid.UUID
	DebtorID   uuid.UUID
	Creditor   Candidate
	Debtor     Candidate
	Matched    decimal.Decimal
	Difference decimal.Decimal
	Exact      bool
}

// Unmatched is a row, or the residual of a row, left without a counterpart.
type Unmatched struct {
	Candidate Candidate
	Amount    decimal.Decimal
	Reason    string
}

// Reconciliation totals one creditor/debtor/category relationship.
type Reconciliation struct {
	Category        Category
	CreditorID      uuid.UUID
	DebtorID        uuid.UUID
	ReceivableTotal decimal.Decimal
	PayableTotal    decimal.Decimal
	Matched         decimal.Decimal
	Difference      decimal.Decimal
	Status          consol.ReconciliationStatus
}

// Result is the outcome of a match run.
type Result struct {
	StatementID     uuid.UUID
	FiscalYear      int
	Pairs           []Pair
	Unmatched       []Unmatched
	Reconciliations []Reconciliation
	Deliveries      []consol.IntercompanyTransaction
	MissingInfo     []string
}

// MatchedAmount sums the matched amount of every pair.
func (r Result) MatchedAmount() decimal.Decimal {
	total := decimal.Zero
	for _, p := range r.Pairs {
		total = total.Add(p.Matched)
	}
	return total
}

// PairsOf filters pairs by category.
func (r Result) PairsOf(categories ...Category) []Pair {
	out := make([]Pair, 0, len(r.Pairs))
	for _, p := range r.Pairs {
		for _, c := range categories {
			if p.Category == c {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// Matcher detects and pairs intercompany rows across the scope.
type Matcher struct {
	repo      Repository
	audit     AuditRecorder
	logger    *slog.Logger
	tolerance decimal.Decimal
	now       func() time.Time
}

// MatcherConfig configures optional behaviour.
type MatcherConfig struct {
	Tolerance decimal.Decimal
}

// NewMatcher wires required dependencies for the matcher.
func NewMatcher(repo Repository, audit AuditRecorder, logger *slog.Logger, cfg MatcherConfig) *Matcher {
	m := &Matcher{
		repo:      repo,
		audit:     audit,
		logger:    logger,
		tolerance: consol.DefaultTolerance,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	if cfg.Tolerance.IsPositive() {
		m.tolerance = cfg.Tolerance
	}
	return m
}

// Match loads the intercompany rows of every scoped company for the target
// fiscal year and pairs them.
func (m *Matcher) Match(ctx context.Context, target consol.FinancialStatement, sc scope.Scope) (Result, error) {
	if m == nil || m.repo == nil {
		return Result{}, fmt.Errorf("ic matcher not initialised")
	}
	result := Result{StatementID: target.ID, FiscalYear: target.FiscalYear}
	companyIDs := sc.IDs()
	if len(companyIDs) == 0 {
		return result, nil
	}

	statements, err := m.repo.ListFinancialStatements(ctx, consol.StatementFilter{
		CompanyIDs: companyIDs,
		FiscalYear: target.FiscalYear,
	})
	if err != nil {
		return Result{}, fmt.Errorf("list scope statements: %w", err)
	}
	statementIDs := make([]uuid.UUID, 0, len(statements))
	var balances []consol.AccountBalance
	for _, fs := range statements {
		statementIDs = append(statementIDs, fs.ID)
		rows, err := m.repo.ListAccountBalances(ctx, fs.ID, consol.BalanceFilter{IntercompanyOnly: true})
		if err != nil {
			return Result{}, fmt.Errorf("list intercompany balances: %w", err)
		}
		for _, row := range rows {
			if row.CompanyID == uuid.Nil {
				row.CompanyID = fs.CompanyID
			}
			balances = append(balances, row)
		}
	}
	var txs []consol.IntercompanyTransaction
	if len(statementIDs) > 0 {
		txs, err = m.repo.ListIntercompanyTransactions(ctx, consol.TransactionFilter{StatementIDs: statementIDs})
		if err != nil {
			return Result{}, fmt.Errorf("list intercompany transactions: %w", err)
		}
	}

	candidates, deliveries, missing := CollectCandidates(sc.Companies, balances, txs)
	result.Deliveries = deliveries
	result.MissingInfo = append(result.MissingInfo, missing...)

	pairs, unmatched, recon, missing := MatchCandidates(sc.Companies, candidates, m.tolerance)
	result.Pairs = pairs
	result.Unmatched = unmatched
	result.Reconciliations = recon
	result.MissingInfo = append(result.MissingInfo, missing...)

	m.log().Info("matched intercompany rows",
		slog.String("statement_id", target.ID.String()),
		slog.Int("candidates", len(candidates)),
		slog.Int("pairs", len(pairs)),
		slog.Int("unmatched", len(unmatched)),
		slog.String("matched_amount", result.MatchedAmount().StringFixed(2)))
	m.recordAudit(ctx, result)
	return result, nil
}

func (m *Matcher) recordAudit(ctx context.Context, result Result) {
	if m == nil || m.audit == nil {
		return
	}
	open := 0
	for _, r := range result.Reconciliations {
		if r.Status == consol.ReconciliationOpen {
			open++
		}
	}
	_ = m.audit.Record(ctx, shared.AuditLog{
		Actor:    shared.SystemActor,
		Action:   AuditAction,
		Entity:   AuditEntity,
		EntityID: result.StatementID.String(),
		Meta: map[string]any{
			"fiscal_year":          result.FiscalYear,
			"pairs":                len(result.Pairs),
			"unmatched":            len(result.Unmatched),
			"open_reconciliations": open,
			"matched_amount":       result.MatchedAmount().StringFixed(2),
		},
		At: m.now(),
	})
}

func (m *Matcher) log() *slog.Logger {
	if m != nil && m.logger != nil {
		return m.logger.With(slog.String("component", "ic_matcher"))
	}
	return slog.Default().With(slog.String("component", "ic_matcher"))
}

// CollectCandidates classifies balances and explicit transactions of the
// scope. Explicit transactions override balance rows booked by the same
// company on the same account. Only fully consolidated companies take part;
// joint ventures and associates are eliminated by their own methods. Delivery
// transactions between fully consolidated companies are also returned for
// profit elimination.
func CollectCandidates(companies []consol.Company, balances []consol.AccountBalance, txs []consol.IntercompanyTransaction) ([]Candidate, []consol.IntercompanyTransaction, []string) {
	full := make(map[uuid.UUID]bool, len(companies))
	for _, c := range companies {
		full[c.ID] = FullyConsolidated(c)
	}

	type accountKey struct {
		company uuid.UUID
		account uuid.UUID
	}
	var (
		missing    []string
		candidates []Candidate
		explicit   = make(map[accountKey]struct{})
		deliveries []consol.IntercompanyTransaction
	)
	for _, t := range txs {
		if !full[t.FromCompanyID] || !full[t.ToCompanyID] {
			continue
		}
		if t.TransactionType == consol.TransactionDelivery && t.FromCompanyID != t.ToCompanyID {
			deliveries = append(deliveries, t)
		}
		cand, diag, ok := ClassifyTransaction(t)
		if !ok {
			continue
		}
		if diag != "" {
			missing = append(missing, diag)
			continue
		}
		if cand.Amount.IsZero() {
			continue
		}
		explicit[accountKey{cand.CompanyID, cand.AccountID}] = struct{}{}
		candidates = append(candidates, cand)
	}
	for _, b := range balances {
		if !full[b.CompanyID] {
			continue
		}
		if _, ok := explicit[accountKey{b.CompanyID, b.AccountID}]; ok {
			continue
		}
		cand, diag := ClassifyBalance(b, companies)
		if diag != "" {
			missing = append(missing, diag)
			continue
		}
		if cand.Amount.IsZero() || !full[cand.CounterpartyID] {
			continue
		}
		candidates = append(candidates, cand)
	}
	return candidates, deliveries, missing
}

// FullyConsolidated reports whether the company is consolidated line by line.
func FullyConsolidated(c consol.Company) bool {
	return c.ConsolidationType == "" || c.ConsolidationType == consol.ConsolidationFull
}

type groupKey struct {
	creditor uuid.UUID
	debtor   uuid.UUID
	category Category
}

type group struct {
	key     groupKey
	credits []Candidate
	debits  []Candidate
}

// MatchCandidates pairs creditor rows with debtor rows per creditor, debtor
// and category. Pass one pairs amounts within tolerance; pass two pairs the
// remaining rows greedily by nearest amount. Rows are visited by absolute
// amount descending, then account number, then id, so the result depends
// only on the inputs.
func MatchCandidates(companies []consol.Company, candidates []Candidate, tolerance decimal.Decimal) ([]Pair, []Unmatched, []Reconciliation, []string) {
	names := make(map[uuid.UUID]string, len(companies))
	for _, c := range companies {
		names[c.ID] = c.Name
	}
	groups := make(map[groupKey]*group)
	for _, cand := range candidates {
		if cand.CompanyID == cand.CounterpartyID {
			continue
		}
		key := groupKey{creditor: cand.Creditor(), debtor: cand.Debtor(), category: cand.Category}
		g, ok := groups[key]
		if !ok {
			g = &group{key: key}
			groups[key] = g
		}
		if cand.Side.Creditor() {
			g.credits = append(g.credits, cand)
		} else {
			g.debits = append(g.debits, cand)
		}
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if names[a.creditor] != names[b.creditor] {
			return names[a.creditor] < names[b.creditor]
		}
		if names[a.debtor] != names[b.debtor] {
			return names[a.debtor] < names[b.debtor]
		}
		if a.creditor != b.creditor {
			return a.creditor.String() < b.creditor.String()
		}
		if a.debtor != b.debtor {
			return a.debtor.String() < b.debtor.String()
		}
		return a.category < b.category
	})

	var (
		pairs     []Pair
		unmatched []Unmatched
		recon     []Reconciliation
		missing   []string
	)
	for _, k := range keys {
		g := groups[k]
		sortCandidates(g.credits)
		sortCandidates(g.debits)
		gp, gu, gm := matchGroup(g, names, tolerance)
		pairs = append(pairs, gp...)
		unmatched = append(unmatched, gu...)
		missing = append(missing, gm...)
		recon = append(recon, reconcile(g, gp, tolerance))
	}
	return pairs, unmatched, recon, missing
}

func sortCandidates(rows []Candidate) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i].Amount.Abs(), rows[j].Amount.Abs()
		if !a.Equal(b) {
			return a.GreaterThan(b)
		}
		if rows[i].AccountNumber != rows[j].AccountNumber {
			return rows[i].AccountNumber < rows[j].AccountNumber
		}
		return rows[i].ID.String() < rows[j].ID.String()
	})
}

func matchGroup(g *group, names map[uuid.UUID]string, tolerance decimal.Decimal) ([]Pair, []Unmatched, []string) {
	usedCredit := make([]bool, len(g.credits))
	usedDebit := make([]bool, len(g.debits))
	var (
		pairs   []Pair
		missing []string
		out     []Unmatched
	)
	pair := func(ci, di int) {
		usedCredit[ci], usedDebit[di] = true, true
		c, d := g.credits[ci], g.debits[di]
		ca, da := c.Amount.Abs(), d.Amount.Abs()
		diff := ca.Sub(da).Abs()
		p := Pair{
			Category:   g.key.category,
			CreditorID: g.key.creditor,
			DebtorID:   g.key.debtor,
			Creditor:   c,
			Debtor:     d,
			Matched:    consol.Round2(consol.MinAbs(ca, da)),
			Difference: consol.Round2(diff),
			Exact:      diff.LessThanOrEqual(tolerance),
		}
		pairs = append(pairs, p)
		if p.Exact {
			return
		}
		missing = append(missing, fmt.Sprintf(
			"Differenz %s zwischen %s %s (%s) und %s %s (%s)",
			consol.FormatAmount(diff),
			names[g.key.creditor], c.Label(), consol.FormatAmount(ca),
			names[g.key.debtor], d.Label(), consol.FormatAmount(da)))
		residual := c
		if da.GreaterThan(ca) {
			residual = d
		}
		out = append(out, Unmatched{
			Candidate: residual,
			Amount:    consol.Round2(diff),
			Reason:    "Restbetrag nach Abgleich",
		})
	}

	for ci := range g.credits {
		for di := range g.debits {
			if usedDebit[di] {
				continue
			}
			if g.credits[ci].Amount.Abs().Sub(g.debits[di].Amount.Abs()).Abs().LessThanOrEqual(tolerance) {
				pair(ci, di)
				break
			}
		}
	}
	for ci := range g.credits {
		if usedCredit[ci] {
			continue
		}
		best := -1
		var bestDiff decimal.Decimal
		for di := range g.debits {
			if usedDebit[di] {
				continue
			}
			diff := g.credits[ci].Amount.Abs().Sub(g.debits[di].Amount.Abs()).Abs()
			if best < 0 || diff.LessThan(bestDiff) {
				best, bestDiff = di, diff
			}
		}
		if best >= 0 {
			pair(ci, best)
		}
	}

	for ci, c := range g.credits {
		if usedCredit[ci] {
			continue
		}
		out = append(out, Unmatched{Candidate: c, Amount: consol.Round2(c.Amount.Abs()), Reason: "kein Gegenposten"})
		missing = append(missing, fmt.Sprintf("%s bei %s: kein Gegenposten bei %s über %s",
			c.Label(), names[c.CompanyID], names[g.key.debtor], consol.FormatAmount(c.Amount.Abs())))
	}
	for di, d := range g.debits {
		if usedDebit[di] {
			continue
		}
		out = append(out, Unmatched{Candidate: d, Amount: consol.Round2(d.Amount.Abs()), Reason: "kein Gegenposten"})
		missing = append(missing, fmt.Sprintf("%s bei %s: kein Gegenposten bei %s über %s",
			d.Label(), names[d.CompanyID], names[g.key.creditor], consol.FormatAmount(d.Amount.Abs())))
	}
	return pairs, out, missing
}

func reconcile(g *group, pairs []Pair, tolerance decimal.Decimal) Reconciliation {
	r := Reconciliation{
		Category:        g.key.category,
		CreditorID:      g.key.creditor,
		DebtorID:        g.key.debtor,
		ReceivableTotal: decimal.Zero,
		PayableTotal:    decimal.Zero,
		Matched:         decimal.Zero,
	}
	for _, c := range g.credits {
		r.ReceivableTotal = r.ReceivableTotal.Add(c.Amount.Abs())
	}
	for _, d := range g.debits {
		r.PayableTotal = r.PayableTotal.Add(d.Amount.Abs())
	}
	for _, p := range pairs {
		r.Matched = r.Matched.Add(p.Matched)
	}
	r.Difference = consol.Round2(r.ReceivableTotal.Sub(r.PayableTotal).Abs())
	r.Status = consol.ReconciliationOpen
	if r.Difference.LessThanOrEqual(tolerance) {
		r.Status = consol.ReconciliationCleared
	}
	return r
}

// Describe renders a pair for entry descriptions.
func (p Pair) Describe(names map[uuid.UUID]string) string {
	return fmt.Sprintf("%s %s an %s über %s", categoryLabels[p.Category], names[p.CreditorID], names[p.DebtorID], consol.FormatAmount(p.Matched))
}

var categoryLabels = map[Category]string{
	CategoryTrade:    "Forderung/Verbindlichkeit",
	CategoryLoan:     "Darlehen",
	CategoryInterest: "Zinsen",
	CategoryRevenue:  "Lieferung/Leistung",
}
