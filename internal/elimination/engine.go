package elimination

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/ic"
	"github.com/odyssey-erp/konzern/internal/consol/scope"
)

// Eliminator turns matched intercompany relationships into entries.
type Eliminator struct {
	emitter *consol.Emitter
	logger  *slog.Logger
}

// NewEliminator wires the entry writer and the optional lineage tracker.
func NewEliminator(entries consol.EntryWriter, lineage consol.LineageTracker, logger *slog.Logger) *Eliminator {
	return &Eliminator{
		emitter: consol.NewEmitter(entries, lineage, logger, "elimination"),
		logger:  logger,
	}
}

// Run eliminates debt, intercompany profit and revenue of a match result.
func (e *Eliminator) Run(ctx context.Context, target consol.FinancialStatement, sc scope.Scope, match ic.Result) (Summary, error) {
	summary := newSummary()
	debt, err := e.EliminateDebt(ctx, target, sc, match)
	if err != nil {
		return summary, err
	}
	summary.Merge(debt)
	profit, err := e.EliminateProfit(ctx, target, sc, match.Deliveries)
	if err != nil {
		return summary, err
	}
	summary.Merge(profit)
	revenue, err := e.EliminateRevenue(ctx, target, sc, match)
	if err != nil {
		return summary, err
	}
	summary.Merge(revenue)
	return summary, nil
}

// EliminateDebt emits a creditor and a debtor entry per matched receivable,
// loan or interest pair. Each entry offsets its own row, so both sum to zero.
func (e *Eliminator) EliminateDebt(ctx context.Context, target consol.FinancialStatement, sc scope.Scope, match ic.Result) (Summary, error) {
	if e == nil || e.emitter == nil {
		return Summary{}, fmt.Errorf("eliminator not initialised")
	}
	summary := newSummary()
	for _, u := range match.Unmatched {
		if u.Candidate.Category != ic.CategoryRevenue {
			summary.UnmatchedTransactions++
		}
	}
	pairs := match.PairsOf(ic.CategoryTrade, ic.CategoryLoan, ic.CategoryInterest)
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if e.emitPair(ctx, target, sc, p, &summary) {
			summary.PairsEliminated++
			summary.DebtEliminated = summary.DebtEliminated.Add(p.Matched)
		}
	}
	e.log().Info("eliminated intercompany debt",
		slog.String("statement_id", target.ID.String()),
		slog.Int("pairs", summary.PairsEliminated),
		slog.Int("unmatched", summary.UnmatchedTransactions),
		slog.String("amount", summary.DebtEliminated.StringFixed(2)))
	return summary, nil
}

// relation is a seller/buyer pair of group companies.
type relation struct {
	seller uuid.UUID
	buyer  uuid.UUID
}

// EliminateRevenue removes intercompany revenue and the buyer's expense.
// Explicit deliveries are eliminated at their full amount. Relationships
// known only from balances are eliminated at each row's full amount.
func (e *Eliminator) EliminateRevenue(ctx context.Context, target consol.FinancialStatement, sc scope.Scope, match ic.Result) (Summary, error) {
	if e == nil || e.emitter == nil {
		return Summary{}, fmt.Errorf("eliminator not initialised")
	}
	summary := newSummary()
	names := companyNames(sc)
	expenses := expenseRows(match)

	var order []relation
	delivered := make(map[relation]decimal.Decimal)
	for _, tx := range match.Deliveries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		amount := tx.Amount.Abs()
		if amount.IsZero() {
			continue
		}
		rel := relation{seller: tx.FromCompanyID, buyer: tx.ToCompanyID}
		if _, seen := delivered[rel]; !seen {
			order = append(order, rel)
		}
		delivered[rel] = delivered[rel].Add(amount)
		label := fmt.Sprintf("Lieferung %s an %s über %s", names[rel.seller], names[rel.buyer], consol.FormatAmount(amount))
		revenueAccount := tx.AccountID
		ok := e.emitRevenue(ctx, target, &summary, rel, &revenueAccount, amount, label+", Umsatz", consol.TransactionSource(tx))

		var expenseAccount *uuid.UUID
		source := consol.TransactionSource(tx)
		if rows := expenses[rel]; len(rows) > 0 {
			expenseAccount = consol.Ref(rows[0].AccountID)
			source = rows[0].Source()
		}
		if e.emitRevenue(ctx, target, &summary, rel, expenseAccount, amount.Neg(), label+", Aufwand", source) && ok {
			summary.PairsEliminated++
			summary.RevenueEliminated = summary.RevenueEliminated.Add(amount)
		}
	}
	for _, rel := range order {
		label := fmt.Sprintf("Lieferungen %s an %s", names[rel.seller], names[rel.buyer])
		rows := expenses[rel]
		if len(rows) == 0 {
			summary.MissingInfo = append(summary.MissingInfo, label+": kein Aufwand beim Empfänger gebucht, Aufwandsseite ohne Konto eliminiert")
			continue
		}
		if diff := candidateTotal(rows).Sub(delivered[rel]).Abs(); diff.GreaterThan(consol.DefaultTolerance) {
			summary.MissingInfo = append(summary.MissingInfo, fmt.Sprintf("%s: Aufwand %s weicht von den Lieferungen %s ab",
				label, consol.FormatAmount(candidateTotal(rows)), consol.FormatAmount(delivered[rel])))
		}
	}

	done := make(map[uuid.UUID]bool)
	var balanceOrder []relation
	balanceRows := make(map[relation][2]decimal.Decimal)
	for _, p := range match.PairsOf(ic.CategoryRevenue) {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		rel := relation{seller: p.CreditorID, buyer: p.DebtorID}
		if _, ok := delivered[rel]; ok {
			continue
		}
		totals, seen := balanceRows[rel]
		if !seen {
			balanceOrder = append(balanceOrder, rel)
		}
		for i, side := range []ic.Candidate{p.Creditor, p.Debtor} {
			if done[side.ID] {
				continue
			}
			done[side.ID] = true
			amount := side.Amount.Neg()
			account := side.AccountID
			description := fmt.Sprintf("%s (%s): %s", categoryRules[ic.CategoryRevenue].label, side.Label(), p.Describe(names))
			if e.emitRevenue(ctx, target, &summary, rel, &account, amount, description, side.Source()) {
				totals[i] = totals[i].Add(side.Amount.Abs())
			}
		}
		balanceRows[rel] = totals
	}
	for _, rel := range balanceOrder {
		totals := balanceRows[rel]
		summary.PairsEliminated++
		summary.RevenueEliminated = summary.RevenueEliminated.Add(totals[0])
		if totals[0].Sub(totals[1]).Abs().GreaterThan(consol.DefaultTolerance) {
			summary.MissingInfo = append(summary.MissingInfo, fmt.Sprintf("Zwischenumsatz %s an %s: Umsatz %s und Aufwand %s weichen ab",
				names[rel.seller], names[rel.buyer], consol.FormatAmount(totals[0]), consol.FormatAmount(totals[1])))
		}
	}

	for _, u := range match.Unmatched {
		if u.Candidate.Category != ic.CategoryRevenue || done[u.Candidate.ID] {
			continue
		}
		if _, ok := delivered[relation{seller: u.Candidate.Creditor(), buyer: u.Candidate.Debtor()}]; ok {
			continue
		}
		summary.UnmatchedTransactions++
	}
	return summary, nil
}

// expenseRows indexes the buyer-side rows of revenue relationships.
func expenseRows(match ic.Result) map[relation][]ic.Candidate {
	out := make(map[relation][]ic.Candidate)
	seen := make(map[uuid.UUID]bool)
	add := func(c ic.Candidate) {
		if c.Side != ic.SideExpense || seen[c.ID] {
			return
		}
		seen[c.ID] = true
		rel := relation{seller: c.Creditor(), buyer: c.Debtor()}
		out[rel] = append(out[rel], c)
	}
	for _, p := range match.PairsOf(ic.CategoryRevenue) {
		add(p.Debtor)
	}
	for _, u := range match.Unmatched {
		if u.Candidate.Category == ic.CategoryRevenue {
			add(u.Candidate)
		}
	}
	return out
}

func candidateTotal(rows []ic.Candidate) decimal.Decimal {
	total := decimal.Zero
	for _, c := range rows {
		total = total.Add(c.Amount.Abs())
	}
	return total
}

func (e *Eliminator) emitRevenue(ctx context.Context, target consol.FinancialStatement, summary *Summary, rel relation, account *uuid.UUID, amount decimal.Decimal, description string, source consol.LineageSource) bool {
	rule := categoryRules[ic.CategoryRevenue]
	entry := consol.ConsolidationEntry{
		FinancialStatementID: target.ID,
		AccountID:            account,
		AdjustmentType:       rule.adjustment,
		Amount:               amount,
		Description:          description,
		HgbReference:         consol.Ref(rule.hgb),
		AffectedCompanyIDs:   []uuid.UUID{rel.seller, rel.buyer},
	}
	stored, err := e.emitter.Emit(ctx, entry, source)
	if err != nil {
		summary.FailedInserts++
		summary.MissingInfo = append(summary.MissingInfo, description+": Eliminierungsbuchung konnte nicht gespeichert werden")
		return false
	}
	summary.Entries = append(summary.Entries, stored)
	return true
}

// emitPair writes both sides of a pair and reports whether both landed.
func (e *Eliminator) emitPair(ctx context.Context, target consol.FinancialStatement, sc scope.Scope, p ic.Pair, summary *Summary) bool {
	rule := categoryRules[p.Category]
	names := companyNames(sc)
	affected := []uuid.UUID{p.CreditorID, p.DebtorID}
	ok := true
	for _, side := range []ic.Candidate{p.Creditor, p.Debtor} {
		account := side.AccountID
		amount := p.Matched
		if side.Amount.IsPositive() {
			amount = amount.Neg()
		}
		entry := consol.ConsolidationEntry{
			FinancialStatementID: target.ID,
			AccountID:            &account,
			AdjustmentType:       rule.adjustment,
			Amount:               amount,
			Description:          fmt.Sprintf("%s (%s): %s", rule.label, side.Label(), p.Describe(names)),
			HgbReference:         consol.Ref(rule.hgb),
			AffectedCompanyIDs:   affected,
		}
		stored, err := e.emitter.Emit(ctx, entry, side.Source())
		if err != nil {
			ok = false
			summary.FailedInserts++
			summary.MissingInfo = append(summary.MissingInfo,
				fmt.Sprintf("%s: Eliminierungsbuchung konnte nicht gespeichert werden", side.Label()))
			continue
		}
		summary.Entries = append(summary.Entries, stored)
	}
	return ok
}

// ProfitToEliminate computes the unrealised profit held in remaining
// inventory: (price - cost) * remaining / price. The boolean is false when
// nothing has to be eliminated.
func ProfitToEliminate(price, cost, remaining decimal.Decimal) (decimal.Decimal, bool, error) {
	if price.IsZero() {
		return decimal.Zero, false, fmt.Errorf("selling price is zero: %w", consol.ErrComputation)
	}
	margin := price.Sub(cost)
	if !margin.IsPositive() || !remaining.IsPositive() {
		return decimal.Zero, false, nil
	}
	return consol.Round2(margin.Mul(remaining).Div(price)), true, nil
}

// EliminateProfit removes intercompany profit still held in group inventory.
// Missing cost basis or inventory data is reported, never defaulted to zero.
func (e *Eliminator) EliminateProfit(ctx context.Context, target consol.FinancialStatement, sc scope.Scope, deliveries []consol.IntercompanyTransaction) (Summary, error) {
	if e == nil || e.emitter == nil {
		return Summary{}, fmt.Errorf("eliminator not initialised")
	}
	summary := newSummary()
	names := companyNames(sc)
	for _, tx := range deliveries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		label := fmt.Sprintf("Lieferung %s an %s über %s", names[tx.FromCompanyID], names[tx.ToCompanyID], consol.FormatAmount(tx.Amount))
		if tx.AcquisitionCost == nil {
			summary.MissingInfo = append(summary.MissingInfo, label+": Anschaffungskosten fehlen")
			continue
		}
		if tx.RemainingInventory == nil {
			summary.MissingInfo = append(summary.MissingInfo, label+": Restbestand fehlt")
			continue
		}
		amount, ok, err := ProfitToEliminate(tx.Amount.Abs(), *tx.AcquisitionCost, *tx.RemainingInventory)
		if err != nil {
			summary.Skipped = append(summary.Skipped, fmt.Errorf("%s: %w", label, err))
			e.log().Warn("skipped intercompany profit", slog.String("transaction_id", tx.ID.String()), slog.Any("error", err))
			continue
		}
		if !ok {
			continue
		}
		account := tx.AccountID
		entry := consol.ConsolidationEntry{
			FinancialStatementID: target.ID,
			AccountID:            &account,
			AdjustmentType:       consol.AdjustmentIntercompanyProfit,
			Amount:               amount.Neg(),
			Description: fmt.Sprintf("Zwischenergebniseliminierung: %s, Marge %s, Restbestand %s",
				label,
				consol.FormatAmount(tx.Amount.Abs().Sub(*tx.AcquisitionCost)),
				consol.FormatAmount(*tx.RemainingInventory)),
			HgbReference:       consol.Ref(consol.Hgb304),
			AffectedCompanyIDs: []uuid.UUID{tx.ToCompanyID, tx.FromCompanyID},
		}
		stored, err := e.emitter.Emit(ctx, entry, consol.TransactionSource(tx))
		if err != nil {
			summary.FailedInserts++
			summary.MissingInfo = append(summary.MissingInfo, label+": Eliminierungsbuchung konnte nicht gespeichert werden")
			continue
		}
		summary.Entries = append(summary.Entries, stored)
		summary.ProfitEliminated = summary.ProfitEliminated.Add(amount)
	}
	return summary, nil
}

func companyNames(sc scope.Scope) map[uuid.UUID]string {
	names := make(map[uuid.UUID]string, len(sc.Companies)+1)
	names[sc.Parent.ID] = sc.Parent.Name
	for _, c := range sc.Companies {
		names[c.ID] = c.Name
	}
	return names
}

func (e *Eliminator) log() *slog.Logger {
	if e != nil && e.logger != nil {
		return e.logger.With(slog.String("component", "elimination"))
	}
	return slog.Default().With(slog.String("component", "elimination"))
}
