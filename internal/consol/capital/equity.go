package capital

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/scope"
)

var (
	associateFloor   = decimal.NewFromInt(20)
	associateCeiling = decimal.NewFromInt(50)
)

// EquityMethodApplies reports whether a stake is accounted for at equity:
// companies typed as associates, or 20 to under 50 percent stakes in
// companies that are not consolidated line by line or at quota.
func EquityMethodApplies(company consol.Company, p consol.Participation, sc scope.Scope) bool {
	switch company.ConsolidationType {
	case consol.ConsolidationEquity:
		return true
	case consol.ConsolidationProportional:
		return false
	}
	if p.Percentage.LessThan(associateFloor) || p.Percentage.GreaterThanOrEqual(associateCeiling) {
		return false
	}
	return !sc.Contains(company.ID)
}

// RollForward computes the closing carrying value of an associate.
func RollForward(r consol.EquityMethodResult) decimal.Decimal {
	return consol.Round2(r.OpeningValue.
		Add(r.ShareOfProfit).
		Sub(r.DividendsReceived).
		Sub(r.Amortization).
		Add(r.OtherAdjustments))
}

// ApplyEquityMethod rolls forward every associate held by a scope company.
func (c *Consolidator) ApplyEquityMethod(ctx context.Context, target consol.FinancialStatement, sc scope.Scope) (Result, error) {
	if err := c.ready(); err != nil {
		return Result{}, err
	}
	res := newResult()
	holders := sc.IDs()
	if !sc.Contains(sc.Parent.ID) {
		holders = append(holders, sc.Parent.ID)
	}
	parts, err := c.repo.ListParticipations(ctx, consol.ParticipationFilter{
		ParentCompanyIDs: holders,
		ActiveOnly:       true,
	})
	if err != nil {
		return res, fmt.Errorf("list participations: %w", err)
	}
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		associate, err := c.repo.GetCompany(ctx, p.SubsidiaryCompanyID)
		if errors.Is(err, consol.ErrNotFound) {
			res.MissingInfo = append(res.MissingInfo, fmt.Sprintf("Beteiligung %s: Unternehmen %s nicht gefunden", p.ID, p.SubsidiaryCompanyID))
			continue
		}
		if err != nil {
			return res, fmt.Errorf("get associate %s: %w", p.SubsidiaryCompanyID, err)
		}
		if !EquityMethodApplies(associate, p, sc) {
			continue
		}
		if err := c.applyEquityMethod(ctx, target, sc, associate, p, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (c *Consolidator) applyEquityMethod(ctx context.Context, target consol.FinancialStatement, sc scope.Scope, associate consol.Company, p consol.Participation, res *Result) error {
	year := target.FiscalYear
	opening := p.AcquisitionCost
	prev, err := c.repo.LatestEquityMethodResult(ctx, p.ID, year)
	switch {
	case err == nil:
		opening = prev.ClosingValue
	case !errors.Is(err, consol.ErrNotFound):
		return fmt.Errorf("latest equity method result of %s: %w", p.ID, err)
	}

	stmt, ok, err := c.statementFor(ctx, associate.ID, year)
	if err != nil {
		return err
	}
	if !ok {
		res.MissingInfo = append(res.MissingInfo, fmt.Sprintf("%s: kein Jahresabschluss %d des assoziierten Unternehmens vorhanden", associate.Name, year))
		return nil
	}
	netIncome, source, err := c.netIncome(ctx, stmt)
	if err != nil {
		return err
	}
	dividends, err := c.dividendsReceived(ctx, associate.ID, p.ParentCompanyID, year)
	if err != nil {
		return err
	}

	quota := p.Quota()
	goodwill := p.Goodwill
	if !goodwill.IsPositive() {
		if p.EquityAtAcquisition == nil {
			goodwill = decimal.Zero
			res.MissingInfo = append(res.MissingInfo, fmt.Sprintf("%s: Eigenkapital zum Erwerbszeitpunkt fehlt, Geschäftswert nicht ermittelbar", associate.Name))
		} else {
			goodwill = decimal.Max(decimal.Zero, p.AcquisitionCost.Sub(p.EquityAtAcquisition.Mul(quota)))
		}
	}
	life := p.UsefulLifeYears
	if life <= 0 {
		life = c.usefulLife
	}

	run := consol.EquityMethodResult{
		ParticipationID:   p.ID,
		StatementID:       target.ID,
		AssociateID:       associate.ID,
		FiscalYear:        year,
		OpeningValue:      opening,
		ShareOfProfit:     consol.Round2(netIncome.Mul(quota)),
		DividendsReceived: consol.Round2(dividends),
		Amortization:      consol.Round2(goodwill.Div(decimal.NewFromInt(int64(life)))),
		OtherAdjustments:  decimal.Zero,
		NetIncomeSource:   source,
	}
	run.ClosingValue = RollForward(run)

	holderName := c.companyName(ctx, sc, p.ParentCompanyID)
	affected := []uuid.UUID{associate.ID, p.ParentCompanyID}
	partSource := consol.ParticipationSource(p, fmt.Sprintf("Beteiligung %s an %s", holderName, associate.Name))
	var accountID *uuid.UUID
	account, ok, err := c.participationAccount(ctx, p.ParentCompanyID, year, associate.Name)
	if err != nil {
		return err
	}
	if ok {
		accountID = consol.Ref(account.AccountID)
	} else {
		res.MissingInfo = append(res.MissingInfo, fmt.Sprintf("%s: Beteiligungskonto bei %s nicht gefunden", associate.Name, holderName))
	}

	entries := []consol.ConsolidationEntry{{
		AdjustmentType: consol.AdjustmentOther,
		Amount:         run.ShareOfProfit,
		Description: fmt.Sprintf("Equity-Methode %s: anteiliges Jahresergebnis %s (%s %%)",
			associate.Name, consol.FormatAmount(run.ShareOfProfit), p.Percentage.StringFixed(2)),
	}}
	if run.DividendsReceived.IsPositive() {
		entries = append(entries, consol.ConsolidationEntry{
			AdjustmentType: consol.AdjustmentElimination,
			Amount:         run.DividendsReceived.Neg(),
			Description:    fmt.Sprintf("Equity-Methode %s: Eliminierung vereinnahmter Dividenden %s", associate.Name, consol.FormatAmount(run.DividendsReceived)),
		})
	}
	if run.Amortization.IsPositive() {
		entries = append(entries, consol.ConsolidationEntry{
			AdjustmentType: consol.AdjustmentOther,
			Amount:         run.Amortization.Neg(),
			Description:    fmt.Sprintf("Equity-Methode %s: Abschreibung Geschäftswert (%d Jahre)", associate.Name, life),
		})
	}
	for _, e := range entries {
		e.FinancialStatementID = target.ID
		e.AccountID = accountID
		e.HgbReference = consol.Ref(consol.Hgb312)
		e.AffectedCompanyIDs = affected
		if stored, ok := c.emit(ctx, res, e, partSource); ok {
			run.EntryIDs = append(run.EntryIDs, stored.ID)
		}
	}

	saved, err := c.repo.SaveEquityMethodResult(ctx, run)
	if err != nil {
		return fmt.Errorf("save equity method result of %s: %w", p.ID, err)
	}
	res.EquityMethod = append(res.EquityMethod, saved)
	c.log().Info("applied equity method",
		slog.String("associate_id", associate.ID.String()),
		slog.String("net_income_source", source),
		slog.String("closing", saved.ClosingValue.StringFixed(2)))
	return nil
}

// netIncome prefers the dedicated income statement and falls back to the
// negated sum of revenue and expense balances.
func (c *Consolidator) netIncome(ctx context.Context, stmt consol.FinancialStatement) (decimal.Decimal, string, error) {
	lines, err := c.repo.ListIncomeStatementBalances(ctx, stmt.ID)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("list income statement of %s: %w", stmt.ID, err)
	}
	if len(lines) > 0 {
		total := decimal.Zero
		for _, l := range lines {
			if l.IsIncome {
				total = total.Add(l.Amount)
			} else {
				total = total.Sub(l.Amount)
			}
		}
		return total, NetIncomeFromIncomeStatement, nil
	}
	rows, err := c.repo.ListAccountBalances(ctx, stmt.ID, consol.BalanceFilter{
		AccountTypes: []consol.AccountType{consol.AccountRevenue, consol.AccountExpense},
	})
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("list result accounts of %s: %w", stmt.ID, err)
	}
	total := decimal.Zero
	for _, b := range rows {
		total = total.Sub(b.Balance)
	}
	return total, NetIncomeFromBalances, nil
}

// dividendsReceived sums dividends the associate paid to the holder in the year.
func (c *Consolidator) dividendsReceived(ctx context.Context, associateID, holderID uuid.UUID, year int) (decimal.Decimal, error) {
	stmts, err := c.repo.ListFinancialStatements(ctx, consol.StatementFilter{
		CompanyIDs: []uuid.UUID{associateID, holderID},
		FiscalYear: year,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("list statements for dividends: %w", err)
	}
	if len(stmts) == 0 {
		return decimal.Zero, nil
	}
	ids := make([]uuid.UUID, 0, len(stmts))
	for _, s := range stmts {
		ids = append(ids, s.ID)
	}
	txs, err := c.repo.ListIntercompanyTransactions(ctx, consol.TransactionFilter{
		StatementIDs: ids,
		Types:        []consol.TransactionType{consol.TransactionDividend},
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("list dividends: %w", err)
	}
	total := decimal.Zero
	for _, t := range txs {
		if t.FromCompanyID == associateID && t.ToCompanyID == holderID {
			total = total.Add(t.Amount.Abs())
		}
	}
	return total, nil
}
