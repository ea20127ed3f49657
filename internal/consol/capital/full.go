package capital

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/ic"
	"github.com/odyssey-erp/konzern/internal/consol/scope"
)

// goodwillThreshold suppresses rounding noise in the difference.
var goodwillThreshold = decimal.RequireFromString("0.01")

// Goodwill returns acquisition cost minus the revalued equity share. A
// negative result is a negative goodwill (passiver Unterschiedsbetrag).
func Goodwill(cost, equity, hiddenReserves, quota decimal.Decimal) (share, goodwill decimal.Decimal) {
	share = consol.Round2(equity.Add(hiddenReserves).Mul(quota))
	return share, consol.Round2(cost.Sub(share))
}

// ConsolidateFull eliminates the investment of every fully consolidated
// subsidiary against its equity and books goodwill and minority interest.
func (c *Consolidator) ConsolidateFull(ctx context.Context, target consol.FinancialStatement, sc scope.Scope) (Result, error) {
	if err := c.ready(); err != nil {
		return Result{}, err
	}
	res := newResult()
	for _, sub := range sc.Subsidiaries() {
		if !ic.FullyConsolidated(sub) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := c.consolidateSubsidiary(ctx, target, sc, sub, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (c *Consolidator) consolidateSubsidiary(ctx context.Context, target consol.FinancialStatement, sc scope.Scope, sub consol.Company, res *Result) error {
	p, found, err := c.participationFor(ctx, sub, sc)
	if err != nil {
		return err
	}
	if !found {
		res.MissingInfo = append(res.MissingInfo, fmt.Sprintf("%s: keine Beteiligung erfasst, Kapitalkonsolidierung übersprungen", sub.Name))
		c.log().Warn("participation missing, capital consolidation skipped", slog.String("company_id", sub.ID.String()))
		return nil
	}
	if !p.AcquisitionCost.IsPositive() {
		res.MissingInfo = append(res.MissingInfo, fmt.Sprintf("%s: Anschaffungskosten der Beteiligung fehlen, Kapitalkonsolidierung übersprungen", sub.Name))
		return nil
	}
	stmt, ok, err := c.statementFor(ctx, sub.ID, target.FiscalYear)
	if err != nil {
		return err
	}
	if !ok {
		res.MissingInfo = append(res.MissingInfo, fmt.Sprintf("%s: kein Jahresabschluss %d vorhanden", sub.Name, target.FiscalYear))
		return nil
	}
	equityRows, err := c.repo.ListAccountBalances(ctx, stmt.ID, consol.BalanceFilter{
		AccountTypes: []consol.AccountType{consol.AccountEquity},
	})
	if err != nil {
		return fmt.Errorf("list equity of %s: %w", sub.ID, err)
	}

	equity := decimal.Zero
	for _, b := range equityRows {
		equity = equity.Sub(b.Balance)
	}
	equityForGoodwill := equity
	if p.EquityAtAcquisition != nil {
		equityForGoodwill = *p.EquityAtAcquisition
	}
	quota := p.Quota()
	share, goodwill := Goodwill(p.AcquisitionCost, equityForGoodwill, p.HiddenReserves, quota)

	summary := SubsidiaryResult{
		CompanyID:          sub.ID,
		Name:               sub.Name,
		Percentage:         p.Percentage,
		AcquisitionCost:    p.AcquisitionCost,
		Equity:             equity,
		HiddenReserves:     p.HiddenReserves,
		ProportionalEquity: share,
		Goodwill:           decimal.Zero,
		NegativeGoodwill:   decimal.Zero,
		MinorityInterest:   decimal.Zero,
	}
	affected := []uuid.UUID{p.ParentCompanyID, sub.ID}
	holderName := c.companyName(ctx, sc, p.ParentCompanyID)
	partSource := consol.ParticipationSource(p, fmt.Sprintf("Beteiligung %s an %s", holderName, sub.Name))

	// Investment.
	investment := consol.ConsolidationEntry{
		FinancialStatementID: target.ID,
		AdjustmentType:       consol.AdjustmentCapitalConsolidation,
		Amount:               p.AcquisitionCost.Neg(),
		Description:          fmt.Sprintf("Kapitalkonsolidierung %s: Eliminierung Beteiligungsbuchwert %s", sub.Name, consol.FormatAmount(p.AcquisitionCost)),
		HgbReference:         consol.Ref(consol.Hgb301),
		AffectedCompanyIDs:   affected,
	}
	sources := []consol.LineageSource{partSource}
	account, ok, err := c.participationAccount(ctx, p.ParentCompanyID, target.FiscalYear, sub.Name)
	if err != nil {
		return err
	}
	if ok {
		investment.AccountID = consol.Ref(account.AccountID)
		sources = append(sources, consol.BalanceSource(account))
	} else {
		res.MissingInfo = append(res.MissingInfo, fmt.Sprintf("%s: Beteiligungskonto bei %s nicht gefunden", sub.Name, holderName))
	}
	c.emit(ctx, res, investment, sources...)

	// Equity at acquisition, scaled to the recorded figure when one exists.
	scale := quota
	if p.EquityAtAcquisition != nil && !equity.IsZero() {
		scale = quota.Mul(p.EquityAtAcquisition.Div(equity))
	}
	if p.EquityAtAcquisition != nil && equity.IsZero() {
		c.emit(ctx, res, consol.ConsolidationEntry{
			FinancialStatementID: target.ID,
			AdjustmentType:       consol.AdjustmentCapitalConsolidation,
			Amount:               p.EquityAtAcquisition.Mul(quota),
			Description:          fmt.Sprintf("Kapitalkonsolidierung %s: Eliminierung Eigenkapital zum Erwerbszeitpunkt", sub.Name),
			HgbReference:         consol.Ref(consol.Hgb301),
			AffectedCompanyIDs:   affected,
		}, partSource)
	}
	for _, b := range equityRows {
		if b.Balance.IsZero() {
			continue
		}
		c.emit(ctx, res, consol.ConsolidationEntry{
			FinancialStatementID: target.ID,
			AccountID:            consol.Ref(b.AccountID),
			AdjustmentType:       consol.AdjustmentCapitalConsolidation,
			Amount:               b.Balance.Neg().Mul(scale),
			Description:          fmt.Sprintf("Kapitalkonsolidierung %s: Eliminierung %s (%s %%)", sub.Name, b.AccountName, p.Percentage.StringFixed(2)),
			HgbReference:         consol.Ref(consol.Hgb301),
			AffectedCompanyIDs:   affected,
		}, consol.BalanceSource(b))
	}

	if !p.HiddenReserves.IsZero() {
		c.emit(ctx, res, consol.ConsolidationEntry{
			FinancialStatementID: target.ID,
			AdjustmentType:       consol.AdjustmentCapitalConsolidation,
			Amount:               p.HiddenReserves.Mul(quota),
			Description:          fmt.Sprintf("Kapitalkonsolidierung %s: Aufdeckung stiller Reserven", sub.Name),
			HgbReference:         consol.Ref(consol.Hgb301),
			AffectedCompanyIDs:   affected,
		}, partSource)
	}

	switch {
	case goodwill.GreaterThan(goodwillThreshold):
		if _, ok := c.emit(ctx, res, consol.ConsolidationEntry{
			FinancialStatementID: target.ID,
			AdjustmentType:       consol.AdjustmentCapitalConsolidation,
			Amount:               goodwill,
			Description:          fmt.Sprintf("Kapitalkonsolidierung %s: Geschäfts- oder Firmenwert %s", sub.Name, consol.FormatAmount(goodwill)),
			HgbReference:         consol.Ref(consol.Hgb301),
			AffectedCompanyIDs:   affected,
		}, partSource); ok {
			summary.Goodwill = goodwill
			res.TotalGoodwill = res.TotalGoodwill.Add(goodwill)
			if err := c.amortizeGoodwill(ctx, target, sub, p, goodwill, &summary, res); err != nil {
				return err
			}
		}
	case goodwill.LessThan(goodwillThreshold.Neg()):
		if _, ok := c.emit(ctx, res, consol.ConsolidationEntry{
			FinancialStatementID: target.ID,
			AdjustmentType:       consol.AdjustmentCapitalConsolidation,
			Amount:               goodwill,
			Description:          fmt.Sprintf("Kapitalkonsolidierung %s: passiver Unterschiedsbetrag %s", sub.Name, consol.FormatAmount(goodwill.Abs())),
			HgbReference:         consol.Ref(consol.Hgb301),
			AffectedCompanyIDs:   affected,
		}, partSource); ok {
			summary.NegativeGoodwill = goodwill.Abs()
			res.TotalNegativeGoodwill = res.TotalNegativeGoodwill.Add(goodwill.Abs())
		}
	}

	minorityQuota := decimal.NewFromInt(1).Sub(quota)
	if minorityQuota.IsPositive() && !equity.IsZero() {
		minority := consol.Round2(equity.Mul(minorityQuota))
		largest := largestBalance(equityRows)
		desc := fmt.Sprintf("Anteile anderer Gesellschafter an %s (%s %%)", sub.Name, minorityQuota.Mul(consol.Hundred()).StringFixed(2))
		_, okEquity := c.emit(ctx, res, consol.ConsolidationEntry{
			FinancialStatementID: target.ID,
			AccountID:            consol.Ref(largest.AccountID),
			AdjustmentType:       consol.AdjustmentMinorityInterest,
			Amount:               minority,
			Description:          desc + ": Umgliederung aus dem Eigenkapital",
			HgbReference:         consol.Ref(consol.Hgb307),
			AffectedCompanyIDs:   affected,
		}, consol.BalanceSource(largest))
		_, okOffset := c.emit(ctx, res, consol.ConsolidationEntry{
			FinancialStatementID: target.ID,
			AdjustmentType:       consol.AdjustmentMinorityInterest,
			Amount:               minority.Neg(),
			Description:          desc + ": Ausgleichsposten für Anteile anderer Gesellschafter",
			HgbReference:         consol.Ref(consol.Hgb307),
			AffectedCompanyIDs:   affected,
		}, consol.BalanceSource(largest))
		if okEquity && okOffset {
			summary.MinorityInterest = minority
			res.TotalMinorityInterest = res.TotalMinorityInterest.Add(minority)
		}
	}

	res.Subsidiaries = append(res.Subsidiaries, summary)
	c.log().Info("consolidated subsidiary capital",
		slog.String("company_id", sub.ID.String()),
		slog.String("percentage", p.Percentage.StringFixed(2)),
		slog.String("goodwill", goodwill.StringFixed(2)))
	return nil
}

// amortizeGoodwill books the straight-line write-down of the year and
// stores the accumulated amount for the next fiscal year. Without a stored
// schedule the years since acquisition count as already written down.
func (c *Consolidator) amortizeGoodwill(ctx context.Context, target consol.FinancialStatement, sub consol.Company, p consol.Participation, goodwill decimal.Decimal, summary *SubsidiaryResult, res *Result) error {
	year := target.FiscalYear
	life := p.UsefulLifeYears
	if life <= 0 {
		life = c.usefulLife
	}
	annual := consol.Round2(goodwill.Div(decimal.NewFromInt(int64(life))))

	accumulated := decimal.Zero
	prev, err := c.repo.LatestGoodwillAmortization(ctx, p.ID, year)
	switch {
	case err == nil:
		accumulated = decimal.Min(goodwill, prev.AccumulatedAmortization)
	case !errors.Is(err, consol.ErrNotFound):
		return fmt.Errorf("latest goodwill amortization of %s: %w", p.ID, err)
	case p.AcquisitionDate != nil && p.AcquisitionDate.Year() < year:
		elapsed := decimal.NewFromInt(int64(year - p.AcquisitionDate.Year()))
		accumulated = decimal.Min(goodwill, annual.Mul(elapsed))
	}

	row := consol.GoodwillAmortization{
		ParticipationID:         p.ID,
		StatementID:             target.ID,
		SubsidiaryID:            sub.ID,
		FiscalYear:              year,
		Goodwill:                goodwill,
		UsefulLifeYears:         life,
		Amortization:            decimal.Zero,
		AccumulatedAmortization: accumulated,
	}
	// The last year takes the rounding remainder.
	amount := decimal.Min(annual, goodwill.Sub(accumulated))
	if amount.IsPositive() {
		stored, ok := c.emit(ctx, res, consol.ConsolidationEntry{
			FinancialStatementID: target.ID,
			AdjustmentType:       consol.AdjustmentOther,
			Amount:               amount.Neg(),
			Description: fmt.Sprintf("Kapitalkonsolidierung %s: Abschreibung Geschäfts- oder Firmenwert %s (%d Jahre)",
				sub.Name, consol.FormatAmount(amount), life),
			HgbReference:       consol.Ref(consol.Hgb309),
			AffectedCompanyIDs: []uuid.UUID{p.ParentCompanyID, sub.ID},
		}, consol.ParticipationSource(p, fmt.Sprintf("Geschäfts- oder Firmenwert %s", sub.Name)))
		if ok {
			row.Amortization = amount
			row.AccumulatedAmortization = accumulated.Add(amount)
			row.EntryIDs = []uuid.UUID{stored.ID}
		}
	}
	row.CarryingValue = goodwill.Sub(row.AccumulatedAmortization)

	saved, err := c.repo.SaveGoodwillAmortization(ctx, row)
	if err != nil {
		return fmt.Errorf("save goodwill amortization of %s: %w", p.ID, err)
	}
	summary.Amortization = saved.Amortization
	summary.AccumulatedAmortization = saved.AccumulatedAmortization
	return nil
}

func largestBalance(rows []consol.AccountBalance) consol.AccountBalance {
	var best consol.AccountBalance
	for i, b := range rows {
		if i == 0 || b.Balance.Abs().GreaterThan(best.Balance.Abs()) {
			best = b
		}
	}
	return best
}
