package capital

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

// ConsolidateProportional includes every joint venture of the scope at its
// quota and eliminates balances between the venture and its holder at the
// same quota.
func (c *Consolidator) ConsolidateProportional(ctx context.Context, target consol.FinancialStatement, sc scope.Scope) (Result, error) {
	if err := c.ready(); err != nil {
		return Result{}, err
	}
	res := newResult()
	for _, jv := range sc.Subsidiaries() {
		if jv.ConsolidationType != consol.ConsolidationProportional {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := c.consolidateJointVenture(ctx, target, sc, jv, &res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (c *Consolidator) consolidateJointVenture(ctx context.Context, target consol.FinancialStatement, sc scope.Scope, jv consol.Company, res *Result) error {
	p, found, err := c.participationFor(ctx, jv, sc)
	if err != nil {
		return err
	}
	if !found {
		res.MissingInfo = append(res.MissingInfo, fmt.Sprintf("%s: keine aktive Beteiligung für die Quotenkonsolidierung erfasst", jv.Name))
		return nil
	}
	stmt, ok, err := c.statementFor(ctx, jv.ID, target.FiscalYear)
	if err != nil {
		return err
	}
	if !ok {
		res.MissingInfo = append(res.MissingInfo, fmt.Sprintf("%s: kein Jahresabschluss %d vorhanden", jv.Name, target.FiscalYear))
		return nil
	}
	rows, err := c.repo.ListAccountBalances(ctx, stmt.ID, consol.BalanceFilter{})
	if err != nil {
		return fmt.Errorf("list balances of %s: %w", jv.ID, err)
	}

	quota := p.Quota()
	pct := p.Percentage.StringFixed(2)
	affected := []uuid.UUID{jv.ID, p.ParentCompanyID}
	summary := JointVentureResult{
		CompanyID:    jv.ID,
		Name:         jv.Name,
		Quota:        quota,
		Totals:       make(map[consol.AccountType]decimal.Decimal, len(accountTypeLabels)),
		Included:     make(map[consol.AccountType]decimal.Decimal, len(accountTypeLabels)),
		ICEliminated: decimal.Zero,
	}
	for _, b := range rows {
		total, ok := summary.Totals[b.AccountType]
		if !ok {
			total = decimal.Zero
		}
		summary.Totals[b.AccountType] = total.Add(b.Balance)

		included := consol.Round2(b.Balance.Mul(quota))
		if included.IsZero() {
			continue
		}
		if _, ok := c.emit(ctx, res, consol.ConsolidationEntry{
			FinancialStatementID: target.ID,
			AccountID:            consol.Ref(b.AccountID),
			AdjustmentType:       consol.AdjustmentOther,
			Amount:               included,
			Description: fmt.Sprintf("Quotenkonsolidierung: %s - Anteilige Einbeziehung (%s %%) %s %s %s",
				jv.Name, pct, accountTypeLabels[b.AccountType], b.AccountNumber, b.AccountName),
			HgbReference:       consol.Ref(consol.Hgb310),
			AffectedCompanyIDs: affected,
		}, consol.BalanceSource(b)); ok {
			sum, found := summary.Included[b.AccountType]
			if !found {
				sum = decimal.Zero
			}
			summary.Included[b.AccountType] = sum.Add(included)
		}
	}

	eliminated, err := c.eliminateJointVentureBalances(ctx, target, sc, jv, p, rows, res)
	if err != nil {
		return err
	}
	summary.ICEliminated = eliminated
	res.JointVentures = append(res.JointVentures, summary)
	c.log().Info("consolidated joint venture",
		slog.String("company_id", jv.ID.String()),
		slog.String("quota", pct),
		slog.String("ic_eliminated", eliminated.StringFixed(2)))
	return nil
}

// eliminateJointVentureBalances removes the quota share of balances the
// venture and its holder carry against each other.
func (c *Consolidator) eliminateJointVentureBalances(ctx context.Context, target consol.FinancialStatement, sc scope.Scope, jv consol.Company, p consol.Participation, jvRows []consol.AccountBalance, res *Result) (decimal.Decimal, error) {
	holder := consol.Company{ID: p.ParentCompanyID, Name: c.companyName(ctx, sc, p.ParentCompanyID)}
	pair := []consol.Company{holder, jv}

	var candidates []consol.AccountBalance
	for _, b := range jvRows {
		if b.IsIntercompany {
			candidates = append(candidates, b)
		}
	}
	holderStmt, ok, err := c.statementFor(ctx, holder.ID, target.FiscalYear)
	if err != nil {
		return decimal.Zero, err
	}
	if ok {
		rows, err := c.repo.ListAccountBalances(ctx, holderStmt.ID, consol.BalanceFilter{IntercompanyOnly: true})
		if err != nil {
			return decimal.Zero, fmt.Errorf("list intercompany balances of %s: %w", holder.ID, err)
		}
		candidates = append(candidates, rows...)
	}

	quota := p.Quota()
	total := decimal.Zero
	for _, b := range candidates {
		cand, diag := ic.ClassifyBalance(b, pair)
		if diag != "" || cand.Amount.IsZero() {
			continue
		}
		other := holder.ID
		if b.CompanyID == holder.ID {
			other = jv.ID
		}
		if cand.CounterpartyID != other {
			continue
		}
		amount := consol.Round2(b.Balance.Mul(quota))
		if _, ok := c.emit(ctx, res, consol.ConsolidationEntry{
			FinancialStatementID: target.ID,
			AccountID:            consol.Ref(b.AccountID),
			AdjustmentType:       consol.AdjustmentElimination,
			Amount:               amount.Neg(),
			Description: fmt.Sprintf("Quotenkonsolidierung: %s - Eliminierung konzerninterner Salden %s (%s %%)",
				jv.Name, cand.Label(), p.Percentage.StringFixed(2)),
			HgbReference:       consol.Ref(consol.Hgb310),
			AffectedCompanyIDs: []uuid.UUID{jv.ID, holder.ID},
		}, consol.BalanceSource(b)); ok {
			total = total.Add(amount.Abs())
		}
	}
	return total, nil
}
