package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol"
	"github.com/odyssey-erp/konzern/internal/consol/ic"
	"github.com/odyssey-erp/konzern/internal/consol/scope"
	"github.com/odyssey-erp/konzern/internal/lineage"
)

// Summarize counts entries per kind. Entries under §312 count as equity
// method and entries under §310 as proportional regardless of their type.
func Summarize(entries []consol.ConsolidationEntry) Summary {
	s := Summary{TotalAmount: decimal.Zero}
	for _, e := range entries {
		s.TotalEntries++
		s.TotalAmount = s.TotalAmount.Add(e.Amount.Abs())
		if e.HgbReference != nil {
			switch *e.HgbReference {
			case consol.Hgb312:
				s.EquityMethod++
				continue
			case consol.Hgb310:
				s.Proportional++
				continue
			}
		}
		switch e.AdjustmentType {
		case consol.AdjustmentDebtConsolidation:
			s.DebtConsolidations++
		case consol.AdjustmentCapitalConsolidation:
			s.CapitalConsolidations++
		case consol.AdjustmentDeferredTax:
			s.DeferredTax++
		case consol.AdjustmentMinorityInterest:
			s.MinorityInterest++
		case consol.AdjustmentElimination, consol.AdjustmentIntercompanyProfit, consol.AdjustmentIncomeExpense:
			s.IntercompanyEliminations++
		}
	}
	s.TotalAmount = consol.Round2(s.TotalAmount)
	return s
}

// consolidatedValues sums, per account, the balances of every fully
// consolidated company and the approved entries of the target statement.
// Joint ventures and associates enter only through their entries; their
// balances only name the accounts those entries post to.
func (s *Service) consolidatedValues(ctx context.Context, target consol.FinancialStatement, sc scope.Scope) ([]lineage.ConsolidatedValue, error) {
	full := make(map[uuid.UUID]bool, len(sc.Companies))
	for _, c := range sc.Companies {
		full[c.ID] = ic.FullyConsolidated(c)
	}
	statements, err := s.store.ListFinancialStatements(ctx, consol.StatementFilter{
		CompanyIDs: sc.IDs(),
		FiscalYear: target.FiscalYear,
	})
	if err != nil {
		return nil, fmt.Errorf("list group statements: %w", err)
	}

	type accountName struct{ code, name string }
	names := make(map[uuid.UUID]accountName)
	values := make(map[uuid.UUID]*lineage.ConsolidatedValue)
	order := make([]uuid.UUID, 0)
	value := func(accountID uuid.UUID, code, name string) *lineage.ConsolidatedValue {
		v, ok := values[accountID]
		if !ok {
			v = &lineage.ConsolidatedValue{
				AccountID:   accountID,
				AccountCode: code,
				AccountName: name,
				Amount:      decimal.Zero,
				FiscalYear:  target.FiscalYear,
			}
			values[accountID] = v
			order = append(order, accountID)
		}
		return v
	}

	for _, stmt := range statements {
		balances, err := s.store.ListAccountBalances(ctx, stmt.ID, consol.BalanceFilter{})
		if err != nil {
			return nil, fmt.Errorf("list balances of statement %s: %w", stmt.ID, err)
		}
		for _, b := range balances {
			if !full[stmt.CompanyID] {
				names[b.AccountID] = accountName{b.AccountNumber, b.AccountName}
				continue
			}
			v := value(b.AccountID, b.AccountNumber, b.AccountName)
			v.Amount = v.Amount.Add(b.Balance)
			v.Sources = append(v.Sources, consol.BalanceSource(b))
		}
	}

	entries, err := s.store.ListConsolidationEntries(ctx, consol.EntryFilter{
		FinancialStatementID: target.ID,
		Statuses:             []consol.EntryStatus{consol.EntryApproved},
	})
	if err != nil {
		return nil, fmt.Errorf("list approved entries: %w", err)
	}
	for _, e := range entries {
		account := e.TargetAccountID()
		if account == nil {
			continue
		}
		n, ok := names[*account]
		if !ok {
			n = accountName{shortCode(*account), e.Description}
		}
		v := value(*account, n.code, n.name)
		v.Amount = v.Amount.Add(e.Amount)
		if v.HgbSection == "" && e.HgbReference != nil {
			v.HgbSection = lineage.HgbSection(e.HgbReference)
		}
		v.Sources = append(v.Sources, consol.EntrySourceOf(e))
	}

	out := make([]lineage.ConsolidatedValue, 0, len(order))
	for _, id := range order {
		out = append(out, *values[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AccountCode < out[j].AccountCode
	})
	return out, nil
}

func shortCode(id uuid.UUID) string {
	return id.String()[:8]
}
