package deferredtax

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/konzern/internal/consol"
)

// SourceTotals splits the positions of one source into assets and liabilities.
type SourceTotals struct {
	Assets      decimal.Decimal
	Liabilities decimal.Decimal
}

// Summary aggregates active deferred tax positions.
type Summary struct {
	TotalAssets         decimal.Decimal
	TotalLiabilities    decimal.Decimal
	Net                 decimal.Decimal
	ChangeFromPriorYear decimal.Decimal
	Positions           int
	BySource            map[consol.DeferredTaxSource]SourceTotals
}

// Summarize totals the active positions. Net is assets minus liabilities.
func Summarize(rows []consol.DeferredTax) Summary {
	s := Summary{
		TotalAssets:         decimal.Zero,
		TotalLiabilities:    decimal.Zero,
		Net:                 decimal.Zero,
		ChangeFromPriorYear: decimal.Zero,
		BySource:            make(map[consol.DeferredTaxSource]SourceTotals),
	}
	for _, row := range rows {
		if row.Status != consol.DeferredTaxActive {
			continue
		}
		s.Positions++
		totals, ok := s.BySource[row.Source]
		if !ok {
			totals = SourceTotals{Assets: decimal.Zero, Liabilities: decimal.Zero}
		}
		if row.IsAsset() {
			s.TotalAssets = s.TotalAssets.Add(row.DeferredTaxAmount)
			totals.Assets = totals.Assets.Add(row.DeferredTaxAmount)
		} else {
			s.TotalLiabilities = s.TotalLiabilities.Add(row.DeferredTaxAmount)
			totals.Liabilities = totals.Liabilities.Add(row.DeferredTaxAmount)
		}
		s.BySource[row.Source] = totals
		s.ChangeFromPriorYear = s.ChangeFromPriorYear.Add(row.ChangeAmount)
	}
	s.Net = s.TotalAssets.Sub(s.TotalLiabilities)
	return s
}
