package consol

import (
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	hundred = decimal.NewFromInt(100)

	// DefaultTolerance is the largest difference treated as an exact match.
	DefaultTolerance = decimal.RequireFromString("0.01")
	// DefaultTaxRate is the combined corporate and trade tax rate in percent.
	DefaultTaxRate = decimal.NewFromInt(30)
	// DefaultUsefulLifeYears is the goodwill amortisation period.
	DefaultUsefulLifeYears = 10
)

// Hundred exposes the percent base.
func Hundred() decimal.Decimal { return hundred }

// Round2 rounds a currency amount.
func Round2(v decimal.Decimal) decimal.Decimal { return v.Round(2) }

// Round4 rounds a percentage.
func Round4(v decimal.Decimal) decimal.Decimal { return v.Round(4) }

// Round6 rounds a transformation factor.
func Round6(v decimal.Decimal) decimal.Decimal { return v.Round(6) }

// MinAbs returns min(|a|, |b|), zero when either side is zero.
func MinAbs(a, b decimal.Decimal) decimal.Decimal {
	a = a.Abs()
	b = b.Abs()
	if a.IsZero() || b.IsZero() {
		return decimal.Zero
	}
	return decimal.Min(a, b)
}

// Percent returns part/whole*100 rounded to four places, or zero for an empty whole.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return Round4(part.Div(whole).Mul(hundred))
}

var (
	printerOnce sync.Once
	printer     *message.Printer
)

// FormatAmount renders an amount with German grouping, e.g. "10.000,00 EUR".
func FormatAmount(v decimal.Decimal) string {
	printerOnce.Do(func() {
		printer = message.NewPrinter(language.German)
	})
	return printer.Sprintf("%.2f EUR", v.Round(2).InexactFloat64())
}
