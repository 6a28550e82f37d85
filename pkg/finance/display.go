package finance

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatUSD renders an amount for humans, rounded to cents. Never use the
// result for arithmetic.
func FormatUSD(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return printer.Sprint(currency.Symbol(currency.USD.Amount(f)))
}

// FormatCredits renders a credit balance with four decimal places, the
// precision at which per-call charges are visible.
func FormatCredits(d decimal.Decimal) string {
	return d.StringFixed(4)
}
