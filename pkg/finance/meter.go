package finance

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultMarkup is the platform multiplier applied to raw cost.
var DefaultMarkup = decimal.NewFromInt(2)

var (
	// ErrInvalidUsage is wrapped by every InvalidUsageError.
	ErrInvalidUsage = errors.New("finance: invalid usage")
	// ErrInvalidMarkup is returned when a markup below 1 is configured.
	ErrInvalidMarkup = errors.New("finance: markup must be at least 1")
)

// InvalidUsageError reports a negative token count. It indicates a fault in
// the caller or provider, not a user error.
type InvalidUsageError struct {
	Field string
	Value int64
}

func (e *InvalidUsageError) Error() string {
	return fmt.Sprintf("finance: invalid usage: %s must be non-negative, got %d", e.Field, e.Value)
}

func (e *InvalidUsageError) Unwrap() error { return ErrInvalidUsage }

// UsageMeter converts token usage into cost and charge. It holds no mutable
// state and is safe for concurrent use.
type UsageMeter struct {
	table  *PricingTable
	markup decimal.Decimal
}

// NewUsageMeter returns a meter. A nil table uses DefaultPricingTable.
func NewUsageMeter(table *PricingTable, markup decimal.Decimal) (*UsageMeter, error) {
	if markup.LessThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidMarkup, markup)
	}
	if table == nil {
		table = DefaultPricingTable()
	}
	return &UsageMeter{table: table, markup: markup}, nil
}

// Markup returns the configured multiplier.
func (m *UsageMeter) Markup() decimal.Decimal { return m.markup }

// Table returns the pricing table in use.
func (m *UsageMeter) Table() *PricingTable { return m.table }

// Cost is the raw provider cost of a call. Unknown models are priced at the
// default model's rate.
func (m *UsageMeter) Cost(model string, inputTokens, outputTokens int64) (decimal.Decimal, error) {
	if inputTokens < 0 {
		return decimal.Zero, &InvalidUsageError{Field: "input_tokens", Value: inputTokens}
	}
	if outputTokens < 0 {
		return decimal.Zero, &InvalidUsageError{Field: "output_tokens", Value: outputTokens}
	}
	rate, _ := m.table.Rate(model)
	in := decimal.NewFromInt(inputTokens).Shift(-3).Mul(rate.Input)
	out := decimal.NewFromInt(outputTokens).Shift(-3).Mul(rate.Output)
	return in.Add(out), nil
}

// Charge applies the markup. No rounding is performed.
func (m *UsageMeter) Charge(cost decimal.Decimal) decimal.Decimal {
	return cost.Mul(m.markup)
}

// Meter prices a call and returns the full usage record.
func (m *UsageMeter) Meter(model string, inputTokens, outputTokens int64) (UsageRecord, error) {
	cost, err := m.Cost(model, inputTokens, outputTokens)
	if err != nil {
		return UsageRecord{}, err
	}
	return UsageRecord{
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         cost,
		Charge:       m.Charge(cost),
	}, nil
}
