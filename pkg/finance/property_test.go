//go:build property
// +build property

package finance_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"github.com/Mindburn-Labs/roseglass/pkg/finance"
)

func propertyMeter(t *testing.T) *finance.UsageMeter {
	m, err := finance.NewUsageMeter(finance.DefaultPricingTable(), finance.DefaultMarkup)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// TestChargeNeverBelowCost verifies charge >= cost >= 0 for any valid usage.
func TestChargeNeverBelowCost(t *testing.T) {
	m := propertyMeter(t)
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("charge >= cost >= 0", prop.ForAll(
		func(in, out int64) bool {
			cost, err := m.Cost(finance.ModelSonnet, in, out)
			if err != nil {
				return false
			}
			charge := m.Charge(cost)
			return !cost.IsNegative() && charge.GreaterThanOrEqual(cost)
		},
		gen.Int64Range(0, 10_000_000),
		gen.Int64Range(0, 10_000_000),
	))

	properties.TestingRun(t)
}

// TestCostIsLinear verifies cost(a+b) == cost(a) + cost(b) exactly.
func TestCostIsLinear(t *testing.T) {
	m := propertyMeter(t)
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("cost is additive in tokens", prop.ForAll(
		func(in1, out1, in2, out2 int64) bool {
			a, _ := m.Cost(finance.ModelOpus, in1, out1)
			b, _ := m.Cost(finance.ModelOpus, in2, out2)
			sum, _ := m.Cost(finance.ModelOpus, in1+in2, out1+out2)
			return a.Add(b).Equal(sum)
		},
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 1_000_000),
		gen.Int64Range(0, 1_000_000),
	))

	properties.TestingRun(t)
}

// TestUnknownModelPricedAsDefault verifies any non-table model id prices at
// the default rate.
func TestUnknownModelPricedAsDefault(t *testing.T) {
	m := propertyMeter(t)
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("fallback to default", prop.ForAll(
		func(suffix string, in, out int64) bool {
			unknown := "unknown-" + suffix
			got, err1 := m.Cost(unknown, in, out)
			want, err2 := m.Cost(finance.ModelSonnet, in, out)
			return err1 == nil && err2 == nil && got.Equal(want)
		},
		gen.AlphaString(),
		gen.Int64Range(0, 100_000),
		gen.Int64Range(0, 100_000),
	))

	properties.TestingRun(t)
}

// TestMarkupScalesCharge verifies charge == cost * markup for any markup >= 1.
func TestMarkupScalesCharge(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("charge is cost times markup", prop.ForAll(
		func(hundredths int64, in int64) bool {
			markup := decimal.NewFromInt(hundredths).Shift(-2)
			m, err := finance.NewUsageMeter(nil, markup)
			if err != nil {
				return false
			}
			rec, err := m.Meter(finance.ModelSonnet, in, in)
			return err == nil && rec.Charge.Equal(rec.Cost.Mul(markup)) && rec.Validate() == nil
		},
		gen.Int64Range(100, 1000),
		gen.Int64Range(0, 100_000),
	))

	properties.TestingRun(t)
}
