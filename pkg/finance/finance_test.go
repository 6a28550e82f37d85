package finance_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/roseglass/pkg/finance"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func newMeter(t *testing.T) *finance.UsageMeter {
	t.Helper()
	m, err := finance.NewUsageMeter(finance.DefaultPricingTable(), finance.DefaultMarkup)
	require.NoError(t, err)
	return m
}

func TestCost(t *testing.T) {
	m := newMeter(t)

	tests := []struct {
		name   string
		model  string
		in     int64
		out    int64
		cost   string
		charge string
	}{
		{"sonnet", finance.ModelSonnet, 1000, 500, "0.0105", "0.021"},
		{"opus", finance.ModelOpus, 2000, 1000, "0.105", "0.21"},
		{"zero tokens", finance.ModelSonnet, 0, 0, "0", "0"},
		{"unknown model uses default", "gpt-imaginary", 1000, 500, "0.0105", "0.021"},
		{"single token", finance.ModelSonnet, 1, 0, "0.000003", "0.000006"},
		{"output only", finance.ModelSonnet, 0, 2500, "0.0375", "0.075"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cost, err := m.Cost(tt.model, tt.in, tt.out)
			require.NoError(t, err)
			assertDecimal(t, tt.cost, cost)
			assertDecimal(t, tt.charge, m.Charge(cost))
		})
	}
}

func TestCostIsExactForLargeCounts(t *testing.T) {
	m := newMeter(t)

	cost, err := m.Cost(finance.ModelSonnet, 123456789, 987654321)
	require.NoError(t, err)
	// 123456.789*0.003 + 987654.321*0.015
	assertDecimal(t, "15185.185182", cost)
}

func TestCostRejectsNegativeCounts(t *testing.T) {
	m := newMeter(t)

	_, err := m.Cost(finance.ModelSonnet, -1, 10)
	require.ErrorIs(t, err, finance.ErrInvalidUsage)
	var uerr *finance.InvalidUsageError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "input_tokens", uerr.Field)
	assert.Equal(t, int64(-1), uerr.Value)

	_, err = m.Cost(finance.ModelSonnet, 10, -5)
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "output_tokens", uerr.Field)

	_, err = m.Meter(finance.ModelOpus, 0, -1)
	require.ErrorIs(t, err, finance.ErrInvalidUsage)
}

func TestNewUsageMeterMarkup(t *testing.T) {
	_, err := finance.NewUsageMeter(nil, dec("0.99"))
	require.ErrorIs(t, err, finance.ErrInvalidMarkup)

	m, err := finance.NewUsageMeter(nil, dec("1"))
	require.NoError(t, err)
	assertDecimal(t, "0.0105", m.Charge(dec("0.0105")))
	assert.Equal(t, finance.ModelSonnet, m.Table().DefaultModel())

	m, err = finance.NewUsageMeter(nil, dec("2.5"))
	require.NoError(t, err)
	assertDecimal(t, "2.5", m.Markup())
	assertDecimal(t, "0.025", m.Charge(dec("0.01")))
}

func TestMeter(t *testing.T) {
	m := newMeter(t)

	rec, err := m.Meter(finance.ModelSonnet, 1000, 500)
	require.NoError(t, err)
	assert.Equal(t, finance.ModelSonnet, rec.Model)
	assert.Equal(t, int64(1500), rec.TotalTokens())
	assertDecimal(t, "0.0105", rec.Cost)
	assertDecimal(t, "0.021", rec.Charge)
	require.NoError(t, rec.Validate())
}

func TestUsageRecordValidate(t *testing.T) {
	ok := finance.UsageRecord{Model: "m", InputTokens: 1, OutputTokens: 1, Cost: dec("0.1"), Charge: dec("0.2")}
	require.NoError(t, ok.Validate())

	bad := []finance.UsageRecord{
		{InputTokens: -1, Cost: dec("0"), Charge: dec("0")},
		{OutputTokens: -1, Cost: dec("0"), Charge: dec("0")},
		{Cost: dec("-0.1"), Charge: dec("0")},
		{Cost: dec("0.2"), Charge: dec("0.1")},
	}
	for _, rec := range bad {
		assert.True(t, errors.Is(rec.Validate(), finance.ErrUsageIntegrity), "%+v", rec)
	}
}

func TestUsageRecordDigest(t *testing.T) {
	a := finance.UsageRecord{Model: "m", InputTokens: 10, OutputTokens: 20, Cost: dec("0.0105"), Charge: dec("0.021")}
	b := a

	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)
	assert.Equal(t, da, db)
	assert.True(t, strings.HasPrefix(da, "sha256:"))
	assert.Len(t, da, len("sha256:")+64)

	b.OutputTokens = 21
	dc, err := b.Digest()
	require.NoError(t, err)
	assert.NotEqual(t, da, dc)
}

func TestPricingTableFallback(t *testing.T) {
	table := finance.DefaultPricingTable()

	r, found := table.Rate(finance.ModelOpus)
	assert.True(t, found)
	assertDecimal(t, "0.075", r.Output)

	r, found = table.Rate("unknown")
	assert.False(t, found)
	assertDecimal(t, "0.003", r.Input)
	assert.ElementsMatch(t, []string{finance.ModelSonnet, finance.ModelOpus}, table.Models())
}

func TestNewPricingTableValidation(t *testing.T) {
	_, err := finance.NewPricingTable("missing", map[string]finance.Rate{"a": {}})
	require.ErrorIs(t, err, finance.ErrNoDefaultModel)

	_, err = finance.NewPricingTable("a", map[string]finance.Rate{"a": {Input: dec("-1"), Output: dec("1")}})
	require.ErrorIs(t, err, finance.ErrNegativeRate)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadPricingTableYAML(t *testing.T) {
	path := writeFile(t, "pricing.yaml", `
default_model: house-model
models:
  house-model:
    input: "0.001"
    output: "0.002"
  big-model:
    input: "0.010"
    output: "0.030"
`)
	table, err := finance.LoadPricingTable(path)
	require.NoError(t, err)
	assert.Equal(t, "house-model", table.DefaultModel())

	m, err := finance.NewUsageMeter(table, finance.DefaultMarkup)
	require.NoError(t, err)
	cost, err := m.Cost("big-model", 1000, 1000)
	require.NoError(t, err)
	assertDecimal(t, "0.04", cost)
}

func TestLoadPricingTableTOML(t *testing.T) {
	path := writeFile(t, "pricing.toml", `
default_model = "claude-sonnet-4-20250514"

[models."claude-sonnet-4-20250514"]
input = "0.003"
output = "0.015"
`)
	table, err := finance.LoadPricingTable(path)
	require.NoError(t, err)
	r, found := table.Rate("claude-sonnet-4-20250514")
	require.True(t, found)
	assertDecimal(t, "0.015", r.Output)
}

func TestLoadPricingTableErrors(t *testing.T) {
	_, err := finance.LoadPricingTable(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)

	_, err = finance.LoadPricingTable(writeFile(t, "pricing.json", `{}`))
	require.ErrorContains(t, err, "unsupported")

	_, err = finance.LoadPricingTable(writeFile(t, "bad.yaml", `
default_model: a
models:
  a:
    input: "abc"
    output: "1"
`))
	require.ErrorContains(t, err, "input rate")

	_, err = finance.LoadPricingTable(writeFile(t, "nodefault.toml", `
default_model = "z"
[models.a]
input = "1"
output = "1"
`))
	require.ErrorIs(t, err, finance.ErrNoDefaultModel)
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "0.0210", finance.FormatCredits(dec("0.021")))
	assert.Equal(t, "9.9800", finance.FormatCredits(dec("9.98")))

	usd := finance.FormatUSD(dec("12.345"))
	assert.Contains(t, usd, "$")
	assert.Contains(t, usd, "12.3")
}
