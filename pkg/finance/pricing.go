// Package finance prices model usage and applies the platform markup.
//
// All amounts are exact decimals in USD. Rates are quoted per 1000 tokens.
package finance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Reference model identifiers.
const (
	ModelSonnet = "claude-sonnet-4-20250514"
	ModelOpus   = "claude-opus-4-20250514"
)

var (
	// ErrNoDefaultModel is returned when a pricing table has no usable default.
	ErrNoDefaultModel = errors.New("finance: pricing table default model has no rate")
	// ErrNegativeRate is returned when a rate is below zero.
	ErrNegativeRate = errors.New("finance: rate must not be negative")
)

// Rate is the USD price per 1000 input and output tokens.
type Rate struct {
	Input  decimal.Decimal `json:"input"`
	Output decimal.Decimal `json:"output"`
}

// PricingTable maps model identifiers to rates. Lookups for models not in the
// table fall back to the default model's rate.
type PricingTable struct {
	defaultModel string
	rates        map[string]Rate
}

// NewPricingTable builds a table and checks that the default has a rate.
func NewPricingTable(defaultModel string, rates map[string]Rate) (*PricingTable, error) {
	if _, ok := rates[defaultModel]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoDefaultModel, defaultModel)
	}
	copied := make(map[string]Rate, len(rates))
	for model, r := range rates {
		if r.Input.IsNegative() || r.Output.IsNegative() {
			return nil, fmt.Errorf("%w: %s", ErrNegativeRate, model)
		}
		copied[model] = r
	}
	return &PricingTable{defaultModel: defaultModel, rates: copied}, nil
}

// DefaultPricingTable returns the reference prices.
func DefaultPricingTable() *PricingTable {
	t, _ := NewPricingTable(ModelSonnet, map[string]Rate{
		ModelSonnet: {Input: decimal.RequireFromString("0.003"), Output: decimal.RequireFromString("0.015")},
		ModelOpus:   {Input: decimal.RequireFromString("0.015"), Output: decimal.RequireFromString("0.075")},
	})
	return t
}

// DefaultModel returns the model used for unknown lookups.
func (t *PricingTable) DefaultModel() string { return t.defaultModel }

// Rate returns the rate for model and whether the model was found.
// When not found the default model's rate is returned.
func (t *PricingTable) Rate(model string) (Rate, bool) {
	if r, ok := t.rates[model]; ok {
		return r, true
	}
	return t.rates[t.defaultModel], false
}

// Models lists the priced models.
func (t *PricingTable) Models() []string {
	out := make([]string, 0, len(t.rates))
	for m := range t.rates {
		out = append(out, m)
	}
	return out
}

// pricingFile is the on-disk shape. Rates are decimal strings so no value
// ever passes through a float.
type pricingFile struct {
	DefaultModel string                `yaml:"default_model" toml:"default_model"`
	Models       map[string]rateRecord `yaml:"models" toml:"models"`
}

type rateRecord struct {
	Input  string `yaml:"input" toml:"input"`
	Output string `yaml:"output" toml:"output"`
}

// LoadPricingTable reads a pricing table from a YAML (.yaml, .yml) or TOML
// (.toml) file.
func LoadPricingTable(path string) (*PricingTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("finance: read pricing file: %w", err)
	}

	var pf pricingFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &pf); err != nil {
			return nil, fmt.Errorf("finance: parse pricing yaml: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &pf); err != nil {
			return nil, fmt.Errorf("finance: parse pricing toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("finance: unsupported pricing file extension %q", ext)
	}

	rates := make(map[string]Rate, len(pf.Models))
	for model, rec := range pf.Models {
		in, err := decimal.NewFromString(rec.Input)
		if err != nil {
			return nil, fmt.Errorf("finance: model %s input rate: %w", model, err)
		}
		out, err := decimal.NewFromString(rec.Output)
		if err != nil {
			return nil, fmt.Errorf("finance: model %s output rate: %w", model, err)
		}
		rates[model] = Rate{Input: in, Output: out}
	}
	return NewPricingTable(pf.DefaultModel, rates)
}
