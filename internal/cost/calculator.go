package cost

import (
	"math"
	"strings"
)

// Rates maps a model identifier to its token pricing.
type Rates map[string]ModelRate

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes costs for model usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Estimate returns the USD cost of one call, rounded to 8 decimals.
// Unknown models cost 0.
func (c *Calculator) Estimate(model string, promptTokens, completionTokens int) float64 {
	rate, ok := c.lookup(model)
	if !ok {
		return 0
	}
	in := (float64(promptTokens) / 1e6) * rate.Input
	out := (float64(completionTokens) / 1e6) * rate.Output
	return Round(in + out)
}

// Known reports whether the calculator has a rate for model.
func (c *Calculator) Known(model string) bool {
	_, ok := c.lookup(model)
	return ok
}

// lookup matches exact names first, then dated snapshots such as
// "gpt-4o-mini-2024-07-18" against their base name.
func (c *Calculator) lookup(model string) (ModelRate, bool) {
	if rate, ok := c.rates[model]; ok {
		return rate, true
	}
	best := ""
	for name := range c.rates {
		if strings.HasPrefix(model, name+"-") && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return ModelRate{}, false
	}
	return c.rates[best], true
}

// Round rounds a USD amount to 8 decimal places.
func Round(usd float64) float64 {
	return math.Round(usd*1e8) / 1e8
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		"text-embedding-3-small":     {Input: 0.02},
		"text-embedding-3-large":     {Input: 0.13},
		"gpt-4o-mini":                {Input: 0.15, Output: 0.60},
		"gpt-4o":                     {Input: 2.50, Output: 10.00},
		"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
	}
}

// Merge returns DefaultRates overlaid with overrides.
func Merge(overrides Rates) Rates {
	out := DefaultRates()
	for name, rate := range overrides {
		out[name] = rate
	}
	return out
}
