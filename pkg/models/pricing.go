package models

import "time"

// PricingSource marks where a pricing entry came from.
type PricingSource string

const (
	PricingSourceAPI      PricingSource = "api"
	PricingSourceFallback PricingSource = "fallback"
)

// ModelPricing defines per-1K token rates for a model.
type ModelPricing struct {
	Model      string  `json:"model" yaml:"model"`
	InputRate  float64 `json:"input_cost_per_1k" yaml:"input_cost_per_1k"`
	OutputRate float64 `json:"output_cost_per_1k" yaml:"output_cost_per_1k"`
}

// PricingEntry is a row of the persistent pricing table.
type PricingEntry struct {
	Model      string        `json:"model"`
	Region     string        `json:"region"`
	InputRate  float64       `json:"input_cost_per_1k"`
	OutputRate float64       `json:"output_cost_per_1k"`
	Source     PricingSource `json:"source"`
	UpdatedAt  time.Time     `json:"updated_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
}

// Rates returns the entry as a ModelPricing.
func (e PricingEntry) Rates() ModelPricing {
	return ModelPricing{Model: e.Model, InputRate: e.InputRate, OutputRate: e.OutputRate}
}
