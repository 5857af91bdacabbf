package pricing

import (
	"sort"
	"strings"

	"github.com/pario-ai/budgeteer/pkg/models"
)

// DefaultRates apply to models that match no fallback entry.
var DefaultRates = models.ModelPricing{Model: "default", InputRate: 0.003, OutputRate: 0.015}

// fallbackTable holds static per-1K rates keyed by model-id fragments.
var fallbackTable = []models.ModelPricing{
	{Model: "anthropic.claude-3-opus", InputRate: 0.015, OutputRate: 0.075},
	{Model: "anthropic.claude-3-sonnet", InputRate: 0.003, OutputRate: 0.015},
	{Model: "anthropic.claude-3-haiku", InputRate: 0.00025, OutputRate: 0.00125},
	{Model: "anthropic.claude-3-5-sonnet", InputRate: 0.003, OutputRate: 0.015},
	{Model: "anthropic.claude-3-5-haiku", InputRate: 0.001, OutputRate: 0.005},
	{Model: "anthropic.claude-3-7-sonnet", InputRate: 0.003, OutputRate: 0.015},
	{Model: "anthropic.claude-opus-4", InputRate: 0.015, OutputRate: 0.075},
	{Model: "anthropic.claude-sonnet-4", InputRate: 0.003, OutputRate: 0.015},
	{Model: "anthropic.claude-sonnet-4-long-context", InputRate: 0.006, OutputRate: 0.0225},
	{Model: "amazon.nova-micro", InputRate: 0.000035, OutputRate: 0.00014},
	{Model: "amazon.nova-lite", InputRate: 0.00006, OutputRate: 0.00024},
	{Model: "amazon.nova-pro", InputRate: 0.0008, OutputRate: 0.0032},
	{Model: "meta.llama3-70b", InputRate: 0.00265, OutputRate: 0.0035},
	{Model: "meta.llama3-8b", InputRate: 0.0003, OutputRate: 0.0006},
}

// Fallback returns the static rates whose key is the longest substring of
// model, or DefaultRates when none matches. The returned Model is the
// requested model id.
func Fallback(model string) models.ModelPricing {
	best := -1
	for i, p := range fallbackTable {
		if !strings.Contains(model, p.Model) {
			continue
		}
		if best < 0 || len(p.Model) > len(fallbackTable[best].Model) {
			best = i
		}
	}
	rates := DefaultRates
	if best >= 0 {
		rates = fallbackTable[best]
	}
	rates.Model = model
	return rates
}

// FallbackModels returns the keys of the static table in sorted order.
func FallbackModels() []models.ModelPricing {
	out := make([]models.ModelPricing, len(fallbackTable))
	copy(out, fallbackTable)
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}
