package llm

import "strings"

// modelPrice holds USD per million tokens.
type modelPrice struct {
	input  float64
	output float64
}

// priceTable maps model-name prefixes to prices. Longest prefix wins, so
// "gpt-4o-mini" is matched before "gpt-4o". Models absent from the table
// (local Ollama models included) cost zero.
var priceTable = map[string]modelPrice{
	"gpt-4o-mini":   {0.15, 0.60},
	"gpt-4o":        {2.50, 10.00},
	"gpt-4.1-nano":  {0.10, 0.40},
	"gpt-4.1-mini":  {0.40, 1.60},
	"gpt-4.1":       {2.00, 8.00},
	"o3-mini":       {1.10, 4.40},
	"o3":            {2.00, 8.00},
	"gpt-3.5-turbo": {0.50, 1.50},
}

// Cost computes the USD cost of usage for a model.
func Cost(model string, u Usage) float64 {
	var (
		best    modelPrice
		bestLen = -1
	)
	for prefix, price := range priceTable {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best = price
			bestLen = len(prefix)
		}
	}
	if bestLen < 0 {
		return 0
	}
	const million = 1e6
	return float64(u.PromptTokens)/million*best.input + float64(u.CompletionTokens)/million*best.output
}
