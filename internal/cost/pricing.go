package cost

// Pricing holds a model's USD rates per one million tokens.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Calculate returns the attributed cost for one call's token counts.
func (p Pricing) Calculate(inputTokens, outputTokens uint64) float64 {
	in := float64(inputTokens) / 1_000_000 * p.InputPerMillion
	out := float64(outputTokens) / 1_000_000 * p.OutputPerMillion
	return in + out
}

// pricingTable maps model names to published rates. Unknown models fall back
// to an expensive default so budget checks err on the side of caution.
var pricingTable = map[string]Pricing{
	"claude-haiku":  {InputPerMillion: 1.0, OutputPerMillion: 5.0},
	"claude-sonnet": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
	"claude-opus":   {InputPerMillion: 15.0, OutputPerMillion: 75.0},

	"gemini-pro":        {InputPerMillion: 1.25, OutputPerMillion: 10.0},
	"gemini-flash":      {InputPerMillion: 0.30, OutputPerMillion: 2.50},
	"gemini-flash-lite": {InputPerMillion: 0.05, OutputPerMillion: 0.20},

	"gpt-5":       {InputPerMillion: 1.25, OutputPerMillion: 10.0},
	"gpt-5-mini":  {InputPerMillion: 0.25, OutputPerMillion: 2.0},
	"gpt-5-codex": {InputPerMillion: 1.25, OutputPerMillion: 10.0},
	"gpt-4o":      {InputPerMillion: 2.50, OutputPerMillion: 10.0},
}

// aliasTable maps agent identities and shorthand names to pricing entries.
var aliasTable = map[string]string{
	"claude":    "claude-sonnet",
	"sonnet":    "claude-sonnet",
	"opus":      "claude-opus",
	"haiku":     "claude-haiku",
	"gemini":    "gemini-pro",
	"flash":     "gemini-flash",
	"gpt":       "gpt-5",
	"gpt-codex": "gpt-5-codex",
	"codex":     "gpt-5-codex",
}

// defaultPricing is applied to models with no table entry.
var defaultPricing = Pricing{InputPerMillion: 10.0, OutputPerMillion: 30.0}

// PricingFor resolves a model or agent identity to its rates.
func PricingFor(model string) Pricing {
	if canonical, ok := aliasTable[model]; ok {
		model = canonical
	}
	if p, ok := pricingTable[model]; ok {
		return p
	}
	return defaultPricing
}
