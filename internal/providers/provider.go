package providers

import (
	"context"
)

// Usage is the token accounting for one generation call. CostUSD is non-zero
// only when the provider bills dynamically (search-grounded calls with
// variable context cost); otherwise cost is derived from the price table.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
}

// Options tune a single generation call.
type Options struct {
	Instructions string  // system-level steering, optional
	Temperature  float32
	MaxTokens    int
}

// Generation is the result of one call.
type Generation struct {
	Text  string
	Usage Usage
}

// Generator is the uniform capability the pipeline consumes from each of the
// three provider roles (classifier/planner/synthesizer, search-grounded
// researcher, fact-checker). Retry on 429/5xx happens behind this boundary;
// on retry exhaustion adapters surface an error the pipeline converts into an
// empty, zero-usage result for that sub-call.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (Generation, error)
	Model() string
}

// Set bundles the three provider roles a run needs.
type Set struct {
	Reasoner    Generator // classifier, planner, synthesizer
	Researcher  Generator // search-grounded generation
	FactChecker Generator
}
