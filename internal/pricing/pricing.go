package pricing

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	pmetrics "github.com/fathomlabs/fathom/internal/metrics"
)

// fileConfig mirrors the pricing section of config/models.yaml.
type fileConfig struct {
	Pricing struct {
		Defaults struct {
			CombinedPer1K float64 `yaml:"combined_per_1k"`
		} `yaml:"defaults"`
		Models map[string]map[string]modelEntry `yaml:"models"`
	} `yaml:"pricing"`
}

type modelEntry struct {
	InputPer1K    float64 `yaml:"input_per_1k"`
	OutputPer1K   float64 `yaml:"output_per_1k"`
	CombinedPer1K float64 `yaml:"combined_per_1k"`
}

// Table is an immutable per-model price table. Construct once at startup and
// pass by handle; a run never mutates it.
type Table struct {
	models        map[string]modelEntry // keyed by model name, provider flattened
	defaultPer1K  float64
	fallbackPer1K float64
}

const fallbackCombinedPer1K = 0.002 // gpt-3.5-ish, matches historical default

// Load reads a pricing table from a models.yaml file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal pricing config %s: %w", path, err)
	}
	return fromConfig(&cfg), nil
}

// LoadDefault tries MODELS_CONFIG_PATH, then ./config/models.yaml walking up a
// few levels, and returns an empty table (default pricing only) if none found.
func LoadDefault() *Table {
	paths := []string{os.Getenv("MODELS_CONFIG_PATH"), "./config/models.yaml"}
	if wd, err := os.Getwd(); err == nil {
		for i := 0; i < 4; i++ {
			paths = append(paths, filepath.Join(wd, "config", "models.yaml"))
			wd = filepath.Dir(wd)
		}
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if t, err := Load(p); err == nil {
			return t
		}
	}
	return fromConfig(&fileConfig{})
}

func fromConfig(cfg *fileConfig) *Table {
	t := &Table{
		models:        make(map[string]modelEntry),
		defaultPer1K:  cfg.Pricing.Defaults.CombinedPer1K,
		fallbackPer1K: fallbackCombinedPer1K,
	}
	for _, models := range cfg.Pricing.Models {
		for name, entry := range models {
			t.models[name] = entry
		}
	}
	return t
}

// DefaultPerToken returns the default combined price per token.
func (t *Table) DefaultPerToken() float64 {
	if t.defaultPer1K > 0 {
		return t.defaultPer1K / 1000.0
	}
	return t.fallbackPer1K / 1000.0
}

// PerTokenForModel returns the combined price per token for a model if known.
func (t *Table) PerTokenForModel(model string) (float64, bool) {
	if model == "" {
		return 0, false
	}
	m, ok := t.models[model]
	if !ok {
		return 0, false
	}
	if m.CombinedPer1K > 0 {
		return m.CombinedPer1K / 1000.0, true
	}
	if m.InputPer1K > 0 && m.OutputPer1K > 0 {
		return ((m.InputPer1K + m.OutputPer1K) / 2.0) / 1000.0, true
	}
	return 0, false
}

// CostForTokens returns cost in USD for a combined token count.
func (t *Table) CostForTokens(model string, tokens int) float64 {
	if tokens < 0 {
		tokens = 0
	}
	if price, ok := t.PerTokenForModel(model); ok {
		return float64(tokens) * price
	}
	t.recordFallback(model)
	return float64(tokens) * t.DefaultPerToken()
}

// CostForSplit computes cost using the input/output token split when the model
// carries split prices, approximating via combined pricing otherwise.
func (t *Table) CostForSplit(model string, inputTokens, outputTokens int) float64 {
	if inputTokens < 0 {
		inputTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}
	if m, ok := t.models[model]; ok {
		if m.InputPer1K > 0 && m.OutputPer1K > 0 {
			return (float64(inputTokens)/1000.0)*m.InputPer1K +
				(float64(outputTokens)/1000.0)*m.OutputPer1K
		}
		if m.CombinedPer1K > 0 {
			return (float64(inputTokens+outputTokens) / 1000.0) * m.CombinedPer1K
		}
	}
	t.recordFallback(model)
	return float64(inputTokens+outputTokens) * t.DefaultPerToken()
}

// EstimateCallCost estimates the cost of a single call for planning purposes,
// used by the verification level selector before any call is made.
func (t *Table) EstimateCallCost(model string, inputTokens, outputTokens int) float64 {
	return t.CostForSplit(model, inputTokens, outputTokens)
}

func (t *Table) recordFallback(model string) {
	if model == "" {
		pmetrics.PricingFallbacks.WithLabelValues("missing_model").Inc()
	} else {
		pmetrics.PricingFallbacks.WithLabelValues("unknown_model").Inc()
	}
}
