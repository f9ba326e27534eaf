package ledger

import (
	"sort"
	"strings"
	"sync"
)

// ModelPricing contains pricing information for a specific model.
type ModelPricing struct {
	Model           string
	InputPer1M      float64 // Cost per 1M input tokens in USD
	OutputPer1M     float64 // Cost per 1M output tokens in USD
	CachedPer1M     float64 // Cost per 1M cached input tokens (if supported)
	SupportsCaching bool
}

// defaultPricing is the conservative fallback used when a model is
// entirely unknown. Priced high so unrecognized models never
// under-report cost.
var defaultPricing = ModelPricing{
	Model:       "unknown",
	InputPer1M:  10.0,
	OutputPer1M: 30.0,
}

// PricingTable resolves a model name to its token pricing.
type PricingTable struct {
	pricing map[string]*ModelPricing
	mu      sync.RWMutex
}

// NewPricingTable creates a pricing table preloaded with common models.
func NewPricingTable() *PricingTable {
	t := &PricingTable{
		pricing: make(map[string]*ModelPricing),
	}
	t.loadDefaultPricing()
	return t
}

// loadDefaultPricing initializes pricing for common models.
// Prices in USD per 1M tokens - update periodically.
func (t *PricingTable) loadDefaultPricing() {
	models := []*ModelPricing{
		// OpenAI GPT-4 models
		{Model: "gpt-4", InputPer1M: 30.0, OutputPer1M: 60.0},
		{Model: "gpt-4-turbo", InputPer1M: 10.0, OutputPer1M: 30.0},
		{Model: "gpt-4o", InputPer1M: 2.5, OutputPer1M: 10.0, CachedPer1M: 1.25, SupportsCaching: true},
		{Model: "gpt-4o-mini", InputPer1M: 0.15, OutputPer1M: 0.60, CachedPer1M: 0.075, SupportsCaching: true},

		// OpenAI GPT-3.5 models
		{Model: "gpt-3.5-turbo", InputPer1M: 0.5, OutputPer1M: 1.5},

		// OpenAI O1 models
		{Model: "o1-preview", InputPer1M: 15.0, OutputPer1M: 60.0},
		{Model: "o1-mini", InputPer1M: 3.0, OutputPer1M: 12.0},

		// Anthropic Claude models
		{Model: "claude-3-opus", InputPer1M: 15.0, OutputPer1M: 75.0, CachedPer1M: 1.5, SupportsCaching: true},
		{Model: "claude-3-5-sonnet", InputPer1M: 3.0, OutputPer1M: 15.0, CachedPer1M: 0.3, SupportsCaching: true},
		{Model: "claude-3-5-haiku", InputPer1M: 1.0, OutputPer1M: 5.0, CachedPer1M: 0.1, SupportsCaching: true},
		{Model: "claude-3-haiku", InputPer1M: 0.25, OutputPer1M: 1.25, CachedPer1M: 0.03, SupportsCaching: true},

		// Google Gemini models
		{Model: "gemini-1.5-pro", InputPer1M: 1.25, OutputPer1M: 5.0, CachedPer1M: 0.3125, SupportsCaching: true},
		{Model: "gemini-1.5-flash", InputPer1M: 0.075, OutputPer1M: 0.3, CachedPer1M: 0.01875, SupportsCaching: true},

		// Local models - no cost
		{Model: "ollama/", InputPer1M: 0.0, OutputPer1M: 0.0},
		{Model: "vllm/", InputPer1M: 0.0, OutputPer1M: 0.0},
	}

	for _, pricing := range models {
		t.pricing[pricing.Model] = pricing
	}
}

// AddPricing adds or updates pricing for a model.
func (t *PricingTable) AddPricing(pricing *ModelPricing) {
	if pricing == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pricing[pricing.Model] = pricing
}

// Lookup resolves pricing for a model name: exact match first, then
// family match (a known model name contained in the given name, longest
// key first for determinism), then the conservative default. The
// second return reports whether a real entry matched.
func (t *PricingTable) Lookup(model string) (ModelPricing, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if p, ok := t.pricing[model]; ok {
		return *p, true
	}

	keys := make([]string, 0, len(t.pricing))
	for k := range t.pricing {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	for _, key := range keys {
		if strings.Contains(model, key) {
			return *t.pricing[key], true
		}
	}

	return defaultPricing, false
}

// ListModels returns all models with pricing information.
func (t *PricingTable) ListModels() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	models := make([]string, 0, len(t.pricing))
	for model := range t.pricing {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}
