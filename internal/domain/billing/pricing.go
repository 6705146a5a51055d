package billing

import (
	"regexp"
	"sync"

	"github.com/ailink-gateway/ailink/internal/domain/router"
)

// PricingRule maps requests to a provider whose model name matches
// ModelPattern to a pair of per-million-token USD rates.
type PricingRule struct {
	Provider            string
	ModelPattern        *regexp.Regexp
	InputPerMillionUSD  float64
	OutputPerMillionUSD float64
}

// PricingTable is an ordered list of PricingRule, looked up first-match by
// insertion order. A model with no matching rule costs 0 but is still
// audited -- that's the caller's responsibility, not this type's.
type PricingTable struct {
	mu    sync.RWMutex
	rules []PricingRule
}

// NewPricingTable creates an empty pricing table.
func NewPricingTable() *PricingTable {
	return &PricingTable{}
}

// Add appends a rule to the end of the table, giving it the lowest match
// priority among existing rules.
func (t *PricingTable) Add(rule PricingRule) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules = append(t.rules, rule)
}

// Lookup returns the first rule whose Provider matches and whose
// ModelPattern matches model, in insertion order.
func (t *PricingTable) Lookup(provider, model string) (PricingRule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.rules {
		if r.Provider != provider {
			continue
		}
		if r.ModelPattern != nil && r.ModelPattern.MatchString(model) {
			return r, true
		}
	}
	return PricingRule{}, false
}

// ComputeCost computes the USD cost of a completion's usage under the
// first matching pricing rule. An unmatched model costs 0.
func (t *PricingTable) ComputeCost(provider, model string, usage *router.Usage) float64 {
	if usage == nil {
		return 0
	}
	rule, ok := t.Lookup(provider, model)
	if !ok {
		return 0
	}
	inCost := float64(usage.PromptTokens) / 1_000_000 * rule.InputPerMillionUSD
	outCost := float64(usage.CompletionTokens) / 1_000_000 * rule.OutputPerMillionUSD
	return inCost + outCost
}
