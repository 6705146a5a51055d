package billing

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ailink-gateway/ailink/internal/apperr"
	"github.com/ailink-gateway/ailink/internal/domain/router"
)

// HeaderTestCost and HeaderTestTokens are the billing test hooks: when
// an operator has set enable_test_hooks, a caller can force the billed
// cost and/or token counts for a request instead of relying on whatever
// the upstream happens to report, for deterministic integration tests.
const (
	HeaderTestCost   = "X-AILink-Test-Cost"
	HeaderTestTokens = "X-AILink-Test-Tokens"
)

// CostAccountant handles pricing lookup, pre-flight spend-cap enforcement,
// and post-response atomic billing.
type CostAccountant struct {
	pricing          *PricingTable
	ledger           SpendLedger
	testHooksEnabled bool
}

// NewCostAccountant creates a CostAccountant. testHooksEnabled mirrors the
// config's enable_test_hooks flag; when false, the X-AILink-Test-* headers
// are ignored entirely.
func NewCostAccountant(pricing *PricingTable, ledger SpendLedger, testHooksEnabled bool) *CostAccountant {
	return &CostAccountant{pricing: pricing, ledger: ledger, testHooksEnabled: testHooksEnabled}
}

// PreflightCheck runs before dispatch: for every active cap, if the
// current counter is already at or past its limit, the request is denied
// without ever reaching the upstream. It does not reserve any spend --
// the atomic check-and-increment after billing is the authoritative gate.
func (a *CostAccountant) PreflightCheck(ctx context.Context, tokenID string, caps []Cap) error {
	for _, c := range caps {
		key := FormatKey(tokenID, c.Period)
		current, err := a.ledger.Peek(ctx, key)
		if err != nil {
			return fmt.Errorf("peek spend counter %q: %w", key, err)
		}
		if current >= c.LimitUSD {
			return apperr.New(402, "spend_cap_reached",
				fmt.Sprintf("spend cap reached for period %q", c.Period), apperr.ErrBudgetExceeded)
		}
	}
	return nil
}

// ComputeCost computes the USD cost of a completion's usage under the
// pricing table, then applies any test-hook override present in headers.
func (a *CostAccountant) ComputeCost(provider, model string, usage *router.Usage, headers map[string]string) float64 {
	usage = a.applyTestTokenOverride(usage, headers)
	cost := a.pricing.ComputeCost(provider, model, usage)
	if a.testHooksEnabled {
		if raw, ok := headers[HeaderTestCost]; ok {
			if override, err := strconv.ParseFloat(raw, 64); err == nil {
				return override
			}
		}
	}
	return cost
}

// applyTestTokenOverride substitutes the usage token counts with the
// X-AILink-Test-Tokens header value (a single integer applied to both
// prompt and completion tokens) when test hooks are enabled and the
// header is present. Returns usage unchanged otherwise.
func (a *CostAccountant) applyTestTokenOverride(usage *router.Usage, headers map[string]string) *router.Usage {
	if !a.testHooksEnabled {
		return usage
	}
	raw, ok := headers[HeaderTestTokens]
	if !ok {
		return usage
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return usage
	}
	return &router.Usage{PromptTokens: n, CompletionTokens: n, TotalTokens: n * 2}
}

// Record bills cost against every active cap for tokenID via the atomic
// check-and-increment script. If any period would exceed its limit, the
// increment for that period is skipped (the response has already been
// returned to the caller by this point -- the next PreflightCheck is what
// blocks the following request, closing the race against concurrent spend)
// and Record returns an error identifying the exceeded period, but still
// attempts every other period's increment rather than aborting early.
func (a *CostAccountant) Record(ctx context.Context, tokenID string, caps []Cap, cost float64) error {
	var exceeded []CapPeriod
	for _, c := range caps {
		key := FormatKey(tokenID, c.Period)
		ok, _, err := a.ledger.CheckAndIncrement(ctx, key, cost, c.LimitUSD, c.Period.TTL())
		if err != nil {
			return fmt.Errorf("increment spend counter %q: %w", key, err)
		}
		if !ok {
			exceeded = append(exceeded, c.Period)
		}
	}
	if len(exceeded) > 0 {
		return fmt.Errorf("spend cap exceeded on increment for periods %v (billed request already returned; next pre-flight check will block)", exceeded)
	}
	return nil
}
