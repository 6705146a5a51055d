package billing

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/ailink-gateway/ailink/internal/apperr"
	"github.com/ailink-gateway/ailink/internal/domain/router"
)

// fakeLedger is an in-memory stand-in good enough for accountant unit
// tests without pulling in the adapter package (which would be a
// domain -> adapter import cycle).
type fakeLedger struct {
	counters map[string]float64
}

func newFakeLedger() *fakeLedger { return &fakeLedger{counters: make(map[string]float64)} }

func (f *fakeLedger) Peek(_ context.Context, key string) (float64, error) {
	return f.counters[key], nil
}

func (f *fakeLedger) CheckAndIncrement(_ context.Context, key string, cost, limit float64, _ time.Duration) (bool, float64, error) {
	cur := f.counters[key]
	if cur+cost > limit {
		return false, cur, nil
	}
	f.counters[key] = cur + cost
	return true, cur + cost, nil
}

func newTestTable() *PricingTable {
	table := NewPricingTable()
	table.Add(PricingRule{Provider: "openai", ModelPattern: regexp.MustCompile(`^gpt-4o$`), InputPerMillionUSD: 2.5, OutputPerMillionUSD: 10})
	return table
}

func TestCostAccountant_PreflightCheck_Denies(t *testing.T) {
	t.Parallel()
	ledger := newFakeLedger()
	ledger.counters[FormatKey("tok1", PeriodDaily)] = 100
	a := NewCostAccountant(newTestTable(), ledger, false)

	err := a.PreflightCheck(context.Background(), "tok1", []Cap{{Period: PeriodDaily, LimitUSD: 100}})
	if err == nil {
		t.Fatal("expected spend cap denial")
	}
	var ge *apperr.GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("expected a *GatewayError, got %T: %v", err, err)
	}
	if ge.Code != "spend_cap_reached" {
		t.Errorf("code = %q, want spend_cap_reached", ge.Code)
	}
	if ge.Status != 402 {
		t.Errorf("status = %d, want 402", ge.Status)
	}
}

func TestCostAccountant_PreflightCheck_Allows(t *testing.T) {
	t.Parallel()
	ledger := newFakeLedger()
	a := NewCostAccountant(newTestTable(), ledger, false)

	if err := a.PreflightCheck(context.Background(), "tok1", []Cap{{Period: PeriodDaily, LimitUSD: 100}}); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCostAccountant_Record(t *testing.T) {
	t.Parallel()
	ledger := newFakeLedger()
	a := NewCostAccountant(newTestTable(), ledger, false)
	caps := []Cap{{Period: PeriodDaily, LimitUSD: 10}, {Period: PeriodMonthly, LimitUSD: 100}}

	if err := a.Record(context.Background(), "tok1", caps, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ledger.counters[FormatKey("tok1", PeriodDaily)]; got != 5 {
		t.Errorf("daily = %v, want 5", got)
	}
	if got := ledger.counters[FormatKey("tok1", PeriodMonthly)]; got != 5 {
		t.Errorf("monthly = %v, want 5", got)
	}
}

func TestCostAccountant_RecordExceedsOnePeriodStillIncrementsOthers(t *testing.T) {
	t.Parallel()
	ledger := newFakeLedger()
	ledger.counters[FormatKey("tok1", PeriodDaily)] = 9
	a := NewCostAccountant(newTestTable(), ledger, false)
	caps := []Cap{{Period: PeriodDaily, LimitUSD: 10}, {Period: PeriodMonthly, LimitUSD: 100}}

	err := a.Record(context.Background(), "tok1", caps, 5)
	if err == nil {
		t.Fatal("expected an error identifying the exceeded period")
	}
	if got := ledger.counters[FormatKey("tok1", PeriodMonthly)]; got != 5 {
		t.Errorf("monthly should still have been incremented: got %v", got)
	}
	if got := ledger.counters[FormatKey("tok1", PeriodDaily)]; got != 9 {
		t.Errorf("daily should not have been incremented past its cap: got %v", got)
	}
}

func TestCostAccountant_ComputeCost_TestHooks(t *testing.T) {
	t.Parallel()
	ledger := newFakeLedger()
	a := NewCostAccountant(newTestTable(), ledger, true)

	headers := map[string]string{HeaderTestCost: "1.23"}
	cost := a.ComputeCost("openai", "gpt-4o", &router.Usage{PromptTokens: 1, CompletionTokens: 1}, headers)
	if cost != 1.23 {
		t.Errorf("cost = %v, want 1.23 from test hook override", cost)
	}
}

func TestCostAccountant_ComputeCost_TestHooksIgnoredWhenDisabled(t *testing.T) {
	t.Parallel()
	ledger := newFakeLedger()
	a := NewCostAccountant(newTestTable(), ledger, false)

	headers := map[string]string{HeaderTestCost: "999"}
	usage := &router.Usage{PromptTokens: 1_000_000, CompletionTokens: 0}
	cost := a.ComputeCost("openai", "gpt-4o", usage, headers)
	if cost != 2.5 {
		t.Errorf("cost = %v, want 2.5 (test hook must be ignored when disabled)", cost)
	}
}

func TestCostAccountant_ComputeCost_TestTokenOverride(t *testing.T) {
	t.Parallel()
	ledger := newFakeLedger()
	a := NewCostAccountant(newTestTable(), ledger, true)

	headers := map[string]string{HeaderTestTokens: "1000000"}
	cost := a.ComputeCost("openai", "gpt-4o", &router.Usage{PromptTokens: 1, CompletionTokens: 1}, headers)
	want := 2.5 + 10.0
	if cost != want {
		t.Errorf("cost = %v, want %v", cost, want)
	}
}
