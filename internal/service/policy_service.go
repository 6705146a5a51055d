// Package service contains application services.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"

	celeval "github.com/ailink-gateway/ailink/internal/adapter/outbound/cel"
	"github.com/ailink-gateway/ailink/internal/domain/policy"
)

// CompiledRule represents a pre-compiled policy rule ready for evaluation.
type CompiledRule struct {
	ID       string
	Name     string // Human-readable rule name
	Priority int
	Match    string      // Glob pattern matched against the action/path name
	Program  cel.Program // Pre-compiled CEL program
	Then     policy.Action
	// Phase/Mode are inherited from the owning Policy so a flattened rule
	// list still knows when it applies and whether it can block.
	Phase policy.Phase
	Mode  policy.Mode
}

// RuleIndex provides O(1) lookup for exact action-name matches.
type RuleIndex struct {
	Exact    map[string][]CompiledRule // "/v1/chat/completions" -> rules for exact match
	Wildcard []CompiledRule            // "*" or glob patterns, evaluated in priority order
}

// CompiledRulesSnapshot is the immutable snapshot stored in atomic.Value.
type CompiledRulesSnapshot struct {
	Rules []CompiledRule // All rules sorted by priority (kept for compatibility)
	Index *RuleIndex     // Index for fast lookup
}

// lruEntry is a doubly-linked list node for the LRU cache.
type lruEntry struct {
	key      uint64
	decision policy.Decision
	prev     *lruEntry
	next     *lruEntry
}

// ResultCache provides bounded LRU caching for CEL evaluation results.
// Thread-safe with Mutex (both Get and Put mutate LRU order).
type ResultCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry // most recently used
	tail    *lruEntry // least recently used
	maxSize int
}

// NewResultCache creates a new LRU cache with the given max size.
func NewResultCache(maxSize int) *ResultCache {
	return &ResultCache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

// Get retrieves a cached decision. Returns (decision, true) on hit, (zero, false) on miss.
// On hit, the entry is promoted to the head (most recently used).
func (c *ResultCache) Get(key uint64) (policy.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.decision, true
	}
	return policy.Decision{}, false
}

// Put stores a decision in the cache. If at capacity, the least recently used entry is evicted.
func (c *ResultCache) Put(key uint64, decision policy.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.decision = decision
		c.moveToHeadLocked(e)
		return
	}

	// Evict LRU entry if at capacity.
	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &lruEntry{key: key, decision: decision}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Clear empties the cache. Called on policy reload.
func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*lruEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

// Size returns current cache size.
func (c *ResultCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// moveToHeadLocked moves an existing entry to the head. Must be called with lock held.
func (c *ResultCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

// pushHeadLocked inserts an entry at the head. Must be called with lock held.
func (c *ResultCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

// unlinkLocked removes an entry from the linked list. Must be called with lock held.
func (c *ResultCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

// evictTailLocked removes the least recently used entry. Must be called with lock held.
func (c *ResultCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// computeCacheKey generates a unique hash for the evaluation context.
// Includes the request method/path/model, sorted roles, body hash, and the
// evaluation phase for collision resistance.
func computeCacheKey(evalCtx policy.EvaluationContext, phase policy.Phase) uint64 {
	h := xxhash.New()

	_, _ = h.WriteString(evalCtx.Method)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(evalCtx.Path)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(evalCtx.Model)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(string(phase))
	_, _ = h.Write([]byte{0})

	sortedRoles := make([]string, len(evalCtx.UserRoles))
	copy(sortedRoles, evalCtx.UserRoles)
	sort.Strings(sortedRoles)
	_, _ = h.WriteString(strings.Join(sortedRoles, ","))
	_, _ = h.Write([]byte{0})

	_, _ = h.WriteString(evalCtx.IdentityName)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(evalCtx.TokenID)
	_, _ = h.Write([]byte{0})

	if len(evalCtx.Body) > 0 {
		bodyJSON, _ := json.Marshal(evalCtx.Body)
		_, _ = h.Write(bodyJSON)
	}

	return h.Sum64()
}

// PolicyService implements policy.PolicyEngine with CEL-based rule evaluation.
// Rules are compiled at load time and evaluated in priority order (highest first).
// Supports hot-reload via Reload() method for runtime policy updates.
// Uses atomic.Value for lock-free reads on the hot path.
type PolicyService struct {
	store     policy.PolicyStore
	evaluator *celeval.Evaluator
	snapshot  atomic.Value // stores *CompiledRulesSnapshot
	mu        sync.Mutex   // Only for Reload() writes
	cache     *ResultCache // CEL result cache
	logger    *slog.Logger
}

// PolicyServiceOption configures PolicyService.
type PolicyServiceOption func(*PolicyService)

// WithCacheSize sets the maximum number of cached decisions.
func WithCacheSize(size int) PolicyServiceOption {
	return func(s *PolicyService) {
		s.cache = NewResultCache(size)
	}
}

// NewPolicyService creates a new PolicyService that loads and compiles rules from the store.
// The ctx parameter is used for the initial policy loading and can be cancelled to abort startup.
func NewPolicyService(ctx context.Context, store policy.PolicyStore, logger *slog.Logger, opts ...PolicyServiceOption) (*PolicyService, error) {
	evaluator, err := celeval.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	s := &PolicyService{
		store:     store,
		evaluator: evaluator,
		cache:     NewResultCache(1000), // Default 1000 entries
		logger:    logger,
	}

	// Apply options (may override default cache)
	for _, opt := range opts {
		opt(s)
	}

	policies, err := store.GetAllPolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	compiled, err := s.compilePolicies(policies)
	if err != nil {
		return nil, err
	}

	snapshot := &CompiledRulesSnapshot{
		Rules: compiled,
		Index: s.buildIndex(compiled),
	}
	s.snapshot.Store(snapshot)

	logger.Info("policy service initialized",
		"rules_compiled", len(compiled),
		"exact_patterns", len(snapshot.Index.Exact),
		"wildcard_patterns", len(snapshot.Index.Wildcard),
		"cache_max_size", s.cache.maxSize,
	)

	return s, nil
}

// conditionExpr returns the CEL expression source for a rule: the raw CEL
// string when the rule was hand-authored that way (back-compat), otherwise
// the compiled form of its structured When tree.
func conditionExpr(r policy.Rule) string {
	if r.CEL != "" {
		return r.CEL
	}
	return policy.CompileCondition(r.When)
}

// ValidateRules checks that all CEL conditions in the given rules are valid.
// This should be called before persisting policies to prevent invalid CEL from
// poisoning the policy store. Returns an error describing the first invalid rule.
func (s *PolicyService) ValidateRules(rules []policy.Rule) error {
	for _, rule := range rules {
		expr := conditionExpr(rule)
		if expr == "" {
			continue // empty condition defaults to "true" at compile time
		}
		if err := s.evaluator.ValidateExpression(expr); err != nil {
			return fmt.Errorf("rule %q: %w", rule.Name, err)
		}
	}
	return nil
}

// compilePolicies compiles every enabled policy's rules, stamping each
// CompiledRule with its owning policy's Phase and Mode.
func (s *PolicyService) compilePolicies(policies []policy.Policy) ([]CompiledRule, error) {
	var compiled []CompiledRule
	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		rules, err := s.compileRules(p.Rules, p.Phase, p.Mode)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.ID, err)
		}
		compiled = append(compiled, rules...)
	}

	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})

	return compiled, nil
}

// compileRules compiles CEL expressions for a single policy's rules.
func (s *PolicyService) compileRules(rules []policy.Rule, phase policy.Phase, mode policy.Mode) ([]CompiledRule, error) {
	compiled := make([]CompiledRule, 0, len(rules))

	for _, rule := range rules {
		expr := conditionExpr(rule)
		if expr == "" {
			expr = "true"
		}
		prg, err := s.evaluator.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, err)
		}

		ruleID := rule.ID
		if ruleID == "" {
			ruleID = rule.Name
		}

		match := rule.Match
		if match == "" {
			match = "*"
		}

		compiled = append(compiled, CompiledRule{
			ID:       ruleID,
			Name:     rule.Name,
			Priority: rule.Priority,
			Match:    match,
			Program:  prg,
			Then:     rule.Then,
			Phase:    phase,
			Mode:     mode,
		})
	}

	return compiled, nil
}

// buildIndex creates a RuleIndex from compiled rules for O(1) exact match lookup.
func (s *PolicyService) buildIndex(rules []CompiledRule) *RuleIndex {
	idx := &RuleIndex{
		Exact: make(map[string][]CompiledRule),
	}
	for _, rule := range rules {
		if strings.ContainsAny(rule.Match, "*?[") {
			idx.Wildcard = append(idx.Wildcard, rule)
		} else {
			idx.Exact[rule.Match] = append(idx.Exact[rule.Match], rule)
		}
	}
	sort.Slice(idx.Wildcard, func(i, j int) bool {
		return idx.Wildcard[i].Priority > idx.Wildcard[j].Priority
	})
	for k := range idx.Exact {
		sort.Slice(idx.Exact[k], func(i, j int) bool {
			return idx.Exact[k][i].Priority > idx.Exact[k][j].Priority
		})
	}
	return idx
}

// loadSnapshot returns the current rules snapshot atomically (lock-free).
func (s *PolicyService) loadSnapshot() *CompiledRulesSnapshot {
	return s.snapshot.Load().(*CompiledRulesSnapshot)
}

// getCandidateRules returns rules that might match the given action/path
// name, merging exact matches with wildcards in priority order.
func (s *PolicyService) getCandidateRules(idx *RuleIndex, name string) []CompiledRule {
	exact := idx.Exact[name]

	if len(exact) == 0 {
		return idx.Wildcard
	}
	if len(idx.Wildcard) == 0 {
		return exact
	}

	merged := make([]CompiledRule, 0, len(exact)+len(idx.Wildcard))
	i, j := 0, 0
	for i < len(exact) && j < len(idx.Wildcard) {
		if exact[i].Priority >= idx.Wildcard[j].Priority {
			merged = append(merged, exact[i])
			i++
		} else {
			merged = append(merged, idx.Wildcard[j])
			j++
		}
	}
	merged = append(merged, exact[i:]...)
	merged = append(merged, idx.Wildcard[j:]...)
	return merged
}

// resolveDecision converts a matched rule's Action into a Decision, applying
// Shadow/Log mode (never blocks) and the blocking-vs-passive split between
// action kinds.
func resolveDecision(rule CompiledRule, evalCtx policy.EvaluationContext) policy.Decision {
	d := policy.Decision{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Reason:   fmt.Sprintf("matched rule %s", rule.Name),
		Action:   rule.Then,
		Allowed:  true,
	}

	if rule.Mode != policy.ModeEnforce {
		d.Shadow = true
		d.Reason = fmt.Sprintf("[shadow] matched rule %s", rule.Name)
		return d
	}

	switch rule.Then.Kind {
	case policy.ActionKindDeny:
		d.Allowed = false
		if rule.Then.Deny != nil && rule.Then.Deny.Message != "" {
			d.Reason = rule.Then.Deny.Message
		}
	case policy.ActionKindRequireApproval:
		d.Allowed = false
		d.RequiresApproval = true
		if cfg := rule.Then.RequireApproval; cfg != nil {
			d.ApprovalTimeout = cfg.Timeout
			d.ApprovalTimeoutAction = cfg.Fallback
		}
	case policy.ActionKindContentFilter, policy.ActionKindExternalGuard:
		// Blocking outcome for these is decided by the content-scan/guardrail
		// adapter downstream (it inspects d.Action); Allowed stays true here
		// so a rule match alone never blocks without that inspection.
	default:
		// RateLimit, Throttle, Redact, Transform, Override, Split,
		// DynamicRoute, ConditionalRoute, ToolScope, ValidateSchema,
		// Webhook, CircuitBreaker, Log, Allow: non-denying by themselves;
		// downstream pipeline stages apply their effect using d.Action.
	}

	return d
}

// Evaluate evaluates a request/response against policies scoped to phase.
// Rules are evaluated in priority order, first matching rule wins.
// Default allow if no rules match. Uses a lock-free atomic.Value read for
// the hot path; results are cached by request fingerprint + phase.
func (s *PolicyService) Evaluate(ctx context.Context, evalCtx policy.EvaluationContext, phase policy.Phase) (policy.Decision, error) {
	cacheKey := computeCacheKey(evalCtx, phase)

	if decision, ok := s.cache.Get(cacheKey); ok {
		return decision, nil
	}

	snapshot := s.loadSnapshot()

	matchName := evalCtx.Path
	if matchName == "" {
		matchName = evalCtx.ActionName
	}
	candidates := s.getCandidateRules(snapshot.Index, matchName)

	for _, rule := range candidates {
		if rule.Phase != policy.PhaseBoth && rule.Phase != phase {
			continue
		}

		if strings.ContainsAny(rule.Match, "*?[") && rule.Match != "*" {
			matched, err := filepath.Match(rule.Match, matchName)
			if err != nil {
				s.logger.Warn("invalid glob pattern", "rule", rule.ID, "pattern", rule.Match, "error", err)
				continue
			}
			if !matched {
				continue
			}
		}

		result, err := s.evaluator.Evaluate(rule.Program, evalCtx)
		if err != nil {
			return policy.Decision{}, fmt.Errorf("rule %s evaluation failed: %w", rule.ID, err)
		}
		if !result {
			continue
		}

		decision := resolveDecision(rule, evalCtx)
		s.cache.Put(cacheKey, decision)
		return decision, nil
	}

	decision := policy.Decision{
		Allowed: true,
		Reason:  "no matching rule (default allow)",
	}
	s.cache.Put(cacheKey, decision)
	return decision, nil
}

// Reload reloads and recompiles all policies from the store.
// This method is thread-safe and can be called concurrently with Evaluate.
// Only enabled policies are included in the compiled ruleset.
// Uses atomic.Value.Store for lock-free publish to readers.
func (s *PolicyService) Reload(ctx context.Context) error {
	policies, err := s.store.GetAllPolicies(ctx)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	compiled, err := s.compilePolicies(policies)
	if err != nil {
		return fmt.Errorf("failed to compile rules: %w", err)
	}

	idx := s.buildIndex(compiled)

	s.mu.Lock()
	s.snapshot.Store(&CompiledRulesSnapshot{
		Rules: compiled,
		Index: idx,
	})
	s.mu.Unlock()

	s.cache.Clear()

	s.logger.Info("policy service reloaded",
		"policies", len(policies),
		"enabled_policies", countEnabled(policies),
		"rules_compiled", len(compiled),
		"exact_patterns", len(idx.Exact),
		"wildcard_patterns", len(idx.Wildcard),
		"cache_cleared", true,
	)

	return nil
}

// countEnabled counts the number of enabled policies.
func countEnabled(policies []policy.Policy) int {
	count := 0
	for _, p := range policies {
		if p.Enabled {
			count++
		}
	}
	return count
}

// DefaultPolicy returns a policy with the built-in rate-limit and content
// guardrails every AILink gateway ships with. Rule IDs are left empty so
// they get auto-generated UUIDs on insert.
func DefaultPolicy() *policy.Policy {
	return &policy.Policy{
		ID:      "",
		Name:    "Default Gateway Policy",
		Enabled: true,
		Phase:   policy.PhasePre,
		Mode:    policy.ModeEnforce,
		Rules: []policy.Rule{
			// 1. Gateway-global default rate limit: 600 req/60s per token.
			{
				Name:     "default-rate-limit",
				Priority: 10,
				Match:    "*",
				When:     policy.Condition{Kind: policy.ConditionAlways},
				Then: policy.Action{
					Kind: policy.ActionKindRateLimit,
					RateLimit: &policy.RateLimitConfig{
						Window:      60 * time.Second,
						MaxRequests: 600,
						Key:         "token",
					},
				},
			},
			// 2. Block the most common prompt-injection / jailbreak attempts
			// by default; operators can disable via the admin UI.
			{
				Name:     "default-content-filter",
				Priority: 5,
				Match:    "*",
				When:     policy.Condition{Kind: policy.ConditionAlways},
				Then: policy.Action{
					Kind: policy.ActionKindContentFilter,
					ContentFilter: &policy.ContentFilterConfig{
						BlockJailbreak: true,
					},
				},
			},
		},
	}
}

// SeedDefaultPolicy seeds the default policy if no policies exist in the store.
// This ensures the gateway has rules to evaluate on first boot.
// Returns nil if policies already exist (idempotent).
func SeedDefaultPolicy(ctx context.Context, store policy.PolicyStore, logger *slog.Logger) error {
	policies, err := store.GetAllPolicies(ctx)
	if err != nil {
		return fmt.Errorf("check existing policies: %w", err)
	}

	if len(policies) > 0 {
		logger.Debug("policies exist, skipping seed", "count", len(policies))
		return nil
	}

	defaultPolicy := DefaultPolicy()
	if err := store.SavePolicy(ctx, defaultPolicy); err != nil {
		return fmt.Errorf("save default policy: %w", err)
	}

	for i := range defaultPolicy.Rules {
		rule := &defaultPolicy.Rules[i]
		if err := store.SaveRule(ctx, defaultPolicy.ID, rule); err != nil {
			return fmt.Errorf("save rule %s: %w", rule.ID, err)
		}
	}

	logger.Info("seeded default policy", "rules", len(defaultPolicy.Rules))
	return nil
}

// Compile-time interface verification.
var _ policy.PolicyEngine = (*PolicyService)(nil)
