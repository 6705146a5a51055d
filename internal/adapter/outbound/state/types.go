// Package state provides file-based persistence for AILink runtime state.
//
// The state.json file stores all runtime configuration including provider
// configurations, model routes, policies, identities, API keys, and admin
// credentials. This package provides atomic writes, file locking, and
// backup functionality.
package state

import (
	"encoding/json"
	"time"
)

// AppState is the top-level structure persisted in state.json.
// It holds all runtime configuration that survives restarts.
type AppState struct {
	// Version is the schema version for forward compatibility. Currently "1".
	Version string `json:"version"`

	// DefaultPolicy is the fallback action when no policy matches ("deny" or "allow").
	DefaultPolicy string `json:"default_policy"`

	// Providers are the configured upstream LLM providers.
	Providers []ProviderEntry `json:"providers"`

	// Routes map caller-facing model aliases to ordered provider/model
	// failover targets.
	Routes []RouteEntry `json:"routes,omitempty"`

	// Policies are the access control rules evaluated in priority order.
	Policies []PolicyEntry `json:"policies"`

	// Identities are the known users and services.
	Identities []IdentityEntry `json:"identities"`

	// APIKeys are the authentication keys mapped to identities.
	APIKeys []APIKeyEntry `json:"api_keys"`

	// PolicyEvaluations are recent policy evaluation records.
	// Bounded to a maximum of 1000 entries (FIFO eviction).
	PolicyEvaluations []PolicyEvaluationEntry `json:"policy_evaluations,omitempty"`

	// OutboundRules are the persisted outbound control rules.
	// Includes both default blocklist rules and user-created rules.
	OutboundRules []OutboundRuleEntry `json:"outbound_rules,omitempty"`

	// ContentScanningConfig holds the response scanning configuration.
	// Mode is "monitor" (default) or "enforce".
	ContentScanningConfig *ContentScanningConfig `json:"content_scanning_config,omitempty"`

	// ToolBaseline stores the tool schema baseline for drift detection.
	ToolBaseline map[string]ToolBaselineEntry `json:"tool_baseline,omitempty"`

	// QuarantinedTools lists tool names that are currently quarantined.
	QuarantinedTools []string `json:"quarantined_tools,omitempty"`

	// AdminPasswordHash is the Argon2id hash of the admin password.
	// Empty string means no admin password has been set.
	AdminPasswordHash string `json:"admin_password_hash"`

	// CreatedAt is when this state file was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when this state file was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// ProviderEntry represents a configured upstream LLM provider.
type ProviderEntry struct {
	// ID is the unique identifier (UUID).
	ID string `json:"id"`

	// Name is the human-readable display name.
	Name string `json:"name"`

	// Kind is the provider adapter to use: "openai", "anthropic",
	// "anthropic-bedrock", or "gemini".
	Kind string `json:"kind"`

	// Enabled indicates whether this provider is active.
	Enabled bool `json:"enabled"`

	// BaseURL overrides the provider's default API base URL, if set.
	BaseURL string `json:"base_url,omitempty"`

	// Models lists the provider-native model names this provider serves.
	Models []string `json:"models"`

	// Priority is the default failover ordering when a route does not
	// specify its own per-target priority.
	Priority int `json:"priority"`

	// TimeoutMs bounds how long a single request to this provider may take.
	TimeoutMs int `json:"timeout_ms,omitempty"`

	// CreatedAt is when this provider was added.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when this provider was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// RouteEntry represents a persisted model alias route. Targets is stored as
// raw JSON ([]upstream.RouteTarget) to match upstream.Route's on-disk shape
// exactly, avoiding a lossy re-encode on every state.json save.
type RouteEntry struct {
	// ID is the unique identifier (UUID).
	ID string `json:"id"`

	// ModelAlias is the caller-facing model name this route resolves.
	ModelAlias string `json:"model_alias"`

	// Targets is the JSON-encoded ordered list of provider/model failover
	// targets.
	Targets json.RawMessage `json:"targets"`

	// CacheTTLs is the response cache TTL in seconds for this route, or 0
	// to disable caching.
	CacheTTLs int `json:"cache_ttl_s,omitempty"`

	// CreatedAt is when this route was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when this route was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// PolicyEntry represents a single access control rule.
type PolicyEntry struct {
	// ID is the unique identifier.
	ID string `json:"id"`

	// Name is the human-readable name.
	Name string `json:"name"`

	// Priority determines evaluation order (lower number = higher priority).
	Priority int `json:"priority"`

	// ToolPattern is a glob pattern matching the action/path name (e.g. "*",
	// "/v1/chat/completions").
	ToolPattern string `json:"tool_pattern"`

	// Condition is a CEL expression that must evaluate to true for this rule to apply.
	Condition string `json:"condition,omitempty"`

	// Action is the JSON-encoded form of policy.Action (the tagged action
	// variant: deny, rate_limit, redact, transform, ...).
	Action string `json:"action"`

	// Phase is the owning policy's evaluation phase ("pre", "post", "both").
	Phase string `json:"phase,omitempty"`

	// Mode is the owning policy's enforcement mode ("enforce", "shadow", "log").
	Mode string `json:"mode,omitempty"`

	// Enabled indicates whether this rule is active.
	Enabled bool `json:"enabled"`

	// ReadOnly is true for rules sourced from YAML config (not editable via API).
	ReadOnly bool `json:"read_only"`

	// CreatedAt is when this rule was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when this rule was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// IdentityEntry represents a known user or service.
type IdentityEntry struct {
	// ID is the unique identifier.
	ID string `json:"id"`

	// Name is the display name.
	Name string `json:"name"`

	// Roles are the assigned roles (e.g. "admin", "user", "read-only").
	Roles []string `json:"roles"`

	// ReadOnly is true for identities sourced from YAML config.
	ReadOnly bool `json:"read_only"`

	// CreatedAt is when this identity was created.
	CreatedAt time.Time `json:"created_at"`

	// SpendCaps are the LLM-spend ceilings the cost accountant enforces
	// for this identity's tokens (see service.CostAccountant and
	// billing.Cap). Empty means uncapped.
	SpendCaps []SpendCapEntry `json:"spend_caps,omitempty"`
}

// SpendCapEntry is the persisted form of a billing.Cap: a period name
// ("daily", "monthly", "lifetime") and its USD limit. Kept as plain
// strings here (rather than importing billing.CapPeriod) so the state
// package, which every adapter depends on, has no edge back to the
// domain billing package.
type SpendCapEntry struct {
	Period   string  `json:"period"`
	LimitUSD float64 `json:"limit_usd"`
}

// PolicyEvaluationEntry represents a stored policy evaluation record.
type PolicyEvaluationEntry struct {
	// RequestID is the unique identifier for this evaluation.
	RequestID string `json:"request_id"`

	// ActionType is the canonical action type evaluated.
	ActionType string `json:"action_type"`

	// ActionName is the action that was evaluated.
	ActionName string `json:"action_name"`

	// Protocol is the originating protocol.
	Protocol string `json:"protocol"`

	// Gateway is the gateway that received the request.
	Gateway string `json:"gateway"`

	// Framework is the AI framework in use (optional).
	Framework string `json:"framework,omitempty"`

	// Decision is the evaluation result: "allow", "deny", or "approval_required".
	Decision string `json:"decision"`

	// RuleID is the rule that produced the decision.
	RuleID string `json:"rule_id,omitempty"`

	// LatencyMs is the evaluation latency in milliseconds.
	LatencyMs int64 `json:"latency_ms"`

	// Status is the current status: "pending", "approved", "denied", "timeout".
	Status string `json:"status"`

	// CreatedAt is when the evaluation was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the evaluation was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// APIKeyEntry represents an authentication key mapped to an identity.
type APIKeyEntry struct {
	// ID is the unique identifier.
	ID string `json:"id"`

	// KeyHash is the Argon2id hash of the API key.
	KeyHash string `json:"key_hash"`

	// IdentityID references the identity this key authenticates as.
	IdentityID string `json:"identity_id"`

	// Name is a human-readable display name for this key.
	Name string `json:"name"`

	// CreatedAt is when this key was created.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when this key expires. Nil means it never expires.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// Revoked indicates whether this key has been revoked.
	Revoked bool `json:"revoked"`

	// ReadOnly is true for keys sourced from YAML config.
	ReadOnly bool `json:"read_only"`
}

// ContentScanningConfig configures the response content scanning feature.
type ContentScanningConfig struct {
	// Mode is "monitor" (log only) or "enforce" (block on detection).
	// Default is "monitor" to avoid false positives disrupting workflows.
	Mode string `json:"mode"`
	// Enabled indicates whether content scanning is active.
	// Default is true (security by default).
	Enabled bool `json:"enabled"`
	// UpdatedAt is when the config was last changed.
	UpdatedAt time.Time `json:"updated_at"`
}

// OutboundRuleEntry represents a persisted outbound control rule in state.json.
// It maps to the domain OutboundRule type for JSON serialization.
type OutboundRuleEntry struct {
	// ID uniquely identifies this rule.
	ID string `json:"id"`
	// Name is the human-readable rule name.
	Name string `json:"name"`
	// Mode is "blocklist" or "allowlist".
	Mode string `json:"mode"`
	// Targets are the target specifications for this rule.
	Targets []OutboundTargetEntry `json:"targets"`
	// Action is "block", "alert", or "log".
	Action string `json:"action"`
	// Scope is empty for global rules, otherwise a scope identifier.
	Scope string `json:"scope"`
	// Priority determines evaluation order (lower = higher priority).
	Priority int `json:"priority"`
	// Enabled controls whether this rule is active.
	Enabled bool `json:"enabled"`
	// Base64Scan enables base64 URL decoding in URL extraction.
	Base64Scan bool `json:"base64_scan"`
	// HelpText is shown in deny messages.
	HelpText string `json:"help_text,omitempty"`
	// HelpURL is a link shown in deny messages.
	HelpURL string `json:"help_url,omitempty"`
	// ReadOnly is true for default blocklist rules that cannot be modified.
	ReadOnly bool `json:"read_only"`
	// TenantID is reserved for Pro multi-tenant support (OUT-12).
	TenantID string `json:"tenant_id,omitempty"`
	// CreatedAt is when this rule was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when this rule was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// OutboundTargetEntry represents a single target specification in a persisted outbound rule.
type OutboundTargetEntry struct {
	// Type is the kind of target: "domain", "ip", "cidr", "domain_glob", "port_range".
	Type string `json:"type"`
	// Value is the target value (e.g., "evil.com", "10.0.0.0/8", "*.ngrok.io").
	Value string `json:"value"`
}

// ToolBaselineEntry stores a snapshot of a tool's schema at baseline capture time.
type ToolBaselineEntry struct {
	// Name is the tool's unique identifier.
	Name string `json:"name"`
	// Description is the human-readable tool description.
	Description string `json:"description"`
	// InputSchema is the JSON Schema for the tool's parameters.
	InputSchema interface{} `json:"input_schema"`
	// CapturedAt records when this baseline was captured.
	CapturedAt time.Time `json:"captured_at"`
}
