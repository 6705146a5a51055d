// Package policy contains domain types for request policy evaluation: the
// conditions that match a request and the actions taken when they do.
package policy

import "time"

// Phase identifies when a rule is evaluated relative to the upstream call.
type Phase string

const (
	// PhasePre evaluates before the request is dispatched upstream.
	PhasePre Phase = "pre"
	// PhasePost evaluates after the upstream response is received.
	PhasePost Phase = "post"
	// PhaseBoth evaluates at both points.
	PhaseBoth Phase = "both"
)

// Mode controls whether a policy's matched actions are enforced, logged only,
// or evaluated without taking effect (shadow).
type Mode string

const (
	// ModeEnforce applies matched actions normally.
	ModeEnforce Mode = "enforce"
	// ModeShadow evaluates rules and records what would have happened, but
	// never denies, redacts, or otherwise alters the request/response.
	ModeShadow Mode = "shadow"
	// ModeLog only logs matches; equivalent to shadow but intended for rules
	// kept permanently non-blocking (e.g. informational tagging).
	ModeLog Mode = "log"
)

// ActionKind discriminates the tagged Action variant. Exactly one of the
// corresponding pointer fields on Action is non-nil for a given Kind.
type ActionKind string

const (
	ActionKindAllow            ActionKind = "allow"
	ActionKindDeny             ActionKind = "deny"
	ActionKindRateLimit        ActionKind = "rate_limit"
	ActionKindThrottle         ActionKind = "throttle"
	ActionKindRequireApproval  ActionKind = "require_approval"
	ActionKindRedact           ActionKind = "redact"
	ActionKindTransform        ActionKind = "transform"
	ActionKindOverride         ActionKind = "override"
	ActionKindSplit            ActionKind = "split"
	ActionKindDynamicRoute     ActionKind = "dynamic_route"
	ActionKindConditionalRoute ActionKind = "conditional_route"
	ActionKindContentFilter    ActionKind = "content_filter"
	ActionKindExternalGuard    ActionKind = "external_guardrail"
	ActionKindToolScope        ActionKind = "tool_scope"
	ActionKindValidateSchema   ActionKind = "validate_schema"
	ActionKindWebhook          ActionKind = "webhook"
	ActionKindCircuitBreaker   ActionKind = "circuit_breaker"
	ActionKindLog              ActionKind = "log"
)

// DenyConfig configures the ActionKindDeny variant.
type DenyConfig struct {
	Status  int    // HTTP status code to return, default 403.
	Message string // body message surfaced to the caller.
	Code    string // machine-readable error code, e.g. "policy_denied".
}

// RateLimitConfig configures the ActionKindRateLimit variant. Window/MaxRequests
// feed the GCRA ratelimit.RateLimitConfig; Key selects the bucket (e.g. "token",
// "ip", "token+model").
type RateLimitConfig struct {
	Window       time.Duration
	MaxRequests  int
	Key          string
}

// ThrottleConfig configures the ActionKindThrottle variant: an artificial
// delay injected before dispatch, used to smooth bursty callers without
// rejecting them outright.
type ThrottleConfig struct {
	DelayMS int
}

// RequireApprovalConfig configures the ActionKindRequireApproval variant.
type RequireApprovalConfig struct {
	Timeout  time.Duration
	Fallback ActionKind // what happens on timeout: allow or deny.
}

// RedactOnMatch identifies what Redact does with a matched span.
type RedactOnMatch string

const (
	RedactOnMatchRedact   RedactOnMatch = "redact"
	RedactOnMatchBlock    RedactOnMatch = "block"
	RedactOnMatchTokenize RedactOnMatch = "tokenize"
)

// RedactDirection identifies which side of the proxy a Redact action applies to.
type RedactDirection string

const (
	RedactDirectionRequest  RedactDirection = "request"
	RedactDirectionResponse RedactDirection = "response"
	RedactDirectionBoth     RedactDirection = "both"
)

// RedactConfig configures the ActionKindRedact variant.
type RedactConfig struct {
	Direction RedactDirection
	Patterns  []string // regexes, e.g. PII detectors.
	OnMatch   RedactOnMatch
}

// TransformOpKind identifies a single Transform operation.
type TransformOpKind string

const (
	TransformSetHeader           TransformOpKind = "set_header"
	TransformRemoveHeader        TransformOpKind = "remove_header"
	TransformSetBodyField        TransformOpKind = "set_body_field"
	TransformRemoveBodyField     TransformOpKind = "remove_body_field"
	TransformAppendSystemPrompt  TransformOpKind = "append_system_prompt"
	TransformPrependSystemPrompt TransformOpKind = "prepend_system_prompt"
)

// TransformOp is a single mutation applied to the request (or response, for
// Post-phase rules) by a Transform action.
type TransformOp struct {
	Kind  TransformOpKind
	Name  string      // header name, or JSON-pointer body field path.
	Value interface{} // new value; unused for the Remove* kinds.
}

// TransformConfig configures the ActionKindTransform variant.
type TransformConfig struct {
	Operations []TransformOp
}

// OverrideConfig configures the ActionKindOverride variant: a direct set of
// body fields applied unconditionally (distinct from Transform, which can
// also remove fields and touch headers/prompts).
type OverrideConfig struct {
	SetBodyFields map[string]interface{}
}

// SplitVariant is one weighted branch of a Split (A/B test) action.
type SplitVariant struct {
	Weight        int
	SetBodyFields map[string]interface{}
	Tag           string
}

// SplitConfig configures the ActionKindSplit variant. The variant is chosen
// deterministically per request_id so repeated requests with the same id
// land in the same bucket.
type SplitConfig struct {
	Experiment string
	Variants   []SplitVariant
}

// RouteStrategy identifies a DynamicRoute load-balancing strategy.
type RouteStrategy string

const (
	RouteStrategyRoundRobin    RouteStrategy = "round_robin"
	RouteStrategyRandom        RouteStrategy = "random"
	RouteStrategyLowestCost    RouteStrategy = "lowest_cost"
	RouteStrategyLowestLatency RouteStrategy = "lowest_latency"
	RouteStrategyWeighted      RouteStrategy = "weighted"
)

// DynamicRouteConfig configures the ActionKindDynamicRoute variant: pick an
// upstream target from a named pool using the given strategy.
type DynamicRouteConfig struct {
	Strategy RouteStrategy
	Pool     string
}

// RouteBranch is one candidate in a ConditionalRoute action: if When matches,
// dispatch to Pool.
type RouteBranch struct {
	When Condition
	Pool string
}

// ConditionalRouteConfig configures the ActionKindConditionalRoute variant.
type ConditionalRouteConfig struct {
	Branches []RouteBranch
	Fallback string // pool used when no branch matches.
}

// ContentFilterConfig configures the ActionKindContentFilter variant.
type ContentFilterConfig struct {
	BlockJailbreak      bool
	BlockHarmful        bool
	BlockCodeInjection  bool
	TopicAllowlist      []string
	TopicDenylist       []string
	CustomPatterns      []string
}

// GuardrailOnFail identifies the fallback behavior when an ExternalGuardrail
// call itself fails (times out, errors, vendor unreachable).
type GuardrailOnFail string

const (
	GuardrailOnFailAllow GuardrailOnFail = "allow"
	GuardrailOnFailDeny  GuardrailOnFail = "deny"
)

// ExternalGuardrailConfig configures the ActionKindExternalGuard variant: a
// call out to a third-party content-safety vendor.
type ExternalGuardrailConfig struct {
	Vendor    string
	Endpoint  string
	Threshold float64
	OnFail    GuardrailOnFail
}

// ToolScopeConfig configures the ActionKindToolScope variant: restrict which
// function/tool names (matched as globs against body.tools[].function.name)
// may appear in the request.
type ToolScopeConfig struct {
	AllowedTools []string
	BlockedTools []string
}

// ValidateSchemaConfig configures the ActionKindValidateSchema variant.
// Only meaningful with Phase = PhasePost: the schema is checked against
// choices[0].message.content of the upstream response.
type ValidateSchemaConfig struct {
	Schema string // JSON schema document.
}

// WebhookOnFail identifies whether a failed webhook call blocks the request.
type WebhookOnFail string

const (
	WebhookOnFailAllow WebhookOnFail = "allow"
	WebhookOnFailDeny  WebhookOnFail = "deny"
)

// WebhookConfig configures the ActionKindWebhook variant: a fire-and-log POST
// to an operator-configured URL, SSRF-filtered like the outbound rule
// checker.
type WebhookConfig struct {
	URL       string
	TimeoutMS int
	OnFail    WebhookOnFail
}

// CircuitBreakerConfig configures the ActionKindCircuitBreaker variant: a
// rule-level override of the gateway-default circuit breaker thresholds for
// the upstream(s) this rule matches.
type CircuitBreakerConfig struct {
	FailureThreshold  int
	RecoveryCooldown  time.Duration
	HalfOpenMaxProbes int
}

// LogConfig configures the ActionKindLog variant: a passive audit annotation.
type LogConfig struct {
	Level string
	Tags  []string
}

// Action is a tagged union over every policy action variant a rule can
// produce. Exactly one Config pointer is populated, matching Kind. Modeled as a
// flat struct (rather than an interface) so it marshals directly to/from the
// JSON policy documents the admin API and file-backed PolicyStore use.
type Action struct {
	Kind ActionKind

	Deny             *DenyConfig
	RateLimit        *RateLimitConfig
	Throttle         *ThrottleConfig
	RequireApproval  *RequireApprovalConfig
	Redact           *RedactConfig
	Transform        *TransformConfig
	Override         *OverrideConfig
	Split            *SplitConfig
	DynamicRoute     *DynamicRouteConfig
	ConditionalRoute *ConditionalRouteConfig
	ContentFilter    *ContentFilterConfig
	ExternalGuard    *ExternalGuardrailConfig
	ToolScope        *ToolScopeConfig
	ValidateSchema   *ValidateSchemaConfig
	Webhook          *WebhookConfig
	CircuitBreaker   *CircuitBreakerConfig
	Log              *LogConfig
}

// ConditionKind discriminates the tagged Condition variant.
type ConditionKind string

const (
	ConditionAlways  ConditionKind = "always"
	ConditionFieldOp ConditionKind = "field_op"
	ConditionNot     ConditionKind = "not"
	ConditionAll     ConditionKind = "all"
	ConditionAny     ConditionKind = "any"
)

// FieldOp identifies a comparison operator used by a FieldOp condition.
type FieldOp string

const (
	FieldOpEq       FieldOp = "eq"
	FieldOpNeq      FieldOp = "neq"
	FieldOpGt       FieldOp = "gt"
	FieldOpGte      FieldOp = "gte"
	FieldOpLt       FieldOp = "lt"
	FieldOpLte      FieldOp = "lte"
	FieldOpContains FieldOp = "contains"
	FieldOpIn       FieldOp = "in"
	FieldOpMatches  FieldOp = "matches" // regex
)

// Condition is a tagged tree mirroring a structured condition language
// (Always | FieldOp | Not | All | Any). A Rule's When is stored this way in
// the domain model for admin-API round-tripping, and compiled to a single
// CEL expression (via CompileCondition) before evaluation, since the
// existing CEL evaluator already expresses FieldOp/Not/All/Any natively
// (see DESIGN.md Open Question: Condition representation).
type Condition struct {
	Kind ConditionKind

	// FieldOp fields, used when Kind == ConditionFieldOp.
	Path string      // JSON-pointer-style path into the RV, e.g. "body.model".
	Op   FieldOp
	Value interface{}

	// Composite fields.
	Not *Condition
	All []Condition
	Any []Condition
}

// Rule pairs a Condition with the Action taken when it matches.
type Rule struct {
	// ID is the unique identifier for this rule.
	ID string
	// Name is a human-readable name for this rule.
	Name string
	// Priority determines rule evaluation order (higher = evaluated first).
	Priority int
	// Match is a glob matched against the action/path name (e.g. a specific
	// route or "*" for any). Kept as a fast pre-filter ahead of Condition.
	Match string
	// When is the structured condition tree.
	When Condition
	// CEL is the compiled form of When, cached at load time. Empty/omitted
	// policy documents may instead set CEL directly for rules authored by
	// hand as raw CEL expressions, kept for back-compat with an
	// already-deployed rule format.
	CEL string
	// Then is the action applied when When matches.
	Then Action
	// AsyncCheck runs this rule's evaluation detached from the request path;
	// its Action (typically Log or Webhook) never blocks the response.
	AsyncCheck bool
	// CreatedAt is when the rule was created (UTC).
	CreatedAt time.Time
}

// Decision represents the outcome of evaluating a chain of rules against a
// request (or response, for Post-phase rules).
type Decision struct {
	// Allowed is true if the request may proceed unmodified (or with only
	// non-blocking Transform/Redact/Log side effects applied).
	Allowed bool
	// RuleID/RuleName identify the rule that produced this decision.
	RuleID   string
	RuleName string
	// Reason explains why the decision was made.
	Reason string
	// Action is the resolved action taken (zero value Allow when no rule
	// matched).
	Action Action

	// RequiresApproval mirrors Action.Kind == ActionKindRequireApproval for
	// callers that only care about the approval gate.
	RequiresApproval      bool
	ApprovalTimeout       time.Duration
	ApprovalTimeoutAction ActionKind

	// HelpURL/HelpText surface operator guidance on denial, rendered by the
	// admin UI the same way it already does for MCP tool denials.
	HelpURL  string
	HelpText string

	// Shadow is true when the matching policy's Mode is Shadow or Log: the
	// decision was computed but must not be enforced, only audited.
	Shadow bool
}

// Policy is a named, ordered collection of rules.
type Policy struct {
	// ID is the unique identifier for this policy.
	ID string
	// Name is the human-readable name for this policy.
	Name string
	// Description provides additional context about the policy.
	Description string
	// Priority determines policy evaluation order relative to other
	// policies (higher = evaluated first).
	Priority int
	// Phase selects when this policy's rules run: pre-dispatch, post
	// -response, or both.
	Phase Phase
	// Mode controls enforcement: Enforce applies actions, Shadow/Log only
	// record what would have happened.
	Mode Mode
	// Rules are the ordered rules in this policy.
	Rules []Rule
	// Enabled indicates if this policy is active.
	Enabled bool
	// CreatedAt is when the policy was created (UTC).
	CreatedAt time.Time
	// UpdatedAt is when the policy was last modified (UTC).
	UpdatedAt time.Time
}
