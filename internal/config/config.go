// Package config provides configuration types for AILink OSS.
//
// This is the OSS (Open Source Software) configuration schema, designed for
// simplicity and file-based configuration. It intentionally excludes Pro and
// Enterprise features:
//
//   - NO Redis-backed spend ledger (in-memory/SQLite only)
//   - NO PostgreSQL for audit logs (stdout/file only)
//   - NO SIEM integration (Splunk, Datadog)
//   - NO Admin web interface beyond the bundled dashboard
//   - NO external secret manager integration (static key / env var only)
//   - NO Email/webhook notifications
//   - NO SSO/SAML/SCIM authentication
//   - NO Multi-tenant support
//   - NO Framework context variables
//
// For Pro features, see the ailink-pro module.
package config

import (
	"github.com/spf13/viper"
)

// OSSConfig is the top-level configuration for AILink OSS.
// It contains only the essential fields for a minimalist LLM gateway.
type OSSConfig struct {
	// Server configures the HTTP server listener.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Providers seeds the upstream LLM provider registry on first boot.
	// Optional: providers can also be managed entirely from the admin UI,
	// in which case this list may be empty and state.json/SQLite is the
	// source of truth after the first run.
	Providers []ProviderSeed `yaml:"providers" mapstructure:"providers" validate:"omitempty,dive"`

	// Pricing seeds the cost accountant's pricing table.
	// Optional: an unmatched model costs 0 but is still audited.
	Pricing []PricingRuleConfig `yaml:"pricing" mapstructure:"pricing" validate:"omitempty,dive"`

	// SpendCaps configures default spend caps applied to tokens that don't
	// carry their own caps.
	SpendCaps []SpendCapConfig `yaml:"spend_caps" mapstructure:"spend_caps" validate:"omitempty,dive"`

	// Approval configures the approval broker's default timeout/fallback.
	Approval ApprovalConfig `yaml:"approval" mapstructure:"approval"`

	// Vault configures the master key source for the credential vault
	// and the PII tokenizer's vault.
	Vault VaultConfig `yaml:"vault" mapstructure:"vault"`

	// Cache configures the response cache.
	Cache CacheConfig `yaml:"cache" mapstructure:"cache"`

	// CircuitBreaker configures the upstream dispatcher's per-provider
	// circuit breaker.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" mapstructure:"circuit_breaker"`

	// AuditFile configures the file-based audit persistence.
	// Only used when audit output is "file://" or for structured file audit.
	AuditFile AuditFileConfig `yaml:"audit_file" mapstructure:"audit_file"`

	// Auth configures file-based identities and API keys.
	// Optional: when empty, only localhost admin UI access works (no API key auth).
	// Identities and API keys can be created from the admin UI.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Audit configures where audit logs are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// RateLimit configures optional rate limiting.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// Policies defines the access control rules.
	// Optional: when empty, the server uses default-deny (no requests allowed).
	// Policies can be managed from the admin UI.
	Policies []PolicyConfig `yaml:"policies" mapstructure:"policies" validate:"omitempty,dive"`

	// DevMode enables development features (verbose logging, etc).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ProviderSeed configures an upstream LLM provider at boot time, mirroring
// upstream.ProviderConfig's admin-managed shape minus the generated ID and
// timestamps (those are assigned when the seed is materialized into the
// provider store on first run).
type ProviderSeed struct {
	// Name is a human-readable name for this provider, e.g. "openai-primary".
	Name string `yaml:"name" mapstructure:"name" validate:"required"`
	// Kind selects the wire protocol: openai, anthropic, anthropic-bedrock, gemini.
	Kind string `yaml:"kind" mapstructure:"kind" validate:"required,oneof=openai anthropic anthropic-bedrock gemini"`
	// BaseURL overrides the provider's default API base URL.
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	// Models lists the model names this provider serves.
	Models []string `yaml:"models" mapstructure:"models" validate:"required,min=1"`
	// Priority orders this provider among failover candidates for a route;
	// lower values are tried first.
	Priority int `yaml:"priority" mapstructure:"priority"`
	// Enabled controls whether this provider is eligible for dispatch.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// TimeoutMs is the per-request timeout in milliseconds.
	TimeoutMs int `yaml:"timeout_ms" mapstructure:"timeout_ms" validate:"omitempty,min=1"`
	// CredentialEnv names the environment variable holding this provider's
	// API credential. The credential is sealed into the vault on boot and
	// never persisted in plaintext.
	CredentialEnv string `yaml:"credential_env" mapstructure:"credential_env"`
}

// PricingRuleConfig configures one entry in the cost accountant's pricing
// table (billing.PricingTable), matched first-by-insertion-order.
type PricingRuleConfig struct {
	// Provider is the provider kind this rule applies to.
	Provider string `yaml:"provider" mapstructure:"provider" validate:"required"`
	// ModelPattern is a regular expression matched against the model name.
	ModelPattern string `yaml:"model_pattern" mapstructure:"model_pattern" validate:"required"`
	// InputPerMillionUSD is the cost in USD per million prompt tokens.
	InputPerMillionUSD float64 `yaml:"input_per_million_usd" mapstructure:"input_per_million_usd" validate:"min=0"`
	// OutputPerMillionUSD is the cost in USD per million completion tokens.
	OutputPerMillionUSD float64 `yaml:"output_per_million_usd" mapstructure:"output_per_million_usd" validate:"min=0"`
}

// SpendCapConfig configures a default spend cap, matching billing.Cap's
// Period/LimitUSD shape. Applied to tokens that do not carry their own caps.
type SpendCapConfig struct {
	// Period is one of "daily", "monthly", "lifetime".
	Period string `yaml:"period" mapstructure:"period" validate:"required,oneof=daily monthly lifetime"`
	// LimitUSD is the maximum spend allowed in this period.
	LimitUSD float64 `yaml:"limit_usd" mapstructure:"limit_usd" validate:"min=0"`
}

// ApprovalConfig configures the approval broker.
type ApprovalConfig struct {
	// Timeout is how long RequestApproval waits for a decision before
	// applying Fallback (e.g. "5m").
	// Defaults to "5m" if not specified.
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty"`
	// Fallback is the action taken when a request times out waiting for
	// approval: "allow" or "deny". Defaults to "deny".
	Fallback string `yaml:"fallback" mapstructure:"fallback" validate:"omitempty,oneof=allow deny"`
	// ReconcileInterval is how often pending requests past their
	// expiry are swept and resolved on restart (e.g. "1m").
	ReconcileInterval string `yaml:"reconcile_interval" mapstructure:"reconcile_interval" validate:"omitempty"`
}

// VaultConfig configures the master key source backing the credential
// vault and the PII tokenizer's vault.
type VaultConfig struct {
	// MasterKeyEnv names the environment variable holding the master key
	// material (base64 or raw bytes, at least 16 bytes after decoding).
	// Mutually exclusive with MasterKey.
	MasterKeyEnv string `yaml:"master_key_env" mapstructure:"master_key_env"`
	// MasterKey is the master key material supplied directly in config.
	// Intended for local/dev use only; prefer MasterKeyEnv in production.
	// Mutually exclusive with MasterKeyEnv.
	MasterKey string `yaml:"master_key" mapstructure:"master_key"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	// Enabled turns response caching on or off.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// DefaultTTL is how long a cached response is reused when the request
	// carries no explicit idempotency freshness hint (e.g. "5m").
	DefaultTTL string `yaml:"default_ttl" mapstructure:"default_ttl" validate:"omitempty"`
	// MaxEntries bounds the in-memory cache size.
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries" validate:"omitempty,min=1"`
}

// CircuitBreakerConfig configures the upstream dispatcher's per-provider
// circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that trip
	// the breaker open for a provider.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"omitempty,min=1"`
	// OpenDuration is how long the breaker stays open before allowing a
	// probe request through (e.g. "30s").
	OpenDuration string `yaml:"open_duration" mapstructure:"open_duration" validate:"omitempty"`
}

// ServerConfig configures the HTTP server.
// OSS version only supports HTTP (use a reverse proxy for TLS).
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8080", "0.0.0.0:8080").
	// Defaults to "127.0.0.1:8080" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
}

// AuthConfig configures file-based authentication.
// All identities and API keys are defined in the configuration file.
type AuthConfig struct {
	// Identities defines the known identities (users/services).
	// Optional: can be managed from the admin UI instead.
	Identities []IdentityConfig `yaml:"identities" mapstructure:"identities" validate:"omitempty,dive"`

	// APIKeys defines the API keys that map to identities.
	// Optional: can be managed from the admin UI instead.
	APIKeys []APIKeyConfig `yaml:"api_keys" mapstructure:"api_keys" validate:"omitempty,dive"`
}

// IdentityConfig defines a file-based identity.
type IdentityConfig struct {
	// ID is the unique identifier for this identity.
	ID string `yaml:"id" mapstructure:"id" validate:"required"`

	// Name is the human-readable name for this identity.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Roles are the roles assigned to this identity (used in policy evaluation).
	Roles []string `yaml:"roles" mapstructure:"roles" validate:"required,min=1"`
}

// APIKeyConfig defines an API key that authenticates as an identity.
type APIKeyConfig struct {
	// KeyHash is the SHA-256 hash of the API key, prefixed with "sha256:".
	// Generate with: echo -n "your-api-key" | sha256sum | cut -d' ' -f1
	// Then prefix with "sha256:" (e.g., "sha256:abc123...")
	KeyHash string `yaml:"key_hash" mapstructure:"key_hash" validate:"required,startswith=sha256:"`

	// IdentityID references the identity this key authenticates as.
	// Must match an ID in Auth.Identities.
	IdentityID string `yaml:"identity_id" mapstructure:"identity_id" validate:"required"`
}

// AuditConfig configures audit log output.
// OSS supports stdout or file output only (no PostgreSQL, SIEM).
type AuditConfig struct {
	// Output specifies where audit logs are written.
	// Valid values: "stdout" or "file:///absolute/path/to/audit.log"
	// Defaults to "stdout" if empty.
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// ChannelSize is the buffer size for the audit channel.
	// Larger values handle burst traffic better but use more memory.
	// Defaults to 1000 if not specified or 0.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records to batch before writing.
	// Larger batches are more efficient but increase latency.
	// Defaults to 100 if not specified or 0.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often to flush pending records (e.g., "1s", "500ms").
	// Shorter intervals reduce data loss risk but increase I/O.
	// Defaults to "1s" if not specified.
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty"`

	// SendTimeout is how long to block when channel is full (e.g., "100ms", "0").
	// "0" or empty = drop immediately (no blocking).
	// Non-zero = block up to this duration before dropping.
	// Defaults to "100ms" if not specified.
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty"`

	// WarningThreshold is the percentage (0-100) at which to log warnings.
	// When channel depth exceeds this percentage, a warning is logged (rate-limited).
	// Set to 0 to disable warnings. Defaults to 80 if not specified.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`

	// BufferSize is the number of recent audit records to keep in the in-memory ring buffer.
	// Used for the admin UI's recent audit display. Defaults to 1000 if not specified or 0.
	BufferSize int `yaml:"buffer_size" mapstructure:"buffer_size" validate:"omitempty,min=1"`
}

// RateLimitConfig configures rate limiting.
type RateLimitConfig struct {
	// Enabled turns rate limiting on or off.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// IPRate is the maximum requests per minute per IP address.
	// Defaults to 100 if rate limiting is enabled.
	IPRate int `yaml:"ip_rate" mapstructure:"ip_rate" validate:"omitempty,min=1"`

	// UserRate is the maximum requests per minute per authenticated user.
	// Defaults to 1000 if rate limiting is enabled.
	UserRate int `yaml:"user_rate" mapstructure:"user_rate" validate:"omitempty,min=1"`

	// CleanupInterval is how often to clean up expired rate limit entries (e.g., "5m").
	// Only applies when rate limiting is enabled.
	// Defaults to "5m" if not specified.
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval" validate:"omitempty"`

	// MaxTTL is the maximum age of a rate limit entry before removal (e.g., "1h").
	// Only applies when rate limiting is enabled.
	// Defaults to "1h" if not specified.
	MaxTTL string `yaml:"max_ttl" mapstructure:"max_ttl" validate:"omitempty"`
}

// PolicyConfig defines a named set of access control rules.
type PolicyConfig struct {
	// Name is the unique identifier for this policy.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Rules are the access control rules in this policy.
	// Rules are evaluated in order; first match wins.
	Rules []RuleConfig `yaml:"rules" mapstructure:"rules" validate:"required,min=1,dive"`
}

// RuleConfig defines a single access control rule.
type RuleConfig struct {
	// Name is a human-readable identifier for this rule.
	Name string `yaml:"name" mapstructure:"name" validate:"required"`

	// Condition is a CEL expression that determines if this rule matches.
	// Available variables depend on request context (request.model, user.roles, etc).
	Condition string `yaml:"condition" mapstructure:"condition" validate:"required"`

	// Action is what to do when the condition matches: "allow", "deny", or
	// "approval_required".
	Action string `yaml:"action" mapstructure:"action" validate:"required,oneof=allow deny approval_required"`
}

// AuditFileConfig configures the file-based audit persistence.
type AuditFileConfig struct {
	// Dir is the directory where audit files are stored.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// RetentionDays is the number of days to keep audit files.
	// Defaults to 7.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days"`
	// MaxFileSizeMB is the maximum size per audit file in megabytes before rotation.
	// Defaults to 100.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb"`
	// CacheSize is the number of recent audit records to keep in memory.
	// Defaults to 1000.
	CacheSize int `yaml:"cache_size" mapstructure:"cache_size"`
}

// SetDevDefaults applies permissive defaults for development mode.
// This allows running ailink with minimal config.
// These defaults are applied BEFORE validation so required fields are satisfied.
func (c *OSSConfig) SetDevDefaults() {
	if !c.DevMode {
		return
	}

	// Provide a default dev identity if none configured
	if len(c.Auth.Identities) == 0 {
		c.Auth.Identities = []IdentityConfig{
			{
				ID:    "dev-user",
				Name:  "Development User",
				Roles: []string{"admin"},
			},
		}
	}

	// Provide a default dev API key if none configured
	// SHA256 of "dev-api-key"
	if len(c.Auth.APIKeys) == 0 {
		c.Auth.APIKeys = []APIKeyConfig{
			{
				KeyHash:    "sha256:6e1e4e1b8f8b36d08901cdb51b97841dfe20f5efd2fd2fd00768971408c46274",
				IdentityID: "dev-user",
			},
		}
	}

	// Provide a default catch-all allow policy if none configured
	if len(c.Policies) == 0 {
		c.Policies = []PolicyConfig{
			{
				Name: "dev-allow-all",
				Rules: []RuleConfig{
					{
						Name:      "allow-all",
						Condition: "true",
						Action:    "allow",
					},
				},
			},
		}
	}

	// Default audit to stdout if not configured
	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}

	// Dev runs commonly have no external secret manager available; fall
	// back to a fixed local key so the vault still functions.
	if c.Vault.MasterKeyEnv == "" && c.Vault.MasterKey == "" {
		c.Vault.MasterKey = "dev-only-insecure-master-key-material"
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *OSSConfig) SetDefaults() {
	// Server defaults — bind to localhost only for security.
	// Users who need network access must explicitly set http_addr: ":8080" or "0.0.0.0:8080".
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}

	// Audit defaults
	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1000
	}

	// Approval broker defaults
	if c.Approval.Timeout == "" {
		c.Approval.Timeout = "5m"
	}
	if c.Approval.Fallback == "" {
		c.Approval.Fallback = "deny"
	}
	if c.Approval.ReconcileInterval == "" {
		c.Approval.ReconcileInterval = "1m"
	}

	// Response cache defaults — enabled by default.
	if !viper.IsSet("cache.enabled") {
		c.Cache.Enabled = true
	}
	if c.Cache.DefaultTTL == "" {
		c.Cache.DefaultTTL = "5m"
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = 10000
	}

	// Circuit breaker defaults
	if c.CircuitBreaker.FailureThreshold == 0 {
		c.CircuitBreaker.FailureThreshold = 5
	}
	if c.CircuitBreaker.OpenDuration == "" {
		c.CircuitBreaker.OpenDuration = "30s"
	}

	// Rate limit defaults — enabled by default for security.
	// Only apply the default when the user hasn't explicitly set it in YAML/env.
	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.IPRate == 0 {
		c.RateLimit.IPRate = 100
	}
	if c.RateLimit.UserRate == 0 {
		c.RateLimit.UserRate = 1000
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}
	if c.RateLimit.MaxTTL == "" {
		c.RateLimit.MaxTTL = "1h"
	}
}
