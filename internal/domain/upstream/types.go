// Package upstream is the upstream dispatcher: it resolves a requested
// model to one or more provider/model targets, dispatches the chat
// completion/embeddings call with priority failover, and trips a
// per-provider circuit breaker on repeated upstream failures. Grounded on
// eugener/gandalf's internal/app/{proxy,router}.go and
// internal/circuitbreaker, generalized from gandalf's single-tenant
// configuration to AILink's ProviderConfig/Route admin-managed model (the
// shape of which is grounded on gandalf's internal/gateway.go
// ProviderConfig/Route/RouteTarget types).
package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9 _-]+$`)

const nameMaxLength = 100

// ProviderConfig is an administrator-configured upstream LLM provider
// (OpenAI, Anthropic, Anthropic-on-Bedrock, or Gemini). The live
// router.Provider client built from this config plus its injected
// credential is held in the in-memory ProviderRegistry; only the
// configuration itself is persisted.
type ProviderConfig struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"` // "openai", "anthropic", "anthropic-bedrock", "gemini"
	BaseURL   string    `json:"base_url,omitempty"`
	Models    []string  `json:"models"`
	Priority  int       `json:"priority"`
	Enabled   bool      `json:"enabled"`
	TimeoutMs int       `json:"timeout_ms,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that a ProviderConfig is well-formed.
func (p *ProviderConfig) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(p.Name) > nameMaxLength {
		return fmt.Errorf("name must be %d characters or less", nameMaxLength)
	}
	if !namePattern.MatchString(p.Name) {
		return fmt.Errorf("name contains invalid characters (allowed: alphanumeric, spaces, hyphens, underscores)")
	}
	switch p.Kind {
	case "openai", "anthropic", "anthropic-bedrock", "gemini":
	default:
		return fmt.Errorf("kind must be one of openai, anthropic, anthropic-bedrock, gemini")
	}
	if len(p.Models) == 0 {
		return fmt.Errorf("at least one model must be listed")
	}
	return nil
}

// Route maps a caller-facing model alias (e.g. "gpt-4o", "fast-model") to an
// ordered list of provider/model targets. Targets is stored as raw JSON
// ([]RouteTarget) so the SQLite adapter can persist it as a single column,
// matching gandalf's storage.RouteStore shape.
type Route struct {
	ID         string          `json:"id"`
	ModelAlias string          `json:"model_alias"`
	Targets    json.RawMessage `json:"targets"`
	CacheTTLs  int             `json:"cache_ttl_s,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// RouteTarget is a single failover candidate within a Route.
type RouteTarget struct {
	ProviderID string `json:"provider_id"`
	Model      string `json:"model"`
	Priority   int    `json:"priority"`
}

// ResolvedTarget is the decoded, priority-sorted form of a Route's targets,
// as returned by RouterService.ResolveModel.
type ResolvedTarget struct {
	ProviderID string
	Model      string
	Priority   int
}

var (
	ErrProviderNotFound    = errors.New("upstream: provider not found")
	ErrDuplicateProviderID = errors.New("upstream: duplicate provider name")
	ErrRouteNotFound       = errors.New("upstream: route not found for model alias")
	ErrRouteNoTargets      = errors.New("upstream: route has no targets")
)
