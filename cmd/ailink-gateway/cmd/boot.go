package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/ailink-gateway/ailink/internal/adapter/outbound/memory"
	"github.com/ailink-gateway/ailink/internal/adapter/outbound/state"
	"github.com/ailink-gateway/ailink/internal/config"
	"github.com/ailink-gateway/ailink/internal/domain/auth"
	"github.com/ailink-gateway/ailink/internal/domain/credential"
	"github.com/ailink-gateway/ailink/internal/domain/policy"
	"github.com/ailink-gateway/ailink/internal/domain/router"
	"github.com/ailink-gateway/ailink/internal/domain/router/anthropic"
	"github.com/ailink-gateway/ailink/internal/domain/router/gemini"
	"github.com/ailink-gateway/ailink/internal/domain/router/openai"
	"github.com/ailink-gateway/ailink/internal/domain/upstream"
	"github.com/ailink-gateway/ailink/internal/service"
)

// seedIdentitiesFromConfig merges YAML-declared identities into state.json
// so the identity service -- the only port spend-cap resolution reads --
// can see them. Identities already present in state (created via the admin
// API, or from a previous run) are left untouched; config identities only
// fill in gaps and are marked ReadOnly since they're not admin-editable.
func seedIdentitiesFromConfig(cfg *config.OSSConfig, appState *state.AppState) {
	existing := make(map[string]bool, len(appState.Identities))
	for _, id := range appState.Identities {
		existing[id.ID] = true
	}

	caps := make([]state.SpendCapEntry, 0, len(cfg.SpendCaps))
	for _, c := range cfg.SpendCaps {
		caps = append(caps, state.SpendCapEntry{Period: c.Period, LimitUSD: c.LimitUSD})
	}

	now := time.Now().UTC()
	for _, identityCfg := range cfg.Auth.Identities {
		if existing[identityCfg.ID] {
			continue
		}
		appState.Identities = append(appState.Identities, state.IdentityEntry{
			ID:        identityCfg.ID,
			Name:      identityCfg.Name,
			Roles:     identityCfg.Roles,
			ReadOnly:  true,
			CreatedAt: now,
			SpendCaps: caps,
		})
	}
}

// seedAuthFromConfig loads identities and API keys declared in YAML config
// into the in-memory auth store used for request authentication.
func seedAuthFromConfig(cfg *config.OSSConfig, authStore *memory.AuthStore) error {
	for _, identityCfg := range cfg.Auth.Identities {
		roles := make([]auth.Role, len(identityCfg.Roles))
		for i, role := range identityCfg.Roles {
			roles[i] = auth.Role(role)
		}
		authStore.AddIdentity(&auth.Identity{ID: identityCfg.ID, Name: identityCfg.Name, Roles: roles})
	}
	for _, keyCfg := range cfg.Auth.APIKeys {
		hash := strings.TrimPrefix(keyCfg.KeyHash, "sha256:")
		authStore.AddKey(&auth.APIKey{Key: hash, IdentityID: keyCfg.IdentityID, CreatedAt: time.Now().UTC()})
	}
	return nil
}

// seedAuthFromState loads identities and API keys persisted in state.json
// (created via the admin API) into the in-memory auth store.
func seedAuthFromState(appState *state.AppState, authStore *memory.AuthStore, logger *slog.Logger) {
	for _, identity := range appState.Identities {
		roles := make([]auth.Role, len(identity.Roles))
		for i, role := range identity.Roles {
			roles[i] = auth.Role(role)
		}
		authStore.AddIdentity(&auth.Identity{ID: identity.ID, Name: identity.Name, Roles: roles})
	}
	for _, key := range appState.APIKeys {
		if key.Revoked {
			continue
		}
		authStore.AddKey(&auth.APIKey{
			Key:        key.KeyHash, // Argon2id hash, verified by iteration in Validate()
			IdentityID: key.IdentityID,
			Name:       key.Name,
			CreatedAt:  key.CreatedAt,
			Revoked:    key.Revoked,
		})
	}
	logger.Debug("seeded auth from state.json", "identities", len(appState.Identities), "api_keys", len(appState.APIKeys))
}

// seedPoliciesFromConfig translates YAML policy/rule declarations into the
// domain's tagged-union Rule/Action model and loads them into the policy
// store. Condition is set directly as a raw CEL expression on Rule.CEL,
// bypassing the structured When tree -- CEL takes precedence when both are
// set, so a hand-authored expression needs nothing else.
func seedPoliciesFromConfig(cfg *config.OSSConfig, policyStore *memory.MemoryPolicyStore) error {
	approvalTimeout, err := time.ParseDuration(cfg.Approval.Timeout)
	if err != nil {
		approvalTimeout = 5 * time.Minute
	}
	approvalFallback := policy.ActionKindDeny
	if cfg.Approval.Fallback == "allow" {
		approvalFallback = policy.ActionKindAllow
	}

	now := time.Now().UTC()
	for i, polCfg := range cfg.Policies {
		rules := make([]policy.Rule, 0, len(polCfg.Rules))
		for j, ruleCfg := range polCfg.Rules {
			action, err := mapConfigAction(ruleCfg.Action, approvalTimeout, approvalFallback)
			if err != nil {
				return fmt.Errorf("policy %q rule %q: %w", polCfg.Name, ruleCfg.Name, err)
			}
			rules = append(rules, policy.Rule{
				ID:        fmt.Sprintf("%s-rule-%d", polCfg.Name, j),
				Name:      ruleCfg.Name,
				Priority:  len(polCfg.Rules) - j,
				Match:     "*",
				CEL:       ruleCfg.Condition,
				Then:      action,
				CreatedAt: now,
			})
		}
		policyStore.AddPolicy(&policy.Policy{
			ID:        fmt.Sprintf("config-policy-%d", i),
			Name:      polCfg.Name,
			Priority:  len(cfg.Policies) - i,
			Phase:     policy.PhaseBoth,
			Mode:      policy.ModeEnforce,
			Rules:     rules,
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return nil
}

// mapConfigAction maps a config.RuleConfig.Action string ("allow", "deny",
// "approval_required") onto the domain's Action tagged union.
func mapConfigAction(action string, approvalTimeout time.Duration, fallback policy.ActionKind) (policy.Action, error) {
	switch action {
	case "allow":
		return policy.Action{Kind: policy.ActionKindAllow}, nil
	case "deny":
		return policy.Action{Kind: policy.ActionKindDeny, Deny: &policy.DenyConfig{
			Status:  403,
			Message: "policy denied",
			Code:    "policy_denied",
		}}, nil
	case "approval_required":
		return policy.Action{Kind: policy.ActionKindRequireApproval, RequireApproval: &policy.RequireApprovalConfig{
			Timeout:  approvalTimeout,
			Fallback: fallback,
		}}, nil
	default:
		return policy.Action{}, fmt.Errorf("unknown action %q", action)
	}
}

// createAuditStore creates an audit store based on the configured output
// target: "stdout" for an in-memory ring buffer that also logs to stdout,
// or "file:///path" to additionally append NDJSON records to a file.
func createAuditStore(cfg *config.OSSConfig, logger *slog.Logger) (*memory.MemoryAuditStore, error) {
	switch {
	case cfg.Audit.Output == "stdout":
		return memory.NewAuditStore(cfg.Audit.BufferSize), nil
	case strings.HasPrefix(cfg.Audit.Output, "file://"):
		path := parseFileURI(cfg.Audit.Output)
		if path == "" {
			return nil, fmt.Errorf("invalid audit file URI: %s", cfg.Audit.Output)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit file %s: %w", path, err)
		}
		return memory.NewAuditStoreWithWriter(f, cfg.Audit.BufferSize), nil
	default:
		return nil, fmt.Errorf("invalid audit output: %s (must be 'stdout' or 'file://path')", cfg.Audit.Output)
	}
}

// resolveMasterKey resolves the vault master key material from either the
// named environment variable or the literal config value, falling back to
// the dev-mode default SetDevDefaults already applied when neither is set.
func resolveMasterKey(cfg *config.OSSConfig) ([]byte, error) {
	if cfg.Vault.MasterKeyEnv != "" {
		v := os.Getenv(cfg.Vault.MasterKeyEnv)
		if v == "" {
			return nil, fmt.Errorf("environment variable %s is not set", cfg.Vault.MasterKeyEnv)
		}
		return []byte(v), nil
	}
	if cfg.Vault.MasterKey != "" {
		return []byte(cfg.Vault.MasterKey), nil
	}
	return nil, fmt.Errorf("vault master key not configured (set vault.master_key_env or vault.master_key)")
}

// credentialHeaderFor returns the header style, header name, and value
// prefix a provider Kind uses to authenticate, per each upstream's API
// convention.
func credentialHeaderFor(kind string) (credential.HeaderStyle, string, string) {
	switch kind {
	case "anthropic", "anthropic-bedrock":
		return credential.HeaderStyleAPIKeyHeader, "x-api-key", ""
	case "gemini":
		return credential.HeaderStyleQueryParam, "key", ""
	default: // "openai" and any OpenAI-compatible provider
		return credential.HeaderStyleBearer, "Authorization", "Bearer "
	}
}

// seedProvidersFromConfig creates a upstream.ProviderConfig (and seals its
// credential) for every YAML-declared provider not already present in
// state, then registers a Route with a single target so each provider's
// models are immediately reachable.
func seedProvidersFromConfig(
	ctx context.Context,
	cfg *config.OSSConfig,
	upstreamSvc *service.UpstreamService,
	credVault *credential.Vault,
	credentialStore *memory.CredentialStore,
	logger *slog.Logger,
) error {
	existing, err := upstreamSvc.ListProviders(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]bool, len(existing))
	for _, p := range existing {
		byName[p.Name] = true
	}

	now := time.Now().UTC()
	for _, seed := range cfg.Providers {
		if byName[seed.Name] {
			continue
		}
		providerCfg := &upstream.ProviderConfig{
			Name:      seed.Name,
			Kind:      seed.Kind,
			BaseURL:   seed.BaseURL,
			Models:    seed.Models,
			Priority:  seed.Priority,
			Enabled:   seed.Enabled,
			TimeoutMs: seed.TimeoutMs,
			CreatedAt: now,
			UpdatedAt: now,
		}
		created, err := upstreamSvc.AddProvider(ctx, providerCfg)
		if err != nil {
			return fmt.Errorf("provider %q: %w", seed.Name, err)
		}

		if err := sealProviderCredential(ctx, created, seed.CredentialEnv, credVault, credentialStore); err != nil {
			return fmt.Errorf("provider %q: seal credential: %w", seed.Name, err)
		}

		if err := addDefaultRoutes(ctx, upstreamSvc, created); err != nil {
			return fmt.Errorf("provider %q: default routes: %w", seed.Name, err)
		}

		logger.Info("provider seeded", "name", seed.Name, "kind", seed.Kind, "models", seed.Models)
	}
	return nil
}

// sealProviderCredential reads the provider's raw API key from its
// configured environment variable and seals it into the credential store,
// keyed by provider ID.
func sealProviderCredential(
	ctx context.Context,
	p *upstream.ProviderConfig,
	credentialEnv string,
	credVault *credential.Vault,
	credentialStore *memory.CredentialStore,
) error {
	if credentialEnv == "" {
		return nil
	}
	rawKey := os.Getenv(credentialEnv)
	if rawKey == "" {
		return fmt.Errorf("environment variable %s is not set", credentialEnv)
	}

	style, headerName, prefix := credentialHeaderFor(p.Kind)
	ciphertext, nonce, err := credVault.Seal(ctx, p.ID, rawKey)
	if err != nil {
		return err
	}

	return credentialStore.Put(ctx, &credential.Credential{
		ID:         p.ID,
		ProviderID: p.ID,
		HeaderName: headerName,
		Style:      style,
		Prefix:     prefix,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		CreatedAt:  time.Now().UTC(),
	})
}

// addDefaultRoutes registers one route per model the provider lists,
// aliased to the bare model name with the provider as its sole target, so
// every configured model is immediately addressable without a separate
// admin API call.
func addDefaultRoutes(ctx context.Context, upstreamSvc *service.UpstreamService, p *upstream.ProviderConfig) error {
	for _, model := range p.Models {
		targets, err := json.Marshal([]upstream.RouteTarget{{ProviderID: p.ID, Model: model, Priority: 0}})
		if err != nil {
			return err
		}
		_, err = upstreamSvc.AddRoute(ctx, &upstream.Route{
			ModelAlias: model,
			Targets:    targets,
		})
		if err != nil && !isDuplicateRouteErr(err) {
			return err
		}
	}
	return nil
}

// isDuplicateRouteErr reports whether err indicates a route alias that was
// already registered by an earlier provider (harmless, first writer wins).
func isDuplicateRouteErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already")
}

// buildProviderRegistry constructs a router.Provider client for every
// provider known to the store, wrapping each client's transport in a
// credential.Injector so plaintext API keys never leave the vault.
func buildProviderRegistry(
	ctx context.Context,
	providerStore *memory.MemoryProviderStore,
	credentialStore *memory.CredentialStore,
	credVault *credential.Vault,
	logger *slog.Logger,
) (*upstream.ProviderRegistry, error) {
	registry := upstream.NewProviderRegistry()

	providers, err := providerStore.List(ctx)
	if err != nil {
		return nil, err
	}

	for i := range providers {
		p := providers[i]
		if !p.Enabled {
			logger.Debug("skipping disabled provider", "name", p.Name, "id", p.ID)
			continue
		}

		transport := &credential.Injector{
			ProviderID: p.ID,
			Store:      credentialStore,
			Vault:      credVault,
			Base:       http.DefaultTransport,
			Logger:     logger,
		}
		httpClient := &http.Client{Transport: transport}
		if p.TimeoutMs > 0 {
			httpClient.Timeout = time.Duration(p.TimeoutMs) * time.Millisecond
		}

		var client router.Provider
		switch p.Kind {
		case "openai":
			client = openai.New(p.BaseURL, httpClient)
		case "anthropic":
			client = anthropic.New(p.BaseURL, httpClient)
		case "anthropic-bedrock":
			client = anthropic.NewBedrock(p.BaseURL, httpClient)
		case "gemini":
			client = gemini.New(p.BaseURL, httpClient)
		default:
			logger.Warn("unknown provider kind, skipping", "name", p.Name, "kind", p.Kind)
			continue
		}

		registry.Register(p.ID, client)
	}

	return registry, nil
}

var regexpCompile = regexp.Compile
