package config

import (
	"strings"
	"testing"
)

// minimalValidConfig returns a minimal valid OSSConfig for testing.
func minimalValidConfig() *OSSConfig {
	return &OSSConfig{
		Auth: AuthConfig{
			Identities: []IdentityConfig{{ID: "user-1", Name: "Test", Roles: []string{"user"}}},
			APIKeys:    []APIKeyConfig{{KeyHash: "sha256:abc123", IdentityID: "user-1"}},
		},
		Audit:    AuditConfig{Output: "stdout"},
		Policies: []PolicyConfig{{Name: "default", Rules: []RuleConfig{{Name: "allow-all", Condition: "true", Action: "allow"}}}},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_InvalidAuditOutput(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "invalid"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	// Error message contains "Audit.Output" and mentions valid formats
	errStr := err.Error()
	if !strings.Contains(errStr, "Audit.Output") {
		t.Errorf("error = %q, want to contain 'Audit.Output'", errStr)
	}
}

func TestValidate_ValidAuditOutputStdout(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "stdout"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with stdout unexpected error: %v", err)
	}
}

func TestValidate_ValidAuditOutputFile(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "file:///var/log/audit.log"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with file:// unexpected error: %v", err)
	}
}

func TestValidate_InvalidAuditOutputRelativePath(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "file://relative/path"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for relative path, got nil")
	}
	// Error message contains "Audit.Output" and mentions valid formats
	errStr := err.Error()
	if !strings.Contains(errStr, "Audit.Output") {
		t.Errorf("error = %q, want to contain 'Audit.Output'", errStr)
	}
}

func TestValidate_UnknownIdentityReference(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Auth.APIKeys[0].IdentityID = "unknown-user"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for unknown identity, got nil")
	}
	if !strings.Contains(err.Error(), "unknown identity_id") {
		t.Errorf("error = %q, want to contain 'unknown identity_id'", err.Error())
	}
}

func TestValidate_MissingIdentities(t *testing.T) {
	t.Parallel()

	// Empty identities is now valid (zero-config mode, managed from admin UI).
	// But if API keys reference nonexistent identities, that should fail.
	cfg := minimalValidConfig()
	cfg.Auth.Identities = nil
	cfg.Auth.APIKeys = nil // Also clear API keys (no dangling refs)

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with empty auth unexpected error: %v", err)
	}
}

func TestValidate_MissingAPIKeys(t *testing.T) {
	t.Parallel()

	// Empty API keys is now valid (zero-config mode, managed from admin UI).
	cfg := minimalValidConfig()
	cfg.Auth.APIKeys = nil

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with empty API keys unexpected error: %v", err)
	}
}

func TestValidate_InvalidKeyHashPrefix(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Auth.APIKeys[0].KeyHash = "abc123" // Missing sha256: prefix

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for missing sha256: prefix, got nil")
	}
	if !strings.Contains(err.Error(), "sha256:") {
		t.Errorf("error = %q, want to contain 'sha256:'", err.Error())
	}
}

func TestValidate_EmptyPolicies(t *testing.T) {
	t.Parallel()

	// Empty policies is valid (default-deny mode).
	// SetDefaults() no longer injects policies -- users create them via admin UI.
	cfg := minimalValidConfig()
	cfg.Policies = nil
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with empty policies (after defaults) unexpected error: %v", err)
	}
}

func TestValidate_ZeroConfig(t *testing.T) {
	t.Parallel()

	// Simulate a user running "ailink start" with no config file at all.
	cfg := &OSSConfig{}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() zero-config unexpected error: %v", err)
	}

	// Verify defaults were applied -- no default policy (default-deny)
	if len(cfg.Policies) != 0 {
		t.Errorf("expected empty policies (default-deny), got %d policies", len(cfg.Policies))
	}
	if cfg.Audit.Output != "stdout" {
		t.Errorf("default audit output = %q, want 'stdout'", cfg.Audit.Output)
	}
}

func TestValidate_ApprovalRequiredAction(t *testing.T) {
	t.Parallel()

	// approval_required is a valid action (approval broker).
	cfg := minimalValidConfig()
	cfg.Policies[0].Rules[0].Action = "approval_required"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with approval_required action unexpected error: %v", err)
	}
}

func TestValidate_InvalidAction(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Policies[0].Rules[0].Action = "quarantine" // Not a recognized action

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid action, got nil")
	}
	// Error message mentions Action and valid options
	errStr := err.Error()
	if !strings.Contains(errStr, "Action") {
		t.Errorf("error = %q, want to contain 'Action'", errStr)
	}
}

func TestValidate_EmptyRoles(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Auth.Identities[0].Roles = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for empty roles, got nil")
	}
}

func TestValidate_EmptyRules(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Policies[0].Rules = nil

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for empty rules, got nil")
	}
}

func TestValidate_ValidProviderSeed(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Providers = []ProviderSeed{
		{Name: "openai-primary", Kind: "openai", Models: []string{"gpt-4o"}, Enabled: true},
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with valid provider seed unexpected error: %v", err)
	}
}

func TestValidate_InvalidProviderKind(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Providers = []ProviderSeed{
		{Name: "bad", Kind: "azure", Models: []string{"gpt-4o"}},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid provider kind, got nil")
	}
}

func TestValidate_ProviderMissingModels(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Providers = []ProviderSeed{
		{Name: "openai-primary", Kind: "openai"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for provider with no models, got nil")
	}
}

func TestValidate_ValidSpendCap(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.SpendCaps = []SpendCapConfig{{Period: "daily", LimitUSD: 100}}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with valid spend cap unexpected error: %v", err)
	}
}

func TestValidate_InvalidSpendCapPeriod(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.SpendCaps = []SpendCapConfig{{Period: "weekly", LimitUSD: 100}}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid spend cap period, got nil")
	}
}
