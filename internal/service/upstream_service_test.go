package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ailink-gateway/ailink/internal/adapter/outbound/memory"
	"github.com/ailink-gateway/ailink/internal/adapter/outbound/state"
	"github.com/ailink-gateway/ailink/internal/domain/upstream"
)

// testUpstreamEnv sets up a fresh UpstreamService with in-memory stores and
// a temporary state file for each test.
func testUpstreamEnv(t *testing.T) (*UpstreamService, string) {
	t.Helper()
	tmpDir := t.TempDir()
	statePath := filepath.Join(tmpDir, "state.json")

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	stateStore := state.NewFileStateStore(statePath, logger)
	providerStore := memory.NewProviderStore()
	routeStore := memory.NewRouteStore()

	defaultState := stateStore.DefaultState()
	if err := stateStore.Save(defaultState); err != nil {
		t.Fatalf("save default state: %v", err)
	}

	svc := NewUpstreamService(providerStore, routeStore, stateStore, logger)
	return svc, statePath
}

func validOpenAIProvider() *upstream.ProviderConfig {
	return &upstream.ProviderConfig{
		Name:    "primary-openai",
		Kind:    "openai",
		Enabled: true,
		Models:  []string{"gpt-4o", "gpt-4o-mini"},
	}
}

func validAnthropicProvider() *upstream.ProviderConfig {
	return &upstream.ProviderConfig{
		Name:    "primary-anthropic",
		Kind:    "anthropic",
		Enabled: true,
		Models:  []string{"claude-sonnet-4-5"},
	}
}

// --- AddProvider Tests ---

func TestUpstreamService_AddProvider_Valid(t *testing.T) {
	svc, statePath := testUpstreamEnv(t)
	ctx := context.Background()
	p := validOpenAIProvider()

	result, err := svc.AddProvider(ctx, p)
	if err != nil {
		t.Fatalf("AddProvider() unexpected error: %v", err)
	}
	if result.ID == "" {
		t.Error("AddProvider() did not generate an ID")
	}
	if result.CreatedAt.IsZero() || result.UpdatedAt.IsZero() {
		t.Error("AddProvider() did not set timestamps")
	}
	if result.Name != "primary-openai" {
		t.Errorf("AddProvider() Name = %q, want %q", result.Name, "primary-openai")
	}

	got, err := svc.GetProvider(ctx, result.ID)
	if err != nil {
		t.Fatalf("GetProvider() after Add: %v", err)
	}
	if got.Kind != "openai" {
		t.Errorf("GetProvider() Kind = %q, want %q", got.Kind, "openai")
	}

	stateStore := state.NewFileStateStore(statePath, slog.Default())
	appState, err := stateStore.Load()
	if err != nil {
		t.Fatalf("Load state: %v", err)
	}
	if len(appState.Providers) != 1 {
		t.Fatalf("Persisted providers count = %d, want 1", len(appState.Providers))
	}
	if appState.Providers[0].Name != "primary-openai" {
		t.Errorf("Persisted provider name = %q, want %q", appState.Providers[0].Name, "primary-openai")
	}
}

func TestUpstreamService_AddProvider_DuplicateName(t *testing.T) {
	svc, _ := testUpstreamEnv(t)
	ctx := context.Background()

	p1 := validOpenAIProvider()
	if _, err := svc.AddProvider(ctx, p1); err != nil {
		t.Fatalf("AddProvider() p1: %v", err)
	}

	p2 := validOpenAIProvider() // same name
	p2.Kind = "anthropic"
	_, err := svc.AddProvider(ctx, p2)
	if err == nil {
		t.Fatal("AddProvider() duplicate name should return error")
	}
}

func TestUpstreamService_AddProvider_InvalidKind(t *testing.T) {
	svc, _ := testUpstreamEnv(t)
	ctx := context.Background()

	p := &upstream.ProviderConfig{Name: "bad-kind", Kind: "mistral", Models: []string{"m"}}
	_, err := svc.AddProvider(ctx, p)
	if err == nil {
		t.Fatal("AddProvider() invalid kind should return validation error")
	}
}

func TestUpstreamService_AddProvider_NoModels(t *testing.T) {
	svc, _ := testUpstreamEnv(t)
	ctx := context.Background()

	p := &upstream.ProviderConfig{Name: "no-models", Kind: "openai"}
	_, err := svc.AddProvider(ctx, p)
	if err == nil {
		t.Fatal("AddProvider() with no models should return validation error")
	}
}

func TestUpstreamService_AddProvider_EmptyName(t *testing.T) {
	svc, _ := testUpstreamEnv(t)
	ctx := context.Background()

	p := validOpenAIProvider()
	p.Name = ""
	_, err := svc.AddProvider(ctx, p)
	if err == nil {
		t.Fatal("AddProvider() empty name should return validation error")
	}
}

func TestUpstreamService_AddProvider_NameWithSpecialChars(t *testing.T) {
	svc, _ := testUpstreamEnv(t)
	ctx := context.Background()

	p := validOpenAIProvider()
	p.Name = "test<script>alert(1)</script>"
	_, err := svc.AddProvider(ctx, p)
	if err == nil {
		t.Fatal("AddProvider() name with special chars should return validation error")
	}
}

// --- ListProviders / GetProvider Tests ---

func TestUpstreamService_ListProviders_Empty(t *testing.T) {
	svc, _ := testUpstreamEnv(t)
	ctx := context.Background()

	list, err := svc.ListProviders(ctx)
	if err != nil {
		t.Fatalf("ListProviders() unexpected error: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("ListProviders() count = %d, want 0", len(list))
	}
}

func TestUpstreamService_ListProviders_Multiple(t *testing.T) {
	svc, _ := testUpstreamEnv(t)
	ctx := context.Background()

	if _, err := svc.AddProvider(ctx, validOpenAIProvider()); err != nil {
		t.Fatalf("AddProvider() p1: %v", err)
	}
	if _, err := svc.AddProvider(ctx, validAnthropicProvider()); err != nil {
		t.Fatalf("AddProvider() p2: %v", err)
	}

	list, err := svc.ListProviders(ctx)
	if err != nil {
		t.Fatalf("ListProviders() unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("ListProviders() count = %d, want 2", len(list))
	}
}

func TestUpstreamService_GetProvider_NotFound(t *testing.T) {
	svc, _ := testUpstreamEnv(t)
	ctx := context.Background()

	_, err := svc.GetProvider(ctx, "nonexistent-id")
	if err != upstream.ErrProviderNotFound {
		t.Errorf("GetProvider() error = %v, want %v", err, upstream.ErrProviderNotFound)
	}
}

// --- UpdateProvider Tests ---

func TestUpstreamService_UpdateProvider_Name(t *testing.T) {
	svc, statePath := testUpstreamEnv(t)
	ctx := context.Background()

	created, err := svc.AddProvider(ctx, validOpenAIProvider())
	if err != nil {
		t.Fatalf("AddProvider(): %v", err)
	}

	update := &upstream.ProviderConfig{Name: "renamed-openai", Kind: "openai", Enabled: true, Models: []string{"gpt-4o"}}
	result, err := svc.UpdateProvider(ctx, created.ID, update)
	if err != nil {
		t.Fatalf("UpdateProvider() unexpected error: %v", err)
	}
	if result.Name != "renamed-openai" {
		t.Errorf("UpdateProvider() Name = %q, want %q", result.Name, "renamed-openai")
	}

	stateStore := state.NewFileStateStore(statePath, slog.Default())
	appState, err := stateStore.Load()
	if err != nil {
		t.Fatalf("Load state: %v", err)
	}
	if len(appState.Providers) != 1 || appState.Providers[0].Name != "renamed-openai" {
		t.Errorf("persisted provider not updated: %+v", appState.Providers)
	}
}

func TestUpstreamService_UpdateProvider_NotFound(t *testing.T) {
	svc, _ := testUpstreamEnv(t)
	ctx := context.Background()

	update := &upstream.ProviderConfig{Name: "ghost", Kind: "openai", Models: []string{"gpt-4o"}}
	_, err := svc.UpdateProvider(ctx, "nonexistent-id", update)
	if err != upstream.ErrProviderNotFound {
		t.Errorf("UpdateProvider() error = %v, want %v", err, upstream.ErrProviderNotFound)
	}
}

// --- DeleteProvider Tests ---

func TestUpstreamService_DeleteProvider_Existing(t *testing.T) {
	svc, statePath := testUpstreamEnv(t)
	ctx := context.Background()

	created, err := svc.AddProvider(ctx, validOpenAIProvider())
	if err != nil {
		t.Fatalf("AddProvider(): %v", err)
	}

	if err := svc.DeleteProvider(ctx, created.ID); err != nil {
		t.Fatalf("DeleteProvider() unexpected error: %v", err)
	}

	if _, err := svc.GetProvider(ctx, created.ID); err != upstream.ErrProviderNotFound {
		t.Errorf("GetProvider() after Delete() error = %v, want %v", err, upstream.ErrProviderNotFound)
	}

	stateStore := state.NewFileStateStore(statePath, slog.Default())
	appState, err := stateStore.Load()
	if err != nil {
		t.Fatalf("Load state: %v", err)
	}
	if len(appState.Providers) != 0 {
		t.Errorf("Persisted providers count = %d, want 0", len(appState.Providers))
	}
}

func TestUpstreamService_DeleteProvider_NotFound(t *testing.T) {
	svc, _ := testUpstreamEnv(t)
	ctx := context.Background()

	err := svc.DeleteProvider(ctx, "nonexistent-id")
	if err != upstream.ErrProviderNotFound {
		t.Errorf("DeleteProvider() error = %v, want %v", err, upstream.ErrProviderNotFound)
	}
}

// --- SetProviderEnabled Tests ---

func TestUpstreamService_SetProviderEnabled_Disable(t *testing.T) {
	svc, statePath := testUpstreamEnv(t)
	ctx := context.Background()

	created, err := svc.AddProvider(ctx, validOpenAIProvider())
	if err != nil {
		t.Fatalf("AddProvider(): %v", err)
	}

	result, err := svc.SetProviderEnabled(ctx, created.ID, false)
	if err != nil {
		t.Fatalf("SetProviderEnabled() unexpected error: %v", err)
	}
	if result.Enabled {
		t.Error("SetProviderEnabled(false) Enabled = true, want false")
	}

	stateStore := state.NewFileStateStore(statePath, slog.Default())
	appState, err := stateStore.Load()
	if err != nil {
		t.Fatalf("Load state: %v", err)
	}
	if len(appState.Providers) != 1 || appState.Providers[0].Enabled {
		t.Error("persisted Enabled should be false")
	}
}

// --- Route Tests ---

func validRoute(providerID string) *upstream.Route {
	targets, _ := json.Marshal([]upstream.RouteTarget{{ProviderID: providerID, Model: "gpt-4o", Priority: 1}})
	return &upstream.Route{ModelAlias: "fast-model", Targets: targets, CacheTTLs: 30}
}

func TestUpstreamService_AddRoute_Valid(t *testing.T) {
	svc, statePath := testUpstreamEnv(t)
	ctx := context.Background()

	provider, err := svc.AddProvider(ctx, validOpenAIProvider())
	if err != nil {
		t.Fatalf("AddProvider(): %v", err)
	}

	r, err := svc.AddRoute(ctx, validRoute(provider.ID))
	if err != nil {
		t.Fatalf("AddRoute() unexpected error: %v", err)
	}
	if r.ID == "" {
		t.Error("AddRoute() did not generate an ID")
	}

	stateStore := state.NewFileStateStore(statePath, slog.Default())
	appState, err := stateStore.Load()
	if err != nil {
		t.Fatalf("Load state: %v", err)
	}
	if len(appState.Routes) != 1 || appState.Routes[0].ModelAlias != "fast-model" {
		t.Errorf("persisted routes mismatch: %+v", appState.Routes)
	}
}

func TestUpstreamService_AddRoute_NoTargets(t *testing.T) {
	svc, _ := testUpstreamEnv(t)
	ctx := context.Background()

	r := &upstream.Route{ModelAlias: "empty-route", Targets: json.RawMessage(`[]`)}
	_, err := svc.AddRoute(ctx, r)
	if err != upstream.ErrRouteNoTargets {
		t.Errorf("AddRoute() error = %v, want %v", err, upstream.ErrRouteNoTargets)
	}
}

func TestUpstreamService_DeleteRoute_Existing(t *testing.T) {
	svc, _ := testUpstreamEnv(t)
	ctx := context.Background()

	provider, err := svc.AddProvider(ctx, validOpenAIProvider())
	if err != nil {
		t.Fatalf("AddProvider(): %v", err)
	}
	r, err := svc.AddRoute(ctx, validRoute(provider.ID))
	if err != nil {
		t.Fatalf("AddRoute(): %v", err)
	}

	if err := svc.DeleteRoute(ctx, r.ID); err != nil {
		t.Fatalf("DeleteRoute() unexpected error: %v", err)
	}

	list, err := svc.ListRoutes(ctx)
	if err != nil {
		t.Fatalf("ListRoutes(): %v", err)
	}
	if len(list) != 0 {
		t.Errorf("ListRoutes() count = %d, want 0 after delete", len(list))
	}
}

// --- LoadFromState Tests ---

func TestUpstreamService_LoadFromState(t *testing.T) {
	svc, _ := testUpstreamEnv(t)
	ctx := context.Background()

	targets, _ := json.Marshal([]upstream.RouteTarget{{ProviderID: "provider-1", Model: "gpt-4o", Priority: 1}})
	appState := &state.AppState{
		Version:       "1",
		DefaultPolicy: "deny",
		Providers: []state.ProviderEntry{
			{ID: "provider-1", Name: "OpenAI Primary", Kind: "openai", Enabled: true, Models: []string{"gpt-4o"}},
			{ID: "provider-2", Name: "Anthropic Primary", Kind: "anthropic", Enabled: false, Models: []string{"claude-sonnet-4-5"}},
		},
		Routes: []state.RouteEntry{
			{ID: "route-1", ModelAlias: "gpt-4o", Targets: targets},
		},
	}

	if err := svc.LoadFromState(context.Background(), appState); err != nil {
		t.Fatalf("LoadFromState() unexpected error: %v", err)
	}

	list, err := svc.ListProviders(ctx)
	if err != nil {
		t.Fatalf("ListProviders() after LoadFromState: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListProviders() count = %d, want 2", len(list))
	}

	p1, err := svc.GetProvider(ctx, "provider-1")
	if err != nil {
		t.Fatalf("GetProvider() provider-1: %v", err)
	}
	if p1.Name != "OpenAI Primary" || p1.Kind != "openai" {
		t.Errorf("provider-1 mismatch: %+v", p1)
	}

	routes, err := svc.ListRoutes(ctx)
	if err != nil {
		t.Fatalf("ListRoutes() after LoadFromState: %v", err)
	}
	if len(routes) != 1 || routes[0].ModelAlias != "gpt-4o" {
		t.Errorf("routes mismatch: %+v", routes)
	}
}

func TestUpstreamService_LoadFromState_Empty(t *testing.T) {
	svc, _ := testUpstreamEnv(t)
	ctx := context.Background()

	appState := &state.AppState{Version: "1", DefaultPolicy: "deny"}
	if err := svc.LoadFromState(context.Background(), appState); err != nil {
		t.Fatalf("LoadFromState() unexpected error: %v", err)
	}

	list, err := svc.ListProviders(ctx)
	if err != nil {
		t.Fatalf("ListProviders(): %v", err)
	}
	if len(list) != 0 {
		t.Errorf("ListProviders() count = %d, want 0", len(list))
	}
}

// --- Validation Edge Cases ---

func TestProviderConfig_Validate_Valid(t *testing.T) {
	p := validOpenAIProvider()
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() valid provider: %v", err)
	}
}

func TestProviderConfig_Validate_EmptyName(t *testing.T) {
	p := validOpenAIProvider()
	p.Name = ""
	if err := p.Validate(); err == nil {
		t.Error("Validate() empty name should fail")
	}
}

func TestProviderConfig_Validate_InvalidKind(t *testing.T) {
	p := &upstream.ProviderConfig{Name: "test", Kind: "mistral", Models: []string{"m"}}
	if err := p.Validate(); err == nil {
		t.Error("Validate() invalid kind should fail")
	}
}

func TestProviderConfig_Validate_NoModels(t *testing.T) {
	p := &upstream.ProviderConfig{Name: "test", Kind: "openai"}
	if err := p.Validate(); err == nil {
		t.Error("Validate() no models should fail")
	}
}

func TestProviderConfig_Validate_NameSpecialChars(t *testing.T) {
	p := validOpenAIProvider()
	p.Name = "test@server!#$"
	if err := p.Validate(); err == nil {
		t.Error("Validate() name with special chars should fail")
	}
}

func TestProviderConfig_Validate_NameMaxLength(t *testing.T) {
	p := validOpenAIProvider()
	p.Name = "aaaaaaaaaabbbbbbbbbbccccccccccddddddddddeeeeeeeeeefffffffff" +
		"fgggggggggghhhhhhhhhhiiiiiiiiiijjjjjjjjjjk" // 101 chars
	if err := p.Validate(); err == nil {
		t.Error("Validate() name >100 chars should fail")
	}
}
