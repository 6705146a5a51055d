package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ailink-gateway/ailink/internal/adapter/outbound/state"
	"github.com/ailink-gateway/ailink/internal/domain/upstream"
)

// UpstreamService provides CRUD operations on provider configurations and
// model routes, with validation and persistence to state.json. It is the
// administrative counterpart to upstream.ProviderRegistry/RouterService:
// this service manages the durable configuration, those hold the live
// clients and caches the upstream dispatcher reads on every request.
type UpstreamService struct {
	providers  upstream.ProviderStore
	routes     upstream.RouteStore
	stateStore *state.FileStateStore
	logger     *slog.Logger
	mu         sync.Mutex // serializes state writes
}

// NewUpstreamService creates a new UpstreamService.
func NewUpstreamService(providers upstream.ProviderStore, routes upstream.RouteStore, stateStore *state.FileStateStore, logger *slog.Logger) *UpstreamService {
	return &UpstreamService{
		providers:  providers,
		routes:     routes,
		stateStore: stateStore,
		logger:     logger,
	}
}

// ListProviders returns all configured providers.
func (s *UpstreamService) ListProviders(ctx context.Context) ([]upstream.ProviderConfig, error) {
	return s.providers.List(ctx)
}

// GetProvider returns a single provider by ID.
func (s *UpstreamService) GetProvider(ctx context.Context, id string) (*upstream.ProviderConfig, error) {
	return s.providers.Get(ctx, id)
}

// AddProvider validates and creates a new provider, persisting the change.
func (s *UpstreamService) AddProvider(ctx context.Context, p *upstream.ProviderConfig) (*upstream.ProviderConfig, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if err := s.checkProviderNameUnique(ctx, p.Name, ""); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p.ID = uuid.New().String()
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := s.providers.Add(ctx, p); err != nil {
		return nil, fmt.Errorf("add provider to store: %w", err)
	}
	if err := s.persistState(ctx); err != nil {
		s.logger.Error("failed to persist state after provider add", "provider_id", p.ID, "error", err)
		return nil, fmt.Errorf("persist state: %w", err)
	}

	s.logger.Info("provider added", "id", p.ID, "name", p.Name, "kind", p.Kind)
	return s.providers.Get(ctx, p.ID)
}

// UpdateProvider validates and updates an existing provider, persisting the
// change. Checks name uniqueness excluding the provider being updated.
func (s *UpstreamService) UpdateProvider(ctx context.Context, id string, p *upstream.ProviderConfig) (*upstream.ProviderConfig, error) {
	existing, err := s.providers.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if err := s.checkProviderNameUnique(ctx, p.Name, id); err != nil {
		return nil, err
	}

	p.ID = id
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = time.Now().UTC()

	if err := s.providers.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update provider in store: %w", err)
	}
	if err := s.persistState(ctx); err != nil {
		s.logger.Error("failed to persist state after provider update", "provider_id", id, "error", err)
		return nil, fmt.Errorf("persist state: %w", err)
	}

	s.logger.Info("provider updated", "id", id, "name", p.Name)
	return s.providers.Get(ctx, id)
}

// DeleteProvider removes a provider by ID and persists the change.
func (s *UpstreamService) DeleteProvider(ctx context.Context, id string) error {
	if err := s.providers.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.persistState(ctx); err != nil {
		s.logger.Error("failed to persist state after provider delete", "provider_id", id, "error", err)
		return fmt.Errorf("persist state: %w", err)
	}
	s.logger.Info("provider deleted", "id", id)
	return nil
}

// SetProviderEnabled toggles the enabled flag on a provider and persists the
// change.
func (s *UpstreamService) SetProviderEnabled(ctx context.Context, id string, enabled bool) (*upstream.ProviderConfig, error) {
	p, err := s.providers.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Enabled = enabled
	p.UpdatedAt = time.Now().UTC()

	if err := s.providers.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("update provider in store: %w", err)
	}
	if err := s.persistState(ctx); err != nil {
		s.logger.Error("failed to persist state after provider set-enabled", "provider_id", id, "error", err)
		return nil, fmt.Errorf("persist state: %w", err)
	}
	s.logger.Info("provider enabled toggled", "id", id, "enabled", enabled)
	return s.providers.Get(ctx, id)
}

// ListRoutes returns all configured model routes.
func (s *UpstreamService) ListRoutes(ctx context.Context) ([]upstream.Route, error) {
	return s.routes.List(ctx)
}

// AddRoute validates and creates a new route, persisting the change.
func (s *UpstreamService) AddRoute(ctx context.Context, r *upstream.Route) (*upstream.Route, error) {
	var targets []upstream.RouteTarget
	if err := json.Unmarshal(r.Targets, &targets); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if len(targets) == 0 {
		return nil, upstream.ErrRouteNoTargets
	}

	now := time.Now().UTC()
	r.ID = uuid.New().String()
	r.CreatedAt = now
	r.UpdatedAt = now

	if err := s.routes.Add(ctx, r); err != nil {
		return nil, fmt.Errorf("add route to store: %w", err)
	}
	if err := s.persistState(ctx); err != nil {
		s.logger.Error("failed to persist state after route add", "route_id", r.ID, "error", err)
		return nil, fmt.Errorf("persist state: %w", err)
	}

	s.logger.Info("route added", "id", r.ID, "model_alias", r.ModelAlias)
	return r, nil
}

// UpdateRoute validates and updates an existing route, persisting the
// change.
func (s *UpstreamService) UpdateRoute(ctx context.Context, id string, r *upstream.Route) (*upstream.Route, error) {
	var targets []upstream.RouteTarget
	if err := json.Unmarshal(r.Targets, &targets); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if len(targets) == 0 {
		return nil, upstream.ErrRouteNoTargets
	}

	r.ID = id
	r.UpdatedAt = time.Now().UTC()

	if err := s.routes.Update(ctx, r); err != nil {
		return nil, fmt.Errorf("update route in store: %w", err)
	}
	if err := s.persistState(ctx); err != nil {
		s.logger.Error("failed to persist state after route update", "route_id", id, "error", err)
		return nil, fmt.Errorf("persist state: %w", err)
	}

	s.logger.Info("route updated", "id", id, "model_alias", r.ModelAlias)
	return r, nil
}

// DeleteRoute removes a route by ID and persists the change.
func (s *UpstreamService) DeleteRoute(ctx context.Context, id string) error {
	if err := s.routes.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.persistState(ctx); err != nil {
		s.logger.Error("failed to persist state after route delete", "route_id", id, "error", err)
		return fmt.Errorf("persist state: %w", err)
	}
	s.logger.Info("route deleted", "id", id)
	return nil
}

// LoadFromState populates the in-memory stores from the given AppState.
// Called at boot to restore persisted provider and route configuration.
func (s *UpstreamService) LoadFromState(ctx context.Context, appState *state.AppState) error {
	for i := range appState.Providers {
		entry := &appState.Providers[i]
		p := &upstream.ProviderConfig{
			ID:        entry.ID,
			Name:      entry.Name,
			Kind:      entry.Kind,
			BaseURL:   entry.BaseURL,
			Models:    entry.Models,
			Priority:  entry.Priority,
			Enabled:   entry.Enabled,
			TimeoutMs: entry.TimeoutMs,
			CreatedAt: entry.CreatedAt,
			UpdatedAt: entry.UpdatedAt,
		}
		if err := s.providers.Add(ctx, p); err != nil {
			return fmt.Errorf("load provider %q: %w", entry.ID, err)
		}
	}

	for i := range appState.Routes {
		entry := &appState.Routes[i]
		r := &upstream.Route{
			ID:         entry.ID,
			ModelAlias: entry.ModelAlias,
			Targets:    entry.Targets,
			CacheTTLs:  entry.CacheTTLs,
			CreatedAt:  entry.CreatedAt,
			UpdatedAt:  entry.UpdatedAt,
		}
		if err := s.routes.Add(ctx, r); err != nil {
			return fmt.Errorf("load route %q: %w", entry.ID, err)
		}
	}

	s.logger.Info("providers and routes loaded from state",
		"providers", len(appState.Providers), "routes", len(appState.Routes))
	return nil
}

func (s *UpstreamService) checkProviderNameUnique(ctx context.Context, name string, excludeID string) error {
	all, err := s.providers.List(ctx)
	if err != nil {
		return fmt.Errorf("list providers for uniqueness check: %w", err)
	}
	for _, existing := range all {
		if existing.Name == name && existing.ID != excludeID {
			return upstream.ErrDuplicateProviderID
		}
	}
	return nil
}

// persistState reads providers and routes from memory, converts them to
// state entries, loads the full AppState, updates both fields, and saves.
func (s *UpstreamService) persistState(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	providers, err := s.providers.List(ctx)
	if err != nil {
		return fmt.Errorf("list providers for persistence: %w", err)
	}
	routes, err := s.routes.List(ctx)
	if err != nil {
		return fmt.Errorf("list routes for persistence: %w", err)
	}

	providerEntries := make([]state.ProviderEntry, len(providers))
	for i, p := range providers {
		providerEntries[i] = state.ProviderEntry{
			ID:        p.ID,
			Name:      p.Name,
			Kind:      p.Kind,
			Enabled:   p.Enabled,
			BaseURL:   p.BaseURL,
			Models:    p.Models,
			Priority:  p.Priority,
			TimeoutMs: p.TimeoutMs,
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
		}
	}

	routeEntries := make([]state.RouteEntry, len(routes))
	for i, r := range routes {
		routeEntries[i] = state.RouteEntry{
			ID:         r.ID,
			ModelAlias: r.ModelAlias,
			Targets:    r.Targets,
			CacheTTLs:  r.CacheTTLs,
			CreatedAt:  r.CreatedAt,
			UpdatedAt:  r.UpdatedAt,
		}
	}

	appState, err := s.stateStore.Load()
	if err != nil {
		return fmt.Errorf("load state for persistence: %w", err)
	}

	appState.Providers = providerEntries
	appState.Routes = routeEntries

	if err := s.stateStore.Save(appState); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}
