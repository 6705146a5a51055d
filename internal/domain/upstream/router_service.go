package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/maypok86/otter/v2"
)

// routeCacheTTL bounds how long a resolved route stays cached before the
// RouterService re-reads the route store. Short enough that an
// administrator's routing change takes effect quickly, long enough to
// eliminate per-request JSON decoding on the hot path.
const routeCacheTTL = 10 * time.Second

// RouterService resolves a caller-facing model alias to an ordered list of
// provider/model targets, consulting a short-lived cache before the
// RouteStore. Grounded on eugener/gandalf's internal/app.RouterService.
type RouterService struct {
	routes RouteStore
	cache  *otter.Cache[string, []ResolvedTarget]
}

// NewRouterService returns a RouterService backed by the given route store.
func NewRouterService(routes RouteStore) *RouterService {
	cache := otter.Must(&otter.Options[string, []ResolvedTarget]{
		MaximumSize:      256,
		ExpiryCalculator: otter.ExpiryWriting[string, []ResolvedTarget](routeCacheTTL),
	})
	return &RouterService{routes: routes, cache: cache}
}

// ResolveModel maps model to the priority-sorted targets of its route.
// Results are cached for routeCacheTTL.
func (rs *RouterService) ResolveModel(ctx context.Context, model string) ([]ResolvedTarget, error) {
	if cached, ok := rs.cache.GetIfPresent(model); ok {
		return cached, nil
	}

	route, err := rs.routes.GetRouteByAlias(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("resolve model %q: %w", model, err)
	}

	var targets []RouteTarget
	if err := json.Unmarshal(route.Targets, &targets); err != nil {
		return nil, fmt.Errorf("parse route targets for %q: %w", model, err)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRouteNoTargets, model)
	}

	resolved := make([]ResolvedTarget, len(targets))
	for i, t := range targets {
		resolved[i] = ResolvedTarget{ProviderID: t.ProviderID, Model: t.Model, Priority: t.Priority}
	}
	slices.SortStableFunc(resolved, func(a, b ResolvedTarget) int {
		return a.Priority - b.Priority
	})

	rs.cache.Set(model, resolved)
	return resolved, nil
}

// CacheTTL returns the route-configured response cache TTL for model, or 0
// if no route or no TTL is configured. Used by the response cache to
// decide whether a given model's responses are cacheable at all.
func (rs *RouterService) CacheTTL(ctx context.Context, model string) time.Duration {
	route, err := rs.routes.GetRouteByAlias(ctx, model)
	if err != nil || route.CacheTTLs <= 0 {
		return 0
	}
	return time.Duration(route.CacheTTLs) * time.Second
}

// InvalidateRoute drops the cached resolution for model, forcing the next
// ResolveModel call to re-read the route store. Call after mutating a
// route's targets.
func (rs *RouterService) InvalidateRoute(model string) {
	rs.cache.Invalidate(model)
}
