package upstream

import "context"

// ProviderStore provides CRUD operations for provider configuration. Port
// (interface) in the hexagonal architecture; implementations: in-memory
// (memory package), SQLite (sqlite package).
type ProviderStore interface {
	List(ctx context.Context) ([]ProviderConfig, error)
	Get(ctx context.Context, id string) (*ProviderConfig, error)
	Add(ctx context.Context, p *ProviderConfig) error
	Update(ctx context.Context, p *ProviderConfig) error
	Delete(ctx context.Context, id string) error
}

// RouteStore provides CRUD and alias-lookup operations for model routes.
// GetRouteByAlias is the hot-path lookup RouterService caches; grounded on
// eugener/gandalf's internal/storage.RouteStore.
type RouteStore interface {
	List(ctx context.Context) ([]Route, error)
	GetRouteByAlias(ctx context.Context, alias string) (*Route, error)
	Add(ctx context.Context, r *Route) error
	Update(ctx context.Context, r *Route) error
	Delete(ctx context.Context, id string) error
}
