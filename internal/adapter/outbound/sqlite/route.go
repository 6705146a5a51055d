package sqlite

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ailink-gateway/ailink/internal/domain/upstream"
)

var _ upstream.RouteStore = (*Store)(nil)

// Add inserts a new route, grounded on gandalf's CreateRoute
// (internal/storage/sqlite/route.go). Targets is already raw JSON on
// upstream.Route (see upstream/types.go), so it is stored verbatim.
func (s *Store) Add(ctx context.Context, r *upstream.Route) error {
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	_, err := s.write.ExecContext(ctx,
		`INSERT INTO routes (id, model_alias, targets, cache_ttl_s, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.ModelAlias, string(r.Targets), r.CacheTTLs,
		r.CreatedAt.Format(time.RFC3339), r.UpdatedAt.Format(time.RFC3339),
	)
	return err
}

// GetRouteByAlias retrieves a route by its caller-facing model alias, the
// hot-path lookup RouterService caches.
func (s *Store) GetRouteByAlias(ctx context.Context, alias string) (*upstream.Route, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, model_alias, targets, cache_ttl_s, created_at, updated_at
		 FROM routes WHERE model_alias = ?`, alias,
	)
	return scanRoute(row)
}

// List returns every route, ordered by model alias.
func (s *Store) List(ctx context.Context) ([]upstream.Route, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, model_alias, targets, cache_ttl_s, created_at, updated_at
		 FROM routes ORDER BY model_alias`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []upstream.Route
	for rows.Next() {
		r, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Update overwrites an existing route.
func (s *Store) Update(ctx context.Context, r *upstream.Route) error {
	r.UpdatedAt = time.Now().UTC()
	result, err := s.write.ExecContext(ctx,
		`UPDATE routes SET model_alias=?, targets=?, cache_ttl_s=?, updated_at=? WHERE id=?`,
		r.ModelAlias, string(r.Targets), r.CacheTTLs, r.UpdatedAt.Format(time.RFC3339), r.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, upstream.ErrRouteNotFound)
}

// Delete removes a route.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM routes WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, upstream.ErrRouteNotFound)
}

func scanRoute(row scanner) (*upstream.Route, error) {
	var r upstream.Route
	var targets, createdAt, updatedAt string

	err := row.Scan(&r.ID, &r.ModelAlias, &targets, &r.CacheTTLs, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFoundErr(err, upstream.ErrRouteNotFound)
	}
	r.Targets = json.RawMessage(targets)
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &r, nil
}
