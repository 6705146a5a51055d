package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ailink-gateway/ailink/internal/domain/upstream"
)

var _ upstream.ProviderStore = (*Store)(nil)

// Add inserts a new provider configuration, grounded on gandalf's
// CreateProvider (internal/storage/sqlite/provider.go).
func (s *Store) Add(ctx context.Context, p *upstream.ProviderConfig) error {
	models, err := json.Marshal(p.Models)
	if err != nil {
		return fmt.Errorf("sqlite: marshal models: %w", err)
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err = s.write.ExecContext(ctx,
		`INSERT INTO providers (id, name, kind, base_url, models, priority, enabled, timeout_ms, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Kind, p.BaseURL, string(models),
		p.Priority, boolToInt(p.Enabled), p.TimeoutMs,
		p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil && isUniqueViolation(err) {
		return upstream.ErrDuplicateProviderID
	}
	return err
}

// Get retrieves a provider by ID.
func (s *Store) Get(ctx context.Context, id string) (*upstream.ProviderConfig, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, name, kind, base_url, models, priority, enabled, timeout_ms, created_at, updated_at
		 FROM providers WHERE id = ?`, id,
	)
	return scanProvider(row)
}

// List returns every provider configuration, ordered by priority ascending
// to match how the upstream dispatcher resolves failover candidates.
func (s *Store) List(ctx context.Context) ([]upstream.ProviderConfig, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, name, kind, base_url, models, priority, enabled, timeout_ms, created_at, updated_at
		 FROM providers ORDER BY priority ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []upstream.ProviderConfig
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// Update overwrites an existing provider configuration.
func (s *Store) Update(ctx context.Context, p *upstream.ProviderConfig) error {
	models, err := json.Marshal(p.Models)
	if err != nil {
		return fmt.Errorf("sqlite: marshal models: %w", err)
	}
	p.UpdatedAt = time.Now().UTC()

	result, err := s.write.ExecContext(ctx,
		`UPDATE providers SET name=?, kind=?, base_url=?, models=?, priority=?, enabled=?, timeout_ms=?, updated_at=?
		 WHERE id=?`,
		p.Name, p.Kind, p.BaseURL, string(models), p.Priority, boolToInt(p.Enabled), p.TimeoutMs,
		p.UpdatedAt.Format(time.RFC3339), p.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return upstream.ErrDuplicateProviderID
		}
		return err
	}
	return checkRowsAffected(result, upstream.ErrProviderNotFound)
}

// Delete removes a provider configuration.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.write.ExecContext(ctx, `DELETE FROM providers WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, upstream.ErrProviderNotFound)
}

func scanProvider(row scanner) (*upstream.ProviderConfig, error) {
	var p upstream.ProviderConfig
	var baseURL sql.NullString
	var modelsJSON string
	var enabled int
	var createdAt, updatedAt string

	err := row.Scan(&p.ID, &p.Name, &p.Kind, &baseURL, &modelsJSON,
		&p.Priority, &enabled, &p.TimeoutMs, &createdAt, &updatedAt)
	if err != nil {
		return nil, notFoundErr(err, upstream.ErrProviderNotFound)
	}

	p.BaseURL = baseURL.String
	p.Enabled = enabled != 0
	if err := json.Unmarshal([]byte(modelsJSON), &p.Models); err != nil {
		return nil, fmt.Errorf("sqlite: unmarshal models: %w", err)
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

// notFoundErr translates sql.ErrNoRows to the domain's own not-found
// sentinel, mirroring gandalf's notFoundErr (internal/storage/sqlite/apikey.go)
// generalized to take the sentinel as a parameter since AILink's upstream
// package defines distinct errors per entity (ErrProviderNotFound,
// ErrRouteNotFound) rather than one shared gateway.ErrNotFound.
func notFoundErr(err error, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return err
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint
// failure. modernc.org/sqlite surfaces this as a plain error whose message
// contains "UNIQUE constraint failed"; there is no typed sentinel to
// errors.Is against.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
