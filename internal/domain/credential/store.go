package credential

import (
	"context"
	"errors"
)

// ErrCredentialNotFound is returned when no credential is configured for a
// provider ID.
var ErrCredentialNotFound = errors.New("credential: not found")

// Store is the persistence port for encrypted provider credentials. The
// SQLite adapter (internal/adapter/outbound/sqlite) is the production
// implementation; an in-memory implementation backs tests.
type Store interface {
	Get(ctx context.Context, providerID string) (*Credential, error)
	Put(ctx context.Context, c *Credential) error
	Delete(ctx context.Context, providerID string) error
	List(ctx context.Context) ([]Credential, error)
}
