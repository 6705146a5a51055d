// Package pii implements the optional PII vault: tokenize-mode
// redaction substitutes matched spans with an opaque placeholder and keeps
// the original plaintext recoverable only through an authorized rehydrate
// call, scoped per org.
package pii

import (
	"context"
	"time"
)

// Placeholder is the substitution AILink writes into the outbound body in
// place of a matched span, e.g. "[AILINK_VAULT_3f9c2a]".
const PlaceholderPrefix = "AILINK_VAULT_"

// Entry is one vaulted plaintext span, encrypted at rest.
type Entry struct {
	ID         string
	OrgID      string
	Ciphertext []byte
	Nonce      []byte
	CreatedAt  time.Time
	ExpiresAt  time.Time // zero means no TTL.
}

// Store persists vault entries, scoped and queried per org.
type Store interface {
	Put(ctx context.Context, e *Entry) error
	Get(ctx context.Context, orgID, id string) (*Entry, error)
	Purge(ctx context.Context) error
}
