package pii

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// placeholderPattern matches the substitution AILink writes into outbound
// bodies: "[AILINK_VAULT_<id>]".
var placeholderPattern = regexp.MustCompile(`\[` + PlaceholderPrefix + `([0-9a-fA-F-]+)\]`)

// Tokenizer implements tokenize-mode redaction: on a pattern match it
// vaults the plaintext under the token's org and substitutes an opaque
// placeholder, later reversible only via Rehydrate for an authorized
// caller from the same org.
type Tokenizer struct {
	vault      *Vault
	store      Store
	defaultTTL time.Duration // zero means vaulted entries never expire.
}

// NewTokenizer returns a Tokenizer over the given Vault and Store, applying
// defaultTTL to every entry it creates unless a caller supplies a narrower
// one via TokenizeWithTTL.
func NewTokenizer(vault *Vault, store Store, defaultTTL time.Duration) *Tokenizer {
	return &Tokenizer{vault: vault, store: store, defaultTTL: defaultTTL}
}

// Tokenize scans text for any of the given regex patterns (the same
// strings a policy.RedactConfig.Patterns rule carries) and replaces every
// match with a vault placeholder, storing the original span's ciphertext
// under orgID. It returns the rewritten text and the list of vault IDs it
// minted, so the caller (the policy engine's Redact executor) can log how
// many spans were tokenized without seeing the plaintext itself.
func (t *Tokenizer) Tokenize(ctx context.Context, orgID string, patterns []string, text string) (string, []string, error) {
	return t.TokenizeWithTTL(ctx, orgID, patterns, text, t.defaultTTL)
}

// TokenizeWithTTL is Tokenize with an explicit per-call TTL, for org-level
// TTL overrides.
func (t *Tokenizer) TokenizeWithTTL(ctx context.Context, orgID string, patterns []string, text string, ttl time.Duration) (string, []string, error) {
	var ids []string
	out := text
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return "", nil, fmt.Errorf("pii: compile pattern %q: %w", p, err)
		}
		out = re.ReplaceAllStringFunc(out, func(match string) string {
			id, subErr := t.vaultSpan(ctx, orgID, match, ttl)
			if subErr != nil {
				// Leave the span untouched rather than silently dropping
				// data the caller can't see was lost; the Redact executor
				// surfaces err via the returned error below.
				err = subErr
				return match
			}
			ids = append(ids, id)
			return fmt.Sprintf("[%s%s]", PlaceholderPrefix, id)
		})
		if err != nil {
			return "", nil, err
		}
	}
	return out, ids, nil
}

func (t *Tokenizer) vaultSpan(ctx context.Context, orgID, plaintext string, ttl time.Duration) (string, error) {
	ciphertext, nonce, err := t.vault.seal(ctx, orgID, plaintext)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	e := &Entry{
		ID:         uuid.New().String(),
		OrgID:      orgID,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		CreatedAt:  now,
	}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}
	if err := t.store.Put(ctx, e); err != nil {
		return "", fmt.Errorf("pii: store vault entry: %w", err)
	}
	return e.ID, nil
}

// Rehydrate replaces every "[AILINK_VAULT_<id>]" placeholder found in text
// with its original plaintext, provided callerOrgID matches the org each
// entry was vaulted under. A placeholder belonging to a different org is
// left untouched and reported via the returned error rather than silently
// resolved, since rehydrate must check authorization on every call.
func (t *Tokenizer) Rehydrate(ctx context.Context, callerOrgID, text string) (string, error) {
	var unauthorized []string
	var notFound []string

	out := placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		if len(sub) != 2 {
			return match
		}
		id := sub[1]
		e, err := t.store.Get(ctx, callerOrgID, id)
		if err != nil {
			notFound = append(notFound, id)
			return match
		}
		plaintext, err := t.vault.open(ctx, callerOrgID, e)
		if err != nil {
			unauthorized = append(unauthorized, id)
			return match
		}
		return plaintext
	})

	switch {
	case len(unauthorized) > 0:
		return out, fmt.Errorf("%w: %s", ErrNotAuthorized, strings.Join(unauthorized, ", "))
	case len(notFound) > 0:
		return out, fmt.Errorf("pii: vault entries not found or expired: %s", strings.Join(notFound, ", "))
	}
	return out, nil
}
