// Package credential implements encrypted at-rest storage for upstream
// provider API keys and an http.RoundTripper that decrypts and injects
// them into outbound requests without ever letting plaintext reach a log
// statement. Follows the argon2id/AES key-handling idiom used for auth
// secrets (internal/domain/auth) and a header-injecting RoundTripper shape
// in the style of eugener/gandalf's internal/cloudauth.
package credential

import "time"

// HeaderStyle identifies how a decrypted credential is attached to an
// outbound request.
type HeaderStyle string

const (
	// HeaderStyleBearer sets "Authorization: Bearer <key>".
	HeaderStyleBearer HeaderStyle = "bearer"
	// HeaderStyleAPIKeyHeader sets a named header to the raw key value
	// (e.g. Anthropic's "x-api-key").
	HeaderStyleAPIKeyHeader HeaderStyle = "api_key_header"
	// HeaderStyleQueryParam appends the key as a URL query parameter
	// (Gemini's "?key=").
	HeaderStyleQueryParam HeaderStyle = "query_param"
)

// Credential is an encrypted provider credential at rest. Plaintext never
// appears on this type; Ciphertext/Nonce are produced by Seal and consumed
// by Open.
type Credential struct {
	ID         string
	ProviderID string
	// HeaderName is the header or query parameter name the decrypted value
	// is written to (e.g. "Authorization", "x-api-key", "key").
	HeaderName string
	Style      HeaderStyle
	// Prefix is prepended to the decrypted value, e.g. "Bearer ".
	Prefix     string
	Ciphertext []byte
	Nonce      []byte
	CreatedAt  time.Time
	RotatedAt  *time.Time
}
