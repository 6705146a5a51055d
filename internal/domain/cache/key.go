package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/ailink-gateway/ailink/internal/domain/router"
)

// ephemeralBodyFields are stripped from the request body before it is
// folded into the cache key: they vary per caller or per call without
// changing the semantics of the response.
var ephemeralBodyFields = map[string]struct{}{
	"stream_options": {},
	"user":           {},
}

// cachedHeaders lists the request headers, beyond the identifying fields
// below, that participate in the cache key. Content negotiation headers
// change the shape of the response and must not be conflated.
var cachedHeaders = []string{"Content-Type"}

// KeyInput carries everything BuildKey folds into a cache key.
type KeyInput struct {
	TokenID     string
	Method      string
	Path        string
	Body        []byte // raw canonical-candidate JSON request body
	Temperature *float64
	Headers     map[string]string // request headers, any casing
}

// BuildKey computes the content-addressed cache key for a request: a
// SHA-256 digest over the token identity, the HTTP method and path, the
// canonicalized request body (object keys sorted, ephemeral fields
// stripped), the sampling temperature, and the selected headers. Two
// requests that would produce an identical upstream call hash identically.
func BuildKey(in KeyInput) string {
	h := sha256.New()

	_, _ = h.Write([]byte(in.TokenID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(in.Method))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(in.Path))
	_, _ = h.Write([]byte{0})

	canonical, err := canonicalizeBody(in.Body)
	if err != nil {
		// Malformed JSON bodies are not cacheable in practice; hash the
		// raw bytes so a parse failure still produces a stable, if
		// uncacheable-in-spirit, key rather than panicking upstream.
		canonical = in.Body
	}
	_, _ = h.Write(canonical)
	_, _ = h.Write([]byte{0})

	if in.Temperature != nil {
		tempBytes, _ := json.Marshal(*in.Temperature)
		_, _ = h.Write(tempBytes)
	}
	_, _ = h.Write([]byte{0})

	for _, name := range cachedHeaders {
		_, _ = h.Write([]byte(name))
		_, _ = h.Write([]byte{'='})
		_, _ = h.Write([]byte(headerLookup(in.Headers, name)))
		_, _ = h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}

// canonicalizeBody parses the request body as a JSON object, strips
// ephemeral fields, and re-marshals it with object keys in sorted order
// so that semantically identical bodies produce byte-identical output
// regardless of field order.
func canonicalizeBody(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return body, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	for field := range ephemeralBodyFields {
		delete(raw, field)
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, _ := json.Marshal(k)
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, raw[k]...)
	}
	buf = append(buf, '}')
	return buf, nil
}

func headerLookup(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	// Header maps arriving from net/http are canonicalized already, but
	// callers building KeyInput by hand may not have; fall back to a
	// case-insensitive scan.
	for k, v := range headers {
		if len(k) == len(name) && equalFold(k, name) {
			return v
		}
	}
	return ""
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// IsEligible reports whether a chat request may participate in the
// response cache at all: low-temperature, non-streaming requests only.
// Streaming requests never key since their response has no single body
// to cache.
func IsEligible(req *router.ChatRequest, noCacheHeader bool) bool {
	if req.Stream || noCacheHeader {
		return false
	}
	if req.Temperature == nil {
		return false
	}
	return *req.Temperature <= 0.1
}

// EligibleStatus reports whether a response status code may be written to
// the cache. Only clean 2xx responses are cacheable.
func EligibleStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
