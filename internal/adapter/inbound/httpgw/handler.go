package httpgw

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ailink-gateway/ailink/internal/apperr"
	"github.com/ailink-gateway/ailink/internal/domain/action"
	"github.com/ailink-gateway/ailink/internal/domain/auth"
	"github.com/ailink-gateway/ailink/internal/domain/router"
	"github.com/ailink-gateway/ailink/internal/service"
)

// contextKey namespaces this package's context values so they never
// collide with keys set by other packages.
type contextKey string

const (
	// ContextKeyIdentity is the context key NewAuthMiddleware stores the
	// authenticated action.ActionIdentity under.
	ContextKeyIdentity contextKey = "httpgw.identity"
	// ContextKeyAPIKey is the context key NewAuthMiddleware stores the raw
	// (cleartext) API key under, for handlers that need to re-derive a
	// token-scoped identifier.
	ContextKeyAPIKey contextKey = "httpgw.api_key"
)

// hopByHopHeaders lists the headers RFC 7230 section 6.1 says must not be
// forwarded across a proxy hop.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// maxScanBodySize is a 1 MiB bound for buffering a response body for
// prompt-injection scanning. No code in this package reads it: the package
// has no reverse proxy and no response scanner.
const maxScanBodySize = 1 << 20 // 1 MiB

// isTextContentType reports whether a Content-Type header names a format
// worth scanning for prompt injection (JSON and plain text bodies only).
func isTextContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "text/")
}

// writeJSONError writes the apperr wire envelope for a reverse-proxy or
// gateway-level failure that occurred outside the policy/dispatch
// pipeline (e.g. failing to even build the upstream request).
func writeJSONError(w http.ResponseWriter, status int, code, requestID, message, _type, _detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apperr.Envelope{
		Error: apperr.EnvelopeBody{Message: message, Type: "gateway_error", Code: code, RequestID: requestID},
	})
}

// ChatCompletionHandler is the OpenAI-compatible inbound HTTP entrypoint:
// it parses the canonical chat request body, resolves the caller's
// identity from context (set by NewAuthMiddleware), and hands off to the
// service.ProxyService orchestration pipeline for everything else.
type ChatCompletionHandler struct {
	proxy  *service.ProxyService
	logger *slog.Logger
}

// NewChatCompletionHandler wraps a ProxyService as an http.Handler for
// POST /v1/chat/completions.
func NewChatCompletionHandler(proxy *service.ProxyService, logger *slog.Logger) *ChatCompletionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatCompletionHandler{proxy: proxy, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *ChatCompletionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", "", "missing authenticated identity", "", "")
		return
	}

	rawBody, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "", "failed to read request body", "", "")
		return
	}

	var req router.ChatRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "bad_request", "", "invalid JSON body", "", "")
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	err = h.proxy.Handle(r.Context(), w, service.ChatCompletionInput{
		Identity: identity,
		Request:  &req,
		RawBody:  rawBody,
		Method:   r.Method,
		Path:     r.URL.Path,
		Headers:  headers,
	})
	if err != nil {
		ge := apperr.FromError(err)
		writeJSONError(w, ge.Status, ge.Code, ge.RequestID, ge.Message, "", "")
		h.logger.Debug("chat completion pipeline error", "error", err, "identity_id", identity.ID)
	}
}

// identityFromContext adapts the action.ActionIdentity NewAuthMiddleware
// stores into the auth.Identity the service layer operates on.
func identityFromContext(ctx context.Context) (*auth.Identity, bool) {
	raw := ctx.Value(ContextKeyIdentity)
	if raw == nil {
		return nil, false
	}
	ai, ok := raw.(*action.ActionIdentity)
	if !ok {
		return nil, false
	}
	roles := make([]auth.Role, len(ai.Roles))
	for i, r := range ai.Roles {
		roles[i] = auth.Role(r)
	}
	return &auth.Identity{ID: ai.ID, Name: ai.Name, Roles: roles}, true
}
