// Package stream implements the streaming bridge: the generic,
// provider-agnostic half of streaming chat completions. Each provider
// adapter in router/openai, router/anthropic, router/gemini already
// translates its native event format into the canonical, OpenAI-delta
// shaped router.StreamChunk; this package owns what is common to every
// provider once that channel exists: writing SSE framing to the client,
// keep-alives, mid-stream error signaling, backpressure, and cancellation.
//
// Grounded on eugener/gandalf's internal/server/sse.go and the streaming
// loop in internal/server/proxy.go.
package stream

import "net/http"

var (
	sseDataPrefix = []byte("data: ")
	sseNewline    = []byte("\n\n")
	sseDone       = []byte("data: [DONE]\n\n")
	sseKeepAlive  = []byte(": keep-alive\n\n")
)

var (
	sseHeaders      = []string{"text/event-stream"}
	sseCacheControl = []string{"no-cache"}
	sseConnection   = []string{"keep-alive"}
	sseAccelBuf     = []string{"no"}
)

// WriteHeaders sets the response headers for an SSE stream and writes the
// 200 status line. Must be called before any WriteData/WriteDone/WriteError.
func WriteHeaders(w http.ResponseWriter) {
	h := w.Header()
	h["Content-Type"] = sseHeaders
	h["Cache-Control"] = sseCacheControl
	h["Connection"] = sseConnection
	h["X-Accel-Buffering"] = sseAccelBuf
	w.WriteHeader(http.StatusOK)
}

// WriteData writes a single SSE data frame: "data: <payload>\n\n".
func WriteData(w http.ResponseWriter, data []byte) {
	_, _ = w.Write(sseDataPrefix)
	_, _ = w.Write(data)
	_, _ = w.Write(sseNewline)
}

// WriteDone writes the SSE stream termination sentinel: "data: [DONE]\n\n".
func WriteDone(w http.ResponseWriter) {
	_, _ = w.Write(sseDone)
}

// WriteError writes an SSE error event for a mid-stream upstream drop:
// {"error":{"type":"stream_error","message":"..."}}
func WriteError(w http.ResponseWriter, msg string) {
	_, _ = w.Write([]byte(`data: {"error":{"type":"stream_error","message":"`))
	_, _ = w.Write([]byte(escapeJSONString(msg)))
	_, _ = w.Write([]byte(`"}}`))
	_, _ = w.Write(sseNewline)
}

// WriteKeepAlive writes an SSE comment to keep the connection alive across
// idle periods between chunks.
func WriteKeepAlive(w http.ResponseWriter) {
	_, _ = w.Write(sseKeepAlive)
}

// escapeJSONString does the minimal escaping needed to embed an arbitrary
// error message inside a hand-written JSON string literal.
func escapeJSONString(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\\':
			out = append(out, '\\', c)
		case '\n':
			out = append(out, '\\', 'n')
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
