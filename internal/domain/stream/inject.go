package stream

import "github.com/ailink-gateway/ailink/internal/domain/router"

// EnsureUsageIncluded forces, for streaming chat requests, the outbound
// OpenAI-compatible body to carry stream_options.include_usage=true so the
// final SSE chunk reports token usage the bridge can hand to the cost
// accountant. Non-streaming requests are untouched. Reports whether it
// changed the request.
func EnsureUsageIncluded(req *router.ChatRequest) bool {
	if !req.Stream {
		return false
	}
	if req.StreamOptions != nil && req.StreamOptions.IncludeUsage {
		return false
	}
	req.StreamOptions = &router.StreamOptions{IncludeUsage: true}
	return true
}
