// Package http provides the HTTP transport that serves the chat completion
// endpoint, admin REST API, health check, and metrics for the gateway.
//
// # Usage
//
// Create and start an HTTP transport:
//
//	transport := http.NewHTTPTransport(proxyService,
//	    http.WithAddr(":8080"),
//	    http.WithTLS("cert.pem", "key.pem"),
//	    http.WithLogger(logger),
//	    http.WithChatHandler(chatHandler),
//	    http.WithExtraHandler(adminHandler),
//	    http.WithHealthChecker(healthChecker),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
//	POST /v1/chat/completions - OpenAI-compatible chat completion request
//	GET  /health              - liveness/readiness check
//	GET  /metrics             - Prometheus metrics
//	/admin/*                  - admin REST API (if configured)
//
// # Security Features
//
//   - TLS 1.2 minimum: when HTTPS is enabled via WithTLS
//   - Authentication: chatHandler is expected to already be wrapped with
//     httpgw.NewAuthMiddleware by the caller
//   - Real IP extraction: from X-Forwarded-For/X-Real-IP for rate limiting
//
// # Middleware Chain
//
// Requests pass through middleware in this order:
//
//  1. MetricsMiddleware - records request duration and status
//  2. RequestIDMiddleware - assigns/propagates a request ID and enriches the logger
//  3. RealIPMiddleware - extracts client IP from proxy headers
//  4. chat handler (including its own auth middleware)
package http
