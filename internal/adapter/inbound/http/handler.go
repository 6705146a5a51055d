// Package http provides the HTTP transport adapter for the proxy.
package http

import "net/http"

// healthHandler returns a minimal handler used when no HealthChecker has been
// configured on the transport.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
}
