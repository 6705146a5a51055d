// Package httpgw provides the HTTP-facing chat completion adapter: request
// authentication, the OpenAI-compatible handler, and the SSRF-safe dialer
// the upstream dispatcher's outbound transport is built on.
package httpgw

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/dnscache"
)

// privateNetworks contains CIDR ranges that must never be reachable from
// outbound provider dispatch — a misconfigured or malicious provider BaseURL
// must not be able to reach the gateway's own metadata endpoint or network.
var privateNetworks []*net.IPNet

func init() {
	cidrs := []string{
		"127.0.0.0/8",    // IPv4 loopback
		"10.0.0.0/8",     // RFC 1918 private
		"172.16.0.0/12",  // RFC 1918 private
		"192.168.0.0/16", // RFC 1918 private
		"169.254.0.0/16", // Link-local (AWS/GCP metadata at 169.254.169.254)
		"::1/128",        // IPv6 loopback
		"fc00::/7",       // IPv6 unique local
		"fe80::/10",      // IPv6 link-local
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic("invalid CIDR in privateNetworks: " + cidr)
		}
		privateNetworks = append(privateNetworks, network)
	}
}

// isPrivateIP checks whether an IP address falls within a private/reserved range.
func isPrivateIP(ip net.IP) bool {
	for _, network := range privateNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver is a cached DNS resolver shared across outbound provider dispatch,
// refreshed on an interval so repeated requests to the same provider host
// don't pay a lookup on every call while still picking up IP changes.
type Resolver struct {
	cache *dnscache.Resolver
	stop  chan struct{}
}

// NewResolver starts a Resolver with a background refresh loop. Call Stop
// when the gateway shuts down.
func NewResolver(refreshInterval time.Duration) *Resolver {
	r := &Resolver{cache: &dnscache.Resolver{}, stop: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.cache.Refresh(true)
			case <-r.stop:
				return
			}
		}
	}()
	return r
}

// Stop ends the background refresh loop.
func (r *Resolver) Stop() { close(r.stop) }

// SafeDialContext returns a DialContext function that resolves through the
// cached resolver and blocks connections to private/reserved IP addresses.
// The private-IP check happens at connection time (after DNS resolution),
// which also prevents DNS rebinding attacks against provider BaseURLs.
func (r *Resolver) SafeDialContext() func(ctx context.Context, network, addr string) (net.Conn, error) {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("ssrf: invalid address %q: %w", addr, err)
		}

		ips, err := r.cache.LookupHost(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("ssrf: DNS resolution failed for %q: %w", host, err)
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("ssrf: no IPs resolved for %q", host)
		}

		for _, ipStr := range ips {
			if ip := net.ParseIP(ipStr); ip != nil && isPrivateIP(ip) {
				return nil, fmt.Errorf("ssrf: blocked connection to private IP %s (resolved from %s)", ipStr, host)
			}
		}

		// Pinned: dial the address we just validated, no re-resolution
		// between the check above and the connection below.
		pinnedAddr := net.JoinHostPort(ips[0], port)
		return dialer.DialContext(ctx, network, pinnedAddr)
	}
}
