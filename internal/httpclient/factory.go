// Package httpclient provides hardened HTTP clients for provider API calls
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"
)

// ClientConfig configures the hardened HTTP client
type ClientConfig struct {
	Timeout         time.Duration
	BlockPrivateIPs bool // If true, refuses to dial private or loopback addresses
	FollowRedirects bool
	MaxRedirects    int
}

// DefaultConfig returns the configuration used by provider connectors
func DefaultConfig() ClientConfig {
	return ClientConfig{
		Timeout:         30 * time.Second,
		BlockPrivateIPs: true,
		FollowRedirects: true,
		MaxRedirects:    10,
	}
}

// NewClient creates an HTTP client with connector-grade protections
// - Timeout enforcement (prevents hung provider calls)
// - Private address blocking (provider APIs are always public endpoints)
// - Context-aware dialing (respects cancellation during sync)
// - Configurable redirect following
func NewClient(config ClientConfig) *http.Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if config.BlockPrivateIPs {
				if err := validateAddress(addr); err != nil {
					return nil, fmt.Errorf("address blocked: %w", err)
				}
			}

			var dialer net.Dialer
			return dialer.DialContext(ctx, network, addr)
		},

		// Connection pool settings
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,

		// Timeouts
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	client := &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
	}

	if !config.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if config.MaxRedirects > 0 {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= config.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", config.MaxRedirects)
			}
			return nil
		}
	}

	return client
}

// NewConnectorClient creates a client tuned for paginated provider API sweeps
func NewConnectorClient() *http.Client {
	return NewClient(ClientConfig{
		Timeout:         30 * time.Second,
		BlockPrivateIPs: true,
		FollowRedirects: true,
		MaxRedirects:    5,
	})
}

// NewInternalClient creates a client that is allowed to reach private networks.
// Use only for self-hosted providers (GitLab CE, on-prem HR exports).
func NewInternalClient(timeout time.Duration) *http.Client {
	return NewClient(ClientConfig{
		Timeout:         timeout,
		BlockPrivateIPs: false,
		FollowRedirects: true,
		MaxRedirects:    10,
	})
}

// validateAddress checks if an address points to a private IP
func validateAddress(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		// Try without port
		host = addr
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", host, err)
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("blocked private IP: %s (%s)", ip, host)
		}
	}

	return nil
}

// isPrivateIP checks if an IP address is private, loopback, or link-local
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}

	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}

	if ip.IsPrivate() {
		return true
	}

	if ip.String() == "0.0.0.0" || ip.String() == "::" {
		return true
	}

	return false
}

// DoWithContext performs an HTTP request with context enforcement
func DoWithContext(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("request cancelled: %w", ctx.Err())
		}
		return nil, err
	}

	return resp, nil
}

// CloseBody safely closes an HTTP response body.
// Unclosed bodies leak connections out of the transport pool.
func CloseBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}

	// Drain before closing so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	if err := resp.Body.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close HTTP response body: %v\n", err)
	}
}
