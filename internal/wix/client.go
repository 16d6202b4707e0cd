// Package wix is a client for the Wix Bookings REST API, limited to the calls
// BookingRelay needs: booking status transitions and a query for recent bookings.
package wix

import (
	"log/slog"
	"net/http"
	"strings"
)

// Client talks to the remote booking API.
type Client struct {
	cfg     Config
	http    *http.Client
	tokens  TokenSource
	retry   RetryPolicy
	limiter *RateLimiter
	breaker CircuitBreaker
}

// New creates a Client. Zero-valued Config fields fall back to DefaultConfig.
func New(cfg Config, tokens TokenSource) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if tokens == nil {
		tokens = StaticToken("")
	}
	slog.Debug("wix.New: client configured",
		"base_url", cfg.BaseURL,
		"site_id_set", cfg.SiteID != "",
		"timeout", cfg.Timeout,
		"rate_limit", cfg.RateLimit,
		"circuit_breaker", cfg.CircuitBreakerEnabled)

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		tokens: tokens,
		retry: RetryPolicy{
			MaxRetries: cfg.RetryCount,
			BaseDelay:  cfg.RetryDelay,
		},
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		breaker: NewCircuitBreaker(cfg),
	}
}
