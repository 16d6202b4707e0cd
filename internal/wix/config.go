package wix

import "time"

// DefaultBaseURL is the public Wix REST API host.
const DefaultBaseURL = "https://www.wixapis.com"

// Config holds the remote booking API client settings.
type Config struct {
	BaseURL string
	// SiteID is sent as the wix-site-id header when set (required for API-key auth).
	SiteID string

	// Timeout bounds every remote call, including ones the caller did not bound.
	Timeout time.Duration

	// RetryCount and RetryDelay apply to read-only calls only.
	RetryCount int
	RetryDelay time.Duration

	// RateLimit is in requests per minute.
	RateLimit int
	RateBurst int

	CircuitBreakerEnabled bool
	CBFailureThreshold    int
	CBMinRequests         int
	CBRecoveryTime        time.Duration
	CBSamplingDuration    time.Duration
	CBHalfOpenMaxSuccess  int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BaseURL:               DefaultBaseURL,
		Timeout:               10 * time.Second,
		RetryCount:            2,
		RetryDelay:            time.Second,
		RateLimit:             120,
		RateBurst:             5,
		CircuitBreakerEnabled: true,
		CBFailureThreshold:    5,
		CBMinRequests:         5,
		CBRecoveryTime:        30 * time.Second,
		CBSamplingDuration:    60 * time.Second,
		CBHalfOpenMaxSuccess:  1,
	}
}
