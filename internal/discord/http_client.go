package discord

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPClient builds the pooled HTTP client used for all directory API
// calls. Timeouts are set at every stage so a dead API cannot hold a sync
// open indefinitely.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,

		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		ForceAttemptHTTP2: true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}
}

// RetryConfig holds the per-request retry policy. Failures other than 429 get
// MaxAttempts tries with a linearly growing delay between them; 429 responses
// sleep for the server's Retry-After hint and do not consume an attempt.
type RetryConfig struct {
	MaxAttempts    int
	RetryDelay     time.Duration // base delay, multiplied by the attempt index
	RateLimitDelay time.Duration // fallback when 429 carries no Retry-After
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		RetryDelay:     1 * time.Second,
		RateLimitDelay: 1 * time.Second,
	}
}

// Backoff returns the delay before retrying after the given failed attempt
// (1-based). Linear rather than exponential: with three attempts total the
// worst case stays bounded and predictable.
func Backoff(cfg RetryConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * cfg.RetryDelay
}
