package blob

import (
	"net/http"
	"time"

	"github.com/bitrise-io/go-media-upload/session"
)

// Config holds configuration for the block uploader.
type Config struct {
	// Concurrency is the maximum number of parallel block uploads per file.
	// 0 starts one task per block.
	Concurrency int

	// MaxAttempts is the total number of attempts per block, the first one included.
	// Only transport failures are retried.
	// Default: 3
	MaxAttempts int

	// RequestTimeout bounds each individual attempt; it is not cumulative across retries.
	// Default: 30 seconds
	RequestTimeout time.Duration

	// RetryBaseDelay is the first backoff interval; later ones grow exponentially.
	// Default: 500 milliseconds
	RetryBaseDelay time.Duration

	// HungThreshold cancels and retries an attempt running this much longer than the
	// average finished block. 0 disables hung detection.
	// Default: 30 seconds
	HungThreshold time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:    0,
		MaxAttempts:    3,
		RequestTimeout: 30 * time.Second,
		RetryBaseDelay: 500 * time.Millisecond,
		HungThreshold:  30 * time.Second,
	}
}

// ConfigFromSession derives the uploader configuration of a run.
func ConfigFromSession(s session.Session, retryBaseDelay time.Duration) Config {
	c := DefaultConfig()
	c.Concurrency = s.Concurrency
	c.MaxAttempts = s.MaxRetries
	c.RequestTimeout = s.RequestTimeout
	c.RetryBaseDelay = retryBaseDelay
	c.HungThreshold = s.HungThreshold
	return c
}

// DefaultHTTPClient creates an HTTP client tuned for block uploads.
func DefaultHTTPClient() *http.Client {
	return &http.Client{
		// No timeout - individual attempt timeouts are handled via context
		Timeout: 0,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxConnsPerHost:     20,
			IdleConnTimeout:     10 * time.Second,
			TLSHandshakeTimeout: 5 * time.Second,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}
