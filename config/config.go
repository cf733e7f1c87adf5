// Package config loads the upload settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bitrise-io/go-media-upload/session"
	"github.com/bitrise-io/go-media-upload/stepconf"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/google/uuid"
)

const (
	// MinChunkSize and MaxChunkSize bound CHUNK_SIZE.
	MinChunkSize = 1024 * 1024
	MaxChunkSize = 100 * 1024 * 1024

	defaultChunkSize      = 4 * 1024 * 1024
	defaultRequestTimeout = 30000
	minRequestTimeout     = 1000
	defaultMaxRetries     = 3
	defaultHungThreshold  = 30000
	defaultIdentity       = "3fa85f64-5717-4562-b3fc-2c963f66afa6"
)

// Config is the full set of environment driven settings of one run.
type Config struct {
	IsDebug  bool   `env:"IS_DEBUG,opt[true,false]"`
	DebugURL string `env:"DEBUG_URL"`
	RealURL  string `env:"REAL_URL"`

	ChunkSize         int64 `env:"CHUNK_SIZE,range[1048576..104857600]"`
	RequestTimeoutMs  int   `env:"REQUEST_TIMEOUT,range[1000..]"`
	MaxRetries        int   `env:"MAX_RETRIES,range[1..10]"`
	UploadConcurrency int   `env:"UPLOAD_CONCURRENCY,range[0..]"`
	RetryBaseDelayMs  int   `env:"RETRY_BASE_DELAY,range[0..]"`
	HungThresholdMs   int   `env:"HUNG_THRESHOLD,range[0..]"`

	CompanyID   string `env:"COMPANY_ID"`
	SessionID   string `env:"SESSION_ID"`
	StreamID    string `env:"STREAM_ID"`
	OverlayText string `env:"OVERLAY_TEXT"`

	VideoFile string `env:"VIDEO_FILE"`
	AudioFile string `env:"AUDIO_FILE"`

	StatusWaitTimeoutMs int  `env:"STATUS_WAIT_TIMEOUT,range[0..]"`
	EnableAnalytics     bool `env:"ENABLE_ANALYTICS,opt[true,false,yes,no]"`

	S3Region          string          `env:"S3_REGION"`
	S3Endpoint        string          `env:"S3_ENDPOINT"`
	S3AccessKeyID     string          `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey stepconf.Secret `env:"S3_SECRET_ACCESS_KEY"`
}

// Default returns the settings used when no variable is set.
func Default() Config {
	return Config{
		DebugURL:         "https://localhost:7000/api",
		RealURL:          "https://api.production.com/api",
		ChunkSize:        defaultChunkSize,
		RequestTimeoutMs: defaultRequestTimeout,
		MaxRetries:       defaultMaxRetries,
		RetryBaseDelayMs: 500,
		HungThresholdMs:  defaultHungThreshold,
		CompanyID:        defaultIdentity,
		SessionID:        defaultIdentity,
		OverlayText:      "Processing Video...",
		VideoFile:        "./sample_video.webm",
		AudioFile:        "./sample_audio.webm",
		S3Region:         "us-east-1",
	}
}

// Load reads the environment over the defaults, fills the stream ID and validates both
// the settings and the session they describe.
func Load(envRepo env.Repository) (Config, error) {
	cfg := Default()
	if err := stepconf.NewInputParser(envRepo).Parse(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.StreamID == "" {
		cfg.StreamID = NewStreamID(time.Now())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if err := cfg.Session().Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid session: %w", err)
	}
	return cfg, nil
}

// NewStreamID returns a unique stream identifier: stream-<unix millis>-<random>.
func NewStreamID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("stream-%d-%s", now.UnixMilli(), random)
}

// Validate collects every configuration problem into one error.
func (c Config) Validate() error {
	var problems []string

	if c.APIBaseURL() == "" {
		problems = append(problems, "API URL is not configured")
	}
	if c.ChunkSize < MinChunkSize {
		problems = append(problems, "chunk size is too small (minimum 1MB)")
	}
	if c.ChunkSize > MaxChunkSize {
		problems = append(problems, "chunk size is too large (maximum 100MB)")
	}
	if c.RequestTimeoutMs < minRequestTimeout {
		problems = append(problems, "request timeout is too small (minimum 1000ms)")
	}
	if c.MaxRetries < 1 || c.MaxRetries > 10 {
		problems = append(problems, "retry count must be between 1 and 10")
	}
	if c.UploadConcurrency < 0 {
		problems = append(problems, "upload concurrency must not be negative")
	}
	if c.HungThresholdMs < 0 {
		problems = append(problems, "hung threshold must not be negative")
	}

	if len(problems) > 0 {
		return errors.New("invalid configuration:\n- " + strings.Join(problems, "\n- "))
	}
	return nil
}

// APIBaseURL selects the backend by mode.
func (c Config) APIBaseURL() string {
	if c.IsDebug {
		return strings.TrimSuffix(c.DebugURL, "/")
	}
	return strings.TrimSuffix(c.RealURL, "/")
}

// Mode names the selected backend.
func (c Config) Mode() string {
	if c.IsDebug {
		return "DEBUG"
	}
	return "PRODUCTION"
}

// RequestTimeout bounds every individual network call.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// RetryBaseDelay is the first backoff interval of block retries.
func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// HungThreshold is how much longer than the average block an attempt may run before it
// is cancelled and retried.
func (c Config) HungThreshold() time.Duration {
	return time.Duration(c.HungThresholdMs) * time.Millisecond
}

// StatusWaitTimeout is how long to wait for a terminal job event after finalize; 0 disables waiting.
func (c Config) StatusWaitTimeout() time.Duration {
	return time.Duration(c.StatusWaitTimeoutMs) * time.Millisecond
}

// Overlay returns the finalize overlay label, falling back to the patient prefix.
func (c Config) Overlay() string {
	if c.OverlayText != "" {
		return c.OverlayText
	}
	id := c.SessionID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Patient ID: " + id
}

// Session builds the immutable run description.
func (c Config) Session() session.Session {
	return session.Session{
		StreamID:       c.StreamID,
		CompanyID:      c.CompanyID,
		SessionID:      c.SessionID,
		ChunkSize:      c.ChunkSize,
		MaxRetries:     c.MaxRetries,
		RequestTimeout: c.RequestTimeout(),
		Concurrency:    c.UploadConcurrency,
		HungThreshold:  c.HungThreshold(),
	}
}
