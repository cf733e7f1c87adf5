// Package session holds the immutable identity and tuning of one upload run.
package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Identity is what the backend needs to issue write credentials.
type Identity struct {
	CompanyID string
	SessionID string
	StreamID  string
}

// Session describes one upload run. It is created once and passed by value.
type Session struct {
	StreamID       string
	CompanyID      string
	SessionID      string
	BlobPrefix     string
	ChunkSize      int64
	MaxRetries     int
	RequestTimeout time.Duration
	// Concurrency caps parallel block uploads per file; 0 means one task per block.
	Concurrency int
	// HungThreshold cancels a block attempt running this much longer than the average block; 0 disables it.
	HungThreshold time.Duration
}

// Identity returns the credential exchange identity of the session.
func (s Session) Identity() Identity {
	return Identity{
		CompanyID: s.CompanyID,
		SessionID: s.SessionID,
		StreamID:  s.StreamID,
	}
}

// WithBlobPrefix returns a copy of the session bound to the issued destination prefix.
func (s Session) WithBlobPrefix(prefix string) Session {
	s.BlobPrefix = prefix
	return s
}

// Validate checks the invariants the pipeline relies on.
func (s Session) Validate() error {
	if s.StreamID == "" {
		return errors.New("stream ID is empty")
	}
	if strings.TrimSpace(s.CompanyID) == "" || strings.TrimSpace(s.SessionID) == "" {
		return errors.New("company and session IDs are required")
	}
	if s.ChunkSize < 1 {
		return fmt.Errorf("invalid chunk size: %d", s.ChunkSize)
	}
	if s.MaxRetries < 1 {
		return fmt.Errorf("invalid retry count: %d", s.MaxRetries)
	}
	if s.RequestTimeout <= 0 {
		return fmt.Errorf("invalid request timeout: %s", s.RequestTimeout)
	}
	if s.Concurrency < 0 {
		return fmt.Errorf("invalid concurrency: %d", s.Concurrency)
	}
	if s.HungThreshold < 0 {
		return fmt.Errorf("invalid hung threshold: %s", s.HungThreshold)
	}
	return nil
}

// CredentialSet carries the per-file write URLs issued for a session.
// The URLs embed an authorization token and must not be logged.
type CredentialSet struct {
	VideoWriteURL    string
	AudioWriteURL    string
	BlobPrefix       string
	StatusChannelURL string
}

// Validate fails unless both write URLs are present and parseable.
func (c CredentialSet) Validate() error {
	for name, raw := range map[string]string{"video": c.VideoWriteURL, "audio": c.AudioWriteURL} {
		if raw == "" {
			return fmt.Errorf("%s write URL is missing", name)
		}
		if _, err := url.Parse(raw); err != nil {
			return fmt.Errorf("%s write URL is invalid: %w", name, err)
		}
	}
	return nil
}

// String implements fmt.Stringer with the tokens redacted.
func (c CredentialSet) String() string {
	return fmt.Sprintf("video=%s audio=%s prefix=%s status=%s",
		Redact(c.VideoWriteURL), Redact(c.AudioWriteURL), c.BlobPrefix, Redact(c.StatusChannelURL))
}

// Redact masks the query of a URL, where write tokens live.
func Redact(raw string) string {
	if raw == "" {
		return "<unset>"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "*****"
	}
	if u.RawQuery != "" {
		u.RawQuery = "*****"
	}
	u.User = nil
	return u.String()
}
