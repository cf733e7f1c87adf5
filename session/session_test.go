package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSession() Session {
	return Session{
		StreamID:       "stream-1700000000000-abcdef12",
		CompanyID:      "3fa85f64-5717-4562-b3fc-2c963f66afa6",
		SessionID:      "3fa85f64-5717-4562-b3fc-2c963f66afa6",
		ChunkSize:      4 * 1024 * 1024,
		MaxRetries:     3,
		RequestTimeout: 30 * time.Second,
	}
}

func TestSession_WithBlobPrefixReturnsCopy(t *testing.T) {
	s := validSession()
	bound := s.WithBlobPrefix("recordings/abc")

	assert.Equal(t, "", s.BlobPrefix)
	assert.Equal(t, "recordings/abc", bound.BlobPrefix)
	assert.Equal(t, s.StreamID, bound.StreamID)
}

func TestSession_Identity(t *testing.T) {
	s := validSession()
	assert.Equal(t, Identity{CompanyID: s.CompanyID, SessionID: s.SessionID, StreamID: s.StreamID}, s.Identity())
}

func TestSession_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Session)
		wantErr bool
	}{
		{"valid", func(*Session) {}, false},
		{"missing stream", func(s *Session) { s.StreamID = "" }, true},
		{"missing company", func(s *Session) { s.CompanyID = "" }, true},
		{"blank session", func(s *Session) { s.SessionID = "  " }, true},
		{"zero chunk", func(s *Session) { s.ChunkSize = 0 }, true},
		{"zero retries", func(s *Session) { s.MaxRetries = 0 }, true},
		{"zero timeout", func(s *Session) { s.RequestTimeout = 0 }, true},
		{"negative concurrency", func(s *Session) { s.Concurrency = -1 }, true},
		{"hung detection disabled", func(s *Session) { s.HungThreshold = 0 }, false},
		{"negative hung threshold", func(s *Session) { s.HungThreshold = -time.Second }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSession()
			tt.modify(&s)
			err := s.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCredentialSet_Validate(t *testing.T) {
	c := CredentialSet{VideoWriteURL: "https://acc.blob.core.windows.net/c/v.webm?sig=x"}
	require.Error(t, c.Validate())

	c.AudioWriteURL = "https://acc.blob.core.windows.net/c/a.webm?sig=y"
	require.NoError(t, c.Validate())
}

func TestCredentialSet_StringRedactsTokens(t *testing.T) {
	c := CredentialSet{
		VideoWriteURL: "https://acc.blob.core.windows.net/c/v.webm?sv=2021&sig=secret",
		AudioWriteURL: "https://acc.blob.core.windows.net/c/a.webm?sig=secret",
		BlobPrefix:    "recordings/abc",
	}

	s := c.String()
	assert.NotContains(t, s, "secret")
	assert.Contains(t, s, "https://acc.blob.core.windows.net/c/v.webm?*****")
	assert.Contains(t, s, "status=<unset>")
}
