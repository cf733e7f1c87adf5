package config

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepository map[string]string

func (r fakeRepository) Get(key string) string { return r[key] }

func (r fakeRepository) Set(key, value string) error {
	r[key] = value
	return nil
}

func (r fakeRepository) Unset(key string) error {
	delete(r, key)
	return nil
}

func (r fakeRepository) List() []string {
	var envs []string
	for k, v := range r {
		envs = append(envs, k+"="+v)
	}
	return envs
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(fakeRepository{})
	require.NoError(t, err)

	assert.False(t, cfg.IsDebug)
	assert.Equal(t, "https://api.production.com/api", cfg.APIBaseURL())
	assert.Equal(t, int64(4*1024*1024), cfg.ChunkSize)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout())
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 0, cfg.UploadConcurrency)
	assert.Equal(t, 30*time.Second, cfg.HungThreshold())
	assert.Equal(t, 30*time.Second, cfg.Session().HungThreshold)
	assert.False(t, cfg.EnableAnalytics)
	assert.Equal(t, "3fa85f64-5717-4562-b3fc-2c963f66afa6", cfg.CompanyID)
	assert.Equal(t, "Processing Video...", cfg.Overlay())
	assert.Regexp(t, regexp.MustCompile(`^stream-\d+-[0-9a-f]{9}$`), cfg.StreamID)
}

func TestLoad_FromEnvironment(t *testing.T) {
	cfg, err := Load(fakeRepository{
		"IS_DEBUG":           "true",
		"DEBUG_URL":          "https://localhost:7000/api/",
		"CHUNK_SIZE":         "1048576",
		"REQUEST_TIMEOUT":    "5000",
		"MAX_RETRIES":        "10",
		"UPLOAD_CONCURRENCY": "4",
		"HUNG_THRESHOLD":     "0",
		"ENABLE_ANALYTICS":   "yes",
		"STREAM_ID":          "stream-fixed",
		"VIDEO_FILE":         "/data/v.webm",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://localhost:7000/api", cfg.APIBaseURL())
	assert.Equal(t, "DEBUG", cfg.Mode())
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout())
	assert.Equal(t, "stream-fixed", cfg.StreamID)
	assert.Equal(t, "/data/v.webm", cfg.VideoFile)

	s := cfg.Session()
	assert.Equal(t, "stream-fixed", s.StreamID)
	assert.Equal(t, int64(1048576), s.ChunkSize)
	assert.Equal(t, 10, s.MaxRetries)
	assert.Equal(t, 4, s.Concurrency)
	assert.Equal(t, time.Duration(0), s.HungThreshold)
	assert.True(t, cfg.EnableAnalytics)
	assert.NoError(t, s.Validate())
}

func TestLoad_RejectsOutOfRangeValues(t *testing.T) {
	tests := []struct {
		name string
		env  fakeRepository
	}{
		{"chunk too small", fakeRepository{"CHUNK_SIZE": "1024"}},
		{"chunk too large", fakeRepository{"CHUNK_SIZE": "209715200"}},
		{"timeout too small", fakeRepository{"REQUEST_TIMEOUT": "999"}},
		{"no retries", fakeRepository{"MAX_RETRIES": "0"}},
		{"too many retries", fakeRepository{"MAX_RETRIES": "11"}},
		{"not a number", fakeRepository{"MAX_RETRIES": "three"}},
		{"negative concurrency", fakeRepository{"UPLOAD_CONCURRENCY": "-1"}},
		{"negative hung threshold", fakeRepository{"HUNG_THRESHOLD": "-1"}},
		{"debug flag not a boolean", fakeRepository{"IS_DEBUG": "1"}},
		{"analytics flag not a boolean", fakeRepository{"ENABLE_ANALYTICS": "on"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.env)
			assert.Error(t, err)
		})
	}
}

func TestLoad_ValidatesSession(t *testing.T) {
	_, err := Load(fakeRepository{"COMPANY_ID": "   "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid session: company and session IDs are required")
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.ChunkSize = 10
	cfg.MaxRetries = 0
	cfg.RealURL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API URL is not configured")
	assert.Contains(t, err.Error(), "chunk size is too small")
	assert.Contains(t, err.Error(), "retry count must be between 1 and 10")
}

func TestOverlay_FallsBackToPatientID(t *testing.T) {
	cfg := Default()
	cfg.OverlayText = ""
	cfg.SessionID = "12345678-aaaa-bbbb"
	assert.Equal(t, "Patient ID: 12345678", cfg.Overlay())
}

func TestNewStreamID_IsUnique(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	a, b := NewStreamID(now), NewStreamID(now)
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "stream-1700000000000-")
}
