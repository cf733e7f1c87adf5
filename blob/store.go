package blob

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Target is one destination object receiving blocks.
type Target interface {
	// PutBlock stores the body of one block. Repeating it for the same block replaces the data.
	PutBlock(ctx context.Context, block BlockDescriptor, body []byte) error
	// Commit materializes the object from the manifest.
	Commit(ctx context.Context, manifest Manifest) error
	// Abort releases uncommitted blocks where the store supports it.
	Abort(ctx context.Context) error
	// Location is the durable reference to the object, without authorization tokens.
	Location() string
}

// Store opens destinations for a planned number of blocks.
type Store interface {
	Open(ctx context.Context, destination string, blockCount int) (Target, error)
}

// Mux dispatches destinations to stores by URL scheme.
type Mux struct {
	stores map[string]Store
}

// NewMux creates an empty scheme dispatcher.
func NewMux() *Mux {
	return &Mux{stores: map[string]Store{}}
}

// Handle registers store for the given schemes.
func (m *Mux) Handle(store Store, schemes ...string) {
	for _, scheme := range schemes {
		m.stores[strings.ToLower(scheme)] = store
	}
}

// Open implements Store.
func (m *Mux) Open(ctx context.Context, destination string, blockCount int) (Target, error) {
	u, err := url.Parse(destination)
	if err != nil {
		return nil, fmt.Errorf("parse destination: %w", err)
	}
	store, ok := m.stores[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("no store for scheme %q", u.Scheme)
	}
	return store.Open(ctx, destination, blockCount)
}

// StripToken drops the query and fragment of a write URL, leaving the public object URL.
func StripToken(writeURL string) string {
	u, err := url.Parse(writeURL)
	if err != nil {
		if idx := strings.IndexAny(writeURL, "?#"); idx != -1 {
			return writeURL[:idx]
		}
		return writeURL
	}
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	u.User = nil
	return u.String()
}

// withOperation appends raw query parameters to a write URL, keeping its token untouched.
func withOperation(writeURL, params string) (string, error) {
	u, err := url.Parse(writeURL)
	if err != nil {
		return "", fmt.Errorf("parse write URL: %w", err)
	}
	if u.RawQuery == "" {
		u.RawQuery = params
	} else {
		u.RawQuery += "&" + params
	}
	return u.String(), nil
}
