package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/bitrise-io/go-media-upload/uploaderr"
	"github.com/bitrise-io/go-utils/v2/log"
)

// SASStore writes block blobs through capability scoped write URLs.
type SASStore struct {
	httpClient *http.Client
	logger     log.Logger
}

// NewSASStore creates a store using the given client; nil selects DefaultHTTPClient.
func NewSASStore(httpClient *http.Client, logger log.Logger) *SASStore {
	if httpClient == nil {
		httpClient = DefaultHTTPClient()
	}
	return &SASStore{httpClient: httpClient, logger: logger}
}

// Open implements Store. Block blobs need no setup call.
func (s *SASStore) Open(_ context.Context, destination string, _ int) (Target, error) {
	if _, err := url.Parse(destination); err != nil {
		return nil, fmt.Errorf("parse write URL: %w", err)
	}
	return &sasTarget{writeURL: destination, store: s}, nil
}

// CloseIdleConnections closes idle connections in the HTTP client.
func (s *SASStore) CloseIdleConnections() {
	s.httpClient.CloseIdleConnections()
}

type sasTarget struct {
	writeURL string
	store    *SASStore
}

func (t *sasTarget) PutBlock(ctx context.Context, block BlockDescriptor, body []byte) error {
	target, err := withOperation(t.writeURL, "comp=block&blockid="+url.QueryEscape(block.ID))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("x-ms-blob-type", "BlockBlob")
	req.ContentLength = int64(len(body))

	return t.do(req, fmt.Sprintf("put block %d", block.Index), uploaderr.KindUnexpectedStatus)
}

func (t *sasTarget) Commit(ctx context.Context, manifest Manifest) error {
	body, err := manifest.BlockListXML()
	if err != nil {
		return fmt.Errorf("encode block list: %w", err)
	}

	target, err := withOperation(t.writeURL, "comp=blocklist")
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/xml")
	req.ContentLength = int64(len(body))

	if dump, err := httputil.DumpRequest(req, true); err == nil {
		t.store.logger.Debugf("Commit request dump: %s", string(dump))
	}

	return t.do(req, "commit block list", uploaderr.KindCommitRejected)
}

// Abort is a no-op: uncommitted blocks are garbage collected by the store.
func (t *sasTarget) Abort(context.Context) error {
	return nil
}

func (t *sasTarget) Location() string {
	return StripToken(t.writeURL)
}

func (t *sasTarget) do(req *http.Request, op string, rejection uploaderr.Kind) error {
	resp, err := t.store.httpClient.Do(req)
	if err != nil {
		return uploaderr.Classify(op, err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			t.store.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		errorBody := make([]byte, 1024)
		n, _ := io.ReadAtLeast(resp.Body, errorBody, 1)
		return uploaderr.Status(rejection, op, resp.StatusCode, string(errorBody[:n]))
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
