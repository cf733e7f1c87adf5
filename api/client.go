// Package api talks to the media backend: write credential exchange and processing finalize.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/bitrise-io/go-media-upload/uploaderr"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// Options configures the backend client.
type Options struct {
	BaseURL        string
	RequestTimeout time.Duration
	// MaxRetries is the total number of attempts for credential requests.
	MaxRetries   int
	RetryWaitMin time.Duration
	// Insecure disables TLS certificate verification, for local debug backends only.
	Insecure bool
}

// Client is the backend API client.
type Client struct {
	httpClient     *retryablehttp.Client
	finalizeClient *retryablehttp.Client
	baseURL        string
	logger         log.Logger
}

// NewClient creates a client. Credential requests retry transport failures;
// finalize is sent exactly once since a repeated request could start a second job.
func NewClient(opts Options, logger log.Logger) *Client {
	attempts := opts.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	return &Client{
		httpClient:     newRetryableClient(opts, attempts-1, logger),
		finalizeClient: newRetryableClient(opts, 0, logger),
		baseURL:        strings.TrimSuffix(opts.BaseURL, "/"),
		logger:         logger,
	}
}

func newRetryableClient(opts Options, retryMax int, logger log.Logger) *retryablehttp.Client {
	client := retryhttp.NewClient(logger)
	client.RetryMax = retryMax
	if opts.RetryWaitMin > 0 {
		client.RetryWaitMin = opts.RetryWaitMin
		if client.RetryWaitMax < opts.RetryWaitMin {
			client.RetryWaitMax = opts.RetryWaitMin
		}
	}
	client.CheckRetry = transportOnlyRetryPolicy(logger)

	httpClient := &http.Client{Timeout: opts.RequestTimeout}
	if opts.Insecure {
		httpClient.Transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
		}
	}
	client.HTTPClient = httpClient

	return client
}

// transportOnlyRetryPolicy retries connection level failures; any answer from the server is final.
func transportOnlyRetryPolicy(logger log.Logger) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		retry := err != nil && uploaderr.IsTransport(err)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v", retry, err)
		return retry, nil
	}
}

// postJSON sends body and returns the response; the caller closes it.
func (c *Client) postJSON(ctx context.Context, client *retryablehttp.Client, path, op string, body interface{}) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Type", "application/json")

	dump, err := httputil.DumpRequest(req.Request, true)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
	}
	c.logger.Debugf("%s request dump: %s", op, string(dump))

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", op, ctx.Err())
		}
		return nil, uploaderr.Classify(op, err)
	}
	return resp, nil
}

func (c *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Printf(err.Error())
	}
}

func (c *Client) dumpResponse(op string, resp *http.Response) {
	dump, err := httputil.DumpResponse(resp, true)
	if err != nil {
		c.logger.Warnf("error while dumping response: %s", err)
	}
	c.logger.Debugf("%s response dump: %s", op, string(dump))
}

func readBody(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(body))
}

// statusOK reports whether the backend accepted the request.
func statusOK(resp *http.Response) bool {
	return resp.StatusCode == http.StatusOK
}
