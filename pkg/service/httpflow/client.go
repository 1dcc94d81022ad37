// Package httpflow performs all outbound provider HTTP traffic: credential
// attachment, bounded timeouts, transient-failure retries and sanitized
// request/response logging. Rate limiting is not handled here; a 429 is
// returned to the caller, which owns the deferred re-enqueue.
package httpflow

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/utils/logging"
	"github.com/cronxco/tapestry/pkg/utils/safe"
)

const (
	connectTimeout = 10 * time.Second
	totalTimeout   = 25 * time.Second

	transientRetries = 2
	retryBackoff     = 2 * time.Second
)

// Client performs authenticated calls against one provider on behalf of one
// integration
type Client struct {
	http          *http.Client
	baseURL       string
	authScheme    types.AuthScheme
	token         string
	service       types.Service
	integrationID types.IntegrationID
	archive       *Archive
}

var (
	_ interfaces.ProviderClient = &Client{}
	_ interfaces.FormPoster     = &Client{}
)

type Option func(*Client)

// WithArchive stores full raw response payloads in the given archive
func WithArchive(archive *Archive) Option {
	return func(c *Client) {
		c.archive = archive
	}
}

// WithTransport overrides the underlying transport, used by tests
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.http.Transport = rt
	}
}

// New builds a client for one provider. The token is the already-validated
// credential; callers refresh before constructing.
func New(baseURL string, scheme types.AuthScheme, token string, service types.Service, integrationID types.IntegrationID, opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Timeout: totalTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: connectTimeout,
				}).DialContext,
			},
		},
		baseURL:       strings.TrimRight(baseURL, "/"),
		authScheme:    scheme,
		token:         token,
		service:       service,
		integrationID: integrationID,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Do performs one call. The request is retried on network-level failures
// only; any HTTP status, 429 included, is returned to the caller.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body any) (*model.ProviderResponse, error) {
	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to encode request body")
		}
		payload = encoded
	}

	logger := logging.From(ctx)
	logger.Debug("provider request",
		"service", c.service,
		"integration_id", c.integrationID,
		"method", method,
		"endpoint", endpoint,
		"body", SanitizeBody(payload),
	)

	var lastErr error
	for attempt := 0; attempt <= transientRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, goerr.Wrap(ctx.Err(), "request cancelled during retry backoff")
			case <-time.After(retryBackoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to build request", goerr.V("endpoint", endpoint))
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		c.attachAuth(req)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			logger.Warn("provider request failed, will retry",
				"service", c.service,
				"endpoint", endpoint,
				"attempt", attempt+1,
				"error", err.Error(),
			)
			continue
		}

		return c.readResponse(ctx, resp, method, endpoint)
	}

	return nil, goerr.Wrap(lastErr, "provider request failed after retries",
		goerr.V("endpoint", endpoint), goerr.V("retries", transientRetries))
}

// PostForm performs an unauthenticated form-encoded post, used for OAuth
// token exchanges. The form is logged with credential fields redacted.
func (c *Client) PostForm(ctx context.Context, rawURL string, form url.Values) (*model.ProviderResponse, error) {
	logger := logging.From(ctx)
	logger.Debug("token exchange request",
		"service", c.service,
		"endpoint", rawURL,
		"form", SanitizeForm(form),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build token request", goerr.V("endpoint", rawURL))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "token request failed", goerr.V("endpoint", rawURL))
	}

	return c.readResponse(ctx, resp, http.MethodPost, rawURL)
}

func (c *Client) attachAuth(req *http.Request) {
	switch c.authScheme {
	case types.AuthSchemeAPIKey:
		req.Header.Set("X-Api-Key", c.token)
	default:
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) readResponse(ctx context.Context, resp *http.Response, method, endpoint string) (*model.ProviderResponse, error) {
	defer safe.Close(ctx, resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read response body", goerr.V("endpoint", endpoint))
	}

	logging.From(ctx).Debug("provider response",
		"service", c.service,
		"integration_id", c.integrationID,
		"method", method,
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"headers", SanitizeHeaders(resp.Header),
		"body", SanitizeBody(body),
	)

	if c.archive != nil {
		c.archive.Put(ctx, c.service, c.integrationID, body)
	}

	return &model.ProviderResponse{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}, nil
}

// RetryAfter reads the throttle delay from a 429 response, falling back to
// the provider default when the header is absent or unparseable
func RetryAfter(resp *model.ProviderResponse, fallback time.Duration) time.Duration {
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return fallback
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}

	return fallback
}
