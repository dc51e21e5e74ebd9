// Package bitrix implements the CRM webhook REST client used by the
// reconciliation pipeline: paged company listing, field metadata, and the
// multi-command batch endpoint that lets callers exceed the fixed page size.
package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client talks to a single CRM webhook. All methods are safe for
// concurrent use; calls share one rate limiter so concurrent batch
// fan-out stays within the webhook's request budget.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	maxRetries int
}

// Option configures the Client.
type Option func(*Client)

// WithRateLimit caps outbound requests per second. A burst equal to the
// integer portion of rps is allowed.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a Client for the given webhook base URL
// (e.g. "https://portal.example/rest/123/token/").
func New(webhookURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(webhookURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, eris.Errorf("bitrix: invalid webhook url %q", webhookURL)
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:    strings.TrimSuffix(webhookURL, "/") + "/",
		limiter:    rate.NewLimiter(2, 2),
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// apiError is the top-level error shape the webhook returns in place of a
// result.
type apiError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e apiError) isSet() bool { return e.Code != "" || e.Description != "" }

// call POSTs body (or GETs when body is nil) to the named method and
// decodes the response into out. Retries on transport errors, 429 and 5xx
// with exponential backoff and jitter.
func (c *Client) call(ctx context.Context, method string, body any, out any) error {
	endpoint := c.baseURL + method + ".json"

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return eris.Wrapf(err, "bitrix: marshal %s request", method)
		}
	}

	var lastErr error
	for attempt := range c.maxRetries {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "bitrix: rate limiter wait")
		}

		req, err := c.newRequest(ctx, endpoint, payload)
		if err != nil {
			return err
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			zap.L().Warn("bitrix request failed, retrying",
				zap.String("method", method),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			c.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("bitrix: http %d from %s", resp.StatusCode, method)
			zap.L().Warn("bitrix upstream busy, retrying",
				zap.String("method", method),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			c.backoff(ctx, attempt)
			continue
		}

		return c.decode(resp, method, out)
	}

	return eris.Wrapf(lastErr, "bitrix: %s retries exhausted", method)
}

func (c *Client) newRequest(ctx context.Context, endpoint string, payload []byte) (*http.Request, error) {
	if payload == nil {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, eris.Wrap(err, "bitrix: create request")
		}
		return req, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "bitrix: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) decode(resp *http.Response, method string, out any) error {
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrapf(err, "bitrix: read %s response", method)
	}
	if resp.StatusCode != http.StatusOK {
		return eris.Errorf("bitrix: unexpected status %d from %s", resp.StatusCode, method)
	}

	var apiErr apiError
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.isSet() {
		return eris.Errorf("bitrix: %s: %s (%s)", method, apiErr.Description, apiErr.Code)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return eris.Wrapf(err, "bitrix: decode %s response", method)
	}
	return nil
}

func (c *Client) backoff(ctx context.Context, attempt int) {
	base := 500 * time.Millisecond
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	d += time.Duration(rand.Int64N(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
