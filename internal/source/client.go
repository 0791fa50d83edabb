// Package source talks to the TeamGantt REST API: authenticated, rate
// limited and retried GETs, envelope decoding and pagination.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/johndauphine/tg-migrate/internal/logging"
	"github.com/johndauphine/tg-migrate/internal/metrics"
	"github.com/johndauphine/tg-migrate/internal/ratelimit"
	"github.com/johndauphine/tg-migrate/internal/retry"
)

const defaultRetryAfter = 60 * time.Second

// Options configures a Client.
type Options struct {
	BaseURL         string
	Tokens          oauth2.TokenSource
	Limiter         *ratelimit.Limiter
	Retry           retry.Options
	RequestTimeout  time.Duration
	DownloadTimeout time.Duration
	HTTPClient      *http.Client
	Metrics         *metrics.Collector
}

// Client performs GET requests against the source API. Every request holds
// a limiter slot for its duration.
type Client struct {
	baseURL         *url.URL
	tokens          oauth2.TokenSource
	limiter         *ratelimit.Limiter
	retry           retry.Options
	requestTimeout  time.Duration
	downloadTimeout time.Duration
	httpClient      *http.Client
	metrics         *metrics.Collector
}

// NewClient creates a client. Tokens and BaseURL are required.
func NewClient(opts Options) (*Client, error) {
	if opts.Tokens == nil {
		return nil, fmt.Errorf("source client: token source is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/") + "/")
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("source client: invalid base URL %q", opts.BaseURL)
	}

	c := &Client{
		baseURL:         base,
		tokens:          opts.Tokens,
		limiter:         opts.Limiter,
		retry:           opts.Retry,
		requestTimeout:  opts.RequestTimeout,
		downloadTimeout: opts.DownloadTimeout,
		httpClient:      opts.HTTPClient,
		metrics:         opts.Metrics,
	}
	if c.limiter == nil {
		c.limiter = ratelimit.New(ratelimit.DefaultMaxConcurrency, ratelimit.DefaultMinGap)
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = 30 * time.Second
	}
	if c.downloadTimeout <= 0 {
		c.downloadTimeout = 120 * time.Second
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	onRetry := c.retry.OnRetry
	c.retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.metrics.IncRetry()
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}
	return c, nil
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// Get issues GET path with params and returns the raw body. Transport
// failures and timeouts are retried. A 429 releases the slot, pauses this
// caller for Retry-After and re-issues the request. Other non-2xx statuses
// return *APIError.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	target := c.buildURL(path, params)

	for {
		if err := c.limiter.Acquire(ctx); err != nil {
			return nil, err
		}

		var resp response
		err := retry.Do(ctx, c.retry, "GET "+path, func(ctx context.Context) error {
			r, err := c.attempt(ctx, target)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if err != nil {
			c.limiter.Release()
			return nil, err
		}

		if resp.status == http.StatusTooManyRequests {
			c.limiter.Release()
			c.metrics.IncRateLimited()
			wait := retryAfter(resp.header.Get("Retry-After"))
			logging.Warn("Rate limited on %s, waiting %v", path, wait)
			if err := c.limiter.PauseFor(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}
		c.limiter.Release()

		if resp.status < 200 || resp.status > 299 {
			return nil, &APIError{StatusCode: resp.status, Endpoint: path, Body: string(resp.body)}
		}
		logging.Debug("GET %s -> %d", path, resp.status)
		return json.RawMessage(resp.body), nil
	}
}

// attempt performs one request under the request timeout and reads the
// whole body.
func (c *Client) attempt(ctx context.Context, target string) (response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	start := time.Now()
	req, err := c.newRequest(ctx, target)
	if err != nil {
		return response{}, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(0, time.Since(start))
		return response{}, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		c.metrics.ObserveRequest(0, time.Since(start))
		return response{}, fmt.Errorf("reading response body: %w", err)
	}
	c.metrics.ObserveRequest(res.StatusCode, time.Since(start))
	return response{status: res.StatusCode, header: res.Header, body: body}, nil
}

// Stream opens rawURL for download under the download timeout. The returned
// reader holds a limiter slot until it is closed. Downloads are not retried.
func (c *Client) Stream(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	fail := func(err error) (io.ReadCloser, error) {
		cancel()
		c.limiter.Release()
		return nil, err
	}

	start := time.Now()
	req, err := c.newRequest(ctx, c.resolve(rawURL))
	if err != nil {
		return fail(err)
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(0, time.Since(start))
		return fail(err)
	}
	c.metrics.ObserveRequest(res.StatusCode, time.Since(start))
	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		res.Body.Close()
		return fail(&APIError{StatusCode: res.StatusCode, Endpoint: rawURL, Body: string(body)})
	}

	return &streamBody{ReadCloser: res.Body, release: func() {
		cancel()
		c.limiter.Release()
	}}, nil
}

func (c *Client) newRequest(ctx context.Context, target string) (*http.Request, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) buildURL(path string, params url.Values) string {
	u := c.baseURL.ResolveReference(&url.URL{Path: strings.TrimPrefix(path, "/")})
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String()
}

// resolve turns a relative download path into an absolute URL.
func (c *Client) resolve(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.IsAbs() {
		return raw
	}
	return c.buildURL(raw, nil)
}

// retryAfter parses a Retry-After header in seconds.
func retryAfter(v string) time.Duration {
	if v == "" {
		return defaultRetryAfter
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return defaultRetryAfter
	}
	return time.Duration(n) * time.Second
}

type streamBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (s *streamBody) Close() error {
	err := s.ReadCloser.Close()
	s.once.Do(s.release)
	return err
}
