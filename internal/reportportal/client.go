// Package reportportal implements the HTTP client for the ReportPortal
// REST API: paginated listings for every synced entity kind, bearer
// authentication, a request-rate gate, and retry with exponential
// backoff on transient network failures.
package reportportal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rpinsight/rpinsight/internal/entity"
	"github.com/rpinsight/rpinsight/internal/log"
)

// Config configures the API client.
type Config struct {
	BaseURL    string        // e.g. https://rp.example.com/api
	Token      string        // bearer API token
	Timeout    time.Duration // per-request timeout
	RateLimit  int           // max requests per second
	MaxRetries int           // retries on transient network errors
}

func (c *Config) validate() error {
	if c.BaseURL == "" {
		return errors.New("base URL is required")
	}
	if c.Token == "" {
		return errors.New("API token is required")
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return nil
}

// Client talks to one ReportPortal instance. Safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	logger     log.Logger
}

// NewClient creates an API client from cfg.
func NewClient(cfg Config, logger log.Logger) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("reportportal client config: %w", err)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	return &Client{
		baseURL:    base,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit),
		maxRetries: cfg.MaxRetries,
		logger:     logger,
	}, nil
}

// Projects lists all projects visible to the token.
func (c *Client) Projects(ctx context.Context, page PageRequest) (*Page, error) {
	return c.page(ctx, "/v1/project/list", page, nil)
}

// Users lists all instance users.
func (c *Client) Users(ctx context.Context, page PageRequest) (*Page, error) {
	return c.page(ctx, "/users/all", page, nil)
}

// Launches lists launches in a project, newest first. Additional
// upstream filters (e.g. filter.gte.startTime) may be passed through.
func (c *Client) Launches(ctx context.Context, project string, page PageRequest, filters map[string]string) (*Page, error) {
	params := url.Values{}
	params.Set("page.sort", "startTime,desc")
	for k, v := range filters {
		params.Set(k, v)
	}
	return c.page(ctx, "/v1/"+url.PathEscape(project)+"/launch", page, params)
}

// TestItems lists the test items of one launch.
func (c *Client) TestItems(ctx context.Context, project, launchID string, page PageRequest) (*Page, error) {
	params := url.Values{}
	params.Set("filter.eq.launchId", launchID)
	return c.page(ctx, "/v1/"+url.PathEscape(project)+"/item", page, params)
}

// Logs lists the log entries of one test item.
func (c *Client) Logs(ctx context.Context, project, itemID string, page PageRequest) (*Page, error) {
	params := url.Values{}
	params.Set("filter.eq.item", itemID)
	return c.page(ctx, "/v1/"+url.PathEscape(project)+"/log", page, params)
}

// Filters lists the saved filters of a project.
func (c *Client) Filters(ctx context.Context, project string, page PageRequest) (*Page, error) {
	return c.page(ctx, "/v1/"+url.PathEscape(project)+"/filter", page, nil)
}

// Dashboards lists the dashboards of a project.
func (c *Client) Dashboards(ctx context.Context, project string, page PageRequest) (*Page, error) {
	return c.page(ctx, "/v1/"+url.PathEscape(project)+"/dashboard", page, nil)
}

// Widget fetches one dashboard widget with its content.
func (c *Client) Widget(ctx context.Context, project, widgetID string) (entity.Record, error) {
	body, err := c.get(ctx, "/v1/"+url.PathEscape(project)+"/widget/"+url.PathEscape(widgetID), nil)
	if err != nil {
		return nil, err
	}
	var rec entity.Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("decoding widget response: %w", err)
	}
	return rec, nil
}

// page fetches one page of a listing endpoint.
func (c *Client) page(ctx context.Context, path string, page PageRequest, params url.Values) (*Page, error) {
	if params == nil {
		params = url.Values{}
	}
	// Upstream pages are 1-based; ours are 0-based.
	params.Set("page.page", strconv.Itoa(page.Number+1))
	params.Set("page.size", strconv.Itoa(page.Size))

	body, err := c.get(ctx, path, params)
	if err != nil {
		return nil, err
	}

	var resp pageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding page response: %w", err)
	}
	return &Page{
		Items:  resp.Content,
		Total:  resp.TotalElements,
		Number: page.Number,
		Size:   page.Size,
	}, nil
}

// get performs an authenticated GET with rate limiting and retry.
// Only network-level failures are retried; HTTP error statuses are
// mapped to errors immediately.
func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if params != nil {
		u.RawQuery = params.Encode()
	}

	var lastErr error
	delay := 500 * time.Millisecond

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		// Rate limit each attempt, retries included
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		body, err := c.do(ctx, u.String())
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !retryableError(err) {
			return nil, err
		}
		if attempt == c.maxRetries {
			break
		}

		c.logger.Debug("retrying request after transient error",
			"path", path,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, 10*time.Second)
		}
	}

	return nil, fmt.Errorf("request to %s after %d retries: %w", path, c.maxRetries, lastErr)
}

func (c *Client) do(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrAuthentication
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode >= 400:
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}

	return body, nil
}

// retryableError reports whether err is a transient network failure.
// HTTP-level errors (auth, throttle, APIError) are never retried here.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthentication) || errors.Is(err, ErrRateLimited) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// http.Client wraps transport errors in *url.Error
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
