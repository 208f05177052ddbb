// Package upstream talks to the Edamam recipe search API. It performs the
// HTTP exchange and hands the raw outcome back; classifying statuses into
// search errors is the governor's job.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/l0p7/recipectl/internal/recipe"
)

const (
	DefaultBaseURL = "https://api.edamam.com/api/recipes/v2"
	maxBodyBytes   = 16 << 20
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Config carries the provider endpoint and credentials.
type Config struct {
	BaseURL string
	AppID   string
	AppKey  string
	// Timeout bounds one request. Zero defers to the transport.
	Timeout time.Duration
}

// Response is the raw outcome of a request that reached the provider.
type Response struct {
	Status     int
	Header     http.Header
	Body       []byte
	RetryAfter time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// TransportError wraps failures where no response was received.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "upstream: transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

type Client struct {
	doer HTTPDoer

	mu  sync.RWMutex
	cfg Config
}

func New(cfg Config, doer HTTPDoer) (*Client, error) {
	if doer == nil {
		doer = http.DefaultClient
	}
	normalized, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Client{doer: doer, cfg: normalized}, nil
}

// Reload swaps the endpoint and credentials for subsequent requests.
func (c *Client) Reload(cfg Config) error {
	normalized, err := normalizeConfig(cfg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg = normalized
	c.mu.Unlock()
	return nil
}

// Config returns the active configuration.
func (c *Client) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// BuildURL renders the search URL for query and filters.
func (c *Client) BuildURL(query string, filters recipe.FilterSet) string {
	cfg := c.Config()
	values := url.Values{}
	values.Set("type", "public")
	values.Set("q", strings.TrimSpace(query))
	values.Set("app_id", cfg.AppID)
	values.Set("app_key", cfg.AppKey)
	filters.Encode(values)
	return cfg.BaseURL + "?" + values.Encode()
}

// Search issues one GET against the provider. A non-nil error means no
// response was received and is always a *TransportError.
func (c *Client) Search(ctx context.Context, query string, filters recipe.FilterSet) (*Response, error) {
	cfg := c.Config()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BuildURL(query, filters), http.NoBody)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	closeErr := resp.Body.Close()
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read body: %w", err)}
	}
	if closeErr != nil {
		return nil, &TransportError{Err: fmt.Errorf("close body: %w", closeErr)}
	}

	return &Response{
		Status:     resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}, nil
}

func normalizeConfig(cfg Config) (Config, error) {
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return Config{}, fmt.Errorf("upstream: base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Config{}, fmt.Errorf("upstream: base url scheme %q unsupported", parsed.Scheme)
	}
	if parsed.RawQuery != "" {
		return Config{}, errors.New("upstream: base url must not carry a query string")
	}
	if cfg.Timeout < 0 {
		return Config{}, fmt.Errorf("upstream: timeout invalid: %s", cfg.Timeout)
	}
	cfg.AppID = strings.TrimSpace(cfg.AppID)
	cfg.AppKey = strings.TrimSpace(cfg.AppKey)
	return cfg, nil
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if wait := at.Sub(now); wait > 0 {
			return wait
		}
	}
	return 0
}
