// Package device talks to the ESP32 irrigation controller.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotConfigured is returned when no controller address is set.
var ErrNotConfigured = errors.New("device address not configured")

// Controller endpoints.
const (
	StatusPath     = "/status"
	WaterStartPath = "/water/start"
)

// Response is a controller reply passed through unmodified.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Client forwards requests to the controller. Requests are never retried.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every controller request. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New creates a client for the controller at addr. addr may be a bare host
// such as "192.168.1.40"; http is assumed when no scheme is given. An empty
// addr yields a client whose calls fail with ErrNotConfigured.
func New(addr string, opts ...Option) (*Client, error) {
	c := &Client{
		http:   &http.Client{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	addr = strings.TrimSpace(addr)
	if addr == "" {
		return c, nil
	}
	base, err := ParseAddr(addr)
	if err != nil {
		return nil, err
	}
	c.base = base
	return c, nil
}

// ParseAddr normalizes a controller address into a base URL.
func ParseAddr(addr string) (*url.URL, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid device address %q: %w", addr, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid device address %q: missing host", addr)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u, nil
}

// BaseURL returns the controller base URL, empty when unset.
func (c *Client) BaseURL() string {
	if c.base == nil {
		return ""
	}
	return c.base.String()
}

// Status fetches the controller status document.
func (c *Client) Status(ctx context.Context) (*Response, error) {
	return c.do(ctx, http.MethodGet, StatusPath)
}

// StartWatering asks the controller to start a manual watering cycle.
func (c *Client) StartWatering(ctx context.Context) (*Response, error) {
	return c.do(ctx, http.MethodPost, WaterStartPath)
}

func (c *Client) do(ctx context.Context, method, path string) (*Response, error) {
	if c.base == nil {
		return nil, ErrNotConfigured
	}

	target := *c.base
	target.Path = c.base.Path + path

	req, err := http.NewRequestWithContext(ctx, method, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create device request: %w", err)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("Device request failed", "method", method, "url", target.String(), "error", err)
		return nil, fmt.Errorf("device request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read device response: %w", err)
	}

	c.logger.Debug("Device request completed",
		"method", method,
		"url", target.String(),
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration", time.Since(start),
	)

	return &Response{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
