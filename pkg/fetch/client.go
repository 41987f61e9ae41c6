// Package fetch reads model and texture bytes from HTTP servers or the local
// filesystem and loads texture catalogs.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultUserAgent = "roomview/1.0"
	defaultTimeout   = 60 * time.Second

	// DefaultMaxBytes caps a single payload.
	DefaultMaxBytes = 256 << 20
)

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// ErrTooLarge is returned when a payload exceeds the configured limit.
var ErrTooLarge = errors.New("payload too large")

// Client fetches binary assets. The zero value is not usable; use NewClient.
type Client struct {
	http      *http.Client
	userAgent string
	maxBytes  int64
	log       *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithMaxBytes caps payload sizes.
func WithMaxBytes(n int64) Option {
	return func(c *Client) { c.maxBytes = n }
}

// WithLogger sets the request logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a client with a 60s timeout.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:      &http.Client{Timeout: defaultTimeout},
		userAgent: defaultUserAgent,
		maxBytes:  DefaultMaxBytes,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// Fetch returns the bytes at rawURL without credentials.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return c.FetchBinaryAsset(ctx, rawURL, "")
}

// FetchBinaryAsset returns the bytes at rawURL. http(s) requests carry
// authToken as a bearer token when it is set; file:// URLs and bare paths
// are read from disk.
func (c *Client) FetchBinaryAsset(ctx context.Context, rawURL, authToken string) ([]byte, error) {
	if rawURL == "" {
		return nil, errors.New("fetch: empty url")
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Bare path, including Windows drive letters
		return c.readFile(ctx, rawURL)
	}
	switch u.Scheme {
	case "file":
		return c.readFile(ctx, u.Path)
	case "http", "https":
		return c.get(ctx, rawURL, authToken)
	default:
		return nil, fmt.Errorf("fetch %s: unsupported scheme %q", rawURL, u.Scheme)
	}
}

func (c *Client) get(ctx context.Context, rawURL, authToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	data, err := c.readAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	c.log.Debug("fetched",
		zap.String("url", rawURL),
		zap.Int("bytes", len(data)),
		zap.Duration("took", time.Since(start)),
	)
	return data, nil
}

func (c *Client) readFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer f.Close()
	data, err := c.readAll(f)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	return data, nil
}

func (c *Client) readAll(r io.Reader) ([]byte, error) {
	if c.maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, c.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > c.maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}
