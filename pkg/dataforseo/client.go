// Package dataforseo is the upstream API client used by tools.
package dataforseo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/dataforseo/mcp-gateway/pkg/auth"
	"github.com/dataforseo/mcp-gateway/pkg/backoff"
	"github.com/dataforseo/mcp-gateway/pkg/logger"
	"github.com/dataforseo/mcp-gateway/pkg/version"
	"github.com/inngest/go-httpstat"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultBaseURL     = "https://api.dataforseo.com"
	DefaultTimeout     = 180 * time.Second
	DefaultMaxAttempts = 3

	// summarySuffix asks the upstream API for its compact response format.
	summarySuffix = ".ai"

	maxErrorBody = 1024
)

// TimeoutError is returned when the upstream request did not finish within the
// configured timeout, retries included.
type TimeoutError struct {
	After time.Duration
}

func (t TimeoutError) Error() string {
	return fmt.Sprintf(
		"Request timeout after %dms. This may happen with resource-intensive operations like on_page_instant_pages.",
		t.After.Milliseconds(),
	)
}

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (s StatusError) Error() string {
	return fmt.Sprintf("HTTP error! status: %d", s.StatusCode)
}

func (s StatusError) retryable() bool {
	switch s.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

type Config struct {
	BaseURL string
	// FullResponse disables the compact response format for every request.
	FullResponse bool
	Timeout      time.Duration
	MaxAttempts  int
	Backoff      backoff.BackoffFunc
	UserAgent    string
	HTTPClient   *http.Client
	Clock        clockwork.Clock
	Logger       logger.Logger
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Backoff == nil {
		c.Backoff = backoff.ExponentialJitterBackoff(500*time.Millisecond, 5*time.Second)
	}
	if c.UserAgent == "" {
		c.UserAgent = version.UserAgent()
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = logger.VoidLogger()
	}
	return c
}

// Client calls the upstream API with one set of credentials.
type Client struct {
	cfg        Config
	authHeader string
}

func New(creds auth.Credentials, cfg Config) *Client {
	return &Client{
		cfg:        cfg.withDefaults(),
		authHeader: creds.BasicAuth(),
	}
}

// FullResponse reports whether the client always requests full responses.
func (c *Client) FullResponse() bool {
	return c.cfg.FullResponse
}

// URL returns the absolute URL for endpoint.  The compact suffix is appended unless
// full responses are configured or forced for this call.
func (c *Client) URL(endpoint string, forceFull bool) string {
	url := c.cfg.BaseURL + "/" + strings.TrimLeft(endpoint, "/")
	if !c.cfg.FullResponse && !forceFull {
		url += summarySuffix
	}
	return url
}

// Request calls endpoint and returns the raw response body.  Rate limiting, gateway
// errors and transient network failures are retried; the whole call, retries included,
// is bounded by the configured timeout.
func (c *Client) Request(ctx context.Context, method, endpoint string, body any, forceFull bool) (json.RawMessage, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("error marshalling request body: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url := c.URL(endpoint, forceFull)

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			c.cfg.Logger.Debug("retrying upstream request",
				"url", url,
				"attempt", attempt,
				"error", lastErr,
			)
			if err := backoff.Wait(ctx, c.cfg.Clock, c.cfg.Backoff, attempt-1); err != nil {
				return nil, c.contextErr(ctx, lastErr)
			}
		}

		resp, err := c.do(ctx, method, url, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, c.contextErr(ctx, err)
		}
		if !retryable(err) {
			return nil, err
		}
	}

	return nil, lastErr
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) (json.RawMessage, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	tracking := &httpstat.Result{}
	req = req.WithContext(httpstat.WithHTTPStat(req.Context(), tracking))
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
		tracking.End(time.Now())
		c.cfg.Logger.Debug("upstream request",
			"url", url,
			"status", resp.StatusCode,
			"dns", tracking.DNSLookup,
			"connect", tracking.TCPConnection,
			"tls", tracking.TLSHandshake,
			"server_processing", tracking.ServerProcessing,
			"total", tracking.Total,
		)
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		byt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, StatusError{StatusCode: resp.StatusCode, Body: string(byt)}
	}

	byt, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response: %w", err)
	}
	if !json.Valid(byt) {
		return nil, fmt.Errorf("upstream returned invalid JSON")
	}
	return byt, nil
}

func (c *Client) contextErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return TimeoutError{After: c.cfg.Timeout}
	}
	if err == nil {
		return ctx.Err()
	}
	return err
}

func retryable(err error) bool {
	var serr StatusError
	if errors.As(err, &serr) {
		return serr.retryable()
	}

	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}
