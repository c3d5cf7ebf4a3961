// Package qbit is a minimal client for the qBittorrent WebUI API v2. It
// covers exactly what the supervisor needs: log in and ask the application
// to shut down.
package qbit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/net/publicsuffix"

	"pkt.systems/abtray/internal/version"
	"pkt.systems/pslog"
)

const (
	loginPath    = "/api/v2/auth/login"
	shutdownPath = "/api/v2/app/shutdown"

	// DefaultTimeout bounds each request to the WebUI.
	DefaultTimeout = 10 * time.Second

	maxBodyBytes = 4 << 10
)

var (
	// ErrAuth reports rejected credentials or an unreachable WebUI at login.
	ErrAuth = errors.New("qbit: authentication failed")
	// ErrCommand reports a failed command dispatch after login.
	ErrCommand = errors.New("qbit: command failed")
)

// Credentials are optional; an empty username sends an empty form.
type Credentials struct {
	Username string
	Password string
}

// Client talks to one qBittorrent WebUI.
type Client struct {
	baseURL    *url.URL
	creds      Credentials
	httpClient *http.Client
	timeout    time.Duration
	logger     pslog.Logger
}

// Option customises client construction.
type Option func(*Client)

// WithHTTPClient supplies a custom HTTP client. Its Jar is replaced when nil.
func WithHTTPClient(cli *http.Client) Option {
	return func(c *Client) {
		if cli != nil {
			c.httpClient = cli
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger supplies a logger. Passing nil falls back to pslog.NoopLogger().
func WithLogger(logger pslog.Logger) Option {
	return func(c *Client) {
		if logger == nil {
			logger = pslog.NoopLogger()
		}
		c.logger = logger
	}
}

// New returns a client for baseURL (for example "http://127.0.0.1:8080").
func New(baseURL string, creds Credentials, opts ...Option) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("qbit: baseURL required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("qbit: parse baseURL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("qbit: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("qbit: baseURL %q has no host", baseURL)
	}
	c := &Client{
		baseURL: u,
		creds:   creds,
		timeout: DefaultTimeout,
		logger:  pslog.NoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if c.httpClient.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("qbit: cookie jar: %w", err)
		}
		c.httpClient.Jar = jar
	}
	return c, nil
}

// BaseURL returns the WebUI root the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Authenticate logs in. The WebUI answers 200 with body "Ok." on success and
// 200 with "Fails." on bad credentials.
func (c *Client) Authenticate(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.creds.Username)
	form.Set("password", c.creds.Password)
	status, body, err := c.post(ctx, loginPath, form)
	if err != nil {
		c.logger.Warn("qbit.login.transport_error", "base_url", c.BaseURL(), "error", err)
		return fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if status != http.StatusOK || strings.TrimSpace(body) != "Ok." {
		c.logger.Warn("qbit.login.rejected", "base_url", c.BaseURL(), "status", status, "body", strings.TrimSpace(body))
		return fmt.Errorf("%w: status %d: %s", ErrAuth, status, strings.TrimSpace(body))
	}
	c.logger.Debug("qbit.login.ok", "base_url", c.BaseURL())
	return nil
}

// RequestShutdown asks qBittorrent to exit cleanly.
func (c *Client) RequestShutdown(ctx context.Context) error {
	status, body, err := c.post(ctx, shutdownPath, nil)
	if err != nil {
		c.logger.Warn("qbit.shutdown.transport_error", "base_url", c.BaseURL(), "error", err)
		return fmt.Errorf("%w: %v", ErrCommand, err)
	}
	if status < 200 || status > 299 {
		c.logger.Warn("qbit.shutdown.rejected", "base_url", c.BaseURL(), "status", status)
		return fmt.Errorf("%w: status %d: %s", ErrCommand, status, strings.TrimSpace(body))
	}
	c.logger.Info("qbit.shutdown.sent", "base_url", c.BaseURL())
	return nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values) (int, string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	endpoint := c.baseURL.JoinPath(path).String()
	var payload io.Reader
	if form != nil {
		payload = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return 0, "", err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	// The WebUI's CSRF check compares Referer/Origin against its own host.
	req.Header.Set("Referer", c.baseURL.String())
	req.Header.Set("User-Agent", version.UserAgent())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(data), nil
}
