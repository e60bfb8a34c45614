// Package poodll talks to the Cloud Poodll vendor backend: token
// exchange, site registration checks, payload construction and response
// normalization.
package poodll

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
	"unicode/utf8"

	perrors "github.com/alexjbarnes/cloudpoodll-imagegen/internal/errors"
	"golang.org/x/time/rate"
)

// TransientError wraps an error that is likely temporary. Requests are
// never retried here; callers use FailureLevel to pick a log level.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// FailureLevel returns the level to log err at: Warn for transient
// errors, Error for everything else.
func FailureLevel(err error) slog.Level {
	if IsTransient(err) {
		return slog.LevelWarn
	}

	return slog.LevelError
}

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// DefaultTimeout bounds every vendor request when no custom
	// client is provided.
	DefaultTimeout = 60 * time.Second

	// maxResponseBytes caps response body reads. Image downloads and
	// inline base64 payloads are a few megabytes at most.
	maxResponseBytes = 32 * 1024 * 1024
)

// Client performs form POSTs and GETs against the vendor backend and
// image URLs it hands back.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithRateLimit caps outbound requests per second. Zero or less
// disables limiting.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = nil
			return
		}

		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout. Zero leaves the current value.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so the bearer token in a query
// string never reaches a third-party domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates a vendor client with the given http.Client.
// If httpClient is nil, a client with DefaultTimeout and a same-host
// redirect policy is created.
func NewClient(httpClient *http.Client, opts ...ClientOption) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       DefaultTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	c := &Client{httpClient: httpClient}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// PostForm sends values as an application/x-www-form-urlencoded POST
// and returns the raw response body.
func (c *Client) PostForm(ctx context.Context, endpoint string, values url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req)
}

// Get fetches url and returns the raw response body.
func (c *Client) Get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	// Only scheme and host go into errors; the query may carry a token.
	target := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("sending request to %s: %w: %w", target, perrors.ErrUpstreamUnavailable, stripURL(err))}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w: %w", target, perrors.ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%s returned status %d: %w: %s", target, resp.StatusCode, perrors.ErrUpstreamUnavailable, sanitizeResponseBody(body))
		if isTransientStatus(resp.StatusCode) {
			return nil, &TransientError{Err: err}
		}

		return nil, err
	}

	return body, nil
}

// stripURL drops the *url.Error wrapper, whose message repeats the full
// request URL including any query string.
func stripURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err
	}

	return err
}

func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}
