// Package httpclient is the HTTP transport shared by the repository and
// registrar clients: request timeouts, a capped redirect policy, a scheme
// allow-list, and classification of failures into mintdoi error kinds.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/teranos/mintdoi/errors"
)

// DefaultUserAgent is sent on every request unless overridden
const DefaultUserAgent = "mintdoi/1.0 (+batch DOI registration)"

// maxErrorBody bounds how much of an error response is kept in the error message
const maxErrorBody = 2048

// Options configures a Client
type Options struct {
	Timeout        time.Duration
	MaxRedirects   *int     // Default: 5
	AllowedSchemes []string // Default: ["http", "https"]
	UserAgent      string
	Transport      http.RoundTripper // nil = http.DefaultTransport
}

// Client wraps http.Client with URL validation and error classification
type Client struct {
	*http.Client
	allowedSchemes []string
	maxRedirects   int
	userAgent      string
}

// New creates a Client
func New(opts Options) *Client {
	maxRedirects := 5
	if opts.MaxRedirects != nil {
		maxRedirects = *opts.MaxRedirects
	}

	allowedSchemes := []string{"http", "https"}
	if opts.AllowedSchemes != nil {
		allowedSchemes = opts.AllowedSchemes
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	client := &Client{
		Client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: opts.Transport,
		},
		allowedSchemes: allowedSchemes,
		maxRedirects:   maxRedirects,
		userAgent:      userAgent,
	}

	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= client.maxRedirects {
			return errors.Newf("stopped after %d redirects", client.maxRedirects)
		}
		if err := client.validateURL(req.URL); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		// Never forward credentials to another host
		if req.URL.Host != via[0].URL.Host {
			req.Header.Del("Authorization")
			req.Header.Del("Cookie")
		}
		return nil
	}

	return client
}

// validateURL checks scheme and host before a request leaves the process
func (c *Client) validateURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	allowed := false
	for _, s := range c.allowedSchemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.Newf("scheme %q not allowed (allowed: %v)", scheme, c.allowedSchemes)
	}
	if u.Hostname() == "" {
		return errors.New("URL missing hostname")
	}
	return nil
}

// ValidateURL validates a URL string before creating a request
func (c *Client) ValidateURL(urlStr string) (*url.URL, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.validateURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Do executes req. Transport failures are marked ErrTransientNetwork unless
// the request context was cancelled, in which case the context error is
// returned so callers stop instead of retrying.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.validateURL(req.URL); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "request blocked"), errors.ErrInvalidRequest)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, errors.Wrapf(ctxErr, "%s %s", req.Method, req.URL.Path)
		}
		return nil, errors.Mark(errors.Wrapf(err, "%s %s", req.Method, req.URL.Path), errors.ErrTransientNetwork)
	}
	return resp, nil
}

// StatusError is a non-2xx response. It is always returned marked with the
// error kind for its status code.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
	RetryAfter time.Duration // from Retry-After on 429/503, 0 if absent
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// KindForStatus maps an HTTP status code to the error kind it represents
func KindForStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errors.ErrAuth
	case code == http.StatusNotFound || code == http.StatusGone:
		return errors.ErrNotFound
	case code == http.StatusConflict:
		return errors.ErrConflict
	case code == http.StatusTooManyRequests:
		return errors.ErrRateLimited
	case code >= 500:
		return errors.ErrServiceUnavailable
	default:
		return errors.ErrInvalidRequest
	}
}

// CheckResponse returns nil for 2xx responses. For anything else it drains up
// to maxErrorBody bytes of the body into a StatusError marked with the status
// kind. The caller still owns closing resp.Body.
func CheckResponse(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	serr := &StatusError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
	return errors.Mark(errors.WithStack(serr), KindForStatus(resp.StatusCode))
}

// RetryAfter returns the server-requested delay carried by err, if any
func RetryAfter(err error) (time.Duration, bool) {
	var serr *StatusError
	if errors.As(err, &serr) && serr.RetryAfter > 0 {
		return serr.RetryAfter, true
	}
	return 0, false
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var serr *StatusError
	if errors.As(err, &serr) {
		return serr.StatusCode
	}
	return 0
}

// parseRetryAfter accepts both delta-seconds and HTTP-date forms
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// NewRequest builds a request bound to ctx, marking construction failures as invalid requests
func NewRequest(ctx context.Context, method, urlStr string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "build %s %s", method, urlStr), errors.ErrInvalidRequest)
	}
	return req, nil
}
