// Package repository talks to a DSpace / Open Repository REST API: reading
// item metadata and writing a minted DOI back onto the item.
package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/teranos/mintdoi/errors"
	"github.com/teranos/mintdoi/internal/httpclient"
	"github.com/teranos/mintdoi/logger"
	"github.com/teranos/mintdoi/retry"
	"github.com/teranos/mintdoi/transform"
)

// DSpace REST paths and header/cookie names
const (
	itemsPath = "/server/api/core/items/"
	loginPath = "/server/api/authn/login"
	csrfPath  = "/server/api/security/csrf"
	rootPath  = "/server/api"

	XSRFHeader       = "X-XSRF-TOKEN"
	XSRFTokenHeader  = "DSPACE-XSRF-TOKEN"
	XSRFCookieName   = "DSPACE-XSRF-COOKIE"
	AuthInfoCookie   = "dsAuthInfo"
	identifierPath   = "/metadata/" + transform.FieldDOI
	jsonContentType  = "application/json"
	formContentType  = "application/x-www-form-urlencoded"
	sessionCacheTidy = 10 * time.Minute
)

// Options configures a Client
type Options struct {
	Endpoint   string
	User       string
	Password   string
	XSRFCookie string
	XSRFToken  string
	Timeout    time.Duration
	// LoginPolicy retries transient login failures; defaults to 3 attempts
	LoginPolicy *retry.Policy
	// Transport overrides the HTTP transport (tests)
	Transport http.RoundTripper
}

// Client is a repository REST client. Safe for concurrent use.
type Client struct {
	endpoint string
	user     string
	password string
	http     *httpclient.Client
	policy   retry.Policy
	logger   *zap.SugaredLogger
	now      func() time.Time

	sessions *gocache.Cache
	loginMu  sync.Mutex

	mu         sync.RWMutex
	xsrfCookie string
	xsrfToken  string
}

// New creates a Client for opts.Endpoint
func New(opts Options) (*Client, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/")
	hc := httpclient.New(httpclient.Options{Timeout: opts.Timeout, Transport: opts.Transport})
	if _, err := hc.ValidateURL(endpoint); err != nil {
		return nil, errors.WithDetail(
			errors.NewConfigError("repository endpoint %q is not an absolute http(s) URL", opts.Endpoint),
			err.Error())
	}

	policy := retry.DefaultPolicy(3)
	if opts.LoginPolicy != nil {
		policy = *opts.LoginPolicy
	}

	return &Client{
		endpoint:   endpoint,
		user:       opts.User,
		password:   opts.Password,
		http:       hc,
		policy:     policy,
		logger:     logger.ComponentLogger("repository"),
		now:        time.Now,
		sessions:   gocache.New(DefaultSessionTTL, sessionCacheTidy),
		xsrfCookie: opts.XSRFCookie,
		xsrfToken:  opts.XSRFToken,
	}, nil
}

// Endpoint returns the normalised repository base URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// HandleBase is the landing-page base for items under a handle prefix
func HandleBase(endpoint, handlePrefix string) string {
	if handlePrefix == "" {
		return ""
	}
	return strings.TrimRight(endpoint, "/") + "/handle/" + strings.Trim(handlePrefix, "/")
}

type itemResponse struct {
	ID       string             `json:"id"`
	Handle   string             `json:"handle"`
	Metadata transform.Metadata `json:"metadata"`
}

// GetRecord fetches the metadata of item id
func (c *Client) GetRecord(ctx context.Context, id string) (transform.Metadata, error) {
	req, err := httpclient.NewRequest(ctx, http.MethodGet, c.endpoint+itemsPath+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", jsonContentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	logger.LoggerFromContext(ctx, c.logger).Debugw("Fetched item", logger.FieldStatus, resp.StatusCode)
	if err := httpclient.CheckResponse(resp, "get item "+id); err != nil {
		return nil, err
	}

	var item itemResponse
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "decode item %s", id), errors.ErrSchema)
	}
	if item.Metadata == nil {
		return nil, errors.NewSchemaError("item %s has no metadata", id)
	}
	return item.Metadata, nil
}

func (c *Client) sessionKey() string {
	return c.endpoint + "|" + c.user
}

// Authenticate returns the bearer value of a live session, logging in when
// no cached session remains valid.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if s, ok := c.cachedSession(); ok {
		return s.Bearer, nil
	}

	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if s, ok := c.cachedSession(); ok {
		return s.Bearer, nil
	}

	if c.user == "" || c.password == "" {
		return "", errors.WithHint(
			errors.Mark(errors.New("repository credentials are not configured"), errors.ErrAuth),
			"set MINT__REPO__USER and MINT__REPO__PASSWORD")
	}

	var session Session
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		session, err = c.login(ctx)
		return err
	}, func(err error, next time.Duration) {
		c.logger.Debugw("Login failed, retrying", logger.FieldError, err, logger.FieldBackoff, next)
	})
	if err != nil {
		return "", errors.Wrap(err, "repository login")
	}

	if ttl := session.TTL(c.now()); ttl > 0 {
		c.sessions.Set(c.sessionKey(), session, ttl)
	}
	c.logger.Infow("Logged in to repository", logger.FieldURL, c.endpoint, "expires_at", session.ExpiresAt)
	return session.Bearer, nil
}

func (c *Client) cachedSession() (Session, bool) {
	v, found := c.sessions.Get(c.sessionKey())
	if !found {
		return Session{}, false
	}
	s, ok := v.(Session)
	return s, ok
}

// Invalidate drops the cached session so the next call logs in again
func (c *Client) Invalidate() {
	c.sessions.Delete(c.sessionKey())
}

func (c *Client) xsrf(ctx context.Context) (cookie, token string, err error) {
	c.mu.RLock()
	cookie, token = c.xsrfCookie, c.xsrfToken
	c.mu.RUnlock()
	if token != "" {
		return cookie, token, nil
	}

	req, err := httpclient.NewRequest(ctx, http.MethodGet, c.endpoint+csrfPath, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if err := httpclient.CheckResponse(resp, "get csrf token"); err != nil {
		return "", "", err
	}

	c.rememberXSRF(resp)
	c.mu.RLock()
	cookie, token = c.xsrfCookie, c.xsrfToken
	c.mu.RUnlock()
	if token == "" {
		return "", "", errors.Mark(errors.Newf("repository sent no %s header", XSRFTokenHeader), errors.ErrAuth)
	}
	return cookie, token, nil
}

// rememberXSRF keeps a rotated XSRF pair from any response
func (c *Client) rememberXSRF(resp *http.Response) {
	token := resp.Header.Get(XSRFTokenHeader)
	var cookie string
	for _, ck := range resp.Cookies() {
		if ck.Name == XSRFCookieName {
			cookie = ck.Value
		}
	}
	if token == "" && cookie == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if token != "" {
		c.xsrfToken = token
		if cookie == "" {
			// DSpace uses the same value for the cookie and the header
			cookie = token
		}
	}
	c.xsrfCookie = cookie
}

func (c *Client) login(ctx context.Context) (Session, error) {
	cookie, token, err := c.xsrf(ctx)
	if err != nil {
		return Session{}, err
	}

	form := url.Values{"user": {c.user}, "password": {c.password}}
	req, err := httpclient.NewRequest(ctx, http.MethodPost, c.endpoint+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return Session{}, err
	}
	req.Header.Set("Content-Type", formContentType)
	req.Header.Set(XSRFHeader, token)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: XSRFCookieName, Value: cookie})
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Session{}, err
	}
	defer resp.Body.Close()
	c.rememberXSRF(resp)

	if err := httpclient.CheckResponse(resp, "login"); err != nil {
		return Session{}, err
	}
	return newSession(resp.Header.Get("Authorization"), c.now())
}

type patchOperation struct {
	Op    string      `json:"op"`
	Path  string      `json:"path"`
	Value interface{} `json:"value"`
}

// PatchIdentifier adds doi to the item's dc.identifier.doi field. A 401 with
// a cached session logs in again once before giving up.
func (c *Client) PatchIdentifier(ctx context.Context, id, doi, bearer string) error {
	err := c.patch(ctx, id, doi, bearer)
	if httpclient.StatusCode(err) != http.StatusUnauthorized {
		return err
	}

	c.logger.Debugw("Session rejected, logging in again", logger.FieldItemID, id)
	c.Invalidate()
	fresh, authErr := c.Authenticate(ctx)
	if authErr != nil {
		return errors.WithSecondaryError(authErr, err)
	}
	return c.patch(ctx, id, doi, fresh)
}

func (c *Client) patch(ctx context.Context, id, doi, bearer string) error {
	cookie, token, err := c.xsrf(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal([]patchOperation{{
		Op:    "add",
		Path:  identifierPath,
		Value: map[string]string{"value": doi},
	}})
	if err != nil {
		return errors.Wrap(err, "encode patch")
	}

	req, err := httpclient.NewRequest(ctx, http.MethodPatch, c.endpoint+itemsPath+url.PathEscape(id), bytes.NewReader(body))
	if err != nil {
		return err
	}
	session := Session{Bearer: bearer}
	authInfo, err := json.Marshal(map[string]string{"accessToken": session.AccessToken()})
	if err != nil {
		return errors.Wrap(err, "encode auth cookie")
	}

	req.Header.Set("Authorization", bearer)
	req.Header.Set("Content-Type", jsonContentType)
	req.Header.Set(XSRFHeader, token)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: XSRFCookieName, Value: cookie})
	}
	req.AddCookie(&http.Cookie{Name: AuthInfoCookie, Value: url.QueryEscape(string(authInfo))})

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.rememberXSRF(resp)

	c.logger.Debugw("Patched item", logger.FieldItemID, id, logger.FieldDOI, doi, logger.FieldStatus, resp.StatusCode)
	return httpclient.CheckResponse(resp, "patch item "+id)
}

// Probe checks that the REST root answers and that login succeeds
func (c *Client) Probe(ctx context.Context) error {
	req, err := httpclient.NewRequest(ctx, http.MethodGet, c.endpoint+rootPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.rememberXSRF(resp)
	if err := httpclient.CheckResponse(resp, "repository root"); err != nil {
		return err
	}

	_, err = c.Authenticate(ctx)
	return err
}
