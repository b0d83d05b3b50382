// Package datacite registers draft DOIs through the DataCite REST API.
package datacite

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/mintdoi/errors"
	"github.com/teranos/mintdoi/internal/httpclient"
	"github.com/teranos/mintdoi/logger"
	"github.com/teranos/mintdoi/transform"
)

// JSONAPIContentType is the media type of DataCite request and response documents
const JSONAPIContentType = "application/vnd.api+json"

const (
	doisPath      = "/dois"
	heartbeatPath = "/heartbeat"
)

// Options configures a Client
type Options struct {
	// API is the DataCite API base, e.g. https://api.test.datacite.org
	API string
	// Token is an Authorization value. A bare credential is sent as Basic.
	Token   string
	Prefix  string
	Timeout time.Duration
	// Transport overrides the HTTP transport (tests)
	Transport http.RoundTripper
}

// Client mints DOIs. Safe for concurrent use.
type Client struct {
	api           string
	authorization string
	prefix        string
	http          *httpclient.Client
	logger        *zap.SugaredLogger
}

// New creates a Client for opts.API
func New(opts Options) (*Client, error) {
	api := strings.TrimRight(strings.TrimSpace(opts.API), "/")
	hc := httpclient.New(httpclient.Options{Timeout: opts.Timeout, Transport: opts.Transport})
	if _, err := hc.ValidateURL(api); err != nil {
		return nil, errors.WithDetail(
			errors.NewConfigError("datacite api %q is not an absolute http(s) URL", opts.API),
			err.Error())
	}
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.WithHint(errors.NewConfigError("datacite token is empty"), "set MINT__DATACITE__TOKEN")
	}

	return &Client{
		api:           api,
		authorization: authorization(opts.Token),
		prefix:        opts.Prefix,
		http:          hc,
		logger:        logger.ComponentLogger("datacite"),
	}, nil
}

// authorization keeps a value that already names its scheme
func authorization(token string) string {
	token = strings.TrimSpace(token)
	if strings.Contains(token, " ") {
		return token
	}
	return "Basic " + token
}

// doiResponse is the part of a DOI document the pipeline needs
type doiResponse struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			DOI string `json:"doi"`
			URL string `json:"url"`
		} `json:"attributes"`
	} `json:"data"`
}

// apiErrors is the JSON:API error document
type apiErrors struct {
	Errors []struct {
		Source string `json:"source"`
		Title  string `json:"title"`
	} `json:"errors"`
}

// Mint creates a draft DOI for payload and returns the assigned DOI and its
// landing URL.
func (c *Client) Mint(ctx context.Context, payload transform.Payload) (string, string, error) {
	body, err := payload.Encode()
	if err != nil {
		return "", "", err
	}

	req, err := httpclient.NewRequest(ctx, http.MethodPost, c.api+doisPath, bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	c.authorize(req)
	req.Header.Set("Content-Type", JSONAPIContentType)
	if logger.ShouldLogTrace(logger.Verbosity) {
		c.logger.Debugw("Creating DOI", logger.FieldURL, req.URL.String(), "payload_bytes", len(body))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	c.logger.Debugw("Registrar responded",
		logger.FieldStatus, resp.StatusCode,
		logger.FieldDurationMS, time.Since(start).Milliseconds())
	if err := httpclient.CheckResponse(resp, "create doi"); err != nil {
		return "", "", withAPIErrors(err)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", errors.Mark(errors.Wrap(err, "read doi response"), errors.ErrTransientNetwork)
	}
	var doc doiResponse
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", "", errors.Mark(errors.Wrap(err, "decode doi response"), errors.ErrSchema)
	}

	doi := doc.Data.ID
	if doi == "" {
		doi = doc.Data.Attributes.DOI
	}
	if doi == "" {
		return "", "", errors.NewSchemaError("doi response carried no id")
	}
	c.logger.Infow("Minted draft DOI", logger.FieldDOI, doi, logger.FieldURL, doc.Data.Attributes.URL)
	return doi, doc.Data.Attributes.URL, nil
}

// withAPIErrors adds DataCite's error titles as details, keeping the status mark
func withAPIErrors(err error) error {
	var se *httpclient.StatusError
	if !errors.As(err, &se) || se.Body == "" {
		return err
	}
	var doc apiErrors
	if json.Unmarshal([]byte(se.Body), &doc) != nil {
		return err
	}
	for _, e := range doc.Errors {
		if e.Source != "" {
			err = errors.WithDetailf(err, "%s: %s", e.Source, e.Title)
		} else {
			err = errors.WithDetail(err, e.Title)
		}
	}
	return err
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", c.authorization)
	req.Header.Set("Accept", JSONAPIContentType)
}

// Probe checks the heartbeat and that the credentials can list DOIs under
// the configured prefix. Nothing is created.
func (c *Client) Probe(ctx context.Context) error {
	if err := c.get(ctx, c.api+heartbeatPath, "heartbeat", false); err != nil {
		return err
	}

	q := url.Values{}
	q.Set("page[size]", "1")
	if c.prefix != "" {
		q.Set("prefix", c.prefix)
	}
	return c.get(ctx, c.api+doisPath+"?"+q.Encode(), "list dois", true)
}

func (c *Client) get(ctx context.Context, target, op string, authorized bool) error {
	req, err := httpclient.NewRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	if authorized {
		c.authorize(req)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return httpclient.CheckResponse(resp, op)
}
