// Package client talks to the hosted backend: PostgREST tables and stored
// procedures plus the object storage API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Endpoints are the base URLs of the backend APIs.
type Endpoints struct {
	REST    string // e.g. https://project.example.co/rest/v1
	Storage string // e.g. https://project.example.co/storage/v1
}

// Options configures a Client. Zero values use defaults.
type Options struct {
	HTTPClient *http.Client
	// AccessToken returns the signed-in user's token; requests fall back
	// to the anon key when it returns "".
	AccessToken func() string
	Logger      *slog.Logger
}

// Client makes REST calls to the backend.
type Client struct {
	rest    string
	storage string
	apiKey  string
	http    *http.Client
	token   func() string
	log     *slog.Logger
}

// New creates a client for the given endpoints.
func New(ep Endpoints, apiKey string, opts Options) *Client {
	c := &Client{
		rest:    strings.TrimRight(ep.REST, "/"),
		storage: strings.TrimRight(ep.Storage, "/"),
		apiKey:  apiKey,
		http:    opts.HTTPClient,
		token:   opts.AccessToken,
		log:     opts.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	return c
}

// request describes one call; zero fields are left out.
type request struct {
	method string
	url    string
	query  url.Values
	body   any
	raw    io.Reader
	header http.Header
}

func (c *Client) do(ctx context.Context, r request, out any) (*http.Response, error) {
	target := r.url
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body io.Reader
	switch {
	case r.raw != nil:
		body = r.raw
	case r.body != nil:
		data, err := json.Marshal(r.body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", r.method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	c.log.Debug("client: request", "method", r.method, "path", req.URL.Path, "status", resp.StatusCode, "took", time.Since(start))

	if resp.StatusCode >= 300 {
		return resp, decodeAPIError(req, resp)
	}
	if out == nil || r.method == http.MethodHead || resp.StatusCode == http.StatusNoContent {
		return resp, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return resp, fmt.Errorf("%s %s: decode response: %w", r.method, req.URL.Path, err)
	}
	return resp, nil
}

func (c *Client) setAuth(req *http.Request) {
	req.Header.Set("apikey", c.apiKey)
	token := c.apiKey
	if c.token != nil {
		if t := c.token(); t != "" {
			token = t
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// RPC calls the stored procedure fn with named params and decodes its result
// into out. A nil params map sends an empty object.
func (c *Client) RPC(ctx context.Context, fn string, params map[string]any, out any) error {
	if params == nil {
		params = map[string]any{}
	}
	_, err := c.do(ctx, request{method: http.MethodPost, url: c.rest + "/rpc/" + url.PathEscape(fn), body: params}, out)
	return err
}

// selectRows reads rows of table matching query into out.
func (c *Client) selectRows(ctx context.Context, table string, query url.Values, out any) error {
	_, err := c.do(ctx, request{method: http.MethodGet, url: c.rest + "/" + table, query: query}, out)
	return err
}

// selectSingle reads exactly one row. No match fails with CodeNoRows.
func (c *Client) selectSingle(ctx context.Context, table string, query url.Values, out any) error {
	h := http.Header{}
	h.Set("Accept", "application/vnd.pgrst.object+json")
	_, err := c.do(ctx, request{method: http.MethodGet, url: c.rest + "/" + table, query: query, header: h}, out)
	return err
}

func (c *Client) insertSingle(ctx context.Context, table string, row, out any) error {
	h := http.Header{}
	h.Set("Prefer", "return=representation")
	h.Set("Accept", "application/vnd.pgrst.object+json")
	_, err := c.do(ctx, request{method: http.MethodPost, url: c.rest + "/" + table, query: url.Values{"select": {"*"}}, body: []any{row}, header: h}, out)
	return err
}

func (c *Client) updateSingle(ctx context.Context, table string, filter url.Values, patch, out any) error {
	h := http.Header{}
	h.Set("Prefer", "return=representation")
	h.Set("Accept", "application/vnd.pgrst.object+json")
	q := url.Values{"select": {"*"}}
	for k, v := range filter {
		q[k] = v
	}
	_, err := c.do(ctx, request{method: http.MethodPatch, url: c.rest + "/" + table, query: q, body: patch, header: h}, out)
	return err
}

func (c *Client) deleteRows(ctx context.Context, table string, filter url.Values) error {
	_, err := c.do(ctx, request{method: http.MethodDelete, url: c.rest + "/" + table, query: filter}, nil)
	return err
}

// count returns the exact number of rows matching filter using a HEAD
// request and the Content-Range header.
func (c *Client) count(ctx context.Context, table string, filter url.Values) (int, error) {
	h := http.Header{}
	h.Set("Prefer", "count=exact")
	q := url.Values{"select": {"*"}}
	for k, v := range filter {
		q[k] = v
	}
	resp, err := c.do(ctx, request{method: http.MethodHead, url: c.rest + "/" + table, query: q, header: h}, nil)
	if err != nil {
		return 0, err
	}
	return parseContentRange(resp.Header.Get("Content-Range"))
}

// parseContentRange reads the total of "0-24/573" or "*/0".
func parseContentRange(v string) (int, error) {
	_, total, ok := strings.Cut(v, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("content-range %q: no exact count", v)
	}
	n, err := strconv.Atoi(total)
	if err != nil {
		return 0, fmt.Errorf("content-range %q: %w", v, err)
	}
	return n, nil
}

func eq(v any) string { return fmt.Sprintf("eq.%v", v) }
