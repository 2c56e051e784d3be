package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseBytes caps how much of an upstream body is read.
const maxResponseBytes = 32 << 20

// Recorder receives one observation per upstream call. Status is 0 when no
// response arrived.
type Recorder interface {
	ObserveUpstream(op string, status int, d time.Duration)
}

// ClientConfig configures the upstream HTTP client.
type ClientConfig struct {
	// BaseURL is the upstream root, e.g. http://grafana:3000.
	BaseURL string
	// Timeout bounds each upstream call. Defaults to 30s.
	Timeout time.Duration
	// Transport overrides the default transport, mainly for tests.
	Transport http.RoundTripper
	Recorder  Recorder
}

// Client talks to the upstream dashboard service's REST API. The session
// credential is attached to every call as a Cookie header.
type Client struct {
	baseURL  string
	http     *http.Client
	recorder Recorder
}

// NewClient validates cfg and builds a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway: upstream base URL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway: invalid upstream base URL %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Transport: transport, Timeout: timeout},
		recorder: cfg.Recorder,
	}, nil
}

type request struct {
	op         string
	method     string
	path       string
	query      url.Values
	credential string
	body       any
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// send performs r. Only transport failures are returned as errors; any
// upstream status is returned in the response.
func (c *Client) send(ctx context.Context, r request) (*response, error) {
	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var reader io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Op: r.op, Message: "request body is not encodable", Err: err}
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, reader)
	if err != nil {
		return nil, &Error{Kind: KindUpstreamUnavailable, Op: r.op, Message: "failed to create upstream request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.credential != "" {
		req.Header.Set("Cookie", r.credential)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(r.op, 0, start)
		return nil, &Error{Kind: KindUpstreamUnavailable, Op: r.op, Message: "upstream unreachable", Err: err}
	}
	defer resp.Body.Close()
	c.observe(r.op, resp.StatusCode, start)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Kind: KindUpstreamUnavailable, Op: r.op, Status: resp.StatusCode, Message: "failed to read upstream response", Err: err}
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

// call performs r, maps non-2xx answers onto the error taxonomy and decodes
// the body into out when out is non-nil.
func (c *Client) call(ctx context.Context, r request, out any) (*response, error) {
	resp, err := c.send(ctx, r)
	if err != nil {
		return nil, err
	}
	if resp.status < 200 || resp.status > 299 {
		return resp, fromResponse(r.op, resp.status, resp.body)
	}
	if out != nil {
		if err := json.Unmarshal(resp.body, out); err != nil {
			return resp, &Error{Kind: KindUpstreamProtocol, Op: r.op, Status: resp.status, Message: "malformed upstream response", Err: err}
		}
	}
	return resp, nil
}

// login posts the credentials and returns the upstream session credential
// built from the cookies the upstream set.
func (c *Client) login(ctx context.Context, username, password string) (string, error) {
	resp, err := c.send(ctx, request{
		op:     "login",
		method: http.MethodPost,
		path:   "/login",
		body:   map[string]string{"user": username, "password": password},
	})
	if err != nil {
		return "", err
	}
	if resp.status != http.StatusOK {
		e := fromResponse("login", resp.status, resp.body)
		e.Kind = KindInvalidCredentials
		e.Message = "invalid credentials"
		return "", e
	}

	cookies := (&http.Response{Header: resp.header}).Cookies()
	pairs := make([]string, 0, len(cookies))
	for _, ck := range cookies {
		if ck.Value == "" {
			continue
		}
		pairs = append(pairs, ck.Name+"="+ck.Value)
	}
	if len(pairs) == 0 {
		return "", &Error{Kind: KindUpstreamProtocol, Op: "login", Status: resp.status, Message: "no session cookie received from upstream"}
	}
	return strings.Join(pairs, "; "), nil
}

func (c *Client) observe(op string, status int, start time.Time) {
	if c.recorder != nil {
		c.recorder.ObserveUpstream(op, status, time.Since(start))
	}
}
