package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/marksync/internal/entity"
)

const (
	defaultHTTPTimeout        = 60 * time.Second
	defaultHTTPConnectTimeout = 5 * time.Second
	defaultHTTPTLSTimeout     = 5 * time.Second

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 32 << 20

	// OriginHeader carries the client identifier on every request.
	OriginHeader = "X-Marksync-Client"
)

func defaultHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHTTPConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHTTPTLSTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// Client is the HTTP implementation of Gateway.
type Client struct {
	baseURL  string
	http     *http.Client
	tokens   TokenSource
	clientID string
	logger   *slog.Logger
}

var _ Gateway = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the request timeout of the default http.Client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http = defaultHTTPClient(d) }
}

// WithTokenSource attaches a bearer token to every request.
func WithTokenSource(ts TokenSource) ClientOption {
	return func(c *Client) { c.tokens = ts }
}

// WithClientID sets the origin identifier sent in OriginHeader.
func WithClientID(id string) ClientOption {
	return func(c *Client) { c.clientID = id }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a gateway client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    defaultHTTPClient(defaultHTTPTimeout),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClientID returns the origin identifier sent with requests.
func (c *Client) ClientID() string { return c.clientID }

// FetchAll lists kind under scope.
func (c *Client) FetchAll(ctx context.Context, kind entity.Kind, scope string) (Response, error) {
	u := fmt.Sprintf("%s/api/%s", c.baseURL, url.PathEscape(string(kind)))
	if scope != "" {
		u += "?scope=" + url.QueryEscape(scope)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", kind, err)
	}
	return c.do(req)
}

// Mutate posts payload to the kind's op route.
func (c *Client) Mutate(ctx context.Context, kind entity.Kind, op entity.Op, payload any) (Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("mutate %s/%s: encode: %w", kind, op, err)
	}
	u := fmt.Sprintf("%s/api/%s/%s", c.baseURL, url.PathEscape(string(kind)), url.PathEscape(string(op)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("mutate %s/%s: %w", kind, op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (Response, error) {
	if c.tokens != nil {
		token, err := c.tokens.Token(req.Context())
		if err != nil {
			return Response{}, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	if c.clientID != "" {
		req.Header.Set(OriginHeader, c.clientID)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Response{}, fmt.Errorf("%s %s: read body: %w", req.Method, req.URL.Path, err)
	}

	c.logger.Debug("gateway request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	return Response{
		Status:     resp.StatusCode,
		Data:       data,
		StatusText: http.StatusText(resp.StatusCode),
	}, nil
}
