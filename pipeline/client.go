package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Client is an immutable, constructed pipeline: a base endpoint plus the
// chain that serves every request issued against it (spec §4.3, R4: "HTTP
// clients are immutable once constructed").
type Client struct {
	endpoint string
	chain    Handler
}

// NewClient validates endpoint and wires handlers (outermost first,
// transport last) into a chain.
func NewClient(endpoint string, handlers ...Handler) (*Client, error) {
	normalized, err := ValidateEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	chain, err := NewChain(handlers...)
	if err != nil {
		return nil, err
	}
	return &Client{endpoint: normalized, chain: chain}, nil
}

// Endpoint returns the normalized base endpoint this client was constructed
// with.
func (c *Client) Endpoint() string { return c.endpoint }

// NewRequest builds an *http.Request against this client's endpoint (path
// joined to the base, query appended verbatim) without sending it, so the
// caller can attach conditional-request headers before Send.
func (c *Client) NewRequest(ctx context.Context, method, path, rawQuery string, body io.Reader) (*http.Request, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, err
	}
	u.Path = joinPath(u.Path, path)
	u.RawQuery = rawQuery

	return http.NewRequestWithContext(ctx, method, u.String(), body)
}

// Send sends a request (built via NewRequest, or directly against this
// client's own endpoint) through the chain.
func (c *Client) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	return c.chain.RoundTrip(ctx, req)
}

// Do builds an *http.Request against this client's endpoint (path joined to
// the base, query appended verbatim) and sends it through the chain.
func (c *Client) Do(ctx context.Context, method, path, rawQuery string, body io.Reader) (*http.Response, error) {
	req, err := c.NewRequest(ctx, method, path, rawQuery, body)
	if err != nil {
		return nil, err
	}
	return c.Send(ctx, req)
}

func joinPath(base, rel string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(rel, "/")
}

// Factory caches constructed clients keyed by (endpoint, name), returning
// the same instance for repeated construction requests (spec §4.3: "The
// client factory caches constructed clients keyed by (endpoint, name)").
type Factory struct {
	mu      sync.Mutex
	clients map[factoryKey]*Client
	build   func(endpoint string) (*Client, error)
}

type factoryKey struct {
	endpoint string
	name     string
}

// NewFactory builds a client factory. build is invoked at most once per
// distinct (endpoint, name) pair; its result is cached for the factory's
// lifetime.
func NewFactory(build func(endpoint string) (*Client, error)) *Factory {
	return &Factory{clients: make(map[factoryKey]*Client), build: build}
}

// CreateClient returns the cached client for (endpoint, name), building and
// caching it on first use.
func (f *Factory) CreateClient(endpoint, name string) (*Client, error) {
	key := factoryKey{endpoint: endpoint, name: name}

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[key]; ok {
		return c, nil
	}
	c, err := f.build(endpoint)
	if err != nil {
		return nil, fmt.Errorf("pipeline: building client %q for endpoint %q: %w", name, endpoint, err)
	}
	f.clients[key] = c
	return c, nil
}
