package httpclient

import (
	"net/http"

	"httpkit/internal/pool"
)

// Client is a built, immutable client. It is safe for concurrent use.
type Client struct {
	config  Configuration
	http    *http.Client
	manager *pool.Manager
}

// Config returns the settings the client was built with.
func (c *Client) Config() Configuration {
	return c.config.clone()
}

// Do sends req. Pool exhaustion surfaces as an error matching
// errors.ErrPoolExhausted.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.http.Do(req)
}

// HTTPClient returns a copy of the underlying client sharing its transport.
func (c *Client) HTTPClient() *http.Client {
	hc := *c.http
	return &hc
}

// Stats returns a snapshot of the connection pool.
func (c *Client) Stats() pool.Stats {
	return c.manager.Stats()
}

// CloseIdleConnections closes connections not serving a request.
func (c *Client) CloseIdleConnections() {
	c.manager.CloseIdle()
}

// Close closes idle connections and rejects new ones.
func (c *Client) Close() error {
	return c.manager.Close()
}
