package httpclient

import (
	"context"
	"net/http"

	"httpkit/internal/pool"

	"github.com/gorilla/websocket"
)

// WebSocketDialer returns a dialer whose connections come from the client's
// pool. A WebSocket connection holds its pool slot until it is closed, and
// wss URLs use the client's TLS factory.
func (c *Client) WebSocketDialer() *websocket.Dialer {
	return &websocket.Dialer{
		NetDialContext:    c.manager.DialFunc(pool.SchemeHTTP),
		NetDialTLSContext: c.manager.DialFunc(pool.SchemeHTTPS),
		HandshakeTimeout:  c.config.SocketTimeout(),
	}
}

// DialWebSocket opens a WebSocket connection to url through the pool.
func (c *Client) DialWebSocket(ctx context.Context, url string, header http.Header) (*websocket.Conn, *http.Response, error) {
	return c.WebSocketDialer().DialContext(ctx, url, header)
}
