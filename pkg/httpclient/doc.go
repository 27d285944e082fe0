// Package httpclient builds HTTP clients with connect, pool-wait and socket
// timeouts, optional connection pooling with pool-wide and per-route limits,
// a pinned TLS protocol version with optional custom trust material, and
// keep-alive durations resolved from the server's Keep-Alive header.
//
// A Builder is configured from a single goroutine and frozen with Build:
//
//	b := httpclient.NewBuilder(defaults, httpclient.WithLogger(logger))
//	b.Timeout().KeepAlive()
//	if err := b.SSLKeystoreWithPassword("trust.p12", "changeit"); err != nil {
//		return err
//	}
//	if err := b.Pool(20, 5); err != nil {
//		return err
//	}
//	client, err := b.Build()
//
// Pool captures the TLS state current at the time of the call. SSL calls
// made after Pool are not seen by the pool until Pool is called again.
//
// WebSocketDialer shares the client's pool: an open WebSocket connection
// counts against the route and pool-wide limits until it is closed.
package httpclient
