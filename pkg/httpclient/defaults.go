package httpclient

import (
	tlsx "httpkit/pkg/tls"
)

// Defaults are the process-wide values read once at startup.
type Defaults struct {
	ConnectionTimeoutMs int
	KeepAliveSeconds    int
	// Protocol is the initial TLS protocol version. Empty selects
	// tls.DefaultProtocol.
	Protocol tlsx.ProtocolVersion
}

// KeepAliveDefaultMs returns the default keep-alive in milliseconds.
func (d Defaults) KeepAliveDefaultMs() int64 {
	return int64(d.KeepAliveSeconds) * 1000
}

func (d Defaults) protocol() tlsx.ProtocolVersion {
	if d.Protocol == "" {
		return tlsx.DefaultProtocol
	}
	return d.Protocol
}
