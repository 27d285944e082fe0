package tls

import (
	"crypto/tls"
	"strings"

	"httpkit/pkg/errors"
)

// ProtocolVersion names a TLS/SSL protocol version for socket factories.
type ProtocolVersion string

const (
	// SSLv3 is the legacy default of older clients. It is broken and
	// crypto/tls cannot negotiate it; providers reject it.
	SSLv3   ProtocolVersion = "SSLv3"
	TLSv1   ProtocolVersion = "TLSv1"
	TLSv1_1 ProtocolVersion = "TLSv1.1"
	TLSv1_2 ProtocolVersion = "TLSv1.2"
	TLSv1_3 ProtocolVersion = "TLSv1.3"
)

// DefaultProtocol is used when no protocol version is configured.
const DefaultProtocol = TLSv1_2

var versions = map[ProtocolVersion]uint16{
	TLSv1:   tls.VersionTLS10,
	TLSv1_1: tls.VersionTLS11,
	TLSv1_2: tls.VersionTLS12,
	TLSv1_3: tls.VersionTLS13,
}

// Version returns the crypto/tls constant for v. ok is false for SSLv3 and
// unknown names.
func (v ProtocolVersion) Version() (uint16, bool) {
	n, ok := versions[v]
	return n, ok
}

// Legacy reports whether v is considered cryptographically weak.
func (v ProtocolVersion) Legacy() bool {
	switch v {
	case SSLv3, TLSv1, TLSv1_1:
		return true
	}
	return false
}

func (v ProtocolVersion) String() string {
	return string(v)
}

// ParseProtocolVersion accepts the canonical names ("TLSv1.2"), underscore
// forms ("TLSv1_2") and bare numbers ("1.2"). Matching is case-insensitive.
func ParseProtocolVersion(s string) (ProtocolVersion, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.ReplaceAll(norm, "_", ".")
	switch norm {
	case "sslv3", "ssl3", "3.0":
		return SSLv3, nil
	case "tlsv1", "tlsv1.0", "tls1.0", "1.0":
		return TLSv1, nil
	case "tlsv1.1", "tls1.1", "1.1":
		return TLSv1_1, nil
	case "tlsv1.2", "tls1.2", "1.2":
		return TLSv1_2, nil
	case "tlsv1.3", "tls1.3", "1.3":
		return TLSv1_3, nil
	}
	return "", errors.Configuration("unknown protocol version %q", s).WithDetail("protocol", s)
}
