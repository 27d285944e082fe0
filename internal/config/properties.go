package config

import (
	"strconv"
	"strings"

	"httpkit/pkg/errors"
	"httpkit/pkg/httpclient"
	tlsx "httpkit/pkg/tls"
)

// Property keys
const (
	KeyConnectionTimeout = "con_timeout"
	KeyKeepAlive         = "keep_alive"
	KeySSLProtocol       = "ssl_protocol"
)

// EnvPrefix prefixes environment overrides, e.g. HTTPKIT_CON_TIMEOUT.
const EnvPrefix = "HTTPKIT"

// Properties are the process-wide client defaults
type Properties struct {
	ConTimeout  int    `yaml:"con_timeout"` // milliseconds
	KeepAlive   int    `yaml:"keep_alive"`  // seconds
	SSLProtocol string `yaml:"ssl_protocol,omitempty"`
}

// Defaults converts the properties into builder defaults.
func (p Properties) Defaults() httpclient.Defaults {
	return httpclient.Defaults{
		ConnectionTimeoutMs: p.ConTimeout,
		KeepAliveSeconds:    p.KeepAlive,
		Protocol:            tlsx.ProtocolVersion(p.SSLProtocol),
	}
}

// LoadProperties reads and validates the properties from src. Missing or
// malformed required keys fail with a startup_configuration error.
func LoadProperties(src Source) (Properties, error) {
	var p Properties
	var err error

	if p.ConTimeout, err = requiredInt(src, KeyConnectionTimeout); err != nil {
		return Properties{}, err
	}
	if p.KeepAlive, err = requiredInt(src, KeyKeepAlive); err != nil {
		return Properties{}, err
	}

	if raw, ok := src.Lookup(KeySSLProtocol); ok && strings.TrimSpace(raw) != "" {
		v, err := tlsx.ParseProtocolVersion(raw)
		if err != nil {
			return Properties{}, errors.StartupConfiguration("property %q is not a known protocol", KeySSLProtocol).
				WithCause(err).
				WithDetail("value", raw)
		}
		p.SSLProtocol = string(v)
	}
	return p, nil
}

// LoadDefaults is LoadProperties converted to builder defaults.
func LoadDefaults(src Source) (httpclient.Defaults, error) {
	p, err := LoadProperties(src)
	if err != nil {
		return httpclient.Defaults{}, err
	}
	return p.Defaults(), nil
}

func requiredInt(src Source, key string) (int, error) {
	raw, ok := src.Lookup(key)
	raw = strings.TrimSpace(raw)
	if !ok || raw == "" {
		return 0, errors.StartupConfiguration("missing required property %q", key).
			WithDetail("key", key)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.StartupConfiguration("property %q must be an integer, got %q", key, raw).
			WithCause(err).
			WithDetail("key", key)
	}
	if n < 0 {
		return 0, errors.StartupConfiguration("property %q must not be negative, got %d", key, n).
			WithDetail("key", key)
	}
	return n, nil
}
