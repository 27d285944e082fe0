package config

import (
	_ "embed"

	"httpkit/pkg/httpclient"
)

//go:embed default.properties
var defaultProperties string

// DefaultSource returns the embedded default properties.
func DefaultSource() Source {
	props, err := parseProperties(defaultProperties)
	if err != nil {
		// The embedded file is fixed at build time.
		panic("config: invalid embedded default.properties: " + err.Error())
	}
	return props
}

// LoadDefault loads the embedded defaults with environment overrides
func LoadDefault() (httpclient.Defaults, error) {
	return LoadDefaults(Chain{EnvSource{Prefix: EnvPrefix}, DefaultSource()})
}
