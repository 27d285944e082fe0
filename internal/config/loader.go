package config

import (
	"httpkit/pkg/httpclient"
)

// Loader loads the client defaults from a properties file
type Loader struct {
	path       string
	envEnabled bool
	envPrefix  string
}

// NewLoader creates a loader. An empty path uses the embedded defaults.
func NewLoader(path string) *Loader {
	return &Loader{
		path:       path,
		envEnabled: true, // Enable env vars by default
		envPrefix:  EnvPrefix,
	}
}

// WithEnvVars enables or disables environment variable overrides
func (l *Loader) WithEnvVars(enabled bool) *Loader {
	l.envEnabled = enabled
	return l
}

// WithEnvPrefix changes the environment variable prefix
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Source returns the chained source: environment first, then the file.
func (l *Loader) Source() (Source, error) {
	var file Source
	if l.path == "" {
		file = DefaultSource()
	} else {
		props, err := ReadFile(l.path)
		if err != nil {
			return nil, err
		}
		file = props
	}

	if !l.envEnabled {
		return file, nil
	}
	return Chain{EnvSource{Prefix: l.envPrefix}, file}, nil
}

// Load reads and validates the defaults
func (l *Loader) Load() (httpclient.Defaults, error) {
	src, err := l.Source()
	if err != nil {
		return httpclient.Defaults{}, err
	}
	return LoadDefaults(src)
}

// Load loads the defaults from path with environment overrides
func Load(path string) (httpclient.Defaults, error) {
	return NewLoader(path).Load()
}
