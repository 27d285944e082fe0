package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"httpkit/pkg/errors"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Source supplies raw property values by key.
type Source interface {
	Lookup(key string) (string, bool)
}

// MapSource is an in-memory source.
type MapSource map[string]string

// Lookup implements Source.
func (m MapSource) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// EnvSource reads PREFIX_KEY environment variables.
type EnvSource struct {
	Prefix string
}

// Lookup implements Source. Empty variables count as unset.
func (e EnvSource) Lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvKey(e.Prefix, key))
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Chain consults sources in order; the first hit wins.
type Chain []Source

// Lookup implements Source.
func (c Chain) Lookup(key string) (string, bool) {
	for _, s := range c {
		if s == nil {
			continue
		}
		if v, ok := s.Lookup(key); ok {
			return v, true
		}
	}
	return "", false
}

// ReadFile loads a properties file. ".yaml" and ".yml" files are decoded as
// a flat YAML mapping; anything else as key=value lines.
func ReadFile(path string) (MapSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeStartupConfiguration, "failed to read properties file").
			WithCause(err).
			WithDetail("path", path)
	}

	var props MapSource
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		props, err = parseYAML(data)
	default:
		props, err = parseProperties(string(data))
	}
	if err != nil {
		return nil, errors.NewError(errors.ErrorTypeStartupConfiguration, "failed to parse properties file").
			WithCause(err).
			WithDetail("path", path)
	}
	return props, nil
}

func parseProperties(data string) (MapSource, error) {
	m, err := godotenv.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	return MapSource(m), nil
}

func parseYAML(data []byte) (MapSource, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	props := make(MapSource, len(raw))
	for k, v := range raw {
		switch v.(type) {
		case nil:
			continue
		case map[string]any, []any:
			return nil, fmt.Errorf("property %q must be a scalar", k)
		default:
			props[k] = fmt.Sprint(v)
		}
	}
	return props, nil
}
