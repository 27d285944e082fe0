package pool

import (
	"sort"

	"httpkit/internal/socket"
	"httpkit/pkg/errors"
)

// Scheme names bound by NewRegistry.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// Registry maps URL schemes to socket factories. It is immutable after
// construction; a changed TLS state requires a new registry.
type Registry struct {
	factories map[string]socket.Factory
}

// NewRegistry binds "http" to the plain factory and "https" to tls.
func NewRegistry(tls socket.Factory) *Registry {
	return NewRegistryWith(map[string]socket.Factory{
		SchemeHTTP:  socket.Plain,
		SchemeHTTPS: tls,
	})
}

// NewRegistryWith copies bindings into a new registry. Nil factories are
// skipped.
func NewRegistryWith(bindings map[string]socket.Factory) *Registry {
	r := &Registry{factories: make(map[string]socket.Factory, len(bindings))}
	for scheme, f := range bindings {
		if f != nil {
			r.factories[scheme] = f
		}
	}
	return r
}

// Lookup returns the factory bound to scheme.
func (r *Registry) Lookup(scheme string) (socket.Factory, error) {
	f, ok := r.factories[scheme]
	if !ok {
		return nil, errors.Configuration("no socket factory registered for scheme %q", scheme)
	}
	return f, nil
}

// Schemes returns the bound schemes in sorted order.
func (r *Registry) Schemes() []string {
	out := make([]string, 0, len(r.factories))
	for s := range r.factories {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Limits are the pool-wide and per-route connection limits. Zero values mean
// unlimited and are only produced by Unlimited.
type Limits struct {
	MaxTotal    int
	MaxPerRoute int
}

// Unlimited disables slot accounting.
var Unlimited = Limits{}

// NewLimits validates and returns pool limits.
func NewLimits(maxTotal, maxPerRoute int) (Limits, error) {
	l := Limits{MaxTotal: maxTotal, MaxPerRoute: maxPerRoute}
	return l, l.Validate()
}

// Validate checks that both limits are positive and per-route fits in total.
func (l Limits) Validate() error {
	if l.MaxTotal <= 0 {
		return errors.Configuration("pool maxTotal must be positive, got %d", l.MaxTotal).
			WithDetail("max_total", l.MaxTotal)
	}
	if l.MaxPerRoute <= 0 {
		return errors.Configuration("pool maxPerRoute must be positive, got %d", l.MaxPerRoute).
			WithDetail("max_per_route", l.MaxPerRoute)
	}
	if l.MaxPerRoute > l.MaxTotal {
		return errors.Configuration("pool maxPerRoute %d exceeds maxTotal %d", l.MaxPerRoute, l.MaxTotal).
			WithDetail("max_total", l.MaxTotal).
			WithDetail("max_per_route", l.MaxPerRoute)
	}
	return nil
}

// Bounded reports whether slot accounting is enabled.
func (l Limits) Bounded() bool {
	return l.MaxTotal > 0
}
