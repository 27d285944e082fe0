// Package keepalive resolves how long a connection may stay idle from the
// server's Keep-Alive response header.
package keepalive

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HeaderName is the response header consulted for the idle timeout.
const HeaderName = "Keep-Alive"

const timeoutParam = "timeout"

// Resolve returns the keep-alive duration for a response with header h.
// The first "timeout" element (case-insensitive) holding a non-negative
// integer number of seconds wins; otherwise defaultSeconds is used.
func Resolve(h http.Header, defaultSeconds int) time.Duration {
	d, _ := resolve(h, defaultSeconds)
	return d
}

// ResolveMillis is Resolve expressed in milliseconds.
func ResolveMillis(h http.Header, defaultSeconds int) int64 {
	return Resolve(h, defaultSeconds).Milliseconds()
}

// resolve also reports whether the header supplied the value.
func resolve(h http.Header, defaultSeconds int) (time.Duration, bool) {
	if h != nil {
		for _, el := range ParseElements(h.Values(HeaderName)...) {
			if !el.HasValue || !strings.EqualFold(el.Name, timeoutParam) {
				continue
			}
			if secs, ok := parseSeconds(el.Value); ok {
				return time.Duration(secs) * time.Second, true
			}
		}
	}
	return time.Duration(defaultSeconds) * time.Second, false
}

func parseSeconds(v string) (int64, bool) {
	secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || secs < 0 || secs > math.MaxInt64/int64(time.Second) {
		return 0, false
	}
	return secs, true
}

// Policy is a keep-alive strategy with a fixed fallback duration. The zero
// value falls back to zero, meaning no client-side expiry.
type Policy struct {
	DefaultSeconds int
}

// NewPolicy returns a policy that falls back to seconds.
func NewPolicy(seconds int) Policy {
	return Policy{DefaultSeconds: seconds}
}

// Resolve returns the keep-alive duration for a response header.
func (p Policy) Resolve(h http.Header) time.Duration {
	return Resolve(h, p.DefaultSeconds)
}

// ResolveSource is Resolve that also reports whether the header supplied
// the value (true) or the default was used (false).
func (p Policy) ResolveSource(h http.Header) (time.Duration, bool) {
	return resolve(h, p.DefaultSeconds)
}

// DefaultMillis is the fallback in milliseconds.
func (p Policy) DefaultMillis() int64 {
	return int64(p.DefaultSeconds) * 1000
}
