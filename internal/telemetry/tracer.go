package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "httpkit"

// StartHTTPClientSpan starts a client span for req and injects the trace
// context into the returned request copy.
func StartHTTPClientSpan(tracer trace.Tracer, propagator propagation.TextMapPropagator, req *http.Request) (*http.Request, trace.Span) {
	ctx, span := tracer.Start(req.Context(),
		fmt.Sprintf("HTTP %s", req.Method),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.full", req.URL.Redacted()),
			attribute.String("url.scheme", req.URL.Scheme),
			attribute.String("server.address", req.URL.Hostname()),
		),
	)

	out := req.Clone(ctx)
	propagator.Inject(ctx, propagation.HeaderCarrier(out.Header))
	return out, span
}

// EndHTTPClientSpan ends an HTTP client span with response
func EndHTTPClientSpan(span trace.Span, resp *http.Response, err error) {
	if !span.IsRecording() {
		span.End()
		return
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if resp != nil {
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
		if resp.StatusCode >= 400 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}

	span.End()
}

// Transport wraps base so every round trip is recorded as a client span
// on tp. A nil propagator skips header injection.
func Transport(base http.RoundTripper, tp trace.TracerProvider, propagator propagation.TextMapPropagator) http.RoundTripper {
	if propagator == nil {
		propagator = propagation.NewCompositeTextMapPropagator()
	}
	return &tracingTransport{
		base:       base,
		tracer:     tp.Tracer(instrumentationName),
		propagator: propagator,
	}
}

// Transport wraps base with this instance's provider and propagator.
func (t *Telemetry) Transport(base http.RoundTripper) http.RoundTripper {
	return Transport(base, t.provider, t.propagator)
}

type tracingTransport struct {
	base       http.RoundTripper
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

func (t *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out, span := StartHTTPClientSpan(t.tracer, t.propagator, req)
	resp, err := t.base.RoundTrip(out)
	EndHTTPClientSpan(span, resp, err)
	return resp, err
}

// CloseIdleConnections forwards to the wrapped transport.
func (t *tracingTransport) CloseIdleConnections() {
	if c, ok := t.base.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

// SpanContextFromRequest returns the span context carried by req's headers.
func SpanContextFromRequest(propagator propagation.TextMapPropagator, req *http.Request) trace.SpanContext {
	ctx := propagator.Extract(context.Background(), propagation.HeaderCarrier(req.Header))
	return trace.SpanContextFromContext(ctx)
}
