package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for channel endpoints.
const defaultTracerName = "channel"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "channel").
	TracerName string

	// TracerProvider supplies the tracer.
	// Default: the global provider from otel.GetTracerProvider.
	TracerProvider trace.TracerProvider

	// IncludeToken adds the poll connection token (the cid query
	// parameter) to spans. Tokens are bearer credentials for a
	// connection, so this is disabled by default.
	IncludeToken bool

	// Filter determines which requests to trace.
	// Return true to trace the request, false to skip.
	// If nil, all requests are traced.
	Filter func(r *http.Request) bool

	// AttributeExtractor extracts custom attributes from the request.
	AttributeExtractor func(r *http.Request) []attribute.KeyValue

	tracer trace.Tracer
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithIncludeToken enables including the poll token in spans.
func WithIncludeToken(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeToken = include
	}
}

// WithRequestFilter sets a filter function for requests.
func WithRequestFilter(filter func(r *http.Request) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(r *http.Request) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName: defaultTracerName,
	}
}

// OpenTelemetry creates middleware that traces every request to the
// channel endpoints.
//
// The middleware:
//   - Creates a server span per request named after the transport and method
//   - Stores the span in the request context for downstream handlers
//   - Records the response status and marks 5xx responses as errors
//
// A socket span covers the upgrade and the whole life of the socket. A
// poll span covers one exchange, including the time a request is held.
//
// Example:
//
//	srv := server.New(cfg, handler)
//	srv.Use(middleware.OpenTelemetry(middleware.WithTracerName("chat")))
//
// The tracer uses the global OpenTelemetry tracer provider unless
// WithTracerProvider is given. Configure it in main() before serving:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) func(http.Handler) http.Handler {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}

	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	config.tracer = tp.Tracer(config.TracerName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Filter != nil && !config.Filter(r) {
				next.ServeHTTP(w, r)
				return
			}

			transport := transportOf(r)
			attrs := []attribute.KeyValue{
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
				attribute.String("channel.transport", transport),
			}
			if config.IncludeToken {
				if cid := r.URL.Query().Get("cid"); cid != "" {
					attrs = append(attrs, attribute.String("channel.token", cid))
				}
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(r)...)
			}

			ctx, span := config.tracer.Start(
				r.Context(),
				formatSpanName(transport, r.Method),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
				trace.WithTimestamp(time.Now()),
			)
			defer span.End()

			ctx = context.WithValue(ctx, spanContextKey{}, true)
			sw := wrapWriter(w)
			next.ServeHTTP(sw, r.WithContext(ctx))

			status := sw.Status()
			span.SetAttributes(attribute.Int("http.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}

// spanContextKey marks contexts that carry a span started by OpenTelemetry.
type spanContextKey struct{}

// SpanFromContext returns the span started by the OpenTelemetry middleware
// for this request, or nil outside of it.
//
// Example:
//
//	func (h *myHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
//	    if span := middleware.SpanFromContext(r.Context()); span != nil {
//	        span.AddEvent("authorized")
//	    }
//	}
func SpanFromContext(ctx context.Context) trace.Span {
	if ctx == nil || ctx.Value(spanContextKey{}) == nil {
		return nil
	}
	return trace.SpanFromContext(ctx)
}

// formatSpanName names a span after the transport. Socket requests are
// always upgrades, so only poll spans carry the method.
func formatSpanName(transport, method string) string {
	if transport == "socket" {
		return "channel socket"
	}
	return fmt.Sprintf("channel poll %s", method)
}
