// Package middleware provides net/http middleware for the channel
// endpoints: OpenTelemetry tracing, Prometheus metrics and request
// logging.
//
// Each constructor returns a func(http.Handler) http.Handler, so the
// middleware plugs into server.Server.Use as well as any chi router.
//
//	srv := server.New(cfg, handler)
//	srv.Use(
//	    middleware.Logger(logger),
//	    middleware.Prometheus(middleware.WithRegistry(reg)),
//	    middleware.OpenTelemetry(middleware.WithTracerName("chat")),
//	)
//
// # Sockets and Held Polls
//
// The wrapped response writer forwards Hijack and Flush, so socket
// upgrades keep working. Requests are classified as "socket" when they are
// WebSocket upgrades and "poll" otherwise. A socket request lasts as long
// as the socket, and a held poll lasts until it is answered, which is
// reflected in durations, spans and the in-flight gauge.
//
// # OpenTelemetry
//
// Spans are named "channel socket" and "channel poll <METHOD>" and carry
// the method, path, transport and response status. Handlers reach the span
// through SpanFromContext:
//
//	if span := middleware.SpanFromContext(r.Context()); span != nil {
//	    span.AddEvent("delivered")
//	}
//
// # Prometheus Metrics
//
//   - channel_http_requests_total: requests by transport, method and status
//   - channel_http_request_duration_seconds: request duration histogram
//   - channel_http_requests_in_flight: requests and sockets being served
package middleware
