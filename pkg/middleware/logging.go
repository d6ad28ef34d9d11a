package middleware

import (
	"log/slog"
	"net/http"
	"time"
)

// Logger creates middleware that logs one line per request at the end of
// it. Held polls and sockets are logged when they finish. 5xx responses
// are logged at warn level, everything else at debug.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := wrapWriter(w)
			next.ServeHTTP(sw, r)

			level := slog.LevelDebug
			if sw.Status() >= http.StatusInternalServerError {
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"transport", transportOf(r),
				"status", sw.Status(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr)
		})
	}
}
