package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/darwin7381/ga4-realtime-api/internal/apperror"
	"github.com/darwin7381/ga4-realtime-api/internal/ratelimit"
)

// ErrorWriter renders a failure. handler.WriteError has this signature.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, err error)

// RateLimitByIP throttles unauthenticated routes per client address.
//
// The address is r.RemoteAddr, so chi's RealIP middleware must run first
// when the server sits behind a proxy. Keys are namespaced with prefix so
// one limiter store can serve several route groups.
//
// A limiter failure is passed to onError as-is and so becomes a 500: an
// unreachable Redis should not silently lift the limit.
func RateLimitByIP(l ratelimit.Limiter, prefix string, retryAfter time.Duration, onError ErrorWriter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			ok, err := l.Allow(r.Context(), prefix+ip)
			if err != nil {
				onError(w, r, err)
				return
			}
			if !ok {
				logger.Warn("rate limit exceeded",
					slog.String("ip", ip),
					slog.String("path", r.URL.Path),
				)
				onError(w, r, apperror.TooManyRequests("too many requests, try again later", retryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port when RemoteAddr still has one. RealIP replaces
// RemoteAddr with a bare address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
