package mid

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/WessleyAI/wellness-mvp/pkg/metrics"
	"github.com/WessleyAI/wellness-mvp/pkg/resilience"
)

// RateLimit answers 429 once a caller exhausts its bucket. Callers are keyed
// by authenticated user, falling back to the client address.
func RateLimit(limiter *resilience.KeyedLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := UserID(r.Context())
			if !ok {
				key = clientAddr(r)
			}
			if !limiter.Allow(key) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Metrics counts requests and observes latency under a fixed route label.
func Metrics(reg *metrics.Registry, route string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			reg.HTTPRequests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
			metrics.ObserveSince(reg.HTTPDuration.WithLabelValues(route), start)
		})
	}
}
