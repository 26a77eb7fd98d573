package ratelimiter

import (
	"net"
	"net/http"
	"strconv"
)

// KeyFunc extracts the rate limit key from an HTTP request. Returning an
// empty string skips limiting for that request.
type KeyFunc func(*http.Request) string

// KeyByIP keys requests on the client address, without the port.
func KeyByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware enforces the limiter on each request. Storage errors fail open:
// an unavailable counter backend must not reject traffic.
func Middleware(limiter *FixedWindow, keyFunc KeyFunc) func(http.Handler) http.Handler {
	if limiter == nil {
		panic("ratelimiter: limiter is required")
	}
	if keyFunc == nil {
		keyFunc = KeyByIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.Allow(r.Context(), key)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				retryAfter := int(result.RetryAfter().Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
