/**
 * @description
 * This file contains custom middleware for the HTTP router. Middlewares are used
 * to process requests before they reach the final handler, perfect for tasks like
 * authentication, rate limiting, or adding context to a request.
 *
 * @dependencies
 * - crypto/subtle, net, net/http, strings: Standard Go libraries.
 * - internal/app: For the Redis-backed rate limiter.
 */

package api

import (
	"crypto/subtle"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/qraft-Inc/coffeetrace-sub001/internal/app"
)

// InternalAuthMiddleware guards the service-to-service endpoints with a
// shared API key carried in the x-internal-api-key header.
func InternalAuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				http.Error(w, "internal API disabled", http.StatusServiceUnavailable)
				return
			}
			provided := r.Header.Get("x-internal-api-key")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WebhookSecretMiddleware verifies the shared secret the PSP attaches to
// its callbacks. An empty configured secret rejects all callbacks rather
// than accepting them unauthenticated.
func WebhookSecretMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				http.Error(w, "webhook disabled", http.StatusServiceUnavailable)
				return
			}
			provided := r.Header.Get("x-webhook-secret")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WebhookRateLimitMiddleware throttles callbacks per source IP using the
// Redis-backed limiter. A nil limiter disables throttling.
func WebhookRateLimitMiddleware(limiter *app.WebhookRateLimiter, limitPerMinute int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || limitPerMinute <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			count, retryAfter, err := limiter.Consume(r.Context(), clientIP(r), limitPerMinute)
			if err != nil {
				// Fail open: a limiter outage must not drop PSP callbacks.
				log.Printf("level=warn component=api middleware=rate_limit msg=\"limiter unavailable; allowing request\" err=%v", err)
				next.ServeHTTP(w, r)
				return
			}
			if count > limitPerMinute {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
