package middleware

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/evyataryagoni/geoquery/internal/limiter"
	"github.com/evyataryagoni/geoquery/internal/models"
)

const rateLimitMessage = "Rate limit exceeded. Please try again later."

// RateLimitMiddleware enforces rate limiting per client IP (returns 429 when exceeded)
// Mount it after chi's RealIP so proxy headers are already folded into RemoteAddr
func RateLimitMiddleware(lim limiter.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lim.Allow(r.Context(), clientKey(r)) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(models.ErrorResponse{Error: rateLimitMessage})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey strips the port so every connection from one host shares a budget
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
