package auth

import (
	"net/http"

	"golang.org/x/time/rate"

	"github.com/glytch-labs/ucp/core/pkg/api"
	"github.com/glytch-labs/ucp/core/pkg/kernel"
)

// RateLimitMiddleware enforces a per-actor fixed window at the HTTP layer.
// The actor ID comes from the authenticated Principal, falling back to the
// remote address. On limit exhaustion it returns 429 with Retry-After.
func RateLimitMiddleware(store kernel.LimiterStore, policy kernel.WindowPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Fail open if no store configured (dev mode)
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			actorID := r.RemoteAddr
			if principal, err := GetPrincipal(r.Context()); err == nil {
				actorID = principal.GetID()
			}

			allowed, reset, err := store.Allow(r.Context(), actorID, policy)
			if err != nil {
				// Fail open on limiter errors to avoid blocking all traffic
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				if reset < 1 {
					reset = 1
				}
				api.WriteTooManyRequests(w, reset)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ThrottleMiddleware applies a process-wide token bucket in front of the
// per-actor windows, shedding load before it reaches the stores.
func ThrottleMiddleware(rps float64, burst int) func(http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				api.WriteTooManyRequests(w, 1)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
