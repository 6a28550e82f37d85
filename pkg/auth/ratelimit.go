package auth

import (
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/roseglass/pkg/apierror"
	"github.com/Mindburn-Labs/roseglass/pkg/limiter"
)

// RateLimitMiddleware applies a per-user token bucket after authentication,
// keyed on the principal and falling back to the remote address. A nil store
// or a store error lets the request through.
func RateLimitMiddleware(store limiter.Store, policy limiter.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			actorID := "ip:" + r.RemoteAddr
			if p, err := GetPrincipal(r.Context()); err == nil {
				actorID = "user:" + p.UserID
			}

			allowed, err := store.Allow(r.Context(), actorID, policy, 1)
			if err != nil {
				slog.Warn("rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				apierror.WriteTooManyRequests(w, r, policy.RetryAfter())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
