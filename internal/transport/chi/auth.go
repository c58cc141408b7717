package chi

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/domain"
	"github.com/kailas-cloud/librarian/internal/logger"
)

// Authenticator resolves bearer tokens to actor ids.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// RateLimiter decides whether an actor may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, actorID string) error
}

type ctxKey int

const actorKey ctxKey = iota

// ActorID returns the authenticated actor id, or "" when unauthenticated.
func ActorID(ctx context.Context) string {
	id, _ := ctx.Value(actorKey).(string)
	return id
}

func withActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actorID)
}

// exemptPaths are routes that bypass authentication and rate limiting.
var exemptPaths = map[string]struct{}{
	"/health":        {},
	"/metrics":       {},
	"/auth/register": {},
	"/auth/login":    {},
}

// BearerAuthMiddleware validates Bearer tokens against the auth service and
// places the actor id in the request context. A nil auth disables
// authentication (pass-through with an anonymous actor).
func BearerAuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if auth == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(header, bearerPrefix) {
				writeError(w, http.StatusUnauthorized,
					"unauthorized", "authorization header must use Bearer scheme")
				return
			}

			actorID, err := auth.Authenticate(r.Context(), header[len(bearerPrefix):])
			if err != nil {
				logger.FromContext(r.Context()).Debug("token rejected", zap.Error(err))
				writeError(w, http.StatusUnauthorized, "unauthorized", domain.ErrUnauthorized.Error())
				return
			}

			next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actorID)))
		})
	}
}

// RateLimitMiddleware applies the per-actor limiter to authenticated routes.
// Must sit after BearerAuthMiddleware so the actor id is available.
func RateLimitMiddleware(limiter RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			if err := limiter.Allow(r.Context(), ActorID(r.Context())); err != nil {
				logger.FromContext(r.Context()).Warn("request rate limited",
					zap.String("actor_id", ActorID(r.Context())), zap.Error(err))
				writeError(w, http.StatusTooManyRequests, "rate_limited", domain.ErrRateLimited.Error())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
