package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/render"

	"collab-server/core"
	"collab-server/handlers/auth"
)

type contextKey string

// ActorContextKey carries the core.Actor resolved from the bearer token.
// Handlers read it through ActorFromContext and never see raw claims.
const ActorContextKey = contextKey("actor")

// AuthJWT rejects requests without a valid bearer token and resolves the
// token's claims into the actor identity the collab managers operate on.
func AuthJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Authorization header is required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		claims, err := auth.ParseJWT(parts[1])
		if err != nil {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Invalid token"})
			return
		}

		ctx := context.WithValue(r.Context(), ActorContextKey, claims.Actor())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFromContext returns the actor injected by AuthJWT.
func ActorFromContext(ctx context.Context) (core.Actor, bool) {
	actor, ok := ctx.Value(ActorContextKey).(core.Actor)
	return actor, ok
}
