package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/pabbly/hookdash/internal/credentials"
	"github.com/pabbly/hookdash/internal/domain"
)

type actorKey struct{}

// Bearer stores the caller's bearer token in the request context so calls
// to the analytics service are made on the caller's behalf. With required
// set, API requests without a token are rejected; health endpoints are
// always open.
func Bearer(required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/health") || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" && required {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			ctx := r.Context()
			if token != "" {
				ctx = credentials.WithToken(ctx, token)
			}
			ctx = context.WithValue(ctx, actorKey{}, domain.Actor{
				Name:  strings.TrimSpace(r.Header.Get("X-User-Name")),
				Email: strings.TrimSpace(r.Header.Get("X-User-Email")),
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorFromContext returns who is making the request. Callers that sent no
// identity are recorded as "system".
func ActorFromContext(ctx context.Context) domain.Actor {
	a, _ := ctx.Value(actorKey{}).(domain.Actor)
	if a.Name == "" && a.Email == "" {
		return domain.Actor{Name: "system"}
	}
	if a.Name == "" {
		a.Name, _, _ = strings.Cut(a.Email, "@")
	}
	return a
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
