package api

import (
	"context"
	"net/http"
	"strings"
)

// Headers set by the gateway in front of this service once the caller is
// authenticated.
const (
	ActorHeader        = "X-Actor-ID"
	OrganizationHeader = "X-Organization-ID"
	AdminHeader        = "X-Actor-Admin"
)

type actorKey struct{}

// Actor identifies who issued a request.
type Actor struct {
	ID             string
	OrganizationID string
	Admin          bool
}

// ActorMiddleware reads the caller identity headers into the request context.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := Actor{
			ID:             strings.TrimSpace(r.Header.Get(ActorHeader)),
			OrganizationID: strings.TrimSpace(r.Header.Get(OrganizationHeader)),
			Admin:          r.Header.Get(AdminHeader) == "true",
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, a)))
	})
}

// ActorFrom returns the actor stored by ActorMiddleware, or the zero Actor.
func ActorFrom(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a
}
