package shared

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// ActorHeader names the HTTP header carrying the acting employee id.
// It is used for attribution only; authorization is handled upstream.
const ActorHeader = "X-Actor-ID"

type actorContextKey struct{}

// ContextWithActor stores the acting employee id in context.
func ContextWithActor(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, actorContextKey{}, id)
}

// ActorFromContext extracts the acting employee id from context.
// Returns uuid.Nil when no actor was attached.
func ActorFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(actorContextKey{}).(uuid.UUID)
	return id
}

// ActorMiddleware reads the actor header into the request context.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get(ActorHeader); raw != "" {
			if id, err := uuid.Parse(raw); err == nil {
				r = r.WithContext(ContextWithActor(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}
