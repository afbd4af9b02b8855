package httpserver

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Actor is the authenticated identity every core operation runs as (spec §9
// "the core accepts an authenticated actor object with {user_id, company_id,
// role} on every operation" — password hashing and session protection are
// explicitly out of scope and live in the front-end that sits in front of
// this service).
type Actor struct {
	UserID    uuid.UUID
	CompanyID uuid.UUID
	Role      string
}

type actorContextKey struct{}

// ActorHeaders names the trusted headers a front-end sets after it has
// already authenticated the caller, mirroring the dev-header-fallback tier
// of the teacher's auth chain.
const (
	ActorUserIDHeader    = "X-Actor-User-Id"
	ActorCompanyIDHeader = "X-Actor-Company-Id"
	ActorRoleHeader      = "X-Actor-Role"
)

// ActorMiddleware reads the trusted actor headers set by the front-end and
// stores the resulting Actor in the request context. Requests with missing
// or malformed headers proceed with no Actor in context; RequireActor
// rejects those before they reach a handler that needs one.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err1 := uuid.Parse(r.Header.Get(ActorUserIDHeader))
		companyID, err2 := uuid.Parse(r.Header.Get(ActorCompanyIDHeader))
		if err1 != nil || err2 != nil {
			next.ServeHTTP(w, r)
			return
		}

		actor := Actor{
			UserID:    userID,
			CompanyID: companyID,
			Role:      r.Header.Get(ActorRoleHeader),
		}
		ctx := context.WithValue(r.Context(), actorContextKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFromContext returns the Actor stored by ActorMiddleware, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// RequireActor rejects any request with no authenticated Actor.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ActorFromContext(r.Context()); !ok {
			RespondError(w, http.StatusUnauthorized, "unauthorized", "no authenticated actor")
			return
		}
		next.ServeHTTP(w, r)
	})
}
