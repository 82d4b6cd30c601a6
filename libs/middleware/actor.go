package middleware

import (
	"context"
	"net/http"

	uuid "github.com/satori/go.uuid"

	appctx "github.com/shinminje20/birdie-buddies-backend/libs/context"
	"github.com/shinminje20/birdie-buddies-backend/libs/handlers"
	"github.com/shinminje20/birdie-buddies-backend/libs/requestutils"
)

// ActorLookup resolves a user id to its admin flag, erroring if the user
// does not exist or is disabled
type ActorLookup func(ctx context.Context, actorID uuid.UUID) (bool, error)

// ActorRequired reads the authenticated user from the x-actor-id header and
// resolves it via lookup, rejecting requests without a valid actor
func ActorRequired(lookup ActorLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := r.Header.Get(requestutils.ActorIDHeaderKey)
			if raw == "" {
				(&handlers.AppError{
					Message: "missing actor id",
					Code:    http.StatusUnauthorized,
				}).ServeHTTP(w, r)
				return
			}

			actorID, err := uuid.FromString(raw)
			if err != nil {
				(&handlers.AppError{
					Cause:   err,
					Message: "invalid actor id",
					Code:    http.StatusUnauthorized,
				}).ServeHTTP(w, r)
				return
			}

			isAdmin, err := lookup(r.Context(), actorID)
			if err != nil {
				(&handlers.AppError{
					Cause:   err,
					Message: "unknown actor",
					Code:    http.StatusUnauthorized,
				}).ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), appctx.ActorIDCTXKey, actorID)
			ctx = context.WithValue(ctx, appctx.ActorIsAdminCTXKey, isAdmin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminRequired rejects requests whose actor is not an admin. Must be nested
// inside ActorRequired.
func AdminRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		isAdmin, ok := r.Context().Value(appctx.ActorIsAdminCTXKey).(bool)
		if !ok || !isAdmin {
			(&handlers.AppError{
				Message: "admin access required",
				Code:    http.StatusForbidden,
			}).ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetActorID returns the authenticated user id from the context
func GetActorID(ctx context.Context) (uuid.UUID, bool) {
	actorID, ok := ctx.Value(appctx.ActorIDCTXKey).(uuid.UUID)
	return actorID, ok
}

// IsAdmin returns whether the context's actor is an admin
func IsAdmin(ctx context.Context) bool {
	isAdmin, ok := ctx.Value(appctx.ActorIsAdminCTXKey).(bool)
	return ok && isAdmin
}
