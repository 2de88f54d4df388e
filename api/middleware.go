package api

import (
	"context"
	"net/http"

	"github.com/warp/worktime-engine/worktime"
)

// Authentication happens upstream. The gateway forwards the caller as
// X-Actor-ID and X-Actor-Role; a missing role means employee.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

type actorKey struct{}

// RequireActor rejects requests without an actor and stores the actor in the
// request context.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderActorID)
		if id == "" {
			writeError(w, http.StatusUnauthorized, "Missing "+HeaderActorID+" header", nil)
			return
		}

		role := worktime.Role(r.Header.Get(HeaderActorRole))
		switch role {
		case "":
			role = worktime.RoleEmployee
		case worktime.RoleEmployee, worktime.RoleTeamLead, worktime.RoleCoordinator, worktime.RoleAdmin:
		default:
			// system is reserved for in-process jobs
			writeError(w, http.StatusForbidden, "Unknown actor role: "+string(role), nil)
			return
		}

		ctx := context.WithValue(r.Context(), actorKey{}, worktime.Actor{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(ctx context.Context) worktime.Actor {
	if a, ok := ctx.Value(actorKey{}).(worktime.Actor); ok {
		return a
	}
	return worktime.Actor{}
}
