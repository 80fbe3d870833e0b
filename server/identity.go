package server

import (
	"context"
	"net/http"

	"github.com/convhub/convhub/errors"
)

type contextKey string

const actorKey contextKey = "convhub.actor"

// HeaderIdentity resolves the acting user from the X-User-ID request header.
// Authentication proper is delegated to the deployment's reverse proxy; this
// layer only carries the resolved identity into the domain.
type HeaderIdentity struct{}

// CurrentActor returns the acting user id stored in the request context.
func (HeaderIdentity) CurrentActor(ctx context.Context) (string, error) {
	actor, ok := ctx.Value(actorKey).(string)
	if !ok || actor == "" {
		return "", errors.New("no authenticated user in request context")
	}
	return actor, nil
}

// withActor stores the X-User-ID header value in the request context.
func withActor(r *http.Request) *http.Request {
	actor := r.Header.Get("X-User-ID")
	if actor == "" {
		return r
	}
	return r.WithContext(context.WithValue(r.Context(), actorKey, actor))
}

// requireActor resolves the acting user or writes a 401.
func (s *HubServer) requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor, err := s.identity.CurrentActor(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
		return "", false
	}
	return actor, true
}
