package controllers

import (
	"net/http"
	"time"

	"github.com/angelmondragon/circulation-backend/api/middleware"
	pkgAuth "github.com/angelmondragon/circulation-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
)

func requireActor(r *http.Request) (pkgAuth.Actor, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return pkgAuth.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return actor, nil
}

func unavailable(name string) error {
	return pkgerrors.Newf(pkgerrors.CodeInternal, "%s service unavailable", name)
}

// renderNow is the instant used for derived fields such as overdue.
var renderNow = func() time.Time { return time.Now().UTC() }
