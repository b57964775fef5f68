package middleware

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/api/responses"
	pkgAuth "github.com/angelmondragon/circulation-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

const requestIDHeader = "X-Request-Id"

const ctxScope contextKey = "request_scope"

// Inbound ids are echoed into logs, so only short opaque tokens are trusted.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{8,64}$`)

// Route parameters that name a circulation resource, and the log field each
// one becomes. entryId goes through logger.WithEntryID.
var scopedParams = []struct{ param, field string }{
	{"fineId", "fine_id"},
	{"copyId", "copy_id"},
	{"titleId", "title_id"},
}

// requestScope collects what inner middleware learns about a request so the
// outer layers can log it after the handler returns or panics.
type requestScope struct {
	mu        sync.Mutex
	requestID string
	actor     pkgAuth.Actor
}

func scopeFrom(ctx context.Context) *requestScope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(ctxScope).(*requestScope)
	return s
}

func (s *requestScope) setActor(actor pkgAuth.Actor) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.actor = actor
	s.mu.Unlock()
}

// annotate tags ctx with the actor and the routed resource ids. Route params
// are read late because chi resolves them after the outer middleware ran.
func (s *requestScope) annotate(ctx context.Context, logg *logger.Logger) context.Context {
	if s == nil || logg == nil {
		return ctx
	}
	s.mu.Lock()
	actor := s.actor
	s.mu.Unlock()
	if actor.UserID != uuid.Nil {
		ctx = logg.WithUserID(ctx, actor.UserID.String())
		ctx = logg.WithActorRole(ctx, actor.Role.String())
	}
	rctx := chi.RouteContext(ctx)
	if rctx == nil {
		return ctx
	}
	if id := rctx.URLParam("entryId"); id != "" {
		ctx = logg.WithEntryID(ctx, id)
	}
	fields := map[string]any{}
	for _, p := range scopedParams {
		if v := rctx.URLParam(p.param); v != "" {
			fields[p.field] = v
		}
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		fields["route"] = pattern
	}
	if len(fields) == 0 {
		return ctx
	}
	return logg.WithFields(ctx, fields)
}

// RequestScope is the outermost middleware. It assigns the request id, opens
// the scope Auth fills in and turns a handler panic into a logged 500.
func RequestScope(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if !requestIDPattern.MatchString(reqID) {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)

			scope := &requestScope{requestID: reqID}
			ctx := context.WithValue(r.Context(), ctxScope, scope)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}

			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				err := fmt.Errorf("panic: %v", rec)
				if logg != nil {
					logg.Error(scope.annotate(ctx, logg), "panic.recovered", err)
				}
				responses.WriteError(ctx, nil, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "panic"))
			}()

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFromContext returns the id RequestScope assigned, or "".
func RequestIDFromContext(ctx context.Context) string {
	if s := scopeFrom(ctx); s != nil {
		return s.requestID
	}
	return ""
}
