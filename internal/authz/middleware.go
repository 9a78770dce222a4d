package authz

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/daymark/daymark/internal/shared"
)

// ScopeFunc extracts the target scope from a request, typically from the
// route parameters the handler was mounted with.
type ScopeFunc func(r *http.Request) (ScopeType, int64, error)

// WorkspaceScopeParam builds a ScopeFunc reading a workspace id from the
// named chi URL parameter.
func WorkspaceScopeParam(name string) ScopeFunc {
	return scopeParam(ScopeWorkspace, name)
}

// ProjectScopeParam builds a ScopeFunc reading a project id from the
// named chi URL parameter.
func ProjectScopeParam(name string) ScopeFunc {
	return scopeParam(ScopeProject, name)
}

func scopeParam(scopeType ScopeType, name string) ScopeFunc {
	return func(r *http.Request) (ScopeType, int64, error) {
		raw := chi.URLParam(r, name)
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return scopeType, 0, errors.New("authz: malformed scope id")
		}
		return scopeType, id, nil
	}
}

// Middleware guards HTTP routes with engine decisions. Every failure
// mode denies: missing session, malformed scope, store errors.
type Middleware struct {
	Engine *Engine
	Logger *slog.Logger
}

// Require allows the request through when the caller holds the
// permission in the extracted scope.
func (m Middleware) Require(permission string, scope ScopeFunc) func(http.Handler) http.Handler {
	return m.guard(scope, func(r *http.Request, principalID int64, scopeType ScopeType, scopeID int64) (bool, error) {
		return m.Engine.Decide(r.Context(), principalID, scopeType, scopeID, permission)
	})
}

// RequireAny allows the request through when the caller holds at least
// one of the permissions in the extracted scope.
func (m Middleware) RequireAny(permissions []string, scope ScopeFunc) func(http.Handler) http.Handler {
	return m.guard(scope, func(r *http.Request, principalID int64, scopeType ScopeType, scopeID int64) (bool, error) {
		return m.Engine.DecideAny(r.Context(), principalID, scopeType, scopeID, permissions)
	})
}

// RequireAll allows the request through only when the caller holds every
// permission in the extracted scope.
func (m Middleware) RequireAll(permissions []string, scope ScopeFunc) func(http.Handler) http.Handler {
	return m.guard(scope, func(r *http.Request, principalID int64, scopeType ScopeType, scopeID int64) (bool, error) {
		return m.Engine.DecideAll(r.Context(), principalID, scopeType, scopeID, permissions)
	})
}

func (m Middleware) guard(scope ScopeFunc, decide func(*http.Request, int64, ScopeType, int64) (bool, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID, ok := CurrentPrincipalID(r)
			if !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			scopeType, scopeID, err := scope(r)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
				return
			}
			allowed, err := decide(r, principalID, scopeType, scopeID)
			if err != nil {
				switch {
				case errors.Is(err, ErrUnknownScope):
					http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
				case errors.Is(err, ErrUnknownPermission):
					m.log("route guards an unknown permission", err)
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				default:
					// Fail closed: a store failure is a denial.
					m.log("decision failed", err)
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				}
				return
			}
			if !allowed {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) log(msg string, err error) {
	if m.Logger != nil {
		m.Logger.Error(msg, slog.Any("error", err))
	}
}

// CurrentPrincipalID extracts the authenticated principal from the
// request session.
func CurrentPrincipalID(r *http.Request) (int64, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0, false
	}
	raw := sess.User()
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
