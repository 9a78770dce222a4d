package authz

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/daymark/daymark/internal/shared"
)

var errTestUnavailable = errors.New("connection refused")

func middlewareRouter(t *testing.T, f *engineFixture) chi.Router {
	t.Helper()
	mw := Middleware{Engine: f.engine}
	r := chi.NewRouter()
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.With(mw.Require(PermTaskCreate, WorkspaceScopeParam("workspaceID"))).
		Get("/workspaces/{workspaceID}/tasks", ok)
	r.With(mw.RequireAll([]string{PermTaskCreate, PermWorkspaceManageMembers}, WorkspaceScopeParam("workspaceID"))).
		Get("/workspaces/{workspaceID}/settings", ok)
	return r
}

func doAuthed(t *testing.T, r chi.Router, principalID, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if principalID != "" {
		sess := &shared.Session{}
		sess.SetUser(principalID)
		req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareAllowsPermittedPrincipal(t *testing.T) {
	f := newEngineFixture(t)
	r := middlewareRouter(t, f)

	rec := doAuthed(t, r, "1", "/workspaces/10/tasks")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMiddlewareDeniesWithoutSession(t *testing.T) {
	f := newEngineFixture(t)
	r := middlewareRouter(t, f)

	rec := doAuthed(t, r, "", "/workspaces/10/tasks")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestMiddlewareDeniesMissingPermission(t *testing.T) {
	f := newEngineFixture(t)
	r := middlewareRouter(t, f)

	// Principal 1 is a workspace member, not an admin.
	rec := doAuthed(t, r, "1", "/workspaces/10/settings")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	rec = doAuthed(t, r, "2", "/workspaces/10/settings")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for superadmin, got %d", rec.Code)
	}
}

func TestMiddlewareUnknownScopeIs404(t *testing.T) {
	f := newEngineFixture(t)
	r := middlewareRouter(t, f)

	rec := doAuthed(t, r, "1", "/workspaces/404/tasks")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = doAuthed(t, r, "1", "/workspaces/bogus/tasks")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for malformed id, got %d", rec.Code)
	}
}

func TestMiddlewareFailsClosedOnStoreFailure(t *testing.T) {
	f := newEngineFixture(t)
	r := middlewareRouter(t, f)
	f.memberships.err = errTestUnavailable

	rec := doAuthed(t, r, "1", "/workspaces/10/tasks")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}
