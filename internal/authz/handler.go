package authz

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/daymark/daymark/internal/platform/httpx"
)

// Handler exposes the engine's read surface over JSON for UI
// affordances: single decisions, effective permission sets and effective
// roles for the calling principal.
type Handler struct {
	logger *slog.Logger
	engine *Engine
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	return &Handler{logger: logger, engine: engine}
}

// MountRoutes registers the authz query routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/decide", h.decide)
	r.Get("/permissions", h.effectivePermissions)
	r.Get("/role", h.effectiveRole)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request) {
	principalID, ok := CurrentPrincipalID(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	scopeType, scopeID, ok := scopeFromQuery(w, r)
	if !ok {
		return
	}
	permission := r.URL.Query().Get("permission")
	allowed, err := h.engine.Decide(r.Context(), principalID, scopeType, scopeID, permission)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"allowed": allowed})
}

func (h *Handler) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	principalID, ok := CurrentPrincipalID(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	scopeType, scopeID, ok := scopeFromQuery(w, r)
	if !ok {
		return
	}
	perms, err := h.engine.EffectivePermissions(r.Context(), principalID, scopeType, scopeID)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) effectiveRole(w http.ResponseWriter, r *http.Request) {
	principalID, ok := CurrentPrincipalID(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	scopeType, scopeID, ok := scopeFromQuery(w, r)
	if !ok {
		return
	}
	role, err := h.engine.EffectiveRole(r.Context(), principalID, scopeType, scopeID)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"role": string(role)})
}

func (h *Handler) respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnknownScope):
		httpx.Problem(w, http.StatusNotFound, "Unknown Scope", err.Error())
	case errors.Is(err, ErrUnknownPermission):
		httpx.Problem(w, http.StatusBadRequest, "Unknown Permission", err.Error())
	default:
		if h.logger != nil {
			h.logger.Error("authz query failed", slog.Any("error", err))
		}
		httpx.Problem(w, http.StatusServiceUnavailable, "Store Unavailable", "")
	}
}

func scopeFromQuery(w http.ResponseWriter, r *http.Request) (ScopeType, int64, bool) {
	scopeType := ScopeType(r.URL.Query().Get("scope_type"))
	if !scopeType.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "scope_type must be workspace or project")
		return "", 0, false
	}
	scopeID, err := strconv.ParseInt(r.URL.Query().Get("scope_id"), 10, 64)
	if err != nil || scopeID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "scope_id must be a positive integer")
		return "", 0, false
	}
	return scopeType, scopeID, true
}
