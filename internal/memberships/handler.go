package memberships

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/daymark/daymark/internal/authz"
	"github.com/daymark/daymark/internal/platform/httpx"
	"github.com/daymark/daymark/internal/shared"
)

// Handler wires HTTP endpoints for membership management. Mutations are
// gated through the decision point on the manage-members permission of
// the membership's scope.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	engine    *authz.Engine
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, engine *authz.Engine) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		engine:    engine,
		validator: validator.New(),
	}
}

// MountRoutes registers membership routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listForScope)
	r.Post("/", h.addMember)
	r.Delete("/{membershipID}", h.removeMember)
	r.Put("/{membershipID}/role", h.changeRole)
	r.Put("/{membershipID}/permissions", h.setCustomPermissions)
}

type addMemberRequest struct {
	PrincipalID int64  `json:"principal_id" validate:"required,gt=0"`
	ScopeType   string `json:"scope_type" validate:"required,oneof=workspace project"`
	ScopeID     int64  `json:"scope_id" validate:"required,gt=0"`
	Role        string `json:"role" validate:"required,oneof=viewer member admin"`
}

type changeRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=viewer member admin"`
}

type setPermissionsRequest struct {
	Permissions []string `json:"permissions" validate:"required"`
}

type membershipResponse struct {
	ID                int64    `json:"id"`
	PrincipalID       int64    `json:"principal_id"`
	ScopeType         string   `json:"scope_type"`
	ScopeID           int64    `json:"scope_id"`
	Role              string   `json:"role"`
	CustomPermissions []string `json:"custom_permissions"`
}

func (h *Handler) listForScope(w http.ResponseWriter, r *http.Request) {
	scopeType := authz.ScopeType(r.URL.Query().Get("scope_type"))
	if !scopeType.Valid() {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "scope_type must be workspace or project")
		return
	}
	scopeID, err := strconv.ParseInt(r.URL.Query().Get("scope_id"), 10, 64)
	if err != nil || scopeID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "scope_id must be a positive integer")
		return
	}
	if !h.authorizeScope(w, r, scopeType, scopeID) {
		return
	}
	list, err := h.service.ListForScope(r.Context(), scopeType, scopeID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]membershipResponse, 0, len(list))
	for i := range list {
		out = append(out, toResponse(&list[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"memberships": out})
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	var req addMemberRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if !h.validate(w, req) {
		return
	}
	scopeType := authz.ScopeType(req.ScopeType)
	if !h.authorizeScope(w, r, scopeType, req.ScopeID) {
		return
	}
	membership, err := h.service.AddMember(r.Context(), req.PrincipalID, scopeType, req.ScopeID, authz.Role(req.Role))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(membership))
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	membership, ok := h.loadAndAuthorize(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveMember(r.Context(), membership.ID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) changeRole(w http.ResponseWriter, r *http.Request) {
	membership, ok := h.loadAndAuthorize(w, r)
	if !ok {
		return
	}
	var req changeRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if !h.validate(w, req) {
		return
	}
	updated, err := h.service.ChangeRole(r.Context(), membership.ID, authz.Role(req.Role))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(updated))
}

func (h *Handler) setCustomPermissions(w http.ResponseWriter, r *http.Request) {
	membership, ok := h.loadAndAuthorize(w, r)
	if !ok {
		return
	}
	var req setPermissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if !h.validate(w, req) {
		return
	}
	updated, err := h.service.SetCustomPermissions(r.Context(), membership.ID, req.Permissions)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(updated))
}

// loadAndAuthorize fetches the target membership and checks the caller
// holds manage-members in its scope.
func (h *Handler) loadAndAuthorize(w http.ResponseWriter, r *http.Request) (*authz.Membership, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "membershipID"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
		return nil, false
	}
	membership, err := h.service.GetByID(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return nil, false
	}
	if !h.authorizeScope(w, r, membership.ScopeType, membership.ScopeID) {
		return nil, false
	}
	return membership, true
}

func (h *Handler) authorizeScope(w http.ResponseWriter, r *http.Request, scopeType authz.ScopeType, scopeID int64) bool {
	callerID, ok := authz.CurrentPrincipalID(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return false
	}
	permission := authz.PermWorkspaceManageMembers
	if scopeType == authz.ScopeProject {
		permission = authz.PermProjectManageMembers
	}
	allowed, err := h.engine.Decide(r.Context(), callerID, scopeType, scopeID, permission)
	if err != nil {
		if errors.Is(err, authz.ErrUnknownScope) {
			httpx.Problem(w, http.StatusNotFound, "Unknown Scope", "")
			return false
		}
		h.logger.Error("membership authorization failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return false
	}
	if !allowed {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
		return false
	}
	return true
}

func (h *Handler) validate(w http.ResponseWriter, req any) bool {
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	case errors.Is(err, ErrDuplicateMembership):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrInvalidRole), errors.Is(err, ErrIllegalPermission), errors.Is(err, authz.ErrUnknownPermission):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, authz.ErrUnknownScope):
		httpx.Problem(w, http.StatusNotFound, "Unknown Scope", "")
	default:
		h.logger.Error("membership request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toResponse(m *authz.Membership) membershipResponse {
	perms := m.CustomPermissions
	if perms == nil {
		perms = []string{}
	}
	return membershipResponse{
		ID:                m.ID,
		PrincipalID:       m.PrincipalID,
		ScopeType:         string(m.ScopeType),
		ScopeID:           m.ScopeID,
		Role:              string(m.Role),
		CustomPermissions: perms,
	}
}
