package directory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/daymark/daymark/internal/authz"
	"github.com/daymark/daymark/internal/platform/httpx"
	"github.com/daymark/daymark/internal/shared"
)

// Handler exposes read endpoints for workspaces and projects, guarded by
// the view permission on the requested scope.
type Handler struct {
	logger *slog.Logger
	repo   *Repository
	guard  authz.Middleware
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, repo *Repository, guard authz.Middleware) *Handler {
	return &Handler{logger: logger, repo: repo, guard: guard}
}

// MountRoutes registers directory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.guard.Require(authz.PermWorkspaceView, authz.WorkspaceScopeParam("workspaceID"))).
		Get("/workspaces/{workspaceID}", h.getWorkspace)
	r.With(h.guard.Require(authz.PermProjectView, authz.ProjectScopeParam("projectID"))).
		Get("/projects/{projectID}", h.getProject)
}

type workspaceResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	OwnerID   int64     `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

type projectResponse struct {
	ID          int64     `json:"id"`
	WorkspaceID int64     `json:"workspace_id"`
	Name        string    `json:"name"`
	LeadID      int64     `json:"lead_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func (h *Handler) getWorkspace(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "workspaceID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
		return
	}
	ws, err := h.repo.GetWorkspace(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, workspaceResponse{
		ID:        ws.ID,
		Name:      ws.Name,
		OwnerID:   ws.OwnerID,
		CreatedAt: ws.CreatedAt,
	})
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "projectID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
		return
	}
	p, err := h.repo.GetProject(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, projectResponse{
		ID:          p.ID,
		WorkspaceID: p.WorkspaceID,
		Name:        p.Name,
		LeadID:      p.LeadID,
		CreatedAt:   p.CreatedAt,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	if errors.Is(err, shared.ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
		return
	}
	h.logger.Error("directory lookup failed", slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
}
