package delegations

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/daymark/daymark/internal/authz"
	"github.com/daymark/daymark/internal/platform/httpx"
	"github.com/daymark/daymark/internal/shared"
)

// Handler wires HTTP endpoints for delegation management. The caller is
// always the grantor on create and the revoker on delete; receiving
// lists are scoped to the caller.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers delegation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.listReceived)
	r.Delete("/{delegationID}", h.revoke)
}

type createRequest struct {
	ToPrincipalID int64     `json:"to_principal_id" validate:"required,gt=0"`
	ScopeType     string    `json:"scope_type" validate:"required,oneof=workspace project"`
	ScopeID       int64     `json:"scope_id" validate:"required,gt=0"`
	Permissions   []string  `json:"permissions" validate:"required,min=1,dive,required"`
	ExpiresAt     time.Time `json:"expires_at" validate:"required"`
}

type delegationResponse struct {
	ID              string     `json:"id"`
	FromPrincipalID int64      `json:"from_principal_id"`
	ToPrincipalID   int64      `json:"to_principal_id"`
	ScopeType       string     `json:"scope_type"`
	ScopeID         int64      `json:"scope_id"`
	Permissions     []string   `json:"permissions"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	Active          bool       `json:"active"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	callerID, ok := authz.CurrentPrincipalID(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	delegation, err := h.service.Create(r.Context(), callerID, req.ToPrincipalID,
		authz.ScopeType(req.ScopeType), req.ScopeID, req.Permissions, req.ExpiresAt)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, h.toResponse(delegation))
}

func (h *Handler) listReceived(w http.ResponseWriter, r *http.Request) {
	callerID, ok := authz.CurrentPrincipalID(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	received, err := h.service.ListReceived(r.Context(), callerID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]delegationResponse, 0, len(received))
	for i := range received {
		out = append(out, h.toResponse(&received[i]))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"delegations": out})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	callerID, ok := authz.CurrentPrincipalID(r)
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "delegationID"))
	if err != nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
		return
	}
	if err := h.service.Revoke(r.Context(), id, callerID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authz.ErrInvalidDelegation):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Delegation", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	case errors.Is(err, shared.ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
	case errors.Is(err, authz.ErrUnknownScope):
		httpx.Problem(w, http.StatusNotFound, "Unknown Scope", "")
	default:
		h.logger.Error("delegation request failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func (h *Handler) toResponse(d *authz.Delegation) delegationResponse {
	return delegationResponse{
		ID:              d.ID.String(),
		FromPrincipalID: d.FromPrincipalID,
		ToPrincipalID:   d.ToPrincipalID,
		ScopeType:       string(d.ScopeType),
		ScopeID:         d.ScopeID,
		Permissions:     d.Permissions,
		CreatedAt:       d.CreatedAt,
		ExpiresAt:       d.ExpiresAt,
		RevokedAt:       d.RevokedAt,
		Active:          d.ActiveAt(h.service.Now()),
	}
}
