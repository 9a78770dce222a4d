package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daymark/daymark/internal/authz"
	"github.com/daymark/daymark/internal/shared"
)

// Repository provides PostgreSQL backed lookups for principals,
// workspaces and projects. It implements the engine's PrincipalStore and
// ScopeStore ports.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindPrincipal returns the decision-relevant identity fields, or nil
// when the principal does not exist.
func (r *Repository) FindPrincipal(ctx context.Context, id int64) (*authz.Principal, error) {
	const query = `SELECT id, global_role, is_active FROM principals WHERE id = $1`
	var principal authz.Principal
	if err := r.pool.QueryRow(ctx, query, id).Scan(&principal.ID, &principal.GlobalRole, &principal.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("directory: find principal: %w", err)
	}
	return &principal, nil
}

// FindPrincipalByEmail returns the full account record for login.
func (r *Repository) FindPrincipalByEmail(ctx context.Context, email string) (*PrincipalRecord, error) {
	const query = `SELECT id, email, name, password_hash, global_role, is_active, created_at, updated_at
		FROM principals WHERE lower(email) = lower($1)`
	var rec PrincipalRecord
	err := r.pool.QueryRow(ctx, query, email).Scan(
		&rec.ID, &rec.Email, &rec.Name, &rec.PasswordHash,
		&rec.GlobalRole, &rec.Active, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("directory: find principal by email: %w", err)
	}
	return &rec, nil
}

// ResolveScope resolves a scope reference to its canonical shape with
// ownership markers, wrapping dangling references in ErrUnknownScope.
func (r *Repository) ResolveScope(ctx context.Context, scopeType authz.ScopeType, scopeID int64) (*authz.ScopeInfo, error) {
	switch scopeType {
	case authz.ScopeWorkspace:
		return r.resolveWorkspace(ctx, scopeID)
	case authz.ScopeProject:
		return r.resolveProject(ctx, scopeID)
	default:
		return nil, fmt.Errorf("%w: scope type %q", authz.ErrUnknownScope, scopeType)
	}
}

func (r *Repository) resolveWorkspace(ctx context.Context, workspaceID int64) (*authz.ScopeInfo, error) {
	const query = `SELECT owner_id FROM workspaces WHERE id = $1`
	var ownerID int64
	if err := r.pool.QueryRow(ctx, query, workspaceID).Scan(&ownerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: workspace/%d", authz.ErrUnknownScope, workspaceID)
		}
		return nil, fmt.Errorf("%w: resolve workspace: %v", authz.ErrStoreUnavailable, err)
	}
	return &authz.ScopeInfo{
		Scope:   authz.WorkspaceScope(workspaceID),
		OwnerID: ownerID,
	}, nil
}

func (r *Repository) resolveProject(ctx context.Context, projectID int64) (*authz.ScopeInfo, error) {
	const query = `SELECT p.workspace_id, p.lead_id, w.owner_id
		FROM projects p JOIN workspaces w ON w.id = p.workspace_id
		WHERE p.id = $1`
	var workspaceID, leadID, ownerID int64
	if err := r.pool.QueryRow(ctx, query, projectID).Scan(&workspaceID, &leadID, &ownerID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: project/%d", authz.ErrUnknownScope, projectID)
		}
		return nil, fmt.Errorf("%w: resolve project: %v", authz.ErrStoreUnavailable, err)
	}
	return &authz.ScopeInfo{
		Scope:   authz.ProjectScope(projectID, workspaceID),
		OwnerID: ownerID,
		LeadID:  leadID,
	}, nil
}

// GetWorkspace fetches a workspace record.
func (r *Repository) GetWorkspace(ctx context.Context, id int64) (*Workspace, error) {
	const query = `SELECT id, name, owner_id, created_at, updated_at FROM workspaces WHERE id = $1`
	var ws Workspace
	if err := r.pool.QueryRow(ctx, query, id).Scan(&ws.ID, &ws.Name, &ws.OwnerID, &ws.CreatedAt, &ws.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("directory: get workspace: %w", err)
	}
	return &ws, nil
}

// GetProject fetches a project record.
func (r *Repository) GetProject(ctx context.Context, id int64) (*Project, error) {
	const query = `SELECT id, workspace_id, name, lead_id, created_at, updated_at FROM projects WHERE id = $1`
	var p Project
	if err := r.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.WorkspaceID, &p.Name, &p.LeadID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("directory: get project: %w", err)
	}
	return &p, nil
}
