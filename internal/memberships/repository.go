package memberships

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daymark/daymark/internal/authz"
	"github.com/daymark/daymark/internal/shared"
)

// ErrDuplicateMembership indicates a row already exists for the
// (principal, scope) tuple.
var ErrDuplicateMembership = errors.New("memberships: membership already exists")

// Repository provides PostgreSQL backed membership persistence. Its read
// path implements the engine's MembershipStore port.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const membershipColumns = `id, principal_id, scope_type, scope_id, role, custom_permissions, created_at, updated_at`

// FindMembership returns the membership for the tuple, or nil when no
// row exists.
func (r *Repository) FindMembership(ctx context.Context, principalID int64, scopeType authz.ScopeType, scopeID int64) (*authz.Membership, error) {
	query := fmt.Sprintf(`SELECT %s FROM memberships WHERE principal_id = $1 AND scope_type = $2 AND scope_id = $3`, membershipColumns)
	membership, err := scanMembership(r.pool.QueryRow(ctx, query, principalID, scopeType, scopeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("memberships: find: %w", err)
	}
	return membership, nil
}

// GetByID fetches a membership by primary key.
func (r *Repository) GetByID(ctx context.Context, id int64) (*authz.Membership, error) {
	query := fmt.Sprintf(`SELECT %s FROM memberships WHERE id = $1`, membershipColumns)
	membership, err := scanMembership(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("memberships: get: %w", err)
	}
	return membership, nil
}

// Create inserts a membership row.
func (r *Repository) Create(ctx context.Context, principalID int64, scopeType authz.ScopeType, scopeID int64, role authz.Role) (*authz.Membership, error) {
	query := fmt.Sprintf(`INSERT INTO memberships (principal_id, scope_type, scope_id, role, custom_permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, '{}', now(), now()) RETURNING %s`, membershipColumns)
	membership, err := scanMembership(r.pool.QueryRow(ctx, query, principalID, scopeType, scopeID, role))
	if err != nil {
		if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "23505" {
			return nil, ErrDuplicateMembership
		}
		return nil, fmt.Errorf("memberships: create: %w", err)
	}
	return membership, nil
}

// UpdateRole changes the role on an existing membership.
func (r *Repository) UpdateRole(ctx context.Context, id int64, role authz.Role) (*authz.Membership, error) {
	query := fmt.Sprintf(`UPDATE memberships SET role = $2, updated_at = now() WHERE id = $1 RETURNING %s`, membershipColumns)
	membership, err := scanMembership(r.pool.QueryRow(ctx, query, id, role))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("memberships: update role: %w", err)
	}
	return membership, nil
}

// SetCustomPermissions replaces the custom permission list.
func (r *Repository) SetCustomPermissions(ctx context.Context, id int64, permissions []string) (*authz.Membership, error) {
	if permissions == nil {
		permissions = []string{}
	}
	query := fmt.Sprintf(`UPDATE memberships SET custom_permissions = $2, updated_at = now() WHERE id = $1 RETURNING %s`, membershipColumns)
	membership, err := scanMembership(r.pool.QueryRow(ctx, query, id, permissions))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("memberships: set custom permissions: %w", err)
	}
	return membership, nil
}

// Delete removes a membership. Returns shared.ErrNotFound when no row
// was deleted.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM memberships WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("memberships: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ListForScope returns every membership in a scope ordered by principal.
func (r *Repository) ListForScope(ctx context.Context, scopeType authz.ScopeType, scopeID int64) ([]authz.Membership, error) {
	query := fmt.Sprintf(`SELECT %s FROM memberships WHERE scope_type = $1 AND scope_id = $2 ORDER BY principal_id`, membershipColumns)
	rows, err := r.pool.Query(ctx, query, scopeType, scopeID)
	if err != nil {
		return nil, fmt.Errorf("memberships: list for scope: %w", err)
	}
	defer rows.Close()

	var result []authz.Membership
	for rows.Next() {
		membership, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("memberships: scan: %w", err)
		}
		result = append(result, *membership)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memberships: list for scope: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMembership(row rowScanner) (*authz.Membership, error) {
	var (
		m         authz.Membership
		createdAt time.Time
		updatedAt time.Time
	)
	if err := row.Scan(&m.ID, &m.PrincipalID, &m.ScopeType, &m.ScopeID, &m.Role, &m.CustomPermissions, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	m.CreatedAt = createdAt
	m.UpdatedAt = updatedAt
	return &m, nil
}
