package delegations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/daymark/daymark/internal/authz"
	"github.com/daymark/daymark/internal/shared"
)

// Repository provides PostgreSQL backed delegation persistence. Its
// active-read path implements the engine's DelegationStore port.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const delegationColumns = `id, from_principal_id, to_principal_id, scope_type, scope_id, permissions, created_at, expires_at, revoked_at`

// Insert stores a new delegation row.
func (r *Repository) Insert(ctx context.Context, d *authz.Delegation) error {
	const query = `INSERT INTO delegations (id, from_principal_id, to_principal_id, scope_type, scope_id, permissions, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.pool.Exec(ctx, query,
		d.ID, d.FromPrincipalID, d.ToPrincipalID, d.ScopeType, d.ScopeID, d.Permissions, d.CreatedAt, d.ExpiresAt)
	if err != nil {
		return fmt.Errorf("delegations: insert: %w", err)
	}
	return nil
}

// GetByID fetches a delegation regardless of its lifecycle state.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*authz.Delegation, error) {
	query := fmt.Sprintf(`SELECT %s FROM delegations WHERE id = $1`, delegationColumns)
	delegation, err := scanDelegation(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("delegations: get: %w", err)
	}
	return delegation, nil
}

// MarkRevoked stamps revoked_at on an active row. Rows already revoked
// keep their original timestamp.
func (r *Repository) MarkRevoked(ctx context.Context, id uuid.UUID, at time.Time) error {
	const query = `UPDATE delegations SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`
	tag, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("delegations: revoke: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either missing or already revoked; callers distinguish via GetByID.
		return nil
	}
	return nil
}

// ActiveDelegationsFor returns the delegations contributing to decisions
// for the principal in the exact scope at the given instant.
func (r *Repository) ActiveDelegationsFor(ctx context.Context, principalID int64, scopeType authz.ScopeType, scopeID int64, now time.Time) ([]authz.Delegation, error) {
	query := fmt.Sprintf(`SELECT %s FROM delegations
		WHERE to_principal_id = $1 AND scope_type = $2 AND scope_id = $3
		  AND revoked_at IS NULL AND expires_at > $4`, delegationColumns)
	return r.queryDelegations(ctx, query, principalID, scopeType, scopeID, now)
}

// ListReceived returns every delegation granted to the principal,
// including expired and revoked rows, newest first.
func (r *Repository) ListReceived(ctx context.Context, principalID int64) ([]authz.Delegation, error) {
	query := fmt.Sprintf(`SELECT %s FROM delegations WHERE to_principal_id = $1 ORDER BY created_at DESC`, delegationColumns)
	return r.queryDelegations(ctx, query, principalID)
}

// DeleteInactiveBefore physically removes rows that expired or were
// revoked before the cutoff. Storage hygiene only; decisions never
// depend on it.
func (r *Repository) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM delegations WHERE expires_at < $1 OR revoked_at < $1`
	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delegations: sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) queryDelegations(ctx context.Context, query string, args ...any) ([]authz.Delegation, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("delegations: query: %w", err)
	}
	defer rows.Close()

	var result []authz.Delegation
	for rows.Next() {
		delegation, err := scanDelegation(rows)
		if err != nil {
			return nil, fmt.Errorf("delegations: scan: %w", err)
		}
		result = append(result, *delegation)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delegations: query: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDelegation(row rowScanner) (*authz.Delegation, error) {
	var d authz.Delegation
	if err := row.Scan(&d.ID, &d.FromPrincipalID, &d.ToPrincipalID, &d.ScopeType, &d.ScopeID,
		&d.Permissions, &d.CreatedAt, &d.ExpiresAt, &d.RevokedAt); err != nil {
		return nil, err
	}
	return &d, nil
}
