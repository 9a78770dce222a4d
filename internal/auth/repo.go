package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGSessionAudit implements SessionAudit using PostgreSQL.
type PGSessionAudit struct {
	pool *pgxpool.Pool
}

// NewSessionAudit constructs a PostgreSQL session audit store.
func NewSessionAudit(pool *pgxpool.Pool) *PGSessionAudit {
	return &PGSessionAudit{pool: pool}
}

// CreateSession persists a new login session for auditing.
func (r *PGSessionAudit) CreateSession(ctx context.Context, id string, principalID int64, expiresAt time.Time, ip, ua string) error {
	const query = `INSERT INTO sessions (id, principal_id, created_at, expires_at, ip, ua)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))`
	if _, err := r.pool.Exec(ctx, query, id, principalID, time.Now().UTC(), expiresAt.UTC(), ip, ua); err != nil {
		return fmt.Errorf("auth: create session: %w", err)
	}
	return nil
}

// DeleteSession removes a session record.
func (r *PGSessionAudit) DeleteSession(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("auth: delete session: %w", err)
	}
	return nil
}

var _ SessionAudit = (*PGSessionAudit)(nil)
