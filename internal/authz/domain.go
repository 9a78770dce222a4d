package authz

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the engine. Denial is never an error; these cover
// malformed input and infrastructure failure only.
var (
	// ErrUnknownScope indicates a dangling or malformed scope reference.
	ErrUnknownScope = errors.New("authz: unknown scope")
	// ErrUnknownPermission indicates an identifier outside the catalog.
	// This is a caller bug, not user input.
	ErrUnknownPermission = errors.New("authz: unknown permission")
	// ErrInvalidDelegation indicates a delegation failed creation-time
	// validation.
	ErrInvalidDelegation = errors.New("authz: invalid delegation")
	// ErrStoreUnavailable indicates the backing store could not be read.
	// Callers must treat it as a denial.
	ErrStoreUnavailable = errors.New("authz: store unavailable")
)

// Principal is the identity a decision is computed for.
type Principal struct {
	ID         int64
	GlobalRole Role
	Active     bool
}

// ScopeType discriminates the two scope levels.
type ScopeType string

const (
	ScopeWorkspace ScopeType = "workspace"
	ScopeProject   ScopeType = "project"
)

// Valid reports whether the scope type is recognized.
func (t ScopeType) Valid() bool {
	return t == ScopeWorkspace || t == ScopeProject
}

// Scope is the resource boundary a permission is evaluated against. A
// project scope always carries its enclosing workspace id so resolution
// can consider both levels in one pass.
type Scope struct {
	Type        ScopeType
	ID          int64
	WorkspaceID int64
}

// WorkspaceScope builds a workspace-level scope.
func WorkspaceScope(workspaceID int64) Scope {
	return Scope{Type: ScopeWorkspace, ID: workspaceID, WorkspaceID: workspaceID}
}

// ProjectScope builds a project-level scope nested in a workspace.
func ProjectScope(projectID, workspaceID int64) Scope {
	return Scope{Type: ScopeProject, ID: projectID, WorkspaceID: workspaceID}
}

// Membership ties a principal to a scope with a role and optional
// additive custom permission grants.
type Membership struct {
	ID                int64
	PrincipalID       int64
	ScopeType         ScopeType
	ScopeID           int64
	Role              Role
	CustomPermissions []string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Delegation is a time-bounded additive grant of specific permissions
// from one principal to another, scoped to the exact (scopeType, scopeId)
// it was created against.
type Delegation struct {
	ID              uuid.UUID
	FromPrincipalID int64
	ToPrincipalID   int64
	ScopeType       ScopeType
	ScopeID         int64
	Permissions     []string
	CreatedAt       time.Time
	ExpiresAt       time.Time
	RevokedAt       *time.Time
}

// ActiveAt reports whether the delegation contributes to decisions at the
// given instant. Expired and revoked rows persist for audit but are
// excluded from every decision.
func (d Delegation) ActiveAt(now time.Time) bool {
	return d.RevokedAt == nil && now.Before(d.ExpiresAt)
}

// ScopeInfo is the resolved shape of a scope: its canonical Scope value
// plus the ownership markers the resolver short-circuits on. OwnerID is
// the workspace owner (the enclosing workspace's owner for project
// scopes); LeadID is the project lead and zero for workspace scopes.
type ScopeInfo struct {
	Scope   Scope
	OwnerID int64
	LeadID  int64
}

// PrincipalStore looks up principal identity records.
type PrincipalStore interface {
	// FindPrincipal returns nil without error when the principal does
	// not exist.
	FindPrincipal(ctx context.Context, id int64) (*Principal, error)
}

// ScopeStore resolves scope references against the directory.
type ScopeStore interface {
	// ResolveScope returns ErrUnknownScope (possibly wrapped) when the
	// reference is dangling.
	ResolveScope(ctx context.Context, scopeType ScopeType, scopeID int64) (*ScopeInfo, error)
}

// MembershipStore reads membership rows. The engine never writes them.
type MembershipStore interface {
	// FindMembership returns nil without error when no row exists for
	// the tuple.
	FindMembership(ctx context.Context, principalID int64, scopeType ScopeType, scopeID int64) (*Membership, error)
}

// DelegationStore reads delegations for decision queries. The active
// predicate is evaluated at query time; no background sweep is required
// for correctness.
type DelegationStore interface {
	ActiveDelegationsFor(ctx context.Context, principalID int64, scopeType ScopeType, scopeID int64, now time.Time) ([]Delegation, error)
}
