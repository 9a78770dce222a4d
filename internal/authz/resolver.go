package authz

import (
	"context"
	"fmt"
)

// RoleBindings is the resolver output: every role dimension that applies
// to a (principal, scope) pair. Dimensions with no membership row default
// to viewer so merge logic never special-cases absence.
type RoleBindings struct {
	Global        Role
	WorkspaceRole Role
	ProjectRole   Role
	OwnerOrLead   bool
}

// Resolver derives the applicable roles for a principal in a scope from
// membership rows and ownership markers.
type Resolver struct {
	memberships MembershipStore
}

// NewResolver constructs a Resolver.
func NewResolver(memberships MembershipStore) *Resolver {
	return &Resolver{memberships: memberships}
}

// ResolveRoles returns the role bindings for the principal in the scope
// described by info. For a workspace scope only the workspace dimension
// is consulted; for a project scope both the project membership and the
// enclosing workspace membership are read, and either the project lead or
// the workspace owner marker sets OwnerOrLead.
func (r *Resolver) ResolveRoles(ctx context.Context, principal *Principal, info *ScopeInfo) (RoleBindings, error) {
	bindings := RoleBindings{
		Global:        principal.GlobalRole,
		WorkspaceRole: RoleViewer,
		ProjectRole:   RoleViewer,
	}

	wsRole, err := r.membershipRole(ctx, principal.ID, ScopeWorkspace, info.Scope.WorkspaceID)
	if err != nil {
		return RoleBindings{}, err
	}
	bindings.WorkspaceRole = wsRole

	if info.Scope.Type == ScopeProject {
		projRole, err := r.membershipRole(ctx, principal.ID, ScopeProject, info.Scope.ID)
		if err != nil {
			return RoleBindings{}, err
		}
		bindings.ProjectRole = projRole
		bindings.OwnerOrLead = info.LeadID == principal.ID || info.OwnerID == principal.ID
	} else {
		bindings.OwnerOrLead = info.OwnerID == principal.ID
	}

	return bindings, nil
}

func (r *Resolver) membershipRole(ctx context.Context, principalID int64, scopeType ScopeType, scopeID int64) (Role, error) {
	membership, err := r.memberships.FindMembership(ctx, principalID, scopeType, scopeID)
	if err != nil {
		return RoleViewer, fmt.Errorf("%w: read membership: %v", ErrStoreUnavailable, err)
	}
	if membership == nil || !membership.Role.Valid() {
		return RoleViewer, nil
	}
	return membership.Role, nil
}
