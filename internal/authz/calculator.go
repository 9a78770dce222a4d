package authz

import (
	"context"
	"fmt"
	"time"
)

// Calculator merges role-implied permissions with custom grants and
// active delegations into the effective permission set for a
// (principal, scope) pair.
type Calculator struct {
	catalog     *Catalog
	resolver    *Resolver
	memberships MembershipStore
	delegations DelegationStore
	now         func() time.Time
}

// NewCalculator constructs a Calculator. The clock is injectable for
// tests; pass nil to use time.Now.
func NewCalculator(catalog *Catalog, resolver *Resolver, memberships MembershipStore, delegations DelegationStore, now func() time.Time) *Calculator {
	if now == nil {
		now = time.Now
	}
	return &Calculator{
		catalog:     catalog,
		resolver:    resolver,
		memberships: memberships,
		delegations: delegations,
		now:         now,
	}
}

// EffectiveRole computes the single role that governs the base permission
// set: admin for owners and leads, otherwise the max-merge of the
// workspace and project memberships. Superadmin principals report admin
// here; the full-catalog short circuit lives in EffectivePermissions.
func (c *Calculator) EffectiveRole(ctx context.Context, principal *Principal, info *ScopeInfo) (Role, error) {
	if !principal.Active {
		return RoleViewer, nil
	}
	if principal.GlobalRole == RoleSuperadmin {
		return RoleAdmin, nil
	}
	bindings, err := c.resolver.ResolveRoles(ctx, principal, info)
	if err != nil {
		return RoleViewer, err
	}
	return effectiveScopeRole(bindings, info.Scope.Type), nil
}

// EffectivePermissions computes the merged permission set:
// superadmin short-circuit, inactive principals get nothing, owner/lead
// implies admin, then role base set plus custom grants plus active
// delegations. The union is monotonic; nothing here removes a standing
// permission.
func (c *Calculator) EffectivePermissions(ctx context.Context, principal *Principal, info *ScopeInfo) (PermissionSet, error) {
	if !principal.Active {
		return NewPermissionSet(), nil
	}
	if principal.GlobalRole == RoleSuperadmin {
		return c.catalog.All(), nil
	}

	bindings, err := c.resolver.ResolveRoles(ctx, principal, info)
	if err != nil {
		return nil, err
	}

	effective := c.catalog.PermissionsForRole(effectiveScopeRole(bindings, info.Scope.Type))

	if err := c.addCustomGrants(ctx, principal.ID, info.Scope, effective); err != nil {
		return nil, err
	}
	if err := c.addDelegations(ctx, principal.ID, info.Scope, effective); err != nil {
		return nil, err
	}

	return effective, nil
}

// addCustomGrants folds the exact-scope membership's custom permissions
// into the set, re-validated against the permissions legal for the scope
// type. A stale grant referencing a retired permission is dropped, not an
// error.
func (c *Calculator) addCustomGrants(ctx context.Context, principalID int64, scope Scope, effective PermissionSet) error {
	membership, err := c.memberships.FindMembership(ctx, principalID, scope.Type, scope.ID)
	if err != nil {
		return fmt.Errorf("%w: read membership: %v", ErrStoreUnavailable, err)
	}
	if membership == nil || len(membership.CustomPermissions) == 0 {
		return nil
	}
	legal := c.catalog.LegalForScope(scope.Type)
	for _, perm := range membership.CustomPermissions {
		if legal.Has(perm) {
			effective.Add(perm)
		}
	}
	return nil
}

func (c *Calculator) addDelegations(ctx context.Context, principalID int64, scope Scope, effective PermissionSet) error {
	active, err := c.delegations.ActiveDelegationsFor(ctx, principalID, scope.Type, scope.ID, c.now())
	if err != nil {
		return fmt.Errorf("%w: read delegations: %v", ErrStoreUnavailable, err)
	}
	for _, delegation := range active {
		for _, perm := range delegation.Permissions {
			if c.catalog.Contains(perm) {
				effective.Add(perm)
			}
		}
	}
	return nil
}

// effectiveScopeRole applies the ownership short circuit before the
// workspace/project max-merge.
func effectiveScopeRole(bindings RoleBindings, scopeType ScopeType) Role {
	if bindings.OwnerOrLead {
		return RoleAdmin
	}
	if scopeType == ScopeProject {
		return MaxRole(bindings.WorkspaceRole, bindings.ProjectRole)
	}
	return bindings.WorkspaceRole
}
