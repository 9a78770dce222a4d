package authz

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRolesDefaultsToViewer(t *testing.T) {
	resolver := NewResolver(&fakeMembershipStore{})
	principal := &Principal{ID: 1, GlobalRole: RoleMember, Active: true}

	bindings, err := resolver.ResolveRoles(context.Background(), principal, projectInfo(20, 10, 99, 98))
	require.NoError(t, err)
	assert.Equal(t, RoleViewer, bindings.WorkspaceRole)
	assert.Equal(t, RoleViewer, bindings.ProjectRole)
	assert.Equal(t, RoleMember, bindings.Global)
	assert.False(t, bindings.OwnerOrLead)
}

func TestResolveRolesCorruptRoleRowReadsAsViewer(t *testing.T) {
	memberships := &fakeMembershipStore{rows: map[membershipKey]*Membership{}}
	key, row := membershipRow(1, ScopeWorkspace, 10, Role("manager"))
	memberships.rows[key] = row
	resolver := NewResolver(memberships)
	principal := &Principal{ID: 1, GlobalRole: RoleMember, Active: true}

	bindings, err := resolver.ResolveRoles(context.Background(), principal, workspaceInfo(10, 99))
	require.NoError(t, err)
	assert.Equal(t, RoleViewer, bindings.WorkspaceRole)
}

func TestResolveRolesOwnershipMarkers(t *testing.T) {
	resolver := NewResolver(&fakeMembershipStore{})

	owner := &Principal{ID: 99, GlobalRole: RoleMember, Active: true}
	bindings, err := resolver.ResolveRoles(context.Background(), owner, workspaceInfo(10, 99))
	require.NoError(t, err)
	assert.True(t, bindings.OwnerOrLead)

	// Workspace ownership carries into nested project scopes.
	bindings, err = resolver.ResolveRoles(context.Background(), owner, projectInfo(20, 10, 99, 98))
	require.NoError(t, err)
	assert.True(t, bindings.OwnerOrLead)

	lead := &Principal{ID: 98, GlobalRole: RoleMember, Active: true}
	bindings, err = resolver.ResolveRoles(context.Background(), lead, projectInfo(20, 10, 99, 98))
	require.NoError(t, err)
	assert.True(t, bindings.OwnerOrLead)

	// Leading a project grants nothing at the workspace level.
	bindings, err = resolver.ResolveRoles(context.Background(), lead, workspaceInfo(10, 99))
	require.NoError(t, err)
	assert.False(t, bindings.OwnerOrLead)
}
