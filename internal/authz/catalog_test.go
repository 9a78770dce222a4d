package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCatalogBuilds(t *testing.T) {
	catalog, err := NewCatalog()
	require.NoError(t, err)
	require.NotNil(t, catalog)

	assert.True(t, catalog.Contains(PermTaskCreate))
	assert.False(t, catalog.Contains("task.launch"))

	family, ok := catalog.FamilyOf(PermSprintActivate)
	require.True(t, ok)
	assert.Equal(t, FamilySprint, family)
}

func TestRoleSetsAreMonotonic(t *testing.T) {
	catalog, err := NewCatalog()
	require.NoError(t, err)

	viewer := catalog.PermissionsForRole(RoleViewer)
	member := catalog.PermissionsForRole(RoleMember)
	admin := catalog.PermissionsForRole(RoleAdmin)

	for _, perm := range viewer.Sorted() {
		assert.True(t, member.Has(perm), "member must carry viewer permission %s", perm)
	}
	for _, perm := range member.Sorted() {
		assert.True(t, admin.Has(perm), "admin must carry member permission %s", perm)
	}
	assert.Greater(t, len(member), len(viewer))
	assert.Greater(t, len(admin), len(member))
	assert.Equal(t, catalog.All().Sorted(), admin.Sorted())
}

func TestViewerHoldsOnlyViewPermissions(t *testing.T) {
	catalog, err := NewCatalog()
	require.NoError(t, err)

	viewer := catalog.PermissionsForRole(RoleViewer)
	assert.ElementsMatch(t, []string{
		PermWorkspaceView,
		PermProjectView,
		PermTaskView,
		PermSprintView,
		PermTemplateView,
	}, viewer.Sorted())
}

func TestPermissionsForUnknownRoleIsEmpty(t *testing.T) {
	catalog, err := NewCatalog()
	require.NoError(t, err)

	assert.Empty(t, catalog.PermissionsForRole(Role("manager")))
}

func TestMaxRole(t *testing.T) {
	assert.Equal(t, RoleAdmin, MaxRole(RoleViewer, RoleAdmin))
	assert.Equal(t, RoleAdmin, MaxRole(RoleAdmin, RoleMember))
	assert.Equal(t, RoleMember, MaxRole(RoleMember, Role("bogus")))
}

func TestLegalForScope(t *testing.T) {
	catalog, err := NewCatalog()
	require.NoError(t, err)

	workspace := catalog.LegalForScope(ScopeWorkspace)
	assert.Equal(t, catalog.All().Sorted(), workspace.Sorted())

	project := catalog.LegalForScope(ScopeProject)
	for _, perm := range WorkspaceScopes() {
		assert.False(t, project.Has(perm), "project scope must not allow %s", perm)
	}
	assert.True(t, project.Has(PermTaskDelete))
	assert.True(t, project.Has(PermProjectManageMembers))
}

func TestPermissionSetOperations(t *testing.T) {
	set := NewPermissionSet(PermTaskView, PermTaskCreate)
	assert.True(t, set.Has(PermTaskView))

	other := set.Clone()
	other.Add(PermTaskDelete)
	assert.False(t, set.Has(PermTaskDelete), "clone must not alias the original")

	union := set.Union(NewPermissionSet(PermSprintView))
	assert.ElementsMatch(t, []string{PermTaskView, PermTaskCreate, PermSprintView}, union.Sorted())

	inter := union.Intersect(NewPermissionSet(PermSprintView, PermTaskComment))
	assert.Equal(t, []string{PermSprintView}, inter.Sorted())
}
