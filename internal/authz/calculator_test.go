package authz

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var calcNow = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

type fakePrincipalStore struct {
	rows map[int64]*Principal
	err  error
}

func (f *fakePrincipalStore) FindPrincipal(_ context.Context, id int64) (*Principal, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[id], nil
}

type fakeScopeStore struct {
	rows map[string]*ScopeInfo
	err  error
}

func scopeKey(scopeType ScopeType, scopeID int64) string {
	return fmt.Sprintf("%s/%d", scopeType, scopeID)
}

func (f *fakeScopeStore) ResolveScope(_ context.Context, scopeType ScopeType, scopeID int64) (*ScopeInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.rows[scopeKey(scopeType, scopeID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%d", ErrUnknownScope, scopeType, scopeID)
	}
	return info, nil
}

type fakeMembershipStore struct {
	rows  map[membershipKey]*Membership
	err   error
	reads int
}

func (f *fakeMembershipStore) FindMembership(_ context.Context, principalID int64, scopeType ScopeType, scopeID int64) (*Membership, error) {
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[membershipKey{principalID: principalID, scopeType: scopeType, scopeID: scopeID}], nil
}

type fakeDelegationStore struct {
	rows []Delegation
	err  error
}

func (f *fakeDelegationStore) ActiveDelegationsFor(_ context.Context, principalID int64, scopeType ScopeType, scopeID int64, now time.Time) ([]Delegation, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []Delegation
	for _, d := range f.rows {
		if d.ToPrincipalID == principalID && d.ScopeType == scopeType && d.ScopeID == scopeID && d.ActiveAt(now) {
			out = append(out, d)
		}
	}
	return out, nil
}

func membershipRow(principalID int64, scopeType ScopeType, scopeID int64, role Role, custom ...string) (membershipKey, *Membership) {
	key := membershipKey{principalID: principalID, scopeType: scopeType, scopeID: scopeID}
	return key, &Membership{
		ID:                scopeID*100 + principalID,
		PrincipalID:       principalID,
		ScopeType:         scopeType,
		ScopeID:           scopeID,
		Role:              role,
		CustomPermissions: custom,
	}
}

func newTestCalculator(t *testing.T, memberships *fakeMembershipStore, delegations *fakeDelegationStore) *Calculator {
	t.Helper()
	catalog, err := NewCatalog()
	require.NoError(t, err)
	if memberships == nil {
		memberships = &fakeMembershipStore{}
	}
	if delegations == nil {
		delegations = &fakeDelegationStore{}
	}
	return NewCalculator(catalog, NewResolver(memberships), memberships, delegations, func() time.Time { return calcNow })
}

func workspaceInfo(workspaceID, ownerID int64) *ScopeInfo {
	return &ScopeInfo{Scope: WorkspaceScope(workspaceID), OwnerID: ownerID}
}

func projectInfo(projectID, workspaceID, ownerID, leadID int64) *ScopeInfo {
	return &ScopeInfo{Scope: ProjectScope(projectID, workspaceID), OwnerID: ownerID, LeadID: leadID}
}

func TestSuperadminHoldsEveryPermission(t *testing.T) {
	calc := newTestCalculator(t, nil, nil)
	principal := &Principal{ID: 1, GlobalRole: RoleSuperadmin, Active: true}

	set, err := calc.EffectivePermissions(context.Background(), principal, workspaceInfo(10, 99))
	require.NoError(t, err)
	assert.Equal(t, calc.catalog.All().Sorted(), set.Sorted())

	role, err := calc.EffectiveRole(context.Background(), principal, workspaceInfo(10, 99))
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)
}

func TestInactivePrincipalHoldsNothing(t *testing.T) {
	memberships := &fakeMembershipStore{rows: map[membershipKey]*Membership{}}
	key, row := membershipRow(1, ScopeWorkspace, 10, RoleAdmin)
	memberships.rows[key] = row
	calc := newTestCalculator(t, memberships, nil)

	// Inactive wins even over superadmin.
	for _, global := range []Role{RoleMember, RoleSuperadmin} {
		principal := &Principal{ID: 1, GlobalRole: global, Active: false}
		set, err := calc.EffectivePermissions(context.Background(), principal, workspaceInfo(10, 99))
		require.NoError(t, err)
		assert.Empty(t, set)

		role, err := calc.EffectiveRole(context.Background(), principal, workspaceInfo(10, 99))
		require.NoError(t, err)
		assert.Equal(t, RoleViewer, role)
	}
}

func TestWorkspaceRoleDrivesBaseSet(t *testing.T) {
	memberships := &fakeMembershipStore{rows: map[membershipKey]*Membership{}}
	key, row := membershipRow(1, ScopeWorkspace, 10, RoleMember)
	memberships.rows[key] = row
	calc := newTestCalculator(t, memberships, nil)
	principal := &Principal{ID: 1, GlobalRole: RoleMember, Active: true}

	set, err := calc.EffectivePermissions(context.Background(), principal, workspaceInfo(10, 99))
	require.NoError(t, err)
	assert.True(t, set.Has(PermTaskCreate))
	assert.True(t, set.Has(PermWorkspaceInvite))
	assert.False(t, set.Has(PermWorkspaceManageMembers))
}

func TestNoMembershipDefaultsToViewer(t *testing.T) {
	calc := newTestCalculator(t, nil, nil)
	principal := &Principal{ID: 1, GlobalRole: RoleMember, Active: true}

	role, err := calc.EffectiveRole(context.Background(), principal, workspaceInfo(10, 99))
	require.NoError(t, err)
	assert.Equal(t, RoleViewer, role)

	set, err := calc.EffectivePermissions(context.Background(), principal, workspaceInfo(10, 99))
	require.NoError(t, err)
	assert.Equal(t, []string{
		PermProjectView,
		PermSprintView,
		PermTaskView,
		PermTemplateView,
		PermWorkspaceView,
	}, set.Sorted())
}

func TestProjectScopeMergesBothLevels(t *testing.T) {
	cases := []struct {
		name          string
		workspaceRole Role
		projectRole   Role
		want          Role
	}{
		{"workspace outranks project", RoleAdmin, RoleViewer, RoleAdmin},
		{"project outranks workspace", RoleViewer, RoleMember, RoleMember},
		{"equal roles", RoleMember, RoleMember, RoleMember},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			memberships := &fakeMembershipStore{rows: map[membershipKey]*Membership{}}
			wsKey, wsRow := membershipRow(1, ScopeWorkspace, 10, tc.workspaceRole)
			memberships.rows[wsKey] = wsRow
			projKey, projRow := membershipRow(1, ScopeProject, 20, tc.projectRole)
			memberships.rows[projKey] = projRow
			calc := newTestCalculator(t, memberships, nil)
			principal := &Principal{ID: 1, GlobalRole: RoleMember, Active: true}

			role, err := calc.EffectiveRole(context.Background(), principal, projectInfo(20, 10, 99, 98))
			require.NoError(t, err)
			assert.Equal(t, tc.want, role)
		})
	}
}

func TestOwnerIsAdminWithoutMembershipRow(t *testing.T) {
	calc := newTestCalculator(t, nil, nil)
	owner := &Principal{ID: 99, GlobalRole: RoleMember, Active: true}

	role, err := calc.EffectiveRole(context.Background(), owner, workspaceInfo(10, 99))
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)

	// The workspace owner is admin inside nested projects too.
	role, err = calc.EffectiveRole(context.Background(), owner, projectInfo(20, 10, 99, 98))
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)

	set, err := calc.EffectivePermissions(context.Background(), owner, workspaceInfo(10, 99))
	require.NoError(t, err)
	assert.True(t, set.Has(PermWorkspaceDelete))
}

func TestProjectLeadIsAdminInProjectOnly(t *testing.T) {
	calc := newTestCalculator(t, nil, nil)
	lead := &Principal{ID: 98, GlobalRole: RoleMember, Active: true}

	role, err := calc.EffectiveRole(context.Background(), lead, projectInfo(20, 10, 99, 98))
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)

	role, err = calc.EffectiveRole(context.Background(), lead, workspaceInfo(10, 99))
	require.NoError(t, err)
	assert.Equal(t, RoleViewer, role)
}

func TestCustomGrantsAreAdditive(t *testing.T) {
	memberships := &fakeMembershipStore{rows: map[membershipKey]*Membership{}}
	key, row := membershipRow(1, ScopeProject, 20, RoleViewer, PermTaskCreate, PermTaskCreate, PermSprintCreate)
	memberships.rows[key] = row
	calc := newTestCalculator(t, memberships, nil)
	principal := &Principal{ID: 1, GlobalRole: RoleMember, Active: true}

	set, err := calc.EffectivePermissions(context.Background(), principal, projectInfo(20, 10, 99, 98))
	require.NoError(t, err)
	assert.True(t, set.Has(PermTaskCreate))
	assert.True(t, set.Has(PermSprintCreate))
	assert.True(t, set.Has(PermTaskView), "base role set must survive custom grants")
}

func TestCustomGrantsIllegalForScopeAreDropped(t *testing.T) {
	memberships := &fakeMembershipStore{rows: map[membershipKey]*Membership{}}
	key, row := membershipRow(1, ScopeProject, 20, RoleViewer, PermWorkspaceManageMembers, "task.launch")
	memberships.rows[key] = row
	calc := newTestCalculator(t, memberships, nil)
	principal := &Principal{ID: 1, GlobalRole: RoleMember, Active: true}

	set, err := calc.EffectivePermissions(context.Background(), principal, projectInfo(20, 10, 99, 98))
	require.NoError(t, err)
	assert.False(t, set.Has(PermWorkspaceManageMembers))
	assert.False(t, set.Has("task.launch"))
}

func TestDelegationsContributeWhileActive(t *testing.T) {
	expiry := calcNow.Add(time.Hour)
	revokedAt := calcNow.Add(-time.Minute)
	delegations := &fakeDelegationStore{rows: []Delegation{
		{
			ID:              uuid.New(),
			FromPrincipalID: 5,
			ToPrincipalID:   1,
			ScopeType:       ScopeProject,
			ScopeID:         20,
			Permissions:     []string{PermSprintActivate, "sprint.destroy"},
			ExpiresAt:       expiry,
		},
		{
			ID:              uuid.New(),
			FromPrincipalID: 5,
			ToPrincipalID:   1,
			ScopeType:       ScopeProject,
			ScopeID:         20,
			Permissions:     []string{PermTaskDelete},
			ExpiresAt:       calcNow.Add(-time.Hour),
		},
		{
			ID:              uuid.New(),
			FromPrincipalID: 5,
			ToPrincipalID:   1,
			ScopeType:       ScopeProject,
			ScopeID:         20,
			Permissions:     []string{PermSprintComplete},
			ExpiresAt:       expiry,
			RevokedAt:       &revokedAt,
		},
		{
			ID:              uuid.New(),
			FromPrincipalID: 5,
			ToPrincipalID:   1,
			ScopeType:       ScopeWorkspace,
			ScopeID:         10,
			Permissions:     []string{PermWorkspaceUpdate},
			ExpiresAt:       expiry,
		},
	}}
	calc := newTestCalculator(t, nil, delegations)
	principal := &Principal{ID: 1, GlobalRole: RoleMember, Active: true}

	set, err := calc.EffectivePermissions(context.Background(), principal, projectInfo(20, 10, 99, 98))
	require.NoError(t, err)
	assert.True(t, set.Has(PermSprintActivate))
	assert.False(t, set.Has("sprint.destroy"), "identifiers outside the catalog never pass through")
	assert.False(t, set.Has(PermTaskDelete), "expired delegation must not contribute")
	assert.False(t, set.Has(PermSprintComplete), "revoked delegation must not contribute")
	assert.False(t, set.Has(PermWorkspaceUpdate), "delegation on the enclosing workspace does not reach the project scope")
}

func TestMembershipStoreFailureIsStoreUnavailable(t *testing.T) {
	memberships := &fakeMembershipStore{err: errors.New("connection refused")}
	calc := newTestCalculator(t, memberships, nil)
	principal := &Principal{ID: 1, GlobalRole: RoleMember, Active: true}

	_, err := calc.EffectivePermissions(context.Background(), principal, workspaceInfo(10, 99))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = calc.EffectiveRole(context.Background(), principal, workspaceInfo(10, 99))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestDelegationStoreFailureIsStoreUnavailable(t *testing.T) {
	delegations := &fakeDelegationStore{err: errors.New("connection refused")}
	calc := newTestCalculator(t, nil, delegations)
	principal := &Principal{ID: 1, GlobalRole: RoleMember, Active: true}

	_, err := calc.EffectivePermissions(context.Background(), principal, workspaceInfo(10, 99))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
