package authz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRecorder struct {
	allows int
	denies int
}

func (r *countingRecorder) RecordDecision(allowed bool) {
	if allowed {
		r.allows++
	} else {
		r.denies++
	}
}

type engineFixture struct {
	engine      *Engine
	principals  *fakePrincipalStore
	scopes      *fakeScopeStore
	memberships *fakeMembershipStore
	delegations *fakeDelegationStore
	recorder    *countingRecorder
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	catalog, err := NewCatalog()
	require.NoError(t, err)

	f := &engineFixture{
		principals: &fakePrincipalStore{rows: map[int64]*Principal{
			1: {ID: 1, GlobalRole: RoleMember, Active: true},
			2: {ID: 2, GlobalRole: RoleSuperadmin, Active: true},
			3: {ID: 3, GlobalRole: RoleMember, Active: false},
		}},
		scopes: &fakeScopeStore{rows: map[string]*ScopeInfo{
			scopeKey(ScopeWorkspace, 10): workspaceInfo(10, 99),
			scopeKey(ScopeProject, 20):   projectInfo(20, 10, 99, 98),
		}},
		memberships: &fakeMembershipStore{rows: map[membershipKey]*Membership{}},
		delegations: &fakeDelegationStore{},
		recorder:    &countingRecorder{},
	}
	key, row := membershipRow(1, ScopeWorkspace, 10, RoleMember)
	f.memberships.rows[key] = row

	f.engine = NewEngine(EngineConfig{
		Catalog:     catalog,
		Principals:  f.principals,
		Scopes:      f.scopes,
		Memberships: f.memberships,
		Delegations: f.delegations,
		Recorder:    f.recorder,
		Now:         func() time.Time { return calcNow },
	})
	return f
}

func TestDecideAllowsAndDenies(t *testing.T) {
	f := newEngineFixture(t)

	allowed, err := f.engine.Decide(context.Background(), 1, ScopeWorkspace, 10, PermTaskCreate)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = f.engine.Decide(context.Background(), 1, ScopeWorkspace, 10, PermWorkspaceDelete)
	require.NoError(t, err)
	assert.False(t, allowed)

	assert.Equal(t, 1, f.recorder.allows)
	assert.Equal(t, 1, f.recorder.denies)
}

func TestDecideUnknownPermission(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.Decide(context.Background(), 1, ScopeWorkspace, 10, "workspace.destroy")
	assert.ErrorIs(t, err, ErrUnknownPermission)
	assert.Zero(t, f.recorder.allows+f.recorder.denies, "invalid input is not a decision")
}

func TestDecideUnknownScope(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.Decide(context.Background(), 1, ScopeWorkspace, 404, PermTaskView)
	assert.ErrorIs(t, err, ErrUnknownScope)

	_, err = f.engine.Decide(context.Background(), 1, ScopeType("folder"), 10, PermTaskView)
	assert.ErrorIs(t, err, ErrUnknownScope)
}

func TestDecideMissingPrincipalDenies(t *testing.T) {
	f := newEngineFixture(t)

	allowed, err := f.engine.Decide(context.Background(), 42, ScopeWorkspace, 10, PermTaskView)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestDecideInactivePrincipalDenies(t *testing.T) {
	f := newEngineFixture(t)

	allowed, err := f.engine.Decide(context.Background(), 3, ScopeWorkspace, 10, PermTaskView)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestDecideSuperadminAllowsEverything(t *testing.T) {
	f := newEngineFixture(t)

	for _, perm := range f.engine.Catalog().All().Sorted() {
		allowed, err := f.engine.Decide(context.Background(), 2, ScopeProject, 20, perm)
		require.NoError(t, err)
		assert.True(t, allowed, "superadmin denied %s", perm)
	}
}

func TestDecideStoreFailurePropagates(t *testing.T) {
	f := newEngineFixture(t)
	f.principals.err = errors.New("connection refused")

	_, err := f.engine.Decide(context.Background(), 1, ScopeWorkspace, 10, PermTaskView)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestDecideAny(t *testing.T) {
	f := newEngineFixture(t)

	allowed, err := f.engine.DecideAny(context.Background(), 1, ScopeWorkspace, 10, []string{PermWorkspaceDelete, PermTaskCreate})
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = f.engine.DecideAny(context.Background(), 1, ScopeWorkspace, 10, []string{PermWorkspaceDelete, PermWorkspaceUpdate})
	require.NoError(t, err)
	assert.False(t, allowed)

	_, err = f.engine.DecideAny(context.Background(), 1, ScopeWorkspace, 10, []string{PermTaskCreate, "task.launch"})
	assert.ErrorIs(t, err, ErrUnknownPermission, "every identifier is validated before evaluation")
}

func TestDecideAll(t *testing.T) {
	f := newEngineFixture(t)

	allowed, err := f.engine.DecideAll(context.Background(), 1, ScopeWorkspace, 10, []string{PermTaskCreate, PermTaskView})
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = f.engine.DecideAll(context.Background(), 1, ScopeWorkspace, 10, []string{PermTaskCreate, PermWorkspaceDelete})
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestEngineEffectivePermissionsSorted(t *testing.T) {
	f := newEngineFixture(t)

	perms, err := f.engine.EffectivePermissions(context.Background(), 1, ScopeWorkspace, 10)
	require.NoError(t, err)
	assert.IsIncreasing(t, perms)
	assert.Contains(t, perms, PermTaskCreate)
}

func TestEngineEffectiveRole(t *testing.T) {
	f := newEngineFixture(t)

	role, err := f.engine.EffectiveRole(context.Background(), 1, ScopeWorkspace, 10)
	require.NoError(t, err)
	assert.Equal(t, RoleMember, role)

	role, err = f.engine.EffectiveRole(context.Background(), 42, ScopeWorkspace, 10)
	require.NoError(t, err)
	assert.Equal(t, RoleViewer, role, "unknown principals report the floor role")

	_, err = f.engine.EffectiveRole(context.Background(), 1, ScopeProject, 404)
	assert.ErrorIs(t, err, ErrUnknownScope)
}

func TestMemoMembershipStoreSharesReads(t *testing.T) {
	f := newEngineFixture(t)

	// One decision on a project scope needs the workspace membership in
	// the resolver and the project membership in the custom-grant step;
	// the memo folds repeats of the same tuple into one read.
	_, err := f.engine.Decide(context.Background(), 1, ScopeProject, 20, PermTaskView)
	require.NoError(t, err)
	assert.Equal(t, 2, f.memberships.reads)
}
