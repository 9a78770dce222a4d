package authz

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*EffectiveCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewEffectiveCache(client, 30*time.Second), mr
}

func TestGetOrComputeCachesResult(t *testing.T) {
	cache, _ := newTestCache(t)
	calls := 0
	compute := func(context.Context) (PermissionSet, error) {
		calls++
		return NewPermissionSet(PermTaskView, PermTaskCreate), nil
	}

	first, err := cache.GetOrCompute(context.Background(), 1, ScopeWorkspace, 10, compute)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{PermTaskView, PermTaskCreate}, first.Sorted())

	second, err := cache.GetOrCompute(context.Background(), 1, ScopeWorkspace, 10, compute)
	require.NoError(t, err)
	assert.Equal(t, first.Sorted(), second.Sorted())
	assert.Equal(t, 1, calls, "second read must come from the cache")
}

func TestGetOrComputeKeysArePerScope(t *testing.T) {
	cache, _ := newTestCache(t)
	calls := 0
	compute := func(context.Context) (PermissionSet, error) {
		calls++
		return NewPermissionSet(PermTaskView), nil
	}

	_, err := cache.GetOrCompute(context.Background(), 1, ScopeWorkspace, 10, compute)
	require.NoError(t, err)
	_, err = cache.GetOrCompute(context.Background(), 1, ScopeProject, 10, compute)
	require.NoError(t, err)
	_, err = cache.GetOrCompute(context.Background(), 2, ScopeWorkspace, 10, compute)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestInvalidatePrincipalDropsAllScopes(t *testing.T) {
	cache, _ := newTestCache(t)
	calls := 0
	compute := func(context.Context) (PermissionSet, error) {
		calls++
		return NewPermissionSet(PermTaskView), nil
	}

	_, err := cache.GetOrCompute(context.Background(), 1, ScopeWorkspace, 10, compute)
	require.NoError(t, err)
	_, err = cache.GetOrCompute(context.Background(), 1, ScopeProject, 20, compute)
	require.NoError(t, err)
	_, err = cache.GetOrCompute(context.Background(), 2, ScopeWorkspace, 10, compute)
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	require.NoError(t, cache.InvalidatePrincipal(context.Background(), 1))

	_, err = cache.GetOrCompute(context.Background(), 1, ScopeWorkspace, 10, compute)
	require.NoError(t, err)
	_, err = cache.GetOrCompute(context.Background(), 1, ScopeProject, 20, compute)
	require.NoError(t, err)
	assert.Equal(t, 5, calls, "both scopes for the principal must recompute")

	_, err = cache.GetOrCompute(context.Background(), 2, ScopeWorkspace, 10, compute)
	require.NoError(t, err)
	assert.Equal(t, 5, calls, "other principals keep their entries")
}

func TestInvalidateScopeDropsOneEntry(t *testing.T) {
	cache, _ := newTestCache(t)
	calls := 0
	compute := func(context.Context) (PermissionSet, error) {
		calls++
		return NewPermissionSet(PermTaskView), nil
	}

	_, err := cache.GetOrCompute(context.Background(), 1, ScopeWorkspace, 10, compute)
	require.NoError(t, err)
	_, err = cache.GetOrCompute(context.Background(), 1, ScopeProject, 20, compute)
	require.NoError(t, err)
	require.Equal(t, 2, calls)

	require.NoError(t, cache.InvalidateScope(context.Background(), 1, ScopeProject, 20))

	_, err = cache.GetOrCompute(context.Background(), 1, ScopeProject, 20, compute)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	_, err = cache.GetOrCompute(context.Background(), 1, ScopeWorkspace, 10, compute)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestGetOrComputeSurvivesRedisOutage(t *testing.T) {
	cache, mr := newTestCache(t)
	mr.Close()

	calls := 0
	compute := func(context.Context) (PermissionSet, error) {
		calls++
		return NewPermissionSet(PermTaskView), nil
	}

	set, err := cache.GetOrCompute(context.Background(), 1, ScopeWorkspace, 10, compute)
	require.NoError(t, err)
	assert.True(t, set.Has(PermTaskView))
	assert.Equal(t, 1, calls)
}

func TestGetOrComputeDropsCorruptEntries(t *testing.T) {
	cache, mr := newTestCache(t)
	require.NoError(t, mr.Set("authz:eff:1:workspace:10", "not-json"))

	set, err := cache.GetOrCompute(context.Background(), 1, ScopeWorkspace, 10, func(context.Context) (PermissionSet, error) {
		return NewPermissionSet(PermTaskView), nil
	})
	require.NoError(t, err)
	assert.True(t, set.Has(PermTaskView))
}

func TestGetOrComputeEntriesExpire(t *testing.T) {
	cache, mr := newTestCache(t)
	calls := 0
	compute := func(context.Context) (PermissionSet, error) {
		calls++
		return NewPermissionSet(PermTaskView), nil
	}

	_, err := cache.GetOrCompute(context.Background(), 1, ScopeWorkspace, 10, compute)
	require.NoError(t, err)

	mr.FastForward(31 * time.Second)

	_, err = cache.GetOrCompute(context.Background(), 1, ScopeWorkspace, 10, compute)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
