package authz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const effectiveKeyPrefix = "authz:eff:"

// EffectiveCache caches computed effective permission sets in Redis,
// keyed per (principal, scope). Mutating writes invalidate synchronously
// through Invalidate*; the TTL exists only to bound staleness from
// natural delegation expiry, so it should stay short. A cache miss or a
// Redis failure falls through to a fresh computation, never to an
// implicit allow.
type EffectiveCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewEffectiveCache constructs the cache. TTL values below one second
// are raised to one second.
func NewEffectiveCache(client *redis.Client, ttl time.Duration) *EffectiveCache {
	if ttl < time.Second {
		ttl = time.Second
	}
	return &EffectiveCache{client: client, ttl: ttl}
}

// GetOrCompute returns the cached set for the key or computes and stores
// it. Concurrent computations for the same key are collapsed.
func (c *EffectiveCache) GetOrCompute(ctx context.Context, principalID int64, scopeType ScopeType, scopeID int64, compute func(context.Context) (PermissionSet, error)) (PermissionSet, error) {
	key := effectiveKey(principalID, scopeType, scopeID)

	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var perms []string
		if err := json.Unmarshal(data, &perms); err == nil {
			return NewPermissionSet(perms...), nil
		}
		_ = c.client.Del(ctx, key).Err()
	} else if !errors.Is(err, redis.Nil) && !errors.Is(err, context.Canceled) {
		// Redis being down must not block decisions; compute directly.
		return compute(ctx)
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		set, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(set.Sorted()); err == nil {
			_ = c.client.Set(ctx, key, data, c.ttl).Err()
		}
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(PermissionSet).Clone(), nil
}

// InvalidatePrincipal drops every cached set for the principal. Used
// when a write cannot be pinned to one scope, such as a workspace role
// change that also shifts permissions inside nested projects.
func (c *EffectiveCache) InvalidatePrincipal(ctx context.Context, principalID int64) error {
	pattern := fmt.Sprintf("%s%d:*", effectiveKeyPrefix, principalID)
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("authz: scan cache keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("authz: drop cache keys: %w", err)
	}
	return nil
}

// InvalidateScope drops the cached set for one (principal, scope) pair.
func (c *EffectiveCache) InvalidateScope(ctx context.Context, principalID int64, scopeType ScopeType, scopeID int64) error {
	key := effectiveKey(principalID, scopeType, scopeID)
	if err := c.client.Del(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("authz: drop cache key: %w", err)
	}
	return nil
}

func effectiveKey(principalID int64, scopeType ScopeType, scopeID int64) string {
	return fmt.Sprintf("%s%d:%s:%d", effectiveKeyPrefix, principalID, scopeType, scopeID)
}
