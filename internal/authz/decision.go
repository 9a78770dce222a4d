package authz

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DecisionRecorder receives the outcome of every decision for metrics.
type DecisionRecorder interface {
	RecordDecision(allowed bool)
}

// Engine is the access decision point: the single surface every feature
// module calls before performing a privileged action. Each call
// re-resolves from current membership and delegation state; only the
// store reads backing a single call are memoized, so multiple permission
// checks against the same scope within one request do not repeat
// lookups.
type Engine struct {
	catalog     *Catalog
	principals  PrincipalStore
	scopes      ScopeStore
	memberships MembershipStore
	delegations DelegationStore
	cache       *EffectiveCache
	logger      *slog.Logger
	recorder    DecisionRecorder
	now         func() time.Time
}

// EngineConfig collects the collaborators an Engine needs. Cache,
// Recorder and Now are optional.
type EngineConfig struct {
	Catalog     *Catalog
	Principals  PrincipalStore
	Scopes      ScopeStore
	Memberships MembershipStore
	Delegations DelegationStore
	Cache       *EffectiveCache
	Logger      *slog.Logger
	Recorder    DecisionRecorder
	Now         func() time.Time
}

// NewEngine constructs the decision point.
func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		catalog:     cfg.Catalog,
		principals:  cfg.Principals,
		scopes:      cfg.Scopes,
		memberships: cfg.Memberships,
		delegations: cfg.Delegations,
		cache:       cfg.Cache,
		logger:      logger,
		recorder:    cfg.Recorder,
		now:         now,
	}
}

// Catalog exposes the immutable catalog to collaborating services.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Decide reports whether the principal holds the permission in the
// scope. Denial is a normal return value; errors cover malformed input
// (unknown scope or permission) and store failure, and callers must
// treat every error as a denial.
func (e *Engine) Decide(ctx context.Context, principalID int64, scopeType ScopeType, scopeID int64, permission string) (bool, error) {
	if !e.catalog.Contains(permission) {
		return false, fmt.Errorf("%w: %q", ErrUnknownPermission, permission)
	}
	effective, err := e.effectiveSet(ctx, principalID, scopeType, scopeID)
	if err != nil {
		return false, err
	}
	allowed := effective.Has(permission)
	e.record(allowed)
	return allowed, nil
}

// DecideAny reports whether the principal holds at least one of the
// permissions in the scope.
func (e *Engine) DecideAny(ctx context.Context, principalID int64, scopeType ScopeType, scopeID int64, permissions []string) (bool, error) {
	effective, err := e.decideSet(ctx, principalID, scopeType, scopeID, permissions)
	if err != nil {
		return false, err
	}
	for _, perm := range permissions {
		if effective.Has(perm) {
			e.record(true)
			return true, nil
		}
	}
	e.record(false)
	return false, nil
}

// DecideAll reports whether the principal holds every listed permission
// in the scope, for compound-action checks.
func (e *Engine) DecideAll(ctx context.Context, principalID int64, scopeType ScopeType, scopeID int64, permissions []string) (bool, error) {
	effective, err := e.decideSet(ctx, principalID, scopeType, scopeID, permissions)
	if err != nil {
		return false, err
	}
	for _, perm := range permissions {
		if !effective.Has(perm) {
			e.record(false)
			return false, nil
		}
	}
	e.record(true)
	return true, nil
}

// EffectivePermissions returns the merged permission identifiers the
// principal holds in the scope, sorted for stable rendering.
func (e *Engine) EffectivePermissions(ctx context.Context, principalID int64, scopeType ScopeType, scopeID int64) ([]string, error) {
	effective, err := e.effectiveSet(ctx, principalID, scopeType, scopeID)
	if err != nil {
		return nil, err
	}
	return effective.Sorted(), nil
}

// EffectiveRole returns the governing scope role for display and
// coarse-grained gating. Inactive or unknown principals report viewer.
func (e *Engine) EffectiveRole(ctx context.Context, principalID int64, scopeType ScopeType, scopeID int64) (Role, error) {
	info, err := e.resolveScope(ctx, scopeType, scopeID)
	if err != nil {
		return RoleViewer, err
	}
	principal, err := e.findPrincipal(ctx, principalID)
	if err != nil {
		return RoleViewer, err
	}
	if principal == nil {
		return RoleViewer, nil
	}
	calc := e.newCalculator()
	return calc.EffectiveRole(ctx, principal, info)
}

func (e *Engine) decideSet(ctx context.Context, principalID int64, scopeType ScopeType, scopeID int64, permissions []string) (PermissionSet, error) {
	for _, perm := range permissions {
		if !e.catalog.Contains(perm) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownPermission, perm)
		}
	}
	return e.effectiveSet(ctx, principalID, scopeType, scopeID)
}

func (e *Engine) effectiveSet(ctx context.Context, principalID int64, scopeType ScopeType, scopeID int64) (PermissionSet, error) {
	info, err := e.resolveScope(ctx, scopeType, scopeID)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		return e.cache.GetOrCompute(ctx, principalID, scopeType, scopeID, func(ctx context.Context) (PermissionSet, error) {
			return e.computeEffectiveSet(ctx, principalID, info)
		})
	}
	return e.computeEffectiveSet(ctx, principalID, info)
}

func (e *Engine) computeEffectiveSet(ctx context.Context, principalID int64, info *ScopeInfo) (PermissionSet, error) {
	principal, err := e.findPrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if principal == nil {
		// No identity on record: fail closed with an empty set.
		return NewPermissionSet(), nil
	}
	calc := e.newCalculator()
	return calc.EffectivePermissions(ctx, principal, info)
}

// newCalculator wires a calculator over a memoizing membership view so
// the resolver and the custom-grant step share one read per tuple within
// a single decision.
func (e *Engine) newCalculator() *Calculator {
	memo := newMemoMembershipStore(e.memberships)
	return NewCalculator(e.catalog, NewResolver(memo), memo, e.delegations, e.now)
}

func (e *Engine) resolveScope(ctx context.Context, scopeType ScopeType, scopeID int64) (*ScopeInfo, error) {
	if !scopeType.Valid() {
		return nil, fmt.Errorf("%w: scope type %q", ErrUnknownScope, scopeType)
	}
	info, err := e.scopes.ResolveScope(ctx, scopeType, scopeID)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, fmt.Errorf("%w: %s/%d", ErrUnknownScope, scopeType, scopeID)
	}
	return info, nil
}

func (e *Engine) findPrincipal(ctx context.Context, id int64) (*Principal, error) {
	principal, err := e.principals.FindPrincipal(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: read principal: %v", ErrStoreUnavailable, err)
	}
	return principal, nil
}

func (e *Engine) record(allowed bool) {
	if e.recorder != nil {
		e.recorder.RecordDecision(allowed)
	}
}

type membershipKey struct {
	principalID int64
	scopeType   ScopeType
	scopeID     int64
}

// memoMembershipStore caches membership reads for the lifetime of a
// single decision. It is not safe for concurrent use and is never shared
// across calls.
type memoMembershipStore struct {
	inner MembershipStore
	seen  map[membershipKey]*Membership
}

func newMemoMembershipStore(inner MembershipStore) *memoMembershipStore {
	return &memoMembershipStore{inner: inner, seen: make(map[membershipKey]*Membership)}
}

func (m *memoMembershipStore) FindMembership(ctx context.Context, principalID int64, scopeType ScopeType, scopeID int64) (*Membership, error) {
	key := membershipKey{principalID: principalID, scopeType: scopeType, scopeID: scopeID}
	if cached, ok := m.seen[key]; ok {
		return cached, nil
	}
	membership, err := m.inner.FindMembership(ctx, principalID, scopeType, scopeID)
	if err != nil {
		return nil, err
	}
	m.seen[key] = membership
	return membership, nil
}
