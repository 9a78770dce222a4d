package delegations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/daymark/daymark/internal/authz"
	"github.com/daymark/daymark/internal/shared"
)

// RepositoryPort defines data access methods for delegations.
type RepositoryPort interface {
	Insert(ctx context.Context, d *authz.Delegation) error
	GetByID(ctx context.Context, id uuid.UUID) (*authz.Delegation, error)
	MarkRevoked(ctx context.Context, id uuid.UUID, at time.Time) error
	ListReceived(ctx context.Context, principalID int64) ([]authz.Delegation, error)
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Decider is the slice of the decision point the service needs: the
// delegator's current effective set for self-attestation, and principal
// lookups for the superadmin revocation path.
type Decider interface {
	EffectivePermissions(ctx context.Context, principalID int64, scopeType authz.ScopeType, scopeID int64) ([]string, error)
}

// CacheInvalidator drops cached effective permission sets after a write.
type CacheInvalidator interface {
	InvalidateScope(ctx context.Context, principalID int64, scopeType authz.ScopeType, scopeID int64) error
}

// Service implements the delegation manager: creation with
// self-attestation, revocation restricted to the grantor or a
// superadmin, and lazy expiry.
type Service struct {
	repo       RepositoryPort
	catalog    *authz.Catalog
	decider    Decider
	principals authz.PrincipalStore
	cache      CacheInvalidator
	logger     *slog.Logger
	now        func() time.Time
}

// NewService builds Service instance. Cache may be nil; Now may be nil
// to use the wall clock.
func NewService(repo RepositoryPort, catalog *authz.Catalog, decider Decider, principals authz.PrincipalStore, cache CacheInvalidator, logger *slog.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:       repo,
		catalog:    catalog,
		decider:    decider,
		principals: principals,
		cache:      cache,
		logger:     logger,
		now:        now,
	}
}

// Create validates and stores a delegation. The delegator must currently
// hold every requested permission in the target scope; this is checked
// once here and never again, so later loss of the delegator's own role
// leaves the delegation standing until expiry or revocation.
func (s *Service) Create(ctx context.Context, fromID, toID int64, scopeType authz.ScopeType, scopeID int64, permissions []string, expiresAt time.Time) (*authz.Delegation, error) {
	now := s.now()
	if !expiresAt.After(now) {
		return nil, fmt.Errorf("%w: expiry must be in the future", authz.ErrInvalidDelegation)
	}
	if len(permissions) == 0 {
		return nil, fmt.Errorf("%w: no permissions requested", authz.ErrInvalidDelegation)
	}
	if fromID == toID {
		return nil, fmt.Errorf("%w: cannot delegate to self", authz.ErrInvalidDelegation)
	}
	deduped := make([]string, 0, len(permissions))
	seen := make(map[string]struct{}, len(permissions))
	for _, perm := range permissions {
		if !s.catalog.Contains(perm) {
			return nil, fmt.Errorf("%w: unknown permission %q", authz.ErrInvalidDelegation, perm)
		}
		if _, dup := seen[perm]; dup {
			continue
		}
		seen[perm] = struct{}{}
		deduped = append(deduped, perm)
	}

	held, err := s.decider.EffectivePermissions(ctx, fromID, scopeType, scopeID)
	if err != nil {
		return nil, err
	}
	heldSet := authz.NewPermissionSet(held...)
	for _, perm := range deduped {
		if !heldSet.Has(perm) {
			return nil, fmt.Errorf("%w: delegator does not hold %q", authz.ErrInvalidDelegation, perm)
		}
	}

	delegation := &authz.Delegation{
		ID:              uuid.New(),
		FromPrincipalID: fromID,
		ToPrincipalID:   toID,
		ScopeType:       scopeType,
		ScopeID:         scopeID,
		Permissions:     deduped,
		CreatedAt:       now,
		ExpiresAt:       expiresAt,
	}
	if err := s.repo.Insert(ctx, delegation); err != nil {
		return nil, err
	}
	s.invalidate(ctx, toID, scopeType, scopeID)
	return delegation, nil
}

// Revoke stamps revoked_at on the delegation. Only the original grantor
// or a superadmin may revoke; revoking twice is a no-op.
func (s *Service) Revoke(ctx context.Context, id uuid.UUID, byPrincipalID int64) error {
	delegation, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if delegation.FromPrincipalID != byPrincipalID {
		superadmin, err := s.isSuperadmin(ctx, byPrincipalID)
		if err != nil {
			return err
		}
		if !superadmin {
			return shared.ErrForbidden
		}
	}
	if delegation.RevokedAt != nil {
		return nil
	}
	if err := s.repo.MarkRevoked(ctx, id, s.now()); err != nil {
		return err
	}
	s.invalidate(ctx, delegation.ToPrincipalID, delegation.ScopeType, delegation.ScopeID)
	return nil
}

// ListReceived returns the delegations granted to the principal, with
// an Active flag computed against the current clock.
func (s *Service) ListReceived(ctx context.Context, principalID int64) ([]authz.Delegation, error) {
	return s.repo.ListReceived(ctx, principalID)
}

// Now exposes the service clock, used by handlers to report activity.
func (s *Service) Now() time.Time {
	return s.now()
}

// SweepInactive removes rows expired or revoked longer ago than the
// retention window. Returns the number of rows removed.
func (s *Service) SweepInactive(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)
	removed, err := s.repo.DeleteInactiveBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("swept inactive delegations", slog.Int64("removed", removed))
	}
	return removed, nil
}

func (s *Service) isSuperadmin(ctx context.Context, principalID int64) (bool, error) {
	principal, err := s.principals.FindPrincipal(ctx, principalID)
	if err != nil {
		return false, fmt.Errorf("%w: read principal: %v", authz.ErrStoreUnavailable, err)
	}
	if principal == nil || !principal.Active {
		return false, nil
	}
	return principal.GlobalRole == authz.RoleSuperadmin, nil
}

func (s *Service) invalidate(ctx context.Context, principalID int64, scopeType authz.ScopeType, scopeID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateScope(ctx, principalID, scopeType, scopeID); err != nil {
		s.logger.Error("delegation cache invalidation failed",
			slog.Int64("principal_id", principalID), slog.Any("error", err))
	}
}
