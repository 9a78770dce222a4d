package memberships

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/daymark/daymark/internal/authz"
)

// ErrInvalidRole indicates a role outside the scope-level tiers.
var ErrInvalidRole = errors.New("memberships: invalid role")

// ErrIllegalPermission indicates a custom grant the catalog does not
// allow for the scope type.
var ErrIllegalPermission = errors.New("memberships: permission not legal for scope")

// RepositoryPort defines data access methods for memberships.
type RepositoryPort interface {
	FindMembership(ctx context.Context, principalID int64, scopeType authz.ScopeType, scopeID int64) (*authz.Membership, error)
	GetByID(ctx context.Context, id int64) (*authz.Membership, error)
	Create(ctx context.Context, principalID int64, scopeType authz.ScopeType, scopeID int64, role authz.Role) (*authz.Membership, error)
	UpdateRole(ctx context.Context, id int64, role authz.Role) (*authz.Membership, error)
	SetCustomPermissions(ctx context.Context, id int64, permissions []string) (*authz.Membership, error)
	Delete(ctx context.Context, id int64) error
	ListForScope(ctx context.Context, scopeType authz.ScopeType, scopeID int64) ([]authz.Membership, error)
}

// CacheInvalidator drops cached effective permission sets after a write.
type CacheInvalidator interface {
	InvalidatePrincipal(ctx context.Context, principalID int64) error
}

// Service handles membership business logic. Every mutation invalidates
// the affected principal's cached permission sets before returning, so a
// decision issued after the call reflects the write.
type Service struct {
	repo    RepositoryPort
	catalog *authz.Catalog
	cache   CacheInvalidator
	logger  *slog.Logger
}

// NewService builds Service instance. Cache may be nil when no
// permission cache is configured.
func NewService(repo RepositoryPort, catalog *authz.Catalog, cache CacheInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, catalog: catalog, cache: cache, logger: logger}
}

// AddMember creates a membership with the given scope-level role.
func (s *Service) AddMember(ctx context.Context, principalID int64, scopeType authz.ScopeType, scopeID int64, role authz.Role) (*authz.Membership, error) {
	if err := validateScopeRole(role); err != nil {
		return nil, err
	}
	if !scopeType.Valid() {
		return nil, fmt.Errorf("%w: scope type %q", authz.ErrUnknownScope, scopeType)
	}
	membership, err := s.repo.Create(ctx, principalID, scopeType, scopeID, role)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, principalID)
	return membership, nil
}

// RemoveMember deletes a membership.
func (s *Service) RemoveMember(ctx context.Context, id int64) error {
	membership, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, membership.PrincipalID)
	return nil
}

// ChangeRole updates the role on a membership.
func (s *Service) ChangeRole(ctx context.Context, id int64, role authz.Role) (*authz.Membership, error) {
	if err := validateScopeRole(role); err != nil {
		return nil, err
	}
	membership, err := s.repo.UpdateRole(ctx, id, role)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, membership.PrincipalID)
	return membership, nil
}

// SetCustomPermissions replaces the additive grant list on a membership.
// Every permission must exist in the catalog and be legal for the
// membership's scope type; the write is rejected otherwise. Setting the
// same list twice is a no-op by construction.
func (s *Service) SetCustomPermissions(ctx context.Context, id int64, permissions []string) (*authz.Membership, error) {
	membership, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	legal := s.catalog.LegalForScope(membership.ScopeType)
	deduped := make([]string, 0, len(permissions))
	seen := make(map[string]struct{}, len(permissions))
	for _, perm := range permissions {
		if !s.catalog.Contains(perm) {
			return nil, fmt.Errorf("%w: %q", authz.ErrUnknownPermission, perm)
		}
		if !legal.Has(perm) {
			return nil, fmt.Errorf("%w: %q on %s", ErrIllegalPermission, perm, membership.ScopeType)
		}
		if _, dup := seen[perm]; dup {
			continue
		}
		seen[perm] = struct{}{}
		deduped = append(deduped, perm)
	}
	updated, err := s.repo.SetCustomPermissions(ctx, id, deduped)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, updated.PrincipalID)
	return updated, nil
}

// GetByID fetches a membership.
func (s *Service) GetByID(ctx context.Context, id int64) (*authz.Membership, error) {
	return s.repo.GetByID(ctx, id)
}

// ListForScope returns the memberships of a scope.
func (s *Service) ListForScope(ctx context.Context, scopeType authz.ScopeType, scopeID int64) ([]authz.Membership, error) {
	return s.repo.ListForScope(ctx, scopeType, scopeID)
}

func (s *Service) invalidate(ctx context.Context, principalID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidatePrincipal(ctx, principalID); err != nil {
		// A failed invalidation with a populated cache would serve stale
		// permissions, so surface it loudly.
		s.logger.Error("membership cache invalidation failed",
			slog.Int64("principal_id", principalID), slog.Any("error", err))
	}
}

func validateScopeRole(role authz.Role) error {
	switch role {
	case authz.RoleViewer, authz.RoleMember, authz.RoleAdmin:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
}
