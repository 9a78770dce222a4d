package authz

import (
	"fmt"
	"sort"
	"strings"
)

// Role is an ordered privilege tier. Scope memberships hold viewer, member
// or admin; superadmin exists only as a global role and is never stored on
// a membership row.
type Role string

const (
	RoleViewer     Role = "viewer"
	RoleMember     Role = "member"
	RoleAdmin      Role = "admin"
	RoleSuperadmin Role = "superadmin"
)

var roleRanks = map[Role]int{
	RoleViewer:     1,
	RoleMember:     2,
	RoleAdmin:      3,
	RoleSuperadmin: 4,
}

// Rank returns the position of the role in the hierarchy. Unknown roles
// rank below viewer so a corrupted row can never escalate.
func (r Role) Rank() int {
	return roleRanks[r]
}

// Valid reports whether the role is one of the defined tiers.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

// MaxRole returns the higher of two roles under the hierarchy order.
func MaxRole(a, b Role) Role {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Family groups permissions by the resource they apply to.
type Family string

const (
	FamilyWorkspace Family = "workspace"
	FamilyProject   Family = "project"
	FamilyTask      Family = "task"
	FamilySprint    Family = "sprint"
	FamilyTemplate  Family = "template"
)

// Workspace permissions.
const (
	PermWorkspaceView          = "workspace.view"
	PermWorkspaceUpdate        = "workspace.update"
	PermWorkspaceDelete        = "workspace.delete"
	PermWorkspaceManageMembers = "workspace.manage_members"
	PermWorkspaceInvite        = "workspace.invite"
)

// Project permissions.
const (
	PermProjectView          = "project.view"
	PermProjectCreate        = "project.create"
	PermProjectUpdate        = "project.update"
	PermProjectDelete        = "project.delete"
	PermProjectManageMembers = "project.manage_members"
)

// Task permissions.
const (
	PermTaskView    = "task.view"
	PermTaskCreate  = "task.create"
	PermTaskUpdate  = "task.update"
	PermTaskDelete  = "task.delete"
	PermTaskAssign  = "task.assign"
	PermTaskComment = "task.comment"
)

// Sprint permissions.
const (
	PermSprintView     = "sprint.view"
	PermSprintCreate   = "sprint.create"
	PermSprintUpdate   = "sprint.update"
	PermSprintActivate = "sprint.activate"
	PermSprintComplete = "sprint.complete"
)

// Template permissions.
const (
	PermTemplateView   = "template.view"
	PermTemplateCreate = "template.create"
	PermTemplateUpdate = "template.update"
	PermTemplateDelete = "template.delete"
)

// WorkspaceScopes lists permissions in the workspace family.
func WorkspaceScopes() []string {
	return []string{
		PermWorkspaceView,
		PermWorkspaceUpdate,
		PermWorkspaceDelete,
		PermWorkspaceManageMembers,
		PermWorkspaceInvite,
	}
}

// ProjectScopes lists permissions in the project family.
func ProjectScopes() []string {
	return []string{
		PermProjectView,
		PermProjectCreate,
		PermProjectUpdate,
		PermProjectDelete,
		PermProjectManageMembers,
	}
}

// TaskScopes lists permissions in the task family.
func TaskScopes() []string {
	return []string{
		PermTaskView,
		PermTaskCreate,
		PermTaskUpdate,
		PermTaskDelete,
		PermTaskAssign,
		PermTaskComment,
	}
}

// SprintScopes lists permissions in the sprint family.
func SprintScopes() []string {
	return []string{
		PermSprintView,
		PermSprintCreate,
		PermSprintUpdate,
		PermSprintActivate,
		PermSprintComplete,
	}
}

// TemplateScopes lists permissions in the template family.
func TemplateScopes() []string {
	return []string{
		PermTemplateView,
		PermTemplateCreate,
		PermTemplateUpdate,
		PermTemplateDelete,
	}
}

// Catalog is the closed permission table plus the role-permission mapping.
// It is built once at process start and injected; nothing mutates it at
// runtime.
type Catalog struct {
	families map[Family][]string
	byPerm   map[string]Family
	byRole   map[Role]PermissionSet
	all      PermissionSet
}

// NewCatalog assembles and validates the static catalog. It returns an
// error when a role grant references a permission outside every family,
// so a typo in the tables surfaces at startup instead of becoming an
// unreachable permission.
func NewCatalog() (*Catalog, error) {
	c := &Catalog{
		families: map[Family][]string{
			FamilyWorkspace: WorkspaceScopes(),
			FamilyProject:   ProjectScopes(),
			FamilyTask:      TaskScopes(),
			FamilySprint:    SprintScopes(),
			FamilyTemplate:  TemplateScopes(),
		},
		byPerm: make(map[string]Family),
		byRole: make(map[Role]PermissionSet),
		all:    NewPermissionSet(),
	}

	for family, perms := range c.families {
		for _, perm := range perms {
			if !strings.HasPrefix(perm, string(family)+".") {
				return nil, fmt.Errorf("authz: permission %q listed under family %q", perm, family)
			}
			if existing, dup := c.byPerm[perm]; dup {
				return nil, fmt.Errorf("authz: permission %q declared in families %q and %q", perm, existing, family)
			}
			c.byPerm[perm] = family
			c.all.Add(perm)
		}
	}

	viewer := NewPermissionSet(
		PermWorkspaceView,
		PermProjectView,
		PermTaskView,
		PermSprintView,
		PermTemplateView,
	)
	member := viewer.Union(NewPermissionSet(
		PermWorkspaceInvite,
		PermProjectCreate,
		PermTaskCreate,
		PermTaskUpdate,
		PermTaskAssign,
		PermTaskComment,
		PermSprintCreate,
		PermSprintUpdate,
		PermTemplateCreate,
		PermTemplateUpdate,
	))
	admin := c.all.Clone()

	c.byRole[RoleViewer] = viewer
	c.byRole[RoleMember] = member
	c.byRole[RoleAdmin] = admin
	c.byRole[RoleSuperadmin] = c.all.Clone()

	for role, set := range c.byRole {
		for _, perm := range set.Sorted() {
			if _, ok := c.byPerm[perm]; !ok {
				return nil, fmt.Errorf("authz: role %q grants unknown permission %q", role, perm)
			}
		}
	}

	return c, nil
}

// Contains reports whether the permission identifier exists in the catalog.
func (c *Catalog) Contains(permission string) bool {
	_, ok := c.byPerm[permission]
	return ok
}

// FamilyOf returns the resource family a permission belongs to.
func (c *Catalog) FamilyOf(permission string) (Family, bool) {
	family, ok := c.byPerm[permission]
	return family, ok
}

// PermissionsForRole returns a copy of the base permission set implied by
// a role. Unknown roles map to the empty set.
func (c *Catalog) PermissionsForRole(role Role) PermissionSet {
	set, ok := c.byRole[role]
	if !ok {
		return NewPermissionSet()
	}
	return set.Clone()
}

// RoleRank mirrors Role.Rank for callers holding only the catalog.
func (c *Catalog) RoleRank(role Role) int {
	return role.Rank()
}

// All returns a copy of every permission in the catalog.
func (c *Catalog) All() PermissionSet {
	return c.all.Clone()
}

// LegalForScope returns the permissions that may be granted against a
// scope type. Workspace scopes can carry grants for every family, since a
// workspace encloses its projects' resources; project scopes cannot carry
// workspace-family grants.
func (c *Catalog) LegalForScope(scopeType ScopeType) PermissionSet {
	set := c.all.Clone()
	if scopeType == ScopeProject {
		for _, perm := range c.families[FamilyWorkspace] {
			set.Remove(perm)
		}
	}
	return set
}

// PermissionSet is a set of permission identifiers.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from the given identifiers.
func NewPermissionSet(perms ...string) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, perm := range perms {
		set[perm] = struct{}{}
	}
	return set
}

// Has reports membership.
func (s PermissionSet) Has(permission string) bool {
	_, ok := s[permission]
	return ok
}

// Add inserts a permission.
func (s PermissionSet) Add(permission string) {
	s[permission] = struct{}{}
}

// Remove deletes a permission.
func (s PermissionSet) Remove(permission string) {
	delete(s, permission)
}

// Clone returns an independent copy.
func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for perm := range s {
		out[perm] = struct{}{}
	}
	return out
}

// Union returns a new set holding every permission from both sets.
func (s PermissionSet) Union(other PermissionSet) PermissionSet {
	out := s.Clone()
	for perm := range other {
		out[perm] = struct{}{}
	}
	return out
}

// Intersect returns a new set holding permissions present in both sets.
func (s PermissionSet) Intersect(other PermissionSet) PermissionSet {
	out := NewPermissionSet()
	for perm := range s {
		if other.Has(perm) {
			out.Add(perm)
		}
	}
	return out
}

// Sorted returns the permissions as a sorted slice for stable output.
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for perm := range s {
		out = append(out, perm)
	}
	sort.Strings(out)
	return out
}
