package directory

import (
	"time"

	"github.com/daymark/daymark/internal/authz"
)

// PrincipalRecord is a user account in the directory.
type PrincipalRecord struct {
	ID           int64
	Email        string
	Name         string
	PasswordHash string
	GlobalRole   authz.Role
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Workspace is the top-level scope record. OwnerID marks implicit admin
// authority without a membership row.
type Workspace struct {
	ID        int64
	Name      string
	OwnerID   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Project is a scope nested in a workspace. LeadID marks implicit admin
// authority without a membership row.
type Project struct {
	ID          int64
	WorkspaceID int64
	Name        string
	LeadID      int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
