package auth

import (
	"context"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/daymark/daymark/internal/directory"
	"github.com/daymark/daymark/internal/shared"
)

// Directory is the slice of the directory the auth flow needs.
type Directory interface {
	FindPrincipalByEmail(ctx context.Context, email string) (*directory.PrincipalRecord, error)
}

// SessionAudit persists login session metadata for auditing.
type SessionAudit interface {
	CreateSession(ctx context.Context, id string, principalID int64, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
}

// Service wraps authentication business rules.
type Service struct {
	directory Directory
	audit     SessionAudit
}

// NewService constructs a new Service.
func NewService(dir Directory, audit SessionAudit) *Service {
	return &Service{directory: dir, audit: audit}
}

// Authenticate validates email/password credentials. Inactive accounts
// fail the same way bad credentials do.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*directory.PrincipalRecord, error) {
	record, err := s.directory.FindPrincipalByEmail(ctx, email)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !record.Active {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return record, nil
}

// RegisterSession persists the session metadata.
func (s *Service) RegisterSession(ctx context.Context, id string, principalID int64, expiresAt time.Time, ip, ua string) error {
	return s.audit.CreateSession(ctx, id, principalID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.audit.DeleteSession(ctx, id)
}
