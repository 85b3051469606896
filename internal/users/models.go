package users

import (
	"strings"
	"time"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/google/uuid"
)

// Role is the global account role. Authorization inside an organization uses
// the membership permission instead.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// RoleFromAccountType maps the registration "type" field to a role.
func RoleFromAccountType(accountType string) Role {
	if strings.EqualFold(strings.TrimSpace(accountType), "adminx") {
		return RoleAdmin
	}
	return RoleUser
}

// Status is the account lifecycle status.
type Status string

const (
	StatusActive   Status = "active"
	StatusVerified Status = "verified"
	StatusPending  Status = "pending"
)

var (
	ErrUserNotFound   = apperrors.New(apperrors.KindNotFound, "user not found")
	ErrUsernameExists = apperrors.New(apperrors.KindConflict, "username already exists")
	ErrEmailExists    = apperrors.New(apperrors.KindConflict, "email already exists")
	ErrNoOrganization = apperrors.New(apperrors.KindValidation, "user does not belong to any organization")
	ErrNotInOrg       = apperrors.New(apperrors.KindForbidden, "user is not a member of this organization")
)

// User is an account. PasswordHash never leaves the process.
type User struct {
	ID                    uuid.UUID   `json:"user_id"`
	Username              string      `json:"username"`
	Email                 string      `json:"email"`
	FullName              string      `json:"full_name"`
	PasswordHash          string      `json:"-"`
	Role                  Role        `json:"role"`
	Status                Status      `json:"status"`
	OrganizationIDs       []uuid.UUID `json:"organization_ids"`
	CurrentOrganizationID *uuid.UUID  `json:"current_organization_id"`
	Online                bool        `json:"online"`
	CreatedAt             time.Time   `json:"created_at"`
	UpdatedAt             time.Time   `json:"updated_at"`
}

// IsVerified reports whether the email address has been confirmed.
func (u *User) IsVerified() bool {
	return u.Status == StatusVerified
}

// HasOrganization reports whether orgID is in the user's organization set.
func (u *User) HasOrganization(orgID uuid.UUID) bool {
	for _, id := range u.OrganizationIDs {
		if id == orgID {
			return true
		}
	}
	return false
}

// OrganizationContext resolves the organization the user is operating in:
// the current organization when set, otherwise the first organization the
// user joined.
func (u *User) OrganizationContext() (uuid.UUID, error) {
	if u.CurrentOrganizationID != nil && *u.CurrentOrganizationID != uuid.Nil {
		return *u.CurrentOrganizationID, nil
	}
	if len(u.OrganizationIDs) > 0 {
		return u.OrganizationIDs[0], nil
	}
	return uuid.Nil, ErrNoOrganization
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
