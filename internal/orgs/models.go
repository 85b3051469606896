package orgs

import (
	"time"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/google/uuid"
)

// Permission is a member's authorization level within an organization
type Permission string

const (
	PermissionAdmin    Permission = "admin"
	PermissionStandard Permission = "standard"
	PermissionTeamate  Permission = "teamate"
)

func (p Permission) IsValid() bool {
	switch p {
	case PermissionAdmin, PermissionStandard, PermissionTeamate:
		return true
	default:
		return false
	}
}

// Satisfies reports whether p meets the required permission level.
func (p Permission) Satisfies(required Permission) bool {
	level := map[Permission]int{
		PermissionTeamate:  1,
		PermissionStandard: 2,
		PermissionAdmin:    3,
	}
	return level[p] >= level[required] && level[p] > 0
}

// Role is a member's descriptive role within an organization
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

// MemberStatus is the lifecycle state of a membership row
type MemberStatus string

const (
	StatusInvited MemberStatus = "invited"
	StatusActive  MemberStatus = "active"
)

var (
	ErrOrgNotFound             = apperrors.New(apperrors.KindNotFound, "organization not found")
	ErrDuplicateName           = apperrors.New(apperrors.KindConflict, "an organization with this name already exists")
	ErrNotMember               = apperrors.New(apperrors.KindForbidden, "you are not a member of this organization")
	ErrInsufficientPermissions = apperrors.New(apperrors.KindForbidden, "insufficient permissions")
	ErrAlreadyMember           = apperrors.New(apperrors.KindConflict, "this user is already a member of the organization")
	ErrAlreadyInvited          = apperrors.New(apperrors.KindConflict, "this user has already been invited to the organization")
	ErrInvitationNotFound      = apperrors.New(apperrors.KindNotFound, "invitation not found")
	ErrInviteEmailMismatch     = apperrors.New(apperrors.KindForbidden, "this invitation was sent to a different email address")
	ErrMemberNotFound          = apperrors.New(apperrors.KindNotFound, "member not found")
	ErrLastAdmin               = apperrors.New(apperrors.KindConflict, "an organization must keep at least one admin")
	ErrInvalidRole             = apperrors.New(apperrors.KindValidation, "role must be user or admin")
	ErrInvalidPermission       = apperrors.New(apperrors.KindValidation, "permission must be admin, standard or teamate")
)

// Organization represents an organization in the system
type Organization struct {
	ID        uuid.UUID  `json:"organization_id"`
	Name      string     `json:"organization_name"`
	CreatedBy *uuid.UUID `json:"created_by"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// Membership links an email, and once activated a user, to an organization
type Membership struct {
	ID             uuid.UUID    `json:"id"`
	OrganizationID uuid.UUID    `json:"organization_id"`
	UserID         *uuid.UUID   `json:"user_id"`
	Email          string       `json:"email"`
	FullName       string       `json:"full_name"`
	Username       string       `json:"username"`
	Role           Role         `json:"role"`
	Permission     Permission   `json:"permission"`
	Status         MemberStatus `json:"status"`
	InvitedBy      *uuid.UUID   `json:"invited_by,omitempty"`
	InviteCode     uuid.UUID    `json:"-"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Access is what an ACTIVE membership grants
type Access struct {
	Role       Role       `json:"role"`
	Permission Permission `json:"permission"`
}

// OrganizationWithAccess combines org information with the user's access
type OrganizationWithAccess struct {
	Organization
	Access
	Current bool `json:"current"`
}
