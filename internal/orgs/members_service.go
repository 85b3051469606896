package orgs

import (
	"context"
	"errors"

	"github.com/aliuyar1234/taskshift/internal/audit"
	"github.com/aliuyar1234/taskshift/internal/besteffort"
	"github.com/aliuyar1234/taskshift/internal/users"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ListMembers returns every membership row of an organization, invited and
// active, ordered by full name. The caller must be an ACTIVE member.
func (s *Service) ListMembers(ctx context.Context, orgID, callerID uuid.UUID) ([]Membership, error) {
	if _, err := s.RequireMember(ctx, callerID, orgID); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, orgID)
}

// Join adds user to an organization as an ACTIVE standard member. A pending
// invitation for the user's email is superseded and removed.
func (s *Service) Join(ctx context.Context, orgID uuid.UUID, user *users.User) (*Membership, *besteffort.Result, error) {
	if _, err := s.store.GetOrganization(ctx, orgID); err != nil {
		return nil, nil, err
	}

	m := &Membership{
		OrganizationID: orgID,
		UserID:         &user.ID,
		Email:          user.Email,
		FullName:       user.FullName,
		Username:       user.Username,
		Role:           RoleUser,
		Permission:     PermissionStandard,
		Status:         StatusActive,
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.GetActiveMembership(ctx, orgID, user.ID); err == nil {
			return ErrAlreadyMember
		} else if !errors.Is(err, ErrNotMember) {
			return err
		}
		if inv, err := s.store.FindMembershipByEmail(ctx, orgID, user.Email, StatusInvited); err == nil {
			if err := s.store.DeleteMembership(ctx, inv.ID); err != nil {
				return err
			}
		} else if !errors.Is(err, ErrMemberNotFound) {
			return err
		}
		if err := s.store.CreateMembership(ctx, m); err != nil {
			return err
		}
		return s.users.AddOrganization(ctx, user.ID, orgID, false)
	})
	if err != nil {
		return nil, nil, err
	}

	res := &besteffort.Result{}
	s.audit(ctx, res, orgID, &user.ID, audit.EventMemberJoined, nil)
	return m, res, nil
}

// Leave removes the user's ACTIVE membership. The last admin of an
// organization cannot leave it.
func (s *Service) Leave(ctx context.Context, orgID uuid.UUID, user *users.User) (*besteffort.Result, error) {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		m, err := s.store.GetActiveMembership(ctx, orgID, user.ID)
		if err != nil {
			return err
		}
		if m.Permission == PermissionAdmin {
			admins, err := s.store.LockActiveAdmins(ctx, orgID)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return ErrLastAdmin
			}
		}
		if err := s.store.DeleteMembership(ctx, m.ID); err != nil {
			return err
		}
		return s.users.RemoveOrganization(ctx, user.ID, orgID)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("organization_id", orgID.String()).
		Str("user_id", user.ID.String()).
		Msg("User left organization")

	res := &besteffort.Result{}
	s.audit(ctx, res, orgID, &user.ID, audit.EventMemberLeft, nil)
	return res, nil
}

// SetCurrent makes orgID the user's current organization. The organization
// must be in the user's set and the membership ACTIVE.
func (s *Service) SetCurrent(ctx context.Context, orgID uuid.UUID, user *users.User) error {
	if !user.HasOrganization(orgID) {
		return ErrNotMember
	}
	if _, err := s.RequireMember(ctx, user.ID, orgID); err != nil {
		return err
	}
	if err := s.users.SetCurrentOrganization(ctx, user.ID, orgID); err != nil {
		if errors.Is(err, users.ErrNotInOrg) {
			return ErrNotMember
		}
		return err
	}
	user.CurrentOrganizationID = &orgID
	return nil
}

// MemberUpdate carries the fields of an UpdateMember call. Nil fields are
// left unchanged.
type MemberUpdate struct {
	Role       *Role       `json:"role"`
	Permission *Permission `json:"permission"`
}

// Validate rejects unknown role and permission values.
func (u MemberUpdate) Validate() error {
	if u.Role != nil && !u.Role.IsValid() {
		return ErrInvalidRole
	}
	if u.Permission != nil && !u.Permission.IsValid() {
		return ErrInvalidPermission
	}
	return nil
}

// UpdateMember changes the role or permission of an ACTIVE member. The actor
// must be an admin; the last admin cannot be demoted.
func (s *Service) UpdateMember(ctx context.Context, orgID, targetUserID uuid.UUID, update MemberUpdate, actor *users.User) (*Membership, *besteffort.Result, error) {
	if err := update.Validate(); err != nil {
		return nil, nil, err
	}

	var updated *Membership
	var previous Access
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.RequireAdmin(ctx, actor.ID, orgID); err != nil {
			return err
		}

		target, err := s.store.GetActiveMembership(ctx, orgID, targetUserID)
		if err != nil {
			if errors.Is(err, ErrNotMember) {
				return ErrMemberNotFound
			}
			return err
		}
		previous = Access{Role: target.Role, Permission: target.Permission}

		if update.Role != nil {
			target.Role = *update.Role
		}
		if update.Permission != nil {
			target.Permission = *update.Permission
		}

		if previous.Permission == PermissionAdmin && target.Permission != PermissionAdmin {
			admins, err := s.store.LockActiveAdmins(ctx, orgID)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return ErrLastAdmin
			}
		}

		if err := s.store.UpdateMembership(ctx, target.ID, target.Role, target.Permission); err != nil {
			return err
		}
		updated = target
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	res := &besteffort.Result{}
	s.audit(ctx, res, orgID, &actor.ID, audit.EventMemberUpdated, map[string]any{
		"target_user_id":      targetUserID.String(),
		"previous_role":       previous.Role,
		"previous_permission": previous.Permission,
		"role":                updated.Role,
		"permission":          updated.Permission,
	})
	return updated, res, nil
}
