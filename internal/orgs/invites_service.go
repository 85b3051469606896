package orgs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/aliuyar1234/taskshift/internal/audit"
	"github.com/aliuyar1234/taskshift/internal/auth"
	"github.com/aliuyar1234/taskshift/internal/besteffort"
	"github.com/aliuyar1234/taskshift/internal/notify"
	"github.com/aliuyar1234/taskshift/internal/users"
	"github.com/aliuyar1234/taskshift/internal/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// InviteInput is the payload of an invitation.
type InviteInput struct {
	Email      string     `json:"email"`
	FullName   string     `json:"full_name"`
	Role       Role       `json:"role"`
	Permission Permission `json:"permission"`
}

// Validate normalizes the input in place and applies the defaults.
func (in *InviteInput) Validate() error {
	var err error
	if in.Email, err = validation.Email(in.Email); err != nil {
		return err
	}
	in.FullName = strings.TrimSpace(in.FullName)
	if len(in.FullName) > 128 {
		return apperrors.New(apperrors.KindValidation, "full_name must be at most 128 characters")
	}
	if in.Role == "" {
		in.Role = RoleUser
	}
	if !in.Role.IsValid() {
		return ErrInvalidRole
	}
	if in.Permission == "" {
		in.Permission = PermissionTeamate
	}
	if !in.Permission.IsValid() {
		return ErrInvalidPermission
	}
	return nil
}

// AcceptURL builds the link sent in the invitation email.
func (s *Service) AcceptURL(inviteCode uuid.UUID, email string) string {
	q := url.Values{}
	q.Set("code", inviteCode.String())
	q.Set("email", email)
	return strings.TrimRight(s.frontendURL, "/") + "/join?" + q.Encode()
}

// Invite records an INVITED membership for an email address and sends the
// invitation email as a secondary step.
func (s *Service) Invite(ctx context.Context, orgID uuid.UUID, in InviteInput, inviter *users.User) (*Membership, *besteffort.Result, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}

	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.RequireAdmin(ctx, inviter.ID, orgID); err != nil {
		return nil, nil, err
	}

	if _, err := s.store.FindMembershipByEmail(ctx, orgID, in.Email, StatusActive); err == nil {
		return nil, nil, ErrAlreadyMember
	} else if !errors.Is(err, ErrMemberNotFound) {
		return nil, nil, err
	}
	if _, err := s.store.FindMembershipByEmail(ctx, orgID, in.Email, StatusInvited); err == nil {
		return nil, nil, ErrAlreadyInvited
	} else if !errors.Is(err, ErrMemberNotFound) {
		return nil, nil, err
	}

	m := &Membership{
		OrganizationID: orgID,
		Email:          in.Email,
		FullName:       in.FullName,
		Role:           in.Role,
		Permission:     in.Permission,
		Status:         StatusInvited,
		InvitedBy:      &inviter.ID,
		InviteCode:     uuid.New(),
	}
	if err := s.store.CreateMembership(ctx, m); err != nil {
		return nil, nil, err
	}

	log.Info().
		Str("organization_id", orgID.String()).
		Str("invited_by", inviter.ID.String()).
		Str("email", m.Email).
		Msg("Member invited")

	res := &besteffort.Result{}
	res.Do(ctx, "send_invitation_email", func(ctx context.Context) error {
		msg, err := notify.BuildInvitationEmail(m.Email, notify.InvitationEmailData{
			InviteeName:      m.FullName,
			InviterName:      inviter.FullName,
			OrganizationName: org.Name,
			InviteCode:       m.InviteCode.String(),
			AcceptURL:        s.AcceptURL(m.InviteCode, m.Email),
		})
		if err != nil {
			return err
		}
		return s.notifier.Send(ctx, msg)
	})
	s.audit(ctx, res, orgID, &inviter.ID, audit.EventMemberInvited, map[string]any{
		"email":      m.Email,
		"role":       m.Role,
		"permission": m.Permission,
	})
	return m, res, nil
}

// InvitationRef identifies an invitation either by its code or by the
// organization it was sent for.
type InvitationRef struct {
	OrganizationID *uuid.UUID
	InviteCode     *uuid.UUID
}

func (s *Service) findInvitation(ctx context.Context, ref InvitationRef, email string) (*Membership, error) {
	switch {
	case ref.InviteCode != nil:
		m, err := s.store.GetInvitationByCode(ctx, *ref.InviteCode)
		if err != nil {
			return nil, err
		}
		if ref.OrganizationID != nil && *ref.OrganizationID != m.OrganizationID {
			return nil, ErrInvitationNotFound
		}
		return m, nil
	case ref.OrganizationID != nil:
		m, err := s.store.FindMembershipByEmail(ctx, *ref.OrganizationID, email, StatusInvited)
		if errors.Is(err, ErrMemberNotFound) {
			return nil, ErrInvitationNotFound
		}
		return m, err
	default:
		return nil, apperrors.New(apperrors.KindValidation, "organization_id or invite_code is required")
	}
}

// Activate accepts the invitation addressed to user's email. Adding the
// organization to the user's set is a secondary step.
func (s *Service) Activate(ctx context.Context, ref InvitationRef, email string, user *users.User) (*Membership, *besteffort.Result, error) {
	if email != "" && users.NormalizeEmail(email) != user.Email {
		return nil, nil, ErrInviteEmailMismatch
	}

	m, err := s.findInvitation(ctx, ref, user.Email)
	if err != nil {
		return nil, nil, err
	}
	if m.Email != user.Email {
		return nil, nil, ErrInviteEmailMismatch
	}

	if err := s.store.ActivateMembership(ctx, m.ID, user.ID, user.Username, user.FullName); err != nil {
		return nil, nil, err
	}
	m.Status = StatusActive
	m.UserID = &user.ID
	m.Username = user.Username
	m.FullName = user.FullName

	res := &besteffort.Result{}
	res.Do(ctx, "sync_user_organizations", func(ctx context.Context) error {
		if err := s.users.AddOrganization(ctx, user.ID, m.OrganizationID, false); err != nil {
			return err
		}
		if !user.HasOrganization(m.OrganizationID) {
			user.OrganizationIDs = append(user.OrganizationIDs, m.OrganizationID)
		}
		if user.CurrentOrganizationID == nil {
			orgID := m.OrganizationID
			user.CurrentOrganizationID = &orgID
		}
		return nil
	})
	s.audit(ctx, res, m.OrganizationID, &user.ID, audit.EventInvitationAccepted, map[string]any{
		"membership_id": m.ID.String(),
	})
	return m, res, nil
}

// RegistrationInput creates an account while accepting an invitation.
type RegistrationInput struct {
	InvitationRef
	Email    string
	Username string
	FullName string
	Password string
}

// Validate normalizes the input in place.
func (in *RegistrationInput) Validate() error {
	var err error
	if in.Email, err = validation.Email(in.Email); err != nil {
		return err
	}
	if in.Username, err = validation.Username(in.Username); err != nil {
		return err
	}
	if in.FullName, err = validation.Required("full_name", in.FullName, 128); err != nil {
		return err
	}
	return validation.Password(in.Password)
}

// RegistrationResult is the outcome of ActivateWithRegistration.
type RegistrationResult struct {
	User       *users.User
	Membership *Membership
	Token      string
	Secondary  besteffort.Result
}

// ActivateWithRegistration creates a verified account for the invited email
// and activates its membership in one transaction. Syncing the user's
// organization set and issuing the token are secondary steps.
func (s *Service) ActivateWithRegistration(ctx context.Context, in RegistrationInput) (*RegistrationResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	m, err := s.findInvitation(ctx, in.InvitationRef, in.Email)
	if err != nil {
		return nil, err
	}
	if m.Email != in.Email {
		return nil, ErrInviteEmailMismatch
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &users.User{
		Username:     in.Username,
		Email:        in.Email,
		FullName:     in.FullName,
		PasswordHash: hash,
		Role:         users.RoleUser,
		Status:       users.StatusVerified,
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.users.CheckAvailable(ctx, user.Username, user.Email); err != nil {
			return err
		}
		if err := s.users.Create(ctx, user); err != nil {
			return err
		}
		return s.store.ActivateMembership(ctx, m.ID, user.ID, user.Username, user.FullName)
	})
	if err != nil {
		return nil, err
	}
	m.Status = StatusActive
	m.UserID = &user.ID
	m.Username = user.Username
	m.FullName = user.FullName

	res := &RegistrationResult{User: user, Membership: m}
	res.Secondary.Do(ctx, "sync_user_organizations", func(ctx context.Context) error {
		if err := s.users.AddOrganization(ctx, user.ID, m.OrganizationID, true); err != nil {
			return err
		}
		reloaded, err := s.users.GetByID(ctx, user.ID)
		if err != nil {
			return err
		}
		res.User = reloaded
		return nil
	})
	res.Secondary.Do(ctx, "issue_token", func(ctx context.Context) error {
		token, err := s.tokens.Issue(user.ID)
		if err != nil {
			return err
		}
		res.Token = token
		return nil
	})
	s.audit(ctx, &res.Secondary, m.OrganizationID, &user.ID, audit.EventInvitationAccepted, map[string]any{
		"membership_id": m.ID.String(),
		"registered":    true,
	})

	log.Info().
		Str("organization_id", m.OrganizationID.String()).
		Str("user_id", user.ID.String()).
		Msg("Invited user registered")
	return res, nil
}
