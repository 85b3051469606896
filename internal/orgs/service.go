package orgs

import (
	"context"
	"errors"
	"fmt"

	"github.com/aliuyar1234/taskshift/internal/audit"
	"github.com/aliuyar1234/taskshift/internal/auth"
	"github.com/aliuyar1234/taskshift/internal/besteffort"
	"github.com/aliuyar1234/taskshift/internal/db"
	"github.com/aliuyar1234/taskshift/internal/notify"
	"github.com/aliuyar1234/taskshift/internal/users"
	"github.com/aliuyar1234/taskshift/internal/validation"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Service provides organization and membership operations
type Service struct {
	store       Store
	users       users.Store
	tx          db.TxRunner
	auditor     audit.Auditor
	notifier    notify.Notifier
	tokens      *auth.Tokens
	frontendURL string
}

// Deps holds the collaborators of a Service.
type Deps struct {
	Store       Store
	Users       users.Store
	Tx          db.TxRunner
	Auditor     audit.Auditor
	Notifier    notify.Notifier
	Tokens      *auth.Tokens
	FrontendURL string
}

// NewService creates a new organization service
func NewService(d Deps) *Service {
	if d.Auditor == nil {
		d.Auditor = audit.Discard{}
	}
	if d.Notifier == nil {
		d.Notifier = notify.LogNotifier{}
	}
	return &Service{
		store:       d.Store,
		users:       d.Users,
		tx:          d.Tx,
		auditor:     d.Auditor,
		notifier:    d.Notifier,
		tokens:      d.Tokens,
		frontendURL: d.FrontendURL,
	}
}

func (s *Service) audit(ctx context.Context, res *besteffort.Result, orgID uuid.UUID, actor *uuid.UUID, action string, meta map[string]any) {
	res.Do(ctx, "audit_log", func(ctx context.Context) error {
		return s.auditor.Log(ctx, audit.Event{
			OrganizationID: orgID,
			ActorUserID:    actor,
			Action:         action,
			Meta:           meta,
		})
	})
}

// CreateForOwner creates an organization with owner as its ACTIVE admin
// member and makes it the owner's current organization. It joins the
// transaction bound to ctx when there is one.
func (s *Service) CreateForOwner(ctx context.Context, name string, owner *users.User) (uuid.UUID, error) {
	org, err := s.createForOwner(ctx, name, owner)
	if err != nil {
		return uuid.Nil, err
	}
	return org.ID, nil
}

func (s *Service) createForOwner(ctx context.Context, name string, owner *users.User) (*Organization, error) {
	name, err := validation.Required("organization_name", name, 128)
	if err != nil {
		return nil, err
	}

	org := &Organization{Name: name, CreatedBy: &owner.ID, Status: "active"}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		exists, err := s.store.NameExists(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateName
		}
		if err := s.store.CreateOrganization(ctx, org); err != nil {
			return err
		}
		if err := s.store.CreateMembership(ctx, &Membership{
			OrganizationID: org.ID,
			UserID:         &owner.ID,
			Email:          owner.Email,
			FullName:       owner.FullName,
			Username:       owner.Username,
			Role:           RoleAdmin,
			Permission:     PermissionAdmin,
			Status:         StatusActive,
		}); err != nil {
			return err
		}
		return s.users.AddOrganization(ctx, owner.ID, org.ID, true)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("organization_id", org.ID.String()).
		Str("user_id", owner.ID.String()).
		Msg("Organization created")
	return org, nil
}

// Create creates an organization for owner. The audit entry is a secondary step.
func (s *Service) Create(ctx context.Context, name string, owner *users.User) (*Organization, *besteffort.Result, error) {
	org, err := s.createForOwner(ctx, name, owner)
	if err != nil {
		return nil, nil, err
	}

	res := &besteffort.Result{}
	s.audit(ctx, res, org.ID, &owner.ID, audit.EventOrgCreated, map[string]any{"name": org.Name})
	return org, res, nil
}

// Get returns an organization to an ACTIVE member or a global admin.
func (s *Service) Get(ctx context.Context, orgID uuid.UUID, caller *users.User) (*Organization, error) {
	org, err := s.store.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if caller.Role == users.RoleAdmin {
		return org, nil
	}
	if _, err := s.RequireMember(ctx, caller.ID, orgID); err != nil {
		return nil, err
	}
	return org, nil
}

// ListAll returns every organization. The caller needs admin permission in
// at least one organization.
func (s *Service) ListAll(ctx context.Context, caller *users.User) ([]Organization, error) {
	ok, err := s.store.HasPermissionAnywhere(ctx, caller.ID, PermissionAdmin)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Warn().Str("user_id", caller.ID.String()).Msg("RBAC: Organization listing requires admin permission")
		return nil, ErrInsufficientPermissions
	}
	return s.store.ListOrganizations(ctx)
}

// ListForUser returns the organizations in the user's set, in set order,
// together with the user's access in each.
func (s *Service) ListForUser(ctx context.Context, user *users.User) ([]OrganizationWithAccess, error) {
	memberships, err := s.store.ListActiveMemberships(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	access := make(map[uuid.UUID]Access, len(memberships))
	for _, m := range memberships {
		access[m.OrganizationID] = Access{Role: m.Role, Permission: m.Permission}
	}

	found, err := s.store.ListOrganizationsByIDs(ctx, user.OrganizationIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]Organization, len(found))
	for _, o := range found {
		byID[o.ID] = o
	}

	out := []OrganizationWithAccess{}
	for _, id := range user.OrganizationIDs {
		o, ok := byID[id]
		if !ok {
			continue
		}
		a, ok := access[id]
		if !ok {
			continue
		}
		current := user.CurrentOrganizationID != nil && *user.CurrentOrganizationID == id
		out = append(out, OrganizationWithAccess{Organization: o, Access: a, Current: current})
	}
	return out, nil
}

// GetPermission returns the access granted by the ACTIVE membership of
// userID in orgID, or ErrNotMember.
func (s *Service) GetPermission(ctx context.Context, orgID, userID uuid.UUID) (*Access, error) {
	m, err := s.store.GetActiveMembership(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	return &Access{Role: m.Role, Permission: m.Permission}, nil
}

// CheckPermission verifies that a user has the required permission in an organization
// Returns the user's access if they are an ACTIVE member
// Returns ErrNotMember if the user is not a member
// Returns ErrInsufficientPermissions if the user's permission is insufficient
func (s *Service) CheckPermission(ctx context.Context, userID, orgID uuid.UUID, required Permission) (*Access, error) {
	access, err := s.GetPermission(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, ErrNotMember) {
			log.Debug().
				Str("user_id", userID.String()).
				Str("organization_id", orgID.String()).
				Msg("RBAC: User is not a member of organization")
		}
		return nil, err
	}

	if !access.Permission.Satisfies(required) {
		log.Warn().
			Str("user_id", userID.String()).
			Str("organization_id", orgID.String()).
			Str("permission", string(access.Permission)).
			Str("required_permission", string(required)).
			Msg("RBAC: Insufficient permissions")
		return access, ErrInsufficientPermissions
	}

	return access, nil
}

// RequireMember checks that a user is an ACTIVE member of an organization
func (s *Service) RequireMember(ctx context.Context, userID, orgID uuid.UUID) (*Access, error) {
	return s.CheckPermission(ctx, userID, orgID, PermissionTeamate)
}

// RequireAdmin checks that a user holds admin permission in an organization
func (s *Service) RequireAdmin(ctx context.Context, userID, orgID uuid.UUID) (*Access, error) {
	return s.CheckPermission(ctx, userID, orgID, PermissionAdmin)
}

// ResolveOrganization returns explicit when it is set, otherwise the user's
// organization context.
func ResolveOrganization(user *users.User, explicit *uuid.UUID) (uuid.UUID, error) {
	if explicit != nil && *explicit != uuid.Nil {
		return *explicit, nil
	}
	orgID, err := user.OrganizationContext()
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: join or create an organization first", err)
	}
	return orgID, nil
}
