package tasks

import (
	"context"

	"github.com/aliuyar1234/taskshift/internal/audit"
	"github.com/aliuyar1234/taskshift/internal/besteffort"
	"github.com/aliuyar1234/taskshift/internal/orgs"
	"github.com/aliuyar1234/taskshift/internal/users"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Permissions answers organization access questions. *orgs.Service
// satisfies it.
type Permissions interface {
	RequireMember(ctx context.Context, userID, orgID uuid.UUID) (*orgs.Access, error)
	RequireAdmin(ctx context.Context, userID, orgID uuid.UUID) (*orgs.Access, error)
}

// Service provides task operations
type Service struct {
	store   Store
	perms   Permissions
	auditor audit.Auditor
}

// NewService creates a new task service
func NewService(store Store, perms Permissions, auditor audit.Auditor) *Service {
	if auditor == nil {
		auditor = audit.Discard{}
	}
	return &Service{store: store, perms: perms, auditor: auditor}
}

func (s *Service) audit(ctx context.Context, res *besteffort.Result, t *Task, actor uuid.UUID, action string) {
	res.Do(ctx, "audit_log", func(ctx context.Context) error {
		return s.auditor.Log(ctx, audit.Event{
			OrganizationID: t.OrganizationID,
			ActorUserID:    &actor,
			Action:         action,
			Meta:           map[string]any{"task_id": t.ID.String(), "title": t.Title},
		})
	})
}

// Create creates a task in orgID. The creator needs admin permission there.
func (s *Service) Create(ctx context.Context, orgID uuid.UUID, in CreateInput, creator *users.User) (*Task, *besteffort.Result, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}
	if _, err := s.perms.RequireAdmin(ctx, creator.ID, orgID); err != nil {
		return nil, nil, err
	}

	t := &Task{
		Title:          in.Title,
		Description:    in.Description,
		CreatedBy:      &creator.ID,
		OrganizationID: orgID,
		Assignees:      in.Assignees,
		Status:         in.Status,
		DueDate:        in.DueDate,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, nil, err
	}

	log.Info().
		Str("task_id", t.ID.String()).
		Str("organization_id", orgID.String()).
		Str("user_id", creator.ID.String()).
		Int("assignees", len(t.Assignees)).
		Msg("Task created")

	res := &besteffort.Result{}
	s.audit(ctx, res, t, creator.ID, audit.EventTaskCreated)
	return t, res, nil
}

// ListByOrganization returns the organization's tasks, newest first. The
// caller must be an ACTIVE member.
func (s *Service) ListByOrganization(ctx context.Context, orgID uuid.UUID, caller *users.User) ([]Task, error) {
	if _, err := s.perms.RequireMember(ctx, caller.ID, orgID); err != nil {
		return nil, err
	}
	return s.store.ListByOrg(ctx, orgID)
}

// ListAssigned returns the tasks in orgID assigned to userID.
func (s *Service) ListAssigned(ctx context.Context, orgID, userID uuid.UUID, caller *users.User) ([]Task, error) {
	if _, err := s.perms.RequireMember(ctx, caller.ID, orgID); err != nil {
		return nil, err
	}
	return s.store.ListAssigned(ctx, orgID, userID.String())
}

// Get returns a task the caller can see. A missing task is reported before
// membership is checked.
func (s *Service) Get(ctx context.Context, taskID uuid.UUID, caller *users.User) (*Task, error) {
	t, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.perms.RequireMember(ctx, caller.ID, t.OrganizationID); err != nil {
		return nil, err
	}
	return t, nil
}

// Update applies patch to a task. The caller needs admin permission in the
// task's organization and, when the patch moves the task, in the target one.
func (s *Service) Update(ctx context.Context, taskID uuid.UUID, patch Patch, caller *users.User) (*Task, *besteffort.Result, error) {
	if err := patch.Validate(); err != nil {
		return nil, nil, err
	}

	t, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := s.perms.RequireAdmin(ctx, caller.ID, t.OrganizationID); err != nil {
		return nil, nil, err
	}
	if patch.OrganizationID != nil && *patch.OrganizationID != t.OrganizationID {
		if _, err := s.perms.RequireAdmin(ctx, caller.ID, *patch.OrganizationID); err != nil {
			return nil, nil, err
		}
	}

	res := &besteffort.Result{}
	if patch.Empty() {
		return t, res, nil
	}

	patch.Apply(t)
	if err := s.store.Update(ctx, t); err != nil {
		return nil, nil, err
	}

	s.audit(ctx, res, t, caller.ID, audit.EventTaskUpdated)
	return t, res, nil
}

// Delete removes a task. The caller needs admin permission in its
// organization.
func (s *Service) Delete(ctx context.Context, taskID uuid.UUID, caller *users.User) (*besteffort.Result, error) {
	t, err := s.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if _, err := s.perms.RequireAdmin(ctx, caller.ID, t.OrganizationID); err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, taskID); err != nil {
		return nil, err
	}

	log.Info().
		Str("task_id", taskID.String()).
		Str("organization_id", t.OrganizationID.String()).
		Str("user_id", caller.ID.String()).
		Msg("Task deleted")

	res := &besteffort.Result{}
	s.audit(ctx, res, t, caller.ID, audit.EventTaskDeleted)
	return res, nil
}
