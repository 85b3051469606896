package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/aliuyar1234/taskshift/internal/validation"
	"github.com/google/uuid"
)

// DefaultStatus is applied when a task is created without one.
const DefaultStatus = "pending"

const (
	maxTitleLength       = 200
	maxDescriptionLength = 10000
	maxStatusLength      = 32
)

var (
	ErrTaskNotFound    = apperrors.New(apperrors.KindNotFound, "task not found")
	ErrNoAssignees     = apperrors.New(apperrors.KindValidation, "at least one assignee is required")
	ErrInvalidAssignee = apperrors.New(apperrors.KindValidation, "assignee must include user_id, username and full_name")
)

// Assignee is a snapshot of the assigned user taken when the task was
// written. It is never updated when the user changes.
type Assignee struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// UnmarshalJSON accepts the object form and legacy entries that hold only the
// user id as a bare string. "fullname" is read when "full_name" is absent.
func (a *Assignee) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*a = Assignee{UserID: id}
		return nil
	}

	var raw struct {
		UserID     string `json:"user_id"`
		Username   string `json:"username"`
		FullName   string `json:"full_name"`
		LegacyFull string `json:"fullname"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.FullName == "" {
		raw.FullName = raw.LegacyFull
	}
	*a = Assignee{UserID: raw.UserID, Username: raw.Username, FullName: raw.FullName}
	return nil
}

// Valid reports whether every field of the snapshot is set.
func (a Assignee) Valid() bool {
	return strings.TrimSpace(a.UserID) != "" &&
		strings.TrimSpace(a.Username) != "" &&
		strings.TrimSpace(a.FullName) != ""
}

// Assignees is a list that also decodes from a single object.
type Assignees []Assignee

func (as *Assignees) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var one Assignee
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*as = Assignees{one}
		return nil
	}
	var many []Assignee
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*as = many
	return nil
}

// Validate requires a non-empty list of complete snapshots and trims them.
func (as Assignees) Validate() error {
	if len(as) == 0 {
		return ErrNoAssignees
	}
	for i := range as {
		as[i].UserID = strings.TrimSpace(as[i].UserID)
		as[i].Username = strings.TrimSpace(as[i].Username)
		as[i].FullName = validation.SanitizeText(as[i].FullName)
		if !as[i].Valid() {
			return fmt.Errorf("%w (entry %d)", ErrInvalidAssignee, i)
		}
	}
	return nil
}

// Includes reports whether userID is assigned.
func (as Assignees) Includes(userID string) bool {
	for _, a := range as {
		if a.UserID == userID {
			return true
		}
	}
	return false
}

// Task is a unit of work inside one organization.
type Task struct {
	ID             uuid.UUID  `json:"task_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	CreatedBy      *uuid.UUID `json:"created_by"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	Assignees      Assignees  `json:"assignees"`
	Status         string     `json:"status"`
	DueDate        *time.Time `json:"due_date"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// CreateInput holds the fields supplied when creating a task.
type CreateInput struct {
	Title       string
	Description string
	Assignees   Assignees
	Status      string
	DueDate     *time.Time
}

// Validate sanitizes and checks the input in place.
func (in *CreateInput) Validate() error {
	var err error
	if in.Title, err = validation.Required("title", validation.SanitizeText(in.Title), maxTitleLength); err != nil {
		return err
	}
	in.Description = validation.SanitizeText(in.Description)
	if len(in.Description) > maxDescriptionLength {
		return apperrors.New(apperrors.KindValidation, fmt.Sprintf("description must be at most %d characters", maxDescriptionLength))
	}
	if err := in.Assignees.Validate(); err != nil {
		return err
	}
	in.Status = strings.TrimSpace(in.Status)
	if in.Status == "" {
		in.Status = DefaultStatus
	}
	if len(in.Status) > maxStatusLength {
		return apperrors.New(apperrors.KindValidation, fmt.Sprintf("status must be at most %d characters", maxStatusLength))
	}
	return nil
}

// Patch is a partial update. Nil fields are left unchanged; ClearDueDate
// removes the due date.
type Patch struct {
	Title          *string
	Description    *string
	Assignees      *Assignees
	Status         *string
	DueDate        *time.Time
	ClearDueDate   bool
	OrganizationID *uuid.UUID
}

// Validate sanitizes and checks the present fields in place.
func (p *Patch) Validate() error {
	if p.Title != nil {
		title, err := validation.Required("title", validation.SanitizeText(*p.Title), maxTitleLength)
		if err != nil {
			return err
		}
		p.Title = &title
	}
	if p.Description != nil {
		desc := validation.SanitizeText(*p.Description)
		if len(desc) > maxDescriptionLength {
			return apperrors.New(apperrors.KindValidation, fmt.Sprintf("description must be at most %d characters", maxDescriptionLength))
		}
		p.Description = &desc
	}
	if p.Assignees != nil {
		if err := p.Assignees.Validate(); err != nil {
			return err
		}
	}
	if p.Status != nil {
		status, err := validation.Required("status", *p.Status, maxStatusLength)
		if err != nil {
			return err
		}
		p.Status = &status
	}
	return nil
}

// Empty reports whether the patch changes nothing.
func (p *Patch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Assignees == nil &&
		p.Status == nil && p.DueDate == nil && !p.ClearDueDate && p.OrganizationID == nil
}

// Apply copies the present fields onto t.
func (p *Patch) Apply(t *Task) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Assignees != nil {
		t.Assignees = append(Assignees{}, (*p.Assignees)...)
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.ClearDueDate {
		t.DueDate = nil
	} else if p.DueDate != nil {
		due := *p.DueDate
		t.DueDate = &due
	}
	if p.OrganizationID != nil {
		t.OrganizationID = *p.OrganizationID
	}
}
