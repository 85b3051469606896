package tasks

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/aliuyar1234/taskshift/internal/auth"
	"github.com/aliuyar1234/taskshift/internal/orgs"
	"github.com/aliuyar1234/taskshift/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

var errInvalidDueDate = apperrors.New(apperrors.KindValidation, "due_date must be an RFC 3339 timestamp or a YYYY-MM-DD date")

// CreateRequest represents the request to create a task. "assigned" is the
// older single-assignee field and is used when "assignees" is absent.
type CreateRequest struct {
	OrganizationID string    `json:"organization_id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Assignees      Assignees `json:"assignees"`
	Assigned       Assignees `json:"assigned"`
	Status         string    `json:"status"`
	DueDate        string    `json:"due_date"`
}

// UpdateRequest is a partial update; absent fields are left unchanged and a
// null due_date clears it. A null assignee list is rejected, tasks always
// keep at least one assignee.
type UpdateRequest struct {
	OrganizationID *string         `json:"organization_id"`
	Title          *string         `json:"title"`
	Description    *string         `json:"description"`
	Assignees      json.RawMessage `json:"assignees"`
	Assigned       json.RawMessage `json:"assigned"`
	Status         *string         `json:"status"`
	DueDate        json.RawMessage `json:"due_date"`
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// decodeAssignees returns nil when the field was absent.
func decodeAssignees(raw json.RawMessage) (*Assignees, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if isNull(raw) {
		return nil, ErrNoAssignees
	}
	var as Assignees
	if err := json.Unmarshal(raw, &as); err != nil {
		return nil, ErrInvalidAssignee
	}
	return &as, nil
}

func parseDueDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return &t, nil
	}
	return nil, errInvalidDueDate
}

func (req UpdateRequest) patch() (Patch, error) {
	p := Patch{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
	}
	raw := req.Assignees
	if len(raw) == 0 {
		raw = req.Assigned
	}
	assignees, err := decodeAssignees(raw)
	if err != nil {
		return Patch{}, err
	}
	p.Assignees = assignees
	if req.OrganizationID != nil {
		id, err := validation.ParseID(*req.OrganizationID)
		if err != nil {
			return Patch{}, err
		}
		p.OrganizationID = &id
	}
	if len(req.DueDate) > 0 {
		if isNull(req.DueDate) {
			p.ClearDueDate = true
		} else {
			var raw string
			if err := json.Unmarshal(req.DueDate, &raw); err != nil {
				return Patch{}, errInvalidDueDate
			}
			due, err := parseDueDate(raw)
			if err != nil {
				return Patch{}, err
			}
			if due == nil {
				p.ClearDueDate = true
			}
			p.DueDate = due
		}
	}
	return p, nil
}

// organizationFor resolves ?organization_id= or the caller's context.
func organizationFor(r *http.Request, raw string) (uuid.UUID, error) {
	var explicit *uuid.UUID
	if strings.TrimSpace(raw) != "" {
		id, err := validation.ParseID(raw)
		if err != nil {
			return uuid.Nil, err
		}
		explicit = &id
	}
	return orgs.ResolveOrganization(auth.CurrentUser(r.Context()), explicit)
}

// HandleCreate handles POST /api/tasks
func HandleCreate(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		orgID, err := organizationFor(r, req.OrganizationID)
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}
		due, err := parseDueDate(req.DueDate)
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}
		assignees := req.Assignees
		if len(assignees) == 0 {
			assignees = req.Assigned
		}

		task, res, err := svc.Create(r.Context(), orgID, CreateInput{
			Title:       req.Title,
			Description: req.Description,
			Assignees:   assignees,
			Status:      req.Status,
			DueDate:     due,
		}, auth.CurrentUser(r.Context()))
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, res.Fields(map[string]any{
			"task": task,
		}))
	}
}

// HandleList handles GET /api/tasks
func HandleList(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := organizationFor(r, r.URL.Query().Get("organization_id"))
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		list, err := svc.ListByOrganization(r.Context(), orgID, auth.CurrentUser(r.Context()))
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"organization_id": orgID,
			"tasks":           list,
		})
	}
}

// HandleListAssigned handles GET /api/tasks/assigned. The user defaults to
// the caller and may be chosen with ?user_id=.
func HandleListAssigned(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := auth.CurrentUser(r.Context())
		orgID, err := organizationFor(r, r.URL.Query().Get("organization_id"))
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		userID := user.ID
		if raw := r.URL.Query().Get("user_id"); raw != "" {
			if userID, err = validation.ParseID(raw); err != nil {
				apperrors.WriteServiceError(w, r, err)
				return
			}
		}

		list, err := svc.ListAssigned(r.Context(), orgID, userID, user)
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"organization_id": orgID,
			"user_id":         userID,
			"tasks":           list,
		})
	}
}

// HandleGet handles GET /api/tasks/{id}
func HandleGet(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID, err := validation.ParseID(chi.URLParam(r, "id"))
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		task, err := svc.Get(r.Context(), taskID, auth.CurrentUser(r.Context()))
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"task": task,
		})
	}
}

// HandleUpdate handles PUT /api/tasks/{id}
func HandleUpdate(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID, err := validation.ParseID(chi.URLParam(r, "id"))
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		var req UpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		patch, err := req.patch()
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		task, res, err := svc.Update(r.Context(), taskID, patch, auth.CurrentUser(r.Context()))
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, res.Fields(map[string]any{
			"task": task,
		}))
	}
}

// HandleDelete handles DELETE /api/tasks/{id}
func HandleDelete(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		taskID, err := validation.ParseID(chi.URLParam(r, "id"))
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		res, err := svc.Delete(r.Context(), taskID, auth.CurrentUser(r.Context()))
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, res.Fields(map[string]any{
			"message": "Task deleted successfully",
		}))
	}
}
