package orgs

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/aliuyar1234/taskshift/internal/auth"
	"github.com/aliuyar1234/taskshift/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// CreateRequest represents the request to create an organization
type CreateRequest struct {
	OrganizationName string `json:"organization_name"`
}

// orgRef is a request body naming one organization.
type orgRef struct {
	OrganizationID string `json:"organization_id"`
}

// optionalID parses raw with validation.ParseID; blank yields nil.
func optionalID(raw string) (*uuid.UUID, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	id, err := validation.ParseID(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	return validation.ParseID(chi.URLParam(r, name))
}

// HandleCreate handles POST /api/organizations
func HandleCreate(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		org, res, err := svc.Create(r.Context(), req.OrganizationName, auth.CurrentUser(r.Context()))
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, res.Fields(map[string]any{
			"message":      "Organization created successfully",
			"organization": org,
		}))
	}
}

// HandleList handles GET /api/organizations
func HandleList(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgs, err := svc.ListAll(r.Context(), auth.CurrentUser(r.Context()))
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"organizations": orgs,
		})
	}
}

// HandleListMine handles GET /api/organizations/my-organizations
func HandleListMine(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgs, err := svc.ListForUser(r.Context(), auth.CurrentUser(r.Context()))
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"organizations": orgs,
		})
	}
}

// HandleGet handles GET /api/organizations/{id}
func HandleGet(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := pathID(r, "id")
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		org, err := svc.Get(r.Context(), orgID, auth.CurrentUser(r.Context()))
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"organization": org,
		})
	}
}

// HandleGetCurrent handles GET /api/organizations/me
func HandleGetCurrent(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := auth.CurrentUser(r.Context())
		orgID, err := ResolveOrganization(user, nil)
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		org, err := svc.Get(r.Context(), orgID, user)
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"organization": org,
		})
	}
}

// HandleSetCurrent handles POST /api/organizations/set-current
func HandleSetCurrent(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req orgRef
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		orgID, err := validation.ParseID(req.OrganizationID)
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		user := auth.CurrentUser(r.Context())
		if err := svc.SetCurrent(r.Context(), orgID, user); err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"message":                 "Current organization updated",
			"current_organization_id": orgID,
		})
	}
}
