package orgs

import (
	"encoding/json"
	"net/http"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/aliuyar1234/taskshift/internal/auth"
	"github.com/aliuyar1234/taskshift/internal/validation"
)

// HandleListMembers handles GET /api/organizations/members. The organization
// is ?organization_id= or the caller's organization context.
func HandleListMembers(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := auth.CurrentUser(r.Context())

		explicit, err := optionalID(r.URL.Query().Get("organization_id"))
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}
		orgID, err := ResolveOrganization(user, explicit)
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		members, err := svc.ListMembers(r.Context(), orgID, user.ID)
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"organization_id": orgID,
			"members":         members,
		})
	}
}

// HandleJoin handles POST /api/organizations/join
func HandleJoin(svc *Service) http.HandlerFunc {
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

		m, res, err := svc.Join(r.Context(), orgID, auth.CurrentUser(r.Context()))
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, res.Fields(map[string]any{
			"message":    "Joined organization successfully",
			"membership": m,
		}))
	}
}

// HandleLeave handles DELETE /api/organizations/{id}/leave
func HandleLeave(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := pathID(r, "id")
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		res, err := svc.Leave(r.Context(), orgID, auth.CurrentUser(r.Context()))
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, res.Fields(map[string]any{
			"message": "Left organization successfully",
		}))
	}
}

// HandleUpdateMember handles PATCH /api/organizations/{id}/members/{user_id}
func HandleUpdateMember(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orgID, err := pathID(r, "id")
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}
		targetUserID, err := pathID(r, "user_id")
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		var req MemberUpdate
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		m, res, err := svc.UpdateMember(r.Context(), orgID, targetUserID, req, auth.CurrentUser(r.Context()))
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, res.Fields(map[string]any{
			"membership": m,
		}))
	}
}
