package orgs

import (
	"encoding/json"
	"net/http"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/aliuyar1234/taskshift/internal/auth"
)

type inviteRequest struct {
	OrganizationID string `json:"organization_id"`
	InviteInput
}

type activateRequest struct {
	OrganizationID string `json:"organization_id"`
	InviteCode     string `json:"invite_code"`
	Email          string `json:"email"`
}

func (req activateRequest) ref() (InvitationRef, error) {
	orgID, err := optionalID(req.OrganizationID)
	if err != nil {
		return InvitationRef{}, err
	}
	code, err := optionalID(req.InviteCode)
	if err != nil {
		return InvitationRef{}, err
	}
	return InvitationRef{OrganizationID: orgID, InviteCode: code}, nil
}

type registrationRequest struct {
	activateRequest
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

// HandleInvite handles POST /api/organizations/invite
func HandleInvite(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := auth.CurrentUser(r.Context())

		var req inviteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		explicit, err := optionalID(req.OrganizationID)
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}
		orgID, err := ResolveOrganization(user, explicit)
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		m, res, err := svc.Invite(r.Context(), orgID, req.InviteInput, user)
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusCreated, res.Fields(map[string]any{
			"message":    "Invitation sent successfully",
			"invitation": m,
		}))
	}
}

// HandleActivate handles POST /api/organizations/activate-invitation
func HandleActivate(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req activateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		ref, err := req.ref()
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		user := auth.CurrentUser(r.Context())
		m, res, err := svc.Activate(r.Context(), ref, req.Email, user)
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, res.Fields(map[string]any{
			"message":    "Invitation accepted",
			"membership": m,
			"user":       user,
		}))
	}
}

// HandleActivateWithRegistration handles
// POST /api/organizations/activate-invitation-with-registration
func HandleActivateWithRegistration(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registrationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		ref, err := req.ref()
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		res, err := svc.ActivateWithRegistration(r.Context(), RegistrationInput{
			InvitationRef: ref,
			Email:         req.Email,
			Username:      req.Username,
			FullName:      req.FullName,
			Password:      req.Password,
		})
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		fields := map[string]any{
			"message":    "Account created and invitation accepted",
			"user":       res.User,
			"membership": res.Membership,
		}
		if res.Token != "" {
			fields["token"] = res.Token
		}
		apperrors.WriteSuccess(w, r, http.StatusCreated, res.Secondary.Fields(fields))
	}
}
