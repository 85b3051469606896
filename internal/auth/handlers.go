package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/rs/zerolog/log"
)

// HandleRegister creates an account and returns a bearer token.
func HandleRegister(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		res, err := svc.Register(r.Context(), req)
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		fields := map[string]any{
			"message": "Registration successful. Check your email for a verification code.",
			"token":   res.Token,
			"user":    res.User,
		}
		if res.OrganizationID != nil {
			fields["organization_id"] = res.OrganizationID
		}
		apperrors.WriteSuccess(w, r, http.StatusCreated, res.Secondary.Fields(fields))
	}
}

// LoginRequest is the login payload; Login is a username or an email.
type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// HandleLogin authenticates a user and returns a bearer token.
func HandleLogin(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		res, err := svc.Login(r.Context(), req.Login, req.Password)
		if err != nil {
			if errors.Is(err, ErrVerificationRequired) && res != nil {
				apperrors.WriteErrorFields(w, r, http.StatusForbidden, "Please verify your email before logging in", map[string]any{
					"verification_required": true,
					"email":                 res.User.Email,
				})
				return
			}
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, res.Secondary.Fields(map[string]any{
			"token": res.Token,
			"user":  res.User,
		}))
	}
}

// HandleLogout marks the caller offline. Tokens are stateless and stay valid
// until they expire.
func HandleLogout(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := CurrentUser(r.Context())
		if err := svc.Logout(r.Context(), user); err != nil {
			log.Error().Err(err).Str("user_id", user.ID.String()).Msg("Failed to log out user")
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"message": "Logged out successfully",
		})
	}
}

// HandleMe returns the caller's projection.
func HandleMe(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, res := svc.Me(r.Context(), CurrentUser(r.Context()))
		apperrors.WriteSuccess(w, r, http.StatusOK, res.Fields(map[string]any{
			"user": user,
		}))
	}
}
