package verification

import (
	"encoding/json"
	"net/http"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
)

type sendRequest struct {
	Email string `json:"email"`
}

// HandleSend issues a new verification code. It also serves the resend route.
func HandleSend(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}

		res, err := svc.Send(r.Context(), req.Email)
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		if res.AlreadyVerified {
			apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
				"message":          "Email is already verified",
				"already_verified": true,
			})
			return
		}
		apperrors.WriteSuccess(w, r, http.StatusOK, res.Secondary.Fields(map[string]any{
			"message": "Verification code sent",
		}))
	}
}

type verifyRequest struct {
	Email            string `json:"email"`
	Code             string `json:"code"`
	VerificationCode string `json:"verification_code"`
}

// HandleVerify checks a verification code and marks the user verified.
func HandleVerify(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apperrors.WriteBadRequest(w, r, "Invalid request body")
			return
		}
		code := req.Code
		if code == "" {
			code = req.VerificationCode
		}

		already, err := svc.Verify(r.Context(), req.Email, code)
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		if already {
			apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
				"message":          "Email is already verified",
				"already_verified": true,
			})
			return
		}
		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"message": "Email verified successfully",
		})
	}
}

// HandleStatus reports the latest verification state for ?email=.
func HandleStatus(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Status(r.Context(), r.URL.Query().Get("email"))
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"status":   res.Status,
			"verified": res.Verified,
		})
	}
}
