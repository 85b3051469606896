package orgs

import (
	"context"
	"net/http"
	"strconv"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/aliuyar1234/taskshift/internal/audit"
	"github.com/aliuyar1234/taskshift/internal/auth"
	"github.com/google/uuid"
)

// AuditLister reads an organization's audit log.
type AuditLister interface {
	ListByOrg(ctx context.Context, orgID uuid.UUID, limit int) ([]audit.ListItem, error)
}

// HandleListAudit handles GET /api/organizations/{id}/audit
func HandleListAudit(svc *Service, reader AuditLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		user := auth.CurrentUser(ctx)

		orgID, err := pathID(r, "id")
		if err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		if _, err := svc.RequireAdmin(ctx, user.ID, orgID); err != nil {
			apperrors.WriteServiceError(w, r, err)
			return
		}

		limit := audit.DefaultLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if v, err := strconv.Atoi(raw); err == nil {
				limit = audit.ClampLimit(v)
			}
		}

		events, err := reader.ListByOrg(ctx, orgID, limit)
		if err != nil {
			apperrors.WriteInternalError(w, r, "Failed to list audit log", err)
			return
		}

		apperrors.WriteSuccess(w, r, http.StatusOK, map[string]any{
			"events": events,
		})
	}
}
