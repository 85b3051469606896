package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aliuyar1234/taskshift/internal/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const (
	EventOrgCreated         = "organization.created"
	EventMemberInvited      = "organization.member_invited"
	EventInvitationAccepted = "organization.invitation_accepted"
	EventMemberJoined       = "organization.member_joined"
	EventMemberLeft         = "organization.member_left"
	EventMemberUpdated      = "organization.member_updated"
	EventTaskCreated        = "task.created"
	EventTaskUpdated        = "task.updated"
	EventTaskDeleted        = "task.deleted"
	EventCurrentOrgSwitched = "organization.current_switched"
)

// Event is one audit log entry to be written.
type Event struct {
	OrganizationID uuid.UUID
	ActorUserID    *uuid.UUID
	Action         string
	Meta           map[string]any
}

// Auditor records organization events. Callers run it as a secondary step.
type Auditor interface {
	Log(ctx context.Context, e Event) error
}

// Writer provides methods to write audit log entries.
type Writer struct {
	pool *pgxpool.Pool
}

func NewWriter(pool *pgxpool.Pool) *Writer {
	return &Writer{pool: pool}
}

func (w *Writer) Log(ctx context.Context, e Event) error {
	metaJSON := []byte("{}")
	if e.Meta != nil {
		b, err := json.Marshal(e.Meta)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal audit meta")
			return err
		}
		metaJSON = b
	}

	query, args, err := db.SQL.Insert("audit_log").
		Columns("organization_id", "actor_user_id", "action", "meta").
		Values(e.OrganizationID, toNullUUID(e.ActorUserID), e.Action, metaJSON).
		ToSql()
	if err != nil {
		return err
	}

	if _, err := w.pool.Exec(ctx, query, args...); err != nil {
		log.Error().Err(err).Str("action", e.Action).Msg("Failed to write audit log")
		return err
	}

	log.Info().
		Str("action", e.Action).
		Str("organization_id", e.OrganizationID.String()).
		Interface("actor_user_id", e.ActorUserID).
		Msg("Audit event logged")

	return nil
}

func toNullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Log(ctx context.Context, e Event) error { return nil }

// ListItem is one audit entry as returned to organization admins.
type ListItem struct {
	ID             uuid.UUID      `json:"id"`
	Action         string         `json:"action"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	ActorUserID    *uuid.UUID     `json:"actor_user_id,omitempty"`
	ActorEmail     string         `json:"actor_email,omitempty"`
	Meta           map[string]any `json:"meta"`
	CreatedAt      time.Time      `json:"created_at"`
}
