package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/aliuyar1234/taskshift/internal/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists tasks.
type Store interface {
	Create(ctx context.Context, t *Task) error
	// Get returns ErrTaskNotFound when no task has id.
	Get(ctx context.Context, id uuid.UUID) (*Task, error)
	// ListByOrg returns the organization's tasks, newest first.
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]Task, error)
	// ListAssigned returns the organization's tasks assigned to userID, in
	// either the object or the bare-id form, newest first.
	ListAssigned(ctx context.Context, orgID uuid.UUID, userID string) ([]Task, error)
	Update(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id uuid.UUID) error
}

const tasksTable = "tasks"

var taskColumns = []string{
	"id", "title", "description", "created_by", "organization_id", "assignees",
	"status", "due_date", "created_at", "updated_at",
}

// PostgresStore is the pgx-backed Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a task store on pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	var createdBy uuid.NullUUID
	var assignees []byte
	err := row.Scan(&t.ID, &t.Title, &t.Description, &createdBy, &t.OrganizationID, &assignees,
		&t.Status, &t.DueDate, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if createdBy.Valid {
		t.CreatedBy = &createdBy.UUID
	}
	t.Assignees = Assignees{}
	if len(assignees) > 0 {
		if err := json.Unmarshal(assignees, &t.Assignees); err != nil {
			return nil, fmt.Errorf("failed to decode assignees of task %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func encodeAssignees(as Assignees) (string, error) {
	if as == nil {
		as = Assignees{}
	}
	b, err := json.Marshal(as)
	if err != nil {
		return "", fmt.Errorf("failed to encode assignees: %w", err)
	}
	return string(b), nil
}

func (s *PostgresStore) Create(ctx context.Context, t *Task) error {
	assignees, err := encodeAssignees(t.Assignees)
	if err != nil {
		return err
	}

	query, args, err := db.SQL.Insert(tasksTable).
		Columns("title", "description", "created_by", "organization_id", "assignees", "status", "due_date").
		Values(t.Title, t.Description, t.CreatedBy, t.OrganizationID, sq.Expr("?::jsonb", assignees), t.Status, t.DueDate).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build task insert: %w", err)
	}

	if err := db.Conn(ctx, s.pool).QueryRow(ctx, query, args...).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Task, error) {
	query, args, err := db.SQL.Select(taskColumns...).
		From(tasksTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build task query: %w", err)
	}

	t, err := scanTask(db.Conn(ctx, s.pool).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]Task, error) {
	return s.list(ctx, sq.Eq{"organization_id": orgID})
}

func (s *PostgresStore) ListAssigned(ctx context.Context, orgID uuid.UUID, userID string) ([]Task, error) {
	asObject, err := json.Marshal([]map[string]string{{"user_id": userID}})
	if err != nil {
		return nil, fmt.Errorf("failed to encode assignee filter: %w", err)
	}
	asBareID, err := json.Marshal([]string{userID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode assignee filter: %w", err)
	}

	return s.list(ctx, sq.And{
		sq.Eq{"organization_id": orgID},
		sq.Or{
			sq.Expr("assignees @> ?::jsonb", string(asObject)),
			sq.Expr("assignees @> ?::jsonb", string(asBareID)),
		},
	})
}

func (s *PostgresStore) list(ctx context.Context, where sq.Sqlizer) ([]Task, error) {
	query, args, err := db.SQL.Select(taskColumns...).
		From(tasksTable).
		Where(where).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build task list query: %w", err)
	}

	rows, err := db.Conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	out := []Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, t *Task) error {
	assignees, err := encodeAssignees(t.Assignees)
	if err != nil {
		return err
	}

	query, args, err := db.SQL.Update(tasksTable).
		SetMap(map[string]any{
			"title":           t.Title,
			"description":     t.Description,
			"organization_id": t.OrganizationID,
			"assignees":       sq.Expr("?::jsonb", assignees),
			"status":          t.Status,
			"due_date":        t.DueDate,
			"updated_at":      sq.Expr("NOW()"),
		}).
		Where(sq.Eq{"id": t.ID}).
		Suffix("RETURNING updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build task update: %w", err)
	}

	if err := db.Conn(ctx, s.pool).QueryRow(ctx, query, args...).Scan(&t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id uuid.UUID) error {
	query, args, err := db.SQL.Delete(tasksTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build task delete: %w", err)
	}

	tag, err := db.Conn(ctx, s.pool).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}
