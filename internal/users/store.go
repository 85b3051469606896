package users

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/aliuyar1234/taskshift/internal/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists users.
type Store interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// GetByLogin looks a user up by username or email.
	GetByLogin(ctx context.Context, login string) (*User, error)
	// CheckAvailable returns ErrUsernameExists or ErrEmailExists when taken.
	CheckAvailable(ctx context.Context, username, email string) error
	SetOnline(ctx context.Context, id uuid.UUID, online bool) error
	SetStatusByEmail(ctx context.Context, email string, status Status) error
	SetPasswordByEmail(ctx context.Context, email, passwordHash string) error
	// AddOrganization appends orgID to the user's set when absent. The current
	// organization is set to orgID when makeCurrent is true or none is set.
	AddOrganization(ctx context.Context, id, orgID uuid.UUID, makeCurrent bool) error
	// RemoveOrganization drops orgID from the set and clears the current
	// organization when it pointed there.
	RemoveOrganization(ctx context.Context, id, orgID uuid.UUID) error
	SetCurrentOrganization(ctx context.Context, id, orgID uuid.UUID) error
}

const (
	usernameConstraint = "users_username_key"
	emailConstraint    = "users_email_lower_idx"
)

var userColumns = []string{
	"id", "username", "email", "full_name", "password_hash", "role", "status",
	"organization_ids", "current_organization_id", "online", "created_at", "updated_at",
}

// PostgresStore is the pgx-backed Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a user store on pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, u *User) error {
	u.Email = NormalizeEmail(u.Email)
	if u.OrganizationIDs == nil {
		u.OrganizationIDs = []uuid.UUID{}
	}

	query, args, err := db.SQL.Insert("users").
		Columns("username", "email", "full_name", "password_hash", "role", "status").
		Values(u.Username, u.Email, u.FullName, u.PasswordHash, u.Role, u.Status).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build user insert: %w", err)
	}

	err = db.Conn(ctx, s.pool).QueryRow(ctx, query, args...).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		switch {
		case db.IsUniqueViolation(err, usernameConstraint):
			return ErrUsernameExists
		case db.IsUniqueViolation(err, emailConstraint):
			return ErrEmailExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.getOne(ctx, sq.Eq{"id": id})
}

func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return s.getOne(ctx, sq.Expr("lower(email) = ?", NormalizeEmail(email)))
}

func (s *PostgresStore) GetByLogin(ctx context.Context, login string) (*User, error) {
	return s.getOne(ctx, sq.Or{
		sq.Eq{"username": login},
		sq.Expr("lower(email) = ?", NormalizeEmail(login)),
	})
}

func (s *PostgresStore) getOne(ctx context.Context, where sq.Sqlizer) (*User, error) {
	query, args, err := db.SQL.Select(userColumns...).From("users").Where(where).Limit(1).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build user query: %w", err)
	}

	var u User
	err = db.Conn(ctx, s.pool).QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.FullName,
		&u.PasswordHash,
		&u.Role,
		&u.Status,
		&u.OrganizationIDs,
		&u.CurrentOrganizationID,
		&u.Online,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) CheckAvailable(ctx context.Context, username, email string) error {
	email = NormalizeEmail(email)
	query, args, err := db.SQL.Select().
		Column(sq.Expr("COALESCE(bool_or(username = ?), false)", username)).
		Column(sq.Expr("COALESCE(bool_or(lower(email) = ?), false)", email)).
		From("users").
		Where(sq.Or{sq.Eq{"username": username}, sq.Expr("lower(email) = ?", email)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build availability query: %w", err)
	}

	var usernameTaken, emailTaken bool
	if err := db.Conn(ctx, s.pool).QueryRow(ctx, query, args...).Scan(&usernameTaken, &emailTaken); err != nil {
		return fmt.Errorf("failed to check user availability: %w", err)
	}
	switch {
	case usernameTaken:
		return ErrUsernameExists
	case emailTaken:
		return ErrEmailExists
	}
	return nil
}

func (s *PostgresStore) SetOnline(ctx context.Context, id uuid.UUID, online bool) error {
	return s.update(ctx, sq.Eq{"id": id}, map[string]any{"online": online})
}

func (s *PostgresStore) SetStatusByEmail(ctx context.Context, email string, status Status) error {
	return s.update(ctx, sq.Expr("lower(email) = ?", NormalizeEmail(email)), map[string]any{"status": status})
}

func (s *PostgresStore) SetPasswordByEmail(ctx context.Context, email, passwordHash string) error {
	return s.update(ctx, sq.Expr("lower(email) = ?", NormalizeEmail(email)), map[string]any{"password_hash": passwordHash})
}

func (s *PostgresStore) AddOrganization(ctx context.Context, id, orgID uuid.UUID, makeCurrent bool) error {
	return s.update(ctx, sq.Eq{"id": id}, map[string]any{
		"organization_ids": sq.Expr(
			"CASE WHEN ?::uuid = ANY(organization_ids) THEN organization_ids ELSE array_append(organization_ids, ?::uuid) END",
			orgID, orgID,
		),
		"current_organization_id": sq.Expr(
			"CASE WHEN ?::boolean OR current_organization_id IS NULL THEN ?::uuid ELSE current_organization_id END",
			makeCurrent, orgID,
		),
	})
}

func (s *PostgresStore) RemoveOrganization(ctx context.Context, id, orgID uuid.UUID) error {
	return s.update(ctx, sq.Eq{"id": id}, map[string]any{
		"organization_ids": sq.Expr("array_remove(organization_ids, ?::uuid)", orgID),
		"current_organization_id": sq.Expr(
			"CASE WHEN current_organization_id = ?::uuid THEN NULL ELSE current_organization_id END",
			orgID,
		),
	})
}

func (s *PostgresStore) SetCurrentOrganization(ctx context.Context, id, orgID uuid.UUID) error {
	query, args, err := db.SQL.Update("users").
		Set("current_organization_id", orgID).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		Where(sq.Expr("?::uuid = ANY(organization_ids)", orgID)).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build current organization update: %w", err)
	}

	tag, err := db.Conn(ctx, s.pool).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to set current organization: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotInOrg
	}
	return nil
}

func (s *PostgresStore) update(ctx context.Context, where sq.Sqlizer, set map[string]any) error {
	set["updated_at"] = sq.Expr("NOW()")
	query, args, err := db.SQL.Update("users").SetMap(set).Where(where).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build user update: %w", err)
	}

	tag, err := db.Conn(ctx, s.pool).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}
