package orgs

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/aliuyar1234/taskshift/internal/db"
	"github.com/aliuyar1234/taskshift/internal/users"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists organizations and memberships.
type Store interface {
	// CreateOrganization returns ErrDuplicateName on a case-insensitive name clash.
	CreateOrganization(ctx context.Context, o *Organization) error
	NameExists(ctx context.Context, name string) (bool, error)
	GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error)
	ListOrganizations(ctx context.Context) ([]Organization, error)
	ListOrganizationsByIDs(ctx context.Context, ids []uuid.UUID) ([]Organization, error)

	// CreateMembership returns ErrAlreadyInvited or ErrAlreadyMember when a
	// uniqueness rule is violated.
	CreateMembership(ctx context.Context, m *Membership) error
	// GetActiveMembership returns ErrNotMember when there is no ACTIVE row.
	GetActiveMembership(ctx context.Context, orgID, userID uuid.UUID) (*Membership, error)
	// FindMembershipByEmail returns ErrMemberNotFound when no row has status.
	FindMembershipByEmail(ctx context.Context, orgID uuid.UUID, email string, status MemberStatus) (*Membership, error)
	// GetInvitationByCode returns ErrInvitationNotFound unless an INVITED row
	// carries code.
	GetInvitationByCode(ctx context.Context, code uuid.UUID) (*Membership, error)
	// ActivateMembership moves an INVITED row to ACTIVE. It returns
	// ErrInvitationNotFound when the row is no longer INVITED.
	ActivateMembership(ctx context.Context, id, userID uuid.UUID, username, fullName string) error
	ListMembers(ctx context.Context, orgID uuid.UUID) ([]Membership, error)
	ListActiveMemberships(ctx context.Context, userID uuid.UUID) ([]Membership, error)
	HasPermissionAnywhere(ctx context.Context, userID uuid.UUID, permission Permission) (bool, error)
	UpdateMembership(ctx context.Context, id uuid.UUID, role Role, permission Permission) error
	DeleteMembership(ctx context.Context, id uuid.UUID) error
	// LockActiveAdmins locks the organization's ACTIVE admin rows for the rest
	// of the transaction and returns how many there are.
	LockActiveAdmins(ctx context.Context, orgID uuid.UUID) (int, error)
}

const (
	orgNameIndex       = "organizations_name_lower_idx"
	memberUserIndex    = "organization_members_org_user_idx"
	pendingInviteIndex = "organization_members_pending_invite_idx"
	organizationsTable = "organizations"
	membershipsTable   = "organization_members"
	activeStatusFilter = "status = 'active'"
)

var (
	orgColumns    = []string{"id", "name", "created_by", "status", "created_at"}
	memberColumns = []string{
		"id", "organization_id", "user_id", "email", "full_name", "username", "role",
		"permission", "status", "invited_by", "invite_code", "created_at", "updated_at",
	}
)

// PostgresStore is the pgx-backed Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates an organization store on pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func scanOrg(row pgx.Row) (*Organization, error) {
	var o Organization
	var createdBy uuid.NullUUID
	if err := row.Scan(&o.ID, &o.Name, &createdBy, &o.Status, &o.CreatedAt); err != nil {
		return nil, err
	}
	if createdBy.Valid {
		o.CreatedBy = &createdBy.UUID
	}
	return &o, nil
}

func scanMember(row pgx.Row) (*Membership, error) {
	var m Membership
	var userID, invitedBy uuid.NullUUID
	err := row.Scan(&m.ID, &m.OrganizationID, &userID, &m.Email, &m.FullName, &m.Username, &m.Role,
		&m.Permission, &m.Status, &invitedBy, &m.InviteCode, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if userID.Valid {
		m.UserID = &userID.UUID
	}
	if invitedBy.Valid {
		m.InvitedBy = &invitedBy.UUID
	}
	return &m, nil
}

func (s *PostgresStore) CreateOrganization(ctx context.Context, o *Organization) error {
	if o.Status == "" {
		o.Status = "active"
	}
	query, args, err := db.SQL.Insert(organizationsTable).
		Columns("name", "created_by", "status").
		Values(o.Name, o.CreatedBy, o.Status).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build organization insert: %w", err)
	}

	if err := db.Conn(ctx, s.pool).QueryRow(ctx, query, args...).Scan(&o.ID, &o.CreatedAt); err != nil {
		if db.IsUniqueViolation(err, orgNameIndex) {
			return ErrDuplicateName
		}
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

func (s *PostgresStore) NameExists(ctx context.Context, name string) (bool, error) {
	query, args, err := db.SQL.
		Select("1").
		Prefix("SELECT EXISTS (").
		From(organizationsTable).
		Where(sq.Expr("lower(name) = lower(?)", name)).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build organization name query: %w", err)
	}

	var exists bool
	if err := db.Conn(ctx, s.pool).QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check organization name: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id uuid.UUID) (*Organization, error) {
	query, args, err := db.SQL.Select(orgColumns...).
		From(organizationsTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build organization query: %w", err)
	}

	o, err := scanOrg(db.Conn(ctx, s.pool).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrgNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return o, nil
}

func (s *PostgresStore) ListOrganizations(ctx context.Context) ([]Organization, error) {
	return s.listOrganizations(ctx, db.SQL.Select(orgColumns...).From(organizationsTable).OrderBy("created_at", "id"))
}

func (s *PostgresStore) ListOrganizationsByIDs(ctx context.Context, ids []uuid.UUID) ([]Organization, error) {
	if len(ids) == 0 {
		return []Organization{}, nil
	}
	return s.listOrganizations(ctx, db.SQL.Select(orgColumns...).
		From(organizationsTable).
		Where(sq.Eq{"id": ids}).
		OrderBy("created_at", "id"))
}

func (s *PostgresStore) listOrganizations(ctx context.Context, b sq.SelectBuilder) ([]Organization, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build organization list: %w", err)
	}

	rows, err := db.Conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	out := []Organization{}
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating organization rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CreateMembership(ctx context.Context, m *Membership) error {
	m.Email = users.NormalizeEmail(m.Email)
	if m.InviteCode == uuid.Nil {
		m.InviteCode = uuid.New()
	}
	query, args, err := db.SQL.Insert(membershipsTable).
		Columns("organization_id", "user_id", "email", "full_name", "username", "role",
			"permission", "status", "invited_by", "invite_code").
		Values(m.OrganizationID, m.UserID, m.Email, m.FullName, m.Username, m.Role,
			m.Permission, m.Status, m.InvitedBy, m.InviteCode).
		Suffix("RETURNING id, created_at, updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build membership insert: %w", err)
	}

	err = db.Conn(ctx, s.pool).QueryRow(ctx, query, args...).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		switch {
		case db.IsUniqueViolation(err, pendingInviteIndex):
			return ErrAlreadyInvited
		case db.IsUniqueViolation(err, memberUserIndex):
			return ErrAlreadyMember
		}
		return fmt.Errorf("failed to create membership: %w", err)
	}
	return nil
}

func (s *PostgresStore) getMember(ctx context.Context, b sq.SelectBuilder, notFound error) (*Membership, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build membership query: %w", err)
	}

	m, err := scanMember(db.Conn(ctx, s.pool).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) GetActiveMembership(ctx context.Context, orgID, userID uuid.UUID) (*Membership, error) {
	return s.getMember(ctx, db.SQL.Select(memberColumns...).
		From(membershipsTable).
		Where(sq.Eq{"organization_id": orgID, "user_id": userID}).
		Where(activeStatusFilter), ErrNotMember)
}

func (s *PostgresStore) FindMembershipByEmail(ctx context.Context, orgID uuid.UUID, email string, status MemberStatus) (*Membership, error) {
	return s.getMember(ctx, db.SQL.Select(memberColumns...).
		From(membershipsTable).
		Where(sq.Eq{"organization_id": orgID, "status": status}).
		Where(sq.Expr("lower(email) = ?", users.NormalizeEmail(email))).
		OrderBy("created_at DESC").
		Limit(1), ErrMemberNotFound)
}

func (s *PostgresStore) GetInvitationByCode(ctx context.Context, code uuid.UUID) (*Membership, error) {
	return s.getMember(ctx, db.SQL.Select(memberColumns...).
		From(membershipsTable).
		Where(sq.Eq{"invite_code": code, "status": StatusInvited}), ErrInvitationNotFound)
}

func (s *PostgresStore) ActivateMembership(ctx context.Context, id, userID uuid.UUID, username, fullName string) error {
	b := db.SQL.Update(membershipsTable).
		Set("status", StatusActive).
		Set("user_id", userID).
		Set("username", username).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id, "status": StatusInvited})
	if fullName != "" {
		b = b.Set("full_name", fullName)
	}
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build membership activation: %w", err)
	}

	tag, err := db.Conn(ctx, s.pool).Exec(ctx, query, args...)
	if err != nil {
		if db.IsUniqueViolation(err, memberUserIndex) {
			return ErrAlreadyMember
		}
		return fmt.Errorf("failed to activate membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvitationNotFound
	}
	return nil
}

func (s *PostgresStore) listMembers(ctx context.Context, b sq.SelectBuilder) ([]Membership, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build member list: %w", err)
	}

	rows, err := db.Conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	out := []Membership{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, orgID uuid.UUID) ([]Membership, error) {
	return s.listMembers(ctx, db.SQL.Select(memberColumns...).
		From(membershipsTable).
		Where(sq.Eq{"organization_id": orgID}).
		OrderBy("lower(full_name)", "created_at"))
}

func (s *PostgresStore) ListActiveMemberships(ctx context.Context, userID uuid.UUID) ([]Membership, error) {
	return s.listMembers(ctx, db.SQL.Select(memberColumns...).
		From(membershipsTable).
		Where(sq.Eq{"user_id": userID}).
		Where(activeStatusFilter).
		OrderBy("created_at"))
}

func (s *PostgresStore) HasPermissionAnywhere(ctx context.Context, userID uuid.UUID, permission Permission) (bool, error) {
	query, args, err := db.SQL.
		Select("1").
		Prefix("SELECT EXISTS (").
		From(membershipsTable).
		Where(sq.Eq{"user_id": userID, "permission": permission}).
		Where(activeStatusFilter).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build permission query: %w", err)
	}

	var ok bool
	if err := db.Conn(ctx, s.pool).QueryRow(ctx, query, args...).Scan(&ok); err != nil {
		return false, fmt.Errorf("failed to check permission: %w", err)
	}
	return ok, nil
}

func (s *PostgresStore) UpdateMembership(ctx context.Context, id uuid.UUID, role Role, permission Permission) error {
	query, args, err := db.SQL.Update(membershipsTable).
		Set("role", role).
		Set("permission", permission).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build membership update: %w", err)
	}

	tag, err := db.Conn(ctx, s.pool).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteMembership(ctx context.Context, id uuid.UUID) error {
	query, args, err := db.SQL.Delete(membershipsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build membership delete: %w", err)
	}

	tag, err := db.Conn(ctx, s.pool).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrMemberNotFound
	}
	return nil
}

func (s *PostgresStore) LockActiveAdmins(ctx context.Context, orgID uuid.UUID) (int, error) {
	query, args, err := db.SQL.Select("id").
		From(membershipsTable).
		Where(sq.Eq{"organization_id": orgID, "permission": PermissionAdmin}).
		Where(activeStatusFilter).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build admin lock: %w", err)
	}

	rows, err := db.Conn(ctx, s.pool).Query(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to lock admins: %w", err)
	}
	defer rows.Close()

	var admins int
	for rows.Next() {
		admins++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to lock admins: %w", err)
	}
	return admins, nil
}
