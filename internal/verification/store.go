package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/aliuyar1234/taskshift/internal/db"
	"github.com/aliuyar1234/taskshift/internal/users"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Status is the state of one verification row.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusExpired  Status = "expired"
)

// ErrVerificationNotFound is returned when an email has no verification rows
var ErrVerificationNotFound = apperrors.New(apperrors.KindNotFound, "verification record not found")

// Verification is one issued code. Several rows may exist per email; only
// the most recently created one is authoritative.
type Verification struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Code      string    `json:"-"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists verification rows.
type Store interface {
	Create(ctx context.Context, v *Verification) error
	// Latest returns the most recently created row for email.
	Latest(ctx context.Context, email string) (*Verification, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
	// RecordFailedAttempt increments the row's failed-attempt counter and
	// returns the new value.
	RecordFailedAttempt(ctx context.Context, id uuid.UUID) (int, error)
	// ExpirePending marks pending rows created before cutoff as expired.
	ExpirePending(ctx context.Context, cutoff time.Time) (int64, error)
}

// PostgresStore is the pgx-backed Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a verification store on pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, v *Verification) error {
	v.Email = users.NormalizeEmail(v.Email)
	query, args, err := db.SQL.Insert("verifications").
		Columns("email", "code", "status").
		Values(v.Email, v.Code, v.Status).
		Suffix("RETURNING id, created_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build verification insert: %w", err)
	}

	if err := db.Conn(ctx, s.pool).QueryRow(ctx, query, args...).Scan(&v.ID, &v.CreatedAt); err != nil {
		return fmt.Errorf("failed to create verification: %w", err)
	}
	return nil
}

func (s *PostgresStore) Latest(ctx context.Context, email string) (*Verification, error) {
	query, args, err := db.SQL.
		Select("id", "email", "code", "status", "attempts", "created_at").
		From("verifications").
		Where(sq.Expr("lower(email) = ?", users.NormalizeEmail(email))).
		OrderBy("created_at DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build verification query: %w", err)
	}

	var v Verification
	err = db.Conn(ctx, s.pool).QueryRow(ctx, query, args...).Scan(&v.ID, &v.Email, &v.Code, &v.Status, &v.Attempts, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVerificationNotFound
		}
		return nil, fmt.Errorf("failed to get verification: %w", err)
	}
	return &v, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	query, args, err := db.SQL.Update("verifications").
		Set("status", status).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build verification update: %w", err)
	}

	tag, err := db.Conn(ctx, s.pool).Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update verification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVerificationNotFound
	}
	return nil
}

func (s *PostgresStore) RecordFailedAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	query, args, err := db.SQL.Update("verifications").
		Set("attempts", sq.Expr("attempts + 1")).
		Where(sq.Eq{"id": id}).
		Suffix("RETURNING attempts").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build verification attempt update: %w", err)
	}

	var attempts int
	if err := db.Conn(ctx, s.pool).QueryRow(ctx, query, args...).Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrVerificationNotFound
		}
		return 0, fmt.Errorf("failed to record verification attempt: %w", err)
	}
	return attempts, nil
}

func (s *PostgresStore) ExpirePending(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := db.SQL.Update("verifications").
		Set("status", StatusExpired).
		Where(sq.Eq{"status": StatusPending}).
		Where(sq.Lt{"created_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build verification sweep: %w", err)
	}

	tag, err := db.Conn(ctx, s.pool).Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to expire verifications: %w", err)
	}
	return tag.RowsAffected(), nil
}
