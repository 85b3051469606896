package retention

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/aliuyar1234/taskshift/internal/db"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// Expirer marks stale pending verification codes as expired.
type Expirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// Job runs the periodic cleanup: stale codes are expired first, then
// resolved verification rows and audit events past their retention window
// are deleted. A window of zero days disables that delete.
type Job struct {
	pool             *pgxpool.Pool
	verifications    Expirer
	verificationDays int
	auditDays        int
	now              func() time.Time
}

func NewJob(pool *pgxpool.Pool, verifications Expirer, verificationDays, auditDays int) *Job {
	return &Job{
		pool:             pool,
		verifications:    verifications,
		verificationDays: verificationDays,
		auditDays:        auditDays,
		now:              time.Now,
	}
}

func cutoff(now time.Time, days int) time.Time {
	return now.AddDate(0, 0, -days)
}

// DeleteOldVerifications deletes verified and expired rows older than the
// retention window. Pending rows are left for ExpireStale.
//
// Returns the number of rows deleted.
func (j *Job) DeleteOldVerifications(ctx context.Context) (int64, error) {
	if j.verificationDays <= 0 {
		return 0, nil
	}

	query, args, err := db.SQL.Delete("verifications").
		Where(sq.NotEq{"status": "pending"}).
		Where(sq.Lt{"created_at": cutoff(j.now(), j.verificationDays)}).
		ToSql()
	if err != nil {
		return 0, err
	}

	tag, err := db.Conn(ctx, j.pool).Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old verifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteOldAuditEvents deletes audit_log rows older than the retention window.
//
// Returns the number of rows deleted.
func (j *Job) DeleteOldAuditEvents(ctx context.Context) (int64, error) {
	if j.auditDays <= 0 {
		return 0, nil
	}

	query, args, err := db.SQL.Delete("audit_log").
		Where(sq.Lt{"created_at": cutoff(j.now(), j.auditDays)}).
		ToSql()
	if err != nil {
		return 0, err
	}

	tag, err := db.Conn(ctx, j.pool).Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Run executes every cleanup step. A failing step does not stop the others;
// their errors are combined.
func (j *Job) Run(ctx context.Context) error {
	log.Info().
		Int("verification_retention_days", j.verificationDays).
		Int("audit_retention_days", j.auditDays).
		Msg("Starting retention job")

	startTime := time.Now()
	var errs error

	expired, err := j.verifications.ExpireStale(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to expire stale verification codes")
		errs = multierr.Append(errs, fmt.Errorf("verification expiry failed: %w", err))
	}

	verificationsDeleted, err := j.DeleteOldVerifications(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to delete old verifications")
		errs = multierr.Append(errs, err)
	}

	auditDeleted, err := j.DeleteOldAuditEvents(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to delete old audit events")
		errs = multierr.Append(errs, err)
	}

	log.Info().
		Int64("verifications_expired", expired).
		Int64("verifications_deleted", verificationsDeleted).
		Int64("audit_events_deleted", auditDeleted).
		Dur("duration", time.Since(startTime)).
		Msg("Retention job completed")

	return errs
}

// Schedule registers job on a UTC cron scheduler. The caller starts and
// stops the returned scheduler.
func Schedule(schedule string, job *Job) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(time.UTC))

	_, err := c.AddFunc(schedule, func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Retention job panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		_ = job.Run(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule retention job %q: %w", schedule, err)
	}

	return c, nil
}
