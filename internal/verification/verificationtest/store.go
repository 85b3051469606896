// Package verificationtest provides an in-memory verification.Store for tests.
package verificationtest

import (
	"context"
	"sync"
	"time"

	"github.com/aliuyar1234/taskshift/internal/users"
	"github.com/aliuyar1234/taskshift/internal/verification"
	"github.com/google/uuid"
)

// Store is a verification.Store kept in memory.
type Store struct {
	mu   sync.Mutex
	rows []*verification.Verification
	now  func() time.Time
}

var _ verification.Store = (*Store)(nil)

// New returns an empty Store stamping rows with now, or time.Now when nil.
func New(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{now: now}
}

// Codes returns every code issued to email, oldest first.
func (s *Store) Codes(email string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, v := range s.rows {
		if v.Email == users.NormalizeEmail(email) {
			out = append(out, v.Code)
		}
	}
	return out
}

func (s *Store) Create(ctx context.Context, v *verification.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.ID = uuid.New()
	v.CreatedAt = s.now()
	c := *v
	s.rows = append(s.rows, &c)
	return nil
}

func (s *Store) Latest(ctx context.Context, email string) (*verification.Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *verification.Verification
	for _, v := range s.rows {
		if v.Email == users.NormalizeEmail(email) && (latest == nil || !v.CreatedAt.Before(latest.CreatedAt)) {
			latest = v
		}
	}
	if latest == nil {
		return nil, verification.ErrVerificationNotFound
	}
	c := *latest
	return &c, nil
}

func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status verification.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.rows {
		if v.ID == id {
			v.Status = status
			return nil
		}
	}
	return verification.ErrVerificationNotFound
}

func (s *Store) RecordFailedAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.rows {
		if v.ID == id {
			v.Attempts++
			return v.Attempts, nil
		}
	}
	return 0, verification.ErrVerificationNotFound
}

func (s *Store) ExpirePending(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, v := range s.rows {
		if v.Status == verification.StatusPending && v.CreatedAt.Before(cutoff) {
			v.Status = verification.StatusExpired
			n++
		}
	}
	return n, nil
}
