// Package taskstest provides an in-memory tasks.Store for tests.
package taskstest

import (
	"context"
	"sync"
	"time"

	"github.com/aliuyar1234/taskshift/internal/tasks"
	"github.com/google/uuid"
)

// Store is a tasks.Store kept in memory.
type Store struct {
	mu    sync.Mutex
	tasks []*tasks.Task
	seq   time.Duration
}

var _ tasks.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

func (s *Store) now() time.Time {
	s.seq += time.Millisecond
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(s.seq)
}

func clone(t *tasks.Task) *tasks.Task {
	c := *t
	c.Assignees = append(tasks.Assignees{}, t.Assignees...)
	return &c
}

// Len returns the number of stored tasks.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *Store) Create(ctx context.Context, t *tasks.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.ID = uuid.New()
	t.CreatedAt = s.now()
	t.UpdatedAt = t.CreatedAt
	s.tasks = append(s.tasks, clone(t))
	return nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*tasks.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.ID == id {
			return clone(t), nil
		}
	}
	return nil, tasks.ErrTaskNotFound
}

func (s *Store) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]tasks.Task, error) {
	return s.list(func(t *tasks.Task) bool { return t.OrganizationID == orgID }), nil
}

func (s *Store) ListAssigned(ctx context.Context, orgID uuid.UUID, userID string) ([]tasks.Task, error) {
	return s.list(func(t *tasks.Task) bool {
		return t.OrganizationID == orgID && t.Assignees.Includes(userID)
	}), nil
}

// list walks backwards so the newest task comes first.
func (s *Store) list(match func(t *tasks.Task) bool) []tasks.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []tasks.Task{}
	for i := len(s.tasks) - 1; i >= 0; i-- {
		if match(s.tasks[i]) {
			out = append(out, *clone(s.tasks[i]))
		}
	}
	return out
}

func (s *Store) Update(ctx context.Context, t *tasks.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.tasks {
		if existing.ID == t.ID {
			t.UpdatedAt = s.now()
			s.tasks[i] = clone(t)
			return nil
		}
	}
	return tasks.ErrTaskNotFound
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.tasks {
		if t.ID == id {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return nil
		}
	}
	return tasks.ErrTaskNotFound
}
