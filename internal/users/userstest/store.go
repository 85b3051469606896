// Package userstest provides an in-memory users.Store for tests.
package userstest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aliuyar1234/taskshift/internal/users"
	"github.com/google/uuid"
)

// Store is a users.Store kept in memory.
type Store struct {
	mu    sync.Mutex
	users map[uuid.UUID]*users.User
}

var _ users.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{users: make(map[uuid.UUID]*users.User)}
}

func clone(u *users.User) *users.User {
	c := *u
	c.OrganizationIDs = append([]uuid.UUID{}, u.OrganizationIDs...)
	if u.CurrentOrganizationID != nil {
		id := *u.CurrentOrganizationID
		c.CurrentOrganizationID = &id
	}
	return &c
}

func (s *Store) Create(ctx context.Context, u *users.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.Email = users.NormalizeEmail(u.Email)
	if err := s.checkAvailable(u.Username, u.Email); err != nil {
		return err
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	if u.OrganizationIDs == nil {
		u.OrganizationIDs = []uuid.UUID{}
	}
	s.users[u.ID] = clone(u)
	return nil
}

func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, users.ErrUserNotFound
	}
	return clone(u), nil
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u := s.byEmail(email); u != nil {
		return clone(u), nil
	}
	return nil, users.ErrUserNotFound
}

func (s *Store) GetByLogin(ctx context.Context, login string) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == login {
			return clone(u), nil
		}
	}
	if u := s.byEmail(login); u != nil {
		return clone(u), nil
	}
	return nil, users.ErrUserNotFound
}

func (s *Store) CheckAvailable(ctx context.Context, username, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkAvailable(username, email)
}

func (s *Store) SetOnline(ctx context.Context, id uuid.UUID, online bool) error {
	return s.mutate(id, func(u *users.User) error {
		u.Online = online
		return nil
	})
}

func (s *Store) SetStatusByEmail(ctx context.Context, email string, status users.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.byEmail(email)
	if u == nil {
		return users.ErrUserNotFound
	}
	u.Status = status
	return nil
}

func (s *Store) SetPasswordByEmail(ctx context.Context, email, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.byEmail(email)
	if u == nil {
		return users.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (s *Store) AddOrganization(ctx context.Context, id, orgID uuid.UUID, makeCurrent bool) error {
	return s.mutate(id, func(u *users.User) error {
		if !u.HasOrganization(orgID) {
			u.OrganizationIDs = append(u.OrganizationIDs, orgID)
		}
		if makeCurrent || u.CurrentOrganizationID == nil {
			current := orgID
			u.CurrentOrganizationID = &current
		}
		return nil
	})
}

func (s *Store) RemoveOrganization(ctx context.Context, id, orgID uuid.UUID) error {
	return s.mutate(id, func(u *users.User) error {
		kept := u.OrganizationIDs[:0]
		for _, existing := range u.OrganizationIDs {
			if existing != orgID {
				kept = append(kept, existing)
			}
		}
		u.OrganizationIDs = kept
		if u.CurrentOrganizationID != nil && *u.CurrentOrganizationID == orgID {
			u.CurrentOrganizationID = nil
		}
		return nil
	})
}

func (s *Store) SetCurrentOrganization(ctx context.Context, id, orgID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok || !u.HasOrganization(orgID) {
		return users.ErrNotInOrg
	}
	current := orgID
	u.CurrentOrganizationID = &current
	return nil
}

func (s *Store) mutate(id uuid.UUID, fn func(u *users.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return users.ErrUserNotFound
	}
	u.UpdatedAt = time.Now()
	return fn(u)
}

func (s *Store) byEmail(email string) *users.User {
	email = users.NormalizeEmail(email)
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u
		}
	}
	return nil
}

func (s *Store) checkAvailable(username, email string) error {
	for _, u := range s.users {
		if u.Username == username {
			return users.ErrUsernameExists
		}
	}
	if s.byEmail(email) != nil {
		return users.ErrEmailExists
	}
	return nil
}
