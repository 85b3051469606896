// Package orgstest provides an in-memory orgs.Store for tests.
package orgstest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aliuyar1234/taskshift/internal/orgs"
	"github.com/aliuyar1234/taskshift/internal/users"
	"github.com/google/uuid"
)

// Store is an orgs.Store kept in memory.
type Store struct {
	mu      sync.Mutex
	orgs    []*orgs.Organization
	members []*orgs.Membership
	seq     time.Duration
}

var _ orgs.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{}
}

// now returns strictly increasing timestamps so ordering is deterministic.
func (s *Store) now() time.Time {
	s.seq += time.Millisecond
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(s.seq)
}

func cloneMember(m *orgs.Membership) *orgs.Membership {
	c := *m
	if m.UserID != nil {
		id := *m.UserID
		c.UserID = &id
	}
	return &c
}

func (s *Store) CreateOrganization(ctx context.Context, o *orgs.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.orgs {
		if strings.EqualFold(existing.Name, o.Name) {
			return orgs.ErrDuplicateName
		}
	}
	if o.Status == "" {
		o.Status = "active"
	}
	o.ID = uuid.New()
	o.CreatedAt = s.now()
	c := *o
	s.orgs = append(s.orgs, &c)
	return nil
}

func (s *Store) NameExists(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orgs {
		if strings.EqualFold(o.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetOrganization(ctx context.Context, id uuid.UUID) (*orgs.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orgs {
		if o.ID == id {
			c := *o
			return &c, nil
		}
	}
	return nil, orgs.ErrOrgNotFound
}

func (s *Store) ListOrganizations(ctx context.Context) ([]orgs.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []orgs.Organization{}
	for _, o := range s.orgs {
		out = append(out, *o)
	}
	return out, nil
}

func (s *Store) ListOrganizationsByIDs(ctx context.Context, ids []uuid.UUID) ([]orgs.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []orgs.Organization{}
	for _, o := range s.orgs {
		for _, id := range ids {
			if o.ID == id {
				out = append(out, *o)
				break
			}
		}
	}
	return out, nil
}

func (s *Store) CreateMembership(ctx context.Context, m *orgs.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m.Email = users.NormalizeEmail(m.Email)
	for _, existing := range s.members {
		if existing.OrganizationID != m.OrganizationID {
			continue
		}
		if m.Status == orgs.StatusInvited && existing.Status == orgs.StatusInvited && existing.Email == m.Email {
			return orgs.ErrAlreadyInvited
		}
		if m.UserID != nil && existing.UserID != nil && *existing.UserID == *m.UserID {
			return orgs.ErrAlreadyMember
		}
	}
	if m.InviteCode == uuid.Nil {
		m.InviteCode = uuid.New()
	}
	m.ID = uuid.New()
	m.CreatedAt = s.now()
	m.UpdatedAt = m.CreatedAt
	s.members = append(s.members, cloneMember(m))
	return nil
}

func (s *Store) find(match func(m *orgs.Membership) bool) *orgs.Membership {
	var found *orgs.Membership
	for _, m := range s.members {
		if match(m) && (found == nil || m.CreatedAt.After(found.CreatedAt)) {
			found = m
		}
	}
	return found
}

func (s *Store) GetActiveMembership(ctx context.Context, orgID, userID uuid.UUID) (*orgs.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.find(func(m *orgs.Membership) bool {
		return m.OrganizationID == orgID && m.Status == orgs.StatusActive && m.UserID != nil && *m.UserID == userID
	})
	if m == nil {
		return nil, orgs.ErrNotMember
	}
	return cloneMember(m), nil
}

func (s *Store) FindMembershipByEmail(ctx context.Context, orgID uuid.UUID, email string, status orgs.MemberStatus) (*orgs.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = users.NormalizeEmail(email)
	m := s.find(func(m *orgs.Membership) bool {
		return m.OrganizationID == orgID && m.Status == status && m.Email == email
	})
	if m == nil {
		return nil, orgs.ErrMemberNotFound
	}
	return cloneMember(m), nil
}

func (s *Store) GetInvitationByCode(ctx context.Context, code uuid.UUID) (*orgs.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.find(func(m *orgs.Membership) bool {
		return m.InviteCode == code && m.Status == orgs.StatusInvited
	})
	if m == nil {
		return nil, orgs.ErrInvitationNotFound
	}
	return cloneMember(m), nil
}

func (s *Store) ActivateMembership(ctx context.Context, id, userID uuid.UUID, username, fullName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *orgs.Membership
	for _, m := range s.members {
		if m.ID == id && m.Status == orgs.StatusInvited {
			target = m
		}
	}
	if target == nil {
		return orgs.ErrInvitationNotFound
	}
	for _, m := range s.members {
		if m.OrganizationID == target.OrganizationID && m.UserID != nil && *m.UserID == userID {
			return orgs.ErrAlreadyMember
		}
	}

	target.Status = orgs.StatusActive
	target.UserID = &userID
	target.Username = username
	if fullName != "" {
		target.FullName = fullName
	}
	target.UpdatedAt = s.now()
	return nil
}

func (s *Store) ListMembers(ctx context.Context, orgID uuid.UUID) ([]orgs.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []orgs.Membership{}
	for _, m := range s.members {
		if m.OrganizationID == orgID {
			out = append(out, *cloneMember(m))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].FullName) < strings.ToLower(out[j].FullName)
	})
	return out, nil
}

func (s *Store) ListActiveMemberships(ctx context.Context, userID uuid.UUID) ([]orgs.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []orgs.Membership{}
	for _, m := range s.members {
		if m.Status == orgs.StatusActive && m.UserID != nil && *m.UserID == userID {
			out = append(out, *cloneMember(m))
		}
	}
	return out, nil
}

func (s *Store) HasPermissionAnywhere(ctx context.Context, userID uuid.UUID, permission orgs.Permission) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.members {
		if m.Status == orgs.StatusActive && m.UserID != nil && *m.UserID == userID && m.Permission == permission {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) UpdateMembership(ctx context.Context, id uuid.UUID, role orgs.Role, permission orgs.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.members {
		if m.ID == id {
			m.Role = role
			m.Permission = permission
			m.UpdatedAt = s.now()
			return nil
		}
	}
	return orgs.ErrMemberNotFound
}

func (s *Store) DeleteMembership(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, m := range s.members {
		if m.ID == id {
			s.members = append(s.members[:i], s.members[i+1:]...)
			return nil
		}
	}
	return orgs.ErrMemberNotFound
}

func (s *Store) LockActiveAdmins(ctx context.Context, orgID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, m := range s.members {
		if m.OrganizationID == orgID && m.Status == orgs.StatusActive && m.Permission == orgs.PermissionAdmin {
			n++
		}
	}
	return n, nil
}
