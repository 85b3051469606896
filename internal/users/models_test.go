package users

import (
	"encoding/json"
	"testing"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestOrganizationContextPrefersCurrent(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	u := &User{OrganizationIDs: []uuid.UUID{first, second}, CurrentOrganizationID: &second}

	orgID, err := u.OrganizationContext()
	require.NoError(t, err)
	require.Equal(t, second, orgID)
}

func TestOrganizationContextFallsBackToFirstMembership(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	u := &User{OrganizationIDs: []uuid.UUID{first, second}}

	orgID, err := u.OrganizationContext()
	require.NoError(t, err)
	require.Equal(t, first, orgID)

	nilCurrent := uuid.Nil
	u.CurrentOrganizationID = &nilCurrent
	orgID, err = u.OrganizationContext()
	require.NoError(t, err)
	require.Equal(t, first, orgID)
}

func TestOrganizationContextWithoutMemberships(t *testing.T) {
	u := &User{}

	_, err := u.OrganizationContext()
	require.ErrorIs(t, err, ErrNoOrganization)
	require.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestRoleFromAccountType(t *testing.T) {
	require.Equal(t, RoleAdmin, RoleFromAccountType("adminx"))
	require.Equal(t, RoleAdmin, RoleFromAccountType(" AdminX "))
	require.Equal(t, RoleUser, RoleFromAccountType("admin"))
	require.Equal(t, RoleUser, RoleFromAccountType(""))
}

func TestUserJSONOmitsPasswordHash(t *testing.T) {
	u := &User{ID: uuid.New(), Username: "ada", PasswordHash: "$2a$12$secret"}

	raw, err := json.Marshal(u)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "secret")
	require.Contains(t, string(raw), `"user_id"`)
}
