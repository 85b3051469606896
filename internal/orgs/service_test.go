package orgs_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aliuyar1234/taskshift/internal/apperrors"
	"github.com/aliuyar1234/taskshift/internal/audit"
	"github.com/aliuyar1234/taskshift/internal/auth"
	"github.com/aliuyar1234/taskshift/internal/db"
	"github.com/aliuyar1234/taskshift/internal/notify"
	"github.com/aliuyar1234/taskshift/internal/orgs"
	"github.com/aliuyar1234/taskshift/internal/orgs/orgstest"
	"github.com/aliuyar1234/taskshift/internal/users"
	"github.com/aliuyar1234/taskshift/internal/users/userstest"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	auth.BcryptCost = bcrypt.MinCost
	os.Exit(m.Run())
}

type recordingNotifier struct {
	sent []notify.Message
	err  error
}

func (r *recordingNotifier) Send(ctx context.Context, msg notify.Message) error {
	r.sent = append(r.sent, msg)
	return r.err
}

type recordingAuditor struct {
	events []audit.Event
}

func (r *recordingAuditor) Log(ctx context.Context, e audit.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recordingAuditor) actions() []string {
	var out []string
	for _, e := range r.events {
		out = append(out, e.Action)
	}
	return out
}

type fixture struct {
	svc      *orgs.Service
	store    *orgstest.Store
	users    *userstest.Store
	notifier *recordingNotifier
	auditor  *recordingAuditor
	tokens   *auth.Tokens
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    orgstest.New(),
		users:    userstest.New(),
		notifier: &recordingNotifier{},
		auditor:  &recordingAuditor{},
		tokens:   auth.NewTokens("test-secret", time.Hour),
	}
	f.svc = orgs.NewService(orgs.Deps{
		Store:       f.store,
		Users:       f.users,
		Tx:          db.NoTx{},
		Auditor:     f.auditor,
		Notifier:    f.notifier,
		Tokens:      f.tokens,
		FrontendURL: "https://app.taskshift.xyz/",
	})
	return f
}

func (f *fixture) user(t *testing.T, username string) *users.User {
	t.Helper()
	u := &users.User{
		Username: username,
		Email:    username + "@example.com",
		FullName: strings.ToUpper(username[:1]) + username[1:],
		Status:   users.StatusVerified,
		Role:     users.RoleUser,
	}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u
}

func (f *fixture) reload(t *testing.T, u *users.User) *users.User {
	t.Helper()
	fresh, err := f.users.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	return fresh
}

func (f *fixture) org(t *testing.T, name string, owner *users.User) *orgs.Organization {
	t.Helper()
	org, res, err := f.svc.Create(context.Background(), name, owner)
	require.NoError(t, err)
	require.True(t, res.OK())
	return org
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ada := f.user(t, "ada")

	org := f.org(t, "Acme", ada)
	require.Equal(t, "Acme", org.Name)
	require.Equal(t, "active", org.Status)

	access, err := f.svc.GetPermission(context.Background(), org.ID, ada.ID)
	require.NoError(t, err)
	require.Equal(t, &orgs.Access{Role: orgs.RoleAdmin, Permission: orgs.PermissionAdmin}, access)

	ada = f.reload(t, ada)
	require.Equal(t, []uuid.UUID{org.ID}, ada.OrganizationIDs)
	require.Equal(t, org.ID, *ada.CurrentOrganizationID)
	require.Equal(t, []string{audit.EventOrgCreated}, f.auditor.actions())
}

func TestCreateDuplicateNameIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	ada := f.user(t, "ada")
	f.org(t, "Acme", ada)

	_, _, err := f.svc.Create(context.Background(), "ACME", ada)
	require.ErrorIs(t, err, orgs.ErrDuplicateName)
	require.Equal(t, apperrors.KindConflict, apperrors.KindOf(err))

	_, _, err = f.svc.Create(context.Background(), "   ", ada)
	require.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestGetPermissionNotMember(t *testing.T) {
	f := newFixture(t)
	ada := f.user(t, "ada")
	bob := f.user(t, "bob")
	org := f.org(t, "Acme", ada)

	_, err := f.svc.GetPermission(context.Background(), org.ID, bob.ID)
	require.ErrorIs(t, err, orgs.ErrNotMember)
	require.Equal(t, http.StatusForbidden, apperrors.KindOf(err).Status())
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada")
	bob := f.user(t, "bob")
	org := f.org(t, "Acme", ada)

	first, err := f.svc.Get(ctx, org.ID, ada)
	require.NoError(t, err)
	second, err := f.svc.Get(ctx, org.ID, ada)
	require.NoError(t, err)
	require.Equal(t, first, second)

	_, err = f.svc.Get(ctx, org.ID, bob)
	require.ErrorIs(t, err, orgs.ErrNotMember)

	bob.Role = users.RoleAdmin
	got, err := f.svc.Get(ctx, org.ID, bob)
	require.NoError(t, err)
	require.Equal(t, org.ID, got.ID)

	_, err = f.svc.Get(ctx, uuid.New(), ada)
	require.ErrorIs(t, err, orgs.ErrOrgNotFound)
}

func TestListAllRequiresAdminPermission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada")
	bob := f.user(t, "bob")
	f.org(t, "Acme", ada)
	f.org(t, "Globex", ada)

	all, err := f.svc.ListAll(ctx, ada)
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = f.svc.ListAll(ctx, bob)
	require.ErrorIs(t, err, orgs.ErrInsufficientPermissions)
}

func TestListForUserKeepsSetOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada")
	bob := f.user(t, "bob")
	acme := f.org(t, "Acme", ada)
	globex := f.org(t, "Globex", bob)

	_, _, err := f.svc.Join(ctx, acme.ID, f.reload(t, bob))
	require.NoError(t, err)

	list, err := f.svc.ListForUser(ctx, f.reload(t, bob))
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, globex.ID, list[0].ID)
	require.True(t, list[0].Current)
	require.Equal(t, orgs.PermissionAdmin, list[0].Permission)
	require.Equal(t, acme.ID, list[1].ID)
	require.False(t, list[1].Current)
	require.Equal(t, orgs.PermissionStandard, list[1].Permission)
}

func TestInviteAndActivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada")
	bob := f.user(t, "bob")
	org := f.org(t, "Acme", ada)

	inv, res, err := f.svc.Invite(ctx, org.ID, orgs.InviteInput{Email: "Bob@Example.com", FullName: "Bob"}, ada)
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Equal(t, orgs.StatusInvited, inv.Status)
	require.Equal(t, orgs.RoleUser, inv.Role)
	require.Equal(t, orgs.PermissionTeamate, inv.Permission)
	require.Nil(t, inv.UserID)

	require.Len(t, f.notifier.sent, 1)
	msg := f.notifier.sent[0]
	require.Equal(t, "bob@example.com", msg.To)
	require.Equal(t, "Invitation to join Acme", msg.Subject)
	require.Contains(t, msg.TextBody, "https://app.taskshift.xyz/join?code="+inv.InviteCode.String()+"&email=bob%40example.com")

	_, err = f.svc.GetPermission(ctx, org.ID, bob.ID)
	require.ErrorIs(t, err, orgs.ErrNotMember)

	m, res, err := f.svc.Activate(ctx, orgs.InvitationRef{OrganizationID: &org.ID}, "bob@example.com", bob)
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Equal(t, orgs.StatusActive, m.Status)
	require.Equal(t, bob.ID, *m.UserID)
	require.Equal(t, "bob", m.Username)

	access, err := f.svc.GetPermission(ctx, org.ID, bob.ID)
	require.NoError(t, err)
	require.Equal(t, orgs.PermissionTeamate, access.Permission)

	bob = f.reload(t, bob)
	require.Equal(t, []uuid.UUID{org.ID}, bob.OrganizationIDs)
	require.Equal(t, org.ID, *bob.CurrentOrganizationID)

	_, _, err = f.svc.Activate(ctx, orgs.InvitationRef{OrganizationID: &org.ID}, "", bob)
	require.ErrorIs(t, err, orgs.ErrInvitationNotFound)
	require.Equal(t, []uuid.UUID{org.ID}, f.reload(t, bob).OrganizationIDs)

	require.Equal(t, []string{
		audit.EventOrgCreated, audit.EventMemberInvited, audit.EventInvitationAccepted,
	}, f.auditor.actions())
}

func TestActivateByInviteCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada")
	bob := f.user(t, "bob")
	carol := f.user(t, "carol")
	org := f.org(t, "Acme", ada)

	inv, _, err := f.svc.Invite(ctx, org.ID, orgs.InviteInput{Email: bob.Email}, ada)
	require.NoError(t, err)

	_, _, err = f.svc.Activate(ctx, orgs.InvitationRef{InviteCode: &inv.InviteCode}, "", carol)
	require.ErrorIs(t, err, orgs.ErrInviteEmailMismatch)

	_, _, err = f.svc.Activate(ctx, orgs.InvitationRef{InviteCode: &inv.InviteCode}, carol.Email, bob)
	require.ErrorIs(t, err, orgs.ErrInviteEmailMismatch)

	_, _, err = f.svc.Activate(ctx, orgs.InvitationRef{InviteCode: &inv.InviteCode}, "", bob)
	require.NoError(t, err)

	_, _, err = f.svc.Activate(ctx, orgs.InvitationRef{}, "", bob)
	require.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestInviteConflictsAndPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada")
	bob := f.user(t, "bob")
	org := f.org(t, "Acme", ada)

	_, _, err := f.svc.Invite(ctx, org.ID, orgs.InviteInput{Email: "new@example.com"}, ada)
	require.NoError(t, err)
	_, _, err = f.svc.Invite(ctx, org.ID, orgs.InviteInput{Email: "NEW@example.com"}, ada)
	require.ErrorIs(t, err, orgs.ErrAlreadyInvited)

	_, _, err = f.svc.Invite(ctx, org.ID, orgs.InviteInput{Email: ada.Email}, ada)
	require.ErrorIs(t, err, orgs.ErrAlreadyMember)

	_, _, err = f.svc.Join(ctx, org.ID, bob)
	require.NoError(t, err)
	_, _, err = f.svc.Invite(ctx, org.ID, orgs.InviteInput{Email: "other@example.com"}, bob)
	require.ErrorIs(t, err, orgs.ErrInsufficientPermissions)

	_, _, err = f.svc.Invite(ctx, uuid.New(), orgs.InviteInput{Email: "other@example.com"}, ada)
	require.ErrorIs(t, err, orgs.ErrOrgNotFound)

	_, _, err = f.svc.Invite(ctx, org.ID, orgs.InviteInput{Email: "other@example.com", Permission: "owner"}, ada)
	require.ErrorIs(t, err, orgs.ErrInvalidPermission)
}

func TestInviteEmailFailureIsWarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada")
	org := f.org(t, "Acme", ada)
	f.notifier.err = errors.New("email API down")

	inv, res, err := f.svc.Invite(ctx, org.ID, orgs.InviteInput{Email: "bob@example.com"}, ada)
	require.NoError(t, err)
	require.NotNil(t, inv)
	require.False(t, res.OK())
	require.Equal(t, "send_invitation_email", res.Warnings()[0].Step)

	members, err := f.svc.ListMembers(ctx, org.ID, ada.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
}

func TestActivateWithRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada")
	org := f.org(t, "Acme", ada)

	_, _, err := f.svc.Invite(ctx, org.ID, orgs.InviteInput{Email: "bob@example.com", Permission: orgs.PermissionStandard}, ada)
	require.NoError(t, err)

	res, err := f.svc.ActivateWithRegistration(ctx, orgs.RegistrationInput{
		InvitationRef: orgs.InvitationRef{OrganizationID: &org.ID},
		Email:         "bob@example.com",
		Username:      "bob",
		FullName:      "Bob Builder",
		Password:      "correct-horse",
	})
	require.NoError(t, err)
	require.True(t, res.Secondary.OK())
	require.Equal(t, users.StatusVerified, res.User.Status)
	require.Equal(t, []uuid.UUID{org.ID}, res.User.OrganizationIDs)
	require.Equal(t, org.ID, *res.User.CurrentOrganizationID)
	require.Equal(t, orgs.StatusActive, res.Membership.Status)

	userID, err := f.tokens.Parse(res.Token)
	require.NoError(t, err)
	require.Equal(t, res.User.ID, userID)

	access, err := f.svc.GetPermission(ctx, org.ID, res.User.ID)
	require.NoError(t, err)
	require.Equal(t, orgs.PermissionStandard, access.Permission)

	stored, err := f.users.GetByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	require.NoError(t, auth.VerifyPassword(stored.PasswordHash, "correct-horse"))

	_, err = f.svc.ActivateWithRegistration(ctx, orgs.RegistrationInput{
		InvitationRef: orgs.InvitationRef{OrganizationID: &org.ID},
		Email:         "bob@example.com",
		Username:      "bob2",
		FullName:      "Bob Again",
		Password:      "correct-horse",
	})
	require.ErrorIs(t, err, orgs.ErrInvitationNotFound)
}

func TestActivateWithRegistrationTakenUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada")
	org := f.org(t, "Acme", ada)
	_, _, err := f.svc.Invite(ctx, org.ID, orgs.InviteInput{Email: "bob@example.com"}, ada)
	require.NoError(t, err)

	_, err = f.svc.ActivateWithRegistration(ctx, orgs.RegistrationInput{
		InvitationRef: orgs.InvitationRef{OrganizationID: &org.ID},
		Email:         "bob@example.com",
		Username:      "ada",
		FullName:      "Bob",
		Password:      "correct-horse",
	})
	require.ErrorIs(t, err, users.ErrUsernameExists)

	_, err = f.users.GetByEmail(ctx, "bob@example.com")
	require.ErrorIs(t, err, users.ErrUserNotFound)

	_, res, err := f.svc.Activate(ctx, orgs.InvitationRef{OrganizationID: &org.ID}, "", f.user(t, "bob"))
	require.NoError(t, err)
	require.True(t, res.OK())
}

func TestListMembersOrderedByFullName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	zed := f.user(t, "zed")
	amy := f.user(t, "amy")
	org := f.org(t, "Acme", zed)

	_, _, err := f.svc.Join(ctx, org.ID, amy)
	require.NoError(t, err)
	_, _, err = f.svc.Invite(ctx, org.ID, orgs.InviteInput{Email: "max@example.com", FullName: "Max"}, zed)
	require.NoError(t, err)

	members, err := f.svc.ListMembers(ctx, org.ID, amy.ID)
	require.NoError(t, err)
	var names []string
	for _, m := range members {
		names = append(names, m.FullName)
	}
	require.Equal(t, []string{"Amy", "Max", "Zed"}, names)

	outsider := f.user(t, "out")
	_, err = f.svc.ListMembers(ctx, org.ID, outsider.ID)
	require.ErrorIs(t, err, orgs.ErrNotMember)
}

func TestJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada")
	bob := f.user(t, "bob")
	org := f.org(t, "Acme", ada)

	m, _, err := f.svc.Join(ctx, org.ID, bob)
	require.NoError(t, err)
	require.Equal(t, orgs.RoleUser, m.Role)
	require.Equal(t, orgs.PermissionStandard, m.Permission)
	require.Equal(t, []uuid.UUID{org.ID}, f.reload(t, bob).OrganizationIDs)

	_, _, err = f.svc.Join(ctx, org.ID, bob)
	require.ErrorIs(t, err, orgs.ErrAlreadyMember)

	_, _, err = f.svc.Join(ctx, uuid.New(), bob)
	require.ErrorIs(t, err, orgs.ErrOrgNotFound)
}

func TestJoinSupersedesPendingInvitation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada")
	bob := f.user(t, "bob")
	org := f.org(t, "Acme", ada)

	inv, _, err := f.svc.Invite(ctx, org.ID, orgs.InviteInput{Email: bob.Email, FullName: "Bob"}, ada)
	require.NoError(t, err)

	_, _, err = f.svc.Join(ctx, org.ID, bob)
	require.NoError(t, err)

	members, err := f.svc.ListMembers(ctx, org.ID, ada.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	for _, m := range members {
		require.Equal(t, orgs.StatusActive, m.Status)
	}

	_, err = f.store.GetInvitationByCode(ctx, inv.InviteCode)
	require.ErrorIs(t, err, orgs.ErrInvitationNotFound)
}

func TestLeave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada")
	bob := f.user(t, "bob")
	org := f.org(t, "Acme", ada)

	_, err := f.svc.Leave(ctx, org.ID, ada)
	require.ErrorIs(t, err, orgs.ErrLastAdmin)

	_, err = f.svc.Leave(ctx, org.ID, bob)
	require.ErrorIs(t, err, orgs.ErrNotMember)

	_, _, err = f.svc.Join(ctx, org.ID, bob)
	require.NoError(t, err)
	require.NoError(t, f.svc.SetCurrent(ctx, org.ID, f.reload(t, bob)))

	_, err = f.svc.Leave(ctx, org.ID, bob)
	require.NoError(t, err)
	bob = f.reload(t, bob)
	require.Empty(t, bob.OrganizationIDs)
	require.Nil(t, bob.CurrentOrganizationID)

	_, err = f.svc.GetPermission(ctx, org.ID, bob.ID)
	require.ErrorIs(t, err, orgs.ErrNotMember)
}

func TestSetCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada")
	acme := f.org(t, "Acme", ada)
	globex := f.org(t, "Globex", ada)

	ada = f.reload(t, ada)
	require.Equal(t, globex.ID, *ada.CurrentOrganizationID)

	require.NoError(t, f.svc.SetCurrent(ctx, acme.ID, ada))
	require.Equal(t, acme.ID, *f.reload(t, ada).CurrentOrganizationID)

	err := f.svc.SetCurrent(ctx, uuid.New(), ada)
	require.ErrorIs(t, err, orgs.ErrNotMember)
}

func TestUpdateMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.user(t, "ada")
	bob := f.user(t, "bob")
	org := f.org(t, "Acme", ada)
	_, _, err := f.svc.Join(ctx, org.ID, bob)
	require.NoError(t, err)

	standard := orgs.PermissionStandard
	admin := orgs.PermissionAdmin
	adminRole := orgs.RoleAdmin

	_, _, err = f.svc.UpdateMember(ctx, org.ID, ada.ID, orgs.MemberUpdate{Permission: &standard}, ada)
	require.ErrorIs(t, err, orgs.ErrLastAdmin)

	_, _, err = f.svc.UpdateMember(ctx, org.ID, ada.ID, orgs.MemberUpdate{Permission: &standard}, bob)
	require.ErrorIs(t, err, orgs.ErrInsufficientPermissions)

	m, res, err := f.svc.UpdateMember(ctx, org.ID, bob.ID, orgs.MemberUpdate{Role: &adminRole, Permission: &admin}, ada)
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Equal(t, orgs.RoleAdmin, m.Role)
	require.Equal(t, orgs.PermissionAdmin, m.Permission)

	_, _, err = f.svc.UpdateMember(ctx, org.ID, ada.ID, orgs.MemberUpdate{Permission: &standard}, bob)
	require.NoError(t, err)

	_, _, err = f.svc.UpdateMember(ctx, org.ID, uuid.New(), orgs.MemberUpdate{Permission: &standard}, bob)
	require.ErrorIs(t, err, orgs.ErrMemberNotFound)

	bogus := orgs.Permission("owner")
	_, _, err = f.svc.UpdateMember(ctx, org.ID, ada.ID, orgs.MemberUpdate{Permission: &bogus}, bob)
	require.ErrorIs(t, err, orgs.ErrInvalidPermission)
}

func TestPermissionSatisfies(t *testing.T) {
	require.True(t, orgs.PermissionAdmin.Satisfies(orgs.PermissionAdmin))
	require.True(t, orgs.PermissionAdmin.Satisfies(orgs.PermissionTeamate))
	require.True(t, orgs.PermissionStandard.Satisfies(orgs.PermissionTeamate))
	require.False(t, orgs.PermissionStandard.Satisfies(orgs.PermissionAdmin))
	require.False(t, orgs.Permission("").Satisfies(orgs.PermissionTeamate))
}

func TestResolveOrganization(t *testing.T) {
	u := &users.User{}
	_, err := orgs.ResolveOrganization(u, nil)
	require.ErrorIs(t, err, users.ErrNoOrganization)
	require.Equal(t, http.StatusBadRequest, apperrors.KindOf(err).Status())

	first, second := uuid.New(), uuid.New()
	u.OrganizationIDs = []uuid.UUID{first, second}
	got, err := orgs.ResolveOrganization(u, nil)
	require.NoError(t, err)
	require.Equal(t, first, got)

	u.CurrentOrganizationID = &second
	got, err = orgs.ResolveOrganization(u, nil)
	require.NoError(t, err)
	require.Equal(t, second, got)

	explicit := uuid.New()
	got, err = orgs.ResolveOrganization(u, &explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, got)
}

func TestHandleGetRejectsMultiValuedID(t *testing.T) {
	f := newFixture(t)
	ada := f.user(t, "ada")

	r := chi.NewRouter()
	r.Get("/organizations/{id}", orgs.HandleGet(f.svc))

	req := httptest.NewRequest(http.MethodGet, "/organizations/"+uuid.NewString()+","+uuid.NewString(), nil)
	req = req.WithContext(auth.WithUser(req.Context(), ada))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
