package verification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aliuyar1234/taskshift/internal/db"
	"github.com/aliuyar1234/taskshift/internal/notify"
	"github.com/aliuyar1234/taskshift/internal/users"
	"github.com/aliuyar1234/taskshift/internal/users/userstest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu   sync.Mutex
	rows []*Verification
	now  func() time.Time
}

func (m *memoryStore) Create(ctx context.Context, v *Verification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v.ID = uuid.New()
	v.CreatedAt = m.now()
	c := *v
	m.rows = append(m.rows, &c)
	return nil
}

func (m *memoryStore) Latest(ctx context.Context, email string) (*Verification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Verification
	for _, v := range m.rows {
		if v.Email == users.NormalizeEmail(email) && (latest == nil || !v.CreatedAt.Before(latest.CreatedAt)) {
			latest = v
		}
	}
	if latest == nil {
		return nil, ErrVerificationNotFound
	}
	c := *latest
	return &c, nil
}

func (m *memoryStore) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.rows {
		if v.ID == id {
			v.Status = status
			return nil
		}
	}
	return ErrVerificationNotFound
}

func (m *memoryStore) RecordFailedAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.rows {
		if v.ID == id {
			v.Attempts++
			return v.Attempts, nil
		}
	}
	return 0, ErrVerificationNotFound
}

func (m *memoryStore) ExpirePending(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, v := range m.rows {
		if v.Status == StatusPending && v.CreatedAt.Before(cutoff) {
			v.Status = StatusExpired
			n++
		}
	}
	return n, nil
}

type recordingNotifier struct {
	sent []notify.Message
	err  error
}

func (r *recordingNotifier) Send(ctx context.Context, msg notify.Message) error {
	r.sent = append(r.sent, msg)
	return r.err
}

type fixture struct {
	svc      *Service
	store    *memoryStore
	users    *userstest.Store
	notifier *recordingNotifier
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:    userstest.New(),
		notifier: &recordingNotifier{},
		clock:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.store = &memoryStore{now: func() time.Time { return f.clock }}
	f.svc = NewService(f.store, f.users, db.NoTx{}, f.notifier, 24*time.Hour)
	f.svc.now = func() time.Time { return f.clock }

	codes := []string{"111111", "222222", "333333"}
	f.svc.newCode = func() (string, error) {
		code := codes[0]
		codes = append(codes[1:], code)
		return code, nil
	}

	require.NoError(t, f.users.Create(context.Background(), &users.User{
		Username: "ada", Email: "ada@example.com", FullName: "Ada", Status: users.StatusActive,
	}))
	return f
}

func (f *fixture) userStatus(t *testing.T) users.Status {
	t.Helper()
	u, err := f.users.GetByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	return u.Status
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		require.Empty(t, strings.Trim(code, "0123456789"))
	}
}

func TestSend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Send(ctx, "ADA@example.com")
	require.NoError(t, err)
	require.False(t, res.AlreadyVerified)
	require.True(t, res.Secondary.OK())
	require.Len(t, f.notifier.sent, 1)
	require.Equal(t, "ada@example.com", f.notifier.sent[0].To)
	require.Contains(t, f.notifier.sent[0].TextBody, "111111")
	require.Contains(t, f.notifier.sent[0].TextBody, "24 hours")

	_, err = f.svc.Send(ctx, "nobody@example.com")
	require.ErrorIs(t, err, users.ErrUserNotFound)
}

func TestSendDeliveryFailureIsWarning(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp down")

	res, err := f.svc.Send(context.Background(), "ada@example.com")
	require.NoError(t, err)
	require.False(t, res.Secondary.OK())
	require.Equal(t, "send_verification_email", res.Secondary.Warnings()[0].Step)

	st, err := f.svc.Status(context.Background(), "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, string(StatusPending), st.Status)
}

func TestSendAlreadyVerified(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.users.SetStatusByEmail(context.Background(), "ada@example.com", users.StatusVerified))

	res, err := f.svc.Send(context.Background(), "ada@example.com")
	require.NoError(t, err)
	require.True(t, res.AlreadyVerified)
	require.Empty(t, f.notifier.sent)
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.IssueCode(ctx, "ada@example.com"))

	_, err := f.svc.Verify(ctx, "ada@example.com", "999999")
	require.ErrorIs(t, err, ErrInvalidCode)
	require.Equal(t, users.StatusActive, f.userStatus(t))

	already, err := f.svc.Verify(ctx, "ada@example.com", "111111")
	require.NoError(t, err)
	require.False(t, already)
	require.Equal(t, users.StatusVerified, f.userStatus(t))

	st, err := f.svc.Status(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, &StatusResult{Status: "verified", Verified: true}, st)

	already, err = f.svc.Verify(ctx, "ada@example.com", "111111")
	require.NoError(t, err)
	require.True(t, already)
}

func TestVerifyLatestRowWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.IssueCode(ctx, "ada@example.com"))
	f.clock = f.clock.Add(time.Minute)
	require.NoError(t, f.svc.IssueCode(ctx, "ada@example.com"))

	_, err := f.svc.Verify(ctx, "ada@example.com", "111111")
	require.ErrorIs(t, err, ErrInvalidCode)

	_, err = f.svc.Verify(ctx, "ada@example.com", "222222")
	require.NoError(t, err)
}

func TestVerifyExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.IssueCode(ctx, "ada@example.com"))
	f.clock = f.clock.Add(24*time.Hour + time.Second)

	_, err := f.svc.Verify(ctx, "ada@example.com", "111111")
	require.ErrorIs(t, err, ErrExpired)
	require.Equal(t, users.StatusActive, f.userStatus(t))

	st, err := f.svc.Status(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, "expired", st.Status)

	_, err = f.svc.Verify(ctx, "ada@example.com", "111111")
	require.ErrorIs(t, err, ErrExpired)
}

func TestVerifyLocksAfterTooManyAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.IssueCode(ctx, "ada@example.com"))

	for i := 1; i < MaxVerifyAttempts; i++ {
		_, err := f.svc.Verify(ctx, "ada@example.com", "999999")
		require.ErrorIs(t, err, ErrInvalidCode, "attempt %d", i)
	}
	_, err := f.svc.Verify(ctx, "ada@example.com", "999999")
	require.ErrorIs(t, err, ErrTooManyAttempts)

	// The right code no longer works once the row is locked.
	_, err = f.svc.Verify(ctx, "ada@example.com", "111111")
	require.ErrorIs(t, err, ErrTooManyAttempts)
	require.Equal(t, users.StatusActive, f.userStatus(t))

	st, err := f.svc.Status(ctx, "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, "expired", st.Status)

	f.clock = f.clock.Add(time.Minute)
	require.NoError(t, f.svc.IssueCode(ctx, "ada@example.com"))
	_, err = f.svc.Verify(ctx, "ada@example.com", "222222")
	require.NoError(t, err)
	require.Equal(t, users.StatusVerified, f.userStatus(t))
}

func TestVerifyWithoutRows(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Verify(context.Background(), "ada@example.com", "111111")
	require.ErrorIs(t, err, ErrVerificationNotFound)

	_, err = f.svc.Verify(context.Background(), "ada@example.com", "12ab56")
	require.Error(t, err)
}

func TestStatusNotFound(t *testing.T) {
	f := newFixture(t)

	st, err := f.svc.Status(context.Background(), "ada@example.com")
	require.NoError(t, err)
	require.Equal(t, &StatusResult{Status: StatusNotFound}, st)
}

func TestExpireStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.IssueCode(ctx, "ada@example.com"))
	f.clock = f.clock.Add(23 * time.Hour)

	n, err := f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	f.clock = f.clock.Add(2 * time.Hour)
	n, err = f.svc.ExpireStale(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestHandleVerifyAcceptsBothCodeFields(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.IssueCode(context.Background(), "ada@example.com"))

	req := httptest.NewRequest(http.MethodPost, "/api/auth/verify-email",
		strings.NewReader(`{"email":"ada@example.com","verification_code":"111111"}`))
	rec := httptest.NewRecorder()
	HandleVerify(f.svc).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, true, body["success"])
}

func TestHandleStatusNotFound(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/verification-status?email=ada@example.com", nil)
	rec := httptest.NewRecorder()
	HandleStatus(f.svc).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "not_found", body["status"])
	require.Equal(t, false, body["verified"])
}

func TestHandleSendUnknownUser(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/send-verification", strings.NewReader(`{"email":"x@example.com"}`))
	rec := httptest.NewRecorder()
	HandleSend(f.svc).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
