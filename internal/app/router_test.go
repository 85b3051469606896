package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aliuyar1234/taskshift/internal/auth"
	"github.com/aliuyar1234/taskshift/internal/db"
	"github.com/aliuyar1234/taskshift/internal/ipfilter"
	"github.com/aliuyar1234/taskshift/internal/metrics"
	"github.com/aliuyar1234/taskshift/internal/notify"
	"github.com/aliuyar1234/taskshift/internal/orgs"
	"github.com/aliuyar1234/taskshift/internal/orgs/orgstest"
	"github.com/aliuyar1234/taskshift/internal/tasks"
	"github.com/aliuyar1234/taskshift/internal/tasks/taskstest"
	"github.com/aliuyar1234/taskshift/internal/users/userstest"
	"github.com/aliuyar1234/taskshift/internal/verification"
	"github.com/aliuyar1234/taskshift/internal/verification/verificationtest"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	auth.BcryptCost = bcrypt.MinCost
	os.Exit(m.Run())
}

type outbox struct {
	sent []notify.Message
}

func (o *outbox) Send(ctx context.Context, msg notify.Message) error {
	o.sent = append(o.sent, msg)
	return nil
}

type testServer struct {
	handler       http.Handler
	verifications *verificationtest.Store
	outbox        *outbox
}

type serverOptions struct {
	block   []string
	trusted []string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, serverOptions{})
}

func newTestServerWith(t *testing.T, opts serverOptions) *testServer {
	t.Helper()

	userStore := userstest.New()
	tokens := auth.NewTokens("router-test-secret", time.Hour)
	box := &outbox{}
	vstore := verificationtest.New(nil)
	blocklist, err := ipfilter.New(opts.block, nil)
	require.NoError(t, err)
	trusted, err := ipfilter.ParseProxies(opts.trusted)
	require.NoError(t, err)

	verificationSvc := verification.NewService(vstore, userStore, db.NoTx{}, box, 24*time.Hour)
	orgsSvc := orgs.NewService(orgs.Deps{
		Store:       orgstest.New(),
		Users:       userStore,
		Tx:          db.NoTx{},
		Notifier:    box,
		Tokens:      tokens,
		FrontendURL: "http://localhost:3000",
	})
	m := metrics.New()

	handler := NewRouter(Services{
		Auth:         auth.NewService(userStore, db.NoTx{}, orgsSvc, verificationSvc, tokens, m),
		Users:        userStore,
		Verification: verificationSvc,
		Orgs:         orgsSvc,
		Tasks:        tasks.NewService(taskstest.New(), orgsSvc, nil),
		Blocklist:    blocklist,
		Metrics:      m,
	}, RouterOptions{FrontendURL: "http://localhost:3000", ExposeDetails: true, TrustedProxies: trusted})

	return &testServer{handler: handler, verifications: vstore, outbox: box}
}

type response struct {
	code int
	body map[string]any
	raw  string
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) response {
	t.Helper()
	return s.doWith(t, method, path, token, body, nil)
}

// doWith lets edit adjust the request, e.g. its peer address or headers,
// before it is served. httptest requests come from 192.0.2.1:1234.
func (s *testServer) doWith(t *testing.T, method, path, token string, body any, edit func(*http.Request)) response {
	t.Helper()
	var reader *strings.Reader
	switch b := body.(type) {
	case nil:
		reader = strings.NewReader("")
	case string:
		reader = strings.NewReader(b)
	default:
		encoded, err := json.Marshal(b)
		require.NoError(t, err)
		reader = strings.NewReader(string(encoded))
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if edit != nil {
		edit(req)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	res := response{code: rec.Code, raw: rec.Body.String()}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res.body), res.raw)
	}
	return res
}

func (s *testServer) register(t *testing.T, username, orgName string) (token, orgID string) {
	t.Helper()
	res := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"username":          username,
		"email":             username + "@example.com",
		"full_name":         strings.ToUpper(username[:1]) + username[1:],
		"password":          "correct-horse",
		"organization_name": orgName,
	})
	require.Equal(t, http.StatusCreated, res.code, res.raw)
	token = res.body["token"].(string)
	if id, ok := res.body["organization_id"].(string); ok {
		orgID = id
	}

	codes := s.verifications.Codes(username + "@example.com")
	require.NotEmpty(t, codes)
	res = s.do(t, http.MethodPost, "/api/auth/verify-email", "", map[string]any{
		"email": username + "@example.com",
		"code":  codes[len(codes)-1],
	})
	require.Equal(t, http.StatusOK, res.code, res.raw)
	return token, orgID
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/healthz", "", nil).code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/readyz", "", nil).code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "taskshift_http_requests_total")
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t)

	res := s.do(t, http.MethodGet, "/api/tasks", "", nil)
	require.Equal(t, http.StatusUnauthorized, res.code)
	require.Equal(t, false, res.body["success"])

	res = s.do(t, http.MethodGet, "/api/organizations/my-organizations", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, res.code)
}

func TestUnverifiedUserIsForbidden(t *testing.T) {
	s := newTestServer(t)

	res := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"username":  "ada",
		"email":     "ada@example.com",
		"full_name": "Ada",
		"password":  "correct-horse",
	})
	require.Equal(t, http.StatusCreated, res.code, res.raw)
	token := res.body["token"].(string)

	res = s.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusForbidden, res.code)

	res = s.do(t, http.MethodGet, "/api/auth/verification-status?email=ada@example.com", "", nil)
	require.Equal(t, http.StatusOK, res.code)
	require.Equal(t, "pending", res.body["status"])
	require.Equal(t, false, res.body["verified"])
}

func TestOrganizationInviteAndTaskScenario(t *testing.T) {
	s := newTestServer(t)

	adaToken, orgID := s.register(t, "ada", "Acme")
	require.NotEmpty(t, orgID)

	res := s.do(t, http.MethodGet, "/api/auth/me", adaToken, nil)
	require.Equal(t, http.StatusOK, res.code, res.raw)

	res = s.do(t, http.MethodGet, "/api/organizations/me", adaToken, nil)
	require.Equal(t, http.StatusOK, res.code, res.raw)
	require.Equal(t, "Acme", res.body["organization"].(map[string]any)["organization_name"])

	res = s.do(t, http.MethodPost, "/api/organizations", adaToken, map[string]any{"organization_name": "acme"})
	require.Equal(t, http.StatusConflict, res.code)

	res = s.do(t, http.MethodPost, "/api/organizations/invite", adaToken, map[string]any{
		"email":      "bob@example.com",
		"full_name":  "Bob",
		"permission": "standard",
	})
	require.Equal(t, http.StatusCreated, res.code, res.raw)
	require.Len(t, s.outbox.sent, 2)
	require.Contains(t, s.outbox.sent[1].TextBody, "/join?code=")

	res = s.do(t, http.MethodPost, "/api/organizations/activate-invitation-with-registration", "", map[string]any{
		"organization_id": orgID,
		"email":           "bob@example.com",
		"username":        "bob",
		"full_name":       "Bob Builder",
		"password":        "correct-horse",
	})
	require.Equal(t, http.StatusCreated, res.code, res.raw)
	bobToken := res.body["token"].(string)
	bob := res.body["user"].(map[string]any)
	require.Equal(t, "verified", bob["status"])
	require.Equal(t, []any{orgID}, bob["organization_ids"])

	res = s.do(t, http.MethodPost, "/api/tasks", bobToken, map[string]any{
		"title":     "Not allowed",
		"assignees": []map[string]string{{"user_id": bob["user_id"].(string), "username": "bob", "full_name": "Bob Builder"}},
	})
	require.Equal(t, http.StatusForbidden, res.code)

	res = s.do(t, http.MethodPost, "/api/tasks", adaToken, map[string]any{
		"title":       "Ship <b>it</b>",
		"description": "Before Friday",
		"assignees":   []map[string]string{{"user_id": bob["user_id"].(string), "username": "bob", "full_name": "Bob Builder"}},
	})
	require.Equal(t, http.StatusCreated, res.code, res.raw)
	task := res.body["task"].(map[string]any)
	require.Equal(t, "Ship it", task["title"])
	require.Equal(t, "pending", task["status"])

	res = s.do(t, http.MethodGet, "/api/tasks/assigned", bobToken, nil)
	require.Equal(t, http.StatusOK, res.code, res.raw)
	assigned := res.body["tasks"].([]any)
	require.Len(t, assigned, 1)
	require.Equal(t, task["task_id"], assigned[0].(map[string]any)["task_id"])

	res = s.do(t, http.MethodGet, "/api/tasks/"+task["task_id"].(string), bobToken, nil)
	require.Equal(t, http.StatusOK, res.code)

	eveToken, _ := s.register(t, "eve", "Globex")
	res = s.do(t, http.MethodGet, "/api/tasks/"+task["task_id"].(string), eveToken, nil)
	require.Equal(t, http.StatusForbidden, res.code)

	res = s.do(t, http.MethodGet, "/api/organizations/members", adaToken, nil)
	require.Equal(t, http.StatusOK, res.code)
	require.Len(t, res.body["members"].([]any), 2)

	res = s.do(t, http.MethodDelete, "/api/organizations/"+orgID+"/leave", adaToken, nil)
	require.Equal(t, http.StatusConflict, res.code)

	res = s.do(t, http.MethodGet, "/api/organizations/"+orgID+","+orgID, adaToken, nil)
	require.Equal(t, http.StatusBadRequest, res.code)
}

func TestEmailRateLimit(t *testing.T) {
	s := newTestServer(t)

	var last response
	for i := 0; i < 6; i++ {
		last = s.do(t, http.MethodPost, "/api/auth/send-verification", "", map[string]any{"email": "nobody@example.com"})
	}
	require.Equal(t, http.StatusTooManyRequests, last.code)
	require.NotEmpty(t, last.body["message"])
}

func TestBodyLimit(t *testing.T) {
	s := newTestServer(t)

	big := `{"username":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	res := s.do(t, http.MethodPost, "/api/auth/register", "", big)
	require.Equal(t, http.StatusRequestEntityTooLarge, res.code)
}

func TestBlockedClient(t *testing.T) {
	s := newTestServerWith(t, serverOptions{block: []string{"192.0.2.1"}})

	res := s.do(t, http.MethodGet, "/api/auth/verification-status?email=ada@example.com", "", nil)
	require.Equal(t, http.StatusForbidden, res.code)
	require.Equal(t, "Access denied", res.body["message"])
}

func TestForwardingHeadersFromUntrustedPeerAreIgnored(t *testing.T) {
	s := newTestServerWith(t, serverOptions{block: []string{"192.0.2.1"}})

	for _, header := range []string{"X-Real-IP", "X-Forwarded-For", "True-Client-IP"} {
		res := s.doWith(t, http.MethodGet, "/api/auth/verification-status?email=ada@example.com", "", nil, func(r *http.Request) {
			r.RemoteAddr = "192.0.2.1:1234"
			r.Header.Set(header, "198.51.100.99")
		})
		require.Equal(t, http.StatusForbidden, res.code, header)
	}
}

func TestForwardingHeadersFromTrustedProxy(t *testing.T) {
	s := newTestServerWith(t, serverOptions{
		block:   []string{"203.0.113.7"},
		trusted: []string{"10.0.0.0/8"},
	})
	path := "/api/auth/verification-status?email=ada@example.com"

	res := s.doWith(t, http.MethodGet, path, "", nil, func(r *http.Request) {
		r.RemoteAddr = "10.0.0.5:40000"
		r.Header.Set("X-Forwarded-For", "203.0.113.7")
	})
	require.Equal(t, http.StatusForbidden, res.code)

	res = s.doWith(t, http.MethodGet, path, "", nil, func(r *http.Request) {
		r.RemoteAddr = "10.0.0.5:40000"
		r.Header.Set("X-Forwarded-For", "198.51.100.1")
	})
	require.Equal(t, http.StatusOK, res.code, res.raw)

	// A blocked client talking to us directly cannot claim another address.
	res = s.doWith(t, http.MethodGet, path, "", nil, func(r *http.Request) {
		r.RemoteAddr = "203.0.113.7:5555"
		r.Header.Set("X-Forwarded-For", "198.51.100.1")
	})
	require.Equal(t, http.StatusForbidden, res.code)
}

func TestRateLimitKeyIgnoresSpoofedHeaders(t *testing.T) {
	s := newTestServer(t)

	var last response
	for i := 0; i < 6; i++ {
		last = s.doWith(t, http.MethodPost, "/api/auth/send-verification", "", map[string]any{"email": "nobody@example.com"}, func(r *http.Request) {
			r.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		})
	}
	require.Equal(t, http.StatusTooManyRequests, last.code)
}

func TestAPIRateLimit(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.register(t, "ada", "Acme")

	for i := 0; i < 50; i++ {
		res := s.do(t, http.MethodGet, "/api/tasks", token, nil)
		require.Equal(t, http.StatusOK, res.code, res.raw)
	}
	for i := 0; i < 50; i++ {
		res := s.do(t, http.MethodGet, "/api/organizations/me", token, nil)
		require.Equal(t, http.StatusOK, res.code, res.raw)
	}

	res := s.do(t, http.MethodGet, "/api/tasks", token, nil)
	require.Equal(t, http.StatusTooManyRequests, res.code)

	res = s.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, res.code, res.raw)
}
