package ipfilter

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/aliuyar1234/taskshift/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestStaticAllowWins(t *testing.T) {
	s, err := New([]string{"198.51.100.0/24", "203.0.113.7"}, []string{"198.51.100.10"})
	require.NoError(t, err)

	require.True(t, s.IsBlocked("198.51.100.1"))
	require.True(t, s.IsBlocked("203.0.113.7"))
	require.True(t, s.IsBlocked("::ffff:203.0.113.7"))
	require.False(t, s.IsBlocked("198.51.100.10"))
	require.False(t, s.IsBlocked("203.0.113.8"))
	require.False(t, s.IsBlocked("not-an-ip"))
}

func TestStaticRejectsBadEntries(t *testing.T) {
	_, err := New([]string{"300.1.1.1"}, nil)
	require.Error(t, err)
	_, err = New(nil, []string{"10.0.0.0/99"})
	require.Error(t, err)
}

func TestProxiesTrusts(t *testing.T) {
	p, err := ParseProxies([]string{"10.0.0.0/8", "::1"})
	require.NoError(t, err)

	require.True(t, p.Trusts("10.1.2.3:443"))
	require.True(t, p.Trusts("10.1.2.3"))
	require.True(t, p.Trusts("[::1]:8080"))
	require.True(t, p.Trusts("[::ffff:10.0.0.1]:80"))
	require.False(t, p.Trusts("192.0.2.1:1234"))
	require.False(t, p.Trusts("garbage"))

	var none Proxies
	require.False(t, none.Trusts("10.1.2.3:443"))

	_, err = ParseProxies([]string{"10.0.0.0/33"})
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipfilter.yaml")
	require.NoError(t, os.WriteFile(path, []byte("block:\n  - 10.0.0.0/8\nallow:\n  - 10.1.2.3\n"), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	require.True(t, s.IsBlocked("10.9.9.9"))
	require.False(t, s.IsBlocked("10.1.2.3"))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	s, err := New([]string{"192.0.2.1"}, nil)
	require.NoError(t, err)
	m := metrics.New()

	h := Middleware(s, m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/verification-status", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "Access denied")
	require.Equal(t, 1.0, testutil.ToFloat64(m.IPBlockedTotal))

	req.RemoteAddr = "192.0.2.2"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	Middleware(nil, nil)(h).ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}
