package allowlist

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestAllowed(t *testing.T) {
	m, err := New(discard(), []string{"203.0.113.7"}, []string{"198.51.100.0/24", "2001:db8::/32"}, true)
	require.NoError(t, err)

	for ip, want := range map[string]bool{
		"203.0.113.7":      true,
		"203.0.113.8":      false,
		"198.51.100.200":   true,
		"127.0.0.1":        true,
		"127.8.8.8":        true,
		"::1":              true,
		"::ffff:127.0.0.1": true,
		"2001:db8::5":      true,
		"8.8.8.8":          false,
	} {
		assert.Equal(t, want, m.Allowed(netip.MustParseAddr(ip)), ip)
	}
}

func TestNoLocal(t *testing.T) {
	m, err := New(discard(), nil, nil, false)
	require.NoError(t, err)
	assert.False(t, m.Allowed(netip.MustParseAddr("127.0.0.1")))
}

func TestBadEntries(t *testing.T) {
	_, err := New(discard(), []string{"x"}, nil, false)
	assert.Error(t, err)
	_, err = New(discard(), nil, []string{"10.0.0.0/40"}, false)
	assert.Error(t, err)
}

func TestWrap(t *testing.T) {
	m, err := New(discard(), nil, []string{"10.0.0.0/8"}, false)
	require.NoError(t, err)
	h := m.Wrap(func(r *http.Request) (netip.Addr, bool) {
		ip, err := netip.ParseAddr(r.Header.Get("X-Test-IP"))
		return ip, err == nil
	}, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	for ip, code := range map[string]int{"10.1.2.3": http.StatusNoContent, "8.8.8.8": http.StatusForbidden, "": http.StatusForbidden} {
		r := httptest.NewRequest("POST", "/admin/refresh/AWS", nil)
		r.Header.Set("X-Test-IP", ip)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		assert.Equal(t, code, rec.Code, ip)
	}
}
