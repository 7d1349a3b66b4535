package remoteip

import (
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetector(t *testing.T) {
	d, err := New(nil, "")
	require.NoError(t, err)

	cases := []struct {
		name   string
		remote string
		xff    []string
		want   string
	}{
		{"untrusted peer ignores header", "203.0.113.7:5555", []string{"1.2.3.4"}, "203.0.113.7"},
		{"trusted peer without header", "10.0.0.1:80", nil, "10.0.0.1"},
		{"trusted peer single hop", "10.0.0.1:80", []string{"198.51.100.9"}, "198.51.100.9"},
		{"rightmost untrusted wins", "127.0.0.1:80", []string{"6.6.6.6, 198.51.100.9, 192.168.1.1"}, "198.51.100.9"},
		{"multiple header lines", "172.20.0.3:80", []string{"6.6.6.6", "198.51.100.9,10.1.1.1"}, "198.51.100.9"},
		{"garbage skipped", "169.254.0.1:80", []string{"8.8.8.8, unknown, "}, "8.8.8.8"},
		{"ipv6 skipped", "10.0.0.1:80", []string{"8.8.4.4, 2001:db8::1"}, "8.8.4.4"},
		{"all trusted falls back to peer", "10.0.0.1:80", []string{"192.168.0.5, 172.31.255.1"}, "10.0.0.1"},
		{"172.32 is not trusted", "10.0.0.1:80", []string{"172.32.0.1, 10.2.2.2"}, "172.32.0.1"},
		{"mapped peer", "[::ffff:10.0.0.1]:80", []string{"9.9.9.9"}, "9.9.9.9"},
		{"peer without port", "10.0.0.1", []string{"9.9.9.9"}, "9.9.9.9"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = c.remote
			for _, v := range c.xff {
				r.Header.Add("X-Forwarded-For", v)
			}
			assert.Equal(t, c.want, d.ClientIP(r))
		})
	}
}

func TestDetectorCustom(t *testing.T) {
	d, err := New([]string{"100.64.0.0/10"}, "X-Real-Chain")
	require.NoError(t, err)
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "100.64.1.1:1"
	r.Header.Set("X-Real-Chain", "10.0.0.9")
	r.Header.Set("X-Forwarded-For", "8.8.8.8")
	assert.Equal(t, "10.0.0.9", d.ClientIP(r))
	assert.False(t, d.Trusted(netip.MustParseAddr("10.0.0.9")))

	_, err = New([]string{"not-a-cidr"}, "")
	assert.Error(t, err)
}

func TestUnparsablePeer(t *testing.T) {
	d, err := New(nil, "")
	require.NoError(t, err)
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "@unix"
	_, ok := d.Addr(r)
	assert.False(t, ok)
	assert.Equal(t, "@unix", d.ClientIP(r))
}
