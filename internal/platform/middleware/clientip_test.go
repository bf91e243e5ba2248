package middleware

import (
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientIP(t *testing.T) {
	proxies, err := ParseTrustedProxies("10.0.0.0/8, 192.168.1.5")
	require.NoError(t, err)

	tests := []struct {
		name    string
		remote  string
		xff     string
		realIP  string
		trusted []netip.Prefix
		want    string
	}{
		{name: "direct peer", remote: "203.0.113.7:5000", want: "203.0.113.7"},
		{name: "ipv6 peer", remote: "[2001:db8::1]:443", want: "2001:db8::1"},
		{name: "untrusted forwarder ignored", remote: "203.0.113.7:5000", xff: "198.51.100.1", trusted: proxies, want: "203.0.113.7"},
		{name: "trusted forwarder honoured", remote: "10.1.2.3:5000", xff: "198.51.100.1, 10.1.2.3", trusted: proxies, want: "198.51.100.1"},
		{name: "single host prefix", remote: "192.168.1.5:80", xff: "198.51.100.9", trusted: proxies, want: "198.51.100.9"},
		{name: "garbage forwarded value", remote: "10.1.2.3:5000", xff: "not-an-ip", trusted: proxies, want: "10.1.2.3"},
		{name: "real ip header", remote: "10.1.2.3:5000", realIP: "198.51.100.4", trusted: proxies, want: "198.51.100.4"},
		{name: "missing remote", remote: "", want: "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			assert.Equal(t, tt.want, ClientIP(r, tt.trusted))
		})
	}
}

func TestParseTrustedProxiesRejectsGarbage(t *testing.T) {
	_, err := ParseTrustedProxies("10.0.0.0/8,nope")
	assert.Error(t, err)

	got, err := ParseTrustedProxies("")
	require.NoError(t, err)
	assert.Empty(t, got)
}
