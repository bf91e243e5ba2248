package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// MaxXFFHeaderLength caps the X-Forwarded-For header we are willing to parse.
const MaxXFFHeaderLength = 500

// ClientIP returns the caller's address. Forwarding headers are honoured only
// when the direct peer is inside one of the trusted proxy prefixes.
func ClientIP(r *http.Request, trusted []netip.Prefix) string {
	remote := remoteIP(r.RemoteAddr)
	if remote == "" {
		return "unknown"
	}
	if !isTrusted(remote, trusted) {
		return remote
	}

	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && len(xri) <= MaxXFFHeaderLength {
			if _, err := netip.ParseAddr(xri); err == nil {
				return xri
			}
		}
		return remote
	}
	if len(xff) > MaxXFFHeaderLength {
		return remote
	}

	first, _, _ := strings.Cut(xff, ",")
	first = strings.TrimSpace(first)
	if _, err := netip.ParseAddr(first); err != nil {
		return remote
	}
	return first
}

// ParseTrustedProxies parses a comma-separated CIDR list. Bare addresses are
// treated as single-host prefixes.
func ParseTrustedProxies(list string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if !strings.Contains(item, "/") {
			addr, err := netip.ParseAddr(item)
			if err != nil {
				return nil, err
			}
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(item)
		if err != nil {
			return nil, err
		}
		out = append(out, prefix.Masked())
	}
	return out, nil
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	if len(trusted) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	for _, prefix := range trusted {
		if prefix.Contains(addr.Unmap()) {
			return true
		}
	}
	return false
}

func remoteIP(remoteAddr string) string {
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return strings.Trim(remoteAddr, "[]")
	}
	return host
}
