// Package privacy reduces client addresses to network prefixes before they
// reach logs.
package privacy

import "net/netip"

// AnonymizeIP returns the /24 (IPv4) or /48 (IPv6) network containing ip in
// CIDR form. IPv4-mapped IPv6 addresses are treated as IPv4. Empty input
// yields "unknown" and unparseable input "invalid".
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap().WithZone("")

	bits := 48
	if addr.Is4() {
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.String()
}
