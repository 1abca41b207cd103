package match

import (
	"net/netip"

	"github.com/mcpkit/mcpkit/pkg/errors"
)

// CIDR is a compiled IPv4/IPv6 network-prefix matcher.
type CIDR struct {
	raw    string
	prefix netip.Prefix
}

// CompileCIDR parses a CIDR string such as "10.0.0.0/8" or "::1/128".
// A bare address without a prefix length is treated as a /32 (or /128).
func CompileCIDR(pattern string) (*CIDR, error) {
	if prefix, err := netip.ParsePrefix(pattern); err == nil {
		return &CIDR{raw: pattern, prefix: prefix}, nil
	}
	addr, err := netip.ParseAddr(pattern)
	if err != nil {
		return nil, errors.New(errors.ErrPolicyParse, "invalid CIDR or IP address").
			WithPath(pattern).WithField("cause", err.Error())
	}
	bits := 32
	if addr.Is6() {
		bits = 128
	}
	return &CIDR{raw: pattern, prefix: netip.PrefixFrom(addr, bits)}, nil
}

// String returns the original pattern text.
func (c *CIDR) String() string {
	return c.raw
}

// Match reports whether host is contained in the network prefix. host must
// be a literal IP address; hostname resolution is the caller's concern.
func (c *CIDR) Match(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	// Address families must match: an IPv4 address never matches an IPv6
	// prefix (including a v4-mapped one), and vice versa.
	if addr.Is4() != c.prefix.Addr().Is4() {
		return false
	}
	return c.prefix.Contains(addr)
}
