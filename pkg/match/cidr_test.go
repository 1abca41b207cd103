package match

import "testing"

func TestCIDRMatch(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		host    string
		want    bool
	}{
		{"contains address in range", "10.0.0.0/8", "10.1.2.3", true},
		{"rejects address out of range", "10.0.0.0/8", "11.0.0.1", false},
		{"exact host as /32", "192.168.1.1", "192.168.1.1", true},
		{"exact host mismatch", "192.168.1.1", "192.168.1.2", false},
		{"ipv6 prefix", "2001:db8::/32", "2001:db8::1", true},
		{"ipv6 out of range", "2001:db8::/32", "2001:db9::1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := CompileCIDR(tt.pattern)
			if err != nil {
				t.Fatalf("CompileCIDR(%q) error: %v", tt.pattern, err)
			}
			if got := c.Match(tt.host); got != tt.want {
				t.Errorf("Match(%q) on %q = %v, want %v", tt.host, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestCIDRInvalidPattern(t *testing.T) {
	if _, err := CompileCIDR("not-an-address"); err == nil {
		t.Error("expected error for invalid CIDR pattern")
	}
}

func TestCIDRNonLiteralHost(t *testing.T) {
	c, err := CompileCIDR("10.0.0.0/8")
	if err != nil {
		t.Fatalf("CompileCIDR error: %v", err)
	}
	if c.Match("api.example.com") {
		t.Error("expected hostname candidate to not match a CIDR pattern")
	}
}
