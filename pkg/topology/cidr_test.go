package topology

import "testing"

func TestIsWorldCIDR(t *testing.T) {
	tests := []struct {
		cidr string
		want bool
	}{
		{"0.0.0.0/0", true},
		{"::/0", true},
		{"10.0.0.0/8", false},
		{"0.0.0.0/1", false},
		{"not-a-cidr", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsWorldCIDR(tt.cidr); got != tt.want {
			t.Errorf("IsWorldCIDR(%q) = %v, want %v", tt.cidr, got, tt.want)
		}
	}
}

func TestCIDRContains(t *testing.T) {
	tests := []struct {
		outer, inner string
		want         bool
		wantErr      bool
	}{
		{"10.0.0.0/16", "10.0.1.0/24", true, false},
		{"10.0.0.0/16", "10.1.0.0/24", false, false},
		{"10.0.1.0/24", "10.0.0.0/16", false, false},
		{"10.0.0.0/16", "10.0.0.0/16", true, false},
		{"10.0.0.0/16", "fd00::/64", false, false},
		{"bogus", "10.0.0.0/16", false, true},
	}
	for _, tt := range tests {
		got, err := CIDRContains(tt.outer, tt.inner)
		if (err != nil) != tt.wantErr {
			t.Errorf("CIDRContains(%q, %q) error = %v", tt.outer, tt.inner, err)
			continue
		}
		if got != tt.want {
			t.Errorf("CIDRContains(%q, %q) = %v, want %v", tt.outer, tt.inner, got, tt.want)
		}
	}
}

func TestPortRangeIntersects(t *testing.T) {
	tests := []struct {
		aFrom, aTo, bFrom, bTo int
		want                   bool
	}{
		{22, 22, 22, 22, true},
		{0, 65535, 22, 22, true},
		{80, 443, 444, 500, false},
		{100, 200, 200, 300, true},
		{100, 200, 201, 300, false},
	}
	for _, tt := range tests {
		if got := PortRangeIntersects(tt.aFrom, tt.aTo, tt.bFrom, tt.bTo); got != tt.want {
			t.Errorf("PortRangeIntersects(%d,%d,%d,%d) = %v, want %v",
				tt.aFrom, tt.aTo, tt.bFrom, tt.bTo, got, tt.want)
		}
	}
}
