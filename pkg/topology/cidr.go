package topology

import "net/netip"

// IsWorldCIDR reports whether cidr is an all-addresses block
// (0.0.0.0/0 or ::/0).
func IsWorldCIDR(cidr string) bool {
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		return false
	}
	return p.Bits() == 0
}

// CIDRContains reports whether inner is fully contained in outer.
// Mixed address families never contain each other.
func CIDRContains(outer, inner string) (bool, error) {
	op, err := netip.ParsePrefix(outer)
	if err != nil {
		return false, err
	}
	ip, err := netip.ParsePrefix(inner)
	if err != nil {
		return false, err
	}
	if op.Addr().Is4() != ip.Addr().Is4() {
		return false, nil
	}
	return op.Bits() <= ip.Bits() && op.Contains(ip.Addr()), nil
}

// CIDRContainsAddr reports whether addr falls inside cidr.
func CIDRContainsAddr(cidr, addr string) (bool, error) {
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		return false, err
	}
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return false, err
	}
	return p.Contains(a), nil
}

// PortRangeIntersects reports whether the inclusive ranges
// [aFrom, aTo] and [bFrom, bTo] overlap.
func PortRangeIntersects(aFrom, aTo, bFrom, bTo int) bool {
	return aFrom <= bTo && bFrom <= aTo
}

// PortInRange reports whether port falls inside [from, to] inclusive.
func PortInRange(port, from, to int) bool {
	return from <= port && port <= to
}
