package topology

import "sort"

// Direction selects an ACL rule list.
type Direction string

const (
	Ingress Direction = "ingress"
	Egress  Direction = "egress"
)

// Packet is the tuple a network ACL decides on.
type Packet struct {
	Protocol string
	Port     int
	Addr     string
}

// Verdict is the outcome of ACL evaluation.
type Verdict struct {
	// Allowed is the decision for the packet.
	Allowed bool

	// RuleNumber is the number of the rule that matched, or 0 when the
	// packet fell through to the default deny.
	RuleNumber int
}

// Evaluate decides a packet against the ACL's rules for the given
// direction. Rules are tried in ascending number order and the first
// match wins; a packet matching no rule is denied.
func (a *NetworkACL) Evaluate(dir Direction, p Packet) Verdict {
	rules := a.Ingress
	if dir == Egress {
		rules = a.Egress
	}

	ordered := make([]ACLRule, len(rules))
	copy(ordered, rules)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	for _, r := range ordered {
		if !aclRuleMatches(r, p) {
			continue
		}
		return Verdict{Allowed: r.Action == ACLAllow, RuleNumber: r.Number}
	}
	return Verdict{Allowed: false, RuleNumber: 0}
}

func aclRuleMatches(r ACLRule, p Packet) bool {
	if r.Protocol != "all" && r.Protocol != p.Protocol {
		return false
	}
	if r.Protocol == "tcp" || r.Protocol == "udp" ||
		(r.Protocol == "all" && (p.Protocol == "tcp" || p.Protocol == "udp")) {
		if !PortInRange(p.Port, r.FromPort, r.ToPort) {
			return false
		}
	}
	ok, err := CIDRContainsAddr(r.CIDR, p.Addr)
	if err != nil {
		return false
	}
	return ok
}
