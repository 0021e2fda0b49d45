package topology

import "testing"

func TestACLFirstMatchWins(t *testing.T) {
	acl := &NetworkACL{
		ID:        "acl-test",
		NetworkID: "net-main",
		Ingress: []ACLRule{
			// Deliberately out of order: evaluation sorts by number.
			{Number: 200, Protocol: "tcp", FromPort: 0, ToPort: 65535,
				CIDR: "0.0.0.0/0", Action: ACLAllow},
			{Number: 100, Protocol: "tcp", FromPort: 22, ToPort: 22,
				CIDR: "0.0.0.0/0", Action: ACLDeny},
		},
	}

	tests := []struct {
		name     string
		packet   Packet
		allowed  bool
		ruleNum  int
	}{
		{"ssh denied by lower number", Packet{Protocol: "tcp", Port: 22, Addr: "203.0.113.9"}, false, 100},
		{"https allowed by catch-all", Packet{Protocol: "tcp", Port: 443, Addr: "203.0.113.9"}, true, 200},
		{"udp falls through to default deny", Packet{Protocol: "udp", Port: 53, Addr: "203.0.113.9"}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := acl.Evaluate(Ingress, tt.packet)
			if v.Allowed != tt.allowed {
				t.Errorf("allowed = %v, want %v", v.Allowed, tt.allowed)
			}
			if v.RuleNumber != tt.ruleNum {
				t.Errorf("rule number = %d, want %d", v.RuleNumber, tt.ruleNum)
			}
		})
	}
}

func TestACLDefaultDenyOnEmptyRules(t *testing.T) {
	acl := &NetworkACL{ID: "acl-empty", NetworkID: "net-main"}
	v := acl.Evaluate(Egress, Packet{Protocol: "tcp", Port: 80, Addr: "10.0.0.5"})
	if v.Allowed {
		t.Error("empty ACL must deny")
	}
	if v.RuleNumber != 0 {
		t.Errorf("default deny should report rule number 0, got %d", v.RuleNumber)
	}
}

func TestACLCIDRScoping(t *testing.T) {
	acl := &NetworkACL{
		ID:        "acl-scoped",
		NetworkID: "net-main",
		Ingress: []ACLRule{
			{Number: 10, Protocol: "tcp", FromPort: 5432, ToPort: 5432,
				CIDR: "10.0.1.0/24", Action: ACLAllow},
		},
	}
	if v := acl.Evaluate(Ingress, Packet{Protocol: "tcp", Port: 5432, Addr: "10.0.1.17"}); !v.Allowed {
		t.Error("in-CIDR address should be allowed")
	}
	if v := acl.Evaluate(Ingress, Packet{Protocol: "tcp", Port: 5432, Addr: "10.0.2.17"}); v.Allowed {
		t.Error("out-of-CIDR address should fall through to deny")
	}
}

func TestACLAllProtocolMatchesPorts(t *testing.T) {
	acl := &NetworkACL{
		ID:        "acl-all",
		NetworkID: "net-main",
		Ingress: []ACLRule{
			{Number: 10, Protocol: "all", FromPort: 0, ToPort: 1023,
				CIDR: "0.0.0.0/0", Action: ACLAllow},
		},
	}
	if v := acl.Evaluate(Ingress, Packet{Protocol: "tcp", Port: 80, Addr: "1.2.3.4"}); !v.Allowed {
		t.Error("tcp/80 should match the all-protocol rule")
	}
	if v := acl.Evaluate(Ingress, Packet{Protocol: "udp", Port: 8080, Addr: "1.2.3.4"}); v.Allowed {
		t.Error("udp/8080 is outside the rule's port range")
	}
	if v := acl.Evaluate(Ingress, Packet{Protocol: "icmp", Addr: "1.2.3.4"}); !v.Allowed {
		t.Error("icmp should match without port checks")
	}
}
