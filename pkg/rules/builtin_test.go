package rules

import (
	"context"
	"strings"
	"testing"

	"github.com/topoplan/topoplan/pkg/topology"
)

// compliantDescription is a topology that passes every built-in rule.
func compliantDescription() *topology.Description {
	return &topology.Description{
		Name: "app-tier",
		Networks: []topology.Network{
			{ID: "net-app", CIDR: "10.1.0.0/16"},
		},
		Subnets: []topology.Subnet{
			{ID: "sub-app", NetworkID: "net-app", CIDR: "10.1.1.0/24", AvailabilityZone: "zone-a",
				RouteTableID: "rt-app", NetworkACLID: "acl-app", Tags: map[string]string{"tier": "private"}},
		},
		RouteTables: []topology.RouteTable{
			{ID: "rt-app", NetworkID: "net-app", Routes: []topology.Route{
				{DestinationCIDR: "10.1.0.0/16", TargetID: topology.RouteTableLocalTarget},
			}},
		},
		SecurityGroups: []topology.SecurityGroup{
			{ID: "sg-bastion", NetworkID: "net-app"},
			{ID: "sg-app", NetworkID: "net-app", Ingress: []topology.SecurityGroupRule{
				{Protocol: "tcp", FromPort: 22, ToPort: 22, SourceSecurityGroupID: "sg-bastion"},
			}},
		},
		NetworkACLs: []topology.NetworkACL{
			{ID: "acl-app", NetworkID: "net-app", Ingress: []topology.ACLRule{
				{Number: 100, Protocol: "tcp", FromPort: 443, ToPort: 443, CIDR: "10.0.0.0/8", Action: topology.ACLAllow},
			}},
		},
		IAMRoles: []topology.IAMRole{
			{ID: "role-app", TrustPrincipal: "compute.internal"},
		},
		InstanceProfiles: []topology.InstanceProfile{
			{ID: "profile-app", RoleID: "role-app"},
		},
		Instances: []topology.Instance{
			{ID: "inst-app", SubnetID: "sub-app", SecurityGroupIDs: []string{"sg-app"},
				InstanceProfileID: "profile-app", EncryptedStorage: true, MonitoringEnabled: true, Privileged: true},
		},
		FlowLogs: []topology.FlowLog{
			{ID: "fl-app", NetworkID: "net-app", RetentionDays: 90, Destination: "logs/app-tier"},
		},
	}
}

func buildTopo(t *testing.T, desc *topology.Description) *topology.Topology {
	t.Helper()
	topo, err := topology.Build(desc)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	return topo
}

func evaluate(t *testing.T, desc *topology.Description, cfg Config) *Report {
	t.Helper()
	reg := DefaultRegistry(cfg, nil, nil, nil)
	return reg.EvaluateAll(context.Background(), buildTopo(t, desc))
}

func findingsFor(report *Report, ruleID string) []Finding {
	var out []Finding
	for _, f := range report.Findings {
		if f.RuleID == ruleID && !f.Passed {
			out = append(out, f)
		}
	}
	return out
}

func TestCompliantTopologyPasses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedPrincipals = []string{"compute.internal"}

	report := evaluate(t, compliantDescription(), cfg)
	if len(report.Findings) != 0 {
		t.Fatalf("expected no findings, got: %+v", report.Findings)
	}
	if !report.Passed(SeverityInfo) {
		t.Error("report should pass at the lowest threshold")
	}
}

func TestWorldSSHIngressIsCritical(t *testing.T) {
	desc := compliantDescription()
	desc.SecurityGroups[1].Ingress = []topology.SecurityGroupRule{
		{Protocol: "tcp", FromPort: 22, ToPort: 22, SourceCIDR: "0.0.0.0/0"},
	}

	report := evaluate(t, desc, DefaultConfig())

	findings := findingsFor(report, RuleNoWorldRestrictedIngress)
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1: %+v", len(findings), report.Findings)
	}
	f := findings[0]
	if f.Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical", f.Severity)
	}
	if len(f.EntityIDs) == 0 || f.EntityIDs[0] != "sg-app" {
		t.Errorf("finding should name sg-app, got %v", f.EntityIDs)
	}
	if report.Passed(SeverityCritical) {
		t.Error("a critical finding must fail the default threshold")
	}
}

func TestWorldAllProtocolIngressIsCritical(t *testing.T) {
	// Protocol "all" leaves the port range zeroed but still reaches every
	// restricted port.
	desc := compliantDescription()
	desc.SecurityGroups[1].Ingress = []topology.SecurityGroupRule{
		{Protocol: "all", SourceCIDR: "0.0.0.0/0"},
	}

	report := evaluate(t, desc, DefaultConfig())
	findings := findingsFor(report, RuleNoWorldRestrictedIngress)
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1: %+v", len(findings), report.Findings)
	}
	if findings[0].Severity != SeverityCritical {
		t.Errorf("severity = %s, want critical", findings[0].Severity)
	}
	if len(findings[0].EntityIDs) == 0 || findings[0].EntityIDs[0] != "sg-app" {
		t.Errorf("finding should name sg-app, got %v", findings[0].EntityIDs)
	}
}

func TestWorldAllProtocolACLAllowIsCritical(t *testing.T) {
	desc := compliantDescription()
	desc.NetworkACLs[0].Ingress = append(desc.NetworkACLs[0].Ingress, topology.ACLRule{
		Number: 200, Protocol: "all", CIDR: "0.0.0.0/0", Action: topology.ACLAllow,
	})

	report := evaluate(t, desc, DefaultConfig())
	findings := findingsFor(report, RuleNoWorldRestrictedIngress)
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1: %+v", len(findings), report.Findings)
	}
	if findings[0].EntityIDs[0] != "acl-app" {
		t.Errorf("finding should name acl-app, got %v", findings[0].EntityIDs)
	}
}

func TestWorldICMPIngressPasses(t *testing.T) {
	desc := compliantDescription()
	desc.SecurityGroups[1].Ingress = []topology.SecurityGroupRule{
		{Protocol: "icmp", SourceCIDR: "0.0.0.0/0"},
	}

	report := evaluate(t, desc, DefaultConfig())
	if fs := findingsFor(report, RuleNoWorldRestrictedIngress); len(fs) != 0 {
		t.Errorf("icmp carries no ports, got %+v", fs)
	}
}

func TestGroupSourcedSSHIngressPasses(t *testing.T) {
	// Same rule but sourced from a security group instead of the world.
	report := evaluate(t, compliantDescription(), DefaultConfig())
	if fs := findingsFor(report, RuleNoWorldRestrictedIngress); len(fs) != 0 {
		t.Errorf("expected no world-ingress findings, got %+v", fs)
	}
}

func TestWorldIngressOnUnrestrictedPortPasses(t *testing.T) {
	desc := compliantDescription()
	desc.SecurityGroups[1].Ingress = []topology.SecurityGroupRule{
		{Protocol: "tcp", FromPort: 443, ToPort: 443, SourceCIDR: "0.0.0.0/0"},
	}

	report := evaluate(t, desc, DefaultConfig())
	if fs := findingsFor(report, RuleNoWorldRestrictedIngress); len(fs) != 0 {
		t.Errorf("443 is not restricted, got %+v", fs)
	}
}

func TestWorldACLAllowOnRestrictedPort(t *testing.T) {
	desc := compliantDescription()
	desc.NetworkACLs[0].Ingress = append(desc.NetworkACLs[0].Ingress, topology.ACLRule{
		Number: 200, Protocol: "tcp", FromPort: 0, ToPort: 1024, CIDR: "0.0.0.0/0", Action: topology.ACLAllow,
	})

	report := evaluate(t, desc, DefaultConfig())
	findings := findingsFor(report, RuleNoWorldRestrictedIngress)
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(findings))
	}
	if findings[0].EntityIDs[0] != "acl-app" {
		t.Errorf("finding should name acl-app, got %v", findings[0].EntityIDs)
	}
}

func TestUnencryptedStorageIsCritical(t *testing.T) {
	desc := compliantDescription()
	desc.Instances[0].EncryptedStorage = false

	report := evaluate(t, desc, DefaultConfig())
	findings := findingsFor(report, RuleEncryptedStorage)
	if len(findings) != 1 || findings[0].Severity != SeverityCritical {
		t.Fatalf("expected one critical finding, got %+v", findings)
	}
}

func TestDefenseInDepth(t *testing.T) {
	desc := compliantDescription()
	desc.NetworkACLs[0].Ingress = nil
	desc.Instances[0].SecurityGroupIDs = nil

	report := evaluate(t, desc, DefaultConfig())
	findings := findingsFor(report, RuleDefenseInDepth)
	if len(findings) != 2 {
		t.Fatalf("got %d findings, want 2 (bare ACL and bare instance): %+v", len(findings), findings)
	}
}

func TestDefenseInDepthIgnoresEmptySubnets(t *testing.T) {
	desc := compliantDescription()
	desc.NetworkACLs[0].Ingress = nil
	desc.Instances = nil

	report := evaluate(t, desc, DefaultConfig())
	if fs := findingsFor(report, RuleDefenseInDepth); len(fs) != 0 {
		t.Errorf("subnets without instances should not be flagged: %+v", fs)
	}
}

func TestLeastPrivilegeReference(t *testing.T) {
	desc := compliantDescription()
	desc.SecurityGroups[1].Ingress = []topology.SecurityGroupRule{
		{Protocol: "tcp", FromPort: 8080, ToPort: 8080, SourceCIDR: "10.2.0.0/16"},
	}

	report := evaluate(t, desc, DefaultConfig())
	findings := findingsFor(report, RuleLeastPrivilegeReference)
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1: %+v", len(findings), findings)
	}
	if findings[0].Severity != SeverityWarn {
		t.Errorf("severity = %s, want warn", findings[0].Severity)
	}
	if !strings.Contains(findings[0].Message, "10.2.0.0/16") {
		t.Errorf("message should name the CIDR: %q", findings[0].Message)
	}
}

func TestLeastPrivilegeIgnoresPublicResources(t *testing.T) {
	desc := compliantDescription()
	desc.Subnets[0].Tags = map[string]string{"tier": "public"}
	desc.SecurityGroups[1].Ingress = []topology.SecurityGroupRule{
		{Protocol: "tcp", FromPort: 8080, ToPort: 8080, SourceCIDR: "10.2.0.0/16"},
	}

	report := evaluate(t, desc, DefaultConfig())
	if fs := findingsFor(report, RuleLeastPrivilegeReference); len(fs) != 0 {
		t.Errorf("public resources are out of scope: %+v", fs)
	}
}

func TestIAMRolePresent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedPrincipals = []string{"compute.internal"}

	t.Run("missing profile", func(t *testing.T) {
		desc := compliantDescription()
		desc.Instances[0].InstanceProfileID = ""

		report := evaluate(t, desc, cfg)
		findings := findingsFor(report, RuleIAMRolePresent)
		if len(findings) != 1 || findings[0].Severity != SeverityCritical {
			t.Fatalf("expected one critical finding, got %+v", findings)
		}
	})

	t.Run("disallowed principal", func(t *testing.T) {
		desc := compliantDescription()
		desc.IAMRoles[0].TrustPrincipal = "anyone.example.com"

		report := evaluate(t, desc, cfg)
		findings := findingsFor(report, RuleIAMRolePresent)
		if len(findings) != 1 {
			t.Fatalf("got %d findings, want 1", len(findings))
		}
		if !strings.Contains(findings[0].Message, "anyone.example.com") {
			t.Errorf("message should name the principal: %q", findings[0].Message)
		}
	})

	t.Run("unprivileged instance exempt", func(t *testing.T) {
		desc := compliantDescription()
		desc.Instances[0].Privileged = false
		desc.Instances[0].InstanceProfileID = ""

		report := evaluate(t, desc, cfg)
		if fs := findingsFor(report, RuleIAMRolePresent); len(fs) != 0 {
			t.Errorf("unprivileged instances need no role: %+v", fs)
		}
	})
}

func TestMonitoringPresent(t *testing.T) {
	desc := compliantDescription()
	desc.FlowLogs = nil
	desc.Instances[0].MonitoringEnabled = false

	report := evaluate(t, desc, DefaultConfig())
	findings := findingsFor(report, RuleMonitoringPresent)
	if len(findings) != 2 {
		t.Fatalf("got %d findings, want 2 (network and instance): %+v", len(findings), findings)
	}
}

func TestRetentionBounds(t *testing.T) {
	cases := []struct {
		days int
		want int
	}{
		{days: 90, want: 0},
		{days: 1, want: 0},
		{days: 365, want: 0},
		{days: 0, want: 1},
		{days: 400, want: 1},
	}
	for _, tc := range cases {
		desc := compliantDescription()
		desc.FlowLogs[0].RetentionDays = tc.days

		report := evaluate(t, desc, DefaultConfig())
		if got := len(findingsFor(report, RuleRetentionBounds)); got != tc.want {
			t.Errorf("retention %d days: got %d findings, want %d", tc.days, got, tc.want)
		}
	}
}
