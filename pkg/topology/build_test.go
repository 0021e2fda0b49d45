package topology

import (
	"errors"
	"strings"
	"testing"
)

// validDescription is a small two-tier layout used across the tests.
func validDescription() *Description {
	return &Description{
		Name: "two-tier",
		Networks: []Network{
			{ID: "net-main", CIDR: "10.0.0.0/16", EnableDNSSupport: true},
		},
		Subnets: []Subnet{
			{ID: "sub-a", NetworkID: "net-main", CIDR: "10.0.1.0/24",
				AvailabilityZone: "zone-a", RouteTableID: "rt-public", NetworkACLID: "acl-main"},
			{ID: "sub-b", NetworkID: "net-main", CIDR: "10.0.2.0/24",
				AvailabilityZone: "zone-b", RouteTableID: "rt-public", NetworkACLID: "acl-main"},
		},
		RouteTables: []RouteTable{
			{ID: "rt-public", NetworkID: "net-main", Routes: []Route{
				{DestinationCIDR: "10.0.0.0/16", TargetID: RouteTableLocalTarget},
				{DestinationCIDR: "0.0.0.0/0", TargetID: "igw-main"},
			}},
		},
		Gateways: []Gateway{
			{ID: "igw-main", NetworkID: "net-main", Kind: GatewayInternet},
		},
		SecurityGroups: []SecurityGroup{
			{ID: "sg-web", NetworkID: "net-main", Ingress: []SecurityGroupRule{
				{Protocol: "tcp", FromPort: 443, ToPort: 443, SourceCIDR: "0.0.0.0/0"},
			}},
		},
		NetworkACLs: []NetworkACL{
			{ID: "acl-main", NetworkID: "net-main", Ingress: []ACLRule{
				{Number: 100, Protocol: "tcp", FromPort: 443, ToPort: 443,
					CIDR: "0.0.0.0/0", Action: ACLAllow},
			}},
		},
		IAMRoles: []IAMRole{
			{ID: "role-app", TrustPrincipal: "ec2.amazonaws.com"},
		},
		InstanceProfiles: []InstanceProfile{
			{ID: "profile-app", RoleID: "role-app"},
		},
		Instances: []Instance{
			{ID: "inst-web", SubnetID: "sub-a", SecurityGroupIDs: []string{"sg-web"},
				InstanceProfileID: "profile-app", EncryptedStorage: true, MonitoringEnabled: true},
		},
		FlowLogs: []FlowLog{
			{ID: "fl-main", NetworkID: "net-main", RetentionDays: 90, Destination: "logs/net-main"},
		},
		Topics: []Topic{
			{ID: "topic-ops", Name: "ops-alerts"},
		},
		Alarms: []Alarm{
			{ID: "alarm-cpu", TargetID: "inst-web", Metric: "cpu", Threshold: 80, TopicID: "topic-ops"},
		},
	}
}

func TestBuildValid(t *testing.T) {
	topo, err := Build(validDescription())
	if err != nil {
		t.Fatalf("Build returned error for valid description: %v", err)
	}
	if topo.Len() != 12 {
		t.Errorf("expected 12 entities, got %d", topo.Len())
	}
	e, ok := topo.Entity("sub-a")
	if !ok {
		t.Fatal("Entity(sub-a) not found")
	}
	if e.EntityKind() != KindSubnet {
		t.Errorf("expected subnet kind, got %s", e.EntityKind())
	}

	ids := topo.EntityIDs()
	for i := 1; i < len(ids); i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("EntityIDs not in ascending order: %v", ids)
		}
	}
}

func TestBuildCollectsAllDefects(t *testing.T) {
	desc := validDescription()
	// Three independent defects in one description.
	desc.Networks[0].CIDR = "10.0.0.0/33"
	desc.Instances[0].SecurityGroupIDs = []string{"sg-missing"}
	desc.Gateways[0].SubnetID = "sub-a"

	_, err := Build(desc)
	if err == nil {
		t.Fatal("expected structural error")
	}
	var serr *StructuralError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *StructuralError, got %T", err)
	}
	if len(serr.Defects) < 3 {
		t.Fatalf("expected at least 3 defects, got %d: %v", len(serr.Defects), serr)
	}

	wantFragments := []string{"sg-missing", "/33", "placement subnet"}
	for _, frag := range wantFragments {
		if !strings.Contains(serr.Error(), frag) {
			t.Errorf("error should mention %q:\n%s", frag, serr.Error())
		}
	}
}

func TestBuildDanglingSecurityGroupRef(t *testing.T) {
	desc := validDescription()
	desc.SecurityGroups[0].Ingress = append(desc.SecurityGroups[0].Ingress, SecurityGroupRule{
		Protocol: "tcp", FromPort: 8080, ToPort: 8080, SourceSecurityGroupID: "sg-nowhere",
	})
	_, err := Build(desc)
	if err == nil {
		t.Fatal("expected error for dangling security group reference")
	}
	if !strings.Contains(err.Error(), "sg-nowhere") {
		t.Errorf("error should name the dangling reference: %v", err)
	}
}

func TestBuildDuplicateIDs(t *testing.T) {
	desc := validDescription()
	desc.Topics = append(desc.Topics, Topic{ID: "sub-a", Name: "clash"})
	_, err := Build(desc)
	if err == nil {
		t.Fatal("expected error for duplicate logical id")
	}
	if !strings.Contains(err.Error(), "duplicate logical id") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestBuildNATGatewayNeedsSubnet(t *testing.T) {
	desc := validDescription()
	desc.Gateways = append(desc.Gateways, Gateway{
		ID: "nat-a", NetworkID: "net-main", Kind: GatewayNAT,
	})
	_, err := Build(desc)
	if err == nil {
		t.Fatal("expected error for NAT gateway without subnet")
	}

	desc = validDescription()
	desc.Gateways = append(desc.Gateways, Gateway{
		ID: "nat-a", NetworkID: "net-main", Kind: GatewayNAT, SubnetID: "sub-a",
	})
	if _, err := Build(desc); err != nil {
		t.Fatalf("NAT gateway with subnet should build: %v", err)
	}
}

func TestBuildSubnetCIDROutsideNetwork(t *testing.T) {
	desc := validDescription()
	desc.Subnets[0].CIDR = "192.168.0.0/24"
	_, err := Build(desc)
	if err == nil {
		t.Fatal("expected error for subnet CIDR outside network")
	}
	if !strings.Contains(err.Error(), "not contained") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestBuildACLRuleNumberUniquePerDirection(t *testing.T) {
	desc := validDescription()
	desc.NetworkACLs[0].Ingress = append(desc.NetworkACLs[0].Ingress, ACLRule{
		Number: 100, Protocol: "tcp", FromPort: 80, ToPort: 80,
		CIDR: "0.0.0.0/0", Action: ACLAllow,
	})
	_, err := Build(desc)
	if err == nil {
		t.Fatal("expected error for duplicate ACL rule number")
	}

	// Same number across directions is fine.
	desc = validDescription()
	desc.NetworkACLs[0].Egress = append(desc.NetworkACLs[0].Egress, ACLRule{
		Number: 100, Protocol: "tcp", FromPort: 443, ToPort: 443,
		CIDR: "0.0.0.0/0", Action: ACLAllow,
	})
	if _, err := Build(desc); err != nil {
		t.Fatalf("same rule number in different directions should build: %v", err)
	}
}

func TestBuildRouteTargetMustResolve(t *testing.T) {
	desc := validDescription()
	desc.RouteTables[0].Routes = append(desc.RouteTables[0].Routes, Route{
		DestinationCIDR: "172.16.0.0/12", TargetID: "gw-ghost",
	})
	_, err := Build(desc)
	if err == nil {
		t.Fatal("expected error for unresolved route target")
	}
	if !strings.Contains(err.Error(), "gw-ghost") {
		t.Errorf("error should name the target: %v", err)
	}
}

func TestBuildSGRuleSourceExclusive(t *testing.T) {
	tests := []struct {
		name    string
		rule    SecurityGroupRule
		wantErr bool
	}{
		{"cidr only", SecurityGroupRule{Protocol: "tcp", FromPort: 80, ToPort: 80,
			SourceCIDR: "10.0.0.0/8"}, false},
		{"group only", SecurityGroupRule{Protocol: "tcp", FromPort: 80, ToPort: 80,
			SourceSecurityGroupID: "sg-web"}, false},
		{"both", SecurityGroupRule{Protocol: "tcp", FromPort: 80, ToPort: 80,
			SourceCIDR: "10.0.0.0/8", SourceSecurityGroupID: "sg-web"}, true},
		{"neither", SecurityGroupRule{Protocol: "tcp", FromPort: 80, ToPort: 80}, true},
		{"inverted ports", SecurityGroupRule{Protocol: "tcp", FromPort: 443, ToPort: 80,
			SourceCIDR: "10.0.0.0/8"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := validDescription()
			desc.SecurityGroups[0].Egress = []SecurityGroupRule{tt.rule}
			_, err := Build(desc)
			if tt.wantErr && err == nil {
				t.Fatal("expected structural error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestBuildMissingRequiredAttributes(t *testing.T) {
	desc := validDescription()
	desc.Subnets[0].AvailabilityZone = ""
	desc.FlowLogs[0].Destination = ""
	_, err := Build(desc)
	if err == nil {
		t.Fatal("expected error for missing required attributes")
	}
	var serr *StructuralError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *StructuralError, got %T", err)
	}
	if len(serr.Defects) != 2 {
		t.Errorf("expected 2 defects, got %d: %v", len(serr.Defects), serr)
	}
}
