package rules

import (
	"fmt"

	"github.com/topoplan/topoplan/pkg/topology"
)

// Built-in rule ids.
const (
	RuleNoWorldRestrictedIngress = "no-world-restricted-ingress"
	RuleDefenseInDepth           = "defense-in-depth"
	RuleEncryptedStorage         = "encrypted-storage"
	RuleLeastPrivilegeReference  = "least-privilege-reference"
	RuleIAMRolePresent           = "iam-role-present"
	RuleMonitoringPresent        = "monitoring-present"
	RuleRetentionBounds          = "retention-bounds"
)

// BuiltinRules returns the canonical rule set parameterized by cfg.
// Zero-valued config fields fall back to the defaults.
func BuiltinRules(cfg Config) []Rule {
	def := DefaultConfig()
	if len(cfg.RestrictedPorts) == 0 {
		cfg.RestrictedPorts = def.RestrictedPorts
	}
	if cfg.RetentionMinDays == 0 {
		cfg.RetentionMinDays = def.RetentionMinDays
	}
	if cfg.RetentionMaxDays == 0 {
		cfg.RetentionMaxDays = def.RetentionMaxDays
	}

	return []Rule{
		noWorldRestrictedIngress(cfg),
		defenseInDepth(),
		encryptedStorage(),
		leastPrivilegeReference(),
		iamRolePresent(cfg),
		monitoringPresent(),
		retentionBounds(cfg),
	}
}

// noWorldRestrictedIngress flags security group rules and network ACL
// allow rules that open a restricted port to the whole world.
func noWorldRestrictedIngress(cfg Config) Rule {
	hitsRestricted := func(protocol string, from, to int) bool {
		if protocol == "icmp" {
			return false
		}
		// Protocol "all" spans every port regardless of the rule's range.
		if protocol == "all" {
			return true
		}
		for _, port := range cfg.RestrictedPorts {
			if topology.PortInRange(port, from, to) {
				return true
			}
		}
		return false
	}

	return NewRule(RuleNoWorldRestrictedIngress, SeverityCritical, func(t *topology.Topology) []Finding {
		var findings []Finding
		for _, id := range t.SecurityGroupIDs() {
			sg := t.SecurityGroups[id]
			for _, rule := range sg.Ingress {
				if topology.IsWorldCIDR(rule.SourceCIDR) && hitsRestricted(rule.Protocol, rule.FromPort, rule.ToPort) {
					findings = append(findings, fail(RuleNoWorldRestrictedIngress, SeverityCritical,
						fmt.Sprintf("security group %s allows the world to reach a restricted port (%s %d-%d)",
							id, rule.Protocol, rule.FromPort, rule.ToPort), id))
				}
			}
		}
		for _, id := range t.NetworkACLIDs() {
			acl := t.NetworkACLs[id]
			for _, rule := range acl.Ingress {
				if rule.Action != topology.ACLAllow {
					continue
				}
				if topology.IsWorldCIDR(rule.CIDR) && hitsRestricted(rule.Protocol, rule.FromPort, rule.ToPort) {
					findings = append(findings, fail(RuleNoWorldRestrictedIngress, SeverityCritical,
						fmt.Sprintf("network ACL %s rule %d allows the world to reach a restricted port (%s %d-%d)",
							id, rule.Number, rule.Protocol, rule.FromPort, rule.ToPort), id))
				}
			}
		}
		return findings
	})
}

// defenseInDepth requires that subnets hosting instances are guarded by
// an ACL with explicit ingress rules, and that every instance carries
// at least one security group.
func defenseInDepth() Rule {
	return NewRule(RuleDefenseInDepth, SeverityWarn, func(t *topology.Topology) []Finding {
		var findings []Finding
		for _, subnetID := range t.SubnetIDs() {
			instances := t.InstancesInSubnet(subnetID)
			if len(instances) == 0 {
				continue
			}
			subnet := t.Subnets[subnetID]
			if acl, ok := t.NetworkACLs[subnet.NetworkACLID]; ok && len(acl.Ingress) == 0 {
				findings = append(findings, fail(RuleDefenseInDepth, SeverityWarn,
					fmt.Sprintf("subnet %s hosts instances but its network ACL %s has no explicit ingress rules",
						subnetID, subnet.NetworkACLID), subnetID, subnet.NetworkACLID))
			}
			for _, in := range instances {
				if len(in.SecurityGroupIDs) == 0 {
					findings = append(findings, fail(RuleDefenseInDepth, SeverityWarn,
						fmt.Sprintf("instance %s has no security group", in.ID), in.ID))
				}
			}
		}
		return findings
	})
}

// encryptedStorage requires storage encryption on every instance.
func encryptedStorage() Rule {
	return NewRule(RuleEncryptedStorage, SeverityCritical, func(t *topology.Topology) []Finding {
		var findings []Finding
		for _, id := range t.InstanceIDs() {
			if !t.Instances[id].EncryptedStorage {
				findings = append(findings, fail(RuleEncryptedStorage, SeverityCritical,
					fmt.Sprintf("instance %s has unencrypted storage", id), id))
			}
		}
		return findings
	})
}

// leastPrivilegeReference flags CIDR-sourced ingress rules on security
// groups protecting private-tagged resources, where a security group
// reference would scope access more tightly.
func leastPrivilegeReference() Rule {
	return NewRule(RuleLeastPrivilegeReference, SeverityWarn, func(t *topology.Topology) []Finding {
		var findings []Finding
		for _, sgID := range t.SecurityGroupIDs() {
			sg := t.SecurityGroups[sgID]
			if !guardsPrivateResource(t, sg) {
				continue
			}
			for _, rule := range sg.Ingress {
				if rule.SourceCIDR != "" {
					findings = append(findings, fail(RuleLeastPrivilegeReference, SeverityWarn,
						fmt.Sprintf("security group %s on a private resource sources ingress from CIDR %s instead of a security group",
							sgID, rule.SourceCIDR), sgID))
				}
			}
		}
		return findings
	})
}

// guardsPrivateResource reports whether the group itself, or any
// instance or subnet it protects, is tagged private.
func guardsPrivateResource(t *topology.Topology, sg *topology.SecurityGroup) bool {
	if taggedPrivate(sg.Tags) {
		return true
	}
	for _, id := range t.InstanceIDs() {
		in := t.Instances[id]
		attached := false
		for _, gid := range in.SecurityGroupIDs {
			if gid == sg.ID {
				attached = true
				break
			}
		}
		if !attached {
			continue
		}
		if taggedPrivate(in.Tags) {
			return true
		}
		if subnet, ok := t.Subnets[in.SubnetID]; ok && taggedPrivate(subnet.Tags) {
			return true
		}
	}
	return false
}

// taggedPrivate matches a "private" tag key or value.
func taggedPrivate(tags map[string]string) bool {
	if tags == nil {
		return false
	}
	if _, ok := tags["private"]; ok {
		return true
	}
	for _, v := range tags {
		if v == "private" {
			return true
		}
	}
	return false
}

// iamRolePresent requires privileged instances to carry an instance
// profile whose role trusts an allowed principal.
func iamRolePresent(cfg Config) Rule {
	allowed := func(principal string) bool {
		if principal == "" {
			return false
		}
		if len(cfg.AllowedPrincipals) == 0 {
			return true
		}
		for _, p := range cfg.AllowedPrincipals {
			if p == principal {
				return true
			}
		}
		return false
	}

	return NewRule(RuleIAMRolePresent, SeverityCritical, func(t *topology.Topology) []Finding {
		var findings []Finding
		for _, id := range t.InstanceIDs() {
			in := t.Instances[id]
			if !in.Privileged {
				continue
			}
			if in.InstanceProfileID == "" {
				findings = append(findings, fail(RuleIAMRolePresent, SeverityCritical,
					fmt.Sprintf("privileged instance %s has no instance profile", id), id))
				continue
			}
			profile, ok := t.InstanceProfiles[in.InstanceProfileID]
			if !ok {
				continue
			}
			role, ok := t.IAMRoles[profile.RoleID]
			if !ok {
				continue
			}
			if !allowed(role.TrustPrincipal) {
				findings = append(findings, fail(RuleIAMRolePresent, SeverityCritical,
					fmt.Sprintf("privileged instance %s uses role %s trusting disallowed principal %q",
						id, role.ID, role.TrustPrincipal), id, role.ID))
			}
		}
		return findings
	})
}

// monitoringPresent requires a flow log per network and detailed
// monitoring per instance.
func monitoringPresent() Rule {
	return NewRule(RuleMonitoringPresent, SeverityWarn, func(t *topology.Topology) []Finding {
		var findings []Finding
		for _, id := range t.NetworkIDs() {
			if len(t.FlowLogsOfNetwork(id)) == 0 {
				findings = append(findings, fail(RuleMonitoringPresent, SeverityWarn,
					fmt.Sprintf("network %s has no flow log", id), id))
			}
		}
		for _, id := range t.InstanceIDs() {
			if !t.Instances[id].MonitoringEnabled {
				findings = append(findings, fail(RuleMonitoringPresent, SeverityWarn,
					fmt.Sprintf("instance %s has monitoring disabled", id), id))
			}
		}
		return findings
	})
}

// retentionBounds requires flow log retention to fall inside the
// configured window.
func retentionBounds(cfg Config) Rule {
	return NewRule(RuleRetentionBounds, SeverityWarn, func(t *topology.Topology) []Finding {
		var findings []Finding
		for _, id := range t.FlowLogIDs() {
			fl := t.FlowLogs[id]
			if fl.RetentionDays < cfg.RetentionMinDays || fl.RetentionDays > cfg.RetentionMaxDays {
				findings = append(findings, fail(RuleRetentionBounds, SeverityWarn,
					fmt.Sprintf("flow log %s retention %d days is outside [%d, %d]",
						id, fl.RetentionDays, cfg.RetentionMinDays, cfg.RetentionMaxDays), id))
			}
		}
		return findings
	})
}
