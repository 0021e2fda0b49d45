package topology

import (
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Build validates a description and assembles the typed topology.
// Validation is eager: every structural defect in the description is
// collected and returned in a single *StructuralError, never just the
// first one found.
func Build(desc *Description) (*Topology, error) {
	t := &Topology{
		Name:             desc.Name,
		Networks:         map[string]*Network{},
		Subnets:          map[string]*Subnet{},
		RouteTables:      map[string]*RouteTable{},
		Gateways:         map[string]*Gateway{},
		SecurityGroups:   map[string]*SecurityGroup{},
		NetworkACLs:      map[string]*NetworkACL{},
		Endpoints:        map[string]*Endpoint{},
		IAMRoles:         map[string]*IAMRole{},
		InstanceProfiles: map[string]*InstanceProfile{},
		Instances:        map[string]*Instance{},
		FlowLogs:         map[string]*FlowLog{},
		Alarms:           map[string]*Alarm{},
		Topics:           map[string]*Topic{},
		entities:         map[string]Entity{},
	}
	defects := &defectList{}

	register := func(e Entity) bool {
		id := e.EntityID()
		if id == "" {
			return false
		}
		if prev, dup := t.entities[id]; dup {
			defects.add(id, "id", "duplicate logical id (already used by %s %q)",
				prev.EntityKind(), prev.EntityID())
			return false
		}
		t.entities[id] = e
		return true
	}

	for i := range desc.Networks {
		n := &desc.Networks[i]
		checkAttrs(defects, n.ID, n)
		if register(n) {
			t.Networks[n.ID] = n
		}
	}
	for i := range desc.Subnets {
		s := &desc.Subnets[i]
		checkAttrs(defects, s.ID, s)
		if register(s) {
			t.Subnets[s.ID] = s
		}
	}
	for i := range desc.RouteTables {
		r := &desc.RouteTables[i]
		checkAttrs(defects, r.ID, r)
		if register(r) {
			t.RouteTables[r.ID] = r
		}
	}
	for i := range desc.Gateways {
		g := &desc.Gateways[i]
		checkAttrs(defects, g.ID, g)
		if err := g.Kind.Validate(); err != nil && g.Kind != "" {
			defects.add(g.ID, "kind", "%v", err)
		}
		if register(g) {
			t.Gateways[g.ID] = g
		}
	}
	for i := range desc.SecurityGroups {
		sg := &desc.SecurityGroups[i]
		checkAttrs(defects, sg.ID, sg)
		if register(sg) {
			t.SecurityGroups[sg.ID] = sg
		}
	}
	for i := range desc.NetworkACLs {
		a := &desc.NetworkACLs[i]
		checkAttrs(defects, a.ID, a)
		if register(a) {
			t.NetworkACLs[a.ID] = a
		}
	}
	for i := range desc.Endpoints {
		e := &desc.Endpoints[i]
		checkAttrs(defects, e.ID, e)
		if err := e.Kind.Validate(); err != nil && e.Kind != "" {
			defects.add(e.ID, "kind", "%v", err)
		}
		if register(e) {
			t.Endpoints[e.ID] = e
		}
	}
	for i := range desc.IAMRoles {
		r := &desc.IAMRoles[i]
		checkAttrs(defects, r.ID, r)
		if register(r) {
			t.IAMRoles[r.ID] = r
		}
	}
	for i := range desc.InstanceProfiles {
		p := &desc.InstanceProfiles[i]
		checkAttrs(defects, p.ID, p)
		if register(p) {
			t.InstanceProfiles[p.ID] = p
		}
	}
	for i := range desc.Instances {
		in := &desc.Instances[i]
		checkAttrs(defects, in.ID, in)
		if register(in) {
			t.Instances[in.ID] = in
		}
	}
	for i := range desc.FlowLogs {
		f := &desc.FlowLogs[i]
		checkAttrs(defects, f.ID, f)
		if register(f) {
			t.FlowLogs[f.ID] = f
		}
	}
	for i := range desc.Alarms {
		a := &desc.Alarms[i]
		checkAttrs(defects, a.ID, a)
		if register(a) {
			t.Alarms[a.ID] = a
		}
	}
	for i := range desc.Topics {
		tp := &desc.Topics[i]
		checkAttrs(defects, tp.ID, tp)
		if register(tp) {
			t.Topics[tp.ID] = tp
		}
	}

	t.checkSubnets(defects)
	t.checkRouteTables(defects)
	t.checkGateways(defects)
	t.checkSecurityGroups(defects)
	t.checkNetworkACLs(defects)
	t.checkEndpoints(defects)
	t.checkInstanceProfiles(defects)
	t.checkInstances(defects)
	t.checkFlowLogs(defects)
	t.checkAlarms(defects)

	if err := defects.err(); err != nil {
		return nil, err
	}
	return t, nil
}

// checkAttrs translates struct-tag validation failures into defects so
// that attribute problems and reference problems surface together.
func checkAttrs(defects *defectList, entityID string, v any) {
	err := validate.Struct(v)
	if err == nil {
		return
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		defects.add(entityID, "", "%v", err)
		return
	}
	for _, fe := range verrs {
		field := fieldPath(fe.Namespace())
		switch fe.Tag() {
		case "required":
			defects.add(entityID, field, "required attribute is missing")
		case "cidr":
			defects.add(entityID, field, "invalid CIDR %q", fe.Value())
		case "oneof":
			defects.add(entityID, field, "value %q is not one of [%s]", fe.Value(), fe.Param())
		case "min", "max":
			defects.add(entityID, field, "value %v violates %s=%s", fe.Value(), fe.Tag(), fe.Param())
		default:
			defects.add(entityID, field, "value %v fails %q constraint", fe.Value(), fe.Tag())
		}
	}
}

// fieldPath strips the root struct name from a validator namespace,
// e.g. "Subnet.Routes[0].TargetID" -> "Routes[0].TargetID".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func (t *Topology) checkSubnets(defects *defectList) {
	for _, id := range t.SubnetIDs() {
		s := t.Subnets[id]
		n, ok := t.Networks[s.NetworkID]
		if !ok {
			if s.NetworkID != "" {
				defects.add(id, "network_id", "references unknown network %q", s.NetworkID)
			}
		} else if s.CIDR != "" && n.CIDR != "" {
			inside, err := CIDRContains(n.CIDR, s.CIDR)
			if err == nil && !inside {
				defects.add(id, "cidr", "%s is not contained in network %q CIDR %s",
					s.CIDR, n.ID, n.CIDR)
			}
		}
		if s.RouteTableID != "" {
			rt, ok := t.RouteTables[s.RouteTableID]
			switch {
			case !ok:
				defects.add(id, "route_table_id", "references unknown route table %q", s.RouteTableID)
			case rt.NetworkID != s.NetworkID:
				defects.add(id, "route_table_id", "route table %q belongs to network %q, not %q",
					rt.ID, rt.NetworkID, s.NetworkID)
			}
		}
		if s.NetworkACLID != "" {
			acl, ok := t.NetworkACLs[s.NetworkACLID]
			switch {
			case !ok:
				defects.add(id, "network_acl_id", "references unknown network ACL %q", s.NetworkACLID)
			case acl.NetworkID != s.NetworkID:
				defects.add(id, "network_acl_id", "network ACL %q belongs to network %q, not %q",
					acl.ID, acl.NetworkID, s.NetworkID)
			}
		}
	}
}

func (t *Topology) checkRouteTables(defects *defectList) {
	for _, id := range t.RouteTableIDs() {
		rt := t.RouteTables[id]
		if rt.NetworkID != "" {
			if _, ok := t.Networks[rt.NetworkID]; !ok {
				defects.add(id, "network_id", "references unknown network %q", rt.NetworkID)
			}
		}
		seen := map[string]int{}
		for i, r := range rt.Routes {
			field := routeField(i, "target_id")
			if r.TargetID == RouteTableLocalTarget {
				continue
			}
			if r.TargetID == "" {
				continue
			}
			g, ok := t.Gateways[r.TargetID]
			switch {
			case !ok:
				defects.add(id, field, "route target %q is not a gateway or %q",
					r.TargetID, RouteTableLocalTarget)
			case g.NetworkID != rt.NetworkID:
				defects.add(id, field, "gateway %q belongs to network %q, not %q",
					g.ID, g.NetworkID, rt.NetworkID)
			}
			if r.DestinationCIDR != "" {
				if prev, dup := seen[r.DestinationCIDR]; dup {
					defects.add(id, routeField(i, "destination_cidr"),
						"duplicate destination %s (also route %d)", r.DestinationCIDR, prev)
				} else {
					seen[r.DestinationCIDR] = i
				}
			}
		}
	}
}

func routeField(i int, attr string) string {
	return "routes[" + itoa(i) + "]." + attr
}

func (t *Topology) checkGateways(defects *defectList) {
	for _, id := range t.GatewayIDs() {
		g := t.Gateways[id]
		if g.NetworkID != "" {
			if _, ok := t.Networks[g.NetworkID]; !ok {
				defects.add(id, "network_id", "references unknown network %q", g.NetworkID)
			}
		}
		switch g.Kind {
		case GatewayNAT:
			if g.SubnetID == "" {
				defects.add(id, "subnet_id", "NAT gateway requires a placement subnet")
				break
			}
			s, ok := t.Subnets[g.SubnetID]
			switch {
			case !ok:
				defects.add(id, "subnet_id", "references unknown subnet %q", g.SubnetID)
			case s.NetworkID != g.NetworkID:
				defects.add(id, "subnet_id", "subnet %q belongs to network %q, not %q",
					s.ID, s.NetworkID, g.NetworkID)
			}
		case GatewayInternet:
			if g.SubnetID != "" {
				defects.add(id, "subnet_id", "internet gateway must not have a placement subnet")
			}
		}
	}
}

func (t *Topology) checkSecurityGroups(defects *defectList) {
	for _, id := range t.SecurityGroupIDs() {
		sg := t.SecurityGroups[id]
		if sg.NetworkID != "" {
			if _, ok := t.Networks[sg.NetworkID]; !ok {
				defects.add(id, "network_id", "references unknown network %q", sg.NetworkID)
			}
		}
		t.checkSGRules(defects, sg, "ingress", sg.Ingress)
		t.checkSGRules(defects, sg, "egress", sg.Egress)
	}
}

func (t *Topology) checkSGRules(defects *defectList, sg *SecurityGroup, dir string, rules []SecurityGroupRule) {
	for i, r := range rules {
		field := dir + "[" + itoa(i) + "]"
		switch {
		case r.SourceCIDR == "" && r.SourceSecurityGroupID == "":
			defects.add(sg.ID, field, "rule needs a source CIDR or a source security group")
		case r.SourceCIDR != "" && r.SourceSecurityGroupID != "":
			defects.add(sg.ID, field, "rule must not set both a source CIDR and a source security group")
		}
		if r.SourceSecurityGroupID != "" {
			peer, ok := t.SecurityGroups[r.SourceSecurityGroupID]
			switch {
			case !ok:
				defects.add(sg.ID, field+".source_security_group",
					"references unknown security group %q", r.SourceSecurityGroupID)
			case peer.NetworkID != sg.NetworkID:
				defects.add(sg.ID, field+".source_security_group",
					"security group %q belongs to network %q, not %q",
					peer.ID, peer.NetworkID, sg.NetworkID)
			}
		}
		if r.FromPort > r.ToPort {
			defects.add(sg.ID, field, "from_port %d exceeds to_port %d", r.FromPort, r.ToPort)
		}
	}
}

func (t *Topology) checkNetworkACLs(defects *defectList) {
	for _, id := range t.NetworkACLIDs() {
		a := t.NetworkACLs[id]
		if a.NetworkID != "" {
			if _, ok := t.Networks[a.NetworkID]; !ok {
				defects.add(id, "network_id", "references unknown network %q", a.NetworkID)
			}
		}
		checkACLRules(defects, id, "ingress", a.Ingress)
		checkACLRules(defects, id, "egress", a.Egress)
	}
}

func checkACLRules(defects *defectList, aclID, dir string, rules []ACLRule) {
	seen := map[int]bool{}
	for i, r := range rules {
		field := dir + "[" + itoa(i) + "]"
		if seen[r.Number] {
			defects.add(aclID, field+".number", "rule number %d is not unique within %s", r.Number, dir)
		}
		seen[r.Number] = true
		if r.FromPort > r.ToPort {
			defects.add(aclID, field, "from_port %d exceeds to_port %d", r.FromPort, r.ToPort)
		}
	}
}

func (t *Topology) checkEndpoints(defects *defectList) {
	for _, id := range t.EndpointIDs() {
		e := t.Endpoints[id]
		if e.NetworkID != "" {
			if _, ok := t.Networks[e.NetworkID]; !ok {
				defects.add(id, "network_id", "references unknown network %q", e.NetworkID)
			}
		}
		for i, sid := range e.SubnetIDs {
			field := "subnet_ids[" + itoa(i) + "]"
			s, ok := t.Subnets[sid]
			switch {
			case !ok:
				defects.add(id, field, "references unknown subnet %q", sid)
			case s.NetworkID != e.NetworkID:
				defects.add(id, field, "subnet %q belongs to network %q, not %q",
					s.ID, s.NetworkID, e.NetworkID)
			}
		}
		for i, gid := range e.SecurityGroupIDs {
			field := "security_group_ids[" + itoa(i) + "]"
			sg, ok := t.SecurityGroups[gid]
			switch {
			case !ok:
				defects.add(id, field, "references unknown security group %q", gid)
			case sg.NetworkID != e.NetworkID:
				defects.add(id, field, "security group %q belongs to network %q, not %q",
					sg.ID, sg.NetworkID, e.NetworkID)
			}
		}
		if e.Kind == EndpointInterface && len(e.SubnetIDs) == 0 {
			defects.add(id, "subnet_ids", "interface endpoint requires at least one subnet")
		}
	}
}

func (t *Topology) checkInstanceProfiles(defects *defectList) {
	for _, id := range t.InstanceProfileIDs() {
		p := t.InstanceProfiles[id]
		if p.RoleID == "" {
			continue
		}
		if _, ok := t.IAMRoles[p.RoleID]; !ok {
			defects.add(id, "role_id", "references unknown IAM role %q", p.RoleID)
		}
	}
}

func (t *Topology) checkInstances(defects *defectList) {
	for _, id := range t.InstanceIDs() {
		in := t.Instances[id]
		var subnet *Subnet
		if in.SubnetID != "" {
			s, ok := t.Subnets[in.SubnetID]
			if !ok {
				defects.add(id, "subnet_id", "references unknown subnet %q", in.SubnetID)
			} else {
				subnet = s
			}
		}
		for i, gid := range in.SecurityGroupIDs {
			field := "security_group_ids[" + itoa(i) + "]"
			sg, ok := t.SecurityGroups[gid]
			switch {
			case !ok:
				defects.add(id, field, "references unknown security group %q", gid)
			case subnet != nil && sg.NetworkID != subnet.NetworkID:
				defects.add(id, field, "security group %q belongs to network %q, not %q",
					sg.ID, sg.NetworkID, subnet.NetworkID)
			}
		}
		if in.InstanceProfileID != "" {
			if _, ok := t.InstanceProfiles[in.InstanceProfileID]; !ok {
				defects.add(id, "instance_profile_id",
					"references unknown instance profile %q", in.InstanceProfileID)
			}
		}
	}
}

func (t *Topology) checkFlowLogs(defects *defectList) {
	for _, id := range t.FlowLogIDs() {
		f := t.FlowLogs[id]
		if f.NetworkID == "" {
			continue
		}
		if _, ok := t.Networks[f.NetworkID]; !ok {
			defects.add(id, "network_id", "references unknown network %q", f.NetworkID)
		}
	}
}

func (t *Topology) checkAlarms(defects *defectList) {
	for _, id := range t.AlarmIDs() {
		a := t.Alarms[id]
		if a.TargetID != "" {
			_, isNet := t.Networks[a.TargetID]
			_, isInst := t.Instances[a.TargetID]
			if !isNet && !isInst {
				defects.add(id, "target_id",
					"target %q is neither a network nor an instance", a.TargetID)
			}
		}
		if a.TopicID != "" {
			if _, ok := t.Topics[a.TopicID]; !ok {
				defects.add(id, "topic_id", "references unknown topic %q", a.TopicID)
			}
		}
	}
}

func itoa(i int) string { return strconv.Itoa(i) }
